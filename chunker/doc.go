// Package chunker splits document text into overlapping windows with
// deterministic ordinals and stable chunk identifiers.
package chunker
