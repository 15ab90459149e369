// Package pipeline drives document ingestion: normalize and cache the
// source, window it into chunks, then run each chunk through the
// analyze, contextualize, embed, and store stages under adaptive
// concurrency. Stage failures are isolated per chunk; the relational and
// vector writes succeed or fail independently.
package pipeline
