// Package mock provides test doubles for the ai collaborator contracts.
// Each double supports custom behavior injection via function fields and
// falls back to deterministic defaults.
package mock
