// Package sweeper reclaims orphaned work left behind by crashed or hung
// ingestion runs. A fast loop reaps any processing session whose driver
// went silent; a slower loop adds wall-clock timeout reaping, fails
// stuck chunks, and evicts stale mirror entries. Each cycle ends with a
// diagnostics pass that only logs.
package sweeper
