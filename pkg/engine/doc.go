// Package engine orchestrates a run: it dials every connection a scenario
// declares, signs authentication tokens, executes scenarios concurrently,
// and feeds all step results into a single report aggregator.
package engine
