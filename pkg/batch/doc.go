// Package batch splits multi-ID upstream lookups into chunks and fetches
// them in parallel.
//
// The Steam Web API accepts at most 100 IDs per GetPlayerSummaries call.
// A Fetcher chunks an ID list at that limit, runs the chunks on a bounded
// worker pool and merges the per-ID results.
//
// Example usage:
//
//	f := batch.NewFetcher(fetchSummaries, batch.DefaultConfig())
//	players, err := f.FetchAll(ctx, steamIDs)
//
// The fetcher:
//   - Sends a list that fits one chunk as a single request
//   - Runs at most MaxConcurrency chunks at once
//   - Keeps the results of successful chunks when others fail
//   - Joins chunk errors into the returned error (partial data)
package batch
