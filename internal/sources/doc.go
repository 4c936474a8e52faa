// Package sources retrieves the node connectivity ranking from the remote API.
//
// A Fetcher performs exactly one request per call and never retries; retry
// happens at the granularity of a whole sync cycle.
package sources
