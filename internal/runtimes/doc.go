// Package runtimes discovers which language runtimes are installed on the
// host and resolves a language tag to the invocation metadata needed to run
// a snippet with it.
//
// Discovery probes a static catalog. Results are cached in a snapshot that is
// created on first use and replaced wholesale by Refresh, so concurrent
// resolutions never observe a partially updated set.
package runtimes
