// Package server hosts the Fiber application in front of the fetch
// pipeline: a request-ID middleware, the /fetch endpoint that translates
// query parameters into fetch requests and streams the cached file back,
// and the shared tuned HTTP client used for all upstream downloads.
// Diagnostics endpoints live under /-/ and never touch the upstream.
package server
