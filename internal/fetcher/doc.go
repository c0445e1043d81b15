// Package fetcher implements the fetch-and-cache pipeline: open the disk
// store (clearing and retrying once on failure), short-circuit on a cache
// hit, stream the remote resource into a temp file co-located with the
// cache, and atomically promote the temp file into the entry path. Every
// exit path is one of four typed failures; cancellation is cooperative and
// polled at least once per copied chunk. The HTTP surface and the worker
// pool both sit on top of this package.
package fetcher
