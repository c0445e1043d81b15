// Package diskcache implements the capacity-bounded, key-addressable disk
// store backing the fetch pipeline. A key (the source URL) maps to exactly
// one file under the cache directory via a deterministic digest-derived
// name. The store tracks on-disk usage and evicts least-recently-used
// entries when an install pushes usage past the configured budget. The
// fetcher owns download temp files and the promote rename; the store only
// accounts for completed entries and reclaims stray temp files on open.
package diskcache
