// Package cache defines the disk-backed named response caches (img-cache,
// html-cache, index-cache, precache). Each entry is keyed by the request URL
// and stored as StoragePath/<cache>/<host>/<path>.body plus a .meta JSON
// sidecar that records the original URL, status, headers and insertion time.
// Writes use temp file + rename so readers never observe partial bodies, and
// Keys enumerates a cache for the offline ID reconciliation scan. Expiry is
// not enforced here; StrategyWriter applies the cache-first max-age policy.
package cache
