package blocklist

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity    int    // configured capacity (0 for disabled cache)
	Size        int    // current number of entries, expired ones included
	Hits        uint64 // total cache hits since construction
	Misses      uint64 // total cache misses since construction
	Evictions   uint64 // capacity evictions and explicit removals since construction
	Expirations uint64 // entries dropped because their TTL passed
}
