package models

import "time"

// CacheEntry stores a prior analysis response for one (content hash, request intent) pair.
type CacheEntry struct {
	Value       string    `json:"value"`
	CreatedAt   time.Time `json:"created_at"`
	ContentHash string    `json:"content_hash"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries    int64     `json:"entries"`
	Expired    int64     `json:"expired"`
	Hits       int64     `json:"hits"`
	Misses     int64     `json:"misses"`
	Evictions  int64     `json:"evictions"`
	OldestSeen time.Time `json:"oldest_seen,omitempty"`
}
