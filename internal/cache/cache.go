// Package cache is a short-TTL LRU of file records keyed by id. Every
// mutation path invalidates synchronously, so a stale entry can only be
// as old as the TTL.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/driftlock/filestore/internal/models"
)

// RecordCache wraps an expirable LRU. Injectable; a nil *RecordCache is a
// valid no-op cache.
type RecordCache struct {
	lru *expirable.LRU[string, *models.FileRecord]
}

// New creates a cache holding up to maxSize records for at most ttl.
func New(maxSize int, ttl time.Duration) *RecordCache {
	return &RecordCache{
		lru: expirable.NewLRU[string, *models.FileRecord](maxSize, nil, ttl),
	}
}

// Get returns a copy of the cached record, if present and fresh.
func (c *RecordCache) Get(id string) (*models.FileRecord, bool) {
	if c == nil {
		return nil, false
	}
	rec, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return rec.Clone(), true
}

// Set stores a copy of the record.
func (c *RecordCache) Set(rec *models.FileRecord) {
	if c == nil || rec == nil {
		return
	}
	c.lru.Add(rec.ID, rec.Clone())
}

// Invalidate drops the entry for id.
func (c *RecordCache) Invalidate(id string) {
	if c == nil {
		return
	}
	c.lru.Remove(id)
}
