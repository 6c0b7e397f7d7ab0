package database

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"checkin-go/internal/scanner"
)

// CachedCheckinStore answers repeat scans of the same ticket from memory for
// a short window, so a pass held in front of the camera is not written again
// on every sampling tick of the next session.
type CachedCheckinStore struct {
	store scanner.CheckinStore
	seen  *cache.Cache
}

var _ scanner.CheckinStore = (*CachedCheckinStore)(nil)

// NewCachedCheckinStore wraps store with a duplicate window.
func NewCachedCheckinStore(store scanner.CheckinStore, window time.Duration) *CachedCheckinStore {
	return &CachedCheckinStore{
		store: store,
		seen:  cache.New(window, 2*window),
	}
}

func (c *CachedCheckinStore) RecordCheckin(ctx context.Context, in scanner.Checkin) (scanner.Checkin, bool, error) {
	key := in.EventID + "\x00" + dedupeKey(in)
	if v, ok := c.seen.Get(key); ok {
		return v.(scanner.Checkin), true, nil
	}

	stored, dup, err := c.store.RecordCheckin(ctx, in)
	if err != nil {
		return scanner.Checkin{}, false, err
	}
	c.seen.SetDefault(key, stored)
	return stored, dup, nil
}

// Forget drops every cached ticket.
func (c *CachedCheckinStore) Forget() { c.seen.Flush() }
