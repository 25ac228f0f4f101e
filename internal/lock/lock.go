// Package lock provides per-account mutual exclusion for the transfer
// engine. Keys are always acquired in sorted order so two transfers over the
// same pair of accounts cannot deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
)

// ErrNotAcquired is returned when a lock could not be taken before the
// backend gave up.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker acquires every key or none. The returned unlock releases all keys
// and is safe to call once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

// normalize returns keys sorted and without duplicates.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	out = append(out, keys...)
	sort.Strings(out)

	n := 0
	for i, k := range out {
		if i > 0 && k == out[n-1] {
			continue
		}
		out[n] = k
		n++
	}
	return out[:n]
}
