package process

import "sync"

// budget caps the bytes a run may surface, shared by stdout and stderr.
type budget struct {
	mu        sync.Mutex
	max       int64
	used      int64
	discarded int64
}

// take returns the part of s that fits, and whether this call crossed the
// limit for the first time.
func (b *budget) take(s string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := int64(len(s))
	if b.used >= b.max {
		b.discarded += n
		return "", false
	}
	remaining := b.max - b.used
	if n > remaining {
		b.used = b.max
		b.discarded += n - remaining
		return s[:remaining], true
	}
	b.used += n
	return s, false
}

func (b *budget) dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.discarded
}
