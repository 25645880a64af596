package indexer

import "sync/atomic"

// IndexLock is a non-blocking lock held for the duration of a full scan.
// A second scan fails fast with ErrScanInProgress instead of queueing.
type IndexLock struct {
	state atomic.Int32 // 0 = free, 1 = scanning
}

// TryAcquire takes the lock if it is free and reports whether it did
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether a scan currently holds the lock
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
