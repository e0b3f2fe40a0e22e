// Package frontier provides the bounded work queue of a single crawl.
package frontier

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const minCapacity = 16

// Frontier is a bounded FIFO of work items. Offers never block; polls wait for a
// bounded time so the caller can re-check its own termination conditions.
type Frontier struct {
	ch      chan crawler.WorkItem
	closeMu sync.RWMutex
	closed  bool
}

// New constructs a Frontier holding at most capacity items.
func New(capacity int) *Frontier {
	if capacity < minCapacity {
		capacity = minCapacity
	}
	return &Frontier{
		ch: make(chan crawler.WorkItem, capacity),
	}
}

// ForMaxPages sizes a Frontier at twice the page budget.
func ForMaxPages(maxPages int) *Frontier {
	return New(2 * maxPages)
}

// Offer appends item unless the frontier is full or closed.
func (f *Frontier) Offer(item crawler.WorkItem) bool {
	f.closeMu.RLock()
	defer f.closeMu.RUnlock()
	if f.closed {
		return false
	}
	select {
	case f.ch <- item:
		return true
	default:
		return false
	}
}

// Poll removes the oldest item, waiting up to timeout for one to arrive. The
// second return value is false on timeout, cancellation or once a closed
// frontier has been emptied.
func (f *Frontier) Poll(ctx context.Context, timeout time.Duration) (crawler.WorkItem, bool) {
	select {
	case item, ok := <-f.ch:
		return item, ok
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return crawler.WorkItem{}, false
	case <-timer.C:
		return crawler.WorkItem{}, false
	case item, ok := <-f.ch:
		return item, ok
	}
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	return len(f.ch)
}

// Cap returns the capacity.
func (f *Frontier) Cap() int {
	return cap(f.ch)
}

// Close rejects further offers. Items already queued can still be polled.
func (f *Frontier) Close() {
	f.closeMu.Lock()
	defer f.closeMu.Unlock()
	if f.closed {
		return
	}
	close(f.ch)
	f.closed = true
}
