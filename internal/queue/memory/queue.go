// Package memory provides the in-process crawl request queue.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/matchday-crawler/internal/crawler"
)

var (
	// ErrQueueFull is returned by TryEnqueue when no slot is free.
	ErrQueueFull = errors.New("crawl queue full")
	// ErrQueueClosed is returned once Close has been called.
	ErrQueueClosed = errors.New("crawl queue closed")
)

// Queue is a bounded FIFO of crawl requests.
type Queue struct {
	ch        chan crawler.CrawlRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue holding at most depth pending requests.
func NewQueue(depth int) *Queue {
	if depth <= 0 {
		depth = 1
	}
	return &Queue{
		ch:   make(chan crawler.CrawlRequest, depth),
		done: make(chan struct{}),
	}
}

// Enqueue blocks until the request is queued, the queue closes or ctx ends.
func (q *Queue) Enqueue(ctx context.Context, req crawler.CrawlRequest) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- req:
		return nil
	}
}

// TryEnqueue queues the request without waiting.
func (q *Queue) TryEnqueue(req crawler.CrawlRequest) error {
	if q.isClosed() {
		return ErrQueueClosed
	}
	select {
	case q.ch <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue pops the next request, respecting ctx. Requests queued before Close
// are still handed out.
func (q *Queue) Dequeue(ctx context.Context) (crawler.CrawlRequest, error) {
	select {
	case req := <-q.ch:
		return req, nil
	default:
	}
	select {
	case <-ctx.Done():
		return crawler.CrawlRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case req := <-q.ch:
		return req, nil
	case <-q.done:
		select {
		case req := <-q.ch:
			return req, nil
		default:
			return crawler.CrawlRequest{}, ErrQueueClosed
		}
	}
}

// Len reports the number of pending requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops accepting requests.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) isClosed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
