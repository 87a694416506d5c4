package crawler

import (
	"context"
	"io"
	"time"
)

// Driver launches browser processes.
type Driver interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// LaunchOptions configures one browser process.
type LaunchOptions struct {
	Headless  bool
	ExecPath  string
	UserAgent string
}

// Browser owns a set of pages.
type Browser interface {
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	Close(ctx context.Context) error
}

// PageOptions configures a single tab.
type PageOptions struct {
	UserAgent            string
	BlockedResourceTypes []string
}

// Page is one tab capable of a single in-flight round trip.
type Page interface {
	Navigate(ctx context.Context, url string) error
	EvaluateRemoteFetch(ctx context.Context, req RemoteRequest) (RemoteResponse, error)
	Close(ctx context.Context) error
}

// ReportStore persists session reports and serves dashboard reads.
type ReportStore interface {
	UpsertReports(ctx context.Context, reports []EntityReport) error
	ListReports(ctx context.Context) ([]EntityReport, error)
	ListMatches(ctx context.Context, entityID string, status RecordStatus) ([]NormalizedRecord, error)
	RecentResults(ctx context.Context, limit int) ([]NormalizedRecord, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Cache is the key/value layer in front of dashboard reads.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, pattern string) (int, error)
	Clear(ctx context.Context) error
}

// Queue provides enqueue/dequeue semantics for crawl requests.
type Queue interface {
	Enqueue(ctx context.Context, req CrawlRequest) error
	Dequeue(ctx context.Context) (CrawlRequest, error)
}

// Hasher computes digests for artifact integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
