package harvest

import (
	"context"
	"io"
	"iter"
	"time"
)

// Fetcher fetches a URL through the shared, policy-enforcing fetch layer.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Scraper is implemented once per upstream source. Both sequences are lazy and
// restartable: nothing is fetched until iteration starts, and iterating again
// fetches again. A *ParseError yielded mid-sequence marks one skipped item; any
// other error ends the sequence and fails the source.
type Scraper interface {
	Name() string
	ListRegions(ctx context.Context, scope Scope) iter.Seq2[Region, error]
	ListCrags(ctx context.Context, scope Scope) iter.Seq2[Crag, error]
}

// BlobStore mirrors finished output artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes run completion events to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Attributed payloads supply message attributes alongside their JSON body.
type Attributed interface {
	MessageAttributes() map[string]string
}

// Hasher computes digests of output files.
type Hasher interface {
	HashFile(path string) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
