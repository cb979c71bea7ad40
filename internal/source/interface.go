package source

import (
	"context"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

// Response is the remote service's answer to one batch request.
type Response struct {
	// StatusCode is the HTTP status of the request.
	StatusCode int
	// Items holds the raw payload of every requested id present in the body.
	// Requested ids that are absent came back empty.
	Items map[int64][]byte
	// Malformed is set when a 2xx body could not be decoded at all.
	Malformed error
	// RetryAfter is the server-suggested wait, zero when not given.
	RetryAfter time.Duration
}

// Remote fetches item payloads from the catalog service.
type Remote interface {
	// FetchBatch requests payloads for ids in one call.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - ids: item ids, at most the service's per-request limit.
	// Returns:
	//   - *Response: status and per-id payloads; non-nil whenever err is nil.
	//   - error: transport failure (connection, timeout) with no usable response.
	FetchBatch(ctx context.Context, ids []int64) (*Response, error)
}

// Discoverer lists the item ids the catalog currently knows about.
type Discoverer interface {
	// Name identifies the discovery mechanism in logs.
	Name() string

	// Discover returns every id found, de-duplicated, with its item type.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	// Returns:
	//   - []domain.Sighting: observed ids; SeenAt is left zero for the caller to stamp.
	//   - error: non-nil if the listing could not be read completely.
	Discover(ctx context.Context) ([]domain.Sighting, error)
}
