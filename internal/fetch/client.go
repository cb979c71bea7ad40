package fetch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
)

// Class is the outcome class of one id in a fetch chunk.
type Class string

const (
	ClassSuccess    Class = "success"
	ClassEmpty      Class = "empty"
	ClassParseError Class = "parse_error"
	ClassTransient  Class = "transient"
	ClassFatal      Class = "fatal"
)

// Outcome is the result for one requested id.
type Outcome struct {
	ItemID  int64
	Class   Class
	Payload []byte
	Kind    domain.ErrorKind // set for every class except success
	Err     error
}

// Config controls chunking and retries.
type Config struct {
	ChunkSize      int
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Jitter         time.Duration
}

// Client turns a chunk of ids into per-id outcomes while honouring a shared Limiter.
type Client struct {
	remote  source.Remote
	limiter *Limiter
	cfg     Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewClient creates a fetch client.
// Parameters:
//   - remote: catalog service transport.
//   - limiter: request budget shared with every other client of the run.
//   - cfg: chunk size and retry settings; zero fields take defaults.
// Returns:
//   - *Client: client safe for concurrent use.
func NewClient(remote source.Remote, limiter *Limiter, cfg Config) *Client {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 20
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 5 * time.Second
	}
	if cfg.BackoffMax < cfg.BackoffInitial {
		cfg.BackoffMax = cfg.BackoffInitial
	}
	return &Client{
		remote:  remote,
		limiter: limiter,
		cfg:     cfg,
		sleep:   sleepCtx,
	}
}

// FetchChunk fetches ids in one request, retrying transient failures with
// exponential backoff. One bad id never fails the chunk: every id gets its own
// outcome, in input order.
// Parameters:
//   - ctx: run context; cancellation stops waiting and retrying.
//   - ids: at most ChunkSize ids.
// Returns:
//   - []Outcome: one outcome per id; fatal outcomes accompany domain.ErrFatalAuth.
//   - error: domain.ErrChunkTooLarge, domain.ErrFatalAuth (abort the run) or a context error.
func (c *Client) FetchChunk(ctx context.Context, ids []int64) ([]Outcome, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > c.cfg.ChunkSize {
		return nil, fmt.Errorf("%w: %d ids, limit %d", domain.ErrChunkTooLarge, len(ids), c.cfg.ChunkSize)
	}

	var (
		lastErr  error
		lastKind domain.ErrorKind
	)
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.remote.FetchBatch(ctx, ids)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr, lastKind = err, domain.ErrorKindTransientNetwork
			logger.CtxWarn(ctx, "Fetch attempt %d failed: ids=%d, error=%v", attempt+1, len(ids), err)
			if err := c.backoff(ctx, attempt, 0); err != nil {
				return nil, err
			}
			continue
		}

		status := resp.StatusCode
		switch {
		case status == http.StatusOK || status == http.StatusNonAuthoritativeInfo:
			c.limiter.OnSuccess()
			return split(ids, resp), nil

		case status == http.StatusNotFound || status == http.StatusNoContent:
			c.limiter.OnSuccess()
			return uniform(ids, ClassEmpty, domain.ErrorKindNotFound, fmt.Errorf("http %d", status)), nil

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			err := fmt.Errorf("%w: http %d", domain.ErrFatalAuth, status)
			return uniform(ids, ClassFatal, domain.ErrorKindFatalAuth, err), err

		case status == http.StatusTooManyRequests:
			c.limiter.OnThrottle(resp.RetryAfter)
			lastErr, lastKind = fmt.Errorf("http %d", status), domain.ErrorKindRateLimited
			logger.CtxWarn(ctx, "Rate limited by remote: attempt=%d, rate=%.2f/s", attempt+1, c.limiter.Rate())
			if err := c.backoff(ctx, attempt, resp.RetryAfter); err != nil {
				return nil, err
			}

		case status == http.StatusAccepted || status == http.StatusRequestTimeout || status >= 500:
			lastErr, lastKind = fmt.Errorf("http %d", status), domain.ErrorKindExhaustedRetries
			logger.CtxWarn(ctx, "Transient remote status: status=%d, attempt=%d", status, attempt+1)
			if err := c.backoff(ctx, attempt, resp.RetryAfter); err != nil {
				return nil, err
			}

		default:
			// Other 4xx responses are definitive answers about these ids.
			c.limiter.OnSuccess()
			return uniform(ids, ClassEmpty, domain.ErrorKindNotFound, fmt.Errorf("http %d", status)), nil
		}
	}

	// the kind names the last failure so throttling shows up in run logs
	return uniform(ids, ClassTransient, lastKind,
		fmt.Errorf("gave up after %d attempts: %w", c.cfg.MaxRetries+1, lastErr)), nil
}

// backoff sleeps before the next attempt; it does nothing after the last one.
func (c *Client) backoff(ctx context.Context, attempt int, hint time.Duration) error {
	if attempt >= c.cfg.MaxRetries {
		return nil
	}
	d := c.cfg.BackoffInitial << attempt
	if d <= 0 || d > c.cfg.BackoffMax {
		d = c.cfg.BackoffMax
	}
	d = max(d, hint)
	if c.cfg.Jitter > 0 {
		d += rand.N(c.cfg.Jitter)
	}
	return c.sleep(ctx, d)
}

func split(ids []int64, resp *source.Response) []Outcome {
	if resp.Malformed != nil {
		return uniform(ids, ClassParseError, domain.ErrorKindMalformedResponse, resp.Malformed)
	}
	out := make([]Outcome, len(ids))
	for i, id := range ids {
		payload := resp.Items[id]
		if len(payload) == 0 {
			out[i] = Outcome{ItemID: id, Class: ClassEmpty, Kind: domain.ErrorKindNotFound}
			continue
		}
		out[i] = Outcome{ItemID: id, Class: ClassSuccess, Payload: payload}
	}
	return out
}

func uniform(ids []int64, class Class, kind domain.ErrorKind, err error) []Outcome {
	out := make([]Outcome, len(ids))
	for i, id := range ids {
		out[i] = Outcome{ItemID: id, Class: class, Kind: kind, Err: err}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Chunk splits ids into consecutive chunks of at most size, preserving order.
func Chunk(ids []int64, size int) [][]int64 {
	if size <= 0 {
		size = 1
	}
	var chunks [][]int64
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
