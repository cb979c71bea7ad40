package idlist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
)

const SourceName = "idlist"

// Adapter discovers ids from a plain-text listing of "<id> <type>" lines,
// read from an http(s) URL or a local file.
type Adapter struct {
	location string
	types    []string
	client   *resty.Client
}

var _ source.Discoverer = (*Adapter)(nil)

// NewAdapter creates a new id list adapter
// Parameters:
//   - location: http(s) URL or filesystem path of the listing.
//   - types: item types to keep; empty keeps every type.
//   - userAgent: sent on remote downloads.
func NewAdapter(location string, types []string, userAgent string) *Adapter {
	client := resty.New()
	client.SetTimeout(2 * time.Minute)
	if userAgent != "" {
		client.SetHeader("User-Agent", userAgent)
	}
	return &Adapter{location: location, types: types, client: client}
}

// Name returns the discovery mechanism name
func (a *Adapter) Name() string {
	return SourceName
}

// Discover implements source.Discoverer.
func (a *Adapter) Discover(ctx context.Context) ([]domain.Sighting, error) {
	body, err := a.load(ctx)
	if err != nil {
		return nil, err
	}
	sightings := Parse(body, a.types)
	logger.CtxInfo(ctx, "Parsed id list: location=%s, ids=%d", a.location, len(sightings))
	return sightings, nil
}

func (a *Adapter) load(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(a.location, "http://") && !strings.HasPrefix(a.location, "https://") {
		data, err := os.ReadFile(a.location)
		if err != nil {
			return nil, fmt.Errorf("failed to read id list: %w", err)
		}
		return data, nil
	}

	resp, err := a.client.R().SetContext(ctx).Get(a.location)
	if err != nil {
		return nil, fmt.Errorf("failed to download id list: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("id list download failed: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

// Parse reads "<id> <type>" lines. Lines without a numeric id and a type are
// skipped; a repeated id takes the type of its last line before filtering.
// Parameters:
//   - data: listing contents.
//   - types: item types to keep; empty keeps every type.
// Returns:
//   - []domain.Sighting: one sighting per id, in first-seen order.
func Parse(data []byte, types []string) []domain.Sighting {
	index := make(map[int64]int)
	var all []domain.Sighting

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		id, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil || id <= 0 {
			continue
		}
		if i, ok := index[id]; ok {
			all[i].ItemType = fields[1]
			continue
		}
		index[id] = len(all)
		all = append(all, domain.Sighting{ItemID: id, ItemType: fields[1]})
	}

	if len(types) == 0 {
		return all
	}
	out := all[:0]
	for _, s := range all {
		if slices.Contains(types, s.ItemType) {
			out = append(out, s)
		}
	}
	return out
}
