package sitemap

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
)

const SourceName = "sitemap"

// typeOrder decides which sitemap wins when an id is listed under several
// types: more specific types are read later and overwrite earlier ones.
var typeOrder = map[string]int{"boardgame": 0, "boardgameexpansion": 1, "boardgameaccessory": 2}

var pageNumber = regexp.MustCompile(`_(\d+)(?:\.xml)?$`)

// Config configures sitemap discovery.
type Config struct {
	IndexURL       string
	SitemapPattern string   // first group is the item type suffix
	ItemPattern    string   // named groups "id" and "type"
	ItemTypes      []string // empty keeps every type
	UserAgent      string
	Pause          time.Duration // between sitemap pages
}

// Adapter discovers ids by walking a sitemap index and its item sitemaps.
type Adapter struct {
	client  *resty.Client
	cfg     Config
	sitemap *regexp.Regexp
	item    *regexp.Regexp
	idIdx   int
	typeIdx int
}

var _ source.Discoverer = (*Adapter)(nil)

// NewAdapter creates a new sitemap adapter
// Parameters:
//   - cfg: index URL and the patterns used to recognise sitemaps and items.
// Returns:
//   - *Adapter: ready-to-use adapter.
//   - error: non-nil when a pattern does not compile or lacks the "id" group.
func NewAdapter(cfg Config) (*Adapter, error) {
	sitemapRe, err := regexp.Compile(cfg.SitemapPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid sitemap pattern: %w", err)
	}
	itemRe, err := regexp.Compile(cfg.ItemPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid item pattern: %w", err)
	}
	idIdx := itemRe.SubexpIndex("id")
	if idIdx < 0 {
		return nil, fmt.Errorf("item pattern %q has no named group \"id\"", cfg.ItemPattern)
	}

	client := resty.New()
	client.SetTimeout(60 * time.Second)
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}

	return &Adapter{
		client:  client,
		cfg:     cfg,
		sitemap: sitemapRe,
		item:    itemRe,
		idIdx:   idIdx,
		typeIdx: itemRe.SubexpIndex("type"),
	}, nil
}

// Name returns the discovery mechanism name
func (a *Adapter) Name() string {
	return SourceName
}

// Discover implements source.Discoverer. Every sitemap page must be read;
// a partial walk would assign the wrong type to ids listed in several sitemaps.
func (a *Adapter) Discover(ctx context.Context) ([]domain.Sighting, error) {
	pages, err := a.sitemapPages(ctx)
	if err != nil {
		return nil, err
	}
	logger.CtxInfo(ctx, "Found item sitemaps: count=%d", len(pages))

	types := make(map[int64]string)
	var order []int64
	for i, page := range pages {
		if i > 0 && a.cfg.Pause > 0 {
			if err := pause(ctx, a.cfg.Pause); err != nil {
				return nil, err
			}
		}
		locs, err := a.locs(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("sitemap %s: %w", page, err)
		}
		found := 0
		for _, loc := range locs {
			id, itemType, ok := a.matchItem(loc)
			if !ok {
				continue
			}
			if _, seen := types[id]; !seen {
				order = append(order, id)
			}
			types[id] = itemType
			found++
		}
		logger.CtxDebug(ctx, "Processed sitemap %d/%d: url=%s, items=%d", i+1, len(pages), page, found)
	}

	out := make([]domain.Sighting, 0, len(order))
	for _, id := range order {
		t := types[id]
		if len(a.cfg.ItemTypes) > 0 && !slices.Contains(a.cfg.ItemTypes, t) {
			continue
		}
		out = append(out, domain.Sighting{ItemID: id, ItemType: t})
	}
	return out, nil
}

// sitemapPages lists matching sitemaps, least specific type first.
func (a *Adapter) sitemapPages(ctx context.Context) ([]string, error) {
	locs, err := a.locs(ctx, a.cfg.IndexURL)
	if err != nil {
		return nil, fmt.Errorf("sitemap index: %w", err)
	}
	var pages []string
	for _, loc := range locs {
		if a.sitemap.MatchString(loc) {
			pages = append(pages, loc)
		}
	}
	sort.SliceStable(pages, func(i, j int) bool {
		ti, ni := a.sortKey(pages[i])
		tj, nj := a.sortKey(pages[j])
		if ti != tj {
			return ti < tj
		}
		return ni < nj
	})
	return pages, nil
}

func (a *Adapter) sortKey(url string) (int, int) {
	rank := len(typeOrder)
	if m := a.sitemap.FindStringSubmatch(url); len(m) > 1 {
		if r, ok := typeOrder["boardgame"+m[1]]; ok {
			rank = r
		}
	}
	num := 0
	if m := pageNumber.FindStringSubmatch(url); m != nil {
		num, _ = strconv.Atoi(m[1])
	}
	return rank, num
}

func (a *Adapter) matchItem(loc string) (int64, string, bool) {
	m := a.item.FindStringSubmatch(loc)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.ParseInt(m[a.idIdx], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", false
	}
	itemType := ""
	if a.typeIdx >= 0 {
		itemType = m[a.typeIdx]
	}
	return id, itemType, true
}

// locs downloads a sitemap document and returns the text of its <loc> elements.
func (a *Adapter) locs(ctx context.Context, url string) ([]string, error) {
	resp, err := a.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	var out []string
	doc.Find("loc").Each(func(_ int, s *goquery.Selection) {
		if text := strings.TrimSpace(s.Text()); text != "" {
			out = append(out, text)
		}
	})
	return out, nil
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
