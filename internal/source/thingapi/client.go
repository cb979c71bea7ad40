package thingapi

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/catalogsync/internal/source"
)

const thingPath = "/thing"

// Config configures the thing API client.
type Config struct {
	BaseURL   string
	Token     string
	ItemTypes []string
	WithStats bool
	Timeout   time.Duration
	UserAgent string
}

// Client implements source.Remote against an XML "thing" endpoint that
// accepts a comma-separated id list and answers with one <item> per known id.
type Client struct {
	client *resty.Client
	cfg    Config
}

var _ source.Remote = (*Client)(nil)

// NewClient creates a new thing API client
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(cfg.BaseURL, "/"))
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("Accept", "application/xml")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	return &Client{client: client, cfg: cfg}
}

// thingResponse only keeps what is needed to split the body per item.
type thingResponse struct {
	XMLName xml.Name    `xml:"items"`
	Items   []thingItem `xml:"item"`
}

type thingItem struct {
	ID    int64  `xml:"id,attr"`
	Type  string `xml:"type,attr"`
	Inner []byte `xml:",innerxml"`
}

// FetchBatch implements source.Remote.
func (c *Client) FetchBatch(ctx context.Context, ids []int64) (*source.Response, error) {
	params := map[string]string{"id": joinIDs(ids)}
	if len(c.cfg.ItemTypes) > 0 {
		params["type"] = strings.Join(c.cfg.ItemTypes, ",")
	}
	if c.cfg.WithStats {
		params["stats"] = "1"
	}

	httpResp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(thingPath)
	if err != nil {
		return nil, fmt.Errorf("failed to call thing API: %w", err)
	}

	resp := &source.Response{
		StatusCode: httpResp.StatusCode(),
		RetryAfter: parseRetryAfter(httpResp.Header().Get("Retry-After"), time.Now()),
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNonAuthoritativeInfo {
		return resp, nil
	}

	items, err := SplitItems(httpResp.Body())
	if err != nil {
		resp.Malformed = err
		return resp, nil
	}
	resp.Items = items
	return resp, nil
}

// SplitItems decodes an <items> document into one self-contained <item>
// element per id.
// Parameters:
//   - body: raw response body.
// Returns:
//   - map[int64][]byte: payload per item id.
//   - error: non-nil when the document is not a well-formed <items> list.
func SplitItems(body []byte) (map[int64][]byte, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty response body")
	}
	var doc thingResponse
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode items: %w", err)
	}

	items := make(map[int64][]byte, len(doc.Items))
	for _, it := range doc.Items {
		if it.ID <= 0 {
			continue
		}
		var buf bytes.Buffer
		buf.WriteString(`<item id="`)
		buf.WriteString(strconv.FormatInt(it.ID, 10))
		buf.WriteString(`" type="`)
		xml.EscapeText(&buf, []byte(it.Type))
		buf.WriteString(`">`)
		buf.Write(it.Inner)
		buf.WriteString(`</item>`)
		items[it.ID] = buf.Bytes()
	}
	return items, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// parseRetryAfter accepts both delay-seconds and HTTP-date forms.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
