package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/logging"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/retry"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/types"
)

// IndexFile is the catalog index fetched from the base URL.
const IndexFile = "index.json"

// indexEntry is one record of index.json.
type indexEntry struct {
	ID         string            `json:"id"`
	Name       string            `json:"name,omitempty"`
	Size       int64             `json:"size"`
	Checksum   string            `json:"checksum,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	URL        string            `json:"url,omitempty"`
}

// HTTPAdapter serves a catalog published as "<base>/index.json" with item
// content under "<base>/<id>" unless the index names another URL.
type HTTPAdapter struct {
	name   string
	base   *url.URL
	client *http.Client
}

// NewHTTP returns an adapter for base. A nil client uses a client with a
// 30s header timeout and no overall deadline, so long downloads survive.
func NewHTTP(name, base string, client *http.Client) (*HTTPAdapter, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, retry.New(retry.CategoryConfiguration, "parse url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, retry.Errorf(retry.CategoryConfiguration, "source %s: unsupported scheme %q", name, u.Scheme)
	}
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		}}
	}
	return &HTTPAdapter{name: name, base: u, client: client}, nil
}

// Name implements Adapter.
func (a *HTTPAdapter) Name() string { return a.name }

// SupportsRange implements RangeSupport. Servers that ignore Range are
// detected per request in Open.
func (a *HTTPAdapter) SupportsRange() bool { return true }

func (a *HTTPAdapter) itemURL(id string) string {
	u := *a.base
	u.Path = u.Path + "/" + strings.TrimLeft(id, "/")
	return u.String()
}

// List implements Adapter. Entries keep index order.
func (a *HTTPAdapter) List(ctx context.Context) ([]types.CatalogItem, error) {
	index := a.itemURL(IndexFile)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, index, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &retry.StatusError{Code: resp.StatusCode, URL: index}
	}

	var entries []indexEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, retry.New(retry.CategoryValidation, "decode "+index, err)
	}

	items := make([]types.CatalogItem, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			continue
		}
		if e.Size < 0 {
			logging.Get("catalog").Warn("skipping index entry with negative size", "source", a.name, "item", e.ID, "size", e.Size)
			continue
		}
		item := types.CatalogItem{
			ID:         e.ID,
			Name:       e.Name,
			Size:       e.Size,
			Checksum:   strings.ToLower(e.Checksum),
			Attributes: map[string]string{},
			Remote:     e.URL,
			Source:     a.name,
		}
		if item.Name == "" {
			item.Name = displayName(e.ID)
		}
		if item.Remote == "" {
			item.Remote = a.itemURL(e.ID)
		}
		if c := category(e.ID); c != "" {
			item.Attributes["category"] = c
		}
		for k, v := range e.Attributes {
			item.Attributes[strings.ToLower(k)] = v
		}
		items = append(items, item)
	}
	return items, nil
}

// Open implements Adapter. A 200 reply to a ranged request means the server
// ignored the range and the stream restarts at zero.
func (a *HTTPAdapter) Open(ctx context.Context, item types.CatalogItem, offset int64) (io.ReadCloser, int64, error) {
	target := item.Remote
	if !strings.HasPrefix(target, a.base.String()+"/") {
		target = a.itemURL(item.ID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, err
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, 0, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, 0, nil
	case http.StatusPartialContent:
		if start, ok := contentRangeStart(resp.Header.Get("Content-Range")); ok && start != offset {
			_ = resp.Body.Close()
			return nil, 0, retry.Errorf(retry.CategoryTransfer, "%s: server resumed at %d, asked %d", item.ID, start, offset)
		}
		return resp.Body, offset, nil
	case http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, 0, retry.New(retry.CategoryValidation, "open "+item.ID, fmt.Errorf("%s: %w", target, ErrNotFound))
	default:
		_ = resp.Body.Close()
		return nil, 0, &retry.StatusError{Code: resp.StatusCode, URL: target}
	}
}

// contentRangeStart parses "bytes START-END/TOTAL".
func contentRangeStart(h string) (int64, bool) {
	h = strings.TrimPrefix(strings.TrimSpace(h), "bytes ")
	dash := strings.IndexByte(h, '-')
	if dash <= 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(h[:dash], 10, 64)
	return n, err == nil
}
