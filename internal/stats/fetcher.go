package stats

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/ayusman/stationeye/internal/session"
)

// Fetcher retrieves a statistics snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, id session.ID) (Snapshot, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, id session.ID) (Snapshot, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, id session.ID) (Snapshot, error) {
	return f(ctx, id)
}

// HTTPFetcher reads GET /api/stats/{sessionId}.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
}

// NewHTTPFetcher creates a fetcher for the service at baseURL.
func NewHTTPFetcher(baseURL string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch requests the snapshot for id. An empty id asks for the service's
// aggregate snapshot.
func (f *HTTPFetcher) Fetch(ctx context.Context, id session.ID) (Snapshot, error) {
	endpoint := f.baseURL + "/api/stats"
	if id.Valid() {
		endpoint += "/" + url.PathEscape(id.String())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "build request")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "stats request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return Snapshot{}, errors.Errorf("stats service returned %s", resp.Status)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return Snapshot{}, errors.Wrap(err, "decode stats")
	}
	return snap, nil
}
