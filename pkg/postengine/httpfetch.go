package postengine

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// HTTPFetcher implements Fetcher over net/http. Timeouts and retries are the
// caller's concern: configure them on the injected client.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher creates a fetcher using the given client, or
// http.DefaultClient when nil.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

// Download fetches the URL's bytes, failing on any non-200 response.
func (f *HTTPFetcher) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	return io.ReadAll(resp.Body)
}
