package postengine_test

import (
	"context"
	"fmt"
)

// fakeFetcher serves canned responses keyed by URL.
type fakeFetcher struct {
	responses map[string][]byte
	requested []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{responses: make(map[string][]byte)}
}

func (f *fakeFetcher) serve(url string, data []byte) {
	f.responses[url] = data
}

func (f *fakeFetcher) Download(ctx context.Context, url string) ([]byte, error) {
	f.requested = append(f.requested, url)
	data, ok := f.responses[url]
	if !ok {
		return nil, fmt.Errorf("download %s: connection refused", url)
	}
	return data, nil
}
