package resolver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// HTTPResolver fetches external references over http(s). It is a thin
// wrapper around the standard library's http.Client; no retry or
// redirect policy beyond the client's defaults is implemented here —
// that belongs to the host's transport layer, out of scope for the
// security pipeline.
type HTTPResolver struct {
	Client *http.Client
}

// NewHTTPResolver creates a resolver using http.DefaultClient.
func NewHTTPResolver() *HTTPResolver {
	return &HTTPResolver{Client: http.DefaultClient}
}

func (h *HTTPResolver) Matches(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

func (h *HTTPResolver) Resolve(ctx context.Context, uri string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("external resolver: unexpected status %d for %s", resp.StatusCode, uri)
	}
	return resp.Body, nil
}

// FileResolver fetches external references with a file:// scheme from
// local disk. Hosts that never allow this scheme simply never register it.
type FileResolver struct{}

func (FileResolver) Matches(uri string) bool {
	return strings.HasPrefix(uri, "file://")
}

func (FileResolver) Resolve(_ context.Context, uri string) (io.ReadCloser, error) {
	path := strings.TrimPrefix(uri, "file://")
	return os.Open(path)
}
