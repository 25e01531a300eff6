package data

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeblew999/plat-mantle/internal/layer"
)

// Provider opens the bytes behind a url.
type Provider interface {
	Open(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// HTTPProvider fetches http and https urls.
type HTTPProvider struct {
	Client *http.Client
}

// NewHTTPProvider creates a provider whose client gives up after timeout.
func NewHTTPProvider(timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{Client: &http.Client{Timeout: timeout}}
}

// Open implements Provider.
func (p *HTTPProvider) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}
	return resp.Body, nil
}

// FileProvider reads local paths and file:// urls. A non-empty Root confines
// relative paths to that directory.
type FileProvider struct {
	Root string
}

// Open implements Provider.
func (p FileProvider) Open(_ context.Context, rawURL string) (io.ReadCloser, error) {
	path := rawURL
	if strings.HasPrefix(rawURL, "file://") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, err
		}
		path = u.Path
	}
	if p.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(p.Root, filepath.Clean("/"+path))
	}
	return os.Open(path)
}

// MuxProvider sends http(s) urls to Remote and everything else to Local.
type MuxProvider struct {
	Remote Provider
	Local  Provider
}

// NewMuxProvider combines a remote and a local provider.
func NewMuxProvider(remote, local Provider) *MuxProvider {
	return &MuxProvider{Remote: remote, Local: local}
}

// Open implements Provider.
func (p *MuxProvider) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	lower := strings.ToLower(rawURL)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		if p.Remote == nil {
			return nil, fmt.Errorf("no remote provider for %s", rawURL)
		}
		return p.Remote.Open(ctx, rawURL)
	}
	if p.Local == nil {
		return nil, fmt.Errorf("no local provider for %s", rawURL)
	}
	return p.Local.Open(ctx, rawURL)
}

// readSource returns the raw bytes of d: the inline value when present,
// otherwise the provider's content for d.URL.
func readSource(ctx context.Context, d *layer.Data, opts Options) ([]byte, error) {
	if d.Value != nil {
		switch v := d.Value.(type) {
		case string:
			return []byte(v), nil
		case []byte:
			return v, nil
		default:
			return json.Marshal(v)
		}
	}
	return readURL(ctx, d.URL, opts)
}

func readURL(ctx context.Context, rawURL string, opts Options) ([]byte, error) {
	if rawURL == "" {
		return nil, ErrNoSource
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("no provider for %s", rawURL)
	}
	rc, err := opts.Provider.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return buf.Bytes(), nil
}
