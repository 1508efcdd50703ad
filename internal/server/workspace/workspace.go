// Package workspace opens the content behind an element URI before it is
// archived.
package workspace

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/dmitrijs2005/mediaarchive/internal/common"
)

// Source is opened element content. Size is -1 when unknown.
type Source struct {
	Body     io.ReadCloser
	Size     int64
	MimeType string
}

// Opener resolves element URIs to content.
type Opener interface {
	Open(ctx context.Context, uri string) (*Source, error)
}

// Workspace reads file and http(s) URIs.
type Workspace struct {
	client *http.Client
}

func New(timeout time.Duration) *Workspace {
	return &Workspace{client: &http.Client{Timeout: timeout}}
}

func (w *Workspace) Open(ctx context.Context, uri string) (*Source, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", uri, err)
	}

	switch u.Scheme {
	case "", "file":
		return openFile(u.Path)
	case "http", "https":
		return w.openHTTP(ctx, uri)
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", common.ErrorInvalidURI, u.Scheme)
	}
}

func openFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open %s: %w", path, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &Source{Body: f, Size: st.Size()}, nil
}

func (w *Workspace) openHTTP(ctx context.Context, uri string) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", uri, err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %w", uri, common.ErrorNotFound)
	case resp.StatusCode >= 300:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", uri, resp.StatusCode)
	}
	return &Source{Body: resp.Body, Size: resp.ContentLength, MimeType: resp.Header.Get("Content-Type")}, nil
}
