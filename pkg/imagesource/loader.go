// Package imagesource turns an image reference into a crop.Source.
package imagesource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Register decoders beyond the imaging defaults.
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/dlevesque1980/dailywallpaper-sub001/pkg/crop"
	"github.com/dlevesque1980/dailywallpaper-sub001/util/log"
	"golang.org/x/time/rate"
)

// Network timeouts for remote fetches.
const (
	HTTPClientRequestTimeout        = 60 * time.Second
	HTTPClientDialerTimeout         = 15 * time.Second
	HTTPClientKeepAlive             = 30 * time.Second
	HTTPClientTLSHandshakeTimeout   = 10 * time.Second
	HTTPClientResponseHeaderTimeout = 15 * time.Second
)

// MaxImageBytes caps the size of a downloaded image.
const MaxImageBytes = 64 << 20

var (
	// ErrUnsupportedScheme is returned for references that are neither files nor http(s) URLs.
	ErrUnsupportedScheme = errors.New("unsupported image reference scheme")
	// ErrTooLarge is returned when a remote image exceeds MaxImageBytes.
	ErrTooLarge = errors.New("image exceeds size limit")
)

// Loader fetches and decodes images.
type Loader struct {
	client  *http.Client
	limiter *rate.Limiter
	maxDim  int
}

// NewClient builds the HTTP client used for remote images.
func NewClient(userAgent string) *http.Client {
	return &http.Client{
		Timeout: HTTPClientRequestTimeout,
		Transport: &UserAgentTransport{
			RoundTripper: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   HTTPClientDialerTimeout,
					KeepAlive: HTTPClientKeepAlive,
				}).DialContext,
				ResponseHeaderTimeout: HTTPClientResponseHeaderTimeout,
				TLSHandshakeTimeout:   HTTPClientTLSHandshakeTimeout,
			},
			UserAgent: userAgent,
		},
	}
}

// NewLoader creates a loader. A nil client uses NewClient with a generic agent;
// a nil limiter disables throttling. maxDim bounds the analysis thumbnail.
func NewLoader(client *http.Client, limiter *rate.Limiter, maxDim int) *Loader {
	if client == nil {
		client = NewClient("dailywallpaper")
	}
	return &Loader{client: client, limiter: limiter, maxDim: maxDim}
}

// Load decodes ref into a crop source. ref may be a bare path, a file:// URL
// or an http(s) URL.
func (l *Loader) Load(ctx context.Context, ref string) (*crop.Source, error) {
	img, err := l.Decode(ctx, ref)
	if err != nil {
		return nil, err
	}
	return crop.NewSource(img, l.maxDim)
}

// Decode returns the full-resolution image behind ref.
func (l *Loader) Decode(ctx context.Context, ref string) (image.Image, error) {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths, including Windows drive letters.
		return openFile(ref)
	}
	switch strings.ToLower(u.Scheme) {
	case "file":
		path := u.Path
		if u.Host != "" && u.Host != "localhost" {
			path = "//" + u.Host + path
		}
		return openFile(filepath.FromSlash(path))
	case "http", "https":
		return l.fetch(ctx, u.String())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func openFile(path string) (image.Image, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("opening image: %w", err)
	}
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", path, err)
	}
	return img, nil
}

func (l *Loader) fetch(ctx context.Context, rawURL string) (image.Image, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetching image %s: status %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image body: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, ErrTooLarge
	}
	log.Debugf("ImageSource: fetched %s (%d bytes) in %v", rawURL, len(data), time.Since(start))

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image %s: %w", rawURL, err)
	}
	return img, nil
}
