// Package assets caches audio artifacts by asset id. A cached asset is never
// invalidated.
package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"
	"sync"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/viant/afs"
	afsurl "github.com/viant/afs/url"
)

// ErrUnavailable is returned when an asset could not be fetched. The call
// proceeds without audio.
var ErrUnavailable = errors.New("audio asset unavailable")

// Downloader opens an asset body from the server.
type Downloader interface {
	DownloadAsset(ctx context.Context, assetID int) (*api.Download, error)
}

type Asset struct {
	ID  int
	URL string
	// LocalPath is set when the cache lives on the local filesystem.
	LocalPath string
	Present   bool
}

const defaultExt = ".mp3"

// knownExts are probed in order when looking for a cached file.
var knownExts = []string{".mp3", ".wav", ".ogg", ".m4a", ".aac"}

type Cache struct {
	fs         afs.Service
	baseURL    string
	downloader Downloader
	logf       func(string, ...any)
	mu         sync.Mutex
}

// New creates a cache rooted at dir, a local path or any afs URL.
func New(dir string, downloader Downloader, logf func(string, ...any)) *Cache {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Cache{
		fs:         afs.New(),
		baseURL:    strings.TrimRight(strings.TrimSpace(dir), "/"),
		downloader: downloader,
		logf:       logf,
	}
}

func (c *Cache) Dir() string { return c.baseURL }

// Lookup returns the cached asset without touching the network.
func (c *Cache) Lookup(ctx context.Context, assetID int) (*Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lookup(ctx, assetID)
}

// Resolve returns the cached asset, downloading it first when needed. A
// failed download leaves nothing behind.
func (c *Cache) Resolve(ctx context.Context, assetID int) (*Asset, error) {
	if assetID <= 0 {
		return nil, fmt.Errorf("%w: invalid asset id %d", ErrUnavailable, assetID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if asset, ok := c.lookup(ctx, assetID); ok {
		return asset, nil
	}
	if c.downloader == nil {
		return nil, fmt.Errorf("%w: no downloader", ErrUnavailable)
	}
	dl, err := c.downloader.DownloadAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = dl.Body.Close() }()

	if err := c.fs.Create(ctx, c.baseURL, 0o700, true); err != nil {
		if ok, _ := c.fs.Exists(ctx, c.baseURL); !ok {
			return nil, fmt.Errorf("failed to create audio dir %s: %w", c.baseURL, err)
		}
	}
	partURL := c.assetURL(assetID, ".part")
	finalURL := c.assetURL(assetID, extFor(dl.ContentType))
	if err := c.fs.Upload(ctx, partURL, 0o600, dl.Body); err != nil {
		_ = c.fs.Delete(ctx, partURL)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := c.fs.Move(ctx, partURL, finalURL); err != nil {
		_ = c.fs.Delete(ctx, partURL)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	c.logf("audio asset %d cached at %s", assetID, finalURL)
	return c.asset(assetID, finalURL), nil
}

// Open reads a cached asset.
func (c *Cache) Open(ctx context.Context, asset *Asset) (io.ReadCloser, error) {
	if asset == nil || !asset.Present {
		return nil, ErrUnavailable
	}
	return c.fs.OpenURL(ctx, asset.URL)
}

func (c *Cache) lookup(ctx context.Context, assetID int) (*Asset, bool) {
	if assetID <= 0 {
		return nil, false
	}
	for _, ext := range knownExts {
		u := c.assetURL(assetID, ext)
		if ok, _ := c.fs.Exists(ctx, u); ok {
			return c.asset(assetID, u), true
		}
	}
	return nil, false
}

func (c *Cache) asset(assetID int, u string) *Asset {
	a := &Asset{ID: assetID, URL: u, Present: true}
	switch afsurl.Scheme(u, "file") {
	case "file":
		a.LocalPath = afsurl.Path(u)
	}
	return a
}

func (c *Cache) assetURL(assetID int, ext string) string {
	return c.baseURL + "/audio_" + strconv.Itoa(assetID) + ext
}

func extFor(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultExt
	}
	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return ".wav"
	case "audio/ogg", "application/ogg":
		return ".ogg"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/aac":
		return ".aac"
	default:
		return defaultExt
	}
}
