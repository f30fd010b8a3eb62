package images

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	downloadTimeout = 10 * time.Second
	maxDownloadSize = 20 << 20
)

type Fit int

const (
	// FitCover crops to fill the exact target dimensions, keeping the
	// center framing. Used for fixed-aspect avatars.
	FitCover Fit = iota
	// FitContain bounds the longer edge without cropping and never
	// upscales a smaller source. Used for article/product/gallery images.
	FitContain
)

type Options struct {
	MaxWidth  int
	MaxHeight int
	Fit       Fit
	// Kind prefixes the object key, e.g. "avatar" or "upload".
	Kind string
}

// ObjectUploader is the storage half of the pipeline. *s3.Uploader
// satisfies it.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
	BaseURL() string
}

// Ingestor downloads remote images, normalizes them and re-hosts them in
// object storage. Hosting is a quality-of-service enhancement: a nil or
// failing uploader degrades to the original URL, never to an error that
// would block the surrounding login.
type Ingestor struct {
	uploader ObjectUploader
	client   *http.Client
}

func NewIngestor(uploader ObjectUploader) *Ingestor {
	return &Ingestor{
		uploader: uploader,
		client:   &http.Client{Timeout: downloadTimeout},
	}
}

// Hosts reports whether url points into the owned bucket rather than at a
// third-party host.
func (in *Ingestor) Hosts(url string) bool {
	return in.uploader != nil && url != "" && strings.HasPrefix(url, in.uploader.BaseURL())
}

// IngestURL fetches sourceURL, resizes and re-encodes it per opts, and
// uploads it under a key derived from ownerKey. Every failure path returns
// sourceURL unchanged.
func (in *Ingestor) IngestURL(ctx context.Context, sourceURL, ownerKey string, opts Options) string {
	if in.uploader == nil {
		return sourceURL
	}

	data, err := in.download(ctx, sourceURL)
	if err != nil {
		slog.Warn("image download failed, keeping source url", "url", sourceURL, "error", err)
		return sourceURL
	}

	hosted, err := in.processAndUpload(ctx, data, ownerKey, opts)
	if err != nil {
		slog.Warn("image ingestion failed, keeping source url", "url", sourceURL, "error", err)
		return sourceURL
	}

	return hosted
}

// IngestBytes runs the same pipeline on an already-held payload, e.g. a
// multipart upload. There is no source URL to fall back to, so errors
// surface.
func (in *Ingestor) IngestBytes(ctx context.Context, data []byte, ownerKey string, opts Options) (string, error) {
	if in.uploader == nil {
		return "", errors.New("images: object storage is not configured")
	}

	return in.processAndUpload(ctx, data, ownerKey, opts)
}

func (in *Ingestor) processAndUpload(ctx context.Context, data []byte, ownerKey string, opts Options) (string, error) {
	out, ext, contentType, err := process(data, opts)
	if err != nil {
		return "", err
	}

	key := objectKey(opts.Kind, ownerKey, ext)
	return in.uploader.Upload(ctx, key, out, contentType)
}

func (in *Ingestor) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty response body")
	}

	return data, nil
}

func objectKey(kind, ownerKey, ext string) string {
	if kind == "" {
		kind = "upload"
	}

	suffix := make([]byte, 6)
	rand.Read(suffix)

	return fmt.Sprintf("%s-%s-%d-%s.%s", kind, ownerKey, time.Now().UnixNano(), hex.EncodeToString(suffix), ext)
}
