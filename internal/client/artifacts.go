package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/castreel/api/internal/apperr"
	"github.com/castreel/api/internal/resilience"
)

var extensions = map[string]string{
	"video/mp4":   ".mp4",
	"image/jpeg":  ".jpg",
	"image/png":   ".png",
	"audio/mpeg":  ".mp3",
	"audio/mp3":   ".mp3",
	"audio/wav":   ".wav",
	"audio/x-wav": ".wav",
}

// ArtifactStore uploads generated media and downloads artifacts by reference.
type ArtifactStore struct {
	storage    StorageClient
	httpClient *http.Client
	policy     *resilience.Policy
	logger     *zap.Logger
	now        func() time.Time
	// signedExpiry, when set, makes uploads return presigned URLs instead of public ones.
	signedExpiry time.Duration
}

// NewArtifactStore wraps storage. policy guards both directions and may be nil.
func NewArtifactStore(storage StorageClient, policy *resilience.Policy, logger *zap.Logger) *ArtifactStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtifactStore{
		storage:    storage,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		policy:     policy,
		logger:     logger.Named("artifacts"),
		now:        time.Now,
	}
}

// WithSignedURLs makes references presigned for expiry, for buckets that are not public.
func (a *ArtifactStore) WithSignedURLs(expiry time.Duration) *ArtifactStore {
	a.signedExpiry = expiry
	return a
}

func (a *ArtifactStore) Backend() string {
	return a.storage.Name()
}

func (a *ArtifactStore) do(ctx context.Context, fn func(context.Context) error) error {
	if a.policy == nil {
		return fn(ctx)
	}
	return a.policy.Do(ctx, fn)
}

func (a *ArtifactStore) key(contentType string) string {
	return path.Join("artifacts", a.now().UTC().Format("2006/01/02"), uuid.New().String()+extensions[contentType])
}

// Upload stores data and returns its reference URL.
func (a *ArtifactStore) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	key := a.key(contentType)
	var ref string
	err := a.do(ctx, func(ctx context.Context) error {
		var err error
		ref, err = a.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
		if err != nil {
			return err
		}
		ref, err = a.reference(ctx, key, ref)
		return err
	})
	if err != nil {
		return "", apperr.TransientProvider("artifact upload", err)
	}
	a.logger.Debug("uploaded artifact", zap.String("key", key), zap.Int("bytes", len(data)))
	return ref, nil
}

// UploadFile streams a local file to storage.
func (a *ArtifactStore) UploadFile(ctx context.Context, filePath, contentType string) (string, error) {
	key := a.key(contentType)
	var ref string
	err := a.do(ctx, func(ctx context.Context) error {
		f, err := os.Open(filePath)
		if err != nil {
			return err
		}
		defer f.Close()
		info, err := f.Stat()
		if err != nil {
			return err
		}
		ref, err = a.storage.Upload(ctx, key, f, info.Size(), contentType)
		if err != nil {
			return err
		}
		ref, err = a.reference(ctx, key, ref)
		return err
	})
	if err != nil {
		return "", apperr.TransientProvider("artifact upload", err)
	}
	a.logger.Debug("uploaded artifact file", zap.String("key", key), zap.String("path", filePath))
	return ref, nil
}

func (a *ArtifactStore) reference(ctx context.Context, key, ref string) (string, error) {
	if a.signedExpiry <= 0 {
		return ref, nil
	}
	return a.storage.GetSignedURL(ctx, key, a.signedExpiry)
}

// Download fetches ref into dst. file:// references are copied from disk.
func (a *ArtifactStore) Download(ctx context.Context, ref, dst string) error {
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" {
		return apperr.DownloadFailed(ref, fmt.Errorf("invalid artifact reference"))
	}

	if u.Scheme == "file" {
		if err := copyFile(u.Path, dst); err != nil {
			return apperr.DownloadFailed(ref, err)
		}
		return nil
	}

	err = a.do(ctx, func(ctx context.Context) error {
		return a.fetch(ctx, ref, dst)
	})
	if err != nil {
		return apperr.DownloadFailed(ref, err)
	}
	return nil
}

func (a *ArtifactStore) fetch(ctx context.Context, ref, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxProviderMessage))
		return &ProviderError{
			Service:         "artifact",
			Method:          http.MethodGet,
			HTTPStatus:      resp.StatusCode,
			ProviderMessage: providerMessage(body),
		}
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
