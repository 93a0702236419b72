// Package media stores user-uploaded images in an S3-compatible bucket and
// hands back public URLs.
package media

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"ecocropshare/api/internal/log"
	"ecocropshare/api/internal/util"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image too large")
)

var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	PublicURL string
	MaxBytes  int64
}

// objectStore is the subset of *minio.Client the service needs.
type objectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
}

type Service struct {
	client   objectStore
	bucket   string
	baseURL  string
	maxBytes int64
}

type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// New connects to the media host and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Service, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create media client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check media bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create media bucket: %w", err)
		}
		log.Log.WithField("bucket", cfg.Bucket).Info("media: created bucket")
	}

	return newService(client, cfg), nil
}

func newService(client objectStore, cfg Config) *Service {
	baseURL := strings.TrimRight(cfg.PublicURL, "/")
	if baseURL == "" {
		scheme := "http"
		if cfg.UseSSL {
			scheme = "https"
		}
		baseURL = scheme + "://" + cfg.Endpoint
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 5 << 20
	}
	return &Service{client: client, bucket: cfg.Bucket, baseURL: baseURL, maxBytes: maxBytes}
}

// UploadImage sniffs the content type, rejects non-images and stores the
// object under images/<ownerID>/.
func (s *Service) UploadImage(ctx context.Context, ownerID string, body io.Reader, size int64) (Upload, error) {
	if size > s.maxBytes {
		return Upload{}, ErrTooLarge
	}
	reader := bufio.NewReaderSize(body, 512)
	head, err := reader.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return Upload{}, fmt.Errorf("read upload: %w", err)
	}
	contentType := http.DetectContentType(head)
	ext, ok := allowedTypes[contentType]
	if !ok {
		return Upload{}, fmt.Errorf("%w: %s", ErrUnsupportedType, contentType)
	}

	key := path.Join("images", ownerID, util.NewID("")+ext)
	info, err := s.client.PutObject(ctx, s.bucket, key, io.LimitReader(reader, s.maxBytes), size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return Upload{}, fmt.Errorf("store image: %w", err)
	}

	return Upload{
		Key:         key,
		URL:         s.baseURL + "/" + s.bucket + "/" + key,
		ContentType: contentType,
		Size:        info.Size,
	}, nil
}

// RemoveByURL deletes an object previously uploaded by ownerID. URLs that
// point elsewhere or at another owner's images are ignored.
func (s *Service) RemoveByURL(ctx context.Context, ownerID, url string) error {
	prefix := s.baseURL + "/" + s.bucket + "/"
	if ownerID == "" || !strings.HasPrefix(url, prefix) {
		return nil
	}
	key := strings.TrimPrefix(url, prefix)
	if path.Clean(key) != key || !strings.HasPrefix(key, path.Join("images", ownerID)+"/") {
		return nil
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("bucket %s missing", s.bucket)
	}
	return nil
}
