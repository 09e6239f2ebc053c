package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const maxImageBytes int64 = 10 * 1024 * 1024

// ErrUpload marks decode or transport failures while persisting image payloads.
// Callers must treat it as fatal for the enclosing operation.
var ErrUpload = errors.New("storage: image upload failed")

// ImageStorage stores image payloads in MinIO/S3 and hands back public URLs.
// Entities never keep raw image bytes, only the URLs produced here.
type ImageStorage struct {
	client    *minio.Client
	bucket    string
	publicURL string
}

// NewImageStorageFromEnv initialises ImageStorage using MINIO_* environment variables.
// Returns (nil, nil) when the variables are absent; a nil storage still passes
// already-resolved URLs through but refuses inline payloads.
func NewImageStorageFromEnv() (*ImageStorage, error) {
	endpoint := strings.TrimSpace(os.Getenv("MINIO_ENDPOINT"))
	accessKey := strings.TrimSpace(os.Getenv("MINIO_ACCESS_KEY"))
	secretKey := strings.TrimSpace(os.Getenv("MINIO_SECRET_KEY"))
	bucket := strings.TrimSpace(os.Getenv("MINIO_BUCKET"))
	if endpoint == "" || accessKey == "" || secretKey == "" || bucket == "" {
		return nil, nil
	}

	useSSL := strings.EqualFold(strings.TrimSpace(os.Getenv("MINIO_USE_SSL")), "true")
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}

	publicURL := strings.TrimSpace(os.Getenv("MINIO_PUBLIC_URL"))
	if publicURL == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicURL = fmt.Sprintf("%s://%s", scheme, endpoint)
	}

	return &ImageStorage{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}, nil
}

// IsDataURL reports whether the value is an inline base64 image payload.
func IsDataURL(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), "data:image/")
}

// IsExternalURL reports whether the value already looks like a resolvable URL.
func IsExternalURL(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") || strings.HasPrefix(trimmed, "/")
}

// DecodeDataURL splits an inline payload into raw bytes and a file extension.
func DecodeDataURL(value string) ([]byte, string, error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "data:image/") {
		return nil, "", fmt.Errorf("%w: not an image data url", ErrUpload)
	}

	rest := strings.TrimPrefix(trimmed, "data:image/")
	idx := strings.Index(rest, ";base64,")
	if idx < 0 {
		return nil, "", fmt.Errorf("%w: missing base64 marker", ErrUpload)
	}

	subtype := strings.ToLower(rest[:idx])
	encoded := rest[idx+len(";base64,"):]
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", fmt.Errorf("%w: decode base64: %v", ErrUpload, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty payload", ErrUpload)
	}
	if int64(len(data)) > maxImageBytes {
		return nil, "", fmt.Errorf("%w: payload exceeds %d bytes", ErrUpload, maxImageBytes)
	}

	switch subtype {
	case "png", "x-png":
		return data, ".png", nil
	case "jpeg", "pjpeg", "jpg":
		return data, ".jpg", nil
	case "webp":
		return data, ".webp", nil
	case "gif":
		return data, ".gif", nil
	default:
		return nil, "", fmt.Errorf("%w: unsupported image subtype %q", ErrUpload, subtype)
	}
}

// ResolveImage converts the value into a stable public URL. Already-resolved
// URLs are returned unchanged, so re-resolving is a no-op. Inline payloads are
// decoded and uploaded under {category}/{namePrefix}{timestamp}_{suffix}.{ext}.
// Anything that is neither an image data URL nor a resolvable URL is an
// upload error; non-image inline payloads never pass through.
func (s *ImageStorage) ResolveImage(ctx context.Context, value, category, namePrefix string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", nil
	}
	if !IsDataURL(trimmed) {
		if !IsExternalURL(trimmed) {
			return "", fmt.Errorf("%w: value is neither an image data url nor a resolvable url", ErrUpload)
		}
		return trimmed, nil
	}
	if s == nil || s.client == nil {
		return "", fmt.Errorf("%w: image storage not configured", ErrUpload)
	}

	data, ext, err := DecodeDataURL(trimmed)
	if err != nil {
		return "", err
	}

	objectName := buildObjectName(category, namePrefix, ext)
	contentType := contentTypeForExtension(ext)

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	reader := bytes.NewReader(data)
	if _, err := s.client.PutObject(uploadCtx, s.bucket, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=604800",
	}); err != nil {
		return "", fmt.Errorf("%w: put object %s: %v", ErrUpload, objectName, err)
	}

	return s.buildPublicURL(objectName), nil
}

// UploadFile stores a multipart image upload beneath the given category and
// returns the public URL.
func (s *ImageStorage) UploadFile(ctx context.Context, fileHeader *multipart.FileHeader, category string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("%w: image storage not configured", ErrUpload)
	}
	if fileHeader == nil {
		return "", fmt.Errorf("%w: image file not provided", ErrUpload)
	}

	if fileHeader.Size > 0 && fileHeader.Size > maxImageBytes {
		return "", fmt.Errorf("%w: image size exceeds %d bytes", ErrUpload, maxImageBytes)
	}

	src, err := fileHeader.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open image: %v", ErrUpload, err)
	}
	defer src.Close()

	var buffer bytes.Buffer
	limited := io.LimitReader(src, maxImageBytes+1)
	written, err := io.Copy(&buffer, limited)
	if err != nil {
		return "", fmt.Errorf("%w: read image: %v", ErrUpload, err)
	}
	if written > maxImageBytes {
		return "", fmt.Errorf("%w: image size exceeds %d bytes", ErrUpload, maxImageBytes)
	}

	data := buffer.Bytes()
	contentType := strings.TrimSpace(fileHeader.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !isAllowedImageContent(contentType) {
		return "", fmt.Errorf("%w: unsupported content type %q", ErrUpload, contentType)
	}

	objectName := buildObjectName(category, "", imageExtension(fileHeader.Filename, contentType))

	uploadCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	reader := bytes.NewReader(data)
	if _, err := s.client.PutObject(uploadCtx, s.bucket, objectName, reader, int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: "public, max-age=604800",
	}); err != nil {
		return "", fmt.Errorf("%w: put object %s: %v", ErrUpload, objectName, err)
	}

	return s.buildPublicURL(objectName), nil
}

// buildObjectName generates a unique object key
// {category}/{namePrefix}{timestamp}_{suffix}{ext}. The prefix lets callers
// distinguish object families inside a category, e.g. end frames.
func buildObjectName(category, namePrefix, ext string) string {
	trimmed := strings.Trim(strings.TrimSpace(category), "/")
	if trimmed == "" {
		trimmed = "images"
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return path.Join(trimmed, fmt.Sprintf("%s%d_%s%s", namePrefix, time.Now().UnixMilli(), suffix, ext))
}

func (s *ImageStorage) buildPublicURL(objectName string) string {
	base := strings.TrimSuffix(s.publicURL, "/")
	object := strings.TrimPrefix(objectName, "/")
	return fmt.Sprintf("%s/%s/%s", base, s.bucket, object)
}

func isAllowedImageContent(contentType string) bool {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png", "image/x-png":
		return true
	case "image/jpeg", "image/pjpeg":
		return true
	case "image/webp":
		return true
	case "image/gif":
		return true
	default:
		return false
	}
}

func contentTypeForExtension(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "application/octet-stream"
	}
}

func imageExtension(filename, contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png", "image/x-png":
		return ".png"
	case "image/jpeg", "image/pjpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	}
	ext := strings.ToLower(strings.TrimSpace(filepath.Ext(filename)))
	if ext == "" {
		return ".bin"
	}
	return ext
}
