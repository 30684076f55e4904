package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/h2non/bimg"
)

const (
	defaultTimeout = 30 * time.Second
	uploadTimeout  = 2 * time.Minute

	thumbnailMaxSize = 256 // максимальный размер миниатюры в пикселях
	thumbnailQuality = 85
)

// Client предоставляет методы для работы с S3-совместимым хранилищем
type Client struct {
	client        *s3.Client
	bucket        string
	publicBaseURL string
}

// NewClient создает новый экземпляр клиента S3
func NewClient(conf *Config) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	client := s3.New(s3.Options{
		BaseEndpoint:     aws.String(conf.Endpoint),
		Region:           conf.Region,
		Credentials:      creds,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	})

	s3Client := &Client{
		client:        client,
		bucket:        conf.Bucket,
		publicBaseURL: strings.TrimRight(conf.PublicBaseURL, "/"),
	}

	// Проверяем подключение к бакету
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	_, err := s3Client.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(conf.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return s3Client, nil
}

// UploadPicture загружает оригинал и миниатюру картинки. Ключ объекта
// собирается из времени загрузки, случайной части и расширения файла,
// поэтому коллизии практически исключены, а перезапись чужого объекта
// невозможна.
func (h *Client) UploadPicture(ctx context.Context, prefix, filename string, data []byte) (*UploadResult, error) {
	if prefix == "" || len(data) == 0 {
		return nil, fmt.Errorf("prefix and data are required")
	}

	format := bimg.DetermineImageTypeName(data)
	if format == "unknown" {
		return nil, fmt.Errorf("unsupported image format")
	}

	size, err := bimg.NewImage(data).Size()
	if err != nil {
		return nil, fmt.Errorf("failed to read image dimensions: %w", err)
	}

	key := buildObjectKey(prefix, filename)
	thumbKey := key + "_thumb.jpg"

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	if err := h.UploadBytes(ctx, key, data); err != nil {
		return nil, err
	}

	// Миниатюра — best effort: ее отсутствие не должно ломать загрузку
	thumbURL := ""
	thumb, err := makeThumbnail(data, size.Width, size.Height)
	if err == nil {
		if err := h.UploadBytes(ctx, thumbKey, thumb); err == nil {
			thumbURL = h.objectURL(thumbKey)
		}
	}
	if thumbURL == "" {
		thumbKey = ""
	}

	return &UploadResult{
		Key:          key,
		ThumbnailKey: thumbKey,
		URL:          h.objectURL(key),
		ThumbnailURL: thumbURL,
		SizeBytes:    int64(len(data)),
		Width:        size.Width,
		Height:       size.Height,
		Format:       format,
	}, nil
}

// UploadBytes загружает байты в S3
func (h *Client) UploadBytes(ctx context.Context, key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	_, err := h.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("failed to upload data to S3: %w", err)
	}

	return nil
}

// GetObject получает объект из S3
func (h *Client) GetObject(ctx context.Context, key string) (S3Object, error) {
	result, err := h.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return &s3Object{
		ReadCloser:    result.Body,
		contentLength: *result.ContentLength,
		contentType:   *result.ContentType,
	}, nil
}

// DeleteObject удаляет объект из S3. Отсутствующий объект считается
// успешно удаленным.
func (h *Client) DeleteObject(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err := h.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})

	var nsk *types.NoSuchKey
	if err != nil && errors.As(err, &nsk) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check object existence: %w", err)
	}

	_, err = h.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object from S3: %w", err)
	}

	return nil
}

func (h *Client) objectURL(key string) string {
	return h.publicBaseURL + "/" + key
}

// buildObjectKey собирает ключ вида {prefix}/{время}_{случайная часть}{.ext}
func buildObjectKey(prefix, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	// Расширение берем только безопасное, остальное отбрасываем
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp":
	default:
		ext = ""
	}

	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
	return fmt.Sprintf("%s/%s_%s%s",
		strings.Trim(prefix, "/"),
		time.Now().UTC().Format("20060102150405"),
		random,
		ext,
	)
}

// makeThumbnail уменьшает картинку до thumbnailMaxSize по большей стороне
func makeThumbnail(data []byte, width, height int) ([]byte, error) {
	opts := bimg.Options{
		Quality: thumbnailQuality,
		Type:    bimg.JPEG,
	}
	if width >= height {
		opts.Width = thumbnailMaxSize
	} else {
		opts.Height = thumbnailMaxSize
	}

	// Мелкие картинки не увеличиваем, только перекодируем
	if width <= thumbnailMaxSize && height <= thumbnailMaxSize {
		opts.Width = 0
		opts.Height = 0
	}

	return bimg.NewImage(data).Process(opts)
}
