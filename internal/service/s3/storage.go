package s3

import (
	"context"
	"io"
)

// S3Object определяет интерфейс для объектов S3
type S3Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
}

// s3Object реализует интерфейс S3Object
type s3Object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
}

func (o *s3Object) ContentLength() int64 {
	return o.contentLength
}

func (o *s3Object) ContentType() string {
	return o.contentType
}

// UploadResult — метаданные загруженной картинки
type UploadResult struct {
	Key          string
	ThumbnailKey string
	URL          string
	ThumbnailURL string
	SizeBytes    int64
	Width        int
	Height       int
	Format       string
}

// Storage определяет интерфейс блобного хранилища картинок
type Storage interface {
	// UploadPicture кладет оригинал и миниатюру под свежим ключом
	// внутри prefix и возвращает метаданные изображения
	UploadPicture(ctx context.Context, prefix, filename string, data []byte) (*UploadResult, error)
	UploadBytes(ctx context.Context, key string, data []byte) error
	GetObject(ctx context.Context, key string) (S3Object, error)
	DeleteObject(ctx context.Context, key string) error
}
