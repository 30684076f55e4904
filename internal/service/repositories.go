package service

import (
	"context"

	"github.com/google/uuid"

	"pixvault/internal/domain"
)

// Интерфейсы хранилища записей. Реализуются пакетом repository,
// в тестах подменяются in-memory двойниками.

type PictureRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Picture, error)
	UpsertWithQuota(ctx context.Context, pic *domain.Picture, deltas []domain.QuotaDelta) error
	DeleteWithQuota(ctx context.Context, id uuid.UUID, delta *domain.QuotaDelta) error
	Update(ctx context.Context, pic *domain.Picture) error
	Query(ctx context.Context, q domain.PictureQuery) (*domain.PicturePage, error)
}

type SpaceRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Space, error)
	GetByOwner(ctx context.Context, ownerID string) (*domain.Space, error)
	CreateUnique(ctx context.Context, space *domain.Space) error
	Update(ctx context.Context, space *domain.Space) error
	DeleteEmpty(ctx context.Context, id uuid.UUID) error
}
