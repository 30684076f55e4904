package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"pixvault/internal/domain"
)

// QuotaService отвечает за проверку лимитов пространства перед
// загрузкой и за отчет об использовании квоты.
type QuotaService struct {
	spaceRepo SpaceRepo
}

func NewQuotaService(spaceRepo SpaceRepo) *QuotaService {
	return &QuotaService{spaceRepo: spaceRepo}
}

// QuotaInfo — сводка использования квоты пространства
type QuotaInfo struct {
	MaxSize      int64   `json:"max_size"`
	MaxCount     int64   `json:"max_count"`
	UsedSize     int64   `json:"used_size"`
	UsedCount    int64   `json:"used_count"`
	UsagePercent float64 `json:"usage_percent"`
}

// CheckUpload проверяет, что в пространстве есть место под еще одну
// картинку. Проверки количества и размера независимы: отказ по одной
// не требует отказа по другой. Проверка мягкая — она читает уже
// зафиксированные счетчики, и параллельные загрузки в то же
// пространство могут незначительно превысить лимит; это осознанный
// компромисс вместо сериализуемых транзакций.
func (s *QuotaService) CheckUpload(space *domain.Space) error {
	if space.TotalCount >= space.MaxCount {
		return domain.ErrQuotaExceeded("space item limit reached: %d of %d", space.TotalCount, space.MaxCount)
	}
	if space.TotalSize >= space.MaxSize {
		return domain.ErrQuotaExceeded("space size limit reached: %d of %d bytes", space.TotalSize, space.MaxSize)
	}
	return nil
}

// Info возвращает использование квоты по свежему чтению
func (s *QuotaService) Info(ctx context.Context, spaceID uuid.UUID) (*QuotaInfo, error) {
	space, err := s.spaceRepo.GetByID(ctx, spaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get space: %w", err)
	}

	usage := 0.0
	if space.MaxSize > 0 {
		usage = float64(space.TotalSize) / float64(space.MaxSize) * 100
	}

	return &QuotaInfo{
		MaxSize:      space.MaxSize,
		MaxCount:     space.MaxCount,
		UsedSize:     space.TotalSize,
		UsedCount:    space.TotalCount,
		UsagePercent: usage,
	}, nil
}
