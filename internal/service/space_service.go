package service

import (
	"context"
	"log"
	"unicode/utf8"

	"github.com/google/uuid"

	"pixvault/internal/domain"
	"pixvault/internal/keylock"
)

const (
	defaultSpaceName = "My space"
	maxSpaceNameLen  = 30
)

// SpaceService управляет жизненным циклом пространств
type SpaceService struct {
	spaceRepo SpaceRepo
	locks     *keylock.KeyLock
}

func NewSpaceService(spaceRepo SpaceRepo, locks *keylock.KeyLock) *SpaceService {
	return &SpaceService{
		spaceRepo: spaceRepo,
		locks:     locks,
	}
}

type CreateSpaceInput struct {
	Name  string             `json:"name"`
	Level *domain.SpaceLevel `json:"level,omitempty"`
}

// Create создает пространство владельца. Проверка «у владельца еще нет
// пространства» и вставка идут под блокировкой по владельцу: два
// конкурентных запроса одного пользователя не создадут два
// пространства, проигравший получает Conflict. Изоляции БД для этого
// недостаточно — проверка и вставка выполняются разными запросами.
func (s *SpaceService) Create(ctx context.Context, identity domain.Identity, input CreateSpaceInput) (*domain.Space, error) {
	if identity.UserID == "" {
		return nil, domain.ErrForbidden("authentication required")
	}

	space := &domain.Space{
		ID:      uuid.New(),
		OwnerID: identity.UserID,
		Name:    input.Name,
		Level:   domain.SpaceLevelCommon,
	}
	if space.Name == "" {
		space.Name = defaultSpaceName
	}
	if input.Level != nil {
		space.Level = *input.Level
	}

	if err := validateSpace(space); err != nil {
		return nil, err
	}

	// Платные уровни доступны только администратору
	if space.Level != domain.SpaceLevelCommon && !identity.IsAdmin() {
		return nil, domain.ErrForbidden("cannot create a space of level %d", space.Level)
	}

	space.FillLimitsByLevel()

	err := s.locks.WithLock(identity.UserID, func() error {
		return s.spaceRepo.CreateUnique(ctx, space)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[SpaceService] created space %s (level %d) for owner %s", space.ID, space.Level, space.OwnerID)
	return space, nil
}

type UpdateSpaceInput struct {
	Name     string             `json:"name,omitempty"`
	Level    *domain.SpaceLevel `json:"level,omitempty"`
	MaxSize  int64              `json:"max_size,omitempty"`
	MaxCount int64              `json:"max_count,omitempty"`
}

// Update изменяет тариф и лимиты пространства, доступен только
// администратору. Явно заданные лимиты имеют приоритет над тарифными.
func (s *SpaceService) Update(ctx context.Context, identity domain.Identity, id uuid.UUID, input UpdateSpaceInput) (*domain.Space, error) {
	if !identity.IsAdmin() {
		return nil, domain.ErrForbidden("only administrators can update spaces")
	}

	space, err := s.spaceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Name != "" {
		space.Name = input.Name
	}
	if input.Level != nil {
		space.Level = *input.Level
		// Тариф сменился — лимиты перечитываются из таблицы тарифов
		space.MaxSize = 0
		space.MaxCount = 0
		space.FillLimitsByLevel()
	}
	if input.MaxSize > 0 {
		space.MaxSize = input.MaxSize
	}
	if input.MaxCount > 0 {
		space.MaxCount = input.MaxCount
	}

	if err := validateSpace(space); err != nil {
		return nil, err
	}

	if err := s.spaceRepo.Update(ctx, space); err != nil {
		return nil, err
	}
	return space, nil
}

// Edit переименовывает пространство, доступно владельцу
func (s *SpaceService) Edit(ctx context.Context, identity domain.Identity, id uuid.UUID, name string) (*domain.Space, error) {
	space, err := s.spaceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if space.OwnerID != identity.UserID && !identity.IsAdmin() {
		return nil, domain.ErrForbidden("no access to space %s", id)
	}

	space.Name = name
	if err := validateSpace(space); err != nil {
		return nil, err
	}

	if err := s.spaceRepo.Update(ctx, space); err != nil {
		return nil, err
	}
	return space, nil
}

// Delete удаляет пространство. Удалить можно только пустое
// пространство: сначала вычистите картинки.
func (s *SpaceService) Delete(ctx context.Context, identity domain.Identity, id uuid.UUID) error {
	space, err := s.spaceRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if space.OwnerID != identity.UserID && !identity.IsAdmin() {
		return domain.ErrForbidden("no access to space %s", id)
	}

	return s.spaceRepo.DeleteEmpty(ctx, id)
}

// GetByID возвращает пространство владельцу или администратору
func (s *SpaceService) GetByID(ctx context.Context, identity domain.Identity, id uuid.UUID) (*domain.Space, error) {
	space, err := s.spaceRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if space.OwnerID != identity.UserID && !identity.IsAdmin() {
		return nil, domain.ErrForbidden("no access to space %s", id)
	}
	return space, nil
}

// GetOwn возвращает пространство самого вызывающего
func (s *SpaceService) GetOwn(ctx context.Context, identity domain.Identity) (*domain.Space, error) {
	if identity.UserID == "" {
		return nil, domain.ErrForbidden("authentication required")
	}
	return s.spaceRepo.GetByOwner(ctx, identity.UserID)
}

// Levels возвращает таблицу тарифов
func (s *SpaceService) Levels() []domain.SpaceLevelInfo {
	return domain.SpaceLevels()
}

func validateSpace(space *domain.Space) error {
	if space.Name == "" {
		return domain.ErrParams("space name is required")
	}
	if utf8.RuneCountInString(space.Name) > maxSpaceNameLen {
		return domain.ErrParams("space name is too long: max %d characters", maxSpaceNameLen)
	}
	if _, ok := domain.LevelInfo(space.Level); !ok {
		return domain.ErrParams("unknown space level %d", space.Level)
	}
	return nil
}
