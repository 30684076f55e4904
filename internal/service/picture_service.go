package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"pixvault/internal/cache"
	"pixvault/internal/cleanup"
	"pixvault/internal/domain"
	"pixvault/internal/service/s3"
)

const (
	maxPictureSize     = 20 * 1024 * 1024 // 20MB на одну картинку
	maxPageSize        = 20               // ограничение от выгребания базы постранично
	maxNameLen         = 128
	maxIntroductionLen = 512

	// Имя операции входит в ключ кеша списочных запросов
	cacheOpListPage = "listPicturesPage"
)

// PictureService координирует загрузку картинок: запись блоба,
// запись в БД с квотовой дельтой одной транзакцией и отложенную
// чистку замещенных объектов.
type PictureService struct {
	pictureRepo PictureRepo
	spaceRepo   SpaceRepo
	quota       *QuotaService
	storage     s3.Storage
	cleanup     *cleanup.Queue
	pageCache   *cache.Tiered
}

func NewPictureService(
	pictureRepo PictureRepo,
	spaceRepo SpaceRepo,
	quota *QuotaService,
	storage s3.Storage,
	cleanupQueue *cleanup.Queue,
	pageCache *cache.Tiered,
) *PictureService {
	return &PictureService{
		pictureRepo: pictureRepo,
		spaceRepo:   spaceRepo,
		quota:       quota,
		storage:     storage,
		cleanup:     cleanupQueue,
		pageCache:   pageCache,
	}
}

// UploadInput — параметры загрузки. PictureID задается при повторной
// загрузке существующей картинки, SpaceID — при загрузке в личное
// пространство (nil — публичная библиотека).
type UploadInput struct {
	Data      []byte
	Filename  string
	Name      string
	SpaceID   *uuid.UUID
	PictureID *uuid.UUID
}

// Upload загружает картинку. Порядок шагов жесткий: проверки, запись
// блоба, затем одна транзакция {картинка + квотовые дельты}; старый
// блоб удаляется только после фиксации транзакции, потому что у
// объектного хранилища нет отката. Падение транзакции оставляет новый
// блоб сиротой — он ставится в очередь на удаление.
func (s *PictureService) Upload(ctx context.Context, identity domain.Identity, input UploadInput) (*domain.Picture, error) {
	if identity.UserID == "" {
		return nil, domain.ErrForbidden("authentication required")
	}
	if len(input.Data) == 0 {
		return nil, domain.ErrParams("picture data is required")
	}
	if int64(len(input.Data)) > maxPictureSize {
		return nil, domain.ErrParams("picture is too large: max %d bytes", maxPictureSize)
	}

	// Шаг 1: пространство должно существовать, принадлежать
	// вызывающему и иметь свободную квоту (мягкая проверка)
	spaceID := input.SpaceID
	var space *domain.Space
	if spaceID != nil {
		var err error
		space, err = s.spaceRepo.GetByID(ctx, *spaceID)
		if err != nil {
			return nil, err
		}
		if space.OwnerID != identity.UserID {
			return nil, domain.ErrForbidden("no access to space %s", space.ID)
		}
		if err := s.quota.CheckUpload(space); err != nil {
			return nil, err
		}
	}

	// Шаг 2: при повторной загрузке проверяем старую картинку
	var oldPicture *domain.Picture
	if input.PictureID != nil {
		var err error
		oldPicture, err = s.pictureRepo.GetByID(ctx, *input.PictureID)
		if err != nil {
			return nil, err
		}
		if oldPicture.OwnerID != identity.UserID && !identity.IsAdmin() {
			return nil, domain.ErrForbidden("no access to picture %s", oldPicture.ID)
		}
		// Пространство не задано — картинка остается в старом.
		// Перенос между пространствами этим путем не поддержан.
		if spaceID == nil {
			spaceID = oldPicture.SpaceID
		} else if oldPicture.SpaceID == nil || *oldPicture.SpaceID != *spaceID {
			return nil, domain.ErrConflict("space id differs from the original picture")
		}
	}

	// Шаг 3: пишем блоб. До этого момента ничего не сохранено,
	// поэтому ошибка здесь не оставляет следов.
	prefix := fmt.Sprintf("public/%s", identity.UserID)
	if spaceID != nil {
		prefix = fmt.Sprintf("space/%s", spaceID)
	}
	uploaded, err := s.storage.UploadPicture(ctx, prefix, input.Filename, input.Data)
	if err != nil {
		return nil, domain.ErrUpstream("failed to store picture: %v", err)
	}

	pic := &domain.Picture{
		ID:           uuid.New(),
		OwnerID:      identity.UserID,
		SpaceID:      spaceID,
		Name:         input.Name,
		URL:          uploaded.URL,
		ThumbnailURL: uploaded.ThumbnailURL,
		ObjectKey:    uploaded.Key,
		ThumbnailKey: uploaded.ThumbnailKey,
		SizeBytes:    uploaded.SizeBytes,
		Width:        uploaded.Width,
		Height:       uploaded.Height,
		Format:       uploaded.Format,
	}
	if oldPicture != nil {
		pic.ID = oldPicture.ID
		pic.OwnerID = oldPicture.OwnerID
		pic.Introduction = oldPicture.Introduction
		pic.Tags = oldPicture.Tags
	}
	if pic.Name == "" {
		pic.Name = input.Filename
	}
	s.fillReviewParams(pic, identity)

	// Шаг 4: одна транзакция — запись картинки и квотовые дельты.
	// При повторной загрузке сначала снимается старый размер, затем
	// добавляется новый; читатель никогда не увидит картинку без
	// соответствующего состояния счетчиков.
	var deltas []domain.QuotaDelta
	if oldPicture != nil && oldPicture.SpaceID != nil {
		deltas = append(deltas, domain.QuotaDelta{
			SpaceID:    *oldPicture.SpaceID,
			SizeDelta:  -oldPicture.SizeBytes,
			CountDelta: -1,
		})
	}
	if spaceID != nil {
		deltas = append(deltas, domain.QuotaDelta{
			SpaceID:    *spaceID,
			SizeDelta:  uploaded.SizeBytes,
			CountDelta: 1,
		})
	}

	if err := s.pictureRepo.UpsertWithQuota(ctx, pic, deltas); err != nil {
		// Транзакция откатилась, новый блоб осиротел
		s.cleanup.Enqueue(uploaded.Key, uploaded.ThumbnailKey)
		if domain.CodeOf(err) != domain.CodeSystemError {
			return nil, err
		}
		return nil, domain.ErrUpstream("failed to save picture: %v", err)
	}

	// Шаг 5: старый объект удаляется только после фиксации
	if oldPicture != nil {
		s.cleanup.Enqueue(oldPicture.ObjectKey, oldPicture.ThumbnailKey)
	}

	log.Printf("[PictureService] uploaded picture %s (%d bytes) by %s", pic.ID, pic.SizeBytes, identity.UserID)
	return pic, nil
}

// Delete удаляет картинку, освобождая квоту той же транзакцией.
// Блоб удаляется после фиксации, отложенно.
func (s *PictureService) Delete(ctx context.Context, identity domain.Identity, id uuid.UUID) error {
	pic, err := s.pictureRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.checkPictureAuth(identity, pic); err != nil {
		return err
	}

	var delta *domain.QuotaDelta
	if pic.SpaceID != nil {
		delta = &domain.QuotaDelta{
			SpaceID:    *pic.SpaceID,
			SizeDelta:  -pic.SizeBytes,
			CountDelta: -1,
		}
	}

	if err := s.pictureRepo.DeleteWithQuota(ctx, id, delta); err != nil {
		return err
	}

	s.cleanup.Enqueue(pic.ObjectKey, pic.ThumbnailKey)
	return nil
}

// EditInput — пользовательская правка метаданных картинки
type EditInput struct {
	Name         string   `json:"name"`
	Introduction string   `json:"introduction"`
	Tags         []string `json:"tags"`
}

// Edit правит метаданные. Правка не прошедшей автоодобрение картинки
// возвращает ее на модерацию.
func (s *PictureService) Edit(ctx context.Context, identity domain.Identity, id uuid.UUID, input EditInput) (*domain.Picture, error) {
	if input.Name == "" {
		return nil, domain.ErrParams("picture name is required")
	}
	if utf8.RuneCountInString(input.Name) > maxNameLen {
		return nil, domain.ErrParams("picture name is too long: max %d characters", maxNameLen)
	}
	if utf8.RuneCountInString(input.Introduction) > maxIntroductionLen {
		return nil, domain.ErrParams("introduction is too long: max %d characters", maxIntroductionLen)
	}

	pic, err := s.pictureRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkPictureAuth(identity, pic); err != nil {
		return nil, err
	}

	pic.Name = input.Name
	pic.Introduction = input.Introduction
	pic.Tags = domain.TagList(input.Tags)
	s.fillReviewParams(pic, identity)

	if err := s.pictureRepo.Update(ctx, pic); err != nil {
		return nil, err
	}
	return pic, nil
}

// ReviewInput — решение модератора
type ReviewInput struct {
	Status  domain.ReviewStatus `json:"status"`
	Message string              `json:"message"`
}

// Review выносит решение по картинке. Повторное вынесение того же
// решения отклоняется как no-op.
func (s *PictureService) Review(ctx context.Context, identity domain.Identity, id uuid.UUID, input ReviewInput) error {
	if !identity.IsAdmin() {
		return domain.ErrForbidden("only administrators can review pictures")
	}
	if input.Status != domain.ReviewStatusPass && input.Status != domain.ReviewStatusReject {
		return domain.ErrParams("review status must be pass or reject")
	}

	pic, err := s.pictureRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if pic.ReviewStatus == input.Status {
		return domain.ErrConflict("picture %s already has review status %s", id, input.Status)
	}

	now := time.Now()
	pic.ReviewStatus = input.Status
	pic.ReviewMessage = input.Message
	pic.ReviewerID = &identity.UserID
	pic.ReviewedAt = &now

	return s.pictureRepo.Update(ctx, pic)
}

// GetByID возвращает картинку с учетом видимости: картинки в
// пространстве видны только владельцу, публичные — после модерации
func (s *PictureService) GetByID(ctx context.Context, identity domain.Identity, id uuid.UUID) (*domain.Picture, error) {
	pic, err := s.pictureRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if pic.SpaceID != nil {
		if pic.OwnerID != identity.UserID && !identity.IsAdmin() {
			return nil, domain.ErrForbidden("no access to picture %s", id)
		}
		return pic, nil
	}

	if pic.ReviewStatus != domain.ReviewStatusPass &&
		pic.OwnerID != identity.UserID && !identity.IsAdmin() {
		return nil, domain.ErrNotFound("picture %s not found", id)
	}
	return pic, nil
}

// ListPage возвращает страницу картинок напрямую из БД
func (s *PictureService) ListPage(ctx context.Context, identity domain.Identity, query domain.PictureQuery) (*domain.PicturePage, error) {
	if err := s.prepareQuery(ctx, identity, &query); err != nil {
		return nil, err
	}
	return s.pictureRepo.Query(ctx, query)
}

// ListPageCached возвращает страницу через двухуровневый кеш.
// Результат может отставать от БД не больше, чем на TTL кеша.
func (s *PictureService) ListPageCached(ctx context.Context, identity domain.Identity, query domain.PictureQuery) (*domain.PicturePage, error) {
	if err := s.prepareQuery(ctx, identity, &query); err != nil {
		return nil, err
	}

	key, err := s.pageCache.Key(cacheOpListPage, query)
	if err != nil {
		return nil, domain.ErrSystem("failed to build cache key: %v", err)
	}

	if data, ok := s.pageCache.GetPage(ctx, key); ok {
		var page domain.PicturePage
		if err := json.Unmarshal(data, &page); err == nil {
			return &page, nil
		}
		// Битую запись игнорируем и перечитываем из БД
		log.Printf("[PictureService] corrupted cache entry %s: %v", key, err)
	}

	page, err := s.pictureRepo.Query(ctx, query)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(page); err == nil {
		s.pageCache.PutPage(ctx, key, data)
	}
	return page, nil
}

// RefreshCache сбрасывает кеш списков целиком, операция оператора
func (s *PictureService) RefreshCache(ctx context.Context, identity domain.Identity) error {
	if !identity.IsAdmin() {
		return domain.ErrForbidden("only administrators can refresh the cache")
	}
	return s.pageCache.EvictAll(ctx)
}

// prepareQuery валидирует пагинацию и накладывает правила видимости:
// публичная библиотека отдает только прошедшие модерацию картинки,
// пространство — только своему владельцу.
func (s *PictureService) prepareQuery(ctx context.Context, identity domain.Identity, query *domain.PictureQuery) error {
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = maxPageSize
	}
	if query.PageSize > maxPageSize {
		return domain.ErrParams("page size must not exceed %d", maxPageSize)
	}

	if query.SpaceID == nil {
		query.NullSpaceID = true
		query.ReviewStatus = domain.ReviewStatusPass
		query.HasStatus = true
		return nil
	}

	space, err := s.spaceRepo.GetByID(ctx, *query.SpaceID)
	if err != nil {
		return err
	}
	if space.OwnerID != identity.UserID && !identity.IsAdmin() {
		return domain.ErrForbidden("no access to space %s", space.ID)
	}
	return nil
}

// fillReviewParams выставляет статус модерации: администратор и
// владелец личного пространства проходят автоматически, остальные
// ждут решения модератора
func (s *PictureService) fillReviewParams(pic *domain.Picture, identity domain.Identity) {
	now := time.Now()
	switch {
	case identity.IsAdmin():
		pic.ReviewStatus = domain.ReviewStatusPass
		pic.ReviewMessage = "auto approved: administrator"
		pic.ReviewerID = &identity.UserID
		pic.ReviewedAt = &now
	case pic.SpaceID != nil:
		// В личное пространство грузит только его владелец
		pic.ReviewStatus = domain.ReviewStatusPass
		pic.ReviewMessage = "auto approved: private space"
		pic.ReviewerID = &identity.UserID
		pic.ReviewedAt = &now
	default:
		pic.ReviewStatus = domain.ReviewStatusReviewing
		pic.ReviewMessage = ""
		pic.ReviewerID = nil
		pic.ReviewedAt = nil
	}
}

// checkPictureAuth проверяет право на изменение картинки: в публичной
// библиотеке — владелец или администратор, в пространстве — владелец
func (s *PictureService) checkPictureAuth(identity domain.Identity, pic *domain.Picture) error {
	if pic.SpaceID == nil {
		if pic.OwnerID != identity.UserID && !identity.IsAdmin() {
			return domain.ErrForbidden("no access to picture %s", pic.ID)
		}
		return nil
	}
	if pic.OwnerID != identity.UserID {
		return domain.ErrForbidden("no access to picture %s", pic.ID)
	}
	return nil
}
