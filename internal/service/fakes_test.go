package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"pixvault/internal/domain"
	"pixvault/internal/service/s3"
)

// In-memory двойники репозиториев. Делят один мьютекс и одну карту
// пространств, чтобы квотовые дельты вели себя как в общей БД.

type memStore struct {
	mu       sync.Mutex
	spaces   map[uuid.UUID]*domain.Space
	pictures map[uuid.UUID]*domain.Picture

	// Счетчики обращений и инъекция сбоев
	queryCalls int
	failUpsert error
}

func newMemStore() *memStore {
	return &memStore{
		spaces:   make(map[uuid.UUID]*domain.Space),
		pictures: make(map[uuid.UUID]*domain.Picture),
	}
}

func (m *memStore) addSpace(space *domain.Space) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *space
	m.spaces[space.ID] = &cp
}

func (m *memStore) space(id uuid.UUID) domain.Space {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.spaces[id]
}

func (m *memStore) picture(id uuid.UUID) (domain.Picture, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pictures[id]
	if !ok {
		return domain.Picture{}, false
	}
	return *p, true
}

// applyDelta повторяет семантику квотовой проводки: GREATEST(0, ...)
func (m *memStore) applyDelta(d domain.QuotaDelta) error {
	sp, ok := m.spaces[d.SpaceID]
	if !ok {
		return domain.ErrNotFound("space %s not found", d.SpaceID)
	}
	sp.TotalSize += d.SizeDelta
	if sp.TotalSize < 0 {
		sp.TotalSize = 0
	}
	sp.TotalCount += d.CountDelta
	if sp.TotalCount < 0 {
		sp.TotalCount = 0
	}
	return nil
}

type fakeSpaceRepo struct{ store *memStore }

func (r *fakeSpaceRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Space, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	sp, ok := r.store.spaces[id]
	if !ok {
		return nil, domain.ErrNotFound("space %s not found", id)
	}
	cp := *sp
	return &cp, nil
}

func (r *fakeSpaceRepo) GetByOwner(_ context.Context, ownerID string) (*domain.Space, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, sp := range r.store.spaces {
		if sp.OwnerID == ownerID {
			cp := *sp
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound("space of owner %s not found", ownerID)
}

func (r *fakeSpaceRepo) CreateUnique(_ context.Context, space *domain.Space) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	for _, sp := range r.store.spaces {
		if sp.OwnerID == space.OwnerID {
			return domain.ErrConflict("owner %s already has a space", space.OwnerID)
		}
	}
	cp := *space
	r.store.spaces[space.ID] = &cp
	return nil
}

func (r *fakeSpaceRepo) Update(_ context.Context, space *domain.Space) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.spaces[space.ID]
	if !ok {
		return domain.ErrNotFound("space %s not found", space.ID)
	}
	space.TotalSize = stored.TotalSize
	space.TotalCount = stored.TotalCount
	cp := *space
	r.store.spaces[space.ID] = &cp
	return nil
}

func (r *fakeSpaceRepo) DeleteEmpty(_ context.Context, id uuid.UUID) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	sp, ok := r.store.spaces[id]
	if !ok {
		return domain.ErrNotFound("space %s not found", id)
	}
	if sp.TotalCount != 0 {
		return domain.ErrConflict("space %s is not empty", id)
	}
	delete(r.store.spaces, id)
	return nil
}

type fakePictureRepo struct{ store *memStore }

func (r *fakePictureRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Picture, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	pic, ok := r.store.pictures[id]
	if !ok {
		return nil, domain.ErrNotFound("picture %s not found", id)
	}
	cp := *pic
	return &cp, nil
}

func (r *fakePictureRepo) UpsertWithQuota(_ context.Context, pic *domain.Picture, deltas []domain.QuotaDelta) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.failUpsert != nil {
		return r.store.failUpsert
	}
	// Транзакция целиком: либо запись и все дельты, либо ничего
	for _, d := range deltas {
		if _, ok := r.store.spaces[d.SpaceID]; !ok {
			return domain.ErrNotFound("space %s not found", d.SpaceID)
		}
	}
	for _, d := range deltas {
		if err := r.store.applyDelta(d); err != nil {
			return err
		}
	}
	cp := *pic
	r.store.pictures[pic.ID] = &cp
	return nil
}

func (r *fakePictureRepo) DeleteWithQuota(_ context.Context, id uuid.UUID, delta *domain.QuotaDelta) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.pictures[id]; !ok {
		return domain.ErrNotFound("picture %s not found", id)
	}
	if delta != nil {
		if err := r.store.applyDelta(*delta); err != nil {
			return err
		}
	}
	delete(r.store.pictures, id)
	return nil
}

func (r *fakePictureRepo) Update(_ context.Context, pic *domain.Picture) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.pictures[pic.ID]; !ok {
		return domain.ErrNotFound("picture %s not found", pic.ID)
	}
	cp := *pic
	r.store.pictures[pic.ID] = &cp
	return nil
}

func (r *fakePictureRepo) Query(_ context.Context, q domain.PictureQuery) (*domain.PicturePage, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.queryCalls++

	var matched []domain.Picture
	for _, pic := range r.store.pictures {
		if q.NullSpaceID && pic.SpaceID != nil {
			continue
		}
		if q.SpaceID != nil && (pic.SpaceID == nil || *pic.SpaceID != *q.SpaceID) {
			continue
		}
		if q.OwnerID != "" && pic.OwnerID != q.OwnerID {
			continue
		}
		if q.HasStatus && pic.ReviewStatus != q.ReviewStatus {
			continue
		}
		if q.Format != "" && pic.Format != q.Format {
			continue
		}
		if q.SearchText != "" && !strings.Contains(pic.Name, q.SearchText) {
			continue
		}
		matched = append(matched, *pic)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := int64(len(matched))
	start := (q.Page - 1) * q.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + q.PageSize
	if end > len(matched) {
		end = len(matched)
	}

	return &domain.PicturePage{
		Items:    matched[start:end],
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

// fakeStorage имитирует блобное хранилище: размер берется из данных,
// ключи предсказуемые
type fakeStorage struct {
	mu       sync.Mutex
	seq      int
	uploaded []string
	failNext error
}

func (f *fakeStorage) UploadPicture(_ context.Context, prefix, filename string, data []byte) (*s3.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	f.seq++
	key := fmt.Sprintf("%s/%d_%s", prefix, f.seq, filename)
	f.uploaded = append(f.uploaded, key)
	return &s3.UploadResult{
		Key:          key,
		ThumbnailKey: key + "_thumb.jpg",
		URL:          "https://cdn.test/" + key,
		ThumbnailURL: "https://cdn.test/" + key + "_thumb.jpg",
		SizeBytes:    int64(len(data)),
		Width:        800,
		Height:       600,
		Format:       "png",
	}, nil
}

func (f *fakeStorage) UploadBytes(context.Context, string, []byte) error { return nil }

func (f *fakeStorage) GetObject(context.Context, string) (s3.S3Object, error) {
	return nil, domain.ErrNotFound("object not found")
}

func (f *fakeStorage) DeleteObject(context.Context, string) error { return nil }
