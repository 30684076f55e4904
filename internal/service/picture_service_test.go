package service

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixvault/internal/cache"
	"pixvault/internal/cleanup"
	"pixvault/internal/domain"
)

// recordingDeleter собирает ключи, удаленные очередью чистки
type recordingDeleter struct {
	mu   sync.Mutex
	keys []string
}

func (d *recordingDeleter) DeleteObject(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, key)
	return nil
}

func (d *recordingDeleter) list() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

type pictureEnv struct {
	store   *memStore
	storage *fakeStorage
	deleter *recordingDeleter
	queue   *cleanup.Queue
	service *PictureService
}

func newPictureEnv(t *testing.T) *pictureEnv {
	t.Helper()

	store := newMemStore()
	spaceRepo := &fakeSpaceRepo{store: store}
	pictureRepo := &fakePictureRepo{store: store}
	storage := &fakeStorage{}
	deleter := &recordingDeleter{}
	queue := cleanup.New(deleter, 128)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote := cache.NewRedisCacheFromClient(client)
	t.Cleanup(func() { remote.Close() })
	pageCache := cache.NewTiered("pixvault", cache.NewLocal(100, time.Minute), remote, time.Minute, 0)

	quota := NewQuotaService(spaceRepo)
	svc := NewPictureService(pictureRepo, spaceRepo, quota, storage, queue, pageCache)

	return &pictureEnv{
		store:   store,
		storage: storage,
		deleter: deleter,
		queue:   queue,
		service: svc,
	}
}

func testSpace(owner string) *domain.Space {
	sp := &domain.Space{
		ID:      uuid.New(),
		OwnerID: owner,
		Name:    "My space",
		Level:   domain.SpaceLevelCommon,
	}
	sp.FillLimitsByLevel()
	return sp
}

var (
	alice = domain.Identity{UserID: "alice", Role: domain.RoleUser}
	bob   = domain.Identity{UserID: "bob", Role: domain.RoleUser}
	admin = domain.Identity{UserID: "root", Role: domain.RoleAdmin}
)

func TestUploadToSpaceChargesQuota(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)

	pic, err := env.service.Upload(context.Background(), alice, UploadInput{
		Data:     bytes.Repeat([]byte("x"), 1000),
		Filename: "cat.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, pic.SpaceID)
	assert.Equal(t, int64(1000), pic.SizeBytes)
	// Владелец личного пространства проходит модерацию автоматически
	assert.Equal(t, domain.ReviewStatusPass, pic.ReviewStatus)

	got := env.store.space(sp.ID)
	assert.Equal(t, int64(1000), got.TotalSize)
	assert.Equal(t, int64(1), got.TotalCount)
}

func TestUploadPublicRequiresReview(t *testing.T) {
	env := newPictureEnv(t)

	pic, err := env.service.Upload(context.Background(), alice, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
	})
	require.NoError(t, err)
	assert.Nil(t, pic.SpaceID)
	assert.Equal(t, domain.ReviewStatusReviewing, pic.ReviewStatus)
	assert.Nil(t, pic.ReviewerID)

	// Администратор проходит сразу
	adminPic, err := env.service.Upload(context.Background(), admin, UploadInput{
		Data:     []byte("data"),
		Filename: "dog.png",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusPass, adminPic.ReviewStatus)
	require.NotNil(t, adminPic.ReviewerID)
	assert.Equal(t, "root", *adminPic.ReviewerID)
}

func TestUploadForeignSpaceForbidden(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)

	_, err := env.service.Upload(context.Background(), bob, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
		SpaceID:  &sp.ID,
	})
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))
	// Блоб не записан
	assert.Empty(t, env.storage.uploaded)
}

func TestUploadQuotaChecksAreIndependent(t *testing.T) {
	env := newPictureEnv(t)

	// Лимит по количеству исчерпан, по размеру запас есть
	sp := testSpace("alice")
	sp.TotalCount = sp.MaxCount
	sp.TotalSize = 10
	env.store.addSpace(sp)

	_, err := env.service.Upload(context.Background(), alice, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
		SpaceID:  &sp.ID,
	})
	assert.True(t, domain.IsCode(err, domain.CodeQuotaExceeded))

	// Лимит по размеру исчерпан, по количеству запас есть
	sp2 := testSpace("bob")
	sp2.TotalSize = sp2.MaxSize
	sp2.TotalCount = 1
	env.store.addSpace(sp2)

	_, err = env.service.Upload(context.Background(), bob, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
		SpaceID:  &sp2.ID,
	})
	assert.True(t, domain.IsCode(err, domain.CodeQuotaExceeded))
}

func TestUploadSizeLimit(t *testing.T) {
	env := newPictureEnv(t)

	_, err := env.service.Upload(context.Background(), alice, UploadInput{
		Data:     bytes.Repeat([]byte("x"), maxPictureSize+1),
		Filename: "huge.png",
	})
	assert.True(t, domain.IsCode(err, domain.CodeParamsError))
}

// Счетчики пространства всегда равны сумме размеров его картинок,
// даже при конкурентных загрузках и удалениях
func TestQuotaCountersMatchContents(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)

	const workers = 20
	var wg sync.WaitGroup
	ids := make(chan uuid.UUID, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			pic, err := env.service.Upload(context.Background(), alice, UploadInput{
				Data:     bytes.Repeat([]byte("x"), 100),
				Filename: "pic.png",
				SpaceID:  &sp.ID,
			})
			if err == nil {
				ids <- pic.ID
			}
		}(i)
	}
	wg.Wait()
	close(ids)

	var uploaded []uuid.UUID
	for id := range ids {
		uploaded = append(uploaded, id)
	}

	// Удаляем половину
	for i, id := range uploaded {
		if i%2 == 0 {
			require.NoError(t, env.service.Delete(context.Background(), alice, id))
		}
	}

	var wantSize, wantCount int64
	for _, id := range uploaded {
		if pic, ok := env.store.picture(id); ok {
			wantSize += pic.SizeBytes
			wantCount++
		}
	}

	got := env.store.space(sp.ID)
	assert.Equal(t, wantSize, got.TotalSize)
	assert.Equal(t, wantCount, got.TotalCount)
}

func TestReuploadReplacesQuotaAndCleansOldBlob(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)
	ctx := context.Background()

	old, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     bytes.Repeat([]byte("x"), 500),
		Filename: "v1.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)

	// Повторная загрузка той же картинки большего размера
	renewed, err := env.service.Upload(ctx, alice, UploadInput{
		Data:      bytes.Repeat([]byte("x"), 600),
		Filename:  "v2.png",
		SpaceID:   &sp.ID,
		PictureID: &old.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, old.ID, renewed.ID)

	got := env.store.space(sp.ID)
	assert.Equal(t, int64(600), got.TotalSize)
	assert.Equal(t, int64(1), got.TotalCount)

	env.queue.Close()
	assert.Contains(t, env.deleter.list(), old.ObjectKey)
	assert.Contains(t, env.deleter.list(), old.ThumbnailKey)
}

func TestReuploadToDifferentSpaceConflicts(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)
	ctx := context.Background()

	old, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "v1.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)

	other := uuid.New()
	_, err = env.service.Upload(ctx, alice, UploadInput{
		Data:      []byte("data"),
		Filename:  "v2.png",
		SpaceID:   &other,
		PictureID: &old.ID,
	})
	assert.True(t, domain.IsCode(err, domain.CodeConflict))
}

func TestFailedReuploadKeepsOldState(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)
	ctx := context.Background()

	old, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     bytes.Repeat([]byte("x"), 500),
		Filename: "v1.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)

	// Транзакция записи падает: старая запись, квота и блоб целы,
	// новый блоб уходит в очередь чистки как сирота
	env.store.failUpsert = domain.ErrSystem("db is down")
	_, err = env.service.Upload(ctx, alice, UploadInput{
		Data:      bytes.Repeat([]byte("x"), 600),
		Filename:  "v2.png",
		SpaceID:   &sp.ID,
		PictureID: &old.ID,
	})
	require.Error(t, err)
	assert.Equal(t, domain.CodeUpstreamError, domain.CodeOf(err))

	kept, ok := env.store.picture(old.ID)
	require.True(t, ok)
	assert.Equal(t, int64(500), kept.SizeBytes)
	assert.Equal(t, old.ObjectKey, kept.ObjectKey)

	got := env.store.space(sp.ID)
	assert.Equal(t, int64(500), got.TotalSize)
	assert.Equal(t, int64(1), got.TotalCount)

	env.queue.Close()
	deleted := env.deleter.list()
	assert.NotContains(t, deleted, old.ObjectKey)
	require.Len(t, deleted, 2)
}

func TestDeleteReleasesQuota(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)
	ctx := context.Background()

	pic, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     bytes.Repeat([]byte("x"), 300),
		Filename: "cat.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)

	require.NoError(t, env.service.Delete(ctx, alice, pic.ID))

	got := env.store.space(sp.ID)
	assert.Equal(t, int64(0), got.TotalSize)
	assert.Equal(t, int64(0), got.TotalCount)

	env.queue.Close()
	assert.Contains(t, env.deleter.list(), pic.ObjectKey)
}

func TestDeleteForeignSpacePictureForbidden(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)
	ctx := context.Background()

	pic, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)

	// В пространстве даже администратор не трогает чужие картинки
	err = env.service.Delete(ctx, admin, pic.ID)
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))
}

func TestEditResetsReviewStatus(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	pic, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
	})
	require.NoError(t, err)

	require.NoError(t, env.service.Review(ctx, admin, pic.ID, ReviewInput{
		Status: domain.ReviewStatusPass,
	}))

	edited, err := env.service.Edit(ctx, alice, pic.ID, EditInput{
		Name:         "new name",
		Introduction: "an intro",
		Tags:         []string{"cats"},
	})
	require.NoError(t, err)
	// Правка публичной картинки возвращает её на модерацию
	assert.Equal(t, domain.ReviewStatusReviewing, edited.ReviewStatus)
	assert.Equal(t, "new name", edited.Name)
}

func TestReviewRules(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	pic, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
	})
	require.NoError(t, err)

	// Только администратор
	err = env.service.Review(ctx, alice, pic.ID, ReviewInput{Status: domain.ReviewStatusPass})
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))

	// Нельзя вернуть в REVIEWING решением
	err = env.service.Review(ctx, admin, pic.ID, ReviewInput{Status: domain.ReviewStatusReviewing})
	assert.True(t, domain.IsCode(err, domain.CodeParamsError))

	require.NoError(t, env.service.Review(ctx, admin, pic.ID, ReviewInput{
		Status:  domain.ReviewStatusReject,
		Message: "blurry",
	}))

	// Повторное то же решение отклоняется
	err = env.service.Review(ctx, admin, pic.ID, ReviewInput{Status: domain.ReviewStatusReject})
	assert.True(t, domain.IsCode(err, domain.CodeConflict))

	// Смена решения допустима
	require.NoError(t, env.service.Review(ctx, admin, pic.ID, ReviewInput{
		Status: domain.ReviewStatusPass,
	}))
}

func TestGetByIDVisibility(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	pub, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "cat.png",
	})
	require.NoError(t, err)

	// Непрошедшая модерацию публичная картинка прячется от чужих как
	// отсутствующая
	_, err = env.service.GetByID(ctx, bob, pub.ID)
	assert.True(t, domain.IsCode(err, domain.CodeNotFound))

	// Владелец видит всегда
	_, err = env.service.GetByID(ctx, alice, pub.ID)
	assert.NoError(t, err)

	require.NoError(t, env.service.Review(ctx, admin, pub.ID, ReviewInput{
		Status: domain.ReviewStatusPass,
	}))
	_, err = env.service.GetByID(ctx, bob, pub.ID)
	assert.NoError(t, err)

	// Картинка в пространстве чужим недоступна вовсе
	sp := testSpace("alice")
	env.store.addSpace(sp)
	private, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "dog.png",
		SpaceID:  &sp.ID,
	})
	require.NoError(t, err)

	_, err = env.service.GetByID(ctx, bob, private.ID)
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))
}

func TestListPagePublicShowsOnlyPassed(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	reviewing, err := env.service.Upload(ctx, alice, UploadInput{
		Data:     []byte("data"),
		Filename: "pending.png",
	})
	require.NoError(t, err)

	passed, err := env.service.Upload(ctx, admin, UploadInput{
		Data:     []byte("data"),
		Filename: "approved.png",
	})
	require.NoError(t, err)

	page, err := env.service.ListPage(ctx, bob, domain.PictureQuery{})
	require.NoError(t, err)
	require.Equal(t, int64(1), page.Total)
	assert.Equal(t, passed.ID, page.Items[0].ID)
	_ = reviewing
}

func TestListPageForeignSpaceForbidden(t *testing.T) {
	env := newPictureEnv(t)
	sp := testSpace("alice")
	env.store.addSpace(sp)

	_, err := env.service.ListPage(context.Background(), bob, domain.PictureQuery{SpaceID: &sp.ID})
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))
}

func TestListPageSizeLimit(t *testing.T) {
	env := newPictureEnv(t)

	_, err := env.service.ListPage(context.Background(), alice, domain.PictureQuery{PageSize: 50})
	assert.True(t, domain.IsCode(err, domain.CodeParamsError))
}

func TestListPageCachedSkipsRepoOnHit(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	_, err := env.service.Upload(ctx, admin, UploadInput{
		Data:     []byte("data"),
		Filename: "approved.png",
	})
	require.NoError(t, err)

	first, err := env.service.ListPageCached(ctx, bob, domain.PictureQuery{})
	require.NoError(t, err)
	callsAfterFirst := env.store.queryCalls

	second, err := env.service.ListPageCached(ctx, bob, domain.PictureQuery{})
	require.NoError(t, err)

	assert.Equal(t, callsAfterFirst, env.store.queryCalls)
	assert.Equal(t, first.Total, second.Total)
	assert.Equal(t, len(first.Items), len(second.Items))
}

func TestRefreshCacheAdminOnly(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	err := env.service.RefreshCache(ctx, alice)
	assert.True(t, domain.IsCode(err, domain.CodeForbidden))

	require.NoError(t, env.service.RefreshCache(ctx, admin))
}

func TestRefreshCacheForcesReread(t *testing.T) {
	env := newPictureEnv(t)
	ctx := context.Background()

	_, err := env.service.ListPageCached(ctx, bob, domain.PictureQuery{})
	require.NoError(t, err)
	calls := env.store.queryCalls

	require.NoError(t, env.service.RefreshCache(ctx, admin))

	_, err = env.service.ListPageCached(ctx, bob, domain.PictureQuery{})
	require.NoError(t, err)
	assert.Equal(t, calls+1, env.store.queryCalls)
}
