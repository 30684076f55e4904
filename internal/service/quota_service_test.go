package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixvault/internal/domain"
)

func TestCheckUploadSoftLimits(t *testing.T) {
	svc := NewQuotaService(&fakeSpaceRepo{store: newMemStore()})

	sp := testSpace("alice")
	sp.MaxCount = 3
	sp.MaxSize = 1000

	// Под лимитом — проходит, даже если следующая картинка выйдет
	// за предел: проверка мягкая
	sp.TotalCount = 2
	sp.TotalSize = 999
	assert.NoError(t, svc.CheckUpload(sp))

	sp.TotalCount = 3
	sp.TotalSize = 0
	assert.True(t, domain.IsCode(svc.CheckUpload(sp), domain.CodeQuotaExceeded))

	sp.TotalCount = 0
	sp.TotalSize = 1000
	assert.True(t, domain.IsCode(svc.CheckUpload(sp), domain.CodeQuotaExceeded))
}

func TestQuotaInfo(t *testing.T) {
	store := newMemStore()
	svc := NewQuotaService(&fakeSpaceRepo{store: store})

	sp := testSpace("alice")
	sp.MaxSize = 1000
	sp.TotalSize = 250
	sp.TotalCount = 5
	store.addSpace(sp)

	info, err := svc.Info(context.Background(), sp.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(250), info.UsedSize)
	assert.Equal(t, int64(5), info.UsedCount)
	assert.InDelta(t, 25.0, info.UsagePercent, 0.001)
}
