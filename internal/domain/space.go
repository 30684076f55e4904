package domain

import (
	"time"

	"github.com/google/uuid"
)

// SpaceLevel определяет тариф пространства и его лимиты по умолчанию
type SpaceLevel int

const (
	SpaceLevelCommon       SpaceLevel = 0
	SpaceLevelProfessional SpaceLevel = 1
	SpaceLevelFlagship     SpaceLevel = 2
)

// SpaceLevelInfo описывает лимиты одного тарифа
type SpaceLevelInfo struct {
	Value    SpaceLevel `json:"value"`
	Text     string     `json:"text"`
	MaxCount int64      `json:"max_count"`
	MaxSize  int64      `json:"max_size"`
}

var spaceLevels = []SpaceLevelInfo{
	{Value: SpaceLevelCommon, Text: "common", MaxCount: 100, MaxSize: 100 * 1024 * 1024},
	{Value: SpaceLevelProfessional, Text: "professional", MaxCount: 1000, MaxSize: 1024 * 1024 * 1024},
	{Value: SpaceLevelFlagship, Text: "flagship", MaxCount: 10000, MaxSize: 10 * 1024 * 1024 * 1024},
}

// SpaceLevels возвращает таблицу тарифов
func SpaceLevels() []SpaceLevelInfo {
	out := make([]SpaceLevelInfo, len(spaceLevels))
	copy(out, spaceLevels)
	return out
}

// LevelInfo возвращает лимиты тарифа, ok == false для неизвестного уровня
func LevelInfo(level SpaceLevel) (SpaceLevelInfo, bool) {
	for _, l := range spaceLevels {
		if l.Value == level {
			return l, true
		}
	}
	return SpaceLevelInfo{}, false
}

// Space — квотируемое пространство пользователя. У одного владельца
// может существовать не более одного пространства.
type Space struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OwnerID    string     `json:"owner_id" db:"owner_id"`
	Name       string     `json:"name" db:"name"`
	Level      SpaceLevel `json:"level" db:"level"`
	MaxSize    int64      `json:"max_size" db:"max_size"`
	MaxCount   int64      `json:"max_count" db:"max_count"`
	TotalSize  int64      `json:"total_size" db:"total_size"`
	TotalCount int64      `json:"total_count" db:"total_count"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// FillLimitsByLevel заполняет незаданные лимиты значениями тарифа
func (s *Space) FillLimitsByLevel() {
	info, ok := LevelInfo(s.Level)
	if !ok {
		return
	}
	if s.MaxSize == 0 {
		s.MaxSize = info.MaxSize
	}
	if s.MaxCount == 0 {
		s.MaxCount = info.MaxCount
	}
}

// QuotaDelta — одно атомарное изменение счетчиков пространства.
// Никогда не сохраняется, живет только внутри транзакции.
type QuotaDelta struct {
	SpaceID    uuid.UUID
	SizeDelta  int64
	CountDelta int64
}
