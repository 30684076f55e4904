package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReviewStatus описывает состояние модерации картинки
type ReviewStatus int

const (
	ReviewStatusReviewing ReviewStatus = 0
	ReviewStatusPass      ReviewStatus = 1
	ReviewStatusReject    ReviewStatus = 2
)

func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusReviewing, ReviewStatusPass, ReviewStatusReject:
		return true
	}
	return false
}

func (s ReviewStatus) String() string {
	switch s {
	case ReviewStatusReviewing:
		return "reviewing"
	case ReviewStatusPass:
		return "pass"
	case ReviewStatusReject:
		return "reject"
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// TagList хранится в БД одной text-колонкой в виде JSON-массива,
// чтобы сохранить порядок тегов.
type TagList []string

func (t TagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(data), nil
}

func (t *TagList) Scan(src interface{}) error {
	if src == nil {
		*t = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported tags type %T", src)
	}
	if len(data) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(data, t)
}

// Picture представляет загруженную картинку. SpaceID == nil означает
// публичную библиотеку.
type Picture struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	OwnerID       string       `json:"owner_id" db:"owner_id"`
	SpaceID       *uuid.UUID   `json:"space_id,omitempty" db:"space_id"`
	Name          string       `json:"name" db:"name"`
	Introduction  string       `json:"introduction" db:"introduction"`
	URL           string       `json:"url" db:"url"`
	ThumbnailURL  string       `json:"thumbnail_url" db:"thumbnail_url"`
	ObjectKey     string       `json:"-" db:"object_key"`
	ThumbnailKey  string       `json:"-" db:"thumbnail_key"`
	SizeBytes     int64        `json:"size_bytes" db:"size_bytes"`
	Width         int          `json:"width" db:"width"`
	Height        int          `json:"height" db:"height"`
	Format        string       `json:"format" db:"format"`
	Tags          TagList      `json:"tags" db:"tags"`
	ReviewStatus  ReviewStatus `json:"review_status" db:"review_status"`
	ReviewMessage string       `json:"review_message" db:"review_message"`
	ReviewerID    *string      `json:"reviewer_id,omitempty" db:"reviewer_id"`
	ReviewedAt    *time.Time   `json:"reviewed_at,omitempty" db:"reviewed_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at" db:"updated_at"`
}

// PictureQuery описывает параметры постраничного запроса картинок.
// Структура сериализуется при построении ключа кеша, поэтому набор
// и порядок полей менять нельзя без инвалидации старых ключей.
type PictureQuery struct {
	Page         int          `json:"page"`
	PageSize     int          `json:"page_size"`
	OwnerID      string       `json:"owner_id,omitempty"`
	SpaceID      *uuid.UUID   `json:"space_id,omitempty"`
	NullSpaceID  bool         `json:"null_space_id,omitempty"`
	ReviewStatus ReviewStatus `json:"review_status"`
	HasStatus    bool         `json:"has_status,omitempty"`
	Format       string       `json:"format,omitempty"`
	SearchText   string       `json:"search_text,omitempty"`
	Tags         []string     `json:"tags,omitempty"`
	SortField    string       `json:"sort_field,omitempty"`
	SortAsc      bool         `json:"sort_asc,omitempty"`
}

// PicturePage — страница результата вместе с общим числом записей
type PicturePage struct {
	Items    []Picture `json:"items"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}
