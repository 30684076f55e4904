package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pixvault/internal/domain"
)

// Поля, по которым разрешена сортировка. Имя поля приходит от клиента
// и подставляется в ORDER BY, поэтому белый список обязателен.
var pictureSortFields = map[string]string{
	"created_at": "created_at",
	"updated_at": "updated_at",
	"name":       "name",
	"size_bytes": "size_bytes",
}

type PictureRepository struct {
	db     *sqlx.DB
	ledger *QuotaLedger
}

func NewPictureRepository(db *sqlx.DB, ledger *QuotaLedger) *PictureRepository {
	return &PictureRepository{db: db, ledger: ledger}
}

func (r *PictureRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Picture, error) {
	var pic domain.Picture
	err := r.db.GetContext(ctx, &pic, `SELECT * FROM pictures WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("picture %s not found", id)
		}
		return nil, fmt.Errorf("failed to get picture: %w", err)
	}
	return &pic, nil
}

// UpsertWithQuota записывает картинку и применяет квотовые дельты в одной
// транзакции: никакой читатель не увидит строку картинки без
// соответствующего изменения счетчиков. Любая ошибка откатывает всё.
func (r *PictureRepository) UpsertWithQuota(ctx context.Context, pic *domain.Picture, deltas []domain.QuotaDelta) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO pictures (
            id, owner_id, space_id, name, introduction, url, thumbnail_url,
            object_key, thumbnail_key, size_bytes, width, height, format, tags,
            review_status, review_message, reviewer_id, reviewed_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
        ON CONFLICT (id) DO UPDATE SET
            space_id = EXCLUDED.space_id,
            name = EXCLUDED.name,
            introduction = EXCLUDED.introduction,
            url = EXCLUDED.url,
            thumbnail_url = EXCLUDED.thumbnail_url,
            object_key = EXCLUDED.object_key,
            thumbnail_key = EXCLUDED.thumbnail_key,
            size_bytes = EXCLUDED.size_bytes,
            width = EXCLUDED.width,
            height = EXCLUDED.height,
            format = EXCLUDED.format,
            tags = EXCLUDED.tags,
            review_status = EXCLUDED.review_status,
            review_message = EXCLUDED.review_message,
            reviewer_id = EXCLUDED.reviewer_id,
            reviewed_at = EXCLUDED.reviewed_at,
            updated_at = CURRENT_TIMESTAMP
        RETURNING created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		pic.ID,
		pic.OwnerID,
		pic.SpaceID,
		pic.Name,
		pic.Introduction,
		pic.URL,
		pic.ThumbnailURL,
		pic.ObjectKey,
		pic.ThumbnailKey,
		pic.SizeBytes,
		pic.Width,
		pic.Height,
		pic.Format,
		pic.Tags,
		pic.ReviewStatus,
		pic.ReviewMessage,
		pic.ReviewerID,
		pic.ReviewedAt,
	).Scan(&pic.CreatedAt, &pic.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert picture: %w", err)
	}

	for _, delta := range deltas {
		if err := r.ledger.Apply(ctx, tx, delta); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DeleteWithQuota удаляет картинку и освобождает квоту одной транзакцией
func (r *PictureRepository) DeleteWithQuota(ctx context.Context, id uuid.UUID, delta *domain.QuotaDelta) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM pictures WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete picture: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound("picture %s not found", id)
	}

	if delta != nil {
		if err := r.ledger.Apply(ctx, tx, *delta); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Update изменяет метаданные картинки без изменения квоты
func (r *PictureRepository) Update(ctx context.Context, pic *domain.Picture) error {
	query := `
        UPDATE pictures
        SET name = $1,
            introduction = $2,
            tags = $3,
            review_status = $4,
            review_message = $5,
            reviewer_id = $6,
            reviewed_at = $7,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $8
        RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		pic.Name,
		pic.Introduction,
		pic.Tags,
		pic.ReviewStatus,
		pic.ReviewMessage,
		pic.ReviewerID,
		pic.ReviewedAt,
		pic.ID,
	).Scan(&pic.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("picture %s not found", pic.ID)
		}
		return fmt.Errorf("failed to update picture: %w", err)
	}
	return nil
}

// Query возвращает страницу картинок и общее число записей под фильтром
func (r *PictureRepository) Query(ctx context.Context, q domain.PictureQuery) (*domain.PicturePage, error) {
	where, args := buildPictureFilter(q)

	countQuery := "SELECT COUNT(*) FROM pictures" + where
	var total int64
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to count pictures: %w", err)
	}

	orderBy := "created_at"
	if col, ok := pictureSortFields[q.SortField]; ok {
		orderBy = col
	}
	direction := "DESC"
	if q.SortAsc {
		direction = "ASC"
	}

	offset := (q.Page - 1) * q.PageSize
	listQuery := fmt.Sprintf(
		"SELECT * FROM pictures%s ORDER BY %s %s LIMIT %d OFFSET %d",
		where, orderBy, direction, q.PageSize, offset)

	items := []domain.Picture{}
	if err := r.db.SelectContext(ctx, &items, listQuery, args...); err != nil {
		return nil, fmt.Errorf("failed to list pictures: %w", err)
	}

	return &domain.PicturePage{
		Items:    items,
		Total:    total,
		Page:     q.Page,
		PageSize: q.PageSize,
	}, nil
}

func buildPictureFilter(q domain.PictureQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.OwnerID != "" {
		conds = append(conds, "owner_id = "+arg(q.OwnerID))
	}
	if q.SpaceID != nil {
		conds = append(conds, "space_id = "+arg(*q.SpaceID))
	} else if q.NullSpaceID {
		conds = append(conds, "space_id IS NULL")
	}
	if q.HasStatus {
		conds = append(conds, "review_status = "+arg(q.ReviewStatus))
	}
	if q.Format != "" {
		conds = append(conds, "format = "+arg(q.Format))
	}
	if q.SearchText != "" {
		p := arg("%" + q.SearchText + "%")
		conds = append(conds, "(name ILIKE "+p+" OR introduction ILIKE "+p+")")
	}
	// Теги хранятся JSON-массивом в text-колонке, ищем вхождение
	// сериализованного значения
	for _, tag := range q.Tags {
		conds = append(conds, "tags LIKE "+arg(`%"`+tag+`"%`))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
