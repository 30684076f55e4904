package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"pixvault/internal/domain"
)

type SpaceRepository struct {
	db *sqlx.DB
}

func NewSpaceRepository(db *sqlx.DB) *SpaceRepository {
	return &SpaceRepository{db: db}
}

func (r *SpaceRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Space, error) {
	var space domain.Space
	err := r.db.GetContext(ctx, &space, `SELECT * FROM spaces WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("space %s not found", id)
		}
		return nil, fmt.Errorf("failed to get space: %w", err)
	}
	return &space, nil
}

func (r *SpaceRepository) GetByOwner(ctx context.Context, ownerID string) (*domain.Space, error) {
	var space domain.Space
	err := r.db.GetContext(ctx, &space, `SELECT * FROM spaces WHERE owner_id = $1`, ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound("space for owner %s not found", ownerID)
		}
		return nil, fmt.Errorf("failed to get space by owner: %w", err)
	}
	return &space, nil
}

// CreateUnique создает пространство, гарантируя не более одного
// пространства на владельца. Проверка существования и вставка идут
// двумя запросами, поэтому вызывающий обязан держать блокировку
// по владельцу на время всей операции.
func (r *SpaceRepository) CreateUnique(ctx context.Context, space *domain.Space) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM spaces WHERE owner_id = $1)`, space.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to check space existence: %w", err)
	}
	if exists {
		return domain.ErrConflict("owner %s already has a space", space.OwnerID)
	}

	query := `
        INSERT INTO spaces (id, owner_id, name, level, max_size, max_count, total_size, total_count)
        VALUES ($1, $2, $3, $4, $5, $6, 0, 0)
        RETURNING created_at, updated_at`

	err = tx.QueryRowContext(ctx, query,
		space.ID,
		space.OwnerID,
		space.Name,
		space.Level,
		space.MaxSize,
		space.MaxCount,
	).Scan(&space.CreatedAt, &space.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert space: %w", err)
	}

	return tx.Commit()
}

func (r *SpaceRepository) Update(ctx context.Context, space *domain.Space) error {
	query := `
        UPDATE spaces
        SET name = $1,
            level = $2,
            max_size = $3,
            max_count = $4,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $5
        RETURNING updated_at`

	err := r.db.QueryRowContext(ctx, query,
		space.Name,
		space.Level,
		space.MaxSize,
		space.MaxCount,
		space.ID,
	).Scan(&space.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotFound("space %s not found", space.ID)
		}
		return fmt.Errorf("failed to update space: %w", err)
	}
	return nil
}

// DeleteEmpty удаляет пространство только если в нем нет картинок.
// Условие total_count = 0 входит в сам запрос, чтобы параллельная
// загрузка не успела проскочить между проверкой и удалением.
func (r *SpaceRepository) DeleteEmpty(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM spaces WHERE id = $1 AND total_count = 0`, id)
	if err != nil {
		return fmt.Errorf("failed to delete space: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return domain.ErrConflict("space %s is not empty or does not exist", id)
	}
	return nil
}
