package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"pixvault/internal/domain"
)

// QuotaLedger применяет дельты к счетчикам пространства. Обновление
// всегда арифметическое (total_size = total_size + delta), а не
// read-modify-write: параллельные транзакции по одному пространству
// не теряют обновления друг друга.
type QuotaLedger struct{}

func NewQuotaLedger() *QuotaLedger {
	return &QuotaLedger{}
}

// Apply применяет дельту внутри переданной транзакции. Счетчики не
// опускаются ниже нуля. Ошибка (в том числе отсутствие пространства)
// фатальна для всей транзакции: вызывающий обязан откатить её целиком.
func (l *QuotaLedger) Apply(ctx context.Context, tx *sqlx.Tx, delta domain.QuotaDelta) error {
	query := `
        UPDATE spaces
        SET total_size = GREATEST(0, total_size + $1),
            total_count = GREATEST(0, total_count + $2),
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $3`

	result, err := tx.ExecContext(ctx, query, delta.SizeDelta, delta.CountDelta, delta.SpaceID)
	if err != nil {
		return fmt.Errorf("failed to apply quota delta: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return domain.ErrNotFound("space %s not found", delta.SpaceID)
	}

	return nil
}
