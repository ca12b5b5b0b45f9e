package pg_test

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/equilibra/platform/pkg/pg"
)

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	dup := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "coupon_redemptions_payment_key"})
	deadlock := &pgconn.PgError{Code: "40P01"}

	assert.True(t, pg.IsDuplicateKeyError(dup))
	assert.False(t, pg.IsDuplicateKeyError(deadlock))
	assert.Equal(t, "coupon_redemptions_payment_key", pg.ConstraintName(dup))
	assert.Empty(t, pg.ConstraintName(errors.New("plain")))

	assert.True(t, pg.IsSerializationError(deadlock))
	assert.True(t, pg.IsNotFoundError(sql.ErrNoRows))
	assert.True(t, pg.IsNotFoundError(fmt.Errorf("x: %w", pgx.ErrNoRows)))
	assert.False(t, pg.IsNotFoundError(nil))
}
