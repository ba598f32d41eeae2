package availability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
)

func TestPgGetProvider(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tenant, id := uuid.New(), uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, tenant_id, kind").WithArgs(id, tenant).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tenant_id", "kind", "name", "allow_bookings", "created_at", "updated_at"}).
			AddRow(id, tenant, KindMember, "Ana", false, now, now))

	p, err := repo.GetProvider(context.Background(), tenant, id)
	require.NoError(t, err)
	assert.Equal(t, KindMember, p.Kind)
	assert.False(t, p.AllowBookings)

	mock.ExpectQuery("SELECT id, tenant_id, kind").WithArgs(id, tenant).WillReturnError(pgx.ErrNoRows)
	_, err = repo.GetProvider(context.Background(), tenant, id)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgGetBlocks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tenant, provider := uuid.New(), uuid.New()
	day := 1

	mock.ExpectQuery("FROM availability_blocks").WithArgs(tenant, provider, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "provider_id", "day_of_week", "start_minute", "end_minute", "is_active"}).
			AddRow(uuid.New(), provider, 1, 540, 720, true).
			AddRow(uuid.New(), provider, 1, 780, 900, false))

	blocks, err := repo.GetBlocks(context.Background(), tenant, provider, &day)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, 540, blocks[0].StartMinute)
	assert.False(t, blocks[1].IsActive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReplaceBlocksCommitsAsOneTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tenant, provider := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM providers").WithArgs(provider, tenant).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(provider))
	mock.ExpectExec("DELETE FROM availability_blocks").WithArgs(provider, tenant).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO availability_blocks").
		WithArgs(pgxmock.AnyArg(), tenant, provider, 1, 540, 720, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO availability_blocks").
		WithArgs(pgxmock.AnyArg(), tenant, provider, 2, 540, 720, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err = repo.ReplaceBlocks(context.Background(), tenant, provider, []Block{block(1, 540, 720), block(2, 540, 720)})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReplaceBlocksRejectsBeforeWriting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)

	err = repo.ReplaceBlocks(context.Background(), uuid.New(), uuid.New(), []Block{block(1, 540, 720), block(1, 660, 840)})
	assert.ErrorIs(t, err, apperr.ErrOverlappingAvailability)
	require.NoError(t, mock.ExpectationsWereMet(), "no statements may run for an invalid set")
}

func TestPgReplaceBlocksExclusionViolationRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tenant, provider := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM providers").WithArgs(provider, tenant).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(provider))
	mock.ExpectExec("DELETE FROM availability_blocks").WithArgs(provider, tenant).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec("INSERT INTO availability_blocks").
		WithArgs(pgxmock.AnyArg(), tenant, provider, 1, 540, 720, true).
		WillReturnError(&pgconn.PgError{Code: "23P01"})
	mock.ExpectRollback()

	err = repo.ReplaceBlocks(context.Background(), tenant, provider, []Block{block(1, 540, 720)})
	assert.ErrorIs(t, err, apperr.ErrOverlappingAvailability)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPgReplaceBlocksUnknownProvider(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPgRepository(mock)
	tenant, provider := uuid.New(), uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM providers").WithArgs(provider, tenant).WillReturnError(pgx.ErrNoRows)
	mock.ExpectRollback()

	err = repo.ReplaceBlocks(context.Background(), tenant, provider, nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
