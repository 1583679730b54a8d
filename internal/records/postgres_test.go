package records

import (
	"context"
	"errors"
	"math"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"threatlens/internal/apperrors"
	"threatlens/internal/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func exactSQL(sql string) string {
	return "^" + regexp.QuoteMeta(sql) + "$"
}

func alertRows() *sqlmock.Rows {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return sqlmock.NewRows([]string{"id", "username", "platform", "alert_level", "scores", "created_at", "updated_at"}).
		AddRow(models.NewID(), "carol", "twitter", "high", `{"botLikelihood":80}`, created, created)
}

func TestPostgresAlertFindPaging(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())
	ctx := context.Background()

	mock.ExpectQuery(exactSQL(`SELECT count(*) FROM "alerts" WHERE platform = $1`)).
		WithArgs("twitter").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(25))
	mock.ExpectQuery(exactSQL(`SELECT * FROM "alerts" WHERE platform = $1 ORDER BY created_at ASC,id LIMIT $2 OFFSET $3`)).
		WithArgs("twitter", 10, 20).
		WillReturnRows(alertRows())

	q := Query{Page: 3, Limit: 10, SortBy: "createdAt", SortOrder: SortAsc}
	page, err := store.Find(ctx, AlertFilter{Platform: models.PlatformTwitter}, q)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "carol", page.Data[0].Username)
	assert.Equal(t, 80.0, page.Data[0].Scores["botLikelihood"])
	assert.Equal(t, int64(25), page.Pagination.TotalCount)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasNextPage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertFindSeverityOrder(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())

	mock.ExpectQuery(exactSQL(`SELECT count(*) FROM "alerts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(exactSQL(`SELECT * FROM "alerts" ORDER BY CASE alert_level WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 ELSE 0 END DESC,id LIMIT $1`)).
		WithArgs(10).
		WillReturnRows(alertRows())

	q := DefaultQuery()
	q.SortBy = "alertLevel"
	page, err := store.Find(context.Background(), AlertFilter{}, q)
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertFindPastTheEnd(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())

	// Only the count runs; no page query is issued past the last record.
	mock.ExpectQuery(exactSQL(`SELECT count(*) FROM "alerts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	q := Query{Page: math.MaxInt / 10, Limit: MaxLimit, SortBy: "createdAt", SortOrder: SortDesc}
	page, err := store.Find(context.Background(), AlertFilter{}, q)
	require.NoError(t, err)
	assert.NotNil(t, page.Data)
	assert.Empty(t, page.Data)
	assert.Equal(t, int64(3), page.Pagination.TotalCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertFindCountFailure(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())

	mock.ExpectQuery(exactSQL(`SELECT count(*) FROM "alerts"`)).
		WillReturnError(errors.New("connection reset"))

	_, err := store.Find(context.Background(), AlertFilter{}, DefaultQuery())
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertGetByID(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())
	ctx := context.Background()
	id := models.NewID()

	mock.ExpectQuery(exactSQL(`SELECT * FROM "alerts" WHERE id = $1 LIMIT $2`)).
		WithArgs(id, 1).
		WillReturnRows(alertRows())
	got, err := store.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelHigh, got.AlertLevel)

	mock.ExpectQuery(exactSQL(`SELECT * FROM "alerts" WHERE id = $1 LIMIT $2`)).
		WithArgs(id, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = store.GetByID(ctx, id)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	_, err = store.GetByID(ctx, "not-a-uuid")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertAttachReference(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())
	ctx := context.Background()
	id := models.NewID()
	ref := models.LedgerReference{ReferenceID: "abc", Timestamp: time.Now().UTC(), BlockNumber: 7}
	update := exactSQL(`UPDATE "alerts" SET "blockchain_reference"=$1,"updated_at"=$2 WHERE id = $3`)

	mock.ExpectExec(update).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(exactSQL(`SELECT * FROM "alerts" WHERE id = $1 LIMIT $2`)).
		WithArgs(id, 1).
		WillReturnRows(alertRows())
	_, err := store.AttachReference(ctx, id, ref)
	require.NoError(t, err)

	mock.ExpectExec(update).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), id).
		WillReturnResult(sqlmock.NewResult(0, 0))
	_, err = store.AttachReference(ctx, id, ref)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAlertCreateFailure(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresAlertStore(db, zap.NewNop())

	mock.ExpectExec(`^INSERT INTO "alerts"`).WillReturnError(errors.New("connection refused"))

	_, err := store.Create(context.Background(), newAlert("someone", models.PlatformTwitter, models.AlertLevelLow))
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReportFind(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresReportStore(db, zap.NewNop())

	mock.ExpectQuery(exactSQL(`SELECT count(*) FROM "reports" WHERE status = $1`)).
		WithArgs("pending").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(exactSQL(`SELECT * FROM "reports" WHERE status = $1 ORDER BY username DESC,id LIMIT $2 OFFSET $3`)).
		WithArgs("pending", 5, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "platform", "reason", "status"}).
			AddRow(models.NewID(), "phisher", "linkedin", "Sends fake recruiter messages", "pending"))

	q := Query{Page: 3, Limit: 5, SortBy: "username", SortOrder: SortDesc}
	page, err := store.Find(context.Background(), ReportFilter{Status: models.ReportStatusPending}, q)
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, models.ReportStatusPending, page.Data[0].Status)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.NoError(t, mock.ExpectationsWereMet())
}
