package ledger

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"threatlens/internal/apperrors"
)

// entryRow is the table layout of a ledger entry. The payload is kept as
// text, not jsonb, because jsonb rewrites key order and spacing and the
// stored bytes must hash back to the reference id.
type entryRow struct {
	ReferenceID  string    `gorm:"column:reference_id;primaryKey;size:128"`
	BlockNumber  int64     `gorm:"column:block_number;uniqueIndex;not null"`
	Timestamp    time.Time `gorm:"column:timestamp;not null"`
	PreviousHash string    `gorm:"column:previous_hash;size:128;not null"`
	Payload      string    `gorm:"column:payload;type:text;not null"`
	Verified     bool      `gorm:"column:verified;not null;default:true"`
}

func (entryRow) TableName() string {
	return "ledger_entries"
}

func (r *entryRow) toEntry() *Entry {
	return &Entry{
		ReferenceID:  r.ReferenceID,
		Timestamp:    r.Timestamp.UTC(),
		BlockNumber:  r.BlockNumber,
		PreviousHash: r.PreviousHash,
		Payload:      []byte(r.Payload),
		Verified:     r.Verified,
	}
}

// PostgresStore keeps entries in the ledger_entries table.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger table.
func (s *PostgresStore) Migrate() error {
	return s.db.AutoMigrate(&entryRow{})
}

func (s *PostgresStore) Tail(ctx context.Context) (*Entry, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Order("block_number DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query ledger tail")
	}
	return row.toEntry(), nil
}

func (s *PostgresStore) Insert(ctx context.Context, entry *Entry) error {
	row := entryRow{
		ReferenceID:  entry.ReferenceID,
		BlockNumber:  entry.BlockNumber,
		Timestamp:    entry.Timestamp,
		PreviousHash: entry.PreviousHash,
		Payload:      string(entry.Payload),
		Verified:     entry.Verified,
	}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperrors.Wrap(apperrors.KindIntegrity, err, "block %d already recorded", entry.BlockNumber)
	}
	return errors.Wrap(err, "insert ledger entry")
}

func (s *PostgresStore) Get(ctx context.Context, referenceID string) (*Entry, error) {
	var row entryRow
	err := s.db.WithContext(ctx).Where("reference_id = ?", referenceID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("ledger entry %s not found", referenceID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query ledger entry")
	}
	return row.toEntry(), nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Entry, error) {
	var rows []entryRow
	if err := s.db.WithContext(ctx).Order("block_number ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list ledger entries")
	}
	entries := make([]Entry, 0, len(rows))
	for i := range rows {
		entries = append(entries, *rows[i].toEntry())
	}
	return entries, nil
}

// Close is a no-op; the connection pool belongs to the caller.
func (s *PostgresStore) Close() error {
	return nil
}
