// Package ledger keeps an append-only, hash-chained record of evidentiary
// events. Each entry's previous hash is the reference id of the entry before
// it, so rewriting any entry breaks every link after it.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"threatlens/internal/apperrors"
	"threatlens/internal/models"
)

// Sentinel is the previous hash of the first entry.
const Sentinel = "0000000000000000000000000000000000000000000000000000000000000000"

// DefaultTimeout bounds every storage call made by the ledger.
const DefaultTimeout = 5 * time.Second

// Receipt is what Append hands back and what alerts keep as their reference.
type Receipt = models.LedgerReference

// Entry is one immutable block of the ledger.
type Entry struct {
	ReferenceID  string          `json:"referenceId"`
	Timestamp    time.Time       `json:"timestamp"`
	BlockNumber  int64           `json:"blockNumber"`
	PreviousHash string          `json:"previousHash"`
	Payload      json.RawMessage `json:"payload"`
	Verified     bool            `json:"verified"`
}

func (e *Entry) Receipt() Receipt {
	return Receipt{ReferenceID: e.ReferenceID, Timestamp: e.Timestamp, BlockNumber: e.BlockNumber}
}

// EntryStore persists entries. Implementations must reject a second entry
// with an already used block number or reference id with an integrity error.
type EntryStore interface {
	// Tail returns the entry with the highest block number, or nil when empty.
	Tail(ctx context.Context) (*Entry, error)
	Insert(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, referenceID string) (*Entry, error)
	// List returns every entry ordered by block number.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// VerifyReport summarises a chain walk.
type VerifyReport struct {
	Valid     bool      `json:"valid"`
	Algorithm Algorithm `json:"algorithm"`
	Height    int64     `json:"height"`
	Head      string    `json:"head"`
	Problems  []string  `json:"problems,omitempty"`
}

// Ledger serialises appends through a mutex-guarded tail pointer. Build one
// per process and share it.
type Ledger struct {
	store     EntryStore
	algorithm Algorithm
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	loaded    bool
	tailRef   string
	tailBlock int64
	tailTime  time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithAlgorithm(alg Algorithm) Option {
	return func(l *Ledger) { l.algorithm = alg }
}

func WithTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.timeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) { l.logger = logger.Named("ledger") }
}

func New(store EntryStore, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		algorithm: SHA256,
		timeout:   DefaultTimeout,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Algorithm() Algorithm {
	return l.algorithm
}

// Append records payload as the next block and returns its receipt.
func (l *Ledger) Append(ctx context.Context, payload interface{}) (Receipt, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return Receipt{}, apperrors.Wrap(apperrors.KindSerialization, err, "payload cannot be serialized deterministically")
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.loadTail(ctx); err != nil {
		return Receipt{}, err
	}

	// Timestamps strictly increase so identical payloads still get distinct ids.
	ts := l.now().UTC().Truncate(time.Microsecond)
	if !ts.After(l.tailTime) {
		ts = l.tailTime.Add(time.Microsecond)
	}

	ref, err := ComputeReference(l.algorithm, canonical, ts)
	if err != nil {
		return Receipt{}, apperrors.Wrap(apperrors.KindInternal, err, "compute reference")
	}

	entry := &Entry{
		ReferenceID:  ref,
		Timestamp:    ts,
		BlockNumber:  l.tailBlock + 1,
		PreviousHash: l.tailRef,
		Payload:      canonical,
		Verified:     true,
	}
	if err := l.store.Insert(ctx, entry); err != nil {
		// The store may have moved on without us; re-read the tail next time.
		l.loaded = false
		l.logger.Error("Failed to append ledger entry",
			zap.Int64("block_number", entry.BlockNumber),
			zap.Error(err))
		return Receipt{}, storeError(err, "append block %d", entry.BlockNumber)
	}

	l.tailRef = entry.ReferenceID
	l.tailBlock = entry.BlockNumber
	l.tailTime = entry.Timestamp

	l.logger.Debug("Appended ledger entry",
		zap.String("reference_id", entry.ReferenceID),
		zap.Int64("block_number", entry.BlockNumber))

	return entry.Receipt(), nil
}

func (l *Ledger) loadTail(ctx context.Context) error {
	if l.loaded {
		return nil
	}
	tail, err := l.store.Tail(ctx)
	if err != nil {
		return storeError(err, "read ledger tail")
	}
	if tail == nil {
		l.tailRef, l.tailBlock, l.tailTime = Sentinel, 0, time.Time{}
	} else {
		l.tailRef, l.tailBlock, l.tailTime = tail.ReferenceID, tail.BlockNumber, tail.Timestamp
	}
	l.loaded = true
	return nil
}

// Get returns the entry identified by referenceID.
func (l *Ledger) Get(ctx context.Context, referenceID string) (*Entry, error) {
	if referenceID == "" {
		return nil, apperrors.NotFound("ledger entry not found")
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	entry, err := l.store.Get(ctx, referenceID)
	if err != nil {
		return nil, storeError(err, "get ledger entry %s", referenceID)
	}
	return entry, nil
}

// List returns a fresh, chronologically ordered snapshot of all entries.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	entries, err := l.store.List(ctx)
	if err != nil {
		return nil, storeError(err, "list ledger entries")
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Height is the number of entries in the ledger.
func (l *Ledger) Height(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	tail, err := l.store.Tail(ctx)
	if err != nil {
		return 0, storeError(err, "read ledger tail")
	}
	if tail == nil {
		return 0, nil
	}
	return tail.BlockNumber, nil
}

// Verify walks the whole chain. It checks block numbering, previous hash
// linkage and recomputes every reference id. Any mismatch yields an
// integrity error alongside the report describing it.
func (l *Ledger) Verify(ctx context.Context) (*VerifyReport, error) {
	entries, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{Algorithm: l.algorithm, Height: int64(len(entries)), Head: Sentinel}
	prev := Sentinel
	var firstBad int64
	for i := range entries {
		e := &entries[i]
		var problems []string

		if want := int64(i + 1); e.BlockNumber != want {
			problems = append(problems, fmt.Sprintf("block %d: expected block number %d", e.BlockNumber, want))
		}
		if e.PreviousHash != prev {
			problems = append(problems, fmt.Sprintf("block %d: previous hash does not match predecessor", e.BlockNumber))
		}
		if ok, err := l.digestMatches(e); err != nil {
			problems = append(problems, fmt.Sprintf("block %d: %v", e.BlockNumber, err))
		} else if !ok {
			problems = append(problems, fmt.Sprintf("block %d: reference id does not match contents", e.BlockNumber))
		}

		if len(problems) > 0 && firstBad == 0 {
			firstBad = int64(i + 1)
		}
		report.Problems = append(report.Problems, problems...)
		prev = e.ReferenceID
	}
	report.Head = prev
	report.Valid = len(report.Problems) == 0

	if !report.Valid {
		l.logger.Error("Ledger integrity violation",
			zap.Int64("first_bad_block", firstBad),
			zap.Strings("problems", report.Problems))
		return report, apperrors.New(apperrors.KindIntegrity, "ledger chain broken at block %d", firstBad)
	}
	return report, nil
}

func (l *Ledger) digestMatches(e *Entry) (bool, error) {
	canonical, err := Canonicalize(e.Payload)
	if err != nil {
		return false, errors.Wrap(err, "payload unreadable")
	}
	ref, err := ComputeReference(l.algorithm, canonical, e.Timestamp)
	if err != nil {
		return false, err
	}
	return ref == e.ReferenceID, nil
}

// Close releases the backing store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// storeError keeps classified store errors and files the rest as
// persistence failures.
func storeError(err error, format string, args ...interface{}) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.Wrap(apperrors.KindPersistence, err, format, args...)
}
