package records

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"threatlens/internal/apperrors"
	"threatlens/internal/models"
)

// MemoryAlertStore keeps alerts in a sync.Map keyed by id. Writes to
// different alerts never contend.
type MemoryAlertStore struct {
	alerts sync.Map // id -> *models.Alert
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{}
}

func (s *MemoryAlertStore) Create(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	stored, err := prepareAlert(alert)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "create alert")
	}
	if _, loaded := s.alerts.LoadOrStore(stored.ID, stored); loaded {
		return nil, apperrors.New(apperrors.KindIntegrity, "alert %s already exists", stored.ID)
	}
	return cloneAlert(stored), nil
}

func (s *MemoryAlertStore) Find(ctx context.Context, filter AlertFilter, q Query) (*Page[models.Alert], error) {
	if err := q.validate(alertSortColumns); err != nil {
		return nil, err
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}

	var matched []*models.Alert
	s.alerts.Range(func(_, value interface{}) bool {
		a := value.(*models.Alert)
		if filter.matches(a) {
			matched = append(matched, a)
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "find alerts")
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return lessAlert(matched[i], matched[j], q)
	})

	bounds := paginate(len(matched), q)
	data := make([]models.Alert, 0, bounds.end-bounds.start)
	for _, a := range matched[bounds.start:bounds.end] {
		data = append(data, *cloneAlert(a))
	}
	return newPage(data, q, int64(len(matched))), nil
}

func (s *MemoryAlertStore) GetByID(ctx context.Context, id string) (*models.Alert, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "get alert")
	}
	value, ok := s.alerts.Load(id)
	if !ok {
		return nil, apperrors.NotFound("alert %s not found", id)
	}
	return cloneAlert(value.(*models.Alert)), nil
}

func (s *MemoryAlertStore) AttachReference(ctx context.Context, id string, ref models.LedgerReference) (*models.Alert, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(apperrors.KindPersistence, err, "attach reference")
		}
		current, ok := s.alerts.Load(id)
		if !ok {
			return nil, apperrors.NotFound("alert %s not found", id)
		}
		updated := cloneAlert(current.(*models.Alert))
		updated.BlockchainReference = &ref
		updated.UpdatedAt = now()
		if !updated.UpdatedAt.After(updated.CreatedAt) {
			updated.UpdatedAt = updated.CreatedAt.Add(time.Microsecond)
		}
		if s.alerts.CompareAndSwap(id, current, updated) {
			return cloneAlert(updated), nil
		}
	}
}

// MemoryReportStore keeps reports in a sync.Map keyed by id.
type MemoryReportStore struct {
	reports sync.Map // id -> *models.Report
}

func NewMemoryReportStore() *MemoryReportStore {
	return &MemoryReportStore{}
}

func (s *MemoryReportStore) Create(ctx context.Context, report *models.Report) (*models.Report, error) {
	stored, err := prepareReport(report)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "create report")
	}
	s.reports.Store(stored.ID, stored)
	out := *stored
	return &out, nil
}

func (s *MemoryReportStore) Find(ctx context.Context, filter ReportFilter, q Query) (*Page[models.Report], error) {
	if err := q.validate(reportSortColumns); err != nil {
		return nil, err
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}

	var matched []*models.Report
	s.reports.Range(func(_, value interface{}) bool {
		r := value.(*models.Report)
		if filter.matches(r) {
			matched = append(matched, r)
		}
		return ctx.Err() == nil
	})
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "find reports")
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return lessReport(matched[i], matched[j], q)
	})

	bounds := paginate(len(matched), q)
	data := make([]models.Report, 0, bounds.end-bounds.start)
	for _, r := range matched[bounds.start:bounds.end] {
		data = append(data, *r)
	}
	return newPage(data, q, int64(len(matched))), nil
}

func (s *MemoryReportStore) GetByID(ctx context.Context, id string) (*models.Report, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindPersistence, err, "get report")
	}
	value, ok := s.reports.Load(id)
	if !ok {
		return nil, apperrors.NotFound("report %s not found", id)
	}
	out := *value.(*models.Report)
	return &out, nil
}

type pageWindow struct{ start, end int }

func paginate(total int, q Query) pageWindow {
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.Limit
	if end > total {
		end = total
	}
	return pageWindow{start: start, end: end}
}

// Ties fall back to id so listings are stable across calls.
func lessAlert(a, b *models.Alert, q Query) bool {
	var c int
	switch q.SortBy {
	case "updatedAt":
		c = compareInt(a.UpdatedAt.UnixNano(), b.UpdatedAt.UnixNano())
	case "username":
		c = strings.Compare(a.Username, b.Username)
	case "platform":
		c = strings.Compare(string(a.Platform), string(b.Platform))
	case "alertLevel":
		c = compareInt(int64(a.AlertLevel.Rank()), int64(b.AlertLevel.Rank()))
	default:
		c = compareInt(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if q.SortOrder == SortDesc {
		return c > 0
	}
	return c < 0
}

func lessReport(a, b *models.Report, q Query) bool {
	var c int
	switch q.SortBy {
	case "username":
		c = strings.Compare(a.Username, b.Username)
	case "platform":
		c = strings.Compare(string(a.Platform), string(b.Platform))
	case "status":
		c = strings.Compare(string(a.Status), string(b.Status))
	default:
		c = compareInt(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	}
	if c == 0 {
		c = strings.Compare(a.ID, b.ID)
	}
	if q.SortOrder == SortDesc {
		return c > 0
	}
	return c < 0
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
