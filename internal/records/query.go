package records

import (
	"math"
	"strconv"
	"strings"
	"time"

	"threatlens/internal/apperrors"
	"threatlens/internal/models"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// SortOrder is the direction of a listing.
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// Sort keys accepted by each record type, mapped to their column. Alert
// levels sort by severity, not alphabetically.
var (
	alertSortColumns = map[string]string{
		"createdAt":  "created_at",
		"updatedAt":  "updated_at",
		"username":   "username",
		"platform":   "platform",
		"alertLevel": "CASE alert_level WHEN 'low' THEN 1 WHEN 'medium' THEN 2 WHEN 'high' THEN 3 ELSE 0 END",
	}
	reportSortColumns = map[string]string{
		"createdAt": "created_at",
		"username":  "username",
		"platform":  "platform",
		"status":    "status",
	}
)

// Query selects one page of a sorted listing.
type Query struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder SortOrder
}

func DefaultQuery() Query {
	return Query{Page: DefaultPage, Limit: DefaultLimit, SortBy: "createdAt", SortOrder: SortDesc}
}

// Offset is the number of matching records skipped before the page. Pages
// too far out to address saturate at math.MaxInt, which is past any result.
func (q Query) Offset() int {
	if q.Limit > 0 && q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

func (q Query) validate(columns map[string]string) error {
	if q.Page < 1 {
		return apperrors.Validation("page must be at least 1")
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return apperrors.Validation("limit must be between 1 and %d", MaxLimit)
	}
	if _, ok := columns[q.SortBy]; !ok {
		return apperrors.Validation("cannot sort by %q", q.SortBy)
	}
	if q.SortOrder != SortAsc && q.SortOrder != SortDesc {
		return apperrors.Validation("sortOrder must be asc or desc")
	}
	return nil
}

// DateRange is an inclusive createdAt window. Either bound may be nil.
type DateRange struct {
	Start *time.Time
	End   *time.Time
}

func (r DateRange) contains(t time.Time) bool {
	if r.Start != nil && t.Before(*r.Start) {
		return false
	}
	if r.End != nil && t.After(*r.End) {
		return false
	}
	return true
}

func (r DateRange) validate() error {
	if r.Start != nil && r.End != nil && r.Start.After(*r.End) {
		return apperrors.Validation("startDate must not be after endDate")
	}
	return nil
}

// AlertFilter narrows an alert listing. Zero fields match everything.
type AlertFilter struct {
	Platform   models.Platform
	AlertLevel models.AlertLevel
	Created    DateRange
}

func (f AlertFilter) validate() error {
	if f.Platform != "" && !f.Platform.Valid() {
		return apperrors.Validation("unknown platform %q", f.Platform)
	}
	if f.AlertLevel != "" && !f.AlertLevel.Valid() {
		return apperrors.Validation("unknown alertLevel %q", f.AlertLevel)
	}
	return f.Created.validate()
}

func (f AlertFilter) matches(a *models.Alert) bool {
	if f.Platform != "" && a.Platform != f.Platform {
		return false
	}
	if f.AlertLevel != "" && a.AlertLevel != f.AlertLevel {
		return false
	}
	return f.Created.contains(a.CreatedAt)
}

// ReportFilter narrows a report listing. Zero fields match everything.
type ReportFilter struct {
	Platform models.Platform
	Status   models.ReportStatus
	Created  DateRange
}

func (f ReportFilter) validate() error {
	if f.Platform != "" && !f.Platform.Valid() {
		return apperrors.Validation("unknown platform %q", f.Platform)
	}
	if f.Status != "" && !f.Status.Valid() {
		return apperrors.Validation("unknown status %q", f.Status)
	}
	return f.Created.validate()
}

func (f ReportFilter) matches(r *models.Report) bool {
	if f.Platform != "" && r.Platform != f.Platform {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return f.Created.contains(r.CreatedAt)
}

// ListParams carries raw listing parameters as they arrive on a query string.
type ListParams struct {
	Page       string `form:"page"`
	Limit      string `form:"limit"`
	SortBy     string `form:"sortBy"`
	SortOrder  string `form:"sortOrder"`
	Platform   string `form:"platform"`
	AlertLevel string `form:"alertLevel"`
	Status     string `form:"status"`
	StartDate  string `form:"startDate"`
	EndDate    string `form:"endDate"`
}

// AlertQuery turns raw parameters into a validated alert filter and query.
func (p ListParams) AlertQuery() (AlertFilter, Query, error) {
	q, err := p.query(alertSortColumns)
	if err != nil {
		return AlertFilter{}, Query{}, err
	}
	created, err := p.dateRange()
	if err != nil {
		return AlertFilter{}, Query{}, err
	}
	f := AlertFilter{
		Platform:   models.Platform(strings.ToLower(strings.TrimSpace(p.Platform))),
		AlertLevel: models.AlertLevel(strings.ToLower(strings.TrimSpace(p.AlertLevel))),
		Created:    created,
	}
	if err := f.validate(); err != nil {
		return AlertFilter{}, Query{}, err
	}
	return f, q, nil
}

// ReportQuery turns raw parameters into a validated report filter and query.
func (p ListParams) ReportQuery() (ReportFilter, Query, error) {
	q, err := p.query(reportSortColumns)
	if err != nil {
		return ReportFilter{}, Query{}, err
	}
	created, err := p.dateRange()
	if err != nil {
		return ReportFilter{}, Query{}, err
	}
	f := ReportFilter{
		Platform: models.Platform(strings.ToLower(strings.TrimSpace(p.Platform))),
		Status:   models.ReportStatus(strings.ToLower(strings.TrimSpace(p.Status))),
		Created:  created,
	}
	if err := f.validate(); err != nil {
		return ReportFilter{}, Query{}, err
	}
	return f, q, nil
}

func (p ListParams) query(columns map[string]string) (Query, error) {
	q := DefaultQuery()

	var err error
	if q.Page, err = parsePositive("page", p.Page, DefaultPage); err != nil {
		return Query{}, err
	}
	if q.Limit, err = parsePositive("limit", p.Limit, DefaultLimit); err != nil {
		return Query{}, err
	}
	if s := strings.TrimSpace(p.SortBy); s != "" {
		q.SortBy = s
	}
	if s := strings.ToLower(strings.TrimSpace(p.SortOrder)); s != "" {
		q.SortOrder = SortOrder(s)
	}
	return q, q.validate(columns)
}

func parsePositive(name, raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation("%s must be an integer", name)
	}
	return n, nil
}

func (p ListParams) dateRange() (DateRange, error) {
	var r DateRange
	if s := strings.TrimSpace(p.StartDate); s != "" {
		t, _, err := parseDate(s)
		if err != nil {
			return r, apperrors.Validation("startDate %q is not a date", s)
		}
		r.Start = &t
	}
	if s := strings.TrimSpace(p.EndDate); s != "" {
		t, dateOnly, err := parseDate(s)
		if err != nil {
			return r, apperrors.Validation("endDate %q is not a date", s)
		}
		if dateOnly {
			// A bare date covers the whole day.
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		r.End = &t
	}
	return r, r.validate()
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

// Pagination describes where a page sits in the full result.
type Pagination struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	TotalCount  int64 `json:"totalCount"`
	TotalPages  int   `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

// NewPagination computes the page arithmetic for total matching records.
func NewPagination(q Query, total int64) Pagination {
	totalPages := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	return Pagination{
		Page:        q.Page,
		Limit:       q.Limit,
		TotalCount:  total,
		TotalPages:  totalPages,
		HasNextPage: q.Page < totalPages,
		HasPrevPage: q.Page > 1,
	}
}

// Page is one page of records.
type Page[T any] struct {
	Data       []T        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func newPage[T any](data []T, q Query, total int64) *Page[T] {
	if data == nil {
		data = []T{}
	}
	return &Page[T]{Data: data, Pagination: NewPagination(q, total)}
}
