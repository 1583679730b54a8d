// Package records persists alerts and reports and serves filtered,
// sorted, paginated listings over them.
package records

import (
	"context"
	"time"

	"threatlens/internal/models"
)

// AlertStore persists alerts.
type AlertStore interface {
	// Create validates and persists the alert, assigning identity and
	// timestamps unless PrepareAlert already did.
	Create(ctx context.Context, alert *models.Alert) (*models.Alert, error)
	Find(ctx context.Context, filter AlertFilter, q Query) (*Page[models.Alert], error)
	GetByID(ctx context.Context, id string) (*models.Alert, error)
	// AttachReference records the ledger receipt on the alert and refreshes updatedAt.
	AttachReference(ctx context.Context, id string, ref models.LedgerReference) (*models.Alert, error)
}

// ReportStore persists user reports.
type ReportStore interface {
	Create(ctx context.Context, report *models.Report) (*models.Report, error)
	Find(ctx context.Context, filter ReportFilter, q Query) (*Page[models.Report], error)
	GetByID(ctx context.Context, id string) (*models.Report, error)
}

// now is the store clock, truncated so every backend round-trips it exactly.
var now = func() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// PrepareAlert returns the stored form of alert: a copy with id and
// timestamps assigned and empty collections normalized, validated as Create
// would. Fields already set are kept.
func PrepareAlert(alert *models.Alert) (*models.Alert, error) {
	return prepareAlert(alert)
}

func prepareAlert(alert *models.Alert) (*models.Alert, error) {
	stored := cloneAlert(alert)
	if stored.ID == "" {
		stored.ID = models.NewID()
	} else {
		id, err := models.ParseID(stored.ID)
		if err != nil {
			return nil, err
		}
		stored.ID = id
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now()
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = stored.CreatedAt
	}
	if stored.Scores == nil {
		stored.Scores = map[string]float64{}
	}
	if stored.Patterns == nil {
		stored.Patterns = []models.Pattern{}
	}
	if err := models.Validate(stored); err != nil {
		return nil, err
	}
	return stored, nil
}

func prepareReport(report *models.Report) (*models.Report, error) {
	stored := *report
	stored.ID = models.NewID()
	stored.CreatedAt = now()
	if stored.Status == "" {
		stored.Status = models.ReportStatusPending
	}
	if err := models.Validate(&stored); err != nil {
		return nil, err
	}
	return &stored, nil
}

func cloneAlert(a *models.Alert) *models.Alert {
	c := *a
	if a.Scores != nil {
		c.Scores = make(map[string]float64, len(a.Scores))
		for k, v := range a.Scores {
			c.Scores[k] = v
		}
	}
	if a.Patterns != nil {
		c.Patterns = make([]models.Pattern, len(a.Patterns))
		for i, p := range a.Patterns {
			p.Insights = append([]string(nil), p.Insights...)
			c.Patterns[i] = p
		}
	}
	if a.ProfileData.Extra != nil {
		c.ProfileData.Extra = make(map[string]interface{}, len(a.ProfileData.Extra))
		for k, v := range a.ProfileData.Extra {
			c.ProfileData.Extra[k] = v
		}
	}
	if a.BlockchainReference != nil {
		ref := *a.BlockchainReference
		c.BlockchainReference = &ref
	}
	return &c
}
