// Package evidence orchestrates the record stores, the ledger and the access
// guard. Writes run Validate, Authorize, then the optional ledger append and
// Persist; the first failing stage ends the operation.
package evidence

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"threatlens/internal/analysis"
	"threatlens/internal/apperrors"
	"threatlens/internal/auth"
	"threatlens/internal/events"
	"threatlens/internal/ledger"
	"threatlens/internal/metrics"
	"threatlens/internal/models"
	"threatlens/internal/records"
)

// Config holds the authorization and recording policy.
type Config struct {
	AdminRole string
	// LedgerRole gates the ledger operations unless LedgerPublic is set.
	LedgerRole   string
	LedgerPublic bool
	// RecordAlerts is the default for AlertInput.RecordOnLedger.
	RecordAlerts bool
	QueryTimeout time.Duration
}

// Dependencies are the collaborators a Service needs. Publisher, Analyzer,
// Metrics and Logger may be left nil.
type Dependencies struct {
	Guard     *auth.Guard
	Alerts    records.AlertStore
	Reports   records.ReportStore
	Ledger    *ledger.Ledger
	Analyzer  analysis.Analyzer
	Publisher events.Publisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

type Service struct {
	guard     *auth.Guard
	alerts    records.AlertStore
	reports   records.ReportStore
	ledger    *ledger.Ledger
	analyzer  analysis.Analyzer
	publisher events.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       Config
}

func New(deps Dependencies, cfg Config) *Service {
	if cfg.AdminRole == "" {
		cfg.AdminRole = auth.RoleAdmin
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = ledger.DefaultTimeout
	}
	s := &Service{
		guard:     deps.Guard,
		alerts:    deps.Alerts,
		reports:   deps.Reports,
		ledger:    deps.Ledger,
		analyzer:  deps.Analyzer,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}
	if s.analyzer == nil {
		s.analyzer = analysis.NoopAnalyzer{}
	}
	if s.publisher == nil {
		s.publisher = events.Nop{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("evidence")
	return s
}

// AlertInput is the caller-supplied part of an alert. Missing scores,
// patterns or alert level are filled in by the analyzer.
type AlertInput struct {
	Username    string             `json:"username" validate:"required,max=100"`
	Platform    models.Platform    `json:"platform" validate:"required,oneof=twitter instagram facebook linkedin"`
	AlertLevel  models.AlertLevel  `json:"alertLevel,omitempty" validate:"omitempty,oneof=low medium high"`
	ProfileData models.ProfileData `json:"profileData"`
	Scores      map[string]float64 `json:"scores,omitempty"`
	Patterns    []models.Pattern   `json:"patterns,omitempty" validate:"dive"`
	// RecordOnLedger overrides the configured default when set.
	RecordOnLedger *bool `json:"recordOnLedger,omitempty"`
}

// ReportInput is a public complaint about a profile.
type ReportInput struct {
	Username      string          `json:"username" validate:"required,max=100"`
	Platform      models.Platform `json:"platform" validate:"required,oneof=twitter instagram facebook linkedin"`
	Reason        string          `json:"reason" validate:"required,min=10,max=1000"`
	ScreenshotURL string          `json:"screenshotUrl,omitempty" validate:"omitempty,url,max=2048"`
}

// LogEntries is the full ledger listing.
type LogEntries struct {
	Count   int            `json:"count"`
	Entries []ledger.Entry `json:"entries"`
}

// alertRecord is the ledger payload written for a stored alert.
type alertRecord struct {
	Type  string        `json:"type"`
	Alert *models.Alert `json:"alert"`
}

// CreateAlert persists an alert. When recording is on, the stored form is
// appended to the ledger first and persisted with its receipt in one write,
// so a failed append leaves no alert behind. A ledger entry whose alert
// then fails to persist stays on the ledger and the error is returned.
func (s *Service) CreateAlert(ctx context.Context, credential string, in AlertInput) (*models.Alert, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Platform = models.Platform(strings.ToLower(string(in.Platform)))
	in.AlertLevel = models.AlertLevel(strings.ToLower(string(in.AlertLevel)))
	if err := models.Validate(&in); err != nil {
		return nil, err
	}

	principal, err := s.authorize(credential, s.cfg.AdminRole)
	if err != nil {
		return nil, err
	}

	alert := &models.Alert{
		Username:    in.Username,
		Platform:    in.Platform,
		AlertLevel:  in.AlertLevel,
		ProfileData: in.ProfileData,
		Scores:      in.Scores,
		Patterns:    in.Patterns,
	}
	if err := s.analyze(ctx, alert); err != nil {
		return nil, err
	}

	record := s.cfg.RecordAlerts
	if in.RecordOnLedger != nil {
		record = *in.RecordOnLedger
	}

	var receipt *ledger.Receipt
	if record {
		prepared, err := records.PrepareAlert(alert)
		if err != nil {
			return nil, err
		}
		r, err := s.append(ctx, alertRecord{Type: "alert", Alert: prepared})
		if err != nil {
			s.logger.Error("Alert not stored, ledger append failed",
				zap.String("alert_id", prepared.ID),
				zap.Error(err))
			return nil, err
		}
		receipt = &r
		prepared.BlockchainReference = receipt
		alert = prepared
	}

	stored, err := s.createAlert(ctx, alert)
	if err != nil {
		if receipt != nil {
			s.logger.Error("Ledger entry recorded for an alert that failed to persist",
				zap.String("alert_id", alert.ID),
				zap.String("reference_id", receipt.ReferenceID),
				zap.Error(err))
		}
		return nil, err
	}
	if receipt != nil {
		s.publish(ctx, events.New(events.TypeLedgerAppended, receipt.ReferenceID, *receipt))
	}

	s.metrics.IncAlertsCreated(string(stored.Platform), string(stored.AlertLevel))
	s.logger.Info("Alert created",
		zap.String("alert_id", stored.ID),
		zap.String("platform", string(stored.Platform)),
		zap.String("alert_level", string(stored.AlertLevel)),
		zap.String("created_by", principal.ID),
		zap.Bool("on_ledger", stored.BlockchainReference != nil))
	s.publish(ctx, events.New(events.TypeAlertCreated, stored.ID, stored))
	return stored, nil
}

// analyze fills whatever the caller left out.
func (s *Service) analyze(ctx context.Context, alert *models.Alert) error {
	if alert.Scores != nil && alert.Patterns != nil && alert.AlertLevel != "" {
		return nil
	}
	result, err := s.analyzer.ProduceAnalysis(ctx, alert.Username, alert.Platform)
	if err != nil {
		return apperrors.Wrap(apperrors.KindInternal, err, "profile analysis failed")
	}
	if alert.Scores == nil {
		alert.Scores = result.Scores
	}
	if alert.Patterns == nil {
		alert.Patterns = result.Patterns
	}
	if alert.AlertLevel == "" {
		alert.AlertLevel = result.AlertLevel
	}
	return nil
}

func (s *Service) createAlert(ctx context.Context, alert *models.Alert) (*models.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.alerts.Create(ctx, alert)
}

func (s *Service) ListAlerts(ctx context.Context, credential string, params records.ListParams) (*records.Page[models.Alert], error) {
	filter, q, err := params.AlertQuery()
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(credential, s.cfg.AdminRole); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.alerts.Find(ctx, filter, q)
}

func (s *Service) GetAlert(ctx context.Context, credential, id string) (*models.Alert, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(credential, s.cfg.AdminRole); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.alerts.GetByID(ctx, id)
}

// LogAlert appends an arbitrary payload to the ledger.
func (s *Service) LogAlert(ctx context.Context, credential string, payload json.RawMessage) (ledger.Receipt, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return ledger.Receipt{}, apperrors.Validation("payload is required")
	}
	if !json.Valid(payload) {
		return ledger.Receipt{}, apperrors.Validation("payload must be valid JSON")
	}
	if err := s.authorizeLedger(credential); err != nil {
		return ledger.Receipt{}, err
	}

	receipt, err := s.append(ctx, payload)
	if err != nil {
		return ledger.Receipt{}, err
	}
	s.publish(ctx, events.New(events.TypeLedgerAppended, receipt.ReferenceID, receipt))
	return receipt, nil
}

func (s *Service) GetLogEntry(ctx context.Context, credential, referenceID string) (*ledger.Entry, error) {
	referenceID = strings.ToLower(strings.TrimSpace(referenceID))
	if referenceID == "" {
		return nil, apperrors.Validation("reference id is required")
	}
	if err := s.authorizeLedger(credential); err != nil {
		return nil, err
	}
	return s.ledger.Get(ctx, referenceID)
}

func (s *Service) ListLogEntries(ctx context.Context, credential string) (*LogEntries, error) {
	if err := s.authorizeLedger(credential); err != nil {
		return nil, err
	}
	entries, err := s.ledger.List(ctx)
	if err != nil {
		return nil, err
	}
	return &LogEntries{Count: len(entries), Entries: entries}, nil
}

// VerifyLedger walks the chain. A broken chain returns the report together
// with an integrity error.
func (s *Service) VerifyLedger(ctx context.Context, credential string) (*ledger.VerifyReport, error) {
	if _, err := s.authorize(credential, s.cfg.AdminRole); err != nil {
		return nil, err
	}
	report, err := s.ledger.Verify(ctx)
	if report != nil {
		s.metrics.ObserveVerify(report.Valid)
	}
	return report, err
}

// AuthorizeLedgerStream checks access to the live ledger feed.
func (s *Service) AuthorizeLedgerStream(credential string) error {
	return s.authorizeLedger(credential)
}

// SubmitReport stores a public report and returns its id.
func (s *Service) SubmitReport(ctx context.Context, in ReportInput) (string, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Platform = models.Platform(strings.ToLower(string(in.Platform)))
	in.Reason = strings.TrimSpace(in.Reason)
	if err := models.Validate(&in); err != nil {
		return "", err
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	stored, err := s.reports.Create(cctx, &models.Report{
		Username:      in.Username,
		Platform:      in.Platform,
		Reason:        in.Reason,
		ScreenshotURL: in.ScreenshotURL,
		Status:        models.ReportStatusPending,
	})
	if err != nil {
		return "", err
	}

	s.metrics.IncReportsSubmitted(string(stored.Platform))
	s.logger.Info("Report submitted",
		zap.String("report_id", stored.ID),
		zap.String("platform", string(stored.Platform)))
	s.publish(ctx, events.New(events.TypeReportSubmitted, stored.ID, stored))
	return stored.ID, nil
}

func (s *Service) ListReports(ctx context.Context, credential string, params records.ListParams) (*records.Page[models.Report], error) {
	filter, q, err := params.ReportQuery()
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(credential, s.cfg.AdminRole); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.reports.Find(ctx, filter, q)
}

func (s *Service) GetReport(ctx context.Context, credential, id string) (*models.Report, error) {
	id, err := models.ParseID(id)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(credential, s.cfg.AdminRole); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.reports.GetByID(ctx, id)
}

func (s *Service) authorize(credential, role string) (*auth.Principal, error) {
	principal, err := s.guard.Authorize(credential, role)
	if err != nil {
		kind := apperrors.KindOf(err)
		s.metrics.IncAuthFailures(string(kind))
		s.logger.Debug("Authorization rejected",
			zap.String("required_role", role),
			zap.String("kind", string(kind)))
		return nil, err
	}
	return principal, nil
}

func (s *Service) authorizeLedger(credential string) error {
	if s.cfg.LedgerPublic {
		return nil
	}
	_, err := s.authorize(credential, s.cfg.LedgerRole)
	return err
}

func (s *Service) append(ctx context.Context, payload interface{}) (ledger.Receipt, error) {
	start := time.Now()
	receipt, err := s.ledger.Append(ctx, payload)
	s.metrics.ObserveAppend(err, receipt.BlockNumber, time.Since(start))
	return receipt, err
}

// publish never fails the caller; the write it announces already happened.
func (s *Service) publish(ctx context.Context, event events.Event) {
	err := s.publisher.Publish(ctx, event)
	s.metrics.ObservePublish(event.Type, err)
	if err != nil {
		s.logger.Warn("Failed to publish event",
			zap.String("type", event.Type),
			zap.String("key", event.Key),
			zap.Error(err))
	}
}
