package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type capturePublisher struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type failingInsertStore struct {
	*ledger.MemoryStore
}

func (failingInsertStore) Insert(context.Context, *ledger.Entry) error {
	return errors.New("disk full")
}

type fixture struct {
	svc       *Service
	verifier  *auth.JWTVerifier
	alerts    *records.MemoryAlertStore
	reports   *records.MemoryReportStore
	ledger    *ledger.Ledger
	publisher *capturePublisher
	admin     string
	analyst   string
}

func newFixture(t *testing.T, cfg Config, store ledger.EntryStore) *fixture {
	t.Helper()
	if store == nil {
		store = ledger.NewMemoryStore()
	}
	verifier := auth.NewJWTVerifier("evidence-test-secret", "threatlens", time.Hour)
	f := &fixture{
		verifier:  verifier,
		alerts:    records.NewMemoryAlertStore(),
		reports:   records.NewMemoryReportStore(),
		ledger:    ledger.New(store),
		publisher: &capturePublisher{},
	}
	f.svc = New(Dependencies{
		Guard:     auth.NewGuard(verifier),
		Alerts:    f.alerts,
		Reports:   f.reports,
		Ledger:    f.ledger,
		Analyzer:  analysis.NewRandomAnalyzer(42),
		Publisher: f.publisher,
		Metrics:   metrics.New(),
		Logger:    zap.NewNop(),
	}, cfg)

	var err error
	f.admin, err = verifier.Issue(auth.NewPrincipal("admin-1", "admin@example.com", auth.RoleAdmin))
	require.NoError(t, err)
	f.analyst, err = verifier.Issue(auth.NewPrincipal("analyst-1", "analyst@example.com", auth.RoleAnalyst))
	require.NoError(t, err)
	return f
}

func defaultConfig() Config {
	return Config{AdminRole: auth.RoleAdmin, LedgerRole: auth.RoleAdmin, RecordAlerts: true, QueryTimeout: time.Second}
}

func boolPtr(b bool) *bool { return &b }

func TestCreateAlertRecordsOnLedger(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()

	alert, err := f.svc.CreateAlert(ctx, f.admin, AlertInput{
		Username: "  bot_farm_01 ",
		Platform: "Twitter",
		ProfileData: models.ProfileData{
			DisplayName: "Bot Farm",
			Followers:   120000,
			Extra:       map[string]interface{}{"location": "nowhere"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "bot_farm_01", alert.Username)
	assert.Equal(t, models.PlatformTwitter, alert.Platform)
	assert.True(t, alert.AlertLevel.Valid())
	assert.Len(t, alert.Scores, 4)
	assert.NotEmpty(t, alert.Patterns)
	require.NotNil(t, alert.BlockchainReference)
	assert.Equal(t, int64(1), alert.BlockchainReference.BlockNumber)
	assert.Equal(t, alert.CreatedAt, alert.UpdatedAt)

	entry, err := f.ledger.Get(ctx, alert.BlockchainReference.ReferenceID)
	require.NoError(t, err)
	var payload struct {
		Type  string       `json:"type"`
		Alert models.Alert `json:"alert"`
	}
	require.NoError(t, json.Unmarshal(entry.Payload, &payload))
	assert.Equal(t, "alert", payload.Type)
	assert.Equal(t, alert.ID, payload.Alert.ID)
	assert.True(t, alert.CreatedAt.Equal(payload.Alert.CreatedAt))
	assert.Nil(t, payload.Alert.BlockchainReference)

	stored, err := f.svc.GetAlert(ctx, f.admin, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alert.BlockchainReference.ReferenceID, stored.BlockchainReference.ReferenceID)

	assert.Equal(t, []string{events.TypeLedgerAppended, events.TypeAlertCreated}, f.publisher.types())
}

func TestCreateAlertKeepsCallerAnalysis(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)

	alert, err := f.svc.CreateAlert(context.Background(), f.admin, AlertInput{
		Username:       "quiet_account",
		Platform:       models.PlatformLinkedIn,
		AlertLevel:     models.AlertLevelLow,
		Scores:         map[string]float64{"botLikelihood": 3},
		Patterns:       []models.Pattern{{Type: "none", Score: 1}},
		RecordOnLedger: boolPtr(false),
	})
	require.NoError(t, err)
	assert.Equal(t, models.AlertLevelLow, alert.AlertLevel)
	assert.Equal(t, map[string]float64{"botLikelihood": 3}, alert.Scores)
	assert.Nil(t, alert.BlockchainReference)

	height, err := f.ledger.Height(context.Background())
	require.NoError(t, err)
	assert.Zero(t, height)
}

func TestCreateAlertGates(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()
	valid := AlertInput{Username: "someone", Platform: models.PlatformInstagram}

	_, err := f.svc.CreateAlert(ctx, "", valid)
	assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))

	_, err = f.svc.CreateAlert(ctx, "garbage", valid)
	assert.True(t, apperrors.Is(err, apperrors.KindInvalidToken))

	_, err = f.svc.CreateAlert(ctx, f.analyst, valid)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = f.svc.CreateAlert(ctx, f.admin, AlertInput{Username: "someone", Platform: "snapchat"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.CreateAlert(ctx, f.admin, AlertInput{Platform: models.PlatformTwitter})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	page, err := f.svc.ListAlerts(ctx, f.admin, records.ListParams{})
	require.NoError(t, err)
	assert.Zero(t, page.Pagination.TotalCount)
	assert.Empty(t, f.publisher.types())
}

func TestCreateAlertLedgerFailureStoresNothing(t *testing.T) {
	f := newFixture(t, defaultConfig(), failingInsertStore{ledger.NewMemoryStore()})
	ctx := context.Background()

	_, err := f.svc.CreateAlert(ctx, f.admin, AlertInput{Username: "someone", Platform: models.PlatformFacebook})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))

	page, err := f.svc.ListAlerts(ctx, f.admin, records.ListParams{})
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Zero(t, page.Pagination.TotalCount)
	assert.Empty(t, f.publisher.types())

	_, err = f.svc.CreateAlert(ctx, f.admin, AlertInput{
		Username:       "someone",
		Platform:       models.PlatformFacebook,
		RecordOnLedger: boolPtr(false),
	})
	require.NoError(t, err)
}

type failingAlertStore struct {
	*records.MemoryAlertStore
}

func (failingAlertStore) Create(context.Context, *models.Alert) (*models.Alert, error) {
	return nil, apperrors.New(apperrors.KindPersistence, "database unavailable")
}

func TestCreateAlertPersistFailure(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	f.svc.alerts = failingAlertStore{f.alerts}
	ctx := context.Background()

	_, err := f.svc.CreateAlert(ctx, f.admin, AlertInput{Username: "someone", Platform: models.PlatformTwitter})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindPersistence))

	page, err := f.alerts.Find(ctx, records.AlertFilter{}, records.DefaultQuery())
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.Empty(t, f.publisher.types())
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	f.publisher.err = errors.New("broker down")

	id, err := f.svc.SubmitReport(context.Background(), ReportInput{
		Username: "scammer",
		Platform: models.PlatformInstagram,
		Reason:   "Asked me for gift cards in direct messages",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestListAlertsPagination(t *testing.T) {
	f := newFixture(t, Config{AdminRole: auth.RoleAdmin, LedgerRole: auth.RoleAdmin, QueryTimeout: time.Second}, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		_, err := f.svc.CreateAlert(ctx, f.admin, AlertInput{Username: "user", Platform: models.PlatformTwitter})
		require.NoError(t, err)
	}

	page, err := f.svc.ListAlerts(ctx, f.admin, records.ListParams{Page: "3", Limit: "10"})
	require.NoError(t, err)
	assert.Len(t, page.Data, 5)
	assert.Equal(t, 3, page.Pagination.TotalPages)
	assert.False(t, page.Pagination.HasNextPage)
	assert.True(t, page.Pagination.HasPrevPage)

	_, err = f.svc.ListAlerts(ctx, f.admin, records.ListParams{Limit: "500"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	// Parameters are validated before the credential is looked at.
	_, err = f.svc.ListAlerts(ctx, "", records.ListParams{SortBy: "password"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.ListAlerts(ctx, f.analyst, records.ListParams{})
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))
}

func TestGetAlertMisses(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()

	_, err := f.svc.GetAlert(ctx, f.admin, "unknown-id")
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.GetAlert(ctx, f.admin, models.NewID())
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestLogAlertLifecycle(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()

	var receipts []ledger.Receipt
	for _, body := range []string{`{"name":"A"}`, `{"name":"B"}`, `{"name":"C"}`} {
		r, err := f.svc.LogAlert(ctx, f.admin, json.RawMessage(body))
		require.NoError(t, err)
		receipts = append(receipts, r)
	}
	assert.Equal(t, int64(3), receipts[2].BlockNumber)

	listing, err := f.svc.ListLogEntries(ctx, f.admin)
	require.NoError(t, err)
	require.Equal(t, 3, listing.Count)
	assert.Equal(t, listing.Entries[0].ReferenceID, listing.Entries[1].PreviousHash)

	entry, err := f.svc.GetLogEntry(ctx, f.admin, receipts[1].ReferenceID)
	require.NoError(t, err)
	assert.Equal(t, listing.Entries[1], *entry)

	_, err = f.svc.GetLogEntry(ctx, f.admin, "unknown-ref")
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	report, err := f.svc.VerifyLedger(ctx, f.admin)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Equal(t, int64(3), report.Height)
}

func TestLogAlertValidationAndAccess(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()

	_, err := f.svc.LogAlert(ctx, f.admin, nil)
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.LogAlert(ctx, f.admin, json.RawMessage(`{"broken"`))
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.LogAlert(ctx, "", json.RawMessage(`{}`))
	assert.True(t, apperrors.Is(err, apperrors.KindUnauthorized))

	_, err = f.svc.ListLogEntries(ctx, f.analyst)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	assert.Error(t, f.svc.AuthorizeLedgerStream(""))
	assert.NoError(t, f.svc.AuthorizeLedgerStream(f.admin))
}

func TestLedgerRoleAndPublicMode(t *testing.T) {
	ctx := context.Background()

	cfg := defaultConfig()
	cfg.LedgerRole = auth.RoleAnalyst
	f := newFixture(t, cfg, nil)
	_, err := f.svc.LogAlert(ctx, f.analyst, json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	// Verification stays admin only.
	_, err = f.svc.VerifyLedger(ctx, f.analyst)
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	cfg = defaultConfig()
	cfg.LedgerPublic = true
	f = newFixture(t, cfg, nil)
	_, err = f.svc.LogAlert(ctx, "", json.RawMessage(`{"x":1}`))
	require.NoError(t, err)
	listing, err := f.svc.ListLogEntries(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, listing.Count)
}

func TestConcurrentLogAlerts(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.LogAlert(ctx, f.admin, json.RawMessage(`{"n":1}`))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	report, err := f.svc.VerifyLedger(ctx, f.admin)
	require.NoError(t, err)
	assert.Equal(t, int64(20), report.Height)
}

func TestReports(t *testing.T) {
	f := newFixture(t, defaultConfig(), nil)
	ctx := context.Background()

	_, err := f.svc.SubmitReport(ctx, ReportInput{Username: "x", Platform: models.PlatformTwitter, Reason: "too short"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	_, err = f.svc.SubmitReport(ctx, ReportInput{Username: "x", Platform: "myspace", Reason: "long enough reason here"})
	assert.True(t, apperrors.Is(err, apperrors.KindValidation))

	id, err := f.svc.SubmitReport(ctx, ReportInput{
		Username:      "fake_support",
		Platform:      "Facebook",
		Reason:        "Impersonates the platform support team",
		ScreenshotURL: "https://example.com/shot.png",
	})
	require.NoError(t, err)

	report, err := f.svc.GetReport(ctx, f.admin, id)
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusPending, report.Status)
	assert.Equal(t, models.PlatformFacebook, report.Platform)

	page, err := f.svc.ListReports(ctx, f.admin, records.ListParams{Status: "pending"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Pagination.TotalCount)

	_, err = f.svc.ListReports(ctx, f.analyst, records.ListParams{})
	assert.True(t, apperrors.Is(err, apperrors.KindForbidden))

	_, err = f.svc.GetReport(ctx, f.admin, models.NewID())
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))

	assert.Contains(t, f.publisher.types(), events.TypeReportSubmitted)
}
