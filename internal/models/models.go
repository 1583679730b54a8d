package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"threatlens/internal/apperrors"
)

// Platform is the social network a record refers to.
type Platform string

const (
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformLinkedIn  Platform = "linkedin"
)

// Platforms lists every accepted platform.
var Platforms = []Platform{PlatformTwitter, PlatformInstagram, PlatformFacebook, PlatformLinkedIn}

// Valid reports whether p is one of Platforms.
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// AlertLevel grades the risk of an alert.
type AlertLevel string

const (
	AlertLevelLow    AlertLevel = "low"
	AlertLevelMedium AlertLevel = "medium"
	AlertLevelHigh   AlertLevel = "high"
)

// AlertLevels lists every accepted level, least severe first.
var AlertLevels = []AlertLevel{AlertLevelLow, AlertLevelMedium, AlertLevelHigh}

// Rank orders levels by severity: 1 for low up to 3 for high, 0 if unknown.
func (l AlertLevel) Rank() int {
	for i, known := range AlertLevels {
		if l == known {
			return i + 1
		}
	}
	return 0
}

func (l AlertLevel) Valid() bool {
	for _, known := range AlertLevels {
		if l == known {
			return true
		}
	}
	return false
}

// ReportStatus is the review state of a user report.
type ReportStatus string

const (
	ReportStatusPending   ReportStatus = "pending"
	ReportStatusReviewed  ReportStatus = "reviewed"
	ReportStatusDismissed ReportStatus = "dismissed"
)

// ReportStatuses lists every accepted status.
var ReportStatuses = []ReportStatus{ReportStatusPending, ReportStatusReviewed, ReportStatusDismissed}

func (s ReportStatus) Valid() bool {
	for _, known := range ReportStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// LedgerReference points an alert at the ledger entry that recorded it.
type LedgerReference struct {
	ReferenceID string    `json:"referenceId"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber int64     `json:"blockNumber"`
}

// Pattern is one behavioural finding produced by the analysis collaborator.
type Pattern struct {
	Type        string   `json:"type" validate:"required,max=100"`
	Description string   `json:"description" validate:"max=1000"`
	Score       float64  `json:"score" validate:"gte=0,lte=100"`
	Insights    []string `json:"insights,omitempty"`
}

// Alert is a flagged profile together with its scores and patterns.
type Alert struct {
	ID                  string             `json:"id" gorm:"primaryKey;type:uuid"`
	Username            string             `json:"username" gorm:"size:100;index;not null" validate:"required,max=100"`
	Platform            Platform           `json:"platform" gorm:"size:20;index;not null" validate:"required,oneof=twitter instagram facebook linkedin"`
	AlertLevel          AlertLevel         `json:"alertLevel" gorm:"column:alert_level;size:10;index;not null" validate:"required,oneof=low medium high"`
	ProfileData         ProfileData        `json:"profileData" gorm:"type:jsonb;serializer:json"`
	Scores              map[string]float64 `json:"scores" gorm:"type:jsonb;serializer:json"`
	Patterns            []Pattern          `json:"patterns" gorm:"type:jsonb;serializer:json" validate:"dive"`
	BlockchainReference *LedgerReference   `json:"blockchainReference,omitempty" gorm:"column:blockchain_reference;type:jsonb;serializer:json"`
	CreatedAt           time.Time          `json:"createdAt" gorm:"index"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// Report is a user-submitted complaint about a suspicious profile.
type Report struct {
	ID            string       `json:"id" gorm:"primaryKey;type:uuid"`
	Username      string       `json:"username" gorm:"size:100;index;not null" validate:"required,max=100"`
	Platform      Platform     `json:"platform" gorm:"size:20;index;not null" validate:"required,oneof=twitter instagram facebook linkedin"`
	Reason        string       `json:"reason" gorm:"type:text;not null" validate:"required,min=10,max=1000"`
	ScreenshotURL string       `json:"screenshotUrl,omitempty" gorm:"column:screenshot_url" validate:"omitempty,url,max=2048"`
	Status        ReportStatus `json:"status" gorm:"size:20;index;not null" validate:"required,oneof=pending reviewed dismissed"`
	CreatedAt     time.Time    `json:"createdAt" gorm:"index"`
}

// NewID returns a fresh record identity.
func NewID() string {
	return uuid.NewString()
}

// ParseID checks that id has the shape of a record identity.
func ParseID(id string) (string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", apperrors.Validation("malformed id %q", id)
	}
	return parsed.String(), nil
}
