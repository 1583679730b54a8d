// Package analysis produces the scores and patterns attached to alerts.
// The evidence service only depends on the Analyzer contract.
package analysis

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"threatlens/internal/models"
)

// Result is the output of one profile analysis.
type Result struct {
	Scores     map[string]float64 `json:"scores"`
	Patterns   []models.Pattern   `json:"patterns"`
	AlertLevel models.AlertLevel  `json:"alertLevel"`
}

// Analyzer scores a profile.
type Analyzer interface {
	ProduceAnalysis(ctx context.Context, username string, platform models.Platform) (*Result, error)
}

// New returns the analyzer registered under name.
func New(name string, seed int64) (Analyzer, error) {
	switch strings.ToLower(name) {
	case "", "random":
		return NewRandomAnalyzer(seed), nil
	case "noop", "none":
		return NoopAnalyzer{}, nil
	default:
		return nil, fmt.Errorf("unknown analyzer %q", name)
	}
}

// Score names produced by RandomAnalyzer.
const (
	ScoreBotLikelihood      = "botLikelihood"
	ScoreFakeFollowers      = "fakeFollowerRatio"
	ScoreEngagementAnomaly  = "engagementAnomaly"
	ScoreContentDuplication = "contentDuplication"
)

var scoreNames = []string{ScoreBotLikelihood, ScoreFakeFollowers, ScoreEngagementAnomaly, ScoreContentDuplication}

type patternTemplate struct {
	kind        string
	description string
	insights    []string
}

var patternCatalog = []patternTemplate{
	{"posting_cadence", "Posts are published at machine-regular intervals", []string{"Posting gaps vary by less than a few seconds", "Activity continues around the clock"}},
	{"follower_burst", "Follower count grew in short, sharp bursts", []string{"Most followers arrived within a single day", "New followers have few posts of their own"}},
	{"content_reuse", "Captions and media are reused across unrelated accounts", []string{"Identical captions found on other profiles", "Images carry stripped or mismatched metadata"}},
	{"engagement_ring", "Likes and comments come from a closed group of accounts", []string{"The same accounts engage within seconds of posting", "Comment text is generic and repetitive"}},
	{"profile_churn", "Display name and bio changed repeatedly", []string{"Several name changes in the last month", "Bio links point to recently registered domains"}},
}

// RandomAnalyzer fabricates plausible looking results for demos.
type RandomAnalyzer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomAnalyzer seeds the generator. A zero seed uses the clock.
func NewRandomAnalyzer(seed int64) *RandomAnalyzer {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomAnalyzer{rng: rand.New(rand.NewSource(seed))}
}

func (a *RandomAnalyzer) ProduceAnalysis(ctx context.Context, username string, platform models.Platform) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	scores := make(map[string]float64, len(scoreNames))
	var total float64
	for _, name := range scoreNames {
		s := round1(a.rng.Float64() * 100)
		scores[name] = s
		total += s
	}

	count := 1 + a.rng.Intn(3)
	picked := a.rng.Perm(len(patternCatalog))[:count]
	sort.Ints(picked)

	patterns := make([]models.Pattern, 0, count)
	for _, idx := range picked {
		tpl := patternCatalog[idx]
		patterns = append(patterns, models.Pattern{
			Type:        tpl.kind,
			Description: tpl.description,
			Score:       round1(a.rng.Float64() * 100),
			Insights:    append([]string(nil), tpl.insights...),
		})
	}

	return &Result{
		Scores:     scores,
		Patterns:   patterns,
		AlertLevel: LevelFor(total / float64(len(scoreNames))),
	}, nil
}

// LevelFor grades an average score.
func LevelFor(avg float64) models.AlertLevel {
	switch {
	case avg >= 70:
		return models.AlertLevelHigh
	case avg >= 40:
		return models.AlertLevelMedium
	default:
		return models.AlertLevelLow
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// NoopAnalyzer returns empty results graded low.
type NoopAnalyzer struct{}

func (NoopAnalyzer) ProduceAnalysis(ctx context.Context, _ string, _ models.Platform) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Result{
		Scores:     map[string]float64{},
		Patterns:   []models.Pattern{},
		AlertLevel: models.AlertLevelLow,
	}, nil
}
