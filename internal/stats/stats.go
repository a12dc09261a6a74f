// Package stats derives the profile and dashboard figures from a user's
// stored dreams.
package stats

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/cache"
	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/labels"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/theme"
)

// Placeholders for a user with no dreams in the window.
const (
	StatusSilent    = "silence onirique"
	LabelSilent     = "rêves enregistrés"
	EmotionSilent   = "émotion endormie"
	StatusDreamer   = "âme rêveuse"
	StatusNightmare = "en proie aux cauchemars"
	LabelDreams     = "rêves"
	LabelNightmares = "cauchemars"
)

// Profile is the summary shown on the diary page.
type Profile struct {
	Status            string `json:"statut_reveuse"`
	StatusPercentage  int    `json:"pourcentage_reveuse"`
	StatusLabel       string `json:"label_reveuse"`
	DominantEmotion   string `json:"emotion_dominante"`
	EmotionPercentage int    `json:"emotion_dominante_percentage"`
	TotalDreams       int    `json:"total_reves"`

	Theme           string        `json:"theme_recurrent"`
	ThemePercentage int           `json:"theme_recurrent_percentage"`
	ThemeMessage    string        `json:"theme_message"`
	Themes          []theme.Count `json:"themes"`
}

// EmotionShare is one slice of the emotion distribution.
type EmotionShare struct {
	Emotion    string `json:"emotion"`
	Label      string `json:"label"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

// TimelinePoint is the per-key count on one calendar date.
type TimelinePoint struct {
	Date   string         `json:"date"`
	Counts map[string]int `json:"counts"`
}

// Dashboard is the filtered view of a user's history.
type Dashboard struct {
	From                string          `json:"from,omitempty"`
	To                  string          `json:"to,omitempty"`
	Profile             Profile         `json:"profile"`
	EmotionDistribution []EmotionShare  `json:"emotion_distribution"`
	TypeTimeline        []TimelinePoint `json:"dream_type_timeline"`
	EmotionTimeline     []TimelinePoint `json:"emotion_timeline"`
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCache memoizes results in c.
func WithCache(c cache.Cache) Option { return func(a *Aggregator) { a.cache = c } }

// WithThemeThresholds overrides the theme extractor minimums.
func WithThemeThresholds(minDreams, minOccurrence int) Option {
	return func(a *Aggregator) { a.SetThemeThresholds(minDreams, minOccurrence) }
}

// WithClock replaces time.Now for relative periods.
func WithClock(now func() time.Time) Option { return func(a *Aggregator) { a.now = now } }

// Aggregator computes stats over a store.
type Aggregator struct {
	dreams        store.Dreams
	themes        *theme.Extractor
	cache         cache.Cache
	minDreams     atomic.Int64
	minOccurrence atomic.Int64
	now           func() time.Time
}

// New returns an Aggregator reading from dreams.
func New(dreams store.Dreams, themes *theme.Extractor, opts ...Option) *Aggregator {
	a := &Aggregator{
		dreams: dreams,
		themes: themes,
		cache:  cache.Noop{},
		now:    time.Now,
	}
	a.SetThemeThresholds(theme.DefaultMinDreams, theme.DefaultMinOccurrence)
	for _, o := range opts {
		o(a)
	}
	return a
}

// Profile returns the all-time profile stats.
func (a *Aggregator) Profile(ctx context.Context, userID uuid.UUID) (Profile, error) {
	return cache.Fetch(ctx, a.cache, userID, "profile", func(ctx context.Context) (Profile, error) {
		return a.profile(ctx, userID, store.Window{})
	})
}

// Dashboard returns the stats restricted to q's window.
func (a *Aggregator) Dashboard(ctx context.Context, userID uuid.UUID, q Query) (Dashboard, error) {
	now := a.now()
	w, err := q.Window(now)
	if err != nil {
		return Dashboard{}, err
	}
	return cache.Fetch(ctx, a.cache, userID, "dashboard:"+q.cacheKey(now), func(ctx context.Context) (Dashboard, error) {
		return a.dashboard(ctx, userID, w)
	})
}

// SetThemeThresholds changes the recurring-theme minimums of later
// computations. Cached results keep the old values until they expire or are
// invalidated.
func (a *Aggregator) SetThemeThresholds(minDreams, minOccurrence int) {
	a.minDreams.Store(int64(minDreams))
	a.minOccurrence.Store(int64(minOccurrence))
}

// Invalidate drops the cached results of userID.
func (a *Aggregator) Invalidate(ctx context.Context, userID uuid.UUID) error {
	return a.cache.Invalidate(ctx, userID)
}

func (a *Aggregator) dashboard(ctx context.Context, userID uuid.UUID, w store.Window) (Dashboard, error) {
	var d Dashboard
	if !w.From.IsZero() {
		d.From = w.From.UTC().Format(dateLayout)
	}
	if !w.To.IsZero() {
		d.To = w.To.UTC().AddDate(0, 0, -1).Format(dateLayout)
	}

	p, err := a.profile(ctx, userID, w)
	if err != nil {
		return Dashboard{}, err
	}
	d.Profile = p

	dominants, err := a.dreams.DominantEmotions(ctx, userID, w)
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: dominant emotions: %w", err)
	}
	d.EmotionDistribution = Distribution(dominants)

	types, err := a.dreams.DailyTypeCounts(ctx, userID, w)
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: type timeline: %w", err)
	}
	d.TypeTimeline = Timeline(types, string(dream.TypeDream), string(dream.TypeNightmare))

	emotions, err := a.dreams.DailyEmotionCounts(ctx, userID, w)
	if err != nil {
		return Dashboard{}, fmt.Errorf("stats: emotion timeline: %w", err)
	}
	d.EmotionTimeline = Timeline(emotions)
	return d, nil
}

func (a *Aggregator) profile(ctx context.Context, userID uuid.UUID, w store.Window) (Profile, error) {
	counts, err := a.dreams.TypeCounts(ctx, userID, w)
	if err != nil {
		return Profile{}, fmt.Errorf("stats: type counts: %w", err)
	}
	dominants, err := a.dreams.DominantEmotions(ctx, userID, w)
	if err != nil {
		return Profile{}, fmt.Errorf("stats: dominant emotions: %w", err)
	}
	texts, err := a.dreams.Transcriptions(ctx, userID, w)
	if err != nil {
		return Profile{}, fmt.Errorf("stats: transcriptions: %w", err)
	}
	var themes theme.Result
	if a.themes != nil {
		themes = a.themes.Analyze(texts, int(a.minDreams.Load()), int(a.minOccurrence.Load()))
	}
	return ComputeProfile(counts, dominants, themes), nil
}

// ComputeProfile builds the profile from type counts, the chronological
// dominant emotions and the theme summary.
func ComputeProfile(counts map[dream.Type]int, dominants []string, themes theme.Result) Profile {
	p := Profile{
		Theme:           themes.TopTheme,
		ThemePercentage: themes.Percentage,
		ThemeMessage:    themes.Message,
		Themes:          themes.Themes,
	}
	dreams, nightmares := counts[dream.TypeDream], counts[dream.TypeNightmare]
	total := dreams + nightmares
	p.TotalDreams = total
	if total == 0 {
		p.Status, p.StatusLabel, p.DominantEmotion = StatusSilent, LabelSilent, EmotionSilent
		return p
	}

	if nightmares > dreams {
		p.Status, p.StatusLabel = StatusNightmare, LabelNightmares
		p.StatusPercentage = Percent(nightmares, total)
	} else {
		p.Status, p.StatusLabel = StatusDreamer, LabelDreams
		p.StatusPercentage = Percent(dreams, total)
	}

	if key, n := mostFrequent(dominants); n > 0 {
		p.DominantEmotion = labels.Emotion(key)
		p.EmotionPercentage = Percent(n, total)
	} else {
		p.DominantEmotion = EmotionSilent
	}
	return p
}

// mostFrequent returns the most common value; ties go to the value seen
// first.
func mostFrequent(values []string) (string, int) {
	freq := make(map[string]int, len(values))
	best, bestN := "", 0
	for _, v := range values {
		if v == "" {
			continue
		}
		freq[v]++
	}
	for _, v := range values {
		if n := freq[v]; n > bestN {
			best, bestN = v, n
		}
	}
	return best, bestN
}

// Distribution counts dominant emotions, most frequent first. Ties keep
// first-seen order.
func Distribution(dominants []string) []EmotionShare {
	freq := make(map[string]int)
	var order []string
	total := 0
	for _, v := range dominants {
		if v == "" {
			continue
		}
		if freq[v] == 0 {
			order = append(order, v)
		}
		freq[v]++
		total++
	}
	out := make([]EmotionShare, 0, len(order))
	for _, k := range order {
		out = append(out, EmotionShare{
			Emotion:    k,
			Label:      labels.Emotion(k),
			Count:      freq[k],
			Percentage: Percent(freq[k], total),
		})
	}
	slices.SortStableFunc(out, func(a, b EmotionShare) int { return cmp.Compare(b.Count, a.Count) })
	return out
}

// Timeline groups day counts into one point per date. Every point carries
// each key in always plus every key seen in the window, zero-filled; dates
// without records are absent.
func Timeline(counts []store.DayCount, always ...string) []TimelinePoint {
	keys := slices.Clone(always)
	for _, c := range counts {
		if !slices.Contains(keys, c.Key) {
			keys = append(keys, c.Key)
		}
	}

	var out []TimelinePoint
	index := make(map[string]int)
	for _, c := range counts {
		date := store.Day(c.Day).Format(dateLayout)
		i, ok := index[date]
		if !ok {
			pt := TimelinePoint{Date: date, Counts: make(map[string]int, len(keys))}
			for _, k := range keys {
				pt.Counts[k] = 0
			}
			i = len(out)
			index[date] = i
			out = append(out, pt)
		}
		out[i].Counts[c.Key] += c.Count
	}
	slices.SortFunc(out, func(a, b TimelinePoint) int { return cmp.Compare(a.Date, b.Date) })
	if out == nil {
		out = []TimelinePoint{}
	}
	return out
}

// Percent is round(100*part/total), 0 when total is 0.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(part) / float64(total)))
}
