// Package memstore is an in-memory store.Store.
package memstore

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/user"
)

var _ store.Store = (*Store)(nil)

// Store keeps users and dreams in maps guarded by one mutex.
type Store struct {
	mu     sync.RWMutex
	users  map[uuid.UUID]*user.User
	emails map[string]uuid.UUID
	dreams map[uuid.UUID]*dream.Record
	now    func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		users:  make(map[uuid.UUID]*user.User),
		emails: make(map[string]uuid.UUID),
		dreams: make(map[uuid.UUID]*dream.Record),
		now:    time.Now,
	}
}

// WithClock replaces the timestamp source. It returns s.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close()                     {}

func cloneUser(u *user.User) *user.User {
	c := *u
	c.PasswordHash = slices.Clone(u.PasswordHash)
	if u.Profile.Age != nil {
		age := *u.Profile.Age
		c.Profile.Age = &age
	}
	return &c
}

func cloneDream(r *dream.Record) *dream.Record {
	c := *r
	c.Image = slices.Clone(r.Image)
	c.Embedding = slices.Clone(r.Embedding)
	return &c
}

// CreateUser implements store.Users.
func (s *Store) CreateUser(_ context.Context, u *user.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := user.NormalizeEmail(u.Email)
	if _, taken := s.emails[email]; taken {
		return store.ErrConflict
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.Email = email
	s.users[u.ID] = cloneUser(u)
	s.emails[email] = u.ID
	return nil
}

// UserByEmail implements store.Users.
func (s *Store) UserByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[user.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

// UserByID implements store.Users.
func (s *Store) UserByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneUser(u), nil
}

// UpdateProfile implements store.Users.
func (s *Store) UpdateProfile(_ context.Context, id uuid.UUID, p user.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	tmp := cloneUser(&user.User{Profile: p})
	u.Profile = tmp.Profile
	return nil
}

// DeleteUser implements store.Users.
func (s *Store) DeleteUser(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.emails, u.Email)
	delete(s.users, id)
	for did, d := range s.dreams {
		if d.UserID == id {
			delete(s.dreams, did)
		}
	}
	return nil
}

// CreateDream implements store.Dreams.
func (s *Store) CreateDream(_ context.Context, rec *dream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[rec.UserID]; !ok {
		return store.ErrNotFound
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.dreams[rec.ID]; exists {
		return store.ErrConflict
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.dreams[rec.ID] = cloneDream(rec)
	return nil
}

func (s *Store) owned(userID, id uuid.UUID) (*dream.Record, error) {
	d, ok := s.dreams[id]
	if !ok || d.UserID != userID {
		return nil, store.ErrNotFound
	}
	return d, nil
}

// UpdateAnalysis implements store.Dreams.
func (s *Store) UpdateAnalysis(_ context.Context, rec *dream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.owned(rec.UserID, rec.ID)
	if err != nil {
		return err
	}
	d.Transcription = rec.Transcription
	d.EmotionsJSON = rec.EmotionsJSON
	d.DominantEmotion = rec.DominantEmotion
	d.DreamType = rec.DreamType
	d.InterpretationJSON = rec.InterpretationJSON
	d.IsAnalyzed = rec.IsAnalyzed
	d.UpdatedAt = s.now()
	rec.UpdatedAt = d.UpdatedAt
	return nil
}

// SaveImage implements store.Dreams.
func (s *Store) SaveImage(_ context.Context, rec *dream.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.owned(rec.UserID, rec.ID)
	if err != nil {
		return err
	}
	d.Image = slices.Clone(rec.Image)
	d.ImageMIME = rec.ImageMIME
	d.ImagePrompt = rec.ImagePrompt
	d.UpdatedAt = s.now()
	rec.UpdatedAt = d.UpdatedAt
	return nil
}

// SetEmbedding implements store.Dreams.
func (s *Store) SetEmbedding(_ context.Context, userID, id uuid.UUID, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.owned(userID, id)
	if err != nil {
		return err
	}
	d.Embedding = slices.Clone(embedding)
	return nil
}

// GetDream implements store.Dreams.
func (s *Store) GetDream(_ context.Context, userID, id uuid.UUID) (*dream.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, err := s.owned(userID, id)
	if err != nil {
		return nil, err
	}
	return cloneDream(d), nil
}

// DeleteDream implements store.Dreams.
func (s *Store) DeleteDream(_ context.Context, userID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.owned(userID, id); err != nil {
		return err
	}
	delete(s.dreams, id)
	return nil
}

// selectDreams returns the user's dreams in w, oldest first. Callers hold
// the read lock.
func (s *Store) selectDreams(userID uuid.UUID, w store.Window) []*dream.Record {
	var out []*dream.Record
	for _, d := range s.dreams {
		if d.UserID == userID && w.Contains(d.CreatedAt) {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *dream.Record) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}

// ListDreams implements store.Dreams.
func (s *Store) ListDreams(_ context.Context, userID uuid.UUID, w store.Window) ([]*dream.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel := s.selectDreams(userID, w)
	out := make([]*dream.Record, 0, len(sel))
	for i := len(sel) - 1; i >= 0; i-- {
		c := cloneDream(sel[i])
		c.Image = nil
		c.Embedding = nil
		out = append(out, c)
	}
	return out, nil
}

// Transcriptions implements store.Dreams.
func (s *Store) Transcriptions(_ context.Context, userID uuid.UUID, w store.Window) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, d := range s.selectDreams(userID, w) {
		if strings.TrimSpace(d.Transcription) != "" {
			out = append(out, d.Transcription)
		}
	}
	return out, nil
}

// TypeCounts implements store.Dreams.
func (s *Store) TypeCounts(_ context.Context, userID uuid.UUID, w store.Window) (map[dream.Type]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[dream.Type]int)
	for _, d := range s.selectDreams(userID, w) {
		out[d.DreamType]++
	}
	return out, nil
}

// DominantEmotions implements store.Dreams.
func (s *Store) DominantEmotions(_ context.Context, userID uuid.UUID, w store.Window) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, d := range s.selectDreams(userID, w) {
		if d.DominantEmotion != nil && *d.DominantEmotion != "" {
			out = append(out, *d.DominantEmotion)
		}
	}
	return out, nil
}

// DailyTypeCounts implements store.Dreams.
func (s *Store) DailyTypeCounts(_ context.Context, userID uuid.UUID, w store.Window) ([]store.DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.daily(userID, w, func(d *dream.Record) string { return string(d.DreamType) }), nil
}

// DailyEmotionCounts implements store.Dreams.
func (s *Store) DailyEmotionCounts(_ context.Context, userID uuid.UUID, w store.Window) ([]store.DayCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.daily(userID, w, (*dream.Record).Dominant), nil
}

func (s *Store) daily(userID uuid.UUID, w store.Window, key func(*dream.Record) string) []store.DayCount {
	type bucket struct {
		day time.Time
		key string
	}
	counts := make(map[bucket]int)
	for _, d := range s.selectDreams(userID, w) {
		k := key(d)
		if k == "" {
			continue
		}
		counts[bucket{store.Day(d.CreatedAt), k}]++
	}
	out := make([]store.DayCount, 0, len(counts))
	for b, n := range counts {
		out = append(out, store.DayCount{Day: b.day, Key: b.key, Count: n})
	}
	slices.SortFunc(out, func(a, b store.DayCount) int {
		if c := a.Day.Compare(b.Day); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return out
}

// Similar implements store.Dreams.
func (s *Store) Similar(_ context.Context, userID, id uuid.UUID, k int) ([]store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, err := s.owned(userID, id)
	if err != nil {
		return nil, err
	}
	if len(ref.Embedding) == 0 || k <= 0 {
		return []store.Match{}, nil
	}
	var out []store.Match
	for _, d := range s.dreams {
		if d.ID == id || d.UserID != userID || len(d.Embedding) != len(ref.Embedding) {
			continue
		}
		c := cloneDream(d)
		c.Image = nil
		out = append(out, store.Match{Dream: c, Similarity: Cosine(ref.Embedding, d.Embedding)})
	}
	slices.SortFunc(out, func(a, b store.Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return strings.Compare(a.Dream.ID.String(), b.Dream.ID.String())
	})
	if len(out) > k {
		out = out[:k]
	}
	if out == nil {
		out = []store.Match{}
	}
	return out, nil
}

// Cosine returns the cosine similarity of a and b, or 0 when either is a
// zero vector.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
