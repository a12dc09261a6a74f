// Package store defines persistence for users and dream records.
//
// Two implementations exist: memstore for tests and single-process use, and
// postgres for production. Every dream query is scoped by owner.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/user"
)

var (
	// ErrNotFound is returned when a row does not exist or belongs to
	// another user.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned on a unique-key violation.
	ErrConflict = errors.New("store: conflict")
)

// Window restricts queries to records created in [From, To). A zero bound is
// open.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !t.Before(w.To) {
		return false
	}
	return true
}

// DayCount is the number of records created on Day (UTC date) with Key.
type DayCount struct {
	Day   time.Time
	Key   string
	Count int
}

// Match is a related dream and its cosine similarity to the query dream.
type Match struct {
	Dream      *dream.Record
	Similarity float64
}

// Users persists accounts.
type Users interface {
	CreateUser(ctx context.Context, u *user.User) error
	UserByEmail(ctx context.Context, email string) (*user.User, error)
	UserByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, p user.Profile) error
	// DeleteUser removes the account and all of its dreams.
	DeleteUser(ctx context.Context, id uuid.UUID) error
}

// Dreams persists dream records.
type Dreams interface {
	CreateDream(ctx context.Context, rec *dream.Record) error
	// UpdateAnalysis writes the emotion, type, interpretation and status
	// fields of rec.
	UpdateAnalysis(ctx context.Context, rec *dream.Record) error
	// SaveImage writes the image, MIME type and prompt of rec.
	SaveImage(ctx context.Context, rec *dream.Record) error
	SetEmbedding(ctx context.Context, userID, id uuid.UUID, embedding []float32) error
	GetDream(ctx context.Context, userID, id uuid.UUID) (*dream.Record, error)
	DeleteDream(ctx context.Context, userID, id uuid.UUID) error

	// ListDreams returns the user's dreams, newest first, without image
	// bytes.
	ListDreams(ctx context.Context, userID uuid.UUID, w Window) ([]*dream.Record, error)
	// Transcriptions returns the non-empty transcriptions, oldest first.
	Transcriptions(ctx context.Context, userID uuid.UUID, w Window) ([]string, error)
	TypeCounts(ctx context.Context, userID uuid.UUID, w Window) (map[dream.Type]int, error)
	// DominantEmotions returns the non-null dominant emotions, oldest first.
	DominantEmotions(ctx context.Context, userID uuid.UUID, w Window) ([]string, error)
	// DailyTypeCounts and DailyEmotionCounts bucket by UTC calendar date,
	// ordered by day then key. Days without records are absent.
	DailyTypeCounts(ctx context.Context, userID uuid.UUID, w Window) ([]DayCount, error)
	DailyEmotionCounts(ctx context.Context, userID uuid.UUID, w Window) ([]DayCount, error)
	// Similar returns up to k of the user's other dreams closest to id.
	Similar(ctx context.Context, userID, id uuid.UUID, k int) ([]Match, error)
}

// Store is the full persistence surface.
type Store interface {
	Users
	Dreams
	Ping(ctx context.Context) error
	Close()
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
