// Package postgres is the PostgreSQL store.Store. Schema changes are goose
// migrations embedded in the binary; embeddings use the pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/onyria/onyria/internal/dream"
	"github.com/onyria/onyria/internal/store"
	"github.com/onyria/onyria/internal/user"
)

var _ store.Store = (*Store)(nil)

// Querier is the subset of *pgxpool.Pool the store uses. pgxmock pools
// satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Store implements store.Store on PostgreSQL.
type Store struct {
	db    Querier
	close func()
	now   func() time.Time
}

// Options tune the connection pool.
type Options struct {
	MaxConns int32
}

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Open migrates the database at dsn, then connects a pool with pgvector
// types registered on every connection.
func Open(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if err := Migrate(ctx, dsn); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{db: pool, close: pool.Close, now: time.Now}, nil
}

// New wraps an existing connection. The caller keeps ownership of db.
func New(db Querier) *Store {
	return &Store{db: db, close: func() {}, now: time.Now}
}

// Ping implements store.Store.
func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close implements store.Store.
func (s *Store) Close() { s.close() }

// mapError turns driver errors into store sentinels.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s: %w", op, store.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("postgres: %s: %w", op, store.ErrConflict)
		case "23503": // foreign_key_violation
			return fmt.Errorf("postgres: %s: %w", op, store.ErrNotFound)
		}
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func (s *Store) exec(ctx context.Context, op string, b sq.Sqlizer) (pgconn.CommandTag, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("postgres: %s: build: %w", op, err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	return tag, mapError(op, err)
}

// execOne runs b and reports ErrNotFound when no row was touched.
func (s *Store) execOne(ctx context.Context, op string, b sq.Sqlizer) error {
	tag, err := s.exec(ctx, op, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s: %w", op, store.ErrNotFound)
	}
	return nil
}

// ---- users ------------------------------------------------------------------

var userColumns = []string{"id", "email", "username", "password_hash", "age", "sexe", "bio", "profile_picture_base64", "created_at"}

// CreateUser implements store.Users.
func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	u.Email = user.NormalizeEmail(u.Email)
	_, err := s.exec(ctx, "create user", psql.Insert("users").Columns(userColumns...).Values(
		u.ID, u.Email, u.Username, u.PasswordHash, u.Profile.Age, string(u.Profile.Gender),
		u.Profile.Bio, u.Profile.PictureBase64, u.CreatedAt,
	))
	return err
}

func (s *Store) getUser(ctx context.Context, op string, where sq.Eq) (*user.User, error) {
	query, args, err := psql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: build: %w", op, err)
	}
	var (
		u      user.User
		gender string
	)
	err = s.db.QueryRow(ctx, query, args...).Scan(
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.Profile.Age, &gender,
		&u.Profile.Bio, &u.Profile.PictureBase64, &u.CreatedAt,
	)
	if err != nil {
		return nil, mapError(op, err)
	}
	u.Profile.Gender = user.Gender(gender)
	return &u, nil
}

// UserByEmail implements store.Users.
func (s *Store) UserByEmail(ctx context.Context, email string) (*user.User, error) {
	return s.getUser(ctx, "user by email", sq.Eq{"email": user.NormalizeEmail(email)})
}

// UserByID implements store.Users.
func (s *Store) UserByID(ctx context.Context, id uuid.UUID) (*user.User, error) {
	return s.getUser(ctx, "user by id", sq.Eq{"id": id})
}

// UpdateProfile implements store.Users.
func (s *Store) UpdateProfile(ctx context.Context, id uuid.UUID, p user.Profile) error {
	return s.execOne(ctx, "update profile", psql.Update("users").
		Set("age", p.Age).
		Set("sexe", string(p.Gender)).
		Set("bio", p.Bio).
		Set("profile_picture_base64", p.PictureBase64).
		Where(sq.Eq{"id": id}))
}

// DeleteUser implements store.Users. Dreams go with the foreign-key cascade.
func (s *Store) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return s.execOne(ctx, "delete user", psql.Delete("users").Where(sq.Eq{"id": id}))
}

// ---- dreams -----------------------------------------------------------------

// listColumns omit the image and embedding payloads.
var listColumns = []string{
	"id", "user_id", "transcription", "emotions", "dominant_emotion", "dream_type",
	"interpretation", "image_mime", "image_prompt", "is_analyzed", "created_at", "updated_at",
}

func scanListRow(row pgx.Row, r *dream.Record, extra ...any) error {
	var typ string
	dest := []any{
		&r.ID, &r.UserID, &r.Transcription, &r.EmotionsJSON, &r.DominantEmotion, &typ,
		&r.InterpretationJSON, &r.ImageMIME, &r.ImagePrompt, &r.IsAnalyzed, &r.CreatedAt, &r.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	r.DreamType = dream.Type(typ)
	return nil
}

// CreateDream implements store.Dreams.
func (s *Store) CreateDream(ctx context.Context, rec *dream.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := s.now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if !rec.DreamType.Valid() {
		rec.DreamType = dream.TypeDream
	}
	_, err := s.exec(ctx, "create dream", psql.Insert("dreams").
		Columns("id", "user_id", "transcription", "emotions", "dominant_emotion", "dream_type",
			"interpretation", "is_analyzed", "created_at", "updated_at").
		Values(rec.ID, rec.UserID, rec.Transcription, rec.EmotionsJSON, rec.DominantEmotion, string(rec.DreamType),
			rec.InterpretationJSON, rec.IsAnalyzed, rec.CreatedAt, rec.UpdatedAt))
	return err
}

// UpdateAnalysis implements store.Dreams.
func (s *Store) UpdateAnalysis(ctx context.Context, rec *dream.Record) error {
	now := s.now()
	err := s.execOne(ctx, "update analysis", psql.Update("dreams").
		Set("transcription", rec.Transcription).
		Set("emotions", rec.EmotionsJSON).
		Set("dominant_emotion", rec.DominantEmotion).
		Set("dream_type", string(rec.DreamType)).
		Set("interpretation", rec.InterpretationJSON).
		Set("is_analyzed", rec.IsAnalyzed).
		Set("updated_at", now).
		Where(sq.Eq{"id": rec.ID, "user_id": rec.UserID}))
	if err == nil {
		rec.UpdatedAt = now
	}
	return err
}

// SaveImage implements store.Dreams.
func (s *Store) SaveImage(ctx context.Context, rec *dream.Record) error {
	now := s.now()
	err := s.execOne(ctx, "save image", psql.Update("dreams").
		Set("image", rec.Image).
		Set("image_mime", rec.ImageMIME).
		Set("image_prompt", rec.ImagePrompt).
		Set("updated_at", now).
		Where(sq.Eq{"id": rec.ID, "user_id": rec.UserID}))
	if err == nil {
		rec.UpdatedAt = now
	}
	return err
}

// SetEmbedding implements store.Dreams.
func (s *Store) SetEmbedding(ctx context.Context, userID, id uuid.UUID, embedding []float32) error {
	return s.execOne(ctx, "set embedding", psql.Update("dreams").
		Set("embedding", pgvector.NewVector(embedding)).
		Where(sq.Eq{"id": id, "user_id": userID}))
}

// GetDream implements store.Dreams.
func (s *Store) GetDream(ctx context.Context, userID, id uuid.UUID) (*dream.Record, error) {
	query, args, err := psql.Select(listColumns...).Column("image").
		From("dreams").Where(sq.Eq{"id": id, "user_id": userID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: get dream: build: %w", err)
	}
	var rec dream.Record
	if err := scanListRow(s.db.QueryRow(ctx, query, args...), &rec, &rec.Image); err != nil {
		return nil, mapError("get dream", err)
	}
	return &rec, nil
}

// DeleteDream implements store.Dreams.
func (s *Store) DeleteDream(ctx context.Context, userID, id uuid.UUID) error {
	return s.execOne(ctx, "delete dream", psql.Delete("dreams").Where(sq.Eq{"id": id, "user_id": userID}))
}

// windowed scopes b to userID and w.
func windowed(b sq.SelectBuilder, userID uuid.UUID, w store.Window) sq.SelectBuilder {
	b = b.Where(sq.Eq{"user_id": userID})
	if !w.From.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": w.From})
	}
	if !w.To.IsZero() {
		b = b.Where(sq.Lt{"created_at": w.To})
	}
	return b
}

func (s *Store) query(ctx context.Context, op string, b sq.SelectBuilder) (pgx.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: build: %w", op, err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	return rows, nil
}

// ListDreams implements store.Dreams.
func (s *Store) ListDreams(ctx context.Context, userID uuid.UUID, w store.Window) ([]*dream.Record, error) {
	rows, err := s.query(ctx, "list dreams",
		windowed(psql.Select(listColumns...).From("dreams"), userID, w).OrderBy("created_at DESC", "id DESC"))
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*dream.Record, error) {
		var r dream.Record
		err := scanListRow(row, &r)
		return &r, err
	})
	if err != nil {
		return nil, mapError("list dreams", err)
	}
	return out, nil
}

// Transcriptions implements store.Dreams.
func (s *Store) Transcriptions(ctx context.Context, userID uuid.UUID, w store.Window) ([]string, error) {
	rows, err := s.query(ctx, "transcriptions",
		windowed(psql.Select("transcription").From("dreams"), userID, w).
			Where("btrim(transcription) <> ''").OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, mapError("transcriptions", err)
}

// TypeCounts implements store.Dreams.
func (s *Store) TypeCounts(ctx context.Context, userID uuid.UUID, w store.Window) (map[dream.Type]int, error) {
	rows, err := s.query(ctx, "type counts",
		windowed(psql.Select("dream_type", "count(*)").From("dreams"), userID, w).GroupBy("dream_type"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[dream.Type]int)
	for rows.Next() {
		var (
			typ string
			n   int
		)
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, mapError("type counts", err)
		}
		out[dream.Type(typ)] = n
	}
	return out, mapError("type counts", rows.Err())
}

// DominantEmotions implements store.Dreams.
func (s *Store) DominantEmotions(ctx context.Context, userID uuid.UUID, w store.Window) ([]string, error) {
	rows, err := s.query(ctx, "dominant emotions",
		windowed(psql.Select("dominant_emotion").From("dreams"), userID, w).
			Where("dominant_emotion IS NOT NULL AND dominant_emotion <> ''").OrderBy("created_at ASC", "id ASC"))
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return out, mapError("dominant emotions", err)
}

const utcDay = "(created_at AT TIME ZONE 'UTC')::date"

func (s *Store) daily(ctx context.Context, op, column string, userID uuid.UUID, w store.Window) ([]store.DayCount, error) {
	rows, err := s.query(ctx, op,
		windowed(psql.Select(utcDay+" AS day", column, "count(*)").From("dreams"), userID, w).
			Where(column+" IS NOT NULL AND "+column+" <> ''").
			GroupBy("day", column).OrderBy("day ASC", column+" ASC"))
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.DayCount, error) {
		var dc store.DayCount
		err := row.Scan(&dc.Day, &dc.Key, &dc.Count)
		dc.Day = store.Day(dc.Day)
		return dc, err
	})
	return out, mapError(op, err)
}

// DailyTypeCounts implements store.Dreams.
func (s *Store) DailyTypeCounts(ctx context.Context, userID uuid.UUID, w store.Window) ([]store.DayCount, error) {
	return s.daily(ctx, "daily type counts", "dream_type", userID, w)
}

// DailyEmotionCounts implements store.Dreams.
func (s *Store) DailyEmotionCounts(ctx context.Context, userID uuid.UUID, w store.Window) ([]store.DayCount, error) {
	return s.daily(ctx, "daily emotion counts", "dominant_emotion", userID, w)
}

// Similar implements store.Dreams using cosine distance (<=>).
func (s *Store) Similar(ctx context.Context, userID, id uuid.UUID, k int) ([]store.Match, error) {
	query, args, err := psql.Select("embedding").From("dreams").Where(sq.Eq{"id": id, "user_id": userID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("postgres: similar: build: %w", err)
	}
	var ref *pgvector.Vector
	if err := s.db.QueryRow(ctx, query, args...).Scan(&ref); err != nil {
		return nil, mapError("similar", err)
	}
	if ref == nil || len(ref.Slice()) == 0 || k <= 0 {
		return []store.Match{}, nil
	}

	rows, err := s.query(ctx, "similar", psql.Select(listColumns...).
		Column(sq.Expr("1 - (embedding <=> ?)", *ref)).
		From("dreams").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.NotEq{"id": id}).
		Where("embedding IS NOT NULL").
		Where(sq.Expr("vector_dims(embedding) = ?", len(ref.Slice()))).
		OrderByClause("embedding <=> ?", *ref).
		Limit(uint64(k)))
	if err != nil {
		return nil, err
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.Match, error) {
		var (
			r   dream.Record
			sim float64
		)
		err := scanListRow(row, &r, &sim)
		return store.Match{Dream: &r, Similarity: sim}, err
	})
	if err != nil {
		return nil, mapError("similar", err)
	}
	if out == nil {
		out = []store.Match{}
	}
	return out, nil
}
