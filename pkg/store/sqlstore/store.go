package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/MrCodeEU/facegate/pkg/events"
)

// Store implements events.Store on a SQL database.
type Store struct {
	db *sqlx.DB
}

var (
	_ events.Store          = (*Store)(nil)
	_ events.OutcomeCounter = (*Store)(nil)
)

// New wraps an already migrated database.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type eventRow struct {
	ID            int64          `db:"id"`
	Identity      sql.NullString `db:"identity"`
	Confidence    float64        `db:"confidence"`
	Granted       bool           `db:"granted"`
	EventType     string         `db:"event_type"`
	FailureReason sql.NullString `db:"failure_reason"`
	OccurredAtMs  int64          `db:"occurred_at_ms"`
	ImageRef      sql.NullString `db:"image_ref"`
	Extra         sql.NullString `db:"extra"`
}

type trainingRow struct {
	ID           int64  `db:"id"`
	Identity     string `db:"identity"`
	ImageCount   int    `db:"image_count"`
	ModelKind    string `db:"model_kind"`
	OccurredAtMs int64  `db:"occurred_at_ms"`
	Succeeded    bool   `db:"succeeded"`
}

const queryInsertEvent = `
INSERT INTO access_events(
  identity, confidence, granted, event_type, failure_reason, occurred_at_ms, image_ref, extra
) VALUES (
  :identity, :confidence, :granted, :event_type, :failure_reason, :occurred_at_ms, :image_ref, :extra
) RETURNING id`

const queryInsertTraining = `
INSERT INTO training_sessions(
  identity, image_count, model_kind, occurred_at_ms, succeeded
) VALUES (
  :identity, :image_count, :model_kind, :occurred_at_ms, :succeeded
) RETURNING id`

func nullString[T ~string](v *T) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func toRow(ev events.AccessEvent) (eventRow, error) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	row := eventRow{
		Identity:      nullString(ev.Identity),
		Confidence:    ev.Confidence,
		Granted:       ev.Granted,
		EventType:     string(ev.EventType),
		FailureReason: nullString(ev.FailureReason),
		OccurredAtMs:  ev.Timestamp.UTC().UnixMilli(),
		ImageRef:      nullString(ev.ImageRef),
	}
	if len(ev.Extra) > 0 {
		b, err := json.Marshal(ev.Extra)
		if err != nil {
			return eventRow{}, fmt.Errorf("marshal extra: %w", err)
		}
		row.Extra = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (r eventRow) toEvent() events.AccessEvent {
	ev := events.AccessEvent{
		ID:         r.ID,
		Confidence: r.Confidence,
		Granted:    r.Granted,
		EventType:  events.EventType(r.EventType),
		Timestamp:  time.UnixMilli(r.OccurredAtMs).UTC(),
	}
	if r.Identity.Valid {
		ev.Identity = events.Ptr(r.Identity.String)
	}
	if r.FailureReason.Valid {
		ev.FailureReason = events.Ptr(events.FailureReason(r.FailureReason.String))
	}
	if r.ImageRef.Valid {
		ev.ImageRef = events.Ptr(events.ImageRef(r.ImageRef.String))
	}
	if r.Extra.Valid && r.Extra.String != "" {
		// A corrupt extra column should not hide the event itself.
		_ = json.Unmarshal([]byte(r.Extra.String), &ev.Extra)
	}
	return ev
}

func (s *Store) insert(ctx context.Context, op, query string, arg any) (int64, error) {
	q, args, err := sqlx.Named(query, arg)
	if err != nil {
		return 0, events.Persist(op, fmt.Errorf("%w: %w", events.ErrWriteRejected, err))
	}

	var id int64
	if err := s.db.QueryRowxContext(ctx, s.db.Rebind(q), args...).Scan(&id); err != nil {
		return 0, events.Persist(op, classify(err))
	}
	return id, nil
}

func (s *Store) InsertAccessEvent(ctx context.Context, ev events.AccessEvent) (int64, error) {
	if !ev.EventType.Valid() {
		return 0, events.Persist("insert_access_event", fmt.Errorf("%w: event type %q", events.ErrWriteRejected, ev.EventType))
	}
	row, err := toRow(ev)
	if err != nil {
		return 0, events.Persist("insert_access_event", fmt.Errorf("%w: %w", events.ErrWriteRejected, err))
	}
	return s.insert(ctx, "insert_access_event", queryInsertEvent, row)
}

func (s *Store) InsertTrainingSession(ctx context.Context, rec events.TrainingSessionRecord) (int64, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	row := trainingRow{
		Identity:     rec.Identity,
		ImageCount:   rec.ImageCount,
		ModelKind:    rec.ModelKind,
		OccurredAtMs: rec.Timestamp.UTC().UnixMilli(),
		Succeeded:    rec.Succeeded,
	}
	return s.insert(ctx, "insert_training_session", queryInsertTraining, row)
}

// where renders f as a WHERE clause with "?" placeholders.
func where(f events.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Identity != nil {
		conds = append(conds, "identity = ?")
		args = append(args, *f.Identity)
	}
	if f.Granted != nil {
		conds = append(conds, "granted = ?")
		args = append(args, *f.Granted)
	}
	if f.EventType != nil {
		conds = append(conds, "event_type = ?")
		args = append(args, string(*f.EventType))
	}
	if f.Since != nil {
		conds = append(conds, "occurred_at_ms >= ?")
		args = append(args, f.Since.UTC().UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) QueryEvents(ctx context.Context, f events.Filter, limit int) ([]events.AccessEvent, error) {
	if limit <= 0 {
		return nil, events.Query("query_events", fmt.Errorf("%w: limit must be positive", events.ErrInvalidFilter))
	}
	if err := f.Validate(); err != nil {
		return nil, events.Query("query_events", err)
	}

	clause, args := where(f)
	q := "SELECT id, identity, confidence, granted, event_type, failure_reason, occurred_at_ms, image_ref, extra FROM access_events" +
		clause + " ORDER BY occurred_at_ms DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, events.Query("query_events", classify(err))
	}

	out := make([]events.AccessEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEvent())
	}
	return out, nil
}

func (s *Store) CountEvents(ctx context.Context, f events.Filter) (int64, error) {
	if err := f.Validate(); err != nil {
		return 0, events.Query("count_events", err)
	}

	clause, args := where(f)
	var n int64
	if err := s.db.GetContext(ctx, &n, s.db.Rebind("SELECT COUNT(*) FROM access_events"+clause), args...); err != nil {
		return 0, events.Query("count_events", classify(err))
	}
	return n, nil
}

// CountOutcomes groups the whole table in a single statement so the totals
// and the per identity counts come from one snapshot.
func (s *Store) CountOutcomes(ctx context.Context) (events.OutcomeCounts, error) {
	var rows []struct {
		Granted  bool           `db:"granted"`
		Identity sql.NullString `db:"identity"`
		Count    int64          `db:"n"`
	}
	q := `SELECT granted, identity, COUNT(*) AS n FROM access_events GROUP BY granted, identity`
	if err := s.db.SelectContext(ctx, &rows, q); err != nil {
		return events.OutcomeCounts{}, events.Query("count_outcomes", classify(err))
	}

	out := events.OutcomeCounts{GrantedByIdentity: map[string]int64{}}
	for _, r := range rows {
		if !r.Granted {
			out.Denied += r.Count
			continue
		}
		out.Granted += r.Count
		if r.Identity.Valid {
			out.GrantedByIdentity[r.Identity.String] += r.Count
		}
	}
	return out, nil
}

func (s *Store) QueryTrainingSessions(ctx context.Context, limit int) ([]events.TrainingSessionRecord, error) {
	if limit <= 0 {
		return nil, events.Query("query_training_sessions", fmt.Errorf("%w: limit must be positive", events.ErrInvalidFilter))
	}

	var rows []trainingRow
	q := s.db.Rebind(`
SELECT id, identity, image_count, model_kind, occurred_at_ms, succeeded FROM training_sessions
ORDER BY occurred_at_ms DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, events.Query("query_training_sessions", classify(err))
	}

	out := make([]events.TrainingSessionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, events.TrainingSessionRecord{
			ID:         r.ID,
			Identity:   r.Identity,
			ImageCount: r.ImageCount,
			ModelKind:  r.ModelKind,
			Timestamp:  time.UnixMilli(r.OccurredAtMs).UTC(),
			Succeeded:  r.Succeeded,
		})
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// classify tags a driver error with the matching store sentinel. Constraint
// violations are rejections; everything else means the store is unusable.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %w", events.ErrWriteRejected, err)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return fmt.Errorf("%w: %w", events.ErrWriteRejected, err)
	}
	return fmt.Errorf("%w: %w", events.ErrStoreUnavailable, err)
}
