package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// Event is one dispatched /run call and its outcome.
type Event struct {
	EventID     string           `json:"event_id"`
	Action      types.Action     `json:"action"`
	Region      string           `json:"aws_region"`
	DirectoryID string           `json:"directory_id,omitempty"`
	CallerID    string           `json:"caller_id,omitempty"`
	Request     json.RawMessage  `json:"request"`
	Result      directory.Result `json:"result"`
	ReceivedAt  time.Time        `json:"received_at"`
	DurationMS  int64            `json:"duration_ms"`
	Hash        string           `json:"hash,omitempty"`
	PrevHash    string           `json:"prev_hash,omitempty"`
}

// NewEvent builds the audit record for one dispatched request.
func NewEvent(eventID string, req types.DirectoryRequest, res directory.Result, callerID string, receivedAt time.Time, elapsed time.Duration) (*Event, error) {
	canon, err := CanonicalJSON(req)
	if err != nil {
		return nil, fmt.Errorf("audit.NewEvent canonical request: %w", err)
	}
	dirID := res.DirectoryID
	if dirID == "" {
		dirID = req.String(types.FieldDirectoryID)
	}
	return &Event{
		EventID:     eventID,
		Action:      req.Action,
		Region:      req.Region(),
		DirectoryID: dirID,
		CallerID:    callerID,
		Request:     canon,
		Result:      res,
		ReceivedAt:  receivedAt.UTC(),
		DurationMS:  elapsed.Milliseconds(),
	}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS directory_events (
	seq           BIGSERIAL   PRIMARY KEY,
	event_id      TEXT        NOT NULL UNIQUE,
	action        TEXT        NOT NULL,
	region        TEXT        NOT NULL,
	directory_id  TEXT        NOT NULL DEFAULT '',
	caller_id     TEXT        NOT NULL DEFAULT '',
	request_canon BYTEA       NOT NULL,
	result_canon  BYTEA       NOT NULL,
	error_kind    TEXT        NOT NULL DEFAULT '',
	received_at   TIMESTAMPTZ NOT NULL,
	duration_ms   BIGINT      NOT NULL,
	hash          TEXT        NOT NULL,
	prev_hash     TEXT        NOT NULL
);
CREATE INDEX IF NOT EXISTS directory_events_region_seq ON directory_events (region, seq);
CREATE INDEX IF NOT EXISTS directory_events_directory ON directory_events (directory_id);
CREATE TABLE IF NOT EXISTS directory_archive_checkpoints (
	region      TEXT        PRIMARY KEY,
	last_seq    BIGINT      NOT NULL,
	last_hash   TEXT        NOT NULL,
	archived_at TIMESTAMPTZ NOT NULL,
	until_ts    TIMESTAMPTZ NOT NULL
);
`

// Store persists directory events in Postgres.
type Store struct {
	db DB
}

// NewStore creates a store backed by db, typically a *pgxpool.Pool.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the events table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("audit.EnsureSchema: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Record appends ev to its region's chain and fills in Hash and PrevHash.
// A per-region advisory lock serialises appends so concurrent writers cannot
// fork the chain.
func (s *Store) Record(ctx context.Context, ev *Event) error {
	canonRequest, err := CanonicalJSON(ev.Request)
	if err != nil {
		return fmt.Errorf("audit.Record canonical request: %w", err)
	}
	canonResult, err := CanonicalJSON(ev.Result)
	if err != nil {
		return fmt.Errorf("audit.Record canonical result: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit.Record begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", regionLockID(ev.Region)); err != nil {
		return fmt.Errorf("audit.Record advisory lock: %w", err)
	}

	prevHash, err := lastHashTx(ctx, tx, ev.Region)
	if err != nil {
		return fmt.Errorf("audit.Record last hash: %w", err)
	}
	hash := ChainHash(prevHash, canonRequest, canonResult)

	_, err = tx.Exec(ctx, `
		INSERT INTO directory_events (
			event_id, action, region, directory_id, caller_id,
			request_canon, result_canon, error_kind,
			received_at, duration_ms, hash, prev_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		ev.EventID, string(ev.Action), ev.Region, ev.DirectoryID, ev.CallerID,
		canonRequest, canonResult, string(ev.Result.Kind),
		ev.ReceivedAt, ev.DurationMS, hash, prevHash,
	)
	if err != nil {
		return fmt.Errorf("audit.Record insert event: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit.Record commit: %w", err)
	}

	ev.Request = canonRequest
	ev.Hash = hash
	ev.PrevHash = prevHash
	return nil
}

// Get returns the event with eventID, or nil when there is none.
func (s *Store) Get(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRow(ctx, `
		SELECT event_id, action, region, directory_id, caller_id,
		       request_canon, result_canon, received_at, duration_ms, hash, prev_hash
		FROM directory_events WHERE event_id = $1`, eventID)

	var (
		ev           Event
		action       string
		requestCanon []byte
		resultCanon  []byte
	)
	err := row.Scan(
		&ev.EventID, &action, &ev.Region, &ev.DirectoryID, &ev.CallerID,
		&requestCanon, &resultCanon, &ev.ReceivedAt, &ev.DurationMS, &ev.Hash, &ev.PrevHash,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit.Get: %w", err)
	}
	ev.Action = types.Action(action)
	ev.Request = requestCanon
	if err := json.Unmarshal(resultCanon, &ev.Result); err != nil {
		return nil, fmt.Errorf("audit.Get unmarshal result: %w", err)
	}
	return &ev, nil
}

// ChainEvents returns a region's events oldest first.
func (s *Store) ChainEvents(ctx context.Context, region string) ([]ChainEvent, error) {
	return s.ChainEventsAfter(ctx, region, 0)
}

// ChainEventsAfter returns a region's events with seq > afterSeq, oldest first.
func (s *Store) ChainEventsAfter(ctx context.Context, region string, afterSeq int64) ([]ChainEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, event_id, hash, prev_hash, request_canon, result_canon, received_at
		FROM directory_events
		WHERE region = $1 AND seq > $2
		ORDER BY seq ASC`, region, afterSeq)
	if err != nil {
		return nil, fmt.Errorf("audit.ChainEvents: %w", err)
	}
	defer rows.Close()

	var events []ChainEvent
	for rows.Next() {
		var (
			ev          ChainEvent
			canonReq    []byte
			canonResult []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.EventID, &ev.Hash, &ev.PrevHash, &canonReq, &canonResult, &ev.ReceivedAt); err != nil {
			return nil, fmt.Errorf("audit.ChainEvents scan: %w", err)
		}
		ev.CanonRequest, ev.CanonResult = canonReq, canonResult
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit.ChainEvents iteration: %w", err)
	}
	return events, nil
}

// Regions lists every region with at least one recorded event.
func (s *Store) Regions(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT region FROM directory_events ORDER BY region`)
	if err != nil {
		return nil, fmt.Errorf("audit.Regions: %w", err)
	}
	defer rows.Close()

	var regions []string
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return nil, fmt.Errorf("audit.Regions scan: %w", err)
		}
		regions = append(regions, r)
	}
	return regions, rows.Err()
}

// Checkpoint marks how far a region's chain has been archived.
type Checkpoint struct {
	Seq   int64
	Hash  string
	Until time.Time
}

// ArchiveCheckpoint returns the region's checkpoint, or the zero value when
// nothing has been archived yet.
func (s *Store) ArchiveCheckpoint(ctx context.Context, region string) (Checkpoint, error) {
	var cp Checkpoint
	err := s.db.QueryRow(ctx, `
		SELECT last_seq, last_hash, until_ts
		FROM directory_archive_checkpoints WHERE region = $1`, region,
	).Scan(&cp.Seq, &cp.Hash, &cp.Until)
	if errors.Is(err, pgx.ErrNoRows) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("audit.ArchiveCheckpoint: %w", err)
	}
	return cp, nil
}

// SaveArchiveCheckpoint moves the region's checkpoint forward.
func (s *Store) SaveArchiveCheckpoint(ctx context.Context, region string, cp Checkpoint) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO directory_archive_checkpoints (region, last_seq, last_hash, archived_at, until_ts)
		VALUES ($1, $2, $3, now(), $4)
		ON CONFLICT (region) DO UPDATE
		SET last_seq = EXCLUDED.last_seq, last_hash = EXCLUDED.last_hash,
		    archived_at = EXCLUDED.archived_at, until_ts = EXCLUDED.until_ts
		WHERE directory_archive_checkpoints.last_seq < EXCLUDED.last_seq`,
		region, cp.Seq, cp.Hash, cp.Until.UTC())
	if err != nil {
		return fmt.Errorf("audit.SaveArchiveCheckpoint: %w", err)
	}
	return nil
}

// VerifyRegion loads and verifies one region's chain, returning its length.
func (s *Store) VerifyRegion(ctx context.Context, region string) (int, error) {
	events, err := s.ChainEvents(ctx, region)
	if err != nil {
		return 0, err
	}
	return len(events), VerifyChain(events)
}

func lastHashTx(ctx context.Context, tx pgx.Tx, region string) (string, error) {
	row := tx.QueryRow(ctx, `
		SELECT hash FROM directory_events
		WHERE region = $1
		ORDER BY seq DESC LIMIT 1`, region)

	var h string
	err := row.Scan(&h)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return h, err
}

// regionLockID maps a region to a deterministic advisory-lock key.
func regionLockID(region string) int64 {
	h := fnv.New64a()
	h.Write([]byte("directory_events:" + region))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}
