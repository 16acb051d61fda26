package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/bturcanu/adgateway/pkg/directory"
	"github.com/bturcanu/adgateway/pkg/types"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewStore(mock), mock
}

func sampleEvent(t *testing.T) *Event {
	t.Helper()
	req := types.ShapeRequest(map[string]any{
		"action": "delete", "aws_region": "us-east-1", "directory_id": "d-1",
	})
	ev, err := NewEvent("ev-1", req, directory.Succeeded(directory.StatusDeleted, "d-1"),
		"alice", time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), 42*time.Millisecond)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestNewEvent(t *testing.T) {
	ev := sampleEvent(t)
	if ev.Action != types.ActionDelete || ev.Region != "us-east-1" || ev.DirectoryID != "d-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if string(ev.Request) != `{"action":"delete","aws_region":"us-east-1","directory_id":"d-1"}` {
		t.Errorf("request not canonical: %s", ev.Request)
	}
	if ev.DurationMS != 42 {
		t.Errorf("DurationMS = %d", ev.DurationMS)
	}
}

func TestNewEvent_FailedCreateHasNoDirectoryID(t *testing.T) {
	req := types.ShapeRequest(map[string]any{"action": "create", "aws_region": "us-east-1"})
	ev, err := NewEvent("ev-2", req, directory.Failed(errors.New("boom")), "", time.Now(), 0)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if ev.DirectoryID != "" {
		t.Errorf("expected no directory id, got %q", ev.DirectoryID)
	}
}

func TestStore_EnsureSchema(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS directory_events").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_Record_ExtendsRegionChain(t *testing.T) {
	store, mock := newMockStore(t)
	ev := sampleEvent(t)

	canonResult, err := CanonicalJSON(ev.Result)
	if err != nil {
		t.Fatal(err)
	}
	wantHash := ChainHash("prev-hash", ev.Request, canonResult)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(regionLockID("us-east-1")).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT hash FROM directory_events").
		WithArgs("us-east-1").
		WillReturnRows(mock.NewRows([]string{"hash"}).AddRow("prev-hash"))
	mock.ExpectExec("INSERT INTO directory_events").
		WithArgs(
			"ev-1", "delete", "us-east-1", "d-1", "alice",
			[]byte(ev.Request), canonResult, "",
			ev.ReceivedAt, int64(42), wantHash, "prev-hash",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := store.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.Hash != wantHash || ev.PrevHash != "prev-hash" {
		t.Errorf("hash=%s prev=%s", ev.Hash, ev.PrevHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_Record_FirstEventStartsChain(t *testing.T) {
	store, mock := newMockStore(t)
	ev := sampleEvent(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT hash FROM directory_events").
		WithArgs("us-east-1").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec("INSERT INTO directory_events").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	if err := store.Record(context.Background(), ev); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if ev.PrevHash != "" || ev.Hash == "" {
		t.Errorf("expected chain start, got hash=%q prev=%q", ev.Hash, ev.PrevHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_Record_LockFailureRollsBack(t *testing.T) {
	store, mock := newMockStore(t)
	ev := sampleEvent(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.Record(context.Background(), ev)
	if err == nil {
		t.Fatal("expected error")
	}
	if ev.Hash != "" {
		t.Error("hash must not be set when the insert did not happen")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_Get(t *testing.T) {
	store, mock := newMockStore(t)
	received := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := mock.NewRows([]string{
		"event_id", "action", "region", "directory_id", "caller_id",
		"request_canon", "result_canon", "received_at", "duration_ms", "hash", "prev_hash",
	}).AddRow(
		"ev-1", "delete", "us-east-1", "d-1", "alice",
		[]byte(`{"action":"delete"}`), []byte(`{"directory_id":"d-1","status":"deleted"}`),
		received, int64(42), "h1", "",
	)
	mock.ExpectQuery("FROM directory_events WHERE event_id").
		WithArgs("ev-1").
		WillReturnRows(rows)

	ev, err := store.Get(context.Background(), "ev-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ev == nil {
		t.Fatal("expected event")
	}
	if ev.Action != types.ActionDelete || ev.Result.Status != directory.StatusDeleted || ev.Result.DirectoryID != "d-1" {
		t.Errorf("unexpected event: %+v", ev)
	}
	if !ev.ReceivedAt.Equal(received) || ev.DurationMS != 42 {
		t.Errorf("unexpected timing: %v %d", ev.ReceivedAt, ev.DurationMS)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM directory_events WHERE event_id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	ev, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev != nil {
		t.Errorf("expected nil event, got %+v", ev)
	}
}

func TestStore_VerifyRegion(t *testing.T) {
	store, mock := newMockStore(t)

	r1, r2 := []byte(`{"n":1}`), []byte(`{"n":2}`)
	res := []byte(`{"status":"created"}`)
	h1 := ChainHash("", r1, res)
	h2 := ChainHash(h1, r2, res)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cols := []string{"seq", "event_id", "hash", "prev_hash", "request_canon", "result_canon", "received_at"}
	mock.ExpectQuery("SELECT seq, event_id, hash, prev_hash").
		WithArgs("eu-west-1", int64(0)).
		WillReturnRows(mock.NewRows(cols).
			AddRow(int64(1), "e1", h1, "", r1, res, at).
			AddRow(int64(2), "e2", h2, h1, r2, res, at))

	n, err := store.VerifyRegion(context.Background(), "eu-west-1")
	if err != nil {
		t.Fatalf("VerifyRegion: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 events, got %d", n)
	}

	mock.ExpectQuery("SELECT seq, event_id, hash, prev_hash").
		WithArgs("eu-west-1", int64(0)).
		WillReturnRows(mock.NewRows(cols).
			AddRow(int64(1), "e1", h1, "", r1, res, at).
			AddRow(int64(2), "e2", "forged", h1, r2, res, at))

	if _, err := store.VerifyRegion(context.Background(), "eu-west-1"); err == nil {
		t.Fatal("expected tampering to be detected")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_ChainEventsAfter(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	cols := []string{"seq", "event_id", "hash", "prev_hash", "request_canon", "result_canon", "received_at"}
	mock.ExpectQuery("seq > \\$2").
		WithArgs("us-east-1", int64(7)).
		WillReturnRows(mock.NewRows(cols).AddRow(int64(8), "e8", "h8", "h7", []byte(`{}`), []byte(`{}`), at))

	events, err := store.ChainEventsAfter(context.Background(), "us-east-1", 7)
	if err != nil {
		t.Fatalf("ChainEventsAfter: %v", err)
	}
	if len(events) != 1 || events[0].Seq != 8 || events[0].PrevHash != "h7" || !events[0].ReceivedAt.Equal(at) {
		t.Errorf("unexpected events: %+v", events)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestStore_Regions(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT DISTINCT region").
		WillReturnRows(mock.NewRows([]string{"region"}).AddRow("eu-west-1").AddRow("us-east-1"))

	regions, err := store.Regions(context.Background())
	if err != nil {
		t.Fatalf("Regions: %v", err)
	}
	if len(regions) != 2 || regions[0] != "eu-west-1" {
		t.Errorf("unexpected regions: %v", regions)
	}
}

func TestStore_ArchiveCheckpoint(t *testing.T) {
	store, mock := newMockStore(t)
	until := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM directory_archive_checkpoints").
		WithArgs("us-east-1").
		WillReturnError(pgx.ErrNoRows)
	cp, err := store.ArchiveCheckpoint(context.Background(), "us-east-1")
	if err != nil || cp.Seq != 0 || cp.Hash != "" {
		t.Fatalf("expected zero checkpoint, got %+v err=%v", cp, err)
	}

	mock.ExpectExec("INSERT INTO directory_archive_checkpoints").
		WithArgs("us-east-1", int64(12), "h12", until).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	if err := store.SaveArchiveCheckpoint(context.Background(), "us-east-1", Checkpoint{Seq: 12, Hash: "h12", Until: until}); err != nil {
		t.Fatalf("SaveArchiveCheckpoint: %v", err)
	}

	mock.ExpectQuery("FROM directory_archive_checkpoints").
		WithArgs("us-east-1").
		WillReturnRows(mock.NewRows([]string{"last_seq", "last_hash", "until_ts"}).AddRow(int64(12), "h12", until))
	cp, err = store.ArchiveCheckpoint(context.Background(), "us-east-1")
	if err != nil || cp.Seq != 12 || cp.Hash != "h12" {
		t.Fatalf("unexpected checkpoint %+v err=%v", cp, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRegionLockID_PerRegion(t *testing.T) {
	if regionLockID("us-east-1") != regionLockID("us-east-1") {
		t.Error("lock id must be deterministic")
	}
	if regionLockID("us-east-1") == regionLockID("us-west-2") {
		t.Error("regions should not share a lock")
	}
}
