package store

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/scrollback/dbopen"
	"github.com/hazyhaar/scrollback/exporter/record"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return &Store{DB: dbopen.OpenMemory(t, dbopen.WithSchema(Schema))}
}

func testExport() *record.Export {
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &record.Export{
		Session: record.Session{
			ID: "sess-1", Scope: "main", ChatTitle: "Ops",
			StartedAt: start, EndedAt: start.Add(time.Minute), Status: record.StatusDone,
		},
		Messages: []record.Message{
			{ID: "m1", Author: "Ada", Timestamp: "10:00", Time: start, BodyText: "hello"},
			{ID: "m2", Author: "Bob", BodyText: "hi", Reactions: []record.Reaction{{Label: "like", Count: 2}}},
		},
		Manifest: []record.AssetRef{
			{ID: "m1/1", MessageID: "m1", Ordinal: 1, Kind: record.KindContent, State: record.StateDownloaded, Path: "images/a.png"},
			{ID: "m2/1", MessageID: "m2", Ordinal: 1, Kind: record.KindSprite, State: record.StateScreenshotted, Path: "images/b.png"},
			{ID: "m2/2", MessageID: "m2", Ordinal: 2, Kind: record.KindContent, State: record.StateFailed, Err: "boom"},
		},
		Summary: record.Summary{Collected: 3, Normalized: 2, Skipped: []string{"c:dead"}, AssetsResolved: 2, AssetsFailed: 1},
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	exp := testExport()

	running := exp.Session
	running.Status = record.StatusRunning
	running.EndedAt = time.Time{}
	if err := s.BeginSession(ctx, running); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.UpdateProgress(ctx, record.Progress{SessionID: "sess-1", Collected: 2, Status: record.StatusRunning}); err != nil {
		t.Fatalf("progress: %v", err)
	}
	got, err := s.GetSession(ctx, "sess-1")
	if err != nil || got == nil {
		t.Fatalf("get: %v, %v", got, err)
	}
	if got.Collected != 2 || got.Status != record.StatusRunning {
		t.Errorf("running row: got %+v", got)
	}

	if err := s.SaveExport(ctx, exp, "/tmp/Ops_2024"); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err = s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != record.StatusDone {
		t.Errorf("Status: got %q, want done", got.Status)
	}
	if got.Dir != "/tmp/Ops_2024" {
		t.Errorf("Dir: got %q", got.Dir)
	}
	if got.Summary.AssetsFailed != 1 || len(got.Summary.Skipped) != 1 {
		t.Errorf("Summary: got %+v", got.Summary)
	}
	if !got.EndedAt.Equal(exp.Session.EndedAt) {
		t.Errorf("EndedAt: got %v, want %v", got.EndedAt, exp.Session.EndedAt)
	}
}

func TestSaveExport_MessagesInOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	if err := s.SaveExport(ctx, testExport(), ""); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages: got %+v", msgs)
	}
	if msgs[0].Time.IsZero() || !msgs[1].Time.IsZero() {
		t.Errorf("times: got %v, %v", msgs[0].Time, msgs[1].Time)
	}
	if len(msgs[1].Reactions) != 1 || msgs[1].Reactions[0].Count != 2 {
		t.Errorf("reactions: got %+v", msgs[1].Reactions)
	}

	counts, err := s.AssetCounts(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	want := map[record.AssetState]int{record.StateDownloaded: 1, record.StateScreenshotted: 1, record.StateFailed: 1}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("AssetCounts[%s]: got %d, want %d", k, counts[k], v)
		}
	}
}

func TestSaveExport_Replaces(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	exp := testExport()
	if err := s.SaveExport(ctx, exp, ""); err != nil {
		t.Fatal(err)
	}
	exp.Messages = exp.Messages[:1]
	if err := s.SaveExport(ctx, exp, ""); err != nil {
		t.Fatal(err)
	}
	msgs, err := s.Messages(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Errorf("messages after resave: got %d, want 1", len(msgs))
	}
}

func TestRecentSessions(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		sess := record.Session{ID: id, StartedAt: base.Add(time.Duration(i) * time.Hour), Status: record.StatusRunning}
		if err := s.BeginSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := s.RecentSessions(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != "c" || rows[1].ID != "b" {
		t.Errorf("recent: got %v", rows)
	}
	missing, err := s.GetSession(ctx, "zzz")
	if err != nil || missing != nil {
		t.Errorf("missing: got %v, %v", missing, err)
	}
}
