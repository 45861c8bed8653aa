package records

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/daylens/internal/apperr"
	"github.com/starford/daylens/internal/docstore"
	"github.com/starford/daylens/internal/formcodec"
	"github.com/starford/daylens/internal/models"
	"github.com/starford/daylens/internal/testutil"
)

// countingStore counts calls that reach the store.
type countingStore struct {
	DocumentStore
	calls atomic.Int64
}

func (c *countingStore) Add(ctx context.Context, col string, data any) (string, error) {
	c.calls.Add(1)
	return c.DocumentStore.Add(ctx, col, data)
}

func (c *countingStore) Set(ctx context.Context, col, id string, data any, opts ...docstore.SetOption) error {
	c.calls.Add(1)
	return c.DocumentStore.Set(ctx, col, id, data, opts...)
}

func (c *countingStore) Delete(ctx context.Context, col, id string) error {
	c.calls.Add(1)
	return c.DocumentStore.Delete(ctx, col, id)
}

func (c *countingStore) Get(ctx context.Context, col, id string) (docstore.Document, error) {
	c.calls.Add(1)
	return c.DocumentStore.Get(ctx, col, id)
}

// failingStore fails every write.
type failingStore struct{ DocumentStore }

func (failingStore) Add(context.Context, string, any) (string, error) {
	return "", errors.New("backend unavailable")
}

// queueExec is an Executor whose posted work runs only when drained.
type queueExec struct {
	mu    sync.Mutex
	queue []func()
}

func (q *queueExec) Post(fn func()) {
	q.mu.Lock()
	q.queue = append(q.queue, fn)
	q.mu.Unlock()
}

func (q *queueExec) Go(work func(ctx context.Context) error, done func(error)) {
	err := work(context.Background())
	q.Post(func() { done(err) })
}

func (q *queueExec) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.queue[0]
		q.queue = q.queue[1:]
		q.mu.Unlock()
		fn()
	}
}

type note struct {
	msg     string
	isError bool
}

type notes struct{ list []note }

func (n *notes) Notify(msg string, isError bool) { n.list = append(n.list, note{msg, isError}) }

func (n *notes) last() note {
	if len(n.list) == 0 {
		return note{}
	}
	return n.list[len(n.list)-1]
}

var (
	alice = &models.User{UID: "alice", Email: "alice@example.com"}
	guest = &models.User{UID: "guest", Anonymous: true}
)

func newRepo(t *testing.T, store DocumentStore) *Repository {
	t.Helper()
	return NewRepository(store, "test-app", time.UTC, testutil.Logger())
}

func TestSaveCreateSetsTimestampsAndOwner(t *testing.T) {
	repo := newRepo(t, testutil.TestStore(t))
	ctx := context.Background()

	form := formcodec.LogForm{
		Date:   "2024-01-01",
		Create: []models.CreateEntry{{Description: "Wrote a page"}, {Description: ""}},
	}
	saved, err := repo.Save(ctx, alice, form, nil)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if saved.ID == "" || saved.UserID != "alice" {
		t.Errorf("saved = %+v", saved)
	}
	if !saved.CreatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("createdAt %v != updatedAt %v", saved.CreatedAt, saved.UpdatedAt)
	}

	got, err := repo.Get(ctx, alice, saved.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Create) != 1 || got.Create[0].Description != "Wrote a page" {
		t.Errorf("create = %+v", got.Create)
	}
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !got.Date.Equal(want) {
		t.Errorf("date = %v, want %v", got.Date, want)
	}
	if got.Meditate.Duration != 0 || got.Connect == nil || got.Learn == nil {
		t.Errorf("defaults = %+v", got)
	}
}

func TestSaveUpdatePreservesCreatedAt(t *testing.T) {
	repo := newRepo(t, testutil.TestStore(t))
	ctx := context.Background()

	t0 := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return t0 }
	created, err := repo.Save(ctx, alice, formcodec.LogForm{Date: "2024-01-01"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	current := created
	for i := 1; i <= 3; i++ {
		ti := t0.Add(time.Duration(i) * time.Hour)
		repo.now = func() time.Time { return ti }
		form := formcodec.FromLog(current)
		form.Connect = append(form.Connect, models.ConnectEntry{People: "friend"})
		if _, err := repo.Save(ctx, alice, form, &current); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
		next, err := repo.Get(ctx, alice, created.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !next.CreatedAt.Equal(t0) {
			t.Errorf("update %d: createdAt = %v, want %v", i, next.CreatedAt, t0)
		}
		if !next.UpdatedAt.After(current.UpdatedAt) {
			t.Errorf("update %d: updatedAt did not advance", i)
		}
		if len(next.Connect) != len(current.Connect)+1 {
			t.Errorf("update %d: connect len = %d, want %d", i, len(next.Connect), len(current.Connect)+1)
		}
		current = next
	}
}

func TestSaveUpdatedAtNeverGoesBackwards(t *testing.T) {
	repo := newRepo(t, testutil.TestStore(t))
	ctx := context.Background()
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return later }
	created, _ := repo.Save(ctx, alice, formcodec.LogForm{Date: "2024-01-01"}, nil)

	repo.now = func() time.Time { return later.Add(-time.Hour) }
	updated, err := repo.Save(ctx, alice, formcodec.LogForm{Date: "2024-01-01"}, &created)
	if err != nil {
		t.Fatal(err)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Errorf("updatedAt went backwards: %v < %v", updated.UpdatedAt, created.UpdatedAt)
	}
}

func TestSaveRejectsWithoutRemoteCall(t *testing.T) {
	store := &countingStore{DocumentStore: testutil.TestStore(t)}
	repo := newRepo(t, store)
	ctx := context.Background()

	for _, u := range []*models.User{nil, guest} {
		_, err := repo.Save(ctx, u, formcodec.LogForm{Date: "2024-01-01"}, nil)
		if !errors.Is(err, apperr.ErrValidation) || apperr.MessageOf(err) != MsgSaveSignedOut {
			t.Errorf("Save(%v) err = %v", u, err)
		}
		if err := repo.Delete(ctx, u, "x"); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Delete(%v) err = %v", u, err)
		}
	}
	if _, err := repo.Save(ctx, alice, formcodec.LogForm{Date: "not a date"}, nil); apperr.MessageOf(err) != MsgInvalidDate {
		t.Errorf("bad date err = %v", err)
	}
	if n := store.calls.Load(); n != 0 {
		t.Errorf("store calls = %d, want 0", n)
	}
}

func TestSaveUpdateMissingIsNotFound(t *testing.T) {
	repo := newRepo(t, testutil.TestStore(t))
	ghost := &models.DayLog{ID: "missing"}
	_, err := repo.Save(context.Background(), alice, formcodec.LogForm{Date: "2024-01-01"}, ghost)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestListIsScopedToOwner(t *testing.T) {
	repo := newRepo(t, testutil.TestStore(t))
	ctx := context.Background()
	bob := &models.User{UID: "bob", Email: "bob@example.com"}

	_, _ = repo.Save(ctx, alice, formcodec.LogForm{Date: "2024-01-01"}, nil)
	_, _ = repo.Save(ctx, alice, formcodec.LogForm{Date: "2024-01-03"}, nil)
	_, _ = repo.Save(ctx, bob, formcodec.LogForm{Date: "2024-01-02"}, nil)

	logs, err := repo.List(ctx, alice)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("alice logs = %d, want 2", len(logs))
	}
	if !logs[0].Date.After(logs[1].Date) {
		t.Error("logs not ordered by date descending")
	}
	if _, err := repo.List(ctx, guest); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("guest list err = %v", err)
	}
}

func waitFor(t *testing.T, exec *queueExec, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		exec.drain()
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAdapterSnapshotsReplaceCollection(t *testing.T) {
	repo := newRepo(t, testutil.TestStore(t))
	exec := &queueExec{}
	var n notes
	renders := 0
	a := NewAdapter(repo, exec, &n, testutil.Logger(), func() { renders++ })

	if err := a.StartSubscription(alice); err != nil {
		t.Fatal(err)
	}
	waitFor(t, exec, func() bool { return renders >= 1 }, "initial snapshot")
	if len(a.Logs()) != 0 {
		t.Fatalf("initial logs = %d", len(a.Logs()))
	}

	done := make(chan error, 1)
	a.Save(alice, formcodec.LogForm{Date: "2024-01-01", Create: []models.CreateEntry{{Description: "Wrote a page"}}}, nil,
		func(err error) { done <- err })
	waitFor(t, exec, func() bool { return len(a.Logs()) == 1 }, "save not reflected")
	if err := <-done; err != nil {
		t.Fatalf("save: %v", err)
	}
	if n.last().msg != "Day log added successfully!" {
		t.Errorf("notification = %+v", n.last())
	}
	got := a.Logs()[0]
	if len(got.Create) != 1 || got.Create[0].Description != "Wrote a page" || !got.CreatedAt.Equal(got.UpdatedAt) {
		t.Errorf("log = %+v", got)
	}

	a.Delete(alice, got.ID, func(err error) { done <- err })
	waitFor(t, exec, func() bool { return len(a.Logs()) == 0 }, "delete not reflected")
	if err := <-done; err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n.last().msg != "Day log deleted successfully!" {
		t.Errorf("notification = %+v", n.last())
	}
}

func TestAdapterStopDiscardsLateSnapshots(t *testing.T) {
	store := testutil.TestStore(t)
	repo := newRepo(t, store)
	exec := &queueExec{}
	a := NewAdapter(repo, exec, &notes{}, testutil.Logger(), func() {})

	_ = a.StartSubscription(alice)
	waitFor(t, exec, func() bool { return a.Active() }, "not active")
	_, _ = repo.Save(context.Background(), alice, formcodec.LogForm{Date: "2024-01-01"}, nil)
	waitFor(t, exec, func() bool { return len(a.Logs()) == 1 }, "snapshot")

	a.StopSubscription()
	a.StopSubscription()
	if a.Active() || a.Logs() != nil {
		t.Fatal("stop did not clear state")
	}
	_, _ = repo.Save(context.Background(), alice, formcodec.LogForm{Date: "2024-01-02"}, nil)
	time.Sleep(50 * time.Millisecond)
	exec.drain()
	if len(a.Logs()) != 0 {
		t.Errorf("late snapshot applied after stop")
	}
	if store.ListenerCount() != 0 {
		t.Errorf("listeners = %d", store.ListenerCount())
	}
}

func TestAdapterRejectsGuestSubscription(t *testing.T) {
	a := NewAdapter(newRepo(t, testutil.TestStore(t)), &queueExec{}, &notes{}, testutil.Logger(), func() {})
	if err := a.StartSubscription(guest); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v", err)
	}
	if a.Active() {
		t.Error("guest subscription should not be active")
	}
}

func TestAdapterReportsFailures(t *testing.T) {
	repo := newRepo(t, failingStore{testutil.TestStore(t)})
	exec := &queueExec{}
	var n notes
	a := NewAdapter(repo, exec, &n, testutil.Logger(), func() {})

	var got error
	called := false
	a.Save(alice, formcodec.LogForm{Date: "2024-01-01"}, nil, func(err error) { called, got = true, err })
	exec.drain()
	if !called || got == nil {
		t.Fatalf("done called=%v err=%v", called, got)
	}
	if last := n.last(); !last.isError || last.msg != "Error saving day log: backend unavailable" {
		t.Errorf("notification = %+v", last)
	}

	a.Save(guest, formcodec.LogForm{Date: "2024-01-01"}, nil, func(err error) { got = err })
	exec.drain()
	if last := n.last(); last.msg != MsgSaveSignedOut || !last.isError {
		t.Errorf("guest notification = %+v", last)
	}
}
