package ticket

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fixline/fixline/internal/models"
	"github.com/fixline/fixline/internal/ratelimit"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type recordingNotifier struct {
	mu      sync.Mutex
	created []uint
	changes []string // "id:old->new"
	overdue []uint
}

func (n *recordingNotifier) RequestCreated(req *models.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, req.ID)
}

func (n *recordingNotifier) RequestStatusChanged(req *models.Request, oldStatus string, actor *models.User) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, fmt.Sprintf("%d:%s->%s", req.ID, oldStatus, req.Status))
}

func (n *recordingNotifier) RequestOverdue(req *models.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.overdue = append(n.overdue, req.ID)
}

func (n *recordingNotifier) lastChange() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.changes) == 0 {
		return ""
	}
	return n.changes[len(n.changes)-1]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = gdb.AutoMigrate(&models.User{}, &models.Request{}, &models.RequestHistory{},
		&models.Comment{}, &models.File{})
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gdb
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	clock    *fakeClock
	notifier *recordingNotifier
	user     *models.User
	admin    *models.User
}

func newFixture(t *testing.T, limiter ratelimit.Limiter) *fixture {
	t.Helper()
	gdb := openTestDB(t)
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	svc, err := New(Opts{DB: gdb, Limiter: limiter, Notifier: notifier, Now: clock.Now})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	user := &models.User{PlatformID: "u-100", Username: "alice", Role: models.RoleUser, IsActive: true}
	admin := &models.User{PlatformID: "u-200", Username: "bob", Role: models.RoleAdmin, IsActive: true}
	if err := gdb.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := gdb.Create(admin).Error; err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	return &fixture{svc: svc, db: gdb, clock: clock, notifier: notifier, user: user, admin: admin}
}

func (f *fixture) createRequest(t *testing.T, priority string) *models.Request {
	t.Helper()
	req, err := f.svc.Create(CreateInput{
		User:        f.user,
		Description: "The radiator in the meeting room is leaking",
		Location:    "2F meeting room",
		Priority:    priority,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return req
}

func historyActions(t *testing.T, gdb *gorm.DB, requestID uint) []string {
	t.Helper()
	var entries []models.RequestHistory
	if err := gdb.Where("request_id = ?", requestID).Order("id ASC").Find(&entries).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestNew_NilDB(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error for nil DB")
	}
}

func TestGetOrCreateUser(t *testing.T) {
	f := newFixture(t, nil)

	u1, err := f.svc.GetOrCreateUser("u-300", "carol", "Carol", "")
	if err != nil {
		t.Fatalf("GetOrCreateUser: %v", err)
	}
	if u1.ID == 0 || u1.Role != models.RoleUser {
		t.Errorf("new user = %+v, want default role", u1)
	}

	u2, err := f.svc.GetOrCreateUser("u-300", "carol2", "Carol", "Smith")
	if err != nil {
		t.Fatalf("GetOrCreateUser again: %v", err)
	}
	if u2.ID != u1.ID {
		t.Errorf("second call created a new row: %d vs %d", u2.ID, u1.ID)
	}
	if u2.Username != "carol2" || u2.LastName != "Smith" {
		t.Errorf("profile not refreshed: %+v", u2)
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_Defaults(t *testing.T) {
	f := newFixture(t, nil)

	req, err := f.svc.Create(CreateInput{User: f.user, Description: "Broken chair"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.Status != models.StatusOpen {
		t.Errorf("Status = %q, want open", req.Status)
	}
	if req.Priority != models.PriorityMedium {
		t.Errorf("Priority = %q, want medium", req.Priority)
	}
	if req.Location != "unspecified" {
		t.Errorf("Location = %q, want unspecified", req.Location)
	}
	if req.Title != "Broken chair" {
		t.Errorf("Title = %q", req.Title)
	}
	if req.CompletedAt != nil {
		t.Error("CompletedAt should be nil on creation")
	}
	if req.AssignedTo != nil {
		t.Error("AssignedTo should be nil on creation")
	}
	if got := historyActions(t, f.db, req.ID); len(got) != 1 || got[0] != HistoryCreated {
		t.Errorf("history = %v, want [created]", got)
	}
	if len(f.notifier.created) != 1 || f.notifier.created[0] != req.ID {
		t.Errorf("notifier.created = %v", f.notifier.created)
	}
}

func TestCreate_TitleTruncation(t *testing.T) {
	f := newFixture(t, nil)

	long := ""
	for i := 0; i < 30; i++ {
		long += "0123456789"
	}
	req, err := f.svc.Create(CreateInput{User: f.user, Description: long})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := len([]rune(req.Title)); got != 100 {
		t.Errorf("title length = %d, want 100", got)
	}
}

func TestCreate_TooShortDescription(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Create(CreateInput{User: f.user, Description: "ab"}); err == nil {
		t.Fatal("expected validation error")
	}
	var count int64
	f.db.Model(&models.Request{}).Count(&count)
	if count != 0 {
		t.Errorf("request count = %d, want 0", count)
	}
}

func TestCreate_WithFiles(t *testing.T) {
	f := newFixture(t, nil)
	req, err := f.svc.Create(CreateInput{
		User:        f.user,
		Description: "Window won't close",
		Files:       []models.File{{FileRef: "file-abc", FileType: models.FileTypePhoto}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(req.Files) != 1 || req.Files[0].FileRef != "file-abc" {
		t.Errorf("Files = %+v", req.Files)
	}
	if req.Files[0].UploadedBy != f.user.ID {
		t.Errorf("UploadedBy = %d, want %d", req.Files[0].UploadedBy, f.user.ID)
	}
}

func TestCreate_RateLimited(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	limiter, err := ratelimit.NewMemory(ratelimit.Opts{
		Rules: map[string]ratelimit.Rule{ActionCreateRequest: {Max: 1, Window: time.Minute}},
		Now:   clock.Now,
	})
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	f := newFixture(t, limiter)

	f.createRequest(t, "")
	_, err = f.svc.Create(CreateInput{User: f.user, Description: "another problem"})
	rle, ok := IsRateLimited(err)
	if !ok {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rle.Action != ActionCreateRequest || rle.RetryAfter <= 0 {
		t.Errorf("unexpected rate limit error: %+v", rle)
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestTake(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, models.PriorityHigh)

	taken, err := f.svc.Take(req.ID, f.admin)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	if taken.Status != models.StatusInProgress {
		t.Errorf("Status = %q, want in_progress", taken.Status)
	}
	if taken.AssignedTo == nil || *taken.AssignedTo != f.admin.ID {
		t.Errorf("AssignedTo = %v, want %d", taken.AssignedTo, f.admin.ID)
	}
	if got := f.notifier.lastChange(); got != fmt.Sprintf("%d:open->in_progress", req.ID) {
		t.Errorf("notified change = %q", got)
	}
}

func TestTake_NotOpen(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")
	if _, err := f.svc.Take(req.ID, f.admin); err != nil {
		t.Fatalf("first Take: %v", err)
	}

	before, _ := f.svc.ByID(req.ID)
	_, err := f.svc.Take(req.ID, f.admin)
	if !errors.Is(err, ErrNotActionable) {
		t.Fatalf("err = %v, want ErrNotActionable", err)
	}

	after, _ := f.svc.ByID(req.ID)
	if after.Status != before.Status || len(after.History) != len(before.History) {
		t.Error("failed Take must leave the request and history unmodified")
	}
}

func TestTake_NotFound(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.svc.Take(9999, f.admin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTake_RequiresAdmin(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")
	if _, err := f.svc.Take(req.ID, f.user); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestComplete(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")
	if _, err := f.svc.Take(req.ID, f.admin); err != nil {
		t.Fatalf("Take: %v", err)
	}

	f.clock.advance(3 * time.Hour)
	done, err := f.svc.Complete(req.ID, f.admin)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", done.Status)
	}
	if done.CompletedAt == nil {
		t.Fatal("CompletedAt should be set")
	}
	if got := done.CompletedAt.Sub(done.CreatedAt); got != 3*time.Hour {
		t.Errorf("completion span = %v, want 3h", got)
	}
}

func TestComplete_NotInProgress(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")
	if _, err := f.svc.Complete(req.ID, f.admin); !errors.Is(err, ErrNotActionable) {
		t.Fatalf("err = %v, want ErrNotActionable for open request", err)
	}
}

func TestReject_FromEachStatus(t *testing.T) {
	f := newFixture(t, nil)

	// Open: allowed.
	open := f.createRequest(t, "")
	if _, err := f.svc.Reject(open.ID, f.admin, "duplicate"); err != nil {
		t.Errorf("Reject open: %v", err)
	}

	// In progress: allowed.
	inProg := f.createRequest(t, "")
	f.svc.Take(inProg.ID, f.admin)
	if _, err := f.svc.Reject(inProg.ID, f.admin, ""); err != nil {
		t.Errorf("Reject in_progress: %v", err)
	}

	// Completed: refused.
	done := f.createRequest(t, "")
	f.svc.Take(done.ID, f.admin)
	f.svc.Complete(done.ID, f.admin)
	if _, err := f.svc.Reject(done.ID, f.admin, ""); !errors.Is(err, ErrNotActionable) {
		t.Errorf("Reject completed: err = %v, want ErrNotActionable", err)
	}
}

func TestReject_SecondRejectRefused(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")

	if _, err := f.svc.Reject(req.ID, f.admin, "not ours"); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if _, err := f.svc.Reject(req.ID, f.admin, "again"); !errors.Is(err, ErrNotActionable) {
		t.Fatalf("second Reject: err = %v, want ErrNotActionable", err)
	}

	// Exactly one status change recorded.
	got := historyActions(t, f.db, req.ID)
	want := []string{HistoryCreated, HistoryStatusChanged}
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
}

func TestSetPriority(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, models.PriorityLow)

	updated, err := f.svc.SetPriority(req.ID, f.admin, models.PriorityHigh)
	if err != nil {
		t.Fatalf("SetPriority: %v", err)
	}
	if updated.Priority != models.PriorityHigh {
		t.Errorf("Priority = %q, want high", updated.Priority)
	}

	if _, err := f.svc.SetPriority(req.ID, f.admin, "urgent"); err == nil {
		t.Error("expected error for unknown priority")
	}

	// No status guard: terminal requests may still be reprioritized.
	f.svc.Reject(req.ID, f.admin, "")
	updated, err = f.svc.SetPriority(req.ID, f.admin, models.PriorityLow)
	if err != nil {
		t.Fatalf("SetPriority on rejected: %v", err)
	}
	if updated.Priority != models.PriorityLow {
		t.Errorf("Priority = %q, want low", updated.Priority)
	}

	// Same-priority call is a no-op with no history entry.
	before := len(historyActions(t, f.db, req.ID))
	if _, err := f.svc.SetPriority(req.ID, f.admin, models.PriorityLow); err != nil {
		t.Fatalf("no-op SetPriority: %v", err)
	}
	if after := len(historyActions(t, f.db, req.ID)); after != before {
		t.Errorf("no-op SetPriority wrote history: %d -> %d", before, after)
	}
}

// ---------------------------------------------------------------------------
// Comments and files
// ---------------------------------------------------------------------------

func TestAddComment(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")

	c, err := f.svc.AddComment(req.ID, f.user, "  still broken  ")
	if err != nil {
		t.Fatalf("AddComment: %v", err)
	}
	if c.Body != "still broken" {
		t.Errorf("Body = %q, want trimmed", c.Body)
	}

	if _, err := f.svc.AddComment(9999, f.user, "hello"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := f.svc.AddComment(req.ID, f.user, "   "); err == nil {
		t.Error("expected validation error for blank comment")
	}
}

func TestAddComment_RequesterOrAdminOnly(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")

	stranger := &models.User{PlatformID: "u-300", Username: "carol", Role: models.RoleUser, IsActive: true}
	if err := f.db.Create(stranger).Error; err != nil {
		t.Fatalf("seed stranger: %v", err)
	}

	if _, err := f.svc.AddComment(req.ID, stranger, "me too"); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger comment err = %v, want ErrForbidden", err)
	}
	if _, err := f.svc.AddComment(req.ID, f.admin, "on it"); err != nil {
		t.Errorf("admin comment on someone else's request: %v", err)
	}

	loaded, _ := f.svc.ByID(req.ID)
	if len(loaded.Comments) != 1 {
		t.Errorf("Comments = %d, want only the admin's", len(loaded.Comments))
	}
}

func TestAttachFile(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")

	file, err := f.svc.AttachFile(req.ID, f.user, models.File{FileRef: "photo-1"})
	if err != nil {
		t.Fatalf("AttachFile: %v", err)
	}
	if file.FileType != models.FileTypePhoto {
		t.Errorf("FileType = %q, want default photo", file.FileType)
	}

	loaded, _ := f.svc.ByID(req.ID)
	if len(loaded.Files) != 1 {
		t.Errorf("Files = %d, want 1", len(loaded.Files))
	}

	stranger := &models.User{PlatformID: "u-301", Username: "dave", Role: models.RoleUser, IsActive: true}
	if err := f.db.Create(stranger).Error; err != nil {
		t.Fatalf("seed stranger: %v", err)
	}
	if _, err := f.svc.AttachFile(req.ID, stranger, models.File{FileRef: "photo-2"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("stranger attach err = %v, want ErrForbidden", err)
	}
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func TestTriage_Order(t *testing.T) {
	f := newFixture(t, nil)

	highEarly := f.createRequest(t, models.PriorityHigh)
	f.clock.advance(time.Minute)
	medium := f.createRequest(t, models.PriorityMedium)
	f.clock.advance(time.Minute)
	low := f.createRequest(t, models.PriorityLow)
	f.clock.advance(time.Minute)
	highLate := f.createRequest(t, models.PriorityHigh)

	reqs, err := f.svc.Triage()
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	want := []uint{highEarly.ID, highLate.ID, medium.ID, low.ID}
	if len(reqs) != len(want) {
		t.Fatalf("got %d requests, want %d", len(reqs), len(want))
	}
	for i, id := range want {
		if reqs[i].ID != id {
			t.Errorf("position %d: got #%d, want #%d", i, reqs[i].ID, id)
		}
	}
}

func TestTriage_ExcludesTerminal(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")
	f.svc.Reject(req.ID, f.admin, "")

	reqs, err := f.svc.Triage()
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if len(reqs) != 0 {
		t.Errorf("triage should exclude rejected requests, got %d", len(reqs))
	}
}

func TestArchive(t *testing.T) {
	f := newFixture(t, nil)

	first := f.createRequest(t, "")
	f.svc.Take(first.ID, f.admin)
	f.svc.Complete(first.ID, f.admin)

	f.clock.advance(time.Hour)
	second := f.createRequest(t, "")
	f.svc.Take(second.ID, f.admin)
	f.svc.Complete(second.ID, f.admin)

	reqs, err := f.svc.Archive(0)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("got %d, want 2", len(reqs))
	}
	if reqs[0].ID != second.ID {
		t.Errorf("archive should be newest first, got #%d", reqs[0].ID)
	}

	limited, _ := f.svc.Archive(1)
	if len(limited) != 1 {
		t.Errorf("limit ignored: got %d", len(limited))
	}
}

func TestOverdue(t *testing.T) {
	f := newFixture(t, nil)

	old := f.createRequest(t, models.PriorityHigh)
	f.createRequest(t, models.PriorityLow) // low priority, never overdue

	f.clock.advance(49 * time.Hour)
	f.createRequest(t, models.PriorityHigh) // fresh, inside the window

	overdue, err := f.svc.Overdue(48 * time.Hour)
	if err != nil {
		t.Fatalf("Overdue: %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != old.ID {
		t.Errorf("overdue has %d entries, want only #%d", len(overdue), old.ID)
	}
}

func TestList_Filters(t *testing.T) {
	f := newFixture(t, nil)
	f.createRequest(t, models.PriorityHigh)
	low := f.createRequest(t, models.PriorityLow)
	f.svc.Take(low.ID, f.admin)

	byStatus, err := f.svc.List(Filter{Status: models.StatusInProgress})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != low.ID {
		t.Errorf("status filter = %v", byStatus)
	}

	byPriority, _ := f.svc.List(Filter{Priority: models.PriorityHigh})
	if len(byPriority) != 1 {
		t.Errorf("priority filter returned %d", len(byPriority))
	}

	// Both requests were created before this cutoff.
	recent, _ := f.svc.List(Filter{CreatedAfter: f.clock.Now().Add(time.Minute)})
	if len(recent) != 0 {
		t.Errorf("created-after filter returned %d", len(recent))
	}
	all, _ := f.svc.List(Filter{CreatedAfter: f.clock.Now().Add(-time.Minute)})
	if len(all) != 2 {
		t.Errorf("created-after window should include both, got %d", len(all))
	}
}

func TestHistory_Trail(t *testing.T) {
	f := newFixture(t, nil)
	req := f.createRequest(t, "")
	f.svc.Take(req.ID, f.admin)
	f.clock.advance(time.Minute)
	f.svc.AddComment(req.ID, f.user, "any update?")
	f.clock.advance(time.Minute)
	f.svc.Complete(req.ID, f.admin)

	got := historyActions(t, f.db, req.ID)
	want := []string{HistoryCreated, HistoryStatusChanged, HistoryCommentAdded, HistoryStatusChanged}
	if len(got) != len(want) {
		t.Fatalf("history = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
