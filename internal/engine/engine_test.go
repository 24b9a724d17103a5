package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"branchline/internal/config"
	"branchline/internal/db"
	"branchline/internal/domain"
	"branchline/internal/engine"
	"branchline/internal/migrate"
	"branchline/internal/notify"
	"branchline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Sent   *sentNotifications
}

type sentNotifications struct {
	mu    sync.Mutex
	items []domain.Notification
}

func (s *sentNotifications) Emit(n domain.Notification) {
	s.mu.Lock()
	s.items = append(s.items, n)
	s.mu.Unlock()
}

func (s *sentNotifications) ofType(t string) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Notification
	for _, n := range s.items {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sent := &sentNotifications{}
	eng := engine.New(conn, config.Default(), sent)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return testEnv{Engine: eng, Ctx: context.Background(), Sent: sent}
}

func (env testEnv) mustProject(t *testing.T, members ...string) domain.Project {
	t.Helper()
	p, err := env.Engine.CreateProject(env.Ctx, engine.ProjectCreateOptions{
		Name:     "IELTS prep portal",
		ClientID: "client-1",
		Members:  members,
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return p
}

func (env testEnv) mustTask(t *testing.T, projectID, title string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID: projectID,
		Title:     title,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create task %s: %v", title, err)
	}
	return task
}

func (env testEnv) setStatus(t *testing.T, taskID string, statuses ...string) domain.Task {
	t.Helper()
	var task domain.Task
	var err error
	for _, s := range statuses {
		status := s
		task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: taskID, Status: &status, ActorID: "tester"})
		if err != nil {
			t.Fatalf("set status %s: %v", s, err)
		}
	}
	return task
}

func strPtr(s string) *string { return &s }

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	task := env.mustTask(t, p.ID, "Draft curriculum")
	if task.Status != domain.TaskTodo {
		t.Fatalf("new task status %s, want todo", task.Status)
	}

	// todo -> done is not in the table
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr(domain.TaskDone), ActorID: "tester"})
	var ite engine.IllegalTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if ite.From != domain.TaskTodo || ite.To != domain.TaskDone {
		t.Fatalf("unexpected transition pair %s -> %s", ite.From, ite.To)
	}
	stored, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.TaskTodo {
		t.Fatalf("rejected transition mutated status to %s", stored.Status)
	}

	// valid path with reopening
	task = env.setStatus(t, task.ID, domain.TaskInProgress, domain.TaskBlocked, domain.TaskInProgress, domain.TaskDone, domain.TaskInProgress)
	if task.Status != domain.TaskInProgress {
		t.Fatalf("status %s after reopen, want in-progress", task.Status)
	}

	// blocked -> done is also illegal
	env.setStatus(t, task.ID, domain.TaskBlocked)
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: strPtr(domain.TaskDone), ActorID: "tester"})
	if !errors.As(err, &ite) {
		t.Fatalf("expected IllegalTransitionError for blocked -> done, got %v", err)
	}
}

func TestAllowedNext(t *testing.T) {
	next := engine.AllowedNext(domain.TaskDone)
	if len(next) != 1 || next[0] != domain.TaskInProgress {
		t.Fatalf("allowed next from done = %v", next)
	}
	if len(engine.AllowedNext("bogus")) != 0 {
		t.Fatalf("unknown status should have no successors")
	}
}

func TestCompletionAndReopenDerivation(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "alice", "bob")
	task := env.mustTask(t, p.ID, "Collect transcripts")

	env.setStatus(t, task.ID, domain.TaskInProgress)
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ProjectPlanned {
		t.Fatalf("project status %s before completion, want planned untouched", got.Status)
	}

	env.setStatus(t, task.ID, domain.TaskDone)
	got, _ = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("project status %s after all tasks done, want completed", got.Status)
	}
	completed := env.Sent.ofType(domain.NotifyProjectCompleted)
	if len(completed) != 2 {
		t.Fatalf("expected one project_completed notification per member, got %d", len(completed))
	}
	seen := map[string]bool{}
	for _, n := range completed {
		seen[n.UserID] = true
	}
	if !seen["alice"] || !seen["bob"] {
		t.Fatalf("notifications missing a member: %v", seen)
	}

	env.setStatus(t, task.ID, domain.TaskInProgress)
	got, _ = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectInProgress {
		t.Fatalf("project status %s after reopen, want in-progress", got.Status)
	}
}

func TestProgressComputation(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)

	progress, _, err := env.Engine.Progress(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if progress != 0 {
		t.Fatalf("progress with no tasks = %d, want 0", progress)
	}

	t1 := env.mustTask(t, p.ID, "one")
	env.mustTask(t, p.ID, "two")
	env.mustTask(t, p.ID, "three")
	env.setStatus(t, t1.ID, domain.TaskInProgress, domain.TaskDone)

	progress, counts, err := env.Engine.Progress(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if progress != 33 {
		t.Fatalf("progress 1/3 done = %d, want 33", progress)
	}
	if counts[domain.TaskDone] != 1 || counts[domain.TaskTodo] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestCascadeDelete(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	t1 := env.mustTask(t, p.ID, "one")
	t2 := env.mustTask(t, p.ID, "two")
	if _, err := env.Engine.CreateComment(env.Ctx, t1.ID, "alice", "note"); err != nil {
		t.Fatal(err)
	}

	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	for _, id := range []string{t1.ID, t2.ID} {
		if _, err := env.Engine.Repo.GetTask(env.Ctx, id); !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("task %s survived cascade: %v", id, err)
		}
	}
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: t1.ID, Status: strPtr(domain.TaskInProgress), ActorID: "tester"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for deleted task, got %v", err)
	}
	if err := env.Engine.DeleteProject(env.Ctx, p.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func TestDeleteLastOpenTaskCompletesProject(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t, "alice")
	done := env.mustTask(t, p.ID, "done work")
	open := env.mustTask(t, p.ID, "open work")
	env.setStatus(t, done.ID, domain.TaskInProgress, domain.TaskDone)

	if err := env.Engine.DeleteTask(env.Ctx, open.ID, "tester"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("project status %s after deleting last open task, want completed", got.Status)
	}
}

func TestCommentCountInvariant(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	task := env.mustTask(t, p.ID, "with comments")

	if _, err := env.Engine.CreateComment(env.Ctx, task.ID, "alice", ""); err == nil {
		t.Fatalf("expected validation error for empty body")
	}
	if _, err := env.Engine.CreateComment(env.Ctx, "nope", "alice", "hello"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing task, got %v", err)
	}

	for i, body := range []string{"first", "second"} {
		if _, err := env.Engine.CreateComment(env.Ctx, task.ID, "alice", body); err != nil {
			t.Fatalf("comment %d: %v", i, err)
		}
		stored, err := env.Engine.Repo.GetTask(env.Ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if stored.CommentsCount != i+1 {
			t.Fatalf("comments_count = %d after %d comments", stored.CommentsCount, i+1)
		}
		comments, err := env.Engine.Comments(env.Ctx, task.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(comments) != i+1 {
			t.Fatalf("len(comments) = %d after %d comments", len(comments), i+1)
		}
	}
	comments, _ := env.Engine.Comments(env.Ctx, task.ID)
	if comments[0].Body != "first" || comments[1].Body != "second" {
		t.Fatalf("comments not in chronological order: %v", comments)
	}
}

func TestActivityFeedNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	task := env.mustTask(t, p.ID, "audit me")
	env.setStatus(t, task.ID, domain.TaskInProgress, domain.TaskDone)

	feed, err := env.Engine.ActivityFeed(env.Ctx, p.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	// project.created, task.created, 2x task.status_changed, project.status_changed
	if len(feed) != 5 {
		t.Fatalf("expected 5 activity records, got %d", len(feed))
	}
	for i := 1; i < len(feed); i++ {
		if feed[i].ID >= feed[i-1].ID {
			t.Fatalf("feed not newest-first at %d: %d >= %d", i, feed[i].ID, feed[i-1].ID)
		}
	}
	if feed[0].Type != domain.ActivityProjectStatusChanged {
		t.Fatalf("latest record %s, want project.status_changed", feed[0].Type)
	}
	if feed[len(feed)-1].Type != domain.ActivityProjectCreated {
		t.Fatalf("oldest record %s, want project.created", feed[len(feed)-1].Type)
	}
}

func TestAssignmentAndBlockedNotifications(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		ProjectID:  p.ID,
		Title:      "Visa paperwork",
		AssigneeID: "carol",
		ActorID:    "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	assigned := env.Sent.ofType(domain.NotifyTaskAssigned)
	if len(assigned) != 1 || assigned[0].UserID != "carol" {
		t.Fatalf("expected task_assigned for carol, got %v", assigned)
	}

	env.setStatus(t, task.ID, domain.TaskInProgress, domain.TaskBlocked)
	blocked := env.Sent.ofType(domain.NotifyTaskBlocked)
	if len(blocked) != 1 || blocked[0].UserID != "carol" {
		t.Fatalf("expected task_blocked for carol, got %v", blocked)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: p.ID, Title: "   ", ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{ProjectID: "missing", Title: "ok", ActorID: "tester"})
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found for missing project, got %v", err)
	}
}

func TestManualStatusNotImmediatelyOverwritten(t *testing.T) {
	env := newTestEnv(t)
	p := env.mustProject(t)
	task := env.mustTask(t, p.ID, "one")
	env.setStatus(t, task.ID, domain.TaskInProgress, domain.TaskDone)

	// project is now completed; a manual edit may override it
	updated, err := env.Engine.UpdateProject(env.Ctx, engine.ProjectUpdateOptions{
		ID:      p.ID,
		Status:  strPtr(domain.ProjectOnHold),
		ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Status != domain.ProjectOnHold {
		t.Fatalf("manual status write got %s", updated.Status)
	}

	// next task mutation reconciles: all tasks done promotes again
	env.setStatus(t, task.ID, domain.TaskInProgress, domain.TaskDone)
	got, _ := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if got.Status != domain.ProjectCompleted {
		t.Fatalf("status %s after next task mutation, want completed", got.Status)
	}
}

func TestNotificationChannelEmitter(t *testing.T) {
	em := notify.NewChannelEmitter(2)
	for i := 0; i < 5; i++ {
		em.Emit(domain.Notification{Type: domain.NotifyTaskBlocked})
	}
	// full buffer drops, never blocks
	if got := len(em.C()); got != 2 {
		t.Fatalf("buffered %d, want 2", got)
	}
}
