package engine

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"branchline/internal/activity"
	"branchline/internal/config"
	"branchline/internal/domain"
	"branchline/internal/notify"
	"branchline/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Activity activity.Writer
	Notifier notify.Emitter
	Config   *config.Config
	Now      func() time.Time
	NewID    func() string

	locks *projectLocks
}

func New(db *sql.DB, cfg *config.Config, notifier notify.Emitter) Engine {
	if notifier == nil {
		notifier = notify.Discard{}
	}
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Activity: activity.Writer{DB: db},
		Notifier: notifier,
		Config:   cfg,
		Now:      time.Now,
		NewID:    uuid.NewString,
		locks:    newProjectLocks(),
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) emitAll(queued []domain.Notification) {
	for _, n := range queued {
		e.Notifier.Emit(n)
	}
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	Name     string
	ClientID string
	Branch   string
	Budget   *float64
	DueDate  string
	Members  []string
	ActorID  string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "is required"}
	}
	if opts.Budget != nil && *opts.Budget < 0 {
		return domain.Project{}, ValidationError{Field: "budget", Reason: "must not be negative"}
	}
	branch := opts.Branch
	if branch == "" && e.Config != nil {
		branch = e.Config.Branch.Name
	}
	if branch == "" {
		branch = "main"
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:        e.newID(),
		Name:      name,
		ClientID:  opts.ClientID,
		Branch:    branch,
		Status:    domain.ProjectPlanned,
		Budget:    opts.Budget,
		DueDate:   optionalString(opts.DueDate),
		Members:   opts.Members,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, domain.ActivityProjectCreated, p.ID, "", opts.ActorID,
		fmt.Sprintf("project %q created", p.Name)); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectUpdateOptions encapsulates allowed project updates. Nil pointers
// leave the field alone.
type ProjectUpdateOptions struct {
	ID       string
	Name     *string
	ClientID *string
	Branch   *string
	Status   *string
	Budget   *float64
	DueDate  *string
	Members  *[]string
	ActorID  string
}

// UpdateProject applies a free-form patch. A status set here is taken as-is;
// the aggregate tracker only corrects it on the next task mutation.
func (e Engine) UpdateProject(ctx context.Context, opts ProjectUpdateOptions) (domain.Project, error) {
	if opts.Name != nil && strings.TrimSpace(*opts.Name) == "" {
		return domain.Project{}, ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if opts.Status != nil && !validProjectStatus(*opts.Status) {
		return domain.Project{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", *opts.Status)}
	}
	if opts.Budget != nil && *opts.Budget < 0 {
		return domain.Project{}, ValidationError{Field: "budget", Reason: "must not be negative"}
	}
	unlock := e.locks.lock(opts.ID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.Name != nil {
		p.Name = strings.TrimSpace(*opts.Name)
	}
	if opts.ClientID != nil {
		p.ClientID = *opts.ClientID
	}
	if opts.Branch != nil {
		p.Branch = *opts.Branch
	}
	if opts.Status != nil {
		p.Status = *opts.Status
	}
	if opts.Budget != nil {
		p.Budget = opts.Budget
	}
	if opts.DueDate != nil {
		p.DueDate = optionalString(*opts.DueDate)
	}
	if opts.Members != nil {
		p.Members = *opts.Members
	}
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Activity.Append(ctx, tx, domain.ActivityProjectUpdated, p.ID, "", opts.ActorID,
		fmt.Sprintf("project %q updated", p.Name)); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// DeleteProject removes a project and cascades over its tasks and their
// comments. The per-task reconciliation is skipped since the project itself
// is going away.
func (e Engine) DeleteProject(ctx context.Context, id, actorID string) error {
	unlock := e.locks.lock(id)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteProjectTasksTx(ctx, tx, id); err != nil {
		return fmt.Errorf("cascade delete tasks: %w", err)
	}
	if err := e.Repo.DeleteProjectTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Activity.Append(ctx, tx, domain.ActivityProjectDeleted, p.ID, "", actorID,
		fmt.Sprintf("project %q deleted", p.Name)); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID   string
	Title       string
	Description string
	AssigneeID  string
	DueDate     string
	Attachments []string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "is required"}
	}
	unlock := e.locks.lock(opts.ProjectID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:          e.newID(),
		ProjectID:   p.ID,
		Title:       title,
		Description: opts.Description,
		Status:      domain.TaskTodo,
		AssigneeID:  optionalString(opts.AssigneeID),
		DueDate:     optionalString(opts.DueDate),
		Attachments: opts.Attachments,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.Activity.Append(ctx, tx, domain.ActivityTaskCreated, p.ID, t.ID, opts.ActorID,
		fmt.Sprintf("task %q created", t.Title)); err != nil {
		return domain.Task{}, err
	}
	var queued []domain.Notification
	if t.AssigneeID != nil {
		queued = append(queued, domain.Notification{
			Type:      domain.NotifyTaskAssigned,
			UserID:    *t.AssigneeID,
			ProjectID: p.ID,
			TaskID:    t.ID,
			Message:   fmt.Sprintf("you were assigned task %q", t.Title),
		})
	}
	pending, err := e.reconcileProject(ctx, tx, p, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	queued = append(queued, pending...)
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.emitAll(queued)
	return t, nil
}

// TaskUpdateOptions encapsulates allowed task updates. Nil pointers leave
// the field alone; AssignProvided distinguishes "clear assignee" from "no
// change".
type TaskUpdateOptions struct {
	ID             string
	Title          *string
	Description    *string
	Status         *string
	Assign         *string
	AssignProvided bool
	DueDate        *string
	Attachments    *[]string
	ActorID        string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Title != nil && strings.TrimSpace(*opts.Title) == "" {
		return domain.Task{}, ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if opts.Status != nil && !validTaskStatus(*opts.Status) {
		return domain.Task{}, ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", *opts.Status)}
	}
	// The owning project id is immutable, so reading it outside the lock is safe.
	current, err := e.Repo.GetTask(ctx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	unlock := e.locks.lock(current.ProjectID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, opts.ID)
	if err != nil {
		return domain.Task{}, err
	}
	oldStatus := t.Status
	statusChanged := false
	if opts.Status != nil && *opts.Status != t.Status {
		if err := ensureTaskTransition(t.Status, *opts.Status); err != nil {
			return domain.Task{}, err
		}
		t.Status = *opts.Status
		statusChanged = true
	}
	if opts.Title != nil {
		t.Title = strings.TrimSpace(*opts.Title)
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.AssignProvided {
		t.AssigneeID = opts.Assign
		if opts.Assign != nil && *opts.Assign == "" {
			t.AssigneeID = nil
		}
	}
	if opts.DueDate != nil {
		t.DueDate = optionalString(*opts.DueDate)
	}
	if opts.Attachments != nil {
		t.Attachments = *opts.Attachments
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	var queued []domain.Notification
	if statusChanged {
		if err := e.Activity.Append(ctx, tx, domain.ActivityTaskStatusChanged, t.ProjectID, t.ID, opts.ActorID,
			fmt.Sprintf("task %q status changed from %s to %s", t.Title, oldStatus, t.Status)); err != nil {
			return domain.Task{}, err
		}
		if t.Status == domain.TaskBlocked && t.AssigneeID != nil {
			queued = append(queued, domain.Notification{
				Type:      domain.NotifyTaskBlocked,
				UserID:    *t.AssigneeID,
				ProjectID: t.ProjectID,
				TaskID:    t.ID,
				Message:   fmt.Sprintf("task %q is blocked", t.Title),
			})
		}
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return domain.Task{}, err
	}
	pending, err := e.reconcileProject(ctx, tx, p, opts.ActorID)
	if err != nil {
		return domain.Task{}, err
	}
	queued = append(queued, pending...)
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	e.emitAll(queued)
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id, actorID string) error {
	current, err := e.Repo.GetTask(ctx, id)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(current.ProjectID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Activity.Append(ctx, tx, domain.ActivityTaskDeleted, t.ProjectID, t.ID, actorID,
		fmt.Sprintf("task %q deleted", t.Title)); err != nil {
		return err
	}
	p, err := e.Repo.GetProjectTx(ctx, tx, t.ProjectID)
	if err != nil {
		return err
	}
	queued, err := e.reconcileProject(ctx, tx, p, actorID)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.emitAll(queued)
	return nil
}

// CreateComment appends a remark to a task and bumps the denormalized
// comment counter in the same transaction: both happen or neither does.
func (e Engine) CreateComment(ctx context.Context, taskID, authorID, body string) (domain.Comment, error) {
	if strings.TrimSpace(body) == "" {
		return domain.Comment{}, ValidationError{Field: "body", Reason: "is required"}
	}
	current, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Comment{}, err
	}
	unlock := e.locks.lock(current.ProjectID)
	defer unlock()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	c := domain.Comment{
		ID:        e.newID(),
		TaskID:    taskID,
		AuthorID:  authorID,
		Body:      body,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, fmt.Errorf("insert comment: %w", err)
	}
	if err := e.Repo.IncrementCommentsCountTx(ctx, tx, taskID); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// Comments returns a task's comments in chronological reading order.
func (e Engine) Comments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, taskID)
}

// ActivityFeed returns a project's audit trail newest-first.
func (e Engine) ActivityFeed(ctx context.Context, projectID string, limit int) ([]domain.Activity, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return e.Repo.ListActivity(ctx, projectID, limit)
}

// Progress computes the display-only completion percentage for a project,
// along with the per-status task counts.
func (e Engine) Progress(ctx context.Context, projectID string) (int, map[string]int, error) {
	counts, err := e.Repo.CountTasksByStatus(ctx, projectID)
	if err != nil {
		return 0, nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return progressOf(counts[domain.TaskDone], total), counts, nil
}

func progressOf(done, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// reconcileProject keeps the project's derived status consistent with its
// task set. It only handles the two edge transitions: all tasks done
// promotes to completed, any task reopened demotes out of completed.
// Manually set statuses are otherwise left alone. Runs inside the
// triggering operation's transaction.
func (e Engine) reconcileProject(ctx context.Context, tx *sql.Tx, p domain.Project, actorID string) ([]domain.Notification, error) {
	tasks, err := e.Repo.ListProjectTasksTx(ctx, tx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("reconcile project %s: %w", p.ID, err)
	}
	done := 0
	for _, t := range tasks {
		if t.Status == domain.TaskDone {
			done++
		}
	}
	total := len(tasks)
	switch {
	case total > 0 && done == total && p.Status != domain.ProjectCompleted:
		p.Status = domain.ProjectCompleted
		p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
			return nil, err
		}
		if err := e.Activity.Append(ctx, tx, domain.ActivityProjectStatusChanged, p.ID, "", actorID,
			fmt.Sprintf("project %q completed", p.Name)); err != nil {
			return nil, err
		}
		queued := make([]domain.Notification, 0, len(p.Members))
		for _, member := range p.Members {
			queued = append(queued, domain.Notification{
				Type:      domain.NotifyProjectCompleted,
				UserID:    member,
				ProjectID: p.ID,
				Message:   fmt.Sprintf("project %q is completed", p.Name),
			})
		}
		return queued, nil
	case done < total && p.Status == domain.ProjectCompleted:
		p.Status = domain.ProjectInProgress
		p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
