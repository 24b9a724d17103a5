package domain

// Task statuses.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in-progress"
	TaskBlocked    = "blocked"
	TaskDone       = "done"
)

// Project statuses. Only ProjectCompleted and ProjectInProgress are ever
// written by the aggregate tracker; the rest are set by callers.
const (
	ProjectPlanned    = "planned"
	ProjectInProgress = "in-progress"
	ProjectOnHold     = "on-hold"
	ProjectCompleted  = "completed"
	ProjectCancelled  = "cancelled"
)

type Project struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ClientID  string   `json:"client_id"`
	Branch    string   `json:"branch"`
	Status    string   `json:"status" enum:"planned,in-progress,on-hold,completed,cancelled"`
	Budget    *float64 `json:"budget,omitempty"`
	DueDate   *string  `json:"due_date,omitempty" format:"date-time"`
	Members   []string `json:"members,omitempty"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Status        string   `json:"status" enum:"todo,in-progress,blocked,done"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	DueDate       *string  `json:"due_date,omitempty" format:"date-time"`
	Attachments   []string `json:"attachments,omitempty"`
	CommentsCount int      `json:"comments_count"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type Comment struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Activity is one immutable audit record. IDs are assigned by the store and
// strictly increase, so ordering by id is ordering by creation.
type Activity struct {
	ID          int64   `json:"id"`
	TS          string  `json:"ts" format:"date-time"`
	Type        string  `json:"type"`
	ProjectID   string  `json:"project_id"`
	TaskID      *string `json:"task_id,omitempty"`
	ActorID     string  `json:"actor_id"`
	Description string  `json:"description"`
}

// Activity types.
const (
	ActivityProjectCreated       = "project.created"
	ActivityProjectUpdated       = "project.updated"
	ActivityProjectDeleted       = "project.deleted"
	ActivityProjectStatusChanged = "project.status_changed"
	ActivityTaskCreated          = "task.created"
	ActivityTaskStatusChanged    = "task.status_changed"
	ActivityTaskDeleted          = "task.deleted"
)

// Notification is an outbound payload; the engine never persists these.
type Notification struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	ProjectID string `json:"project_id"`
	TaskID    string `json:"task_id,omitempty"`
	Message   string `json:"message"`
}

// Notification types.
const (
	NotifyTaskAssigned     = "task_assigned"
	NotifyTaskBlocked      = "task_blocked"
	NotifyProjectCompleted = "project_completed"
)
