package server

import (
	"branchline/internal/domain"
	"branchline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	Name     string   `json:"name"`
	ClientID string   `json:"client_id,omitempty"`
	Branch   string   `json:"branch,omitempty"`
	Budget   *float64 `json:"budget,omitempty"`
	DueDate  string   `json:"due_date,omitempty" format:"date-time"`
	Members  []string `json:"members,omitempty"`
}

type UpdateProjectRequest struct {
	Name     *string   `json:"name,omitempty"`
	ClientID *string   `json:"client_id,omitempty"`
	Branch   *string   `json:"branch,omitempty"`
	Status   *string   `json:"status,omitempty" enum:"planned,in-progress,on-hold,completed,cancelled"`
	Budget   *float64  `json:"budget,omitempty"`
	DueDate  *string   `json:"due_date,omitempty" format:"date-time"`
	Members  *[]string `json:"members,omitempty"`
}

type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	AssigneeID  string   `json:"assignee_id,omitempty"`
	DueDate     string   `json:"due_date,omitempty" format:"date-time"`
	Attachments []string `json:"attachments,omitempty"`
}

type UpdateTaskRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *string   `json:"status,omitempty" enum:"todo,in-progress,blocked,done"`
	AssigneeID  *string   `json:"assignee_id,omitempty"`
	DueDate     *string   `json:"due_date,omitempty" format:"date-time"`
	Attachments *[]string `json:"attachments,omitempty"`
}

type CreateCommentRequest struct {
	Body string `json:"body"`
}

// Response payloads

type ProjectResponse struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	ClientID  string   `json:"client_id,omitempty"`
	Branch    string   `json:"branch"`
	Status    string   `json:"status" enum:"planned,in-progress,on-hold,completed,cancelled"`
	Budget    *float64 `json:"budget,omitempty"`
	DueDate   *string  `json:"due_date,omitempty" format:"date-time"`
	Members   []string `json:"members"`
	CreatedAt string   `json:"created_at" format:"date-time"`
	UpdatedAt string   `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Status        string   `json:"status" enum:"todo,in-progress,blocked,done"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	DueDate       *string  `json:"due_date,omitempty" format:"date-time"`
	Attachments   []string `json:"attachments"`
	CommentsCount int      `json:"comments_count"`
	AllowedNext   []string `json:"allowed_next"`
	CreatedAt     string   `json:"created_at" format:"date-time"`
	UpdatedAt     string   `json:"updated_at" format:"date-time"`
}

type CommentResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	AuthorID  string `json:"author_id"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActivityResponse struct {
	ID          int64   `json:"id"`
	TS          string  `json:"ts" format:"date-time"`
	Type        string  `json:"type"`
	ProjectID   string  `json:"project_id"`
	TaskID      *string `json:"task_id,omitempty"`
	ActorID     string  `json:"actor_id,omitempty"`
	Description string  `json:"description"`
}

type ProjectStatusResponse struct {
	ProjectID  string         `json:"project_id"`
	Status     string         `json:"status" enum:"planned,in-progress,on-hold,completed,cancelled"`
	Progress   int            `json:"progress" minimum:"0" maximum:"100"`
	TaskCounts map[string]int `json:"task_counts"`
}

func projectResponse(p domain.Project) ProjectResponse {
	members := p.Members
	if members == nil {
		members = []string{}
	}
	return ProjectResponse{
		ID:        p.ID,
		Name:      p.Name,
		ClientID:  p.ClientID,
		Branch:    p.Branch,
		Status:    p.Status,
		Budget:    p.Budget,
		DueDate:   p.DueDate,
		Members:   members,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(p))
	}
	return out
}

func taskResponse(t domain.Task) TaskResponse {
	attachments := t.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	return TaskResponse{
		ID:            t.ID,
		ProjectID:     t.ProjectID,
		Title:         t.Title,
		Description:   t.Description,
		Status:        t.Status,
		AssigneeID:    t.AssigneeID,
		DueDate:       t.DueDate,
		Attachments:   attachments,
		CommentsCount: t.CommentsCount,
		AllowedNext:   engine.AllowedNext(t.Status),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	out := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		out = append(out, taskResponse(t))
	}
	return out
}

func commentResponse(c domain.Comment) CommentResponse {
	return CommentResponse{
		ID:        c.ID,
		TaskID:    c.TaskID,
		AuthorID:  c.AuthorID,
		Body:      c.Body,
		CreatedAt: c.CreatedAt,
	}
}

func mapComments(items []domain.Comment) []CommentResponse {
	out := make([]CommentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, commentResponse(c))
	}
	return out
}

func activityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:          a.ID,
		TS:          a.TS,
		Type:        a.Type,
		ProjectID:   a.ProjectID,
		TaskID:      a.TaskID,
		ActorID:     a.ActorID,
		Description: a.Description,
	}
}

func mapActivity(items []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, activityResponse(a))
	}
	return out
}
