package store

import "time"

type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         string
	TenantID     string
	TeamID       string
	TeamLead     bool
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Team struct {
	ID        string
	TenantID  string
	Name      string
	LeaderID  string
	CreatedAt time.Time
}

type TeamMember struct {
	TeamID string
	UserID string
	Role   string
}

type Task struct {
	ID          string
	TenantID    string
	ProjectID   string
	Title       string
	Description string
	Notes       string
	AssigneeID  string
	CreatorID   string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Comment rows are append-only: inserted once, never updated.
type Comment struct {
	ID         string
	TaskID     string
	AuthorID   string
	AuthorName string
	Content    string
	Mentions   []string
	CreatedAt  time.Time
}

type Notification struct {
	ID              string    `json:"id"`
	RecipientUserID string    `json:"recipientUserId"`
	Type            string    `json:"type"`
	Message         string    `json:"message"`
	ContextType     string    `json:"contextType"`
	ContextID       string    `json:"contextId"`
	ContextTitle    string    `json:"contextTitle"`
	ProjectID       string    `json:"projectId,omitempty"`
	TaskID          string    `json:"taskId,omitempty"`
	ActionURL       string    `json:"actionUrl"`
	IsRead          bool      `json:"isRead"`
	CreatedAt       time.Time `json:"createdAt"`
}
