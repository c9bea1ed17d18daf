package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// orNow guards against writing Go's zero time into created_at.
func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, tenant_id, team_id, team_lead, active)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)
	`, user.ID, user.Name, user.Email, user.PasswordHash, user.Role, user.TenantID, user.TeamID, user.TeamLead, user.Active)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role,
		       COALESCE(tenant_id, ''), COALESCE(team_id, ''), team_lead, active, created_at
		FROM users WHERE id = $1
	`, userID))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, role,
		       COALESCE(tenant_id, ''), COALESCE(team_id, ''), team_lead, active, created_at
		FROM users WHERE LOWER(email) = LOWER($1)
	`, email))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Name, &user.Email, &user.PasswordHash, &user.Role,
		&user.TenantID, &user.TeamID, &user.TeamLead, &user.Active, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, tenant_id, project_id, title, description, notes, assignee_id, creator_id, status)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), $8, $9)
	`, task.ID, task.TenantID, task.ProjectID, task.Title, task.Description, task.Notes,
		task.AssigneeID, task.CreatorID, task.Status)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var task Task
	err := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(tenant_id, ''), COALESCE(project_id, ''), title, description, notes,
		       COALESCE(assignee_id, ''), creator_id, status, created_at, updated_at
		FROM tasks WHERE id = $1
	`, taskID).Scan(&task.ID, &task.TenantID, &task.ProjectID, &task.Title, &task.Description,
		&task.Notes, &task.AssigneeID, &task.CreatorID, &task.Status, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	return task, nil
}

// UpdateTaskField persists one free-text field. Last write wins; the
// collaboration layer only protects unsaved local drafts, not saves.
func (s *PostgresStore) UpdateTaskField(ctx context.Context, taskID, field, value string) error {
	var query string
	switch field {
	case "description":
		query = `UPDATE tasks SET description = $2, updated_at = NOW() WHERE id = $1`
	case "notes":
		query = `UPDATE tasks SET notes = $2, updated_at = NOW() WHERE id = $1`
	default:
		return fmt.Errorf("unknown task field %q", field)
	}
	result, err := s.db.ExecContext(ctx, query, taskID, value)
	if err != nil {
		return fmt.Errorf("update task %s: %w", field, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task %s: %w", field, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, comment Comment) error {
	mentions, err := json.Marshal(comment.Mentions)
	if err != nil {
		return fmt.Errorf("encode mentions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comments (id, task_id, author_id, author_name, content, mentions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, comment.ID, comment.TaskID, comment.AuthorID, comment.AuthorName, comment.Content,
		mentions, orNow(comment.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author_id, author_name, content, mentions, created_at
		FROM comments WHERE task_id = $1 ORDER BY created_at, id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var comment Comment
		var mentions []byte
		if err := rows.Scan(&comment.ID, &comment.TaskID, &comment.AuthorID, &comment.AuthorName,
			&comment.Content, &mentions, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if len(mentions) > 0 {
			if err := json.Unmarshal(mentions, &comment.Mentions); err != nil {
				return nil, fmt.Errorf("decode mentions: %w", err)
			}
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

func (s *PostgresStore) InsertNotification(ctx context.Context, notification Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, recipient_user_id, type, message, context_type, context_id,
		                           context_title, project_id, task_id, action_url, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12)
	`, notification.ID, notification.RecipientUserID, notification.Type, notification.Message,
		notification.ContextType, notification.ContextID, notification.ContextTitle,
		notification.ProjectID, notification.TaskID, notification.ActionURL,
		notification.IsRead, orNow(notification.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, recipient_user_id, type, message, context_type, context_id, context_title,
		       COALESCE(project_id, ''), COALESCE(task_id, ''), action_url, is_read, created_at
		FROM notifications WHERE recipient_user_id = $1 ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.RecipientUserID, &n.Type, &n.Message, &n.ContextType,
			&n.ContextID, &n.ContextTitle, &n.ProjectID, &n.TaskID, &n.ActionURL,
			&n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead flips unread to read for the recipient's own
// notification. Repeated calls and calls against someone else's
// notification affect zero rows; neither is an error.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE id = $1 AND recipient_user_id = $2 AND is_read = FALSE
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET is_read = TRUE
		WHERE recipient_user_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(affected), nil
}
