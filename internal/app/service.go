package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"tempora/api/internal/auth"
	"tempora/api/internal/authpw"
	"tempora/api/internal/collab"
	"tempora/api/internal/mention"
	"tempora/api/internal/notify"
	"tempora/api/internal/rbac"
	"tempora/api/internal/store"
	"tempora/api/internal/util"
)

// Session is the authenticated caller as decoded from a bearer token.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	TenantID  string
	TeamID    string
	TeamLead  bool
	JTI       string
	ExpiresAt time.Time
}

// Actor converts the session into the authorization model's view of it.
func (s Session) Actor() rbac.Actor {
	return rbac.Actor{
		ID:       s.UserID,
		Name:     s.UserName,
		Role:     rbac.Normalize(s.Role),
		TenantID: s.TenantID,
		TeamID:   s.TeamID,
		TeamLead: s.TeamLead,
	}
}

// dataStore is the slice of the durable store the service consumes.
// Tests substitute an in-memory fake.
type dataStore interface {
	GetTask(ctx context.Context, taskID string) (store.Task, error)
	InsertTask(ctx context.Context, task store.Task) error
	UpdateTaskField(ctx context.Context, taskID, field, value string) error
	InsertComment(ctx context.Context, comment store.Comment) error
	ListComments(ctx context.Context, taskID string) ([]store.Comment, error)
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	Ping(ctx context.Context) error
}

// liveStream is the slice of the live store the service writes to.
type liveStream interface {
	Push(ctx context.Context, path string, item []byte) (string, error)
	Update(ctx context.Context, path string, partial map[string]any) error
	Ping(ctx context.Context) error
}

type Service struct {
	store      dataStore
	live       liveStream
	resolver   *mention.Resolver
	notifier   *notify.Service
	passwords  *authpw.Service
	jwtSecret  []byte
	sessionTTL time.Duration
	now        func() time.Time
}

func NewService(
	st dataStore,
	live liveStream,
	resolver *mention.Resolver,
	notifier *notify.Service,
	passwords *authpw.Service,
	jwtSecret string,
	sessionTTL time.Duration,
) *Service {
	return &Service{
		store:      st,
		live:       live,
		resolver:   resolver,
		notifier:   notifier,
		passwords:  passwords,
		jwtSecret:  []byte(jwtSecret),
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

// Ping checks the dependencies the API cannot serve without.
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := s.live.Ping(ctx); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

// Notifier exposes the fan-out service for live subscription handlers.
func (s *Service) Notifier() *notify.Service {
	return s.notifier
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		return Session{}, domainError(http.StatusBadRequest, "SIGNUP_FAILED", err.Error(), nil)
	}
	return s.issueSession(user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error(), nil)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := s.now().Add(s.sessionTTL)
	claims := auth.Claims{
		Sub:      user.ID,
		Name:     user.Name,
		Role:     user.Role,
		TenantID: user.TenantID,
		TeamID:   user.TeamID,
		TeamLead: user.TeamLead,
		JTI:      util.NewID("jti"),
		Exp:      expiresAt.Unix(),
	}
	token, err := auth.IssueToken(s.jwtSecret, claims)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Role:      user.Role,
		TenantID:  user.TenantID,
		TeamID:    user.TeamID,
		TeamLead:  user.TeamLead,
		JTI:       claims.JTI,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Role:      claims.Role,
		TenantID:  claims.TenantID,
		TeamID:    claims.TeamID,
		TeamLead:  claims.TeamLead,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	AssigneeID  string `json:"assigneeId"`
	TenantID    string `json:"tenantId"`
}

func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (store.Task, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Task{}, errValidation("title is required")
	}
	actor := session.Actor()

	// Non-root actors can only create tasks inside their own tenant.
	tenantID := input.TenantID
	if actor.Role != rbac.RoleRoot {
		tenantID = actor.TenantID
	}

	task := store.Task{
		ID:          util.NewID("tsk"),
		TenantID:    tenantID,
		ProjectID:   input.ProjectID,
		Title:       strings.TrimSpace(input.Title),
		Description: input.Description,
		AssigneeID:  input.AssigneeID,
		CreatorID:   actor.ID,
		Status:      "open",
		CreatedAt:   s.now().UTC(),
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return store.Task{}, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// visibleTask loads a task and enforces tenant isolation. A task the
// actor may not see reads as absent, not as forbidden.
func (s *Service) visibleTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, errNotFound("Task not found")
		}
		return store.Task{}, fmt.Errorf("load task: %w", err)
	}
	if !rbac.CanSee(session.Actor(), task.TenantID) {
		return store.Task{}, errNotFound("Task not found")
	}
	return task, nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	return s.visibleTask(ctx, session, taskID)
}

func (s *Service) TaskComments(ctx context.Context, session Session, taskID string) ([]store.Comment, error) {
	if _, err := s.visibleTask(ctx, session, taskID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	if comments == nil {
		comments = []store.Comment{}
	}
	return comments, nil
}

// CommitComment persists a comment, publishes it to the task's live
// comment list, and fans out one notification per mentioned user. The
// mention set is recomputed server-side from the submitted text against
// the committer's mentionable set, so an actor cannot smuggle in users
// they were never allowed to mention.
func (s *Service) CommitComment(ctx context.Context, session Session, taskID, content string) (store.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return store.Comment{}, errValidation("content is required")
	}
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return store.Comment{}, err
	}
	actor := session.Actor()

	candidates := s.resolver.Resolve(ctx, actor, mention.TaskRef{
		ID:         task.ID,
		AssigneeID: task.AssigneeID,
		TenantID:   task.TenantID,
	})
	mentioned := mention.ScanUserIDs(content, candidates)

	comment := store.Comment{
		ID:         util.NewID("cmt"),
		TaskID:     task.ID,
		AuthorID:   actor.ID,
		AuthorName: actor.Name,
		Content:    content,
		Mentions:   mentioned,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return store.Comment{}, fmt.Errorf("persist comment: %w", err)
	}

	if err := s.publishComment(ctx, comment); err != nil {
		// The durable write already happened; subscribers catch up on
		// their next snapshot read.
		logServiceError("publish comment %s: %v", comment.ID, err)
	}

	s.notifier.NotifyMentions(ctx, actor, mentioned, notify.Mention{
		ContextType:  "comment",
		ContextID:    comment.ID,
		ContextTitle: task.Title,
		ProjectID:    task.ProjectID,
		TaskID:       task.ID,
	})
	return comment, nil
}

func (s *Service) publishComment(ctx context.Context, comment store.Comment) error {
	wire := collab.Comment{
		ID:         comment.ID,
		Content:    comment.Content,
		AuthorID:   comment.AuthorID,
		AuthorName: comment.AuthorName,
		CreatedAt:  comment.CreatedAt,
		Mentions:   comment.Mentions,
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	if _, err := s.live.Push(ctx, collab.CommentsPath(comment.TaskID), raw); err != nil {
		return fmt.Errorf("push comment: %w", err)
	}
	return nil
}

// SaveTaskField commits one free-text field. Mentions added to the notes
// field notify on save, matching the explicit-commit model: drafts never
// fan out.
func (s *Service) SaveTaskField(ctx context.Context, session Session, taskID, field, value string) (store.Task, error) {
	if field != collab.FieldDescription && field != collab.FieldNotes {
		return store.Task{}, errValidation(fmt.Sprintf("unknown field %q", field))
	}
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return store.Task{}, err
	}
	actor := session.Actor()

	if err := s.store.UpdateTaskField(ctx, taskID, field, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, errNotFound("Task not found")
		}
		return store.Task{}, fmt.Errorf("save %s: %w", field, err)
	}
	if err := s.live.Update(ctx, collab.FieldsPath(taskID), map[string]any{field: value}); err != nil {
		logServiceError("publish %s for task %s: %v", field, taskID, err)
	}

	if field == collab.FieldNotes {
		candidates := s.resolver.Resolve(ctx, actor, mention.TaskRef{
			ID:         task.ID,
			AssigneeID: task.AssigneeID,
			TenantID:   task.TenantID,
		})
		s.notifier.NotifyMentions(ctx, actor, mention.ScanUserIDs(value, candidates), notify.Mention{
			ContextType:  "note",
			ContextID:    task.ID,
			ContextTitle: task.Title,
			ProjectID:    task.ProjectID,
			TaskID:       task.ID,
		})
	}

	switch field {
	case collab.FieldDescription:
		task.Description = value
	case collab.FieldNotes:
		task.Notes = value
	}
	return task, nil
}

// MentionCandidates returns the actor's mentionable set for a task,
// optionally narrowed by a suggestion query.
func (s *Service) MentionCandidates(ctx context.Context, session Session, taskID, query string) ([]mention.Candidate, error) {
	task, err := s.visibleTask(ctx, session, taskID)
	if err != nil {
		return nil, err
	}
	candidates := s.resolver.Resolve(ctx, session.Actor(), mention.TaskRef{
		ID:         task.ID,
		AssigneeID: task.AssigneeID,
		TenantID:   task.TenantID,
	})
	if query != "" {
		candidates = mention.Filter(candidates, query)
	}
	return candidates, nil
}

func (s *Service) Notifications(ctx context.Context, session Session) ([]store.Notification, error) {
	notifications, err := s.store.ListNotifications(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	if notifications == nil {
		notifications = []store.Notification{}
	}
	return notifications, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	if notificationID == "" {
		return errValidation("notification id is required")
	}
	return s.notifier.MarkAsRead(ctx, session.UserID, notificationID)
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) error {
	return s.notifier.MarkAllAsRead(ctx, session.UserID)
}

func logServiceError(format string, args ...any) {
	log.Printf("service: "+format, args...)
}
