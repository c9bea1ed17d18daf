// Package notify turns committed mentions into durable notifications and
// pushes the refreshed per-user list onto the live stream.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"time"

	"tempora/api/internal/livestore"
	"tempora/api/internal/rbac"
	"tempora/api/internal/store"
	"tempora/api/internal/util"
)

// Store is the slice of the durable store the fan-out needs.
type Store interface {
	InsertNotification(ctx context.Context, n store.Notification) error
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	MarkNotificationRead(ctx context.Context, notificationID, userID string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int, error)
}

// Live is the live-stream surface used to publish notification lists.
type Live interface {
	Set(ctx context.Context, path string, value []byte) error
	Subscribe(ctx context.Context, path string, onChange func([]byte)) (func(), error)
}

// Mailer sends an optional email alongside the in-app notification. It
// may be nil when no SMTP relay is configured.
type Mailer interface {
	SendMentionAlert(ctx context.Context, recipient store.User, message, actionURL string) error
}

// UserLookup resolves recipients so the mailer has an address to write
// to. The in-app path does not need it.
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (store.User, error)
}

type Service struct {
	store  Store
	live   Live
	users  UserLookup
	mailer Mailer
	now    func() time.Time
}

func NewService(st Store, live Live, users UserLookup, mailer Mailer) *Service {
	return &Service{store: st, live: live, users: users, mailer: mailer, now: time.Now}
}

// Mention describes one commit worth of fan-out input.
type Mention struct {
	ContextType  string // "comment", "note", "message" or "task"
	ContextID    string
	ContextTitle string
	ProjectID    string
	TaskID       string
}

// NotifyMentions creates one notification per distinct mentioned user for
// a single commit. The committer never notifies themselves, and a failure
// for one recipient is logged without aborting the others.
func (s *Service) NotifyMentions(ctx context.Context, committer rbac.Actor, mentionedUserIDs []string, m Mention) {
	seen := make(map[string]bool, len(mentionedUserIDs))
	for _, userID := range mentionedUserIDs {
		if userID == "" || userID == committer.ID || seen[userID] {
			continue
		}
		seen[userID] = true
		if err := s.notifyOne(ctx, committer, userID, m); err != nil {
			log.Printf("notify: user %s for %s %s: %v", userID, m.ContextType, m.ContextID, err)
		}
	}
}

func (s *Service) notifyOne(ctx context.Context, committer rbac.Actor, userID string, m Mention) error {
	notification := store.Notification{
		ID:              util.NewID("ntf"),
		RecipientUserID: userID,
		Type:            "mention",
		Message:         mentionMessage(committer.Name, m),
		ContextType:     m.ContextType,
		ContextID:       m.ContextID,
		ContextTitle:    m.ContextTitle,
		ProjectID:       m.ProjectID,
		TaskID:          m.TaskID,
		ActionURL:       actionURL(m),
		CreatedAt:       s.now().UTC(),
	}
	if err := s.store.InsertNotification(ctx, notification); err != nil {
		return err
	}
	if err := s.publishList(ctx, userID); err != nil {
		return err
	}
	if s.mailer != nil && s.users != nil {
		recipient, err := s.users.GetUserByID(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup recipient: %w", err)
		}
		if err := s.mailer.SendMentionAlert(ctx, recipient, notification.Message, notification.ActionURL); err != nil {
			// The durable notification already exists; the email is
			// best effort.
			log.Printf("notify: mention email to %s: %v", recipient.Email, err)
		}
	}
	return nil
}

func mentionMessage(committerName string, m Mention) string {
	switch m.ContextType {
	case "comment":
		return fmt.Sprintf("%s mentioned you in a comment on %q", committerName, m.ContextTitle)
	case "note":
		return fmt.Sprintf("%s mentioned you in the notes of %q", committerName, m.ContextTitle)
	case "message":
		return fmt.Sprintf("%s mentioned you in a message on %q", committerName, m.ContextTitle)
	default:
		return fmt.Sprintf("%s mentioned you on %q", committerName, m.ContextTitle)
	}
}

func actionURL(m Mention) string {
	base := "/tasks"
	if m.ProjectID != "" {
		base = "/projects/" + m.ProjectID + "/tasks"
	}
	query := url.Values{}
	if m.TaskID != "" {
		query.Set("taskId", m.TaskID)
	}
	query.Set("tab", contextTab(m.ContextType))
	return base + "?" + query.Encode()
}

func contextTab(contextType string) string {
	switch contextType {
	case "comment":
		return "comments"
	case "note":
		return "notes"
	case "message":
		return "messages"
	default:
		return "details"
	}
}

// NotificationsPath is the live-stream location of a user's list.
func NotificationsPath(userID string) string {
	return "users/" + userID + "/notifications"
}

func (s *Service) publishList(ctx context.Context, userID string) error {
	notifications, err := s.store.ListNotifications(ctx, userID)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	if notifications == nil {
		notifications = []store.Notification{}
	}
	serialized, err := json.Marshal(notifications)
	if err != nil {
		return fmt.Errorf("encode notifications: %w", err)
	}
	if err := s.live.Set(ctx, NotificationsPath(userID), serialized); err != nil {
		return fmt.Errorf("publish notifications: %w", err)
	}
	return nil
}

// Subscribe streams the user's notification list, current state first.
func (s *Service) Subscribe(ctx context.Context, userID string, handler func([]store.Notification)) (func(), error) {
	// Publish the durable state so the snapshot delivered by the live
	// layer is never stale relative to the database.
	if err := s.publishList(ctx, userID); err != nil {
		return nil, err
	}
	return s.live.Subscribe(ctx, NotificationsPath(userID), func(raw []byte) {
		var notifications []store.Notification
		if err := json.Unmarshal(raw, &notifications); err != nil {
			log.Printf("notify: decode notification list for %s: %v", userID, err)
			return
		}
		handler(notifications)
	})
}

// MarkAsRead flips one of the recipient's notifications to read. Marking
// an already-read or foreign notification is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, notificationID, userID); err != nil {
		return err
	}
	return s.publishList(ctx, userID)
}

// MarkAllAsRead clears the user's unread set in one batch. An empty
// unread set publishes nothing.
func (s *Service) MarkAllAsRead(ctx context.Context, userID string) error {
	affected, err := s.store.MarkAllNotificationsRead(ctx, userID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return nil
	}
	return s.publishList(ctx, userID)
}

var _ Live = (*livestore.Store)(nil)
