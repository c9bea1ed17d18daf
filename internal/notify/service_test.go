package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"tempora/api/internal/rbac"
	"tempora/api/internal/store"
)

type fakeStore struct {
	insertFn      func(ctx context.Context, n store.Notification) error
	listFn        func(ctx context.Context, userID string) ([]store.Notification, error)
	markReadFn    func(ctx context.Context, notificationID, userID string) error
	markAllReadFn func(ctx context.Context, userID string) (int, error)
}

func (f *fakeStore) InsertNotification(ctx context.Context, n store.Notification) error {
	return f.insertFn(ctx, n)
}

func (f *fakeStore) ListNotifications(ctx context.Context, userID string) ([]store.Notification, error) {
	return f.listFn(ctx, userID)
}

func (f *fakeStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	return f.markReadFn(ctx, notificationID, userID)
}

func (f *fakeStore) MarkAllNotificationsRead(ctx context.Context, userID string) (int, error) {
	return f.markAllReadFn(ctx, userID)
}

type fakeLive struct {
	sets map[string][][]byte
}

func newFakeLive() *fakeLive {
	return &fakeLive{sets: make(map[string][][]byte)}
}

func (f *fakeLive) Set(ctx context.Context, path string, value []byte) error {
	f.sets[path] = append(f.sets[path], value)
	return nil
}

func (f *fakeLive) Subscribe(ctx context.Context, path string, onChange func([]byte)) (func(), error) {
	if latest := f.sets[path]; len(latest) > 0 {
		onChange(latest[len(latest)-1])
	}
	return func() {}, nil
}

// memoryStore backs the happy-path tests with a real notification list.
type memoryStore struct {
	fakeStore
	notifications []store.Notification
}

func newMemoryStore() *memoryStore {
	m := &memoryStore{}
	m.insertFn = func(ctx context.Context, n store.Notification) error {
		m.notifications = append(m.notifications, n)
		return nil
	}
	m.listFn = func(ctx context.Context, userID string) ([]store.Notification, error) {
		var out []store.Notification
		for _, n := range m.notifications {
			if n.RecipientUserID == userID {
				out = append(out, n)
			}
		}
		return out, nil
	}
	m.markReadFn = func(ctx context.Context, notificationID, userID string) error {
		for i, n := range m.notifications {
			if n.ID == notificationID && n.RecipientUserID == userID {
				m.notifications[i].IsRead = true
			}
		}
		return nil
	}
	m.markAllReadFn = func(ctx context.Context, userID string) (int, error) {
		affected := 0
		for i, n := range m.notifications {
			if n.RecipientUserID == userID && !n.IsRead {
				m.notifications[i].IsRead = true
				affected++
			}
		}
		return affected, nil
	}
	return m
}

var dana = rbac.Actor{ID: "u-dana", Name: "Dana", Role: rbac.RoleEmployee}

func TestNotifyMentionsCommentFanOut(t *testing.T) {
	st := newMemoryStore()
	live := newFakeLive()
	svc := NewService(st, live, nil, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType:  "comment",
		ContextID:    "c1",
		ContextTitle: "Ship it",
		ProjectID:    "proj1",
		TaskID:       "task1",
	})

	if len(st.notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(st.notifications))
	}
	n := st.notifications[0]
	if n.RecipientUserID != "u-alex" {
		t.Errorf("recipient = %q", n.RecipientUserID)
	}
	if n.Type != "mention" {
		t.Errorf("type = %q", n.Type)
	}
	if !strings.Contains(n.Message, "Dana") || !strings.Contains(n.Message, "Ship it") {
		t.Errorf("message = %q", n.Message)
	}
	if !strings.Contains(n.ActionURL, "taskId=task1") {
		t.Errorf("action url %q missing task id", n.ActionURL)
	}
	if !strings.Contains(n.ActionURL, "tab=comments") {
		t.Errorf("action url %q missing comments tab", n.ActionURL)
	}
	if !strings.HasPrefix(n.ActionURL, "/projects/proj1/") {
		t.Errorf("action url %q missing project prefix", n.ActionURL)
	}
	if n.IsRead {
		t.Error("new notification should be unread")
	}

	published := live.sets[NotificationsPath("u-alex")]
	if len(published) != 1 {
		t.Fatalf("expected 1 live publish, got %d", len(published))
	}
	var list []store.Notification
	if err := json.Unmarshal(published[0], &list); err != nil {
		t.Fatalf("decode published list: %v", err)
	}
	if len(list) != 1 || list[0].ID != n.ID {
		t.Errorf("published list = %+v", list)
	}
}

func TestNotifyMentionsSkipsCommitter(t *testing.T) {
	st := newMemoryStore()
	svc := NewService(st, newFakeLive(), nil, nil)

	svc.NotifyMentions(context.Background(), dana, []string{dana.ID, "u-alex"}, Mention{
		ContextType:  "comment",
		ContextID:    "c1",
		ContextTitle: "Ship it",
		TaskID:       "task1",
	})

	if len(st.notifications) != 1 || st.notifications[0].RecipientUserID != "u-alex" {
		t.Fatalf("expected only u-alex notified, got %+v", st.notifications)
	}
}

func TestNotifyMentionsDedupesRecipients(t *testing.T) {
	st := newMemoryStore()
	svc := NewService(st, newFakeLive(), nil, nil)

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex", "u-alex", "u-alex"}, Mention{
		ContextType:  "comment",
		ContextID:    "c1",
		ContextTitle: "Ship it",
		TaskID:       "task1",
	})

	if len(st.notifications) != 1 {
		t.Fatalf("expected 1 notification for repeated mention, got %d", len(st.notifications))
	}
}

func TestNotifyMentionsFailureDoesNotAbortSiblings(t *testing.T) {
	st := newMemoryStore()
	base := st.insertFn
	st.insertFn = func(ctx context.Context, n store.Notification) error {
		if n.RecipientUserID == "u-broken" {
			return errors.New("constraint violation")
		}
		return base(ctx, n)
	}
	svc := NewService(st, newFakeLive(), nil, nil)

	svc.NotifyMentions(context.Background(), dana, []string{"u-broken", "u-alex"}, Mention{
		ContextType:  "comment",
		ContextID:    "c1",
		ContextTitle: "Ship it",
		TaskID:       "task1",
	})

	if len(st.notifications) != 1 || st.notifications[0].RecipientUserID != "u-alex" {
		t.Fatalf("surviving recipient not notified: %+v", st.notifications)
	}
}

func TestActionURLTabs(t *testing.T) {
	tests := []struct {
		contextType string
		wantTab     string
	}{
		{"comment", "comments"},
		{"note", "notes"},
		{"message", "messages"},
		{"task", "details"},
		{"something-new", "details"},
	}
	for _, tt := range tests {
		got := actionURL(Mention{ContextType: tt.contextType, TaskID: "task1"})
		if !strings.Contains(got, "tab="+tt.wantTab) {
			t.Errorf("actionURL(%s) = %q, want tab %s", tt.contextType, got, tt.wantTab)
		}
	}
}

func TestMarkAsReadPublishesRefreshedList(t *testing.T) {
	st := newMemoryStore()
	live := newFakeLive()
	svc := NewService(st, live, nil, nil)

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType: "comment", ContextID: "c1", ContextTitle: "Ship it", TaskID: "task1",
	})
	id := st.notifications[0].ID

	if err := svc.MarkAsRead(context.Background(), "u-alex", id); err != nil {
		t.Fatalf("mark as read: %v", err)
	}

	published := live.sets[NotificationsPath("u-alex")]
	var list []store.Notification
	if err := json.Unmarshal(published[len(published)-1], &list); err != nil {
		t.Fatalf("decode published list: %v", err)
	}
	if len(list) != 1 || !list[0].IsRead {
		t.Errorf("published list after mark-as-read = %+v", list)
	}

	// Marking again is harmless.
	if err := svc.MarkAsRead(context.Background(), "u-alex", id); err != nil {
		t.Fatalf("second mark as read: %v", err)
	}
}

func TestMarkAllAsRead(t *testing.T) {
	st := newMemoryStore()
	live := newFakeLive()
	svc := NewService(st, live, nil, nil)

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType: "comment", ContextID: "c1", ContextTitle: "Ship it", TaskID: "task1",
	})
	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType: "note", ContextID: "task1", ContextTitle: "Ship it", TaskID: "task1",
	})

	if err := svc.MarkAllAsRead(context.Background(), "u-alex"); err != nil {
		t.Fatalf("mark all as read: %v", err)
	}
	for _, n := range st.notifications {
		if !n.IsRead {
			t.Errorf("notification %s still unread", n.ID)
		}
	}

	// With nothing unread the second call publishes no new list.
	before := len(live.sets[NotificationsPath("u-alex")])
	if err := svc.MarkAllAsRead(context.Background(), "u-alex"); err != nil {
		t.Fatalf("repeat mark all as read: %v", err)
	}
	if after := len(live.sets[NotificationsPath("u-alex")]); after != before {
		t.Errorf("empty mark-all published %d extra lists", after-before)
	}
}

func TestSubscribeDeliversDurableState(t *testing.T) {
	st := newMemoryStore()
	live := newFakeLive()
	svc := NewService(st, live, nil, nil)

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType: "comment", ContextID: "c1", ContextTitle: "Ship it", TaskID: "task1",
	})

	var got []store.Notification
	unsubscribe, err := svc.Subscribe(context.Background(), "u-alex", func(list []store.Notification) {
		got = list
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	if len(got) != 1 || got[0].RecipientUserID != "u-alex" {
		t.Errorf("snapshot = %+v", got)
	}
}

type fakeMailer struct {
	sent []string
	err  error
}

func (f *fakeMailer) SendMentionAlert(ctx context.Context, recipient store.User, message, actionURL string) error {
	f.sent = append(f.sent, recipient.Email)
	return f.err
}

type fakeUsers struct {
	getFn func(ctx context.Context, userID string) (store.User, error)
}

func (f *fakeUsers) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	return f.getFn(ctx, userID)
}

func TestNotifyMentionsSendsEmail(t *testing.T) {
	st := newMemoryStore()
	mailer := &fakeMailer{}
	users := &fakeUsers{getFn: func(ctx context.Context, userID string) (store.User, error) {
		return store.User{ID: userID, Email: userID + "@tempora.test"}, nil
	}}
	svc := NewService(st, newFakeLive(), users, mailer)

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType: "comment", ContextID: "c1", ContextTitle: "Ship it", TaskID: "task1",
	})

	if len(mailer.sent) != 1 || mailer.sent[0] != "u-alex@tempora.test" {
		t.Errorf("mailer.sent = %v", mailer.sent)
	}
}

func TestNotifyMentionsEmailFailureKeepsNotification(t *testing.T) {
	st := newMemoryStore()
	mailer := &fakeMailer{err: errors.New("relay down")}
	users := &fakeUsers{getFn: func(ctx context.Context, userID string) (store.User, error) {
		return store.User{ID: userID, Email: userID + "@tempora.test"}, nil
	}}
	svc := NewService(st, newFakeLive(), users, mailer)

	svc.NotifyMentions(context.Background(), dana, []string{"u-alex"}, Mention{
		ContextType: "comment", ContextID: "c1", ContextTitle: "Ship it", TaskID: "task1",
	})

	if len(st.notifications) != 1 {
		t.Fatalf("durable notification missing after email failure: %+v", st.notifications)
	}
}
