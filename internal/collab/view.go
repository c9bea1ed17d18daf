// Package collab keeps a locally-edited task view consistent with the
// live store without clobbering in-flight local edits. Comments are an
// optimistic append-only list; description and notes are draft-buffered
// free-text fields committed on explicit save.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Stream is the slice of the live store a task view consumes. Tests
// substitute an in-memory fake.
type Stream interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Push(ctx context.Context, path string, item []byte) (string, error)
	Update(ctx context.Context, path string, partial map[string]any) error
	Subscribe(ctx context.Context, path string, onChange func([]byte)) (func(), error)
}

// Comment is the wire shape of one task comment on the live store.
// Comments are append-only once created.
type Comment struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	CreatedAt  time.Time `json:"createdAt"`
	Mentions   []string  `json:"mentions,omitempty"`
}

const (
	FieldDescription = "description"
	FieldNotes       = "notes"
)

// CommentsPath is the live-store path of a task's comment list.
func CommentsPath(taskID string) string {
	return "tasks/" + taskID + "/comments"
}

// FieldsPath is the live-store path of a task's free-text fields.
func FieldsPath(taskID string) string {
	return "tasks/" + taskID + "/fields"
}

type textField struct {
	lastSaved string
	draft     string
	editing   bool
}

// TaskView is one open view of a task. It owns exactly one subscription
// per stream path, torn down by Close before any further remote callback
// can touch its state.
type TaskView struct {
	mu     sync.Mutex
	stream Stream
	taskID string

	comments       []Comment
	lastAppliedRaw string

	fields map[string]*textField

	unsubComments func()
	unsubFields   func()
	closed        bool

	onChange func()
}

// Open subscribes the view to the task's comment list and text fields.
// onChange fires after every applied remote update (a re-render hook);
// it may be nil.
func Open(ctx context.Context, stream Stream, taskID string, onChange func()) (*TaskView, error) {
	view := &TaskView{
		stream:   stream,
		taskID:   taskID,
		onChange: onChange,
		fields: map[string]*textField{
			FieldDescription: {},
			FieldNotes:       {},
		},
	}

	unsubComments, err := stream.Subscribe(ctx, CommentsPath(taskID), view.applyRemoteComments)
	if err != nil {
		return nil, fmt.Errorf("subscribe comments %s: %w", taskID, err)
	}
	unsubFields, err := stream.Subscribe(ctx, FieldsPath(taskID), view.applyRemoteFields)
	if err != nil {
		unsubComments()
		return nil, fmt.Errorf("subscribe fields %s: %w", taskID, err)
	}

	view.mu.Lock()
	view.unsubComments = unsubComments
	view.unsubFields = unsubFields
	view.mu.Unlock()
	return view, nil
}

// Close tears the subscriptions down. After Close returns, no remote
// callback mutates the view. Safe to call more than once.
func (v *TaskView) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	unsubComments := v.unsubComments
	unsubFields := v.unsubFields
	v.mu.Unlock()

	if unsubComments != nil {
		unsubComments()
	}
	if unsubFields != nil {
		unsubFields()
	}
}

// Comments returns the current comment list in insertion order.
func (v *TaskView) Comments() []Comment {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Comment, len(v.comments))
	copy(out, v.comments)
	return out
}

// AppendComment inserts the comment optimistically and fires the durable
// write. On write failure the optimistic entry is rolled back and the
// error returned; confirmed remote state is untouched.
func (v *TaskView) AppendComment(ctx context.Context, comment Comment) error {
	encoded, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}

	v.mu.Lock()
	v.comments = append(v.comments, comment)
	v.lastAppliedRaw = serializeComments(v.comments)
	v.mu.Unlock()

	if _, err := v.stream.Push(ctx, CommentsPath(v.taskID), encoded); err != nil {
		v.mu.Lock()
		for i := len(v.comments) - 1; i >= 0; i-- {
			if v.comments[i].ID == comment.ID {
				v.comments = append(v.comments[:i], v.comments[i+1:]...)
				break
			}
		}
		v.lastAppliedRaw = serializeComments(v.comments)
		v.mu.Unlock()
		return fmt.Errorf("append comment: %w", err)
	}
	return nil
}

// applyRemoteComments replaces local state with the store's confirmed
// list, unless the normalized remote list equals what is already
// applied. That short-circuit swallows both redundant emissions and the
// echo of our own optimistic append.
func (v *TaskView) applyRemoteComments(raw []byte) {
	var incoming []Comment
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return
	}
	normalized := serializeComments(incoming)

	v.mu.Lock()
	if v.closed || normalized == v.lastAppliedRaw {
		v.mu.Unlock()
		return
	}
	v.comments = incoming
	v.lastAppliedRaw = normalized
	v.mu.Unlock()
	v.notify()
}

// FieldValue returns what the field currently reads: the local draft
// while editing, the last applied value otherwise.
func (v *TaskView) FieldValue(field string) string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.fields[field]; ok {
		return f.draft
	}
	return ""
}

// Editing reports whether the field has an active local draft.
func (v *TaskView) Editing(field string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	f, ok := v.fields[field]
	return ok && f.editing
}

// BeginEdit marks the field as actively drafted by this viewer.
func (v *TaskView) BeginEdit(field string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.fields[field]; ok {
		f.editing = true
	}
}

// SetDraft buffers a local edit. Drafts are never pushed per keystroke.
func (v *TaskView) SetDraft(field, value string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.fields[field]; ok {
		f.draft = value
	}
}

// CancelEdit abandons the draft and falls back to the last saved value.
func (v *TaskView) CancelEdit(field string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if f, ok := v.fields[field]; ok {
		f.editing = false
		f.draft = f.lastSaved
	}
}

// SaveField commits the draft through the store's write path. On failure
// the draft stays buffered and editable so the user can retry; the error
// is surfaced because the user's intent was not satisfied.
func (v *TaskView) SaveField(ctx context.Context, field string) error {
	v.mu.Lock()
	f, ok := v.fields[field]
	if !ok {
		v.mu.Unlock()
		return fmt.Errorf("unknown field %q", field)
	}
	value := f.draft
	v.mu.Unlock()

	if err := v.stream.Update(ctx, FieldsPath(v.taskID), map[string]any{field: value}); err != nil {
		return fmt.Errorf("save %s: %w", field, err)
	}

	v.mu.Lock()
	f.lastSaved = value
	f.editing = false
	v.mu.Unlock()
	return nil
}

// applyRemoteFields applies a remote fields document. A value equal to
// what this viewer last wrote is an echo and is skipped; a genuinely new
// value updates the field, but never overwrites an active draft.
func (v *TaskView) applyRemoteFields(raw []byte) {
	var incoming map[string]string
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	changed := false
	for name, f := range v.fields {
		value, ok := incoming[name]
		if !ok || value == f.lastSaved {
			continue
		}
		f.lastSaved = value
		if !f.editing {
			f.draft = value
		}
		changed = true
	}
	v.mu.Unlock()
	if changed {
		v.notify()
	}
}

func (v *TaskView) notify() {
	if v.onChange != nil {
		v.onChange()
	}
}

func serializeComments(comments []Comment) string {
	encoded, err := json.Marshal(comments)
	if err != nil {
		return ""
	}
	return string(encoded)
}
