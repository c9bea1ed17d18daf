package mention

import (
	"strings"
	"unicode"

	"tempora/api/internal/util"
)

// State is the suggestion engine state for one text field.
type State int

const (
	StateIdle State = iota
	StateComposing
	StateSuggestionsOpen
)

// Trigger is the result of scanning a text/cursor pair for an active
// @-mention.
type Trigger struct {
	Active  bool
	Query   string
	AtIndex int
}

// ParseTrigger finds the active mention trigger, if any: the last `@`
// before the cursor with no whitespace between it and the cursor.
// Earlier `@`s in already-committed text are inert.
func ParseTrigger(text string, cursor int) Trigger {
	if cursor < 0 {
		cursor = 0
	}
	if cursor > len(text) {
		cursor = len(text)
	}

	at := strings.LastIndex(text[:cursor], "@")
	if at < 0 {
		return Trigger{}
	}
	query := text[at+1 : cursor]
	if strings.IndexFunc(query, unicode.IsSpace) >= 0 {
		return Trigger{}
	}
	return Trigger{Active: true, Query: query, AtIndex: at}
}

// Lookup describes a pending candidate fetch. Results are matched back
// by originating query; a result whose query no longer matches the
// field's current query is stale and gets discarded. That comparison is
// the cancellation mechanism; there is no true request cancellation.
type Lookup struct {
	Query string
}

// Field tracks the suggestion state machine and transient mentions for
// one editable text field. It is not safe for concurrent use; each open
// input owns exactly one Field.
type Field struct {
	state       State
	text        string
	cursor      int
	query       string
	atIndex     int
	suggestions []Candidate
	mentions    []Mention
}

func NewField() *Field {
	return &Field{}
}

func (f *Field) State() State { return f.state }
func (f *Field) Text() string { return f.text }

// SetText records the field's current text and cursor, advances the
// state machine, and returns a Lookup when a fresh candidate fetch is
// wanted. Candidate resolution is advisory and asynchronous: keystroke
// echo never waits on it.
func (f *Field) SetText(text string, cursor int) *Lookup {
	f.text = text
	f.cursor = cursor

	trigger := ParseTrigger(text, cursor)
	if !trigger.Active {
		f.state = StateIdle
		f.query = ""
		f.suggestions = nil
		return nil
	}

	f.query = trigger.Query
	f.atIndex = trigger.AtIndex
	if f.state == StateIdle {
		f.state = StateComposing
	}
	if len(trigger.Query) == 0 {
		f.state = StateComposing
		f.suggestions = nil
		return nil
	}
	return &Lookup{Query: trigger.Query}
}

// Deliver applies an asynchronous candidate resolution result. A stale
// result, one whose query the field has since moved past, is silently
// dropped.
func (f *Field) Deliver(lookup Lookup, candidates []Candidate) {
	if f.state == StateIdle || lookup.Query != f.query {
		return
	}
	f.suggestions = Filter(candidates, f.query)
	f.state = StateSuggestionsOpen
}

// Suggestions returns the current suggestion list.
func (f *Field) Suggestions() []Candidate {
	out := make([]Candidate, len(f.suggestions))
	copy(out, f.suggestions)
	return out
}

// InsertMention replaces the in-progress @query with "@Name " and
// records a transient Mention whose span indices refer to the text as it
// existed before this insertion. The field returns to Idle.
func (f *Field) InsertMention(candidate Candidate) bool {
	trigger := ParseTrigger(f.text, f.cursor)
	if !trigger.Active {
		return false
	}

	// Span over the replaced "@query" in the pre-insertion text.
	f.mentions = append(f.mentions, Mention{
		ID:         util.NewID("mnt"),
		UserID:     candidate.ID,
		UserName:   candidate.Name,
		StartIndex: trigger.AtIndex,
		EndIndex:   f.cursor,
	})

	inserted := "@" + candidate.Name + " "
	f.text = f.text[:trigger.AtIndex] + inserted + f.text[f.cursor:]
	f.cursor = trigger.AtIndex + len(inserted)
	f.state = StateIdle
	f.query = ""
	f.suggestions = nil
	return true
}

// RemoveMention drops a transient mention by id. The underlying text is
// untouched; stripping the "@Name" substring is the caller's business.
func (f *Field) RemoveMention(id string) bool {
	for i, m := range f.mentions {
		if m.ID == id {
			f.mentions = append(f.mentions[:i], f.mentions[i+1:]...)
			return true
		}
	}
	return false
}

// ClearMentions wipes all transient mentions. Called on successful
// commit and on failed commit alike, so stale spans never leak into the
// next draft and a failed send cannot double-notify on retry.
func (f *Field) ClearMentions() {
	f.mentions = nil
}

// Mentions returns the transient mentions in insertion order.
func (f *Field) Mentions() []Mention {
	out := make([]Mention, len(f.mentions))
	copy(out, f.mentions)
	return out
}

/// CommittedUserIDs recomputes the mention set against the final text:
// a tracked mention counts only if its "@Name" still occurs in the text
// being committed. Re-scanning a short string sidesteps keeping span
// offsets correct through arbitrary edits. The result is deduplicated,
// one entry per user regardless of how often they were mentioned.
func (f *Field) CommittedUserIDs() []string {
	lowered := strings.ToLower(f.text)
	seen := make(map[string]struct{}, len(f.mentions))
	ids := make([]string, 0, len(f.mentions))
	for _, m := range f.mentions {
		if !strings.Contains(lowered, strings.ToLower("@"+m.UserName)) {
			continue
		}
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	return ids
}
