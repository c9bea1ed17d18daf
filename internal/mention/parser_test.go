package mention

import (
	"strings"
	"testing"
)

func TestParseTrigger(t *testing.T) {
	cases := []struct {
		name   string
		text   string
		cursor int
		active bool
		query  string
	}{
		{name: "active trigger", text: "Hello @jo", cursor: 9, active: true, query: "jo"},
		{name: "trailing space kills trigger", text: "Hello @jo ", cursor: 10, active: false},
		{name: "bare at", text: "Hello @", cursor: 7, active: true, query: ""},
		{name: "no at", text: "Hello jo", cursor: 8, active: false},
		{name: "last at wins", text: "ping @ann see @bo", cursor: 17, active: true, query: "bo"},
		{name: "earlier at inert after space", text: "@ann did this", cursor: 13, active: false},
		{name: "cursor mid text", text: "Hello @jo and more", cursor: 9, active: true, query: "jo"},
		{name: "cursor before at", text: "Hello @jo", cursor: 5, active: false},
		{name: "cursor out of range clamps", text: "@jo", cursor: 50, active: true, query: "jo"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trigger := ParseTrigger(tc.text, tc.cursor)
			if trigger.Active != tc.active {
				t.Fatalf("ParseTrigger(%q, %d).Active = %v, want %v", tc.text, tc.cursor, trigger.Active, tc.active)
			}
			if tc.active && trigger.Query != tc.query {
				t.Fatalf("query = %q, want %q", trigger.Query, tc.query)
			}
		})
	}
}

func TestFieldLookupLifecycle(t *testing.T) {
	field := NewField()

	if lookup := field.SetText("Hello", 5); lookup != nil {
		t.Fatal("no lookup expected without a trigger")
	}
	if field.State() != StateIdle {
		t.Fatalf("state = %v, want idle", field.State())
	}

	if lookup := field.SetText("Hello @", 7); lookup != nil {
		t.Fatal("no lookup expected for empty query")
	}
	if field.State() != StateComposing {
		t.Fatalf("state = %v, want composing", field.State())
	}

	lookup := field.SetText("Hello @j", 8)
	if lookup == nil || lookup.Query != "j" {
		t.Fatalf("expected lookup for query %q, got %+v", "j", lookup)
	}
}

func TestFieldDeliverFiltersCandidates(t *testing.T) {
	field := NewField()
	lookup := field.SetText("Hello @jo", 9)
	if lookup == nil {
		t.Fatal("expected lookup")
	}

	field.Deliver(*lookup, []Candidate{
		{ID: "u1", Name: "John Smith", Email: "john@acme.test"},
		{ID: "u2", Name: "Anna Petrova", Email: "anna@acme.test"},
		{ID: "u3", Name: "Maria", Email: "jon.jones@acme.test"},
	})

	if field.State() != StateSuggestionsOpen {
		t.Fatalf("state = %v, want suggestions open", field.State())
	}
	suggestions := field.Suggestions()
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 matches (name and email), got %d", len(suggestions))
	}
	if suggestions[0].ID != "u1" || suggestions[1].ID != "u3" {
		t.Fatalf("unexpected matches: %+v", suggestions)
	}
}

func TestFieldDiscardsStaleDelivery(t *testing.T) {
	field := NewField()

	stale := field.SetText("Hello @jo", 9)
	if stale == nil {
		t.Fatal("expected lookup for jo")
	}
	fresh := field.SetText("Hello @john", 11)
	if fresh == nil {
		t.Fatal("expected lookup for john")
	}

	field.Deliver(*fresh, []Candidate{{ID: "u1", Name: "John"}})
	current := field.Suggestions()

	// Late response for the superseded query must not replace the list.
	field.Deliver(*stale, []Candidate{{ID: "u9", Name: "Joanna"}})
	after := field.Suggestions()
	if len(after) != len(current) || after[0].ID != "u1" {
		t.Fatalf("stale delivery replaced suggestions: %+v", after)
	}
}

func TestFieldDiscardsDeliveryAfterIdle(t *testing.T) {
	field := NewField()
	lookup := field.SetText("Hello @jo", 9)
	if lookup == nil {
		t.Fatal("expected lookup")
	}

	// Typed a space: back to idle, suggestions cleared.
	field.SetText("Hello @jo ", 10)
	if field.State() != StateIdle {
		t.Fatalf("state = %v, want idle", field.State())
	}

	field.Deliver(*lookup, []Candidate{{ID: "u1", Name: "Jo"}})
	if len(field.Suggestions()) != 0 {
		t.Fatal("delivery after idle should be discarded")
	}
}

func TestInsertMention(t *testing.T) {
	field := NewField()
	lookup := field.SetText("Hello @jo", 9)
	if lookup == nil {
		t.Fatal("expected lookup")
	}
	field.Deliver(*lookup, []Candidate{{ID: "u1", Name: "John Smith"}})

	if !field.InsertMention(Candidate{ID: "u1", Name: "John Smith"}) {
		t.Fatal("InsertMention failed")
	}
	if field.Text() != "Hello @John Smith " {
		t.Fatalf("text = %q", field.Text())
	}
	if field.State() != StateIdle {
		t.Fatalf("state = %v, want idle", field.State())
	}

	mentions := field.Mentions()
	if len(mentions) != 1 {
		t.Fatalf("expected 1 mention, got %d", len(mentions))
	}
	// Span indices refer to the pre-insertion text "Hello @jo".
	if mentions[0].StartIndex != 6 || mentions[0].EndIndex != 9 {
		t.Fatalf("span = [%d, %d), want [6, 9)", mentions[0].StartIndex, mentions[0].EndIndex)
	}
	if mentions[0].UserID != "u1" || mentions[0].UserName != "John Smith" {
		t.Fatalf("unexpected mention: %+v", mentions[0])
	}
}

func TestInsertMentionWithoutTrigger(t *testing.T) {
	field := NewField()
	field.SetText("no trigger here", 15)
	if field.InsertMention(Candidate{ID: "u1", Name: "John"}) {
		t.Fatal("InsertMention should fail without an active trigger")
	}
}

func TestRemoveAndClearMentions(t *testing.T) {
	field := NewField()
	field.SetText("@an", 3)
	field.InsertMention(Candidate{ID: "u1", Name: "Anna"})
	textAfterInsert := field.Text()

	id := field.Mentions()[0].ID
	if !field.RemoveMention(id) {
		t.Fatal("RemoveMention failed")
	}
	if field.RemoveMention(id) {
		t.Fatal("RemoveMention should fail for an unknown id")
	}
	if field.Text() != textAfterInsert {
		t.Fatal("RemoveMention must not touch the text")
	}

	field.SetText(field.Text()+"@bo", len(field.Text())+3)
	field.InsertMention(Candidate{ID: "u2", Name: "Bob"})
	field.ClearMentions()
	if len(field.Mentions()) != 0 {
		t.Fatal("ClearMentions should wipe all transient mentions")
	}
}

func TestCommittedUserIDs(t *testing.T) {
	field := NewField()
	field.SetText("ping @an", 8)
	field.InsertMention(Candidate{ID: "u1", Name: "Anna"})

	text := field.Text()
	field.SetText(text+"and @bo", len(text)+7)
	field.InsertMention(Candidate{ID: "u2", Name: "Bob"})

	ids := field.CommittedUserIDs()
	if len(ids) != 2 || ids[0] != "u1" || ids[1] != "u2" {
		t.Fatalf("ids = %v, want [u1 u2]", ids)
	}

	// Splice Bob's @Name out of the text: his mention no longer commits.
	spliced := strings.Replace(field.Text(), "@Bob ", "", 1)
	field.SetText(spliced, len(spliced))
	ids = field.CommittedUserIDs()
	if len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("ids = %v, want [u1]", ids)
	}
}

func TestCommittedUserIDsDedupes(t *testing.T) {
	field := NewField()
	field.SetText("@an", 3)
	field.InsertMention(Candidate{ID: "u1", Name: "Anna"})

	text := field.Text()
	field.SetText(text+"again @an", len(text)+9)
	field.InsertMention(Candidate{ID: "u1", Name: "Anna"})

	ids := field.CommittedUserIDs()
	if len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("duplicate mention of one user should commit once, got %v", ids)
	}
}
