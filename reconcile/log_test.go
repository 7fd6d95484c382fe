package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/react"
)

func serverMessage(id string, createdAt time.Time) *message.Message {
	return &message.Message{
		ID:           id,
		ClientTempID: "remote-" + id,
		ThreadID:     "t1",
		Sender:       "bob",
		Text:         "msg " + id,
		CreatedAt:    createdAt,
		Status:       message.StatusSent,
	}
}

func optimistic(tempID, text string) *message.Message {
	m := message.NewOutgoing("t1", "alice", text)
	m.ClientTempID = tempID
	m.Status = message.StatusSending
	return m
}

func ids(l *Log) []string {
	snapshot := l.Snapshot()
	out := make([]string, len(snapshot))
	for i, m := range snapshot {
		out[i] = m.AuthoritativeKey()
	}
	return out
}

func TestApplyOptimisticAppendsAtTail(t *testing.T) {
	l := NewLog("t1")
	base := time.Now().Add(-time.Hour)
	l.ApplyNew(serverMessage("a", base))
	l.ApplyNew(serverMessage("b", base.Add(time.Minute)))

	l.ApplyOptimistic(optimistic("tmp1", "hello"))

	got := ids(l)
	want := []string{"a", "b", "tmp1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log order = %v, want %v", got, want)
		}
	}
}

func TestApplyOptimisticReplacesSameTempID(t *testing.T) {
	l := NewLog("t1")
	l.ApplyOptimistic(optimistic("tmp1", "first"))
	l.ApplyOptimistic(optimistic("tmp1", "second"))

	if l.Len() != 1 {
		t.Fatalf("at most one optimistic entry per temp id, got %d entries", l.Len())
	}
	m, _ := l.Get("tmp1")
	if m.Text != "second" {
		t.Errorf("replacement did not take: %q", m.Text)
	}
}

func TestAckReplacementPreservesPosition(t *testing.T) {
	l := NewLog("t1")
	base := time.Now().Add(-time.Hour)
	l.ApplyNew(serverMessage("a", base))
	l.ApplyNew(serverMessage("b", base.Add(time.Minute)))
	l.ApplyOptimistic(optimistic("tmp1", "mine"))

	// A later inbound message lands after the optimistic entry.
	l.ApplyNew(serverMessage("d", time.Now().Add(time.Minute)))

	// Ack arrives with a server timestamp that would re-sort the entry;
	// position must be preserved regardless.
	ack := optimistic("tmp1", "mine")
	ack.ID = "srv9"
	ack.CreatedAt = base.Add(-time.Hour)
	l.ApplyNew(ack)

	got := ids(l)
	want := []string{"a", "b", "srv9", "d"}
	if len(got) != len(want) {
		t.Fatalf("log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log order = %v, want %v", got, want)
		}
	}

	m, _ := l.Get("srv9")
	if m.Status != message.StatusSent {
		t.Errorf("acked message status = %v, want sent", m.Status)
	}
}

func TestNoDuplicateServerIDs(t *testing.T) {
	l := NewLog("t1")
	now := time.Now()

	// Same server id delivered twice, plus an ack racing a redelivery.
	l.ApplyNew(serverMessage("x", now))
	l.ApplyNew(serverMessage("x", now))
	l.ApplyOptimistic(optimistic("tmp1", "mine"))
	ack := optimistic("tmp1", "mine")
	ack.ID = "y"
	l.ApplyNew(ack)
	dup := serverMessage("y", now)
	dup.ClientTempID = ""
	l.ApplyNew(dup)

	seen := make(map[string]bool)
	for _, m := range l.Snapshot() {
		if m.ID == "" {
			continue
		}
		if seen[m.ID] {
			t.Fatalf("duplicate server id %q in log %v", m.ID, ids(l))
		}
		seen[m.ID] = true
	}
}

func TestInsertOrderedByTimestampWithArrivalTieBreak(t *testing.T) {
	l := NewLog("t1")
	now := time.Now()

	l.ApplyNew(serverMessage("late", now.Add(time.Minute)))
	l.ApplyNew(serverMessage("early", now.Add(-time.Minute)))
	tieA := serverMessage("tie-a", now)
	tieB := serverMessage("tie-b", now)
	l.ApplyNew(tieA)
	l.ApplyNew(tieB)

	got := ids(l)
	want := []string{"early", "tie-a", "tie-b", "late"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log order = %v, want %v", got, want)
		}
	}
}

func TestApplyEditMutatesTarget(t *testing.T) {
	l := NewLog("t1")
	l.ApplyNew(serverMessage("m1", time.Now()))

	edited := serverMessage("m1", time.Now())
	edited.Text = "edited text"
	l.ApplyEdit(edited)

	m, _ := l.Get("m1")
	if m.Text != "edited text" || m.EditedAt == nil {
		t.Errorf("edit not applied: %+v", m)
	}
}

func TestApplyEditUnknownTargetIsNoOp(t *testing.T) {
	l := NewLog("t1")
	edited := serverMessage("ghost", time.Now())
	l.ApplyEdit(edited) // must not panic or insert
	if l.Len() != 0 {
		t.Error("edit of unknown target must not insert")
	}
}

func TestApplyDeleteTombstones(t *testing.T) {
	l := NewLog("t1")
	msg := serverMessage("m1", time.Now())
	msg.Attachments = []message.Attachment{{Type: "image", URL: "u"}}
	l.ApplyNew(msg)

	at := time.Now()
	l.ApplyDelete("m1", at)

	m, ok := l.Get("m1")
	if !ok {
		t.Fatal("tombstoned message must stay in the log")
	}
	if !m.Tombstoned() || m.Text != "" || m.Attachments != nil {
		t.Errorf("tombstone incomplete: %+v", m)
	}

	// Unknown target: silent no-op.
	l.ApplyDelete("ghost", at)
}

func TestApplyReactionDelegatesToMerger(t *testing.T) {
	l := NewLog("t1")
	l.ApplyNew(serverMessage("m1", time.Now()))

	l.ApplyReaction("m1", "👍", "carol", react.ActionAdded)
	m, _ := l.Get("m1")
	if users := m.Reactions["👍"]; len(users) != 1 || users[0] != "carol" {
		t.Errorf("reaction not merged: %v", m.Reactions)
	}

	l.ApplyReaction("m1", "👍", "carol", react.ActionRemoved)
	m, _ = l.Get("m1")
	if m.Reactions != nil {
		t.Errorf("reaction removal left residue: %v", m.Reactions)
	}

	l.ApplyReaction("ghost", "👍", "carol", react.ActionAdded) // no-op
}

func TestMarkStatus(t *testing.T) {
	l := NewLog("t1")
	l.ApplyNew(serverMessage("m1", time.Now()))
	l.ApplyNew(serverMessage("m2", time.Now()))

	l.MarkStatus([]string{"m1", "m2", "ghost"}, message.StatusDelivered)
	l.MarkStatus([]string{"m1"}, message.StatusSeen)

	m1, _ := l.Get("m1")
	m2, _ := l.Get("m2")
	if m1.Status != message.StatusSeen || m2.Status != message.StatusDelivered {
		t.Errorf("statuses = %v, %v", m1.Status, m2.Status)
	}

	// Regression attempt is ignored.
	l.MarkStatus([]string{"m1"}, message.StatusPending)
	m1, _ = l.Get("m1")
	if m1.Status != message.StatusSeen {
		t.Error("seen message must not regress")
	}
}

func TestMergeOlderPrependsAndDedups(t *testing.T) {
	l := NewLog("t1")
	now := time.Now()
	l.ApplyNew(serverMessage("recent", now))

	page := []*message.Message{
		serverMessage("old2", now.Add(-time.Minute)),
		serverMessage("old1", now.Add(-2*time.Minute)),
		serverMessage("recent", now), // overlap with live log
	}
	l.MergeOlder(page, "cursor-2")

	got := ids(l)
	want := []string{"old1", "old2", "recent"}
	if len(got) != len(want) {
		t.Fatalf("log = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("log order = %v, want %v", got, want)
		}
	}
	if l.Cursor() != "cursor-2" {
		t.Errorf("cursor = %q", l.Cursor())
	}
}

func TestSnapshotSanitizesCorruptTombstone(t *testing.T) {
	l := NewLog("t1")
	msg := serverMessage("m1", time.Now())
	now := time.Now()
	msg.DeletedAt = &now // tombstoned but content never cleared
	l.ApplyNew(msg)

	for _, m := range l.Snapshot() {
		if m.Tombstoned() && (m.Text != "" || len(m.Attachments) > 0 || len(m.Reactions) > 0) {
			t.Errorf("snapshot leaked content on tombstoned message: %+v", m)
		}
	}
}

func TestSnapshotReturnsCopies(t *testing.T) {
	l := NewLog("t1")
	l.ApplyNew(serverMessage("m1", time.Now()))

	l.Snapshot()[0].Text = "mutated by reader"

	m, _ := l.Get("m1")
	if m.Text == "mutated by reader" {
		t.Error("snapshot must not alias log state")
	}
}

func TestRestoreRollsBack(t *testing.T) {
	l := NewLog("t1")
	l.ApplyNew(serverMessage("m1", time.Now()))

	snapshot, _ := l.Get("m1")
	l.ApplyReaction("m1", "👍", "alice", react.ActionAdded)
	l.Restore(snapshot)

	m, _ := l.Get("m1")
	if m.Reactions != nil {
		t.Errorf("rollback incomplete: %v", m.Reactions)
	}
}

func TestRemovePendingEntry(t *testing.T) {
	l := NewLog("t1")
	l.ApplyOptimistic(optimistic("tmp1", "delete me"))

	if !l.Remove("tmp1") {
		t.Fatal("Remove should report success")
	}
	if l.Len() != 0 {
		t.Error("entry not removed")
	}
	if l.Remove("tmp1") {
		t.Error("second Remove should report false")
	}
}

func TestTypingView(t *testing.T) {
	l := NewLog("t1")
	l.SetTyping("u1", "Bob", true)
	l.SetTyping("u2", "Carol", true)
	l.SetTyping("u1", "Bob", false)

	if got := l.TypingUsers(); len(got) != 1 || got[0] != "Carol" {
		t.Errorf("TypingUsers = %v", got)
	}

	l.SetTyping("u2", "Carol", true)
	l.ClearTyping()
	if got := l.TypingUsers(); len(got) != 0 {
		t.Errorf("typing state should be empty after clear: %v", got)
	}
}

func TestInterleavingsNeverDuplicate(t *testing.T) {
	// Random-ish interleavings of optimistic sends, acks, and
	// redeliveries must never produce duplicate server ids.
	now := time.Now()
	for round := 0; round < 20; round++ {
		l := NewLog("t1")
		for i := 0; i < 10; i++ {
			tempID := fmt.Sprintf("tmp%d", i)
			srvID := fmt.Sprintf("srv%d", i)

			l.ApplyOptimistic(optimistic(tempID, "m"))
			ack := optimistic(tempID, "m")
			ack.ID = srvID
			ack.CreatedAt = now.Add(time.Duration(i) * time.Second)
			if (i+round)%2 == 0 {
				l.ApplyNew(ack)
				l.ApplyNew(ack.Clone()) // redelivery
			} else {
				l.ApplyNew(ack.Clone())
				l.ApplyNew(ack)
			}
		}

		seen := make(map[string]bool)
		for _, m := range l.Snapshot() {
			if m.ID == "" {
				continue
			}
			if seen[m.ID] {
				t.Fatalf("round %d: duplicate id %s", round, m.ID)
			}
			seen[m.ID] = true
		}
	}
}
