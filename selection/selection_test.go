package selection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/chatsync/message"
)

func TestSelectionEnterToggleExit(t *testing.T) {
	c := NewCoordinator()
	assert.False(t, c.Active())

	c.Enter("srv1")
	assert.True(t, c.Active())
	assert.True(t, c.Selected("srv1"))

	c.Toggle("srv2")
	assert.Equal(t, 2, c.Count())

	c.Toggle("srv1")
	assert.False(t, c.Selected("srv1"))
	assert.True(t, c.Active())

	// Removing the last message exits selection mode.
	c.Toggle("srv2")
	assert.False(t, c.Active())
	assert.Equal(t, 0, c.Count())
}

func TestToggleIgnoredWhileInactive(t *testing.T) {
	c := NewCoordinator()
	c.Toggle("srv1")
	assert.False(t, c.Active())
	assert.Equal(t, 0, c.Count())
}

func TestSelectAllAndClear(t *testing.T) {
	c := NewCoordinator()
	c.SelectAll([]string{"srv1", "srv2", "srv3"})
	assert.True(t, c.Active())
	assert.Equal(t, []string{"srv1", "srv2", "srv3"}, c.Keys())

	c.Clear()
	assert.False(t, c.Active())
	assert.Equal(t, 0, c.Count())

	c.SelectAll(nil)
	assert.False(t, c.Active())
}

// mapResolver is a Resolver over a fixed message set.
type mapResolver map[string]*message.Message

func (r mapResolver) Get(key string) (*message.Message, bool) {
	m, ok := r[key]
	return m, ok
}

func testMessages() mapResolver {
	base := time.Now()
	mk := func(id, text string, offset time.Duration) *message.Message {
		m := message.NewOutgoing("thread1", "alice", text)
		m.ID = id
		m.CreatedAt = base.Add(offset)
		return m
	}
	return mapResolver{
		"srv1": mk("srv1", "first", 0),
		"srv2": mk("srv2", "second", time.Minute),
		"srv3": mk("srv3", "third", 2*time.Minute),
	}
}

func TestMaterializeDropsStaleAndOrders(t *testing.T) {
	resolve := testMessages()
	resolve["srv2"].Tombstone(time.Now())

	c := NewCoordinator()
	c.SelectAll([]string{"srv3", "srv1", "srv2", "ghost"})

	got := Materialize(c, resolve)
	require.Len(t, got, 2)
	assert.Equal(t, "srv1", got[0].ID)
	assert.Equal(t, "srv3", got[1].ID)
}

// stubForwarder fails for the targets in failFor.
type stubForwarder struct {
	calls   map[string][]string
	failFor map[string]error
}

func (f *stubForwarder) ForwardMessages(ctx context.Context, target string, ids []string) error {
	if f.calls == nil {
		f.calls = make(map[string][]string)
	}
	f.calls[target] = ids
	return f.failFor[target]
}

func TestForwardSelectedIndependentTargets(t *testing.T) {
	boom := errors.New("membership revoked")
	fw := &stubForwarder{failFor: map[string]error{"t2": boom}}

	c := NewCoordinator()
	c.SelectAll([]string{"srv1", "srv2"})

	results := ForwardSelected(context.Background(), c, testMessages(), fw, []string{"t1", "t2", "t3"})
	require.Len(t, results, 3)

	// The failing middle target does not stop the rest.
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
	assert.NoError(t, results[2].Err)
	assert.Len(t, fw.calls, 3)
	assert.Equal(t, []string{"srv1", "srv2"}, fw.calls["t3"])

	failed := Failed(results)
	require.Len(t, failed, 1)
	assert.Equal(t, "t2", failed[0].Target)
}

func TestForwardSelectedSkipsUnacknowledged(t *testing.T) {
	resolve := testMessages()
	pending := message.NewOutgoing("thread1", "alice", "still sending")
	pending.ClientTempID = "tmp1"
	resolve["tmp1"] = pending

	c := NewCoordinator()
	c.SelectAll([]string{"srv1", "tmp1"})

	fw := &stubForwarder{}
	ForwardSelected(context.Background(), c, resolve, fw, []string{"t1"})
	assert.Equal(t, []string{"srv1"}, fw.calls["t1"])
}

func TestCopySelected(t *testing.T) {
	c := NewCoordinator()
	c.SelectAll([]string{"srv3", "srv1"})

	text := CopySelected(c, testMessages())
	assert.Equal(t, "first\nthird", text)
}

// stubDeleter fails for ids in failFor.
type stubDeleter struct {
	deleted []string
	failFor map[string]error
}

func (d *stubDeleter) DeleteForMe(ctx context.Context, messageID string) error {
	if err := d.failFor[messageID]; err != nil {
		return err
	}
	d.deleted = append(d.deleted, messageID)
	return nil
}

func TestDeleteSelectedForMePartialFailure(t *testing.T) {
	boom := errors.New("gone")
	del := &stubDeleter{failFor: map[string]error{"srv2": boom}}

	c := NewCoordinator()
	c.SelectAll([]string{"srv1", "srv2", "srv3"})

	results := DeleteSelectedForMe(context.Background(), c, testMessages(), del)
	require.Len(t, results, 3)
	assert.Equal(t, []string{"srv1", "srv3"}, del.deleted)
	require.Len(t, Failed(results), 1)
	assert.Equal(t, "srv2", Failed(results)[0].Target)
}
