package selection

import (
	"context"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/civicmesh/chatsync/message"
)

// Resolver materializes a message for an id at action time. The
// reconciliation log satisfies this.
type Resolver interface {
	Get(key string) (*message.Message, bool)
}

// Result is one target's outcome within a bulk action. Targets are
// independent; one failure never rolls back the others.
type Result struct {
	Target string
	Err    error
}

// Failed returns the subset of results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Materialize resolves the selected set into live messages, dropping
// ids whose messages have since been removed or tombstoned. Messages
// come back in log order by creation time.
func Materialize(c *Coordinator, resolve Resolver) []*message.Message {
	var out []*message.Message
	for _, key := range c.Keys() {
		msg, ok := resolve.Get(key)
		if !ok || msg.Tombstoned() {
			continue
		}
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Forwarder sends a batch of messages to one target thread.
type Forwarder interface {
	ForwardMessages(ctx context.Context, targetThreadID string, messageIDs []string) error
}

// ForwardSelected copies the materialized selection into each target
// thread. Every target is attempted; the per-target results report
// individual failures.
func ForwardSelected(ctx context.Context, c *Coordinator, resolve Resolver, fw Forwarder, targetThreadIDs []string) []Result {
	messages := Materialize(c, resolve)
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		if m.Acknowledged() {
			ids = append(ids, m.ID)
		}
	}

	results := make([]Result, 0, len(targetThreadIDs))
	for _, target := range targetThreadIDs {
		err := fw.ForwardMessages(ctx, target, ids)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ForwardSelected",
				"target":   target,
				"messages": len(ids),
				"error":    err.Error(),
			}).Warn("Forward to target failed")
		}
		results = append(results, Result{Target: target, Err: err})
	}
	return results
}

// CopySelected renders the materialized selection as clipboard text,
// one message per line, oldest first.
func CopySelected(c *Coordinator, resolve Resolver) string {
	var lines []string
	for _, m := range Materialize(c, resolve) {
		if m.Text == "" {
			continue
		}
		lines = append(lines, m.Text)
	}
	return strings.Join(lines, "\n")
}

// Deleter hides one message for the caller.
type Deleter interface {
	DeleteForMe(ctx context.Context, messageID string) error
}

// DeleteSelectedForMe hides each materialized message for the caller,
// reporting per-message outcomes.
func DeleteSelectedForMe(ctx context.Context, c *Coordinator, resolve Resolver, del Deleter) []Result {
	var results []Result
	for _, m := range Materialize(c, resolve) {
		err := del.DeleteForMe(ctx, m.AuthoritativeKey())
		results = append(results, Result{Target: m.AuthoritativeKey(), Err: err})
	}
	return results
}
