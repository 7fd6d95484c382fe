// Package compose turns user input into dispatchable messages and
// enforces the local rules around them: empty-send rejection, length
// and attachment caps, the edit and delete windows, typing signal
// throttling, and per-thread draft persistence.
package compose

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/civicmesh/chatsync/limits"
	"github.com/civicmesh/chatsync/message"
)

// ErrEmptyMessage indicates a send with neither text nor attachments.
// Rejected locally; no optimistic entry is created.
var ErrEmptyMessage = errors.New("message has no content")

// ErrRateLimited indicates the thread's send rate budget is exhausted.
// The call is a no-op: no optimistic entry, nothing dispatched.
var ErrRateLimited = errors.New("send rate limit exceeded")

// Composer builds outgoing messages for one thread.
type Composer struct {
	threadID string
	selfID   string
	limiter  *limits.SendLimiter
}

// NewComposer creates a composer for the given thread and author.
func NewComposer(threadID, selfID string, limiter *limits.SendLimiter) *Composer {
	return &Composer{threadID: threadID, selfID: selfID, limiter: limiter}
}

// Build validates the input and produces a pending message with a fresh
// client temp id. replyTo may be nil. Whitespace-only text with no
// attachments is an empty send.
func (c *Composer) Build(text string, attachments []message.Attachment, replyTo *message.Message) (*message.Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if err := limits.ValidateText(trimmed); err != nil {
		return nil, err
	}
	if err := limits.ValidateAttachmentCount(len(attachments)); err != nil {
		return nil, err
	}
	for _, att := range attachments {
		if err := limits.ValidateAttachmentSize(att.Size); err != nil {
			return nil, err
		}
	}

	if c.limiter != nil && !c.limiter.Allow(c.threadID) {
		logrus.WithFields(logrus.Fields{
			"function":  "Build",
			"thread_id": c.threadID,
		}).Debug("Send rejected by rate limiter")
		return nil, ErrRateLimited
	}

	msg := message.NewOutgoing(c.threadID, c.selfID, trimmed)
	msg.ClientTempID = uuid.NewString()
	msg.Attachments = attachments
	msg.Type = inferType(attachments)
	if replyTo != nil {
		preview := message.NewReplyPreview(replyTo)
		msg.ReplyTo = &preview
	}
	return msg, nil
}

func inferType(attachments []message.Attachment) message.Type {
	if len(attachments) == 0 {
		return message.TypeText
	}
	switch attachments[0].Type {
	case "image", "video":
		return message.TypeMedia
	case "voice", "audio":
		return message.TypeVoice
	default:
		return message.TypeFile
	}
}
