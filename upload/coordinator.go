// Package upload resolves local attachment references into
// server-hosted descriptors before a media message is dispatched.
package upload

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/civicmesh/chatsync/limits"
	"github.com/civicmesh/chatsync/message"
)

// Uploader pushes one local attachment to media storage and returns the
// hosted descriptor for it.
type Uploader interface {
	Upload(ctx context.Context, att message.Attachment) (message.Attachment, error)
}

// Coordinator uploads a message's attachments sequentially. Any upload
// failure aborts the whole message so it is surfaced as failed rather
// than sent with holes.
type Coordinator struct {
	uploader Uploader
}

// NewCoordinator creates a coordinator over the given uploader.
func NewCoordinator(uploader Uploader) *Coordinator {
	return &Coordinator{uploader: uploader}
}

// Prepare validates and uploads every attachment of the message that
// does not already have a hosted URL, replacing each local descriptor
// in place. On error the message is left partially prepared; already
// uploaded descriptors keep their URLs so a manual retry resumes where
// it stopped.
func (c *Coordinator) Prepare(ctx context.Context, msg *message.Message) error {
	if len(msg.Attachments) == 0 {
		return nil
	}
	if err := limits.ValidateAttachmentCount(len(msg.Attachments)); err != nil {
		return err
	}

	for i := range msg.Attachments {
		if msg.Attachments[i].Uploaded() {
			continue
		}
		if err := limits.ValidateAttachmentSize(msg.Attachments[i].Size); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		hosted, err := c.uploader.Upload(ctx, msg.Attachments[i])
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":       "Prepare",
				"client_temp_id": msg.ClientTempID,
				"attachment":     i,
				"error":          err.Error(),
			}).Warn("Attachment upload failed")
			return fmt.Errorf("uploading attachment %d: %w", i, err)
		}
		if !hosted.Uploaded() {
			return fmt.Errorf("uploading attachment %d: uploader returned no url", i)
		}
		hosted.LocalRef = msg.Attachments[i].LocalRef
		msg.Attachments[i] = hosted
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Prepare",
		"client_temp_id": msg.ClientTempID,
		"attachments":    len(msg.Attachments),
	}).Debug("All attachments uploaded")
	return nil
}
