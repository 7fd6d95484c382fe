package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/transport"
)

// threadAPI implements ThreadAPI over REST routes rooted at a
// per-kind base path. Private and community threads share every
// operation shape and differ only in the root.
type threadAPI struct {
	client *Client
	base   string
}

// NewPrivateThreadAPI creates the adapter for a two-participant thread.
func NewPrivateThreadAPI(client *Client, threadID string) ThreadAPI {
	return &threadAPI{client: client, base: "/dm/" + url.PathEscape(threadID)}
}

// NewCommunityThreadAPI creates the adapter for a community thread.
func NewCommunityThreadAPI(client *Client, threadID string) ThreadAPI {
	return &threadAPI{client: client, base: "/communities/" + url.PathEscape(threadID)}
}

// ForThread returns the adapter matching the thread's kind.
func ForThread(client *Client, thread *message.Thread) ThreadAPI {
	if thread.Kind == message.KindCommunity {
		return NewCommunityThreadAPI(client, thread.ID)
	}
	return NewPrivateThreadAPI(client, thread.ID)
}

// wirePage is the server page shape; messages carry their content type
// as a string.
type wirePage struct {
	Messages   []transport.WireMessage `json:"messages"`
	NextCursor string                  `json:"nextCursor"`
}

func (p wirePage) model() Page {
	page := Page{NextCursor: p.NextCursor}
	for _, w := range p.Messages {
		page.Messages = append(page.Messages, w.Model())
	}
	return page
}

func (t *threadAPI) ListMessages(ctx context.Context) (Page, error) {
	return t.listPage(ctx, nil)
}

func (t *threadAPI) ListMessagesOlder(ctx context.Context, cursor string) (Page, error) {
	return t.listPage(ctx, map[string]string{"cursor": cursor})
}

func (t *threadAPI) listPage(ctx context.Context, query map[string]string) (Page, error) {
	data, err := t.client.doRequest(ctx, http.MethodGet, t.base+"/messages", nil, query)
	if err != nil {
		return Page{}, err
	}
	page, err := decodeJSON[wirePage](data)
	if err != nil {
		return Page{}, err
	}
	return page.model(), nil
}

func (t *threadAPI) Upload(ctx context.Context, att message.Attachment) (message.Attachment, error) {
	data, err := t.client.uploadFile(ctx, t.base+"/attachments", att.LocalRef, att.MIME)
	if err != nil {
		return message.Attachment{}, err
	}
	result, err := decodeJSON[struct {
		Attachments []message.Attachment `json:"attachments"`
	}](data)
	if err != nil {
		return message.Attachment{}, err
	}
	if len(result.Attachments) == 0 {
		return message.Attachment{}, &StatusError{Status: http.StatusBadGateway, Message: "upload returned no attachments"}
	}
	hosted := result.Attachments[0]
	hosted.LocalRef = att.LocalRef
	return hosted, nil
}

func (t *threadAPI) React(ctx context.Context, messageID, emoji string) error {
	body := map[string]string{"emoji": emoji}
	_, err := t.client.doRequest(ctx, http.MethodPost, t.messagePath(messageID)+"/reactions", body, nil)
	return err
}

func (t *threadAPI) Edit(ctx context.Context, messageID, text string) error {
	body := map[string]string{"text": text}
	_, err := t.client.doRequest(ctx, http.MethodPatch, t.messagePath(messageID), body, nil)
	return err
}

func (t *threadAPI) DeleteForMe(ctx context.Context, messageID string) error {
	_, err := t.client.doRequest(ctx, http.MethodDelete, t.messagePath(messageID), nil,
		map[string]string{"scope": "me"})
	return err
}

func (t *threadAPI) DeleteForEveryone(ctx context.Context, messageID string) error {
	_, err := t.client.doRequest(ctx, http.MethodDelete, t.messagePath(messageID), nil,
		map[string]string{"scope": "everyone"})
	return err
}

func (t *threadAPI) MessageInfo(ctx context.Context, messageID string) (*MessageDetail, error) {
	data, err := t.client.doRequest(ctx, http.MethodGet, t.messagePath(messageID)+"/info", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[MessageDetail](data)
}

func (t *threadAPI) ForwardTargets(ctx context.Context) ([]ForwardTarget, error) {
	data, err := t.client.doRequest(ctx, http.MethodGet, "/forward/targets", nil, nil)
	if err != nil {
		return nil, err
	}
	result, err := decodeJSON[struct {
		Targets []ForwardTarget `json:"targets"`
	}](data)
	if err != nil {
		return nil, err
	}
	return result.Targets, nil
}

func (t *threadAPI) ForwardMessages(ctx context.Context, targetThreadID string, messageIDs []string) error {
	body := map[string]interface{}{
		"targetThreadId": targetThreadID,
		"messageIds":     messageIDs,
	}
	_, err := t.client.doRequest(ctx, http.MethodPost, t.base+"/forward", body, nil)
	return err
}

func (t *threadAPI) messagePath(messageID string) string {
	return t.base + "/messages/" + url.PathEscape(messageID)
}
