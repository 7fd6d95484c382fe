// Package chatsync implements the synchronization core of a chat
// client: optimistic sends with server reconciliation, a durable
// offline queue, scheduled retries, reaction and receipt merging, and
// multi-select bulk actions, all over an injectable event channel.
//
// Example:
//
//	thread := &message.Thread{ID: "t1", Kind: message.KindPrivate, Members: []string{"alice", "bob"}}
//	session, err := chatsync.NewSession(chatsync.Options{
//	    SelfID:    "alice",
//	    Thread:    thread,
//	    Transport: transport.NewWSTransport(wsConfig),
//	    API:       api.NewPrivateThreadAPI(client, thread.ID),
//	    Store:     store,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer session.Close()
//
//	session.OnChange(func() { render(session.Messages()) })
//	if err := session.Open(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	session.Send(ctx, "hello", nil, nil)
package chatsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/civicmesh/chatsync/api"
	"github.com/civicmesh/chatsync/compose"
	"github.com/civicmesh/chatsync/limits"
	"github.com/civicmesh/chatsync/message"
	"github.com/civicmesh/chatsync/queue"
	"github.com/civicmesh/chatsync/react"
	"github.com/civicmesh/chatsync/reconcile"
	"github.com/civicmesh/chatsync/selection"
	"github.com/civicmesh/chatsync/storage"
	"github.com/civicmesh/chatsync/transport"
	"github.com/civicmesh/chatsync/upload"
)

// Options configures a Session.
type Options struct {
	// SelfID is the local user.
	SelfID string
	// Thread is the conversation this session synchronizes.
	Thread *message.Thread
	// Transport is the event channel for the thread.
	Transport transport.Transport
	// API is the request/response surface for the thread.
	API api.ThreadAPI
	// Store persists the offline queue, drafts, recent reactions, and
	// the hidden-message filter.
	Store storage.Store

	// ReceiptDebounce overrides the seen-receipt batching window.
	ReceiptDebounce time.Duration
	// SendRate and SendBurst tune the per-thread send limiter.
	SendRate  float64
	SendBurst int
}

// Session is the live synchronization state of one open thread.
type Session struct {
	selfID    string
	thread    *message.Thread
	transport transport.Transport
	api       api.ThreadAPI

	log       *reconcile.Log
	queue     *queue.Queue
	inflight  *queue.InFlight
	retries   *queue.RetryScheduler
	uploads   *upload.Coordinator
	composer  *compose.Composer
	drafts    *compose.DraftStore
	typing    *compose.TypingNotifier
	receipts  *react.ReceiptBatcher
	recent    *react.RecentEmoji
	hidden    *reconcile.HiddenSet
	selection *selection.Coordinator

	mu       sync.Mutex
	online   bool
	closed   bool
	cancels  map[string]context.CancelFunc
	onChange func()
	onNotice func(notice string)
}

// NewSession wires a session. It does not touch the network; call Open.
func NewSession(opts Options) (*Session, error) {
	if opts.SelfID == "" {
		return nil, errors.New("chatsync: SelfID is required")
	}
	if opts.Thread == nil {
		return nil, errors.New("chatsync: Thread is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("chatsync: Transport is required")
	}
	if opts.API == nil {
		return nil, errors.New("chatsync: API is required")
	}
	if opts.Store == nil {
		return nil, errors.New("chatsync: Store is required")
	}

	hidden, err := reconcile.LoadHiddenSet(opts.Store, opts.Thread.ID)
	if err != nil {
		return nil, err
	}

	debounce := opts.ReceiptDebounce
	if debounce == 0 {
		debounce = react.DefaultReceiptDebounce
	}

	s := &Session{
		selfID:    opts.SelfID,
		thread:    opts.Thread,
		transport: opts.Transport,
		api:       opts.API,
		log:       reconcile.NewLog(opts.Thread.ID),
		queue:     queue.New(opts.Store),
		inflight:  queue.NewInFlight(),
		uploads:   upload.NewCoordinator(opts.API),
		composer:  compose.NewComposer(opts.Thread.ID, opts.SelfID, limits.NewSendLimiter(opts.SendRate, opts.SendBurst)),
		drafts:    compose.NewDraftStore(opts.Store),
		recent:    react.NewRecentEmoji(opts.Store),
		hidden:    hidden,
		selection: selection.NewCoordinator(),
		cancels:   make(map[string]context.CancelFunc),
	}
	s.retries = queue.NewRetryScheduler(s.retryDispatch, s.retriesExhausted)
	s.receipts = react.NewReceiptBatcher(debounce, s.flushSeen)
	s.typing = compose.NewTypingNotifier(s.sendTyping)
	s.wireEvents()
	return s, nil
}

func (s *Session) wireEvents() {
	events := s.transport.Events()

	events.OnMessageNew(func(msg *message.Message) {
		if s.hidden.Hidden(msg.AuthoritativeKey()) {
			return
		}
		ownEcho := msg.Sender == s.selfID && msg.ClientTempID != ""
		s.log.ApplyNew(msg)
		if ownEcho {
			// The server acknowledged one of our optimistic sends.
			s.retries.Cancel(msg.ClientTempID)
			s.cancelSendTask(msg.ClientTempID)
			if err := s.queue.Remove(s.thread.ID, msg.ClientTempID); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":       "wireEvents",
					"client_temp_id": msg.ClientTempID,
					"error":          err.Error(),
				}).Warn("Failed to drop acknowledged queue entry")
			}
		} else {
			s.ackDelivered(msg.ID)
		}
		s.notifyChange()
	})

	events.OnMessageEdit(func(msg *message.Message) {
		s.log.ApplyEdit(msg)
		s.notifyChange()
	})

	events.OnMessageDelete(func(messageID string, deletedAt time.Time) {
		s.log.ApplyDelete(messageID, deletedAt)
		s.notifyChange()
	})

	events.OnReaction(func(messageID, emoji, userID string, action react.Action) {
		s.log.ApplyReaction(messageID, emoji, userID, action)
		s.notifyChange()
	})

	events.OnReceipt(func(messageIDs []string, userID, status string) {
		switch status {
		case "seen":
			s.log.MarkStatus(messageIDs, message.StatusSeen)
		case "delivered":
			s.log.MarkStatus(messageIDs, message.StatusDelivered)
		}
		s.notifyChange()
	})

	events.OnTyping(func(userID, name string, isTyping bool) {
		if userID == s.selfID {
			return
		}
		s.log.SetTyping(userID, name, isTyping)
		s.notifyChange()
	})

	events.OnError(func(msg string) {
		s.notify(msg)
	})

	events.OnConnected(func() {
		s.mu.Lock()
		s.online = true
		s.mu.Unlock()
		s.receipts.Restart()
		go s.flushQueue()
	})

	events.OnDisconnected(func(reason string) {
		s.mu.Lock()
		s.online = false
		s.mu.Unlock()
		// Typing and receipts are live signals; they stop cold while
		// offline rather than queueing.
		s.typing.Stop()
		s.receipts.Stop()
		s.log.ClearTyping()
		s.notifyChange()
	})
}

// OnChange registers a callback fired after any log mutation.
func (s *Session) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// OnNotice registers a callback for recoverable user-facing notices,
// e.g. a server-rejected edit.
func (s *Session) OnNotice(fn func(notice string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onNotice = fn
}

// Open connects the event channel and loads the newest history page.
// Attempt counts persisted with queued entries are restored first so
// the retry ceiling carries across restarts.
func (s *Session) Open(ctx context.Context) error {
	if entries, err := s.queue.Entries(s.thread.ID); err == nil {
		for _, e := range entries {
			if e.RetryCount > 0 {
				s.retries.Seed(e.ClientTempID, e.RetryCount)
			}
		}
	}
	if err := s.transport.Connect(ctx); err != nil {
		return fmt.Errorf("connecting event channel: %w", err)
	}
	page, err := s.api.ListMessages(ctx)
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	s.log.MergeOlder(s.hidden.Filter(page.Messages), page.NextCursor)
	s.notifyChange()
	return nil
}

// Close tears the session down. Pending sends are cancelled; queued
// entries stay durable for the next session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancels := s.cancels
	s.cancels = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	s.typing.Stop()
	s.receipts.Stop()
	s.retries.Stop()
	return s.transport.Close()
}

// Online reports whether the event channel is up.
func (s *Session) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

// Messages returns the reconciled log, oldest first.
func (s *Session) Messages() []*message.Message {
	return s.log.Snapshot()
}

// TypingUsers returns the names of other participants currently typing.
func (s *Session) TypingUsers() []string {
	return s.log.TypingUsers()
}

// Selection exposes the multi-select coordinator.
func (s *Session) Selection() *selection.Coordinator {
	return s.selection
}

// RecentReactions returns the recently used reaction emoji.
func (s *Session) RecentReactions() []string {
	return s.recent.Get()
}

// Send validates the input, inserts an optimistic entry, and starts
// the background dispatch task. The returned message is the optimistic
// entry; its status settles asynchronously.
func (s *Session) Send(ctx context.Context, text string, attachments []message.Attachment, replyTo *message.Message) (*message.Message, error) {
	msg, err := s.composer.Build(text, attachments, replyTo)
	if err != nil {
		return nil, err
	}

	s.typing.Stop()
	if err := s.drafts.Clear(s.thread.ID); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Send",
			"thread_id": s.thread.ID,
			"error":     err.Error(),
		}).Warn("Failed to clear draft")
	}

	s.log.ApplyOptimistic(msg)
	s.notifyChange()
	go s.dispatch(msg.ClientTempID)
	return msg.Clone(), nil
}

// RetryMessage re-attempts a failed message on user request. The
// automatic retry cycle starts over if this attempt fails too.
func (s *Session) RetryMessage(tempID string) {
	s.retries.Reset(tempID)
	go s.dispatch(tempID)
}

// dispatch is the sequential send task: upload, then transport send,
// then await the acknowledgment event. One cancellation covers all
// stages so deleting a pending message aborts cleanly.
func (s *Session) dispatch(tempID string) {
	if !s.inflight.TryAcquire(tempID) {
		return
	}
	defer s.inflight.Release(tempID)

	msg, ok := s.log.Get(tempID)
	if !ok || msg.Acknowledged() || msg.Tombstoned() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancels[tempID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, tempID)
		s.mu.Unlock()
	}()

	s.log.MarkStatus([]string{tempID}, message.StatusSending)
	s.notifyChange()

	if msg.HasMedia() {
		if err := s.uploads.Prepare(ctx, msg); err != nil {
			// Upload failures wait for the user; the file handle may
			// be gone, so automatic retry would be wrong.
			s.failMessage(tempID, fmt.Sprintf("attachment upload failed: %v", err))
			return
		}
		// The ack may have landed during the upload; re-applying then
		// would append a second, unacknowledged copy.
		if cur, ok := s.log.Get(tempID); !ok || cur.Acknowledged() || cur.Tombstoned() {
			return
		}
		// Re-apply so the log's entry carries the hosted descriptors.
		msg.SetStatus(message.StatusSending)
		s.log.ApplyOptimistic(msg)
	}

	payload := transport.NewSendPayload(msg)
	if !s.Online() {
		if err := s.queue.Push(queue.Entry{
			ClientTempID: tempID,
			ThreadID:     s.thread.ID,
			Payload:      payload,
			CreatedAt:    msg.CreatedAt,
			RetryCount:   s.retries.Attempts(tempID),
		}); err != nil {
			s.failMessage(tempID, fmt.Sprintf("queueing message failed: %v", err))
		}
		// The entry stays `sending` until the reconnect flush resolves it.
		return
	}

	if err := s.transport.SendMessage(ctx, payload); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.MarkStatus([]string{tempID}, message.StatusFailed)
		s.notifyChange()
		if !msg.HasMedia() {
			s.retries.NoteFailure(tempID)
		} else {
			s.notify("message failed to send")
		}
		return
	}
	// Dispatched. The message:new echo carrying our temp id settles it.
}

// retryDispatch is the scheduler's callback.
func (s *Session) retryDispatch(tempID string, attempt int) {
	msg, ok := s.log.Get(tempID)
	if !ok || msg.Acknowledged() || msg.Tombstoned() {
		s.retries.Cancel(tempID)
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":       "retryDispatch",
		"client_temp_id": tempID,
		"attempt":        attempt,
	}).Debug("Retrying message send")
	s.dispatch(tempID)
}

func (s *Session) retriesExhausted(tempID string) {
	s.failMessage(tempID, "message could not be delivered")
}

func (s *Session) failMessage(tempID, notice string) {
	s.log.MarkStatus([]string{tempID}, message.StatusFailed)
	s.notifyChange()
	s.notify(notice)
}

// errDispatchOwned signals that a live send task holds the message, so
// the flush must keep the durable entry for that task to resolve.
var errDispatchOwned = errors.New("message owned by a live send task")

// flushQueue replays the offline queue in submission order after a
// reconnect.
func (s *Session) flushQueue() {
	ctx, cancelCtx := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelCtx()

	_, err := s.queue.Flush(s.thread.ID, func(e queue.Entry) error {
		if !s.inflight.TryAcquire(e.ClientTempID) {
			// A nil return would remove the durable entry, dropping
			// the restart guarantee if the live dispatch fails.
			return errDispatchOwned
		}
		defer s.inflight.Release(e.ClientTempID)
		return s.transport.SendMessage(ctx, e.Payload)
	})
	if err != nil && !errors.Is(err, errDispatchOwned) {
		logrus.WithFields(logrus.Fields{
			"function":  "flushQueue",
			"thread_id": s.thread.ID,
			"error":     err.Error(),
		}).Warn("Offline queue flush stopped early")
	}
	s.notifyChange()
}

func (s *Session) cancelSendTask(tempID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[tempID]
	if ok {
		delete(s.cancels, tempID)
	}
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// LoadOlder fetches and merges the page before the current cursor.
// Returns false when the beginning of the thread has been reached.
func (s *Session) LoadOlder(ctx context.Context) (bool, error) {
	cursor := s.log.Cursor()
	if cursor == "" {
		return false, nil
	}
	page, err := s.api.ListMessagesOlder(ctx, cursor)
	if err != nil {
		return false, fmt.Errorf("loading older history: %w", err)
	}
	s.log.MergeOlder(s.hidden.Filter(page.Messages), page.NextCursor)
	s.notifyChange()
	return page.NextCursor != "", nil
}

// React toggles the local user's reaction optimistically and confirms
// with the server, rolling back on rejection.
func (s *Session) React(ctx context.Context, messageKey, emoji string) error {
	snapshot, ok := s.log.Get(messageKey)
	if !ok {
		return api.ErrNotFound
	}

	current, has := react.CurrentReaction(snapshot, s.selfID)
	action := react.ActionAdded
	if has && current == emoji {
		action = react.ActionRemoved
	}
	s.log.ApplyReaction(messageKey, emoji, s.selfID, action)
	s.notifyChange()
	if action == react.ActionAdded {
		s.recent.Record(emoji)
	}

	if err := s.api.React(ctx, messageKey, emoji); err != nil {
		s.log.Restore(snapshot)
		s.notifyChange()
		s.notify(fmt.Sprintf("reaction failed: %v", err))
		return err
	}
	return nil
}

// Edit replaces a message's text after the local window check, applying
// optimistically and rolling back if the server rejects.
func (s *Session) Edit(ctx context.Context, messageKey, text string) error {
	snapshot, ok := s.log.Get(messageKey)
	if !ok {
		return api.ErrNotFound
	}
	if err := compose.CanEdit(snapshot, s.selfID, time.Now()); err != nil {
		return err
	}

	edited := snapshot.Clone()
	edited.Text = text
	s.log.ApplyEdit(edited)
	s.notifyChange()

	if err := s.api.Edit(ctx, messageKey, text); err != nil {
		s.log.Restore(snapshot)
		s.notifyChange()
		s.notify(fmt.Sprintf("edit rejected: %v", err))
		return err
	}
	return nil
}

// DeleteForMe hides the message locally. A never-acknowledged pending
// message is aborted and dropped outright; an acknowledged one is
// hidden through the server and filtered from future history.
func (s *Session) DeleteForMe(ctx context.Context, messageKey string) error {
	msg, ok := s.log.Get(messageKey)
	if !ok {
		return api.ErrNotFound
	}

	if !msg.Acknowledged() {
		s.cancelSendTask(msg.ClientTempID)
		s.retries.Cancel(msg.ClientTempID)
		if err := s.queue.Remove(s.thread.ID, msg.ClientTempID); err != nil {
			return err
		}
		s.log.Remove(msg.ClientTempID)
		s.notifyChange()
		return nil
	}

	if err := s.api.DeleteForMe(ctx, msg.ID); err != nil {
		return err
	}
	if err := s.hidden.Hide(msg.ID); err != nil {
		return err
	}
	s.log.Remove(msg.ID)
	s.notifyChange()
	return nil
}

// DeleteForEveryone tombstones the message for all participants after
// the local window check, optimistically with rollback.
func (s *Session) DeleteForEveryone(ctx context.Context, messageKey string) error {
	snapshot, ok := s.log.Get(messageKey)
	if !ok {
		return api.ErrNotFound
	}
	if err := compose.CanDeleteForEveryone(snapshot, s.selfID, time.Now()); err != nil {
		return err
	}

	s.log.ApplyDelete(snapshot.ID, time.Now())
	s.notifyChange()

	if err := s.api.DeleteForEveryone(ctx, snapshot.ID); err != nil {
		s.log.Restore(snapshot)
		s.notifyChange()
		s.notify(fmt.Sprintf("delete rejected: %v", err))
		return err
	}
	return nil
}

// MessageInfo fetches the delivery and reaction breakdown for one
// message.
func (s *Session) MessageInfo(ctx context.Context, messageID string) (*api.MessageDetail, error) {
	return s.api.MessageInfo(ctx, messageID)
}

// ForwardTargets lists threads the user may forward into.
func (s *Session) ForwardTargets(ctx context.Context) ([]api.ForwardTarget, error) {
	return s.api.ForwardTargets(ctx)
}

// ForwardSelected forwards the current selection to each target,
// reporting per-target outcomes, then clears the selection.
func (s *Session) ForwardSelected(ctx context.Context, targetThreadIDs []string) []selection.Result {
	results := selection.ForwardSelected(ctx, s.selection, s.log, s.api, targetThreadIDs)
	s.selection.Clear()
	return results
}

// CopySelected renders the current selection as clipboard text and
// clears the selection.
func (s *Session) CopySelected() string {
	text := selection.CopySelected(s.selection, s.log)
	s.selection.Clear()
	return text
}

// DeleteSelectedForMe hides each selected message for the local user
// and clears the selection.
func (s *Session) DeleteSelectedForMe(ctx context.Context) []selection.Result {
	results := selection.DeleteSelectedForMe(ctx, s.selection, s.log, sessionDeleter{s})
	s.selection.Clear()
	return results
}

// sessionDeleter routes bulk delete-for-me through the session so
// pending aborts and the hidden filter apply.
type sessionDeleter struct{ s *Session }

func (d sessionDeleter) DeleteForMe(ctx context.Context, messageID string) error {
	return d.s.DeleteForMe(ctx, messageID)
}

// MarkVisible reports that an inbound message became visible; seen
// receipts are debounced into batches.
func (s *Session) MarkVisible(messageID string) {
	if !s.Online() {
		return
	}
	s.receipts.MarkVisible(messageID)
}

// FullySeen reports whether the message has been seen by everyone it
// was sent to, per the thread kind's rule.
func (s *Session) FullySeen(seenBy []string) bool {
	return react.FullySeen(s.thread, s.selfID, seenBy)
}

// Keystroke records typing activity, throttled into start/stop signals.
func (s *Session) Keystroke() {
	if !s.Online() {
		return
	}
	s.typing.Keystroke()
}

// SaveDraft persists the half-written input for this thread.
func (s *Session) SaveDraft(text string) error {
	return s.drafts.Save(s.thread.ID, text)
}

// LoadDraft restores the thread's draft, empty if none.
func (s *Session) LoadDraft() (string, error) {
	return s.drafts.Load(s.thread.ID)
}

func (s *Session) flushSeen(messageIDs []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.transport.SendReceipts(ctx, messageIDs, "seen"); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "flushSeen",
			"count":    len(messageIDs),
			"error":    err.Error(),
		}).Warn("Failed to send seen receipts")
	}
}

func (s *Session) ackDelivered(messageID string) {
	if messageID == "" || !s.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.transport.SendReceipts(ctx, []string{messageID}, "delivered"); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "ackDelivered",
			"error":    err.Error(),
		}).Debug("Failed to send delivered receipt")
	}
}

func (s *Session) sendTyping(typing bool) {
	if !s.Online() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.transport.SendTyping(ctx, typing); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendTyping",
			"typing":   typing,
			"error":    err.Error(),
		}).Debug("Failed to send typing signal")
	}
}

func (s *Session) notifyChange() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *Session) notify(notice string) {
	s.mu.Lock()
	fn := s.onNotice
	s.mu.Unlock()
	if fn != nil {
		fn(notice)
	}
}
