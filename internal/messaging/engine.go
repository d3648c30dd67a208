package messaging

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
)

// Presence is the engine's view of the live-connection registry. Absence of
// a user is never an error, it only means delivery falls back to the pull
// path.
type Presence interface {
	Lookup(userID string) (presence.Conn, bool)
}

// Directory answers whether user ids resolve to real accounts.
type Directory interface {
	UsersExist(ctx context.Context, userIDs []string) (bool, error)
}

// Notifier is the external push-notification sink for offline recipients.
type Notifier interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

const defaultStoreTimeout = 10 * time.Second

const pushRoutingKey = "push.messages"

// Engine orchestrates conversation and message operations. Both the
// websocket gateway and the HTTP handlers call into the same engine so
// behavior is identical regardless of transport.
type Engine struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	presence      Presence
	directory     Directory
	notifier      Notifier
	storeTimeout  time.Duration
}

// NewEngine builds an Engine. notifier may be nil when no push sink is
// configured.
func NewEngine(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	reg Presence,
	directory Directory,
	notifier Notifier,
) *Engine {
	return &Engine{
		conversations: conversations,
		messages:      messages,
		presence:      reg,
		directory:     directory,
		notifier:      notifier,
		storeTimeout:  defaultStoreTimeout,
	}
}

// opContext bounds every store-touching operation so no request can hang
// indefinitely. Callers that already carry a deadline keep it.
func (e *Engine) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.storeTimeout)
}

// SendRequest carries a sendMessage call.
type SendRequest struct {
	SenderID        string
	ConversationID  string
	ReceiverID      string // hint, used only for on-the-fly direct creation
	Body            string
	Kind            string
	ClientMessageID string // optional, enables idempotent retries
	Direct          bool   // caller indicates a 1:1 send
}

// SendMessage persists a message and fans it out to online members. When the
// conversation does not exist yet and the caller indicated a direct send with
// a receiver hint, the direct conversation is created on the fly; concurrent
// creations collapse to one row via the deterministic id.
func (e *Engine) SendMessage(ctx context.Context, req SendRequest) (models.Message, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if req.SenderID == "" {
		return models.Message{}, invalid("missing sender id")
	}
	kind := req.Kind
	if kind == "" {
		kind = models.MessageText
	}

	conv, err := e.resolveConversation(ctx, req)
	if err != nil {
		return models.Message{}, err
	}
	if !conv.IsMember(req.SenderID) {
		return models.Message{}, forbidden("sender is not a conversation member")
	}

	msg := models.Message{
		ID:             req.ClientMessageID,
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Body:           req.Body,
		Kind:           kind,
		DeliveryState:  models.DeliverySaved,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if conv.Kind == models.KindDirect {
		receiver := conv.OtherMember(req.SenderID)
		msg.ReceiverID = &receiver
	}

	saved, created, err := e.messages.Create(ctx, msg)
	if err != nil {
		return models.Message{}, classify(err)
	}
	if !created {
		// Duplicate client message id: an idempotent retry. The original
		// send already ran the side effects.
		observability.IncMessagingOp("send", "duplicate")
		return saved, nil
	}

	if err := e.conversations.SetLastMessage(ctx, conv.ID, saved.ID, saved.CreatedAt); err != nil {
		log.Printf("update last message pointer failed: conversation=%s err=%v", conv.ID, err)
	}
	if conv.Kind == models.KindDirect {
		// A new message makes a hidden direct conversation visible again
		// for both sides.
		for _, member := range conv.MemberIDs() {
			if err := e.conversations.UnhideForUser(ctx, conv.ID, member); err != nil {
				log.Printf("unhide conversation failed: conversation=%s user=%s err=%v", conv.ID, member, err)
			}
		}
	}

	delivered := false
	for _, member := range conv.MemberIDs() {
		if member == req.SenderID {
			continue
		}
		if e.pushToUser(member, models.EventNewMessage, models.MessageEvent{Message: &saved}) {
			delivered = true
		} else {
			e.notifyOffline(member, saved)
		}
	}
	if delivered {
		if err := e.messages.SetDeliveryState(ctx, saved.ID, models.DeliveryLive); err != nil {
			log.Printf("set delivery state failed: message=%s err=%v", saved.ID, err)
		} else {
			saved.DeliveryState = models.DeliveryLive
		}
	}

	observability.IncMessagingOp("send", "ok")
	return saved, nil
}

func (e *Engine) resolveConversation(ctx context.Context, req SendRequest) (models.Conversation, error) {
	conversationID := req.ConversationID
	if conversationID != "" {
		conv, err := e.conversations.Get(ctx, conversationID)
		switch {
		case err == nil:
			if conv.Status != models.StatusActive {
				return models.Conversation{}, notFound("conversation %s", conversationID)
			}
			return conv, nil
		case errors.Is(err, repositories.ErrConversationNotFound):
			// fall through to on-the-fly direct creation
		default:
			return models.Conversation{}, classify(err)
		}
	}

	if !req.Direct || req.ReceiverID == "" {
		return models.Conversation{}, notFound("conversation %s", conversationID)
	}

	derived := models.DirectConversationID(req.SenderID, req.ReceiverID)
	if conversationID != "" && conversationID != derived {
		return models.Conversation{}, invalid("conversation id does not match the participant pair")
	}

	conv, _, err := e.CreateDirectConversation(ctx, req.SenderID, req.ReceiverID)
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// MarkRead records a read receipt for one message, or for every unread
// message in the conversation when messageID is empty. Repeated calls are
// idempotent; a sender can never read their own message.
func (e *Engine) MarkRead(ctx context.Context, conversationID, userID, messageID string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	now := time.Now().UTC()
	if messageID != "" {
		msg, err := e.messages.Get(ctx, messageID)
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return notFound("message %s", messageID)
		}
		if err != nil {
			return classify(err)
		}
		if msg.SenderID == userID {
			return invalid("sender cannot mark own message read")
		}
		member, err := e.conversations.IsMember(ctx, msg.ConversationID, userID)
		if err != nil {
			return classify(err)
		}
		if !member {
			return forbidden("user is not a conversation member")
		}
		return classify(e.messages.MarkRead(ctx, messageID, userID, now))
	}

	member, err := e.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return classify(err)
	}
	if !member {
		return forbidden("user is not a conversation member")
	}
	return classify(e.messages.MarkConversationRead(ctx, conversationID, userID, now))
}

// EditMessage replaces a message body. Sender-only; deleted messages cannot
// be edited. Online members are notified.
func (e *Engine) EditMessage(ctx context.Context, messageID, userID, body string) (models.Message, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	msg, err := e.messages.Get(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, notFound("message %s", messageID)
	}
	if err != nil {
		return models.Message{}, classify(err)
	}
	if msg.Deleted {
		return models.Message{}, notFound("message %s", messageID)
	}
	if msg.SenderID != userID {
		return models.Message{}, forbidden("only the sender may edit a message")
	}

	now := time.Now().UTC()
	if err := e.messages.SetBody(ctx, messageID, body, now); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return models.Message{}, notFound("message %s", messageID)
		}
		return models.Message{}, classify(err)
	}
	msg.Body = body
	msg.EditedAt = &now

	e.broadcastToMembers(ctx, msg.ConversationID, userID, models.EventMessageEdited, models.MessageEditedEvent{
		MessageID: messageID,
		Body:      body,
		EditedBy:  userID,
	})
	observability.IncMessagingOp("edit", "ok")
	return msg, nil
}

// DeleteMessage soft-deletes a message. Sender-only. The row stays in
// storage with its status flags set.
func (e *Engine) DeleteMessage(ctx context.Context, messageID, userID string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	msg, err := e.messages.Get(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return notFound("message %s", messageID)
	}
	if err != nil {
		return classify(err)
	}
	if msg.SenderID != userID {
		return forbidden("only the sender may delete a message")
	}

	if err := e.messages.SoftDelete(ctx, messageID, userID, time.Now().UTC()); err != nil {
		return classify(err)
	}

	e.broadcastToMembers(ctx, msg.ConversationID, userID, models.EventMessageDeleted, models.MessageDeletedEvent{
		MessageID: messageID,
		DeletedBy: userID,
	})
	observability.IncMessagingOp("delete", "ok")
	return nil
}

// ListMessages returns a page of non-deleted messages in creation order.
// Member-only.
func (e *Engine) ListMessages(ctx context.Context, conversationID, userID string, page, limit int) (models.MessagePage, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	conv, err := e.conversations.Get(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.MessagePage{}, notFound("conversation %s", conversationID)
	}
	if err != nil {
		return models.MessagePage{}, classify(err)
	}
	if !conv.IsMember(userID) {
		return models.MessagePage{}, forbidden("user is not a conversation member")
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	msgs, total, err := e.messages.List(ctx, conversationID, page, limit)
	if err != nil {
		return models.MessagePage{}, classify(err)
	}

	totalPages := (total + limit - 1) / limit
	return models.MessagePage{
		Messages:      msgs,
		Page:          page,
		TotalPages:    totalPages,
		TotalMessages: total,
		HasNext:       page < totalPages,
		HasPrev:       page > 1 && total > 0,
	}, nil
}

// CreateDirectConversation creates (or returns) the 1:1 conversation between
// two users. The id is derived from the unordered pair, so repeated and
// concurrent calls converge on a single row.
func (e *Engine) CreateDirectConversation(ctx context.Context, userA, userB string) (models.Conversation, bool, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if userA == userB {
		return models.Conversation{}, false, invalid("cannot start a conversation with yourself")
	}
	if err := e.requireUsers(ctx, []string{userA, userB}); err != nil {
		return models.Conversation{}, false, err
	}

	conv := models.Conversation{
		ID:        models.DirectConversationID(userA, userB),
		Kind:      models.KindDirect,
		CreatedBy: userA,
		Status:    models.StatusActive,
	}
	saved, created, err := e.conversations.CreateOrGet(ctx, conv, []string{userA, userB})
	if err != nil {
		return models.Conversation{}, false, classify(err)
	}

	for _, member := range saved.MemberIDs() {
		if err := e.conversations.UnhideForUser(ctx, saved.ID, member); err != nil {
			log.Printf("unhide conversation failed: conversation=%s user=%s err=%v", saved.ID, member, err)
		}
	}
	if created {
		for _, member := range saved.MemberIDs() {
			e.pushToUser(member, models.EventNewConversation, models.ConversationEvent{
				ConversationID: saved.ID,
				Conversation:   &saved,
			})
		}
		observability.IncMessagingOp("create_direct", "ok")
	}
	return saved, created, nil
}

// CreateGroup creates a named group conversation. The creator is added
// implicitly; the member set must end up with at least two users.
func (e *Engine) CreateGroup(ctx context.Context, name, creatorID string, memberIDs []string) (models.Conversation, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if name == "" {
		return models.Conversation{}, invalid("group name is required")
	}
	members := dedupe(append([]string{creatorID}, memberIDs...))
	if len(members) < 2 {
		return models.Conversation{}, invalid("a group needs at least 2 members")
	}
	if err := e.requireUsers(ctx, members); err != nil {
		return models.Conversation{}, err
	}

	conv := models.Conversation{
		ID:        uuid.NewString(),
		Kind:      models.KindGroup,
		Name:      name,
		CreatedBy: creatorID,
		Status:    models.StatusActive,
	}
	saved, _, err := e.conversations.CreateOrGet(ctx, conv, members)
	if err != nil {
		return models.Conversation{}, classify(err)
	}

	for _, member := range saved.MemberIDs() {
		e.pushToUser(member, models.EventGroupCreated, models.ConversationEvent{
			ConversationID: saved.ID,
			Conversation:   &saved,
		})
	}
	observability.IncMessagingOp("create_group", "ok")
	return saved, nil
}

// AddMembers adds users to a group. Any current member may add; every new id
// must resolve to a real account. Existing members are silently skipped.
func (e *Engine) AddMembers(ctx context.Context, conversationID, requesterID string, newMemberIDs []string) (models.Conversation, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	conv, err := e.getActiveGroup(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.IsMember(requesterID) {
		return models.Conversation{}, forbidden("user is not a conversation member")
	}
	if len(newMemberIDs) == 0 {
		return models.Conversation{}, invalid("no members given")
	}
	if err := e.requireUsers(ctx, newMemberIDs); err != nil {
		return models.Conversation{}, err
	}

	if err := e.conversations.AddMembers(ctx, conversationID, dedupe(newMemberIDs)); err != nil {
		return models.Conversation{}, classify(err)
	}
	updated, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, classify(err)
	}

	e.broadcastConversation(updated, models.EventConversationUpdated)
	return updated, nil
}

// RemoveMembers removes users from a group. Creator-only; a removal that
// would leave fewer than two members is rejected and state is unchanged.
func (e *Engine) RemoveMembers(ctx context.Context, conversationID, requesterID string, memberIDs []string) (models.Conversation, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	conv, err := e.getActiveGroup(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.CreatedBy != requesterID {
		return models.Conversation{}, forbidden("only the creator may remove members")
	}
	if len(memberIDs) == 0 {
		return models.Conversation{}, invalid("no members given")
	}

	err = e.conversations.RemoveMembers(ctx, conversationID, memberIDs, 2)
	if errors.Is(err, repositories.ErrTooFewMembers) {
		return models.Conversation{}, invalid("a group must keep at least 2 members")
	}
	if err != nil {
		return models.Conversation{}, classify(err)
	}

	updated, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, classify(err)
	}
	e.broadcastConversation(updated, models.EventConversationUpdated)
	return updated, nil
}

// RenameGroup updates a group name. Creator-only.
func (e *Engine) RenameGroup(ctx context.Context, conversationID, requesterID, name string) (models.Conversation, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	if name == "" {
		return models.Conversation{}, invalid("group name is required")
	}
	conv, err := e.getActiveGroup(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if conv.CreatedBy != requesterID {
		return models.Conversation{}, forbidden("only the creator may rename the group")
	}

	if err := e.conversations.Rename(ctx, conversationID, name); err != nil {
		return models.Conversation{}, classify(err)
	}
	conv.Name = name
	e.broadcastConversation(conv, models.EventConversationUpdated)
	return conv, nil
}

// Leave removes the caller from a conversation. Leaving a direct
// conversation only hides it for the caller; the object stays active for the
// peer. Leaving a group removes membership, and a group that drops under two
// members transitions to deleted.
func (e *Engine) Leave(ctx context.Context, conversationID, userID string) error {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	conv, err := e.conversations.Get(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return notFound("conversation %s", conversationID)
	}
	if err != nil {
		return classify(err)
	}
	if !conv.IsMember(userID) {
		return forbidden("user is not a conversation member")
	}

	if conv.Kind == models.KindDirect {
		if err := e.conversations.HideForUser(ctx, conversationID, userID); err != nil {
			return classify(err)
		}
		e.pushToUser(userID, models.EventConversationDeleted, models.ConversationEvent{
			ConversationID: conversationID,
			UserID:         userID,
		})
		return nil
	}

	remaining, err := e.conversations.RemoveMember(ctx, conversationID, userID)
	if err != nil {
		return classify(err)
	}
	if remaining < 2 {
		if err := e.conversations.SetStatus(ctx, conversationID, models.StatusDeleted); err != nil {
			return classify(err)
		}
		e.broadcastToMembers(ctx, conversationID, "", models.EventConversationDeleted, models.ConversationEvent{
			ConversationID: conversationID,
			UserID:         userID,
		})
		return nil
	}

	updated, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		return classify(err)
	}
	e.broadcastConversation(updated, models.EventConversationUpdated)
	return nil
}

// ListConversations returns the conversations visible to the user, newest
// activity first.
func (e *Engine) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	summaries, err := e.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return summaries, nil
}

// GetConversation fetches one conversation. Member-only; a deleted or
// foreign conversation reads as not found.
func (e *Engine) GetConversation(ctx context.Context, conversationID, userID string) (models.Conversation, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	conv, err := e.conversations.Get(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, notFound("conversation %s", conversationID)
	}
	if err != nil {
		return models.Conversation{}, classify(err)
	}
	if !conv.IsMember(userID) {
		return models.Conversation{}, forbidden("user is not a conversation member")
	}
	return conv, nil
}

// UnreadCount counts the user's unread messages across conversations.
func (e *Engine) UnreadCount(ctx context.Context, userID string) (int, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	count, err := e.messages.UnreadCount(ctx, userID)
	return count, classify(err)
}

// ConversationUnreadCount counts unread messages in one conversation.
// Member-only.
func (e *Engine) ConversationUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	ctx, cancel := e.opContext(ctx)
	defer cancel()

	member, err := e.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return 0, classify(err)
	}
	if !member {
		return 0, forbidden("user is not a conversation member")
	}
	count, err := e.messages.ConversationUnreadCount(ctx, conversationID, userID)
	return count, classify(err)
}

func (e *Engine) getActiveGroup(ctx context.Context, conversationID string) (models.Conversation, error) {
	conv, err := e.conversations.Get(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, notFound("conversation %s", conversationID)
	}
	if err != nil {
		return models.Conversation{}, classify(err)
	}
	if conv.Status != models.StatusActive {
		return models.Conversation{}, notFound("conversation %s", conversationID)
	}
	if conv.Kind != models.KindGroup {
		return models.Conversation{}, invalid("direct conversation membership is fixed")
	}
	return conv, nil
}

func (e *Engine) requireUsers(ctx context.Context, userIDs []string) error {
	if e.directory == nil {
		return nil
	}
	exist, err := e.directory.UsersExist(ctx, userIDs)
	if err != nil {
		return classify(err)
	}
	if !exist {
		return notFound("one or more users do not exist")
	}
	return nil
}

// pushToUser delivers an event to the user's live connection, if any.
// Reports whether the push went out.
func (e *Engine) pushToUser(userID, event string, payload any) bool {
	conn, ok := e.presence.Lookup(userID)
	if !ok {
		return false
	}
	if err := conn.Send(event, payload); err != nil {
		log.Printf("live push failed: user=%s event=%s err=%v", userID, event, err)
		return false
	}
	return true
}

// broadcastToMembers pushes an event to every online member except skip.
func (e *Engine) broadcastToMembers(ctx context.Context, conversationID, skip, event string, payload any) {
	conv, err := e.conversations.Get(ctx, conversationID)
	if err != nil {
		log.Printf("broadcast member load failed: conversation=%s err=%v", conversationID, err)
		return
	}
	for _, member := range conv.MemberIDs() {
		if member == skip {
			continue
		}
		e.pushToUser(member, event, payload)
	}
}

func (e *Engine) broadcastConversation(conv models.Conversation, event string) {
	payload := models.ConversationEvent{ConversationID: conv.ID, Conversation: &conv}
	for _, member := range conv.MemberIDs() {
		e.pushToUser(member, event, payload)
	}
}

// notifyOffline hands the message to the external push sink. Fire and
// forget: delivery failures are logged, never surfaced to the sender.
func (e *Engine) notifyOffline(userID string, msg models.Message) {
	if e.notifier == nil {
		return
	}
	event := struct {
		UserID  string          `json:"user_id"`
		Message *models.Message `json:"message"`
	}{UserID: userID, Message: &msg}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.notifier.Publish(ctx, pushRoutingKey, event); err != nil {
		log.Printf("push notification publish failed: user=%s message=%s err=%v", userID, msg.ID, err)
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
