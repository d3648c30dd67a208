package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository abstracts message persistence.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, bool, error)
	Get(ctx context.Context, messageID string) (models.Message, error)
	List(ctx context.Context, conversationID string, page, limit int) ([]models.Message, int, error)
	SetBody(ctx context.Context, messageID, body string, at time.Time) error
	SoftDelete(ctx context.Context, messageID, deletedBy string, at time.Time) error
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) error
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error
	SetDeliveryState(ctx context.Context, messageID, state string) error
	UnreadCount(ctx context.Context, userID string) (int, error)
	ConversationUnreadCount(ctx context.Context, conversationID, userID string) (int, error)
}

// MessageRepo is the sqlx implementation of MessageRepository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, receiver_id, body, kind, delivery_state, deleted, deleted_by, deleted_at, edited_at, created_at`

// Create appends the message. When the id already exists (an idempotent
// retry with a client-chosen id) the existing row is returned unchanged and
// created is false.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, bool, error) {
	var saved models.Message
	err := r.db.GetContext(ctx, &saved, `INSERT INTO messages (id, conversation_id, sender_id, receiver_id, body, kind, delivery_state)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+messageColumns,
		msg.ID, msg.ConversationID, msg.SenderID, msg.ReceiverID, msg.Body, msg.Kind, msg.DeliveryState)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, msg.ID)
			if getErr != nil {
				return models.Message{}, false, getErr
			}
			return existing, false, nil
		}
		return models.Message{}, false, err
	}
	return saved, true, nil
}

// Get retrieves a message with its read receipts.
func (r *MessageRepo) Get(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	err = r.db.SelectContext(ctx, &msg.ReadBy,
		`SELECT message_id, user_id, read_at FROM message_reads WHERE message_id=$1 ORDER BY read_at`, messageID)
	return msg, err
}

// List returns non-deleted messages in creation order, one page at a time,
// plus the total non-deleted count.
func (r *MessageRepo) List(ctx context.Context, conversationID string, page, limit int) ([]models.Message, int, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	var total int
	if err := r.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM messages WHERE conversation_id=$1 AND deleted = FALSE`, conversationID); err != nil {
		return nil, 0, err
	}

	var msgs []models.Message
	if err := r.db.SelectContext(ctx, &msgs, `SELECT `+messageColumns+` FROM messages
        WHERE conversation_id=$1 AND deleted = FALSE
        ORDER BY created_at ASC, id ASC
        LIMIT $2 OFFSET $3`, conversationID, limit, (page-1)*limit); err != nil {
		return nil, 0, err
	}

	if err := r.attachReadReceipts(ctx, msgs); err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (r *MessageRepo) attachReadReceipts(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}

	query, args, err := sqlx.In(`SELECT message_id, user_id, read_at FROM message_reads WHERE message_id IN (?) ORDER BY read_at`, ids)
	if err != nil {
		return err
	}
	var receipts []models.ReadReceipt
	if err := r.db.SelectContext(ctx, &receipts, r.db.Rebind(query), args...); err != nil {
		return err
	}

	byMessage := make(map[string][]models.ReadReceipt, len(msgs))
	for _, receipt := range receipts {
		byMessage[receipt.MessageID] = append(byMessage[receipt.MessageID], receipt)
	}
	for i := range msgs {
		msgs[i].ReadBy = byMessage[msgs[i].ID]
	}
	return nil
}

// SetBody edits a message body. Deleted messages are not editable.
func (r *MessageRepo) SetBody(ctx context.Context, messageID, body string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET body=$2, edited_at=$3 WHERE id=$1 AND deleted = FALSE`, messageID, body, at)
	if err != nil {
		return err
	}
	return requireRow(res, ErrMessageNotFound)
}

// SoftDelete flags the message deleted; the row is never removed.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID, deletedBy string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE messages SET deleted = TRUE, deleted_by=$2, deleted_at=$3 WHERE id=$1`, messageID, deletedBy, at)
	if err != nil {
		return err
	}
	return requireRow(res, ErrMessageNotFound)
}

// MarkRead appends a read receipt. The insert guards against duplicates and
// against the sender reading their own message, so concurrent calls for the
// same pair collapse to one row.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT m.id, $2, $3 FROM messages m WHERE m.id=$1 AND m.sender_id <> $2
        ON CONFLICT (message_id, user_id) DO NOTHING`, messageID, userID, at)
	return err
}

// MarkConversationRead appends receipts for every unread message in the
// conversation authored by someone else.
func (r *MessageRepo) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at)
        SELECT m.id, $2, $3 FROM messages m
        WHERE m.conversation_id=$1 AND m.sender_id <> $2 AND m.deleted = FALSE
        ON CONFLICT (message_id, user_id) DO NOTHING`, conversationID, userID, at)
	return err
}

// SetDeliveryState records whether the message reached a live recipient.
func (r *MessageRepo) SetDeliveryState(ctx context.Context, messageID, state string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET delivery_state=$2 WHERE id=$1`, messageID, state)
	return err
}

// UnreadCount counts unread messages for the user across their active
// conversations.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        JOIN conversations c ON c.id = m.conversation_id AND c.status = 'active'
        JOIN conversation_members cm ON cm.conversation_id = m.conversation_id AND cm.user_id = $1
        WHERE m.sender_id <> $1 AND m.deleted = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $1)`, userID)
	return count, err
}

// ConversationUnreadCount counts unread messages in one conversation.
func (r *MessageRepo) ConversationUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages m
        WHERE m.conversation_id=$1 AND m.sender_id <> $2 AND m.deleted = FALSE
        AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $2)`,
		conversationID, userID)
	return count, err
}
