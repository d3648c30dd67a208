package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"messaging-service/internal/models"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrTooFewMembers        = errors.New("conversation would drop below minimum members")
)

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	CreateOrGet(ctx context.Context, conv models.Conversation, memberIDs []string) (models.Conversation, bool, error)
	Get(ctx context.Context, conversationID string) (models.Conversation, error)
	IsMember(ctx context.Context, conversationID, userID string) (bool, error)
	ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	AddMembers(ctx context.Context, conversationID string, userIDs []string) error
	RemoveMembers(ctx context.Context, conversationID string, userIDs []string, minRemaining int) error
	RemoveMember(ctx context.Context, conversationID, userID string) (int, error)
	Rename(ctx context.Context, conversationID, name string) error
	SetStatus(ctx context.Context, conversationID, status string) error
	HideForUser(ctx context.Context, conversationID, userID string) error
	UnhideForUser(ctx context.Context, conversationID, userID string) error
	SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error
}

// ConversationRepo is the sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, kind, name, created_by, status, last_message_id, last_message_at, created_at`

// CreateOrGet inserts the conversation with its member set, or returns the
// existing row when the id is already taken. Uniqueness on the primary key is
// what makes concurrent creation of the same direct conversation idempotent:
// the loser of the race reads the winner's row.
func (r *ConversationRepo) CreateOrGet(ctx context.Context, conv models.Conversation, memberIDs []string) (models.Conversation, bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO conversations (id, kind, name, created_by, status) VALUES ($1, $2, $3, $4, $5)`,
		conv.ID, conv.Kind, conv.Name, conv.CreatedBy, conv.Status)
	if err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, conv.ID)
			if getErr != nil {
				return models.Conversation{}, false, getErr
			}
			return existing, false, nil
		}
		return models.Conversation{}, false, err
	}

	for _, userID := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conv.ID, userID); err != nil {
			return models.Conversation{}, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			existing, getErr := r.Get(ctx, conv.ID)
			if getErr != nil {
				return models.Conversation{}, false, getErr
			}
			return existing, false, nil
		}
		return models.Conversation{}, false, err
	}

	created, err := r.Get(ctx, conv.ID)
	return created, true, err
}

// Get fetches a conversation with its member set.
func (r *ConversationRepo) Get(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}

	err = r.db.SelectContext(ctx, &conv.Members,
		`SELECT conversation_id, user_id, joined_at FROM conversation_members WHERE conversation_id=$1 ORDER BY joined_at, user_id`,
		conversationID)
	return conv, err
}

// IsMember checks current membership.
func (r *ConversationRepo) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// ListForUser returns active conversations visible to the user, newest
// activity first, with per-conversation unread counts.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.kind, c.name, c.created_by, c.status, c.last_message_id, c.last_message_at, c.created_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id AND m.sender_id <> $1 AND m.deleted = FALSE
                AND NOT EXISTS (SELECT 1 FROM message_reads r WHERE r.message_id = m.id AND r.user_id = $1)
            ) AS unread_count
        FROM conversations c
        JOIN conversation_members cm ON cm.conversation_id = c.id AND cm.user_id = $1
        LEFT JOIN conversation_hidden ch ON ch.conversation_id = c.id AND ch.user_id = $1
        WHERE c.status = 'active' AND ch.user_id IS NULL
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC`

	var summaries []models.ConversationSummary
	if err := r.db.SelectContext(ctx, &summaries, query, userID); err != nil {
		return nil, err
	}

	for i := range summaries {
		if err := r.db.SelectContext(ctx, &summaries[i].Members,
			`SELECT conversation_id, user_id, joined_at FROM conversation_members WHERE conversation_id=$1 ORDER BY joined_at, user_id`,
			summaries[i].ID); err != nil {
			return nil, err
		}
	}
	return summaries, nil
}

// AddMembers inserts new members, silently skipping existing ones.
func (r *ConversationRepo) AddMembers(ctx context.Context, conversationID string, userIDs []string) error {
	for _, userID := range userIDs {
		if _, err := r.db.ExecContext(ctx, `INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2)
            ON CONFLICT (conversation_id, user_id) DO NOTHING`, conversationID, userID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveMembers deletes the given members inside one transaction and fails
// with ErrTooFewMembers (rolling everything back) when the remaining count
// would fall under minRemaining. The guard runs inside the transaction so two
// concurrent removals cannot both pass it.
func (r *ConversationRepo) RemoveMembers(ctx context.Context, conversationID string, userIDs []string, minRemaining int) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation_id=$1 AND user_id = ANY($2)`,
		conversationID, pq.Array(userIDs)); err != nil {
		return err
	}

	var remaining int
	if err := tx.GetContext(ctx, &remaining,
		`SELECT COUNT(*) FROM conversation_members WHERE conversation_id=$1`, conversationID); err != nil {
		return err
	}
	if remaining < minRemaining {
		return ErrTooFewMembers
	}
	return tx.Commit()
}

// RemoveMember deletes one member and returns how many remain.
func (r *ConversationRepo) RemoveMember(ctx context.Context, conversationID, userID string) (int, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM conversation_members WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID); err != nil {
		return 0, err
	}

	var remaining int
	if err := tx.GetContext(ctx, &remaining,
		`SELECT COUNT(*) FROM conversation_members WHERE conversation_id=$1`, conversationID); err != nil {
		return 0, err
	}
	return remaining, tx.Commit()
}

// Rename updates a conversation name.
func (r *ConversationRepo) Rename(ctx context.Context, conversationID, name string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET name=$2 WHERE id=$1`, conversationID, name)
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// SetStatus transitions a conversation's status.
func (r *ConversationRepo) SetStatus(ctx context.Context, conversationID, status string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET status=$2 WHERE id=$1`, conversationID, status)
	if err != nil {
		return err
	}
	return requireRow(res, ErrConversationNotFound)
}

// HideForUser marks the conversation hidden for the user (per-user soft
// delete of a direct conversation).
func (r *ConversationRepo) HideForUser(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO conversation_hidden (conversation_id, user_id) VALUES ($1, $2)
        ON CONFLICT (conversation_id, user_id) DO NOTHING`, conversationID, userID)
	return err
}

// UnhideForUser clears the hidden flag, making the conversation visible again.
func (r *ConversationRepo) UnhideForUser(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_hidden WHERE conversation_id=$1 AND user_id=$2`, conversationID, userID)
	return err
}

// SetLastMessage moves the denormalized last-message pointer forward.
func (r *ConversationRepo) SetLastMessage(ctx context.Context, conversationID, messageID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_id=$2, last_message_at=$3 WHERE id=$1
            AND (last_message_at IS NULL OR last_message_at <= $3)`,
		conversationID, messageID, at)
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func requireRow(res sql.Result, notFound error) error {
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return nil
}
