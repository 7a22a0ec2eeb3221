// Package subscribers is the directory the publish action reads its
// recipient list from. Signup lands as pending; only confirmed
// subscribers receive issues.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillpost/quillpost/internal/domain"
)

// ErrAlreadySubscribed is returned when the email already exists.
var ErrAlreadySubscribed = errors.New("email is already subscribed")

// ErrTokenNotFound is returned for unknown confirmation tokens.
var ErrTokenNotFound = errors.New("confirmation token not found")

type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Status       string
	SubscribedAt time.Time
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InsertPending stores a new subscriber and returns the confirmation
// token to embed in the confirmation link.
func (s *Store) InsertPending(ctx context.Context, sub domain.NewSubscriber) (string, error) {
	token := uuid.NewString()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		id := uuid.New()
		if _, err := tx.Exec(ctx, `
			INSERT INTO quillpost.subscribers (id, email, name, status)
			VALUES ($1, $2, $3, 'pending')`,
			id, sub.Email.String(), sub.Name.String(),
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrAlreadySubscribed
			}
			return fmt.Errorf("insert subscriber: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO quillpost.subscription_tokens (token, subscriber_id)
			VALUES ($1, $2)`,
			token, id,
		); err != nil {
			return fmt.Errorf("insert confirmation token: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

// Confirm flips the subscriber behind token to confirmed.
func (s *Store) Confirm(ctx context.Context, token string) error {
	ct, err := s.pool.Exec(ctx, `
		UPDATE quillpost.subscribers
		SET status = 'confirmed'
		WHERE id = (SELECT subscriber_id FROM quillpost.subscription_tokens WHERE token = $1)`,
		token,
	)
	if err != nil {
		return fmt.Errorf("confirm subscriber: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// ListConfirmed returns every confirmed subscriber. Rows that no longer
// pass validation (e.g. stored before a rule tightened) are returned
// too; the caller decides whether to skip them.
func (s *Store) ListConfirmed(ctx context.Context) ([]Subscriber, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, name, status, subscribed_at
		FROM quillpost.subscribers
		WHERE status = 'confirmed'
		ORDER BY subscribed_at`,
	)
	if err != nil {
		return nil, fmt.Errorf("list confirmed subscribers: %w", err)
	}
	defer rows.Close()

	var out []Subscriber
	for rows.Next() {
		var sub Subscriber
		if err := rows.Scan(&sub.ID, &sub.Email, &sub.Name, &sub.Status, &sub.SubscribedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
