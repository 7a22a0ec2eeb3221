package publish

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/quillpost/quillpost/internal/queue"
)

// IssueStore writes the newsletter_issue row in the publish
// transaction so the issue and its tasks appear together.
type IssueStore struct{}

func NewIssueStore() *IssueStore { return &IssueStore{} }

func (s *IssueStore) Insert(ctx context.Context, tx pgx.Tx, issueID uuid.UUID, content queue.IssueContent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO quillpost.newsletter_issue (id, title, html_content, text_content)
		VALUES ($1, $2, $3, $4)`,
		issueID, content.Subject, content.HTMLBody, content.TextBody,
	)
	if err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}
	return nil
}
