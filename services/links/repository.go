package links

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"crm-automation/api/pkg/db"
)

var linkColumns = []string{
	"id", "token", "link_type", "resource_id", "title", "description", "password_hash",
	"expires_at", "created_by", "metadata", "is_active", "access_count", "last_accessed_at", "created_at",
}

// Repository persists links in the dynamic_links table.
type Repository struct {
	db db.DB
}

func NewRepository(conn db.DB) *Repository {
	return &Repository{db: conn}
}

func (r *Repository) Create(ctx context.Context, link *Link) error {
	query, args, err := squirrel.Insert("dynamic_links").
		Columns(linkColumns...).
		Values(
			link.ID, link.Token, link.LinkType, link.ResourceID, link.Title, link.Description, link.PasswordHash,
			link.ExpiresAt, link.CreatedBy, link.Metadata, link.IsActive, link.AccessCount, link.LastAccessedAt, link.CreatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert query: %w", err)
	}
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("inserting link: %w", err)
	}
	return nil
}

func (r *Repository) GetByToken(ctx context.Context, token string) (*Link, error) {
	query, args, err := squirrel.Select(linkColumns...).
		From("dynamic_links").
		Where(squirrel.Eq{"token": token}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select query: %w", err)
	}

	var link Link
	if err := pgxscan.Get(ctx, r.db, &link, query, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, ErrLinkNotFound
		}
		return nil, fmt.Errorf("scanning link: %w", err)
	}
	return &link, nil
}

func (r *Repository) RecordAccess(ctx context.Context, token string, at time.Time) error {
	query, args, err := squirrel.Update("dynamic_links").
		Set("access_count", squirrel.Expr("access_count + 1")).
		Set("last_accessed_at", at).
		Where(squirrel.Eq{"token": token}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("recording link access: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}

func (r *Repository) Deactivate(ctx context.Context, token string) error {
	query, args, err := squirrel.Update("dynamic_links").
		Set("is_active", false).
		Where(squirrel.Eq{"token": token}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update query: %w", err)
	}
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("deactivating link: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLinkNotFound
	}
	return nil
}
