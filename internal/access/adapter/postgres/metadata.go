package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"reader/internal/domain"
)

const (
	qDescribe = `SELECT content_id, owner_id, encrypted, blob_ref FROM articles WHERE slug = $1`
	qOwnerOf  = `SELECT owner_id FROM articles WHERE content_id = $1`
	qPublish  = `INSERT INTO articles (slug, content_id, owner_id, encrypted, blob_ref) VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (slug) DO UPDATE SET content_id = EXCLUDED.content_id, owner_id = EXCLUDED.owner_id, encrypted = EXCLUDED.encrypted, blob_ref = EXCLUDED.blob_ref`
)

// Metadata maps article slugs to content descriptors.
type Metadata struct {
	db *DB
}

func NewMetadata(db *DB) *Metadata {
	return &Metadata{db: db}
}

// Describe returns the descriptor published under slug.
func (m *Metadata) Describe(ctx context.Context, slug string) (domain.ContentDescriptor, error) {
	var d domain.ContentDescriptor
	err := m.db.Pool.QueryRow(ctx, qDescribe, slug).Scan(&d.ContentID, &d.OwnerID, &d.IsEncrypted, &d.BlobRef)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ContentDescriptor{}, fmt.Errorf("article %q: %w", slug, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ContentDescriptor{}, unavailable("describing article", err)
	}
	return d, nil
}

// OwnerOf returns the owner of contentID.
func (m *Metadata) OwnerOf(ctx context.Context, contentID string) (string, error) {
	var owner string
	err := m.db.Pool.QueryRow(ctx, qOwnerOf, contentID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("content %q: %w", contentID, domain.ErrNotFound)
	}
	if err != nil {
		return "", unavailable("looking up content owner", err)
	}
	return owner, nil
}

// Publish creates or replaces the article at slug.
func (m *Metadata) Publish(ctx context.Context, slug string, d domain.ContentDescriptor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if _, err := m.db.Pool.Exec(ctx, qPublish, slug, d.ContentID, d.OwnerID, d.IsEncrypted, d.BlobRef); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("content id %s is already published under another slug: %w", d.ContentID, err)
		}
		return unavailable("publishing article", err)
	}
	return nil
}
