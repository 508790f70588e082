package repository

import (
	"context"
	"fmt"

	"github.com/fedutinova/shopgen/internal/database"
	"github.com/fedutinova/shopgen/internal/models"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

type Repository struct {
	db database.Querier
}

func New(db *database.DB) *Repository {
	return &Repository{db: db.Querier()}
}

// NewWithQuerier runs the repository on a transaction or any other Querier.
func NewWithQuerier(q database.Querier) *Repository {
	return &Repository{db: q}
}

// RecordGeneration inserts the history row, or updates it when the job was
// already recorded.
func (r *Repository) RecordGeneration(ctx context.Context, g *models.Generation) error {
	query := `
		INSERT INTO generations (job_id, shop, product_id, image_id, vendor, model, status, prompt,
			output_url, hosted_url, credits, error_kind, error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			output_url = EXCLUDED.output_url,
			hosted_url = EXCLUDED.hosted_url,
			credits = EXCLUDED.credits,
			error_kind = EXCLUDED.error_kind,
			error_message = EXCLUDED.error_message,
			completed_at = EXCLUDED.completed_at
	`

	_, err := r.db.Exec(ctx, query,
		g.JobID,
		g.Shop,
		g.ProductID,
		g.ImageID,
		g.Vendor,
		g.Model,
		g.Status,
		g.Prompt,
		g.OutputURL,
		g.HostedURL,
		g.Credits,
		g.ErrorKind,
		g.ErrorMessage,
		g.CreatedAt,
		g.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record generation: %w", err)
	}
	return nil
}

// ListGenerations returns the newest generations of one product.
func (r *Repository) ListGenerations(ctx context.Context, shop, productID string, limit int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := `
		SELECT job_id, shop, product_id, image_id, vendor, model, status, prompt,
			output_url, hosted_url, credits, error_kind, error_message, created_at, completed_at
		FROM generations
		WHERE shop = $1 AND product_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, shop, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(
			&g.JobID,
			&g.Shop,
			&g.ProductID,
			&g.ImageID,
			&g.Vendor,
			&g.Model,
			&g.Status,
			&g.Prompt,
			&g.OutputURL,
			&g.HostedURL,
			&g.Credits,
			&g.ErrorKind,
			&g.ErrorMessage,
			&g.CreatedAt,
			&g.CompletedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
