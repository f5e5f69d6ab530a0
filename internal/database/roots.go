package database

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/evidenceledger/jwcert/internal/errl"
	"github.com/evidenceledger/jwcert/internal/models"
)

// GetTrustedRoot retrieves the trusted root of an issuer. It returns nil
// when the issuer is unknown.
func (d *Database) GetTrustedRoot(ctx context.Context, issuer string) (*models.TrustedRoot, error) {
	query := `
		SELECT issuer, alg, value, created_at, updated_at
		FROM trusted_roots
		WHERE issuer = ?
	`

	var root models.TrustedRoot
	err := d.db.QueryRowContext(ctx, query, issuer).Scan(
		&root.Issuer, &root.PublicKey.Alg, &root.PublicKey.Value,
		&root.CreatedAt, &root.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errl.Errorf("failed to get trusted root: %w", err)
	}

	return &root, nil
}

// ListTrustedRoots retrieves all trusted roots
func (d *Database) ListTrustedRoots(ctx context.Context) ([]models.TrustedRoot, error) {
	query := `
		SELECT issuer, alg, value, created_at, updated_at
		FROM trusted_roots
		ORDER BY issuer
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errl.Errorf("failed to list trusted roots: %w", err)
	}
	defer rows.Close()

	var roots []models.TrustedRoot
	for rows.Next() {
		var root models.TrustedRoot
		err := rows.Scan(
			&root.Issuer, &root.PublicKey.Alg, &root.PublicKey.Value,
			&root.CreatedAt, &root.UpdatedAt,
		)
		if err != nil {
			return nil, errl.Errorf("failed to scan trusted root: %w", err)
		}
		roots = append(roots, root)
	}
	if err := rows.Err(); err != nil {
		return nil, errl.Errorf("failed to list trusted roots: %w", err)
	}

	return roots, nil
}

// PutTrustedRoot creates or replaces the trusted root of an issuer
func (d *Database) PutTrustedRoot(ctx context.Context, root *models.TrustedRoot) error {
	query := `
		INSERT INTO trusted_roots (issuer, alg, value)
		VALUES (?, ?, ?)
		ON CONFLICT(issuer) DO UPDATE
		SET alg = excluded.alg, value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`

	_, err := d.db.ExecContext(ctx, query, root.Issuer, root.PublicKey.Alg, root.PublicKey.Value)
	if err != nil {
		return errl.Errorf("failed to store trusted root: %w", err)
	}

	slog.Info("Stored trusted root", "issuer", root.Issuer, "alg", root.PublicKey.Alg)
	return nil
}

// DeleteTrustedRoot removes the trusted root of an issuer. It reports
// whether a root was removed.
func (d *Database) DeleteTrustedRoot(ctx context.Context, issuer string) (bool, error) {
	query := `DELETE FROM trusted_roots WHERE issuer = ?`

	result, err := d.db.ExecContext(ctx, query, issuer)
	if err != nil {
		return false, errl.Errorf("failed to delete trusted root: %w", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		slog.Info("Deleted trusted root", "issuer", issuer)
	}
	return n > 0, nil
}
