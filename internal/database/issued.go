package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/evidenceledger/jwcert/internal/errl"
	"github.com/evidenceledger/jwcert/internal/models"
)

// RecordIssued logs a certificate signed by the authority
func (d *Database) RecordIssued(ctx context.Context, ic *models.IssuedCertificate) error {
	principal, err := json.Marshal(ic.Principal)
	if err != nil {
		return errl.Errorf("failed to encode principal: %w", err)
	}

	query := `
		INSERT INTO issued_certificates (
			id, issuer, email, host, principal, issued_at, expires_at, token
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = d.db.ExecContext(ctx, query,
		ic.ID, ic.Issuer, ic.Principal.Email, ic.Principal.Host, string(principal),
		ic.IssuedAt.UnixMilli(), ic.ExpiresAt.UnixMilli(), ic.Token,
	)

	if err != nil {
		return errl.Errorf("failed to record issued certificate: %w", err)
	}

	slog.Debug("Recorded issued certificate", "id", ic.ID, "principal", ic.Principal.String())
	return nil
}

// GetIssued retrieves an issued certificate by ID. It returns nil when the
// ID is unknown.
func (d *Database) GetIssued(ctx context.Context, id string) (*models.IssuedCertificate, error) {
	query := `
		SELECT id, issuer, principal, issued_at, expires_at, token
		FROM issued_certificates
		WHERE id = ?
	`

	ic, err := scanIssued(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, errl.Errorf("failed to get issued certificate: %w", err)
	}

	return ic, nil
}

// ListIssued retrieves certificates still valid at t, newest first
func (d *Database) ListIssued(ctx context.Context, t time.Time) ([]models.IssuedCertificate, error) {
	query := `
		SELECT id, issuer, principal, issued_at, expires_at, token
		FROM issued_certificates
		WHERE expires_at > ?
		ORDER BY issued_at DESC
	`

	rows, err := d.db.QueryContext(ctx, query, t.UnixMilli())
	if err != nil {
		return nil, errl.Errorf("failed to list issued certificates: %w", err)
	}
	defer rows.Close()

	var list []models.IssuedCertificate
	for rows.Next() {
		ic, err := scanIssued(rows)
		if err != nil {
			return nil, errl.Errorf("failed to scan issued certificate: %w", err)
		}
		list = append(list, *ic)
	}
	if err := rows.Err(); err != nil {
		return nil, errl.Errorf("failed to list issued certificates: %w", err)
	}

	return list, nil
}

// CleanupExpiredIssued removes log entries of certificates expired at t
func (d *Database) CleanupExpiredIssued(ctx context.Context, t time.Time) (int64, error) {
	query := `DELETE FROM issued_certificates WHERE expires_at <= ?`

	result, err := d.db.ExecContext(ctx, query, t.UnixMilli())
	if err != nil {
		return 0, errl.Errorf("failed to cleanup expired certificates: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		slog.Debug("Cleaned up expired certificates", "count", rowsAffected)
	}

	return rowsAffected, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIssued(row scanner) (*models.IssuedCertificate, error) {
	var (
		ic                models.IssuedCertificate
		principal         string
		issuedAt, expires int64
	)
	err := row.Scan(&ic.ID, &ic.Issuer, &principal, &issuedAt, &expires, &ic.Token)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(principal), &ic.Principal); err != nil {
		return nil, err
	}
	ic.IssuedAt = time.UnixMilli(issuedAt).UTC()
	ic.ExpiresAt = time.UnixMilli(expires).UTC()
	return &ic, nil
}
