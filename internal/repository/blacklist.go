package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/staffdesk/medbook/internal/domain"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

type blacklistRepo struct{}

// NewBlacklistRepository returns a pgx-backed BlacklistRepository.
func NewBlacklistRepository() BlacklistRepository {
	return &blacklistRepo{}
}

func (r *blacklistRepo) Insert(ctx context.Context, db DBTX, entry *domain.BlacklistEntry) error {
	err := db.QueryRow(ctx, `
		INSERT INTO blacklist (id, full_name, phone, birth_date, reason, added_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING blacklisted_at`,
		entry.ID, entry.FullName, entry.Phone, entry.BirthDate, entry.Reason, entry.AddedBy,
	).Scan(&entry.BlacklistedAt)
	if err != nil {
		return fmt.Errorf("insert blacklist entry: %w", err)
	}
	return nil
}

func (r *blacklistRepo) DeleteMatching(ctx context.Context, db DBTX, substr string) (int64, error) {
	tag, err := db.Exec(ctx,
		`DELETE FROM blacklist WHERE full_name ILIKE '%' || $1 || '%'`, escapeLike(substr))
	if err != nil {
		return 0, fmt.Errorf("delete blacklist entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *blacklistRepo) DeleteExact(ctx context.Context, db DBTX, fullName string) (int64, error) {
	tag, err := db.Exec(ctx,
		`DELETE FROM blacklist WHERE lower(full_name) = lower($1)`, fullName)
	if err != nil {
		return 0, fmt.Errorf("delete blacklist entry: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *blacklistRepo) List(ctx context.Context, db DBTX) ([]domain.BlacklistEntry, error) {
	rows, err := db.Query(ctx, `
		SELECT id, full_name, phone, birth_date, reason, blacklisted_at, added_by
		FROM blacklist
		ORDER BY blacklisted_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list blacklist: %w", err)
	}
	defer rows.Close()

	var entries []domain.BlacklistEntry
	for rows.Next() {
		var e domain.BlacklistEntry
		if err := rows.Scan(&e.ID, &e.FullName, &e.Phone, &e.BirthDate, &e.Reason, &e.BlacklistedAt, &e.AddedBy); err != nil {
			return nil, fmt.Errorf("scan blacklist row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *blacklistRepo) ExistsByName(ctx context.Context, db DBTX, fullName string) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blacklist WHERE lower(full_name) = lower($1))`, fullName).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("blacklist exists: %w", err)
	}
	return exists, nil
}

func (r *blacklistRepo) Count(ctx context.Context, db DBTX) (int64, error) {
	var n int64
	if err := db.QueryRow(ctx, `SELECT COUNT(*) FROM blacklist`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count blacklist: %w", err)
	}
	return n, nil
}
