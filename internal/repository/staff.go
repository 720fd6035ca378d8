package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/staffdesk/medbook/internal/domain"
)

const staffColumns = `id, telegram_id, full_name, birth_date, phone, medbook_status,
		        medbook_expiry, consent_given, registered_at, updated_at`

// PgStaffRepository implements StaffRepository using pgx.
type PgStaffRepository struct{}

// NewPgStaffRepository creates a new PgStaffRepository.
func NewPgStaffRepository() *PgStaffRepository {
	return &PgStaffRepository{}
}

// Upsert inserts or overwrites by telegram_id.
func (r *PgStaffRepository) Upsert(ctx context.Context, db DBTX, input domain.StaffInput) error {
	_, err := db.Exec(ctx,
		`INSERT INTO staff (id, telegram_id, full_name, birth_date, phone,
		                    medbook_status, medbook_expiry, consent_given, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'active', $6, TRUE, now())
		 ON CONFLICT (telegram_id) DO UPDATE SET
		     full_name      = EXCLUDED.full_name,
		     birth_date     = EXCLUDED.birth_date,
		     phone          = EXCLUDED.phone,
		     medbook_status = 'active',
		     medbook_expiry = EXCLUDED.medbook_expiry,
		     consent_given  = TRUE,
		     updated_at     = now()`,
		uuid.New(), input.TelegramID, input.FullName, input.BirthDate, input.Phone, input.MedbookExpiry,
	)
	if err != nil {
		return fmt.Errorf("upsert staff: %w", err)
	}
	return nil
}

// UpdateMedbookExpiry sets a new expiry and refreshes updated_at.
func (r *PgStaffRepository) UpdateMedbookExpiry(ctx context.Context, db DBTX, telegramID int64, expiry time.Time) (bool, error) {
	tag, err := db.Exec(ctx,
		`UPDATE staff SET medbook_expiry = $1, updated_at = now() WHERE telegram_id = $2`,
		expiry, telegramID)
	if err != nil {
		return false, fmt.Errorf("update medbook expiry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FindByTelegramID returns a staff row, or nil if not found.
func (r *PgStaffRepository) FindByTelegramID(ctx context.Context, db DBTX, telegramID int64) (*domain.StaffRecord, error) {
	row := db.QueryRow(ctx,
		`SELECT `+staffColumns+` FROM staff WHERE telegram_id = $1`, telegramID)
	return scanStaffRow(row)
}

// FindByFullName returns the oldest staff row with exactly this name, or nil.
func (r *PgStaffRepository) FindByFullName(ctx context.Context, db DBTX, fullName string) (*domain.StaffRecord, error) {
	row := db.QueryRow(ctx,
		`SELECT `+staffColumns+` FROM staff WHERE full_name = $1
		 ORDER BY registered_at ASC LIMIT 1`, fullName)
	return scanStaffRow(row)
}

// SearchByName matches substr anywhere in the name, case-insensitively.
func (r *PgStaffRepository) SearchByName(ctx context.Context, db DBTX, substr string) ([]domain.StaffRecord, error) {
	rows, err := db.Query(ctx,
		`SELECT `+staffColumns+` FROM staff
		 WHERE full_name ILIKE '%' || $1 || '%'
		 ORDER BY full_name ASC`, escapeLike(substr))
	if err != nil {
		return nil, fmt.Errorf("search staff: %w", err)
	}
	return collectStaff(rows)
}

// ListAll returns every staff row ordered by name.
func (r *PgStaffRepository) ListAll(ctx context.Context, db DBTX) ([]domain.StaffRecord, error) {
	rows, err := db.Query(ctx,
		`SELECT `+staffColumns+` FROM staff ORDER BY full_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list staff: %w", err)
	}
	return collectStaff(rows)
}

// FindExpiring returns reminder candidates with expiry in [from, to].
func (r *PgStaffRepository) FindExpiring(ctx context.Context, db DBTX, from, to time.Time) ([]domain.ExpiringRecord, error) {
	rows, err := db.Query(ctx,
		`SELECT telegram_id, full_name, medbook_expiry
		 FROM staff
		 WHERE medbook_status = 'active'
		   AND consent_given = TRUE
		   AND medbook_expiry BETWEEN $1 AND $2
		 ORDER BY medbook_expiry ASC, full_name ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("find expiring: %w", err)
	}
	defer rows.Close()

	var out []domain.ExpiringRecord
	for rows.Next() {
		var rec domain.ExpiringRecord
		if err := rows.Scan(&rec.TelegramID, &rec.FullName, &rec.MedbookExpiry); err != nil {
			return nil, fmt.Errorf("scan expiring row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Exists reports whether a staff row with telegramID exists.
func (r *PgStaffRepository) Exists(ctx context.Context, db DBTX, telegramID int64) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM staff WHERE telegram_id = $1)`, telegramID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("staff exists: %w", err)
	}
	return exists, nil
}

// DeleteByFullName removes staff rows with exactly this name.
func (r *PgStaffRepository) DeleteByFullName(ctx context.Context, db DBTX, fullName string) (int64, error) {
	tag, err := db.Exec(ctx, `DELETE FROM staff WHERE full_name = $1`, fullName)
	if err != nil {
		return 0, fmt.Errorf("delete staff: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of staff rows, optionally filtered by status.
func (r *PgStaffRepository) Count(ctx context.Context, db DBTX, status *domain.MedbookStatus) (int64, error) {
	var n int64
	var err error
	if status == nil {
		err = db.QueryRow(ctx, `SELECT COUNT(*) FROM staff`).Scan(&n)
	} else {
		err = db.QueryRow(ctx, `SELECT COUNT(*) FROM staff WHERE medbook_status = $1`, string(*status)).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count staff: %w", err)
	}
	return n, nil
}

func scanStaffRow(row pgx.Row) (*domain.StaffRecord, error) {
	s := &domain.StaffRecord{}
	var status string
	err := row.Scan(
		&s.ID, &s.TelegramID, &s.FullName, &s.BirthDate, &s.Phone, &status,
		&s.MedbookExpiry, &s.ConsentGiven, &s.RegisteredAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.MedbookStatus = domain.MedbookStatus(status)
	return s, nil
}

func collectStaff(rows pgx.Rows) ([]domain.StaffRecord, error) {
	defer rows.Close()

	var out []domain.StaffRecord
	for rows.Next() {
		var s domain.StaffRecord
		var status string
		if err := rows.Scan(
			&s.ID, &s.TelegramID, &s.FullName, &s.BirthDate, &s.Phone, &status,
			&s.MedbookExpiry, &s.ConsentGiven, &s.RegisteredAt, &s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan staff row: %w", err)
		}
		s.MedbookStatus = domain.MedbookStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}
