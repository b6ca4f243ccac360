package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	serrors "github.com/p-blackswan/sweeper/internal/errors"
	"github.com/p-blackswan/sweeper/internal/models"
)

const accountColumns = `
	social_account_id, owner, screen_name, active, retention_hours,
	activated_at, activated_status_id, access_token, refresh_token,
	token_expiry, created_at`

// SaveAccount inserts or replaces an account row.
func (s *Store) SaveAccount(ctx context.Context, a *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}

	var access, refresh sql.NullString
	var expiry sql.NullInt64
	if a.Credentials.Present() {
		access = sql.NullString{String: a.Credentials.AccessToken, Valid: true}
		refresh = sql.NullString{String: a.Credentials.RefreshToken, Valid: a.Credentials.RefreshToken != ""}
		expiry = toMillis(a.Credentials.Expiry)
	}

	query := `
	INSERT INTO accounts (` + accountColumns + `, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(social_account_id) DO UPDATE SET
		owner = excluded.owner,
		screen_name = excluded.screen_name,
		active = excluded.active,
		retention_hours = excluded.retention_hours,
		activated_at = excluded.activated_at,
		activated_status_id = excluded.activated_status_id,
		access_token = excluded.access_token,
		refresh_token = excluded.refresh_token,
		token_expiry = excluded.token_expiry,
		updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		a.SocialAccountID, a.Owner, a.ScreenName, a.Active, a.RetentionHours,
		toMillis(a.ActivatedAt), a.ActivatedStatusID, access, refresh, expiry,
		a.CreatedAt.UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save account %d: %w", a.SocialAccountID, err)
	}
	return nil
}

// GetAccount loads one account. A missing row wraps ErrNotFound.
func (s *Store) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE social_account_id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", id, serrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account %d: %w", id, err)
	}
	return a, nil
}

// ListActive returns up to limit active accounts ordered by id. limit <= 0
// means no bound.
func (s *Store) ListActive(ctx context.Context, limit int) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE active = 1 ORDER BY social_account_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryAccounts(ctx, query, args...)
}

// ListAccounts returns every account, optionally only those of one owner.
func (s *Store) ListAccounts(ctx context.Context, owner string) ([]models.Account, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + accountColumns + ` FROM accounts`)
	args := []any{}
	if owner != "" {
		b.WriteString(` WHERE owner = ?`)
		args = append(args, owner)
	}
	b.WriteString(` ORDER BY social_account_id`)
	return s.queryAccounts(ctx, b.String(), args...)
}

// UpdateScreenName stores the latest known handle of an account.
func (s *Store) UpdateScreenName(ctx context.Context, id int64, screenName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET screen_name = ?, updated_at = ? WHERE social_account_id = ?`,
		screenName, s.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update screen name for %d: %w", id, err)
	}
	return nil
}

// SaveCredentials replaces the token pair of a linked account, leaving its
// policy untouched.
func (s *Store) SaveCredentials(ctx context.Context, id int64, creds models.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET access_token = ?, refresh_token = ?, token_expiry = ?, updated_at = ?
		WHERE social_account_id = ?`,
		creds.AccessToken,
		sql.NullString{String: creds.RefreshToken, Valid: creds.RefreshToken != ""},
		toMillis(creds.Expiry), s.now().UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to save credentials for %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, serrors.ErrNotFound)
	}
	return nil
}

// CountAccounts returns the number of linked and active accounts.
func (s *Store) CountAccounts(ctx context.Context) (total, active int, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(active), 0) FROM accounts`,
	).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count accounts: %w", err)
	}
	return total, active, nil
}

func (s *Store) queryAccounts(ctx context.Context, query string, args ...any) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*models.Account, error) {
	var (
		a                   models.Account
		activatedAt, expiry sql.NullInt64
		access, refresh     sql.NullString
		createdAt           int64
	)
	err := row.Scan(
		&a.SocialAccountID, &a.Owner, &a.ScreenName, &a.Active, &a.RetentionHours,
		&activatedAt, &a.ActivatedStatusID, &access, &refresh,
		&expiry, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	a.ActivatedAt = fromMillis(activatedAt)
	a.CreatedAt = fromMillis(sql.NullInt64{Int64: createdAt, Valid: true})
	if access.Valid && access.String != "" {
		a.Credentials = &models.Credentials{
			AccessToken:  access.String,
			RefreshToken: refresh.String,
			Expiry:       fromMillis(expiry),
		}
	}
	return &a, nil
}
