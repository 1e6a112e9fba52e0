package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/HSouheill/barrim_referral/models"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"

	attachTxAttempts = 3
)

func pqCode(err error) string {
	if pqErr, ok := err.(*pq.Error); ok {
		return string(pqErr.Code)
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pqCode(err) == pqUniqueViolation
}

const memberColumns = `id, sponsor_id, display_name, referral_code, is_active, joined_at, deactivated_at, updated_at`

type memberRow struct {
	ID            string         `db:"id"`
	SponsorID     sql.NullString `db:"sponsor_id"`
	DisplayName   string         `db:"display_name"`
	ReferralCode  string         `db:"referral_code"`
	IsActive      bool           `db:"is_active"`
	JoinedAt      time.Time      `db:"joined_at"`
	DeactivatedAt *time.Time     `db:"deactivated_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r memberRow) member() models.Member {
	return models.Member{
		ID:            r.ID,
		SponsorID:     r.SponsorID.String,
		DisplayName:   r.DisplayName,
		ReferralCode:  r.ReferralCode,
		IsActive:      r.IsActive,
		JoinedAt:      r.JoinedAt,
		DeactivatedAt: r.DeactivatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func membersOf(rows []memberRow) []models.Member {
	out := make([]models.Member, len(rows))
	for i, r := range rows {
		out[i] = r.member()
	}
	return out
}

type PostgresNetworkRepository struct {
	db *sqlx.DB
}

func NewPostgresNetworkRepository(db *sqlx.DB) *PostgresNetworkRepository {
	return &PostgresNetworkRepository{db: db}
}

func (r *PostgresNetworkRepository) CreateMember(ctx context.Context, m *models.Member) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO members (`+memberColumns+`) VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8)`,
		m.ID, m.SponsorID, m.DisplayName, m.ReferralCode, m.IsActive, m.JoinedAt, m.DeactivatedAt, m.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateKey
	}
	return err
}

func getMember(ctx context.Context, q sqlx.QueryerContext, query string, args ...interface{}) (*models.Member, error) {
	var row memberRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m := row.member()
	return &m, nil
}

func (r *PostgresNetworkRepository) GetMember(ctx context.Context, id string) (*models.Member, error) {
	return getMember(ctx, r.db, `SELECT `+memberColumns+` FROM members WHERE id = $1`, id)
}

func (r *PostgresNetworkRepository) GetMemberByReferralCode(ctx context.Context, code string) (*models.Member, error) {
	return getMember(ctx, r.db, `SELECT `+memberColumns+` FROM members WHERE referral_code = $1`, code)
}

func (r *PostgresNetworkRepository) selectMembers(ctx context.Context, query string, args ...interface{}) ([]models.Member, error) {
	var rows []memberRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return membersOf(rows), nil
}

func (r *PostgresNetworkRepository) GetMembers(ctx context.Context, ids []string) ([]models.Member, error) {
	return r.selectMembers(ctx, `SELECT `+memberColumns+` FROM members WHERE id = ANY($1)`, pq.Array(ids))
}

func (r *PostgresNetworkRepository) ChildrenOf(ctx context.Context, parentIDs []string) ([]models.Member, error) {
	return r.selectMembers(ctx,
		`SELECT `+memberColumns+` FROM members WHERE sponsor_id = ANY($1) ORDER BY joined_at, id`,
		pq.Array(parentIDs))
}

func (r *PostgresNetworkRepository) Roots(ctx context.Context) ([]models.Member, error) {
	return r.selectMembers(ctx, `SELECT `+memberColumns+` FROM members WHERE sponsor_id IS NULL ORDER BY joined_at`)
}

func (r *PostgresNetworkRepository) SetActive(ctx context.Context, id string, active bool, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE members
		    SET is_active = $2,
		        deactivated_at = CASE WHEN $2 THEN NULL ELSE $3::timestamptz END,
		        updated_at = $3
		  WHERE id = $1`,
		id, active, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresNetworkRepository) CountMembers(ctx context.Context, window models.DateRange) (models.MemberCounts, error) {
	var c models.MemberCounts
	err := r.db.GetContext(ctx, &c,
		`SELECT COUNT(*) AS total,
		        COUNT(*) FILTER (WHERE is_active) AS active,
		        COUNT(*) FILTER (WHERE joined_at BETWEEN $1 AND $2) AS joined,
		        COUNT(*) FILTER (WHERE joined_at < $1) AS cohort,
		        COUNT(*) FILTER (WHERE joined_at < $1 AND (is_active OR deactivated_at > $2)) AS retained
		   FROM members`,
		window.From, window.To)
	return c, err
}

// WithAttachTx runs fn in a transaction whose LockMember takes row locks.
// Deadlocks between attaches walking the same chain are retried.
func (r *PostgresNetworkRepository) WithAttachTx(ctx context.Context, fn func(ctx context.Context, tx NetworkTx) error) error {
	var err error
	for attempt := 0; attempt < attachTxAttempts; attempt++ {
		err = r.attachTx(ctx, fn)
		if code := pqCode(err); code != pqDeadlockDetected && code != pqSerializationFailure {
			return err
		}
	}
	return err
}

func (r *PostgresNetworkRepository) attachTx(ctx context.Context, fn func(ctx context.Context, tx NetworkTx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(ctx, postgresNetworkTx{tx: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

type postgresNetworkTx struct {
	tx *sqlx.Tx
}

func (t postgresNetworkTx) LockMember(ctx context.Context, id string) (*models.Member, error) {
	return getMember(ctx, t.tx, `SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id)
}

func (t postgresNetworkTx) SetSponsor(ctx context.Context, memberID, sponsorID string, at time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE members SET sponsor_id = $2, updated_at = $3 WHERE id = $1`,
		memberID, sponsorID, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}
