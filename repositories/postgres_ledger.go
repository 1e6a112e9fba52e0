package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/HSouheill/barrim_referral/models"
)

const eventColumns = `id, kind, member_id, base_amount, occurred_at, status, rate_version, total_credited,
	error, reversed, reverse_reason, created_at, processed_at`

const entryColumns = `id, event_id, beneficiary_id, level, amount, rate_applied, kind, created_at`

type eventRow struct {
	ID            string          `db:"id"`
	Kind          string          `db:"kind"`
	MemberID      string          `db:"member_id"`
	BaseAmount    decimal.Decimal `db:"base_amount"`
	OccurredAt    time.Time       `db:"occurred_at"`
	Status        string          `db:"status"`
	RateVersion   int64           `db:"rate_version"`
	TotalCredited decimal.Decimal `db:"total_credited"`
	Error         string          `db:"error"`
	Reversed      bool            `db:"reversed"`
	ReverseReason string          `db:"reverse_reason"`
	CreatedAt     time.Time       `db:"created_at"`
	ProcessedAt   *time.Time      `db:"processed_at"`
}

func (r eventRow) record() *models.CommissionRecord {
	return &models.CommissionRecord{
		CommissionEvent: models.CommissionEvent{
			ID:         r.ID,
			Kind:       models.EventKind(r.Kind),
			MemberID:   r.MemberID,
			BaseAmount: r.BaseAmount,
			OccurredAt: r.OccurredAt,
		},
		Status:        models.EventStatus(r.Status),
		RateVersion:   r.RateVersion,
		TotalCredited: r.TotalCredited,
		Error:         r.Error,
		Reversed:      r.Reversed,
		ReverseReason: r.ReverseReason,
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
	}
}

type entryRow struct {
	ID            string          `db:"id"`
	EventID       string          `db:"event_id"`
	BeneficiaryID string          `db:"beneficiary_id"`
	Level         int             `db:"level"`
	Amount        decimal.Decimal `db:"amount"`
	RateApplied   decimal.Decimal `db:"rate_applied"`
	Kind          string          `db:"kind"`
	CreatedAt     time.Time       `db:"created_at"`
}

func entriesOf(rows []entryRow) []models.LedgerEntry {
	out := make([]models.LedgerEntry, len(rows))
	for i, r := range rows {
		out[i] = models.LedgerEntry{
			ID:            r.ID,
			EventID:       r.EventID,
			BeneficiaryID: r.BeneficiaryID,
			Level:         r.Level,
			Amount:        r.Amount,
			RateApplied:   r.RateApplied,
			Kind:          models.EntryKind(r.Kind),
			CreatedAt:     r.CreatedAt,
		}
	}
	return out
}

// upsertEvent overwrites an earlier attempt but never a DONE record; zero
// affected rows means the event is already DONE.
const upsertEvent = `INSERT INTO commission_events (` + eventColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO UPDATE SET
		kind = EXCLUDED.kind,
		member_id = EXCLUDED.member_id,
		base_amount = EXCLUDED.base_amount,
		occurred_at = EXCLUDED.occurred_at,
		status = EXCLUDED.status,
		rate_version = EXCLUDED.rate_version,
		total_credited = EXCLUDED.total_credited,
		error = EXCLUDED.error,
		processed_at = EXCLUDED.processed_at
	WHERE commission_events.status <> 'DONE'`

func upsertEventArgs(rec models.CommissionRecord) []interface{} {
	return []interface{}{
		rec.ID, string(rec.Kind), rec.MemberID, rec.BaseAmount, rec.OccurredAt, string(rec.Status),
		rec.RateVersion, rec.TotalCredited, rec.Error, rec.Reversed, rec.ReverseReason, rec.CreatedAt, rec.ProcessedAt,
	}
}

type PostgresLedgerRepository struct {
	db *sqlx.DB
}

func NewPostgresLedgerRepository(db *sqlx.DB) *PostgresLedgerRepository {
	return &PostgresLedgerRepository{db: db}
}

func (r *PostgresLedgerRepository) GetEvent(ctx context.Context, eventID string) (*models.CommissionRecord, error) {
	var row eventRow
	err := r.db.GetContext(ctx, &row, `SELECT `+eventColumns+` FROM commission_events WHERE id = $1`, eventID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.record(), nil
}

func (r *PostgresLedgerRepository) EntriesForEvent(ctx context.Context, eventID string) ([]models.LedgerEntry, error) {
	var rows []entryRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE event_id = $1 ORDER BY created_at, level`, eventID)
	if err != nil {
		return nil, err
	}
	return entriesOf(rows), nil
}

func (r *PostgresLedgerRepository) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return err
	}
	return tx.Commit()
}

func insertEntries(ctx context.Context, tx *sqlx.Tx, entries []models.LedgerEntry) error {
	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			e.ID, e.EventID, e.BeneficiaryID, e.Level, e.Amount, e.RateApplied, string(e.Kind), e.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresLedgerRepository) CommitDistribution(ctx context.Context, rec models.CommissionRecord, entries []models.LedgerEntry) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, upsertEvent, upsertEventArgs(rec)...)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return ErrDuplicateKey
		}
		return insertEntries(ctx, tx, entries)
	})
}

func (r *PostgresLedgerRepository) MarkFailed(ctx context.Context, rec models.CommissionRecord) error {
	_, err := r.db.ExecContext(ctx, upsertEvent, upsertEventArgs(rec)...)
	return err
}

func (r *PostgresLedgerRepository) CommitReversal(ctx context.Context, eventID, reason string, entries []models.LedgerEntry) error {
	return r.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE commission_events SET reversed = TRUE, reverse_reason = $2
			  WHERE id = $1 AND status = 'DONE' AND NOT reversed`,
			eventID, reason)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var reversed bool
			err := tx.GetContext(ctx, &reversed,
				`SELECT reversed FROM commission_events WHERE id = $1 AND status = 'DONE'`, eventID)
			if err == sql.ErrNoRows {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return ErrDuplicateKey
		}
		return insertEntries(ctx, tx, entries)
	})
}

func (r *PostgresLedgerRepository) Balance(ctx context.Context, memberID string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.db.GetContext(ctx, &total,
		`SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE beneficiary_id = $1`, memberID)
	return total, err
}

type beneficiaryTotal struct {
	BeneficiaryID string          `db:"beneficiary_id"`
	Total         decimal.Decimal `db:"total"`
}

func (r *PostgresLedgerRepository) Balances(ctx context.Context, memberIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(memberIDs))
	if len(memberIDs) == 0 {
		return out, nil
	}
	var rows []beneficiaryTotal
	err := r.db.SelectContext(ctx, &rows,
		`SELECT beneficiary_id, SUM(amount) AS total
		   FROM ledger_entries
		  WHERE beneficiary_id = ANY($1)
		  GROUP BY beneficiary_id`,
		pq.Array(memberIDs))
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.BeneficiaryID] = row.Total
	}
	return out, nil
}

func (r *PostgresLedgerRepository) EntriesForMember(ctx context.Context, memberID string, limit int) ([]models.LedgerEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE beneficiary_id = $1 ORDER BY created_at DESC, id DESC`
	args := []interface{}{memberID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return entriesOf(rows), nil
}

func (r *PostgresLedgerRepository) Totals(ctx context.Context, window models.DateRange) (models.CommissionTotals, error) {
	var levels []struct {
		Level  int             `db:"level"`
		Amount decimal.Decimal `db:"amount"`
		Count  int             `db:"count"`
	}
	err := r.db.SelectContext(ctx, &levels,
		`SELECT level, SUM(amount) AS amount, COUNT(*) AS count
		   FROM ledger_entries
		  WHERE created_at BETWEEN $1 AND $2
		  GROUP BY level
		  ORDER BY level`,
		window.From, window.To)
	if err != nil {
		return models.CommissionTotals{}, err
	}

	totals := models.CommissionTotals{Total: decimal.Zero}
	for _, l := range levels {
		totals.ByLevel = append(totals.ByLevel, models.LevelTotal{Level: l.Level, Amount: l.Amount, Count: l.Count})
		totals.Total = totals.Total.Add(l.Amount)
	}

	err = r.db.GetContext(ctx, &totals.EventsProcessed,
		`SELECT COUNT(*) FROM commission_events WHERE status = 'DONE' AND processed_at BETWEEN $1 AND $2`,
		window.From, window.To)
	return totals, err
}

func (r *PostgresLedgerRepository) TopEarners(ctx context.Context, window models.DateRange, limit int) ([]models.Earner, error) {
	query := `SELECT beneficiary_id, SUM(amount) AS total
	            FROM ledger_entries
	           WHERE created_at BETWEEN $1 AND $2
	           GROUP BY beneficiary_id
	           ORDER BY total DESC, beneficiary_id`
	args := []interface{}{window.From, window.To}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}
	var rows []beneficiaryTotal
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]models.Earner, len(rows))
	for i, row := range rows {
		out[i] = models.Earner{MemberID: row.BeneficiaryID, Amount: row.Total}
	}
	return out, nil
}
