package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fjordpay/cachesync/internal/model"
)

const transferColumns = `id, redis_key, success, direction,
	sender_name, sender_id_type, sender_id_sub_value, sender_id_value,
	recipient_name, recipient_id_type, recipient_id_sub_value, recipient_id_value,
	amount, currency, dfsp, details, supported_currencies,
	created_at, completed_at, raw`

// InsertTransfer adds a new transfer row. A uniqueness violation means the
// (id, redis_key) pair was already materialized; callers detect that with
// IsUniqueViolation and fall back to UpdateTransfer.
func (s *Store) InsertTransfer(ctx context.Context, row *model.TransferRow) error {
	query := `
	INSERT INTO transfer (` + transferColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn.ExecContext(ctx, query,
		row.ID, row.RedisKey, nullBool(row.Success), row.Direction,
		row.SenderName, row.SenderIDType, row.SenderIDSubValue, row.SenderIDValue,
		row.RecipientName, row.RecipientIDType, row.RecipientIDSubValue, row.RecipientIDValue,
		row.Amount, row.Currency, row.DFSP, row.Details, row.SupportedCurrencies,
		row.CreatedAt, nullInt64(row.CompletedAt), row.Raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transfer %s (%s): %w", row.ID, row.RedisKey, err)
	}
	return nil
}

// UpdateTransfer overwrites an existing transfer row with the latest
// projection. Success is monotonic: once the stored value is non-null it is
// kept, so a stale or partial re-fetch can never regress a terminal row.
func (s *Store) UpdateTransfer(ctx context.Context, row *model.TransferRow) error {
	query := `
	UPDATE transfer SET
		success = COALESCE(success, ?),
		direction = ?,
		sender_name = ?, sender_id_type = ?, sender_id_sub_value = ?, sender_id_value = ?,
		recipient_name = ?, recipient_id_type = ?, recipient_id_sub_value = ?, recipient_id_value = ?,
		amount = ?, currency = ?, dfsp = ?, details = ?, supported_currencies = ?,
		created_at = ?, completed_at = COALESCE(?, completed_at), raw = ?
	WHERE id = ? AND redis_key = ?`

	_, err := s.conn.ExecContext(ctx, query,
		nullBool(row.Success), row.Direction,
		row.SenderName, row.SenderIDType, row.SenderIDSubValue, row.SenderIDValue,
		row.RecipientName, row.RecipientIDType, row.RecipientIDSubValue, row.RecipientIDValue,
		row.Amount, row.Currency, row.DFSP, row.Details, row.SupportedCurrencies,
		row.CreatedAt, nullInt64(row.CompletedAt), row.Raw,
		row.ID, row.RedisKey,
	)
	if err != nil {
		return fmt.Errorf("failed to update transfer %s (%s): %w", row.ID, row.RedisKey, err)
	}
	return nil
}

// TransferKey identifies one materialized transfer row together with its
// outcome, used to rebuild the engine's in-memory key state on startup.
type TransferKey struct {
	ID       string
	RedisKey string
	Success  *bool
}

// ListTransferKeys returns every (id, redis_key) pair in the store.
func (s *Store) ListTransferKeys(ctx context.Context) ([]TransferKey, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT id, redis_key, success FROM transfer")
	if err != nil {
		return nil, fmt.Errorf("failed to list transfer keys: %w", err)
	}
	defer rows.Close()

	var keys []TransferKey
	for rows.Next() {
		var k TransferKey
		var success sql.NullBool
		if err := rows.Scan(&k.ID, &k.RedisKey, &success); err != nil {
			return nil, fmt.Errorf("failed to scan transfer key: %w", err)
		}
		k.Success = boolPtr(success)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer keys: %w", err)
	}
	return keys, nil
}

// TransferFilter configures the ListTransfers report query.
type TransferFilter struct {
	// Since and Until bound created_at in epoch milliseconds (0 = unbounded).
	Since int64
	Until int64
	// Status filters the tri-state outcome: "pending", "succeeded",
	// "errored", or empty for all.
	Status string
	// Institution filters by counterparty dfsp.
	Institution string
	// IDLike matches a substring of the transfer id.
	IDLike string
	// Direction filters by sign (+1 outbound, -1 inbound, 0 = all).
	Direction int
	// Limit restricts the number of results (0 = no limit); Offset pages.
	Limit  int
	Offset int
}

// ListTransfers retrieves transfer rows matching the filter, newest first.
func (s *Store) ListTransfers(ctx context.Context, filter TransferFilter) ([]*model.TransferRow, error) {
	var conditions []string
	var args []interface{}

	if filter.Since > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since)
	}
	if filter.Until > 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, filter.Until)
	}
	switch filter.Status {
	case "pending":
		conditions = append(conditions, "success IS NULL")
	case "succeeded":
		conditions = append(conditions, "success = 1")
	case "errored":
		conditions = append(conditions, "success = 0")
	}
	if filter.Institution != "" {
		conditions = append(conditions, "dfsp = ?")
		args = append(args, filter.Institution)
	}
	if filter.IDLike != "" {
		conditions = append(conditions, "id LIKE ?")
		args = append(args, "%"+filter.IDLike+"%")
	}
	if filter.Direction != 0 {
		conditions = append(conditions, "direction = ?")
		args = append(args, filter.Direction)
	}

	query := "SELECT " + transferColumns + " FROM transfer"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	query, args = applyPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// GetTransfer retrieves one transfer row, including its raw source document.
// Returns sql.ErrNoRows when the pair is unknown.
func (s *Store) GetTransfer(ctx context.Context, id, redisKey string) (*model.TransferRow, error) {
	query := "SELECT " + transferColumns + " FROM transfer WHERE id = ? AND redis_key = ?"
	row, err := scanTransfer(s.conn.QueryRowContext(ctx, query, id, redisKey))
	if err != nil {
		return nil, err
	}
	return row, nil
}

// TransferCount returns the number of materialized transfer rows.
func (s *Store) TransferCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM transfer").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count transfers: %w", err)
	}
	return count, nil
}

// TransferSummary aggregates transfer outcomes for reporting.
type TransferSummary struct {
	Total     int
	Succeeded int
	Errored   int
	Pending   int
	// AvgCompletionMillis is the mean completed_at - created_at over
	// completed rows in range; 0 when no row has completed.
	AvgCompletionMillis float64
}

// SummarizeTransfers aggregates outcomes over a created_at range
// (0 bounds are unbounded).
func (s *Store) SummarizeTransfers(ctx context.Context, since, until int64) (*TransferSummary, error) {
	var conditions []string
	var args []interface{}
	if since > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, since)
	}
	if until > 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, until)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	query := `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN success IS NULL THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(CASE WHEN completed_at IS NOT NULL AND created_at > 0
			THEN completed_at - created_at END), 0)
	FROM transfer` + where

	var sum TransferSummary
	err := s.conn.QueryRowContext(ctx, query, args...).Scan(
		&sum.Total, &sum.Succeeded, &sum.Errored, &sum.Pending, &sum.AvgCompletionMillis)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize transfers: %w", err)
	}
	return &sum, nil
}

// CurrencyTotal is the per-currency amount aggregate.
type CurrencyTotal struct {
	Currency string
	Total    float64
	Count    int
}

// SumAmountsByCurrency totals transfer amounts per currency over a
// created_at range (0 bounds are unbounded). Rows without a currency are
// excluded.
func (s *Store) SumAmountsByCurrency(ctx context.Context, since, until int64) ([]CurrencyTotal, error) {
	conditions := []string{"currency != ''"}
	var args []interface{}
	if since > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, since)
	}
	if until > 0 {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, until)
	}

	query := `
	SELECT currency, COALESCE(SUM(CAST(amount AS REAL)), 0), COUNT(*)
	FROM transfer
	WHERE ` + strings.Join(conditions, " AND ") + `
	GROUP BY currency
	ORDER BY currency`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum amounts: %w", err)
	}
	defer rows.Close()

	var out []CurrencyTotal
	for rows.Next() {
		var ct CurrencyTotal
		if err := rows.Scan(&ct.Currency, &ct.Total, &ct.Count); err != nil {
			return nil, fmt.Errorf("failed to scan currency total: %w", err)
		}
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating currency totals: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransfer(sc rowScanner) (*model.TransferRow, error) {
	var row model.TransferRow
	var success sql.NullBool
	var completedAt sql.NullInt64

	err := sc.Scan(
		&row.ID, &row.RedisKey, &success, &row.Direction,
		&row.SenderName, &row.SenderIDType, &row.SenderIDSubValue, &row.SenderIDValue,
		&row.RecipientName, &row.RecipientIDType, &row.RecipientIDSubValue, &row.RecipientIDValue,
		&row.Amount, &row.Currency, &row.DFSP, &row.Details, &row.SupportedCurrencies,
		&row.CreatedAt, &completedAt, &row.Raw,
	)
	if err != nil {
		return nil, err
	}
	row.Success = boolPtr(success)
	row.CompletedAt = int64Ptr(completedAt)
	return &row, nil
}

func scanTransfers(rows *sql.Rows) ([]*model.TransferRow, error) {
	var out []*model.TransferRow
	for rows.Next() {
		row, err := scanTransfer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfers: %w", err)
	}
	return out, nil
}
