package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/fjordpay/cachesync/internal/model"
)

const fxQuoteColumns = `conversion_request_id, conversion_id, redis_key,
	determining_transfer_id, initiating_fsp, counter_party_fsp, amount_type,
	source_amount, source_currency, target_amount, target_currency,
	expiration, condition, direction, success, created_at, completed_at, raw`

const fxTransferColumns = `redis_key, commit_request_id, determining_transfer_id,
	initiating_fsp, counter_party_fsp,
	source_amount, source_currency, target_amount, target_currency,
	condition, expiration, conversion_state, fulfilment, direction,
	created_at, completed_timestamp`

// InsertFxQuote adds a new FX quote row.
func (s *Store) InsertFxQuote(ctx context.Context, row *model.FxQuoteRow) error {
	query := `
	INSERT INTO fx_quote (` + fxQuoteColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn.ExecContext(ctx, query,
		row.ConversionRequestID, row.ConversionID, row.RedisKey,
		row.DeterminingTransferID, row.InitiatingFsp, row.CounterPartyFsp, row.AmountType,
		row.SourceAmount, row.SourceCurrency, row.TargetAmount, row.TargetCurrency,
		row.Expiration, row.Condition, row.Direction, nullBool(row.Success),
		row.CreatedAt, nullInt64(row.CompletedAt), row.Raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fx quote %s: %w", row.ConversionRequestID, err)
	}
	return nil
}

// UpdateFxQuote overwrites an existing FX quote row. Success is monotonic,
// same as for transfers.
func (s *Store) UpdateFxQuote(ctx context.Context, row *model.FxQuoteRow) error {
	query := `
	UPDATE fx_quote SET
		redis_key = ?, determining_transfer_id = ?,
		initiating_fsp = ?, counter_party_fsp = ?, amount_type = ?,
		source_amount = ?, source_currency = ?, target_amount = ?, target_currency = ?,
		expiration = ?, condition = ?, direction = ?,
		success = COALESCE(success, ?),
		created_at = ?, completed_at = COALESCE(?, completed_at), raw = ?
	WHERE conversion_request_id = ? AND conversion_id = ?`

	_, err := s.conn.ExecContext(ctx, query,
		row.RedisKey, row.DeterminingTransferID,
		row.InitiatingFsp, row.CounterPartyFsp, row.AmountType,
		row.SourceAmount, row.SourceCurrency, row.TargetAmount, row.TargetCurrency,
		row.Expiration, row.Condition, row.Direction,
		nullBool(row.Success),
		row.CreatedAt, nullInt64(row.CompletedAt), row.Raw,
		row.ConversionRequestID, row.ConversionID,
	)
	if err != nil {
		return fmt.Errorf("failed to update fx quote %s: %w", row.ConversionRequestID, err)
	}
	return nil
}

// InsertFxTransfer adds a new conversion settlement row.
func (s *Store) InsertFxTransfer(ctx context.Context, row *model.FxTransferRow) error {
	query := `
	INSERT INTO fx_transfer (` + fxTransferColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.conn.ExecContext(ctx, query,
		row.RedisKey, row.CommitRequestID, row.DeterminingTransferID,
		row.InitiatingFsp, row.CounterPartyFsp,
		row.SourceAmount, row.SourceCurrency, row.TargetAmount, row.TargetCurrency,
		row.Condition, row.Expiration, row.ConversionState, row.Fulfilment, row.Direction,
		row.CreatedAt, nullInt64(row.CompletedTimestamp),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fx transfer %s: %w", row.CommitRequestID, err)
	}
	return nil
}

// UpdateFxTransfer overwrites an existing conversion settlement row.
func (s *Store) UpdateFxTransfer(ctx context.Context, row *model.FxTransferRow) error {
	query := `
	UPDATE fx_transfer SET
		determining_transfer_id = ?,
		initiating_fsp = ?, counter_party_fsp = ?,
		source_amount = ?, source_currency = ?, target_amount = ?, target_currency = ?,
		condition = ?, expiration = ?, conversion_state = ?, fulfilment = ?, direction = ?,
		created_at = ?, completed_timestamp = COALESCE(?, completed_timestamp)
	WHERE redis_key = ? AND commit_request_id = ?`

	_, err := s.conn.ExecContext(ctx, query,
		row.DeterminingTransferID,
		row.InitiatingFsp, row.CounterPartyFsp,
		row.SourceAmount, row.SourceCurrency, row.TargetAmount, row.TargetCurrency,
		row.Condition, row.Expiration, row.ConversionState, row.Fulfilment, row.Direction,
		row.CreatedAt, nullInt64(row.CompletedTimestamp),
		row.RedisKey, row.CommitRequestID,
	)
	if err != nil {
		return fmt.Errorf("failed to update fx transfer %s: %w", row.CommitRequestID, err)
	}
	return nil
}

// FxQuoteKey identifies one materialized FX quote row together with its
// origin cache key and outcome, for rebuilding engine state on startup.
type FxQuoteKey struct {
	ConversionRequestID string
	ConversionID        string
	RedisKey            string
	Success             *bool
}

// ListFxQuoteKeys returns the identity of every FX quote row.
func (s *Store) ListFxQuoteKeys(ctx context.Context) ([]FxQuoteKey, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT conversion_request_id, conversion_id, redis_key, success FROM fx_quote")
	if err != nil {
		return nil, fmt.Errorf("failed to list fx quote keys: %w", err)
	}
	defer rows.Close()

	var keys []FxQuoteKey
	for rows.Next() {
		var k FxQuoteKey
		var success sql.NullBool
		if err := rows.Scan(&k.ConversionRequestID, &k.ConversionID, &k.RedisKey, &success); err != nil {
			return nil, fmt.Errorf("failed to scan fx quote key: %w", err)
		}
		k.Success = boolPtr(success)
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fx quote keys: %w", err)
	}
	return keys, nil
}

// FxTransferKey identifies one materialized conversion settlement row.
type FxTransferKey struct {
	RedisKey        string
	CommitRequestID string
}

// ListFxTransferKeys returns the identity of every fx_transfer row.
func (s *Store) ListFxTransferKeys(ctx context.Context) ([]FxTransferKey, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT redis_key, commit_request_id FROM fx_transfer")
	if err != nil {
		return nil, fmt.Errorf("failed to list fx transfer keys: %w", err)
	}
	defer rows.Close()

	var keys []FxTransferKey
	for rows.Next() {
		var k FxTransferKey
		if err := rows.Scan(&k.RedisKey, &k.CommitRequestID); err != nil {
			return nil, fmt.Errorf("failed to scan fx transfer key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fx transfer keys: %w", err)
	}
	return keys, nil
}

// FxFilter configures the FX report queries.
type FxFilter struct {
	// RedisKey correlates rows back to one cache document.
	RedisKey string
	// DeterminingTransferID correlates conversions to their transfer.
	DeterminingTransferID string
	Limit                 int
	Offset                int
}

// ListFxQuotes retrieves FX quote rows matching the filter, newest first.
func (s *Store) ListFxQuotes(ctx context.Context, filter FxFilter) ([]*model.FxQuoteRow, error) {
	query := "SELECT " + fxQuoteColumns + " FROM fx_quote"
	where, args := fxConditions(filter)
	query += where + " ORDER BY created_at DESC, conversion_request_id ASC"
	query, args = applyPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fx quotes: %w", err)
	}
	defer rows.Close()

	var out []*model.FxQuoteRow
	for rows.Next() {
		var row model.FxQuoteRow
		var success sql.NullBool
		var completedAt sql.NullInt64
		err := rows.Scan(
			&row.ConversionRequestID, &row.ConversionID, &row.RedisKey,
			&row.DeterminingTransferID, &row.InitiatingFsp, &row.CounterPartyFsp, &row.AmountType,
			&row.SourceAmount, &row.SourceCurrency, &row.TargetAmount, &row.TargetCurrency,
			&row.Expiration, &row.Condition, &row.Direction, &success,
			&row.CreatedAt, &completedAt, &row.Raw,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fx quote: %w", err)
		}
		row.Success = boolPtr(success)
		row.CompletedAt = int64Ptr(completedAt)
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fx quotes: %w", err)
	}
	return out, nil
}

// ListFxTransfers retrieves conversion settlement rows matching the filter,
// newest first.
func (s *Store) ListFxTransfers(ctx context.Context, filter FxFilter) ([]*model.FxTransferRow, error) {
	query := "SELECT " + fxTransferColumns + " FROM fx_transfer"
	where, args := fxConditions(filter)
	query += where + " ORDER BY created_at DESC, commit_request_id ASC"
	query, args = applyPage(query, args, filter.Limit, filter.Offset)

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fx transfers: %w", err)
	}
	defer rows.Close()

	var out []*model.FxTransferRow
	for rows.Next() {
		var row model.FxTransferRow
		var completed sql.NullInt64
		err := rows.Scan(
			&row.RedisKey, &row.CommitRequestID, &row.DeterminingTransferID,
			&row.InitiatingFsp, &row.CounterPartyFsp,
			&row.SourceAmount, &row.SourceCurrency, &row.TargetAmount, &row.TargetCurrency,
			&row.Condition, &row.Expiration, &row.ConversionState, &row.Fulfilment, &row.Direction,
			&row.CreatedAt, &completed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fx transfer: %w", err)
		}
		row.CompletedTimestamp = int64Ptr(completed)
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fx transfers: %w", err)
	}
	return out, nil
}

// FxQuoteCount returns the number of FX quote rows.
func (s *Store) FxQuoteCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM fx_quote").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count fx quotes: %w", err)
	}
	return count, nil
}

// FxTransferCount returns the number of conversion settlement rows.
func (s *Store) FxTransferCount(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM fx_transfer").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count fx transfers: %w", err)
	}
	return count, nil
}

func fxConditions(filter FxFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}
	if filter.RedisKey != "" {
		conditions = append(conditions, "redis_key = ?")
		args = append(args, filter.RedisKey)
	}
	if filter.DeterminingTransferID != "" {
		conditions = append(conditions, "determining_transfer_id = ?")
		args = append(args, filter.DeterminingTransferID)
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func applyPage(query string, args []interface{}, limit, offset int) (string, []interface{}) {
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	} else if offset > 0 {
		// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
		query += " LIMIT -1"
	}
	if offset > 0 {
		query += " OFFSET ?"
		args = append(args, offset)
	}
	return query, args
}
