package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fjordpay/cachesync/internal/model"
	"github.com/fjordpay/cachesync/internal/projector"
	"github.com/fjordpay/cachesync/internal/store"
)

// Report summarizes one synchronization pass.
type Report struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	// KeysScanned is the number of keys the pass considered across all
	// patterns, terminal exclusions included.
	KeysScanned int `json:"keys_scanned"`
	// Inserted counts keys that materialized at least one new row.
	Inserted int `json:"inserted"`
	// Updated counts keys whose existing rows were refreshed.
	Updated int `json:"updated"`
	// Skipped counts keys excluded as terminal, deleted between list and
	// fetch, or without enough structure to project yet.
	Skipped int `json:"skipped"`
	// Errored counts keys whose document was malformed or whose rows all
	// failed to write.
	Errored int `json:"errored"`
}

// keyState tracks one cache key's lifecycle across passes.
type keyState int

const (
	// statePending: rows materialized, outcome not yet resolved.
	statePending keyState = iota
	// stateTerminal: outcome resolved; the key is excluded from future
	// scans. This is a scan-cost optimization only - re-processing a
	// terminal document is a safe no-op.
	stateTerminal
)

type transferIdentity struct {
	id       string
	redisKey string
}

type fxQuoteIdentity struct {
	conversionRequestID string
	conversionID        string
}

type fxTransferIdentity struct {
	redisKey        string
	commitRequestID string
}

// Engine performs synchronization passes. It owns the in-memory key state:
// a single map from cache key to lifecycle state plus one already-inserted
// set per entity, all rebuilt from store rows at construction. Engine is not
// safe for concurrent passes; the scheduler guarantees a single in-flight
// pass at a time.
type Engine struct {
	cache Cache
	store *store.Store
	log   logrus.FieldLogger

	keys        map[string]keyState
	transfers   map[transferIdentity]struct{}
	fxQuotes    map[fxQuoteIdentity]struct{}
	fxTransfers map[fxTransferIdentity]struct{}
}

// NewEngine creates an engine and rebuilds its key state from the store,
// so terminal exclusions and insert/update decisions survive restarts.
// If logger is nil the logrus standard logger is used.
func NewEngine(ctx context.Context, c Cache, st *store.Store, logger logrus.FieldLogger) (*Engine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &Engine{
		cache:       c,
		store:       st,
		log:         logger.WithField("component", "sync"),
		keys:        make(map[string]keyState),
		transfers:   make(map[transferIdentity]struct{}),
		fxQuotes:    make(map[fxQuoteIdentity]struct{}),
		fxTransfers: make(map[fxTransferIdentity]struct{}),
	}
	if err := e.rebuildState(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// rebuildState reloads the terminal and already-inserted sets from the
// relational store.
func (e *Engine) rebuildState(ctx context.Context) error {
	transferKeys, err := e.store.ListTransferKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild transfer state: %w", err)
	}
	for _, k := range transferKeys {
		e.transfers[transferIdentity{id: k.ID, redisKey: k.RedisKey}] = struct{}{}
		e.observeOutcome(k.RedisKey, k.Success)
	}

	fxQuoteKeys, err := e.store.ListFxQuoteKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild fx quote state: %w", err)
	}
	for _, k := range fxQuoteKeys {
		e.fxQuotes[fxQuoteIdentity{
			conversionRequestID: k.ConversionRequestID,
			conversionID:        k.ConversionID,
		}] = struct{}{}
		// FX-only documents have no transfer row; their quote outcome
		// decides terminality for the cache key.
		if k.RedisKey != "" {
			e.observeOutcome(k.RedisKey, k.Success)
		}
	}

	fxTransferKeys, err := e.store.ListFxTransferKeys(ctx)
	if err != nil {
		return fmt.Errorf("failed to rebuild fx transfer state: %w", err)
	}
	for _, k := range fxTransferKeys {
		e.fxTransfers[fxTransferIdentity{
			redisKey:        k.RedisKey,
			commitRequestID: k.CommitRequestID,
		}] = struct{}{}
	}

	e.log.WithFields(logrus.Fields{
		"transfers":    len(e.transfers),
		"fx_quotes":    len(e.fxQuotes),
		"fx_transfers": len(e.fxTransfers),
	}).Info("rebuilt sync state from store")
	return nil
}

// observeOutcome records a key's lifecycle state. Terminal never regresses.
func (e *Engine) observeOutcome(key string, success *bool) {
	if e.keys[key] == stateTerminal {
		return
	}
	if success != nil {
		e.keys[key] = stateTerminal
	} else {
		e.keys[key] = statePending
	}
}

// RunOnce implements Syncer. It returns an error only when the cache or the
// store is unreachable; every per-key failure is contained and counted.
func (e *Engine) RunOnce(ctx context.Context, patterns []string) (*Report, error) {
	report := &Report{StartedAt: time.Now()}

	for _, pattern := range patterns {
		keys, err := e.cache.Keys(ctx, pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to list keys for pattern %s: %w", pattern, err)
		}
		e.log.WithFields(logrus.Fields{
			"pattern": pattern,
			"keys":    len(keys),
		}).Debug("scanning pattern")

		for _, key := range keys {
			report.KeysScanned++
			if e.keys[key] == stateTerminal {
				report.Skipped++
				continue
			}
			if err := e.processKey(ctx, key, report); err != nil {
				return nil, err
			}
		}
	}

	report.Duration = time.Since(report.StartedAt)
	e.log.WithFields(logrus.Fields{
		"scanned":  report.KeysScanned,
		"inserted": report.Inserted,
		"updated":  report.Updated,
		"skipped":  report.Skipped,
		"errored":  report.Errored,
		"duration": report.Duration.Round(time.Millisecond),
	}).Info("sync pass complete")
	return report, nil
}

// processKey fetches, projects and upserts one key. The returned error is
// non-nil only for cache transport failures, which abort the pass.
func (e *Engine) processKey(ctx context.Context, key string, report *Report) error {
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	if !ok {
		// Deleted between list and fetch.
		report.Skipped++
		return nil
	}

	proj, err := projector.Project(key, raw)
	if err != nil {
		e.log.WithError(err).WithField("key", key).Warn("skipping malformed document")
		report.Errored++
		return nil
	}
	if proj.Empty() {
		// Not an error: the document has not accumulated enough structure
		// to satisfy the projector's minimum-field contract yet.
		e.log.WithField("key", key).Debug("projection incomplete, nothing to materialize")
		report.Skipped++
		return nil
	}

	// Each row is written independently: a failure on one must not block
	// the others, and each failure is attributed to its own row.
	var inserted, updated, failed int
	if proj.Transfer != nil {
		wasInsert, err := e.upsertTransfer(ctx, proj.Transfer)
		e.tally(wasInsert, err, key, "transfer", &inserted, &updated, &failed)
	}
	if proj.FxQuote != nil {
		wasInsert, err := e.upsertFxQuote(ctx, proj.FxQuote)
		e.tally(wasInsert, err, key, "fx_quote", &inserted, &updated, &failed)
	}
	if proj.FxTransfer != nil {
		wasInsert, err := e.upsertFxTransfer(ctx, proj.FxTransfer)
		e.tally(wasInsert, err, key, "fx_transfer", &inserted, &updated, &failed)
	}

	switch {
	case failed > 0 && inserted == 0 && updated == 0:
		report.Errored++
	case inserted > 0:
		report.Inserted++
	case updated > 0:
		report.Updated++
	default:
		report.Skipped++
	}

	// Only advance the lifecycle state when every row landed; otherwise the
	// next pass must be able to repair the miss.
	if failed == 0 {
		e.observeOutcome(key, keyOutcome(proj))
	}
	return nil
}

// keyOutcome picks the row whose success governs the key's terminality:
// the transfer row for transfer documents, the quote row for FX-only ones.
func keyOutcome(proj *projector.Projection) *bool {
	if proj.Transfer != nil {
		return proj.Transfer.Success
	}
	if proj.FxQuote != nil {
		return proj.FxQuote.Success
	}
	return nil
}

// tally folds one row write result into the per-key counters.
func (e *Engine) tally(wasInsert bool, err error, key, entity string, inserted, updated, failed *int) {
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"key":    key,
			"entity": entity,
		}).Error("row write failed")
		*failed++
		return
	}
	if wasInsert {
		*inserted++
	} else {
		*updated++
	}
}

// upsertTransfer decides insert versus update from the already-inserted set.
// An insert that hits a uniqueness violation means the set and the store
// disagreed (e.g. another deployment wrote the row); it is reinterpreted as
// an update.
func (e *Engine) upsertTransfer(ctx context.Context, row *model.TransferRow) (bool, error) {
	id := transferIdentity{id: row.ID, redisKey: row.RedisKey}
	if _, known := e.transfers[id]; !known {
		err := e.store.InsertTransfer(ctx, row)
		if err == nil {
			e.transfers[id] = struct{}{}
			return true, nil
		}
		if !store.IsUniqueViolation(err) {
			return false, err
		}
		e.transfers[id] = struct{}{}
	}
	return false, e.store.UpdateTransfer(ctx, row)
}

func (e *Engine) upsertFxQuote(ctx context.Context, row *model.FxQuoteRow) (bool, error) {
	id := fxQuoteIdentity{
		conversionRequestID: row.ConversionRequestID,
		conversionID:        row.ConversionID,
	}
	if _, known := e.fxQuotes[id]; !known {
		err := e.store.InsertFxQuote(ctx, row)
		if err == nil {
			e.fxQuotes[id] = struct{}{}
			return true, nil
		}
		if !store.IsUniqueViolation(err) {
			return false, err
		}
		e.fxQuotes[id] = struct{}{}
	}
	return false, e.store.UpdateFxQuote(ctx, row)
}

func (e *Engine) upsertFxTransfer(ctx context.Context, row *model.FxTransferRow) (bool, error) {
	id := fxTransferIdentity{
		redisKey:        row.RedisKey,
		commitRequestID: row.CommitRequestID,
	}
	if _, known := e.fxTransfers[id]; !known {
		err := e.store.InsertFxTransfer(ctx, row)
		if err == nil {
			e.fxTransfers[id] = struct{}{}
			return true, nil
		}
		if !store.IsUniqueViolation(err) {
			return false, err
		}
		e.fxTransfers[id] = struct{}{}
	}
	return false, e.store.UpdateFxTransfer(ctx, row)
}
