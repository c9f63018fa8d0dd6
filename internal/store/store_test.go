package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/fjordpay/cachesync/internal/model"
)

// testStore opens a migrated store in a temporary directory.
func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	return s
}

func transferFixture(id, key string) *model.TransferRow {
	return &model.TransferRow{
		ID:            id,
		RedisKey:      key,
		Direction:     1,
		SenderName:    "Ada Lovelace",
		RecipientName: "Grace Hopper",
		Amount:        "100",
		Currency:      "USD",
		DFSP:          "payeefsp",
		CreatedAt:     1741608000000,
		Raw:           `{"transferId":"` + id + `"}`,
	}
}

// TestMigrate_CreatesTables tests that the migration sequence creates all
// three projection tables.
func TestMigrate_CreatesTables(t *testing.T) {
	s := testStore(t)

	for _, table := range []string{"transfer", "fx_quote", "fx_transfer", "schema_migrations"} {
		var count int
		err := s.conn.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

// TestMigrate_Idempotent tests that re-running the migration sequence is a
// no-op.
func TestMigrate_Idempotent(t *testing.T) {
	s := testStore(t)

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate() failed: %v", err)
	}

	var applied int
	if err := s.conn.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
		t.Fatalf("failed to count migrations: %v", err)
	}
	if applied != len(migrations) {
		t.Errorf("applied migrations = %d, want %d", applied, len(migrations))
	}
}

// TestMigrate_SurvivesReopen tests that a reopened database sees the same
// schema version and does not re-apply steps.
func TestMigrate_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() failed: %v", err)
	}
	if err := s.InsertTransfer(ctx, transferFixture("t-1", "transferModel_out_t-1")); err != nil {
		t.Fatalf("InsertTransfer() failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() after reopen failed: %v", err)
	}

	count, err := s.TransferCount(ctx)
	if err != nil {
		t.Fatalf("TransferCount() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("TransferCount() = %d, want 1 after reopen", count)
	}
}

// TestInsertTransfer_DuplicateIsUniqueViolation tests the error the sync
// engine relies on to reinterpret an insert as an update.
func TestInsertTransfer_DuplicateIsUniqueViolation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := transferFixture("t-1", "transferModel_out_t-1")
	if err := s.InsertTransfer(ctx, row); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}

	err := s.InsertTransfer(ctx, row)
	if err == nil {
		t.Fatal("duplicate insert should fail")
	}
	if !IsUniqueViolation(err) {
		t.Errorf("IsUniqueViolation(%v) = false, want true", err)
	}
}

// TestInsertTransfer_SameIDDifferentKey tests that the composite primary
// key allows the same transfer id under different cache keys.
func TestInsertTransfer_SameIDDifferentKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertTransfer(ctx, transferFixture("t-1", "transferModel_out_t-1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.InsertTransfer(ctx, transferFixture("t-1", "transferModel_in_t-1")); err != nil {
		t.Errorf("same id under a different key should insert: %v", err)
	}
}

// TestUpdateTransfer_MonotonicSuccess tests that a resolved outcome is
// never overwritten back to pending or flipped by a later update.
func TestUpdateTransfer_MonotonicSuccess(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := transferFixture("t-1", "transferModel_out_t-1")
	succeeded := true
	row.Success = &succeeded
	completed := int64(1741608005000)
	row.CompletedAt = &completed
	if err := s.InsertTransfer(ctx, row); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// A stale re-fetch without outcome must not regress the row.
	stale := transferFixture("t-1", "transferModel_out_t-1")
	if err := s.UpdateTransfer(ctx, stale); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := s.GetTransfer(ctx, "t-1", "transferModel_out_t-1")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}
	if got.Success == nil || !*got.Success {
		t.Error("success regressed after stale update")
	}
	if got.CompletedAt == nil || *got.CompletedAt != completed {
		t.Error("completed_at lost after stale update")
	}

	// A contradictory outcome also cannot flip a resolved row.
	errored := false
	flip := transferFixture("t-1", "transferModel_out_t-1")
	flip.Success = &errored
	if err := s.UpdateTransfer(ctx, flip); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err = s.GetTransfer(ctx, "t-1", "transferModel_out_t-1")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}
	if got.Success == nil || !*got.Success {
		t.Error("resolved success flipped by a later update")
	}
}

// TestUpdateTransfer_PendingToResolved tests the normal forward transition.
func TestUpdateTransfer_PendingToResolved(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.InsertTransfer(ctx, transferFixture("t-1", "k-1")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	resolved := transferFixture("t-1", "k-1")
	errored := false
	resolved.Success = &errored
	if err := s.UpdateTransfer(ctx, resolved); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := s.GetTransfer(ctx, "t-1", "k-1")
	if err != nil {
		t.Fatalf("GetTransfer() failed: %v", err)
	}
	if got.Success == nil || *got.Success {
		t.Error("pending row should resolve to errored")
	}
}

// TestGetTransfer_NotFound tests the missing-row error.
func TestGetTransfer_NotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetTransfer(context.Background(), "nope", "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("GetTransfer() error = %v, want sql.ErrNoRows", err)
	}
}

// TestListTransfers_Filters tests the report query filters.
func TestListTransfers_Filters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	succeeded := true
	errored := false

	a := transferFixture("t-a", "k-a")
	a.CreatedAt = 1000
	a.Success = &succeeded
	b := transferFixture("t-b", "k-b")
	b.CreatedAt = 2000
	b.Success = &errored
	b.DFSP = "otherfsp"
	b.Direction = -1
	c := transferFixture("t-c", "k-c")
	c.CreatedAt = 3000

	for _, row := range []*model.TransferRow{a, b, c} {
		if err := s.InsertTransfer(ctx, row); err != nil {
			t.Fatalf("insert %s failed: %v", row.ID, err)
		}
	}

	all, err := s.ListTransfers(ctx, TransferFilter{})
	if err != nil {
		t.Fatalf("ListTransfers() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	// Newest first.
	if all[0].ID != "t-c" || all[2].ID != "t-a" {
		t.Errorf("order = [%s %s %s], want newest first", all[0].ID, all[1].ID, all[2].ID)
	}

	tests := []struct {
		name   string
		filter TransferFilter
		want   []string
	}{
		{"since", TransferFilter{Since: 2000}, []string{"t-c", "t-b"}},
		{"until", TransferFilter{Until: 1500}, []string{"t-a"}},
		{"pending", TransferFilter{Status: "pending"}, []string{"t-c"}},
		{"succeeded", TransferFilter{Status: "succeeded"}, []string{"t-a"}},
		{"errored", TransferFilter{Status: "errored"}, []string{"t-b"}},
		{"institution", TransferFilter{Institution: "otherfsp"}, []string{"t-b"}},
		{"id substring", TransferFilter{IDLike: "-b"}, []string{"t-b"}},
		{"inbound", TransferFilter{Direction: -1}, []string{"t-b"}},
		{"limit", TransferFilter{Limit: 2}, []string{"t-c", "t-b"}},
		{"page two", TransferFilter{Limit: 2, Offset: 2}, []string{"t-a"}},
		{"offset without limit", TransferFilter{Offset: 1}, []string{"t-b", "t-a"}},
	}

	for _, tc := range tests {
		rows, err := s.ListTransfers(ctx, tc.filter)
		if err != nil {
			t.Fatalf("%s: ListTransfers() failed: %v", tc.name, err)
		}
		var got []string
		for _, r := range rows {
			got = append(got, r.ID)
		}
		if len(got) != len(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
				break
			}
		}
	}
}

// TestSummarizeTransfers tests the aggregate report query.
func TestSummarizeTransfers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	succeeded := true
	errored := false

	a := transferFixture("t-a", "k-a")
	a.CreatedAt = 1000
	a.Success = &succeeded
	done := int64(1600)
	a.CompletedAt = &done
	b := transferFixture("t-b", "k-b")
	b.CreatedAt = 2000
	b.Success = &errored
	c := transferFixture("t-c", "k-c")
	c.CreatedAt = 3000

	for _, row := range []*model.TransferRow{a, b, c} {
		if err := s.InsertTransfer(ctx, row); err != nil {
			t.Fatalf("insert %s failed: %v", row.ID, err)
		}
	}

	sum, err := s.SummarizeTransfers(ctx, 0, 0)
	if err != nil {
		t.Fatalf("SummarizeTransfers() failed: %v", err)
	}
	if sum.Total != 3 || sum.Succeeded != 1 || sum.Errored != 1 || sum.Pending != 1 {
		t.Errorf("summary = %+v, want total=3 succeeded=1 errored=1 pending=1", sum)
	}
	if sum.AvgCompletionMillis != 600 {
		t.Errorf("AvgCompletionMillis = %v, want 600", sum.AvgCompletionMillis)
	}

	sum, err = s.SummarizeTransfers(ctx, 2500, 0)
	if err != nil {
		t.Fatalf("SummarizeTransfers() failed: %v", err)
	}
	if sum.Total != 1 || sum.Pending != 1 {
		t.Errorf("bounded summary = %+v, want total=1 pending=1", sum)
	}
}

// TestSumAmountsByCurrency tests the per-currency volume aggregate.
func TestSumAmountsByCurrency(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := transferFixture("t-a", "k-a")
	a.Amount, a.Currency = "100", "USD"
	b := transferFixture("t-b", "k-b")
	b.Amount, b.Currency = "25.50", "USD"
	c := transferFixture("t-c", "k-c")
	c.Amount, c.Currency = "40", "EUR"
	d := transferFixture("t-d", "k-d")
	d.Amount, d.Currency = "", ""

	for _, row := range []*model.TransferRow{a, b, c, d} {
		if err := s.InsertTransfer(ctx, row); err != nil {
			t.Fatalf("insert %s failed: %v", row.ID, err)
		}
	}

	totals, err := s.SumAmountsByCurrency(ctx, 0, 0)
	if err != nil {
		t.Fatalf("SumAmountsByCurrency() failed: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("len(totals) = %d, want 2 (currencyless rows excluded)", len(totals))
	}
	if totals[0].Currency != "EUR" || totals[0].Total != 40 || totals[0].Count != 1 {
		t.Errorf("EUR total = %+v, want 40 over 1 transfer", totals[0])
	}
	if totals[1].Currency != "USD" || totals[1].Total != 125.5 || totals[1].Count != 2 {
		t.Errorf("USD total = %+v, want 125.50 over 2 transfers", totals[1])
	}
}

// TestListTransferKeys tests the state-rebuild listing.
func TestListTransferKeys(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	succeeded := true
	row := transferFixture("t-1", "k-1")
	row.Success = &succeeded
	if err := s.InsertTransfer(ctx, row); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := s.InsertTransfer(ctx, transferFixture("t-2", "k-2")); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	keys, err := s.ListTransferKeys(ctx)
	if err != nil {
		t.Fatalf("ListTransferKeys() failed: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("len(keys) = %d, want 2", len(keys))
	}

	byID := map[string]TransferKey{}
	for _, k := range keys {
		byID[k.ID] = k
	}
	if k := byID["t-1"]; k.Success == nil || !*k.Success {
		t.Error("t-1 should carry its resolved outcome")
	}
	if k := byID["t-2"]; k.Success != nil {
		t.Error("t-2 should be pending")
	}
}

// TestIsUniqueViolation_OtherErrors tests that unrelated errors are not
// misread as duplicates.
func TestIsUniqueViolation_OtherErrors(t *testing.T) {
	if IsUniqueViolation(nil) {
		t.Error("nil is not a unique violation")
	}
	if IsUniqueViolation(errors.New("no such table: transfer")) {
		t.Error("unrelated error misclassified as unique violation")
	}
}
