package model

import "strings"

// TransferRow is the relational projection of one transfer document.
// One row exists per (id, redis_key) pair; the pair disambiguates the
// inbound and outbound legs of the same end-to-end transfer.
type TransferRow struct {
	ID       string
	RedisKey string

	// Success is the tri-state outcome: true fulfilled, false errored,
	// nil still pending. Once non-nil it never regresses.
	Success *bool

	// Direction is +1 for outbound, -1 for inbound.
	Direction int

	SenderName          string
	SenderIDType        string
	SenderIDSubValue    string
	SenderIDValue       string
	RecipientName       string
	RecipientIDType     string
	RecipientIDSubValue string
	RecipientIDValue    string

	Amount   string
	Currency string
	// DFSP is the counterparty institution.
	DFSP    string
	Details string
	// SupportedCurrencies is a comma-joined list, empty when unknown.
	SupportedCurrencies string

	// CreatedAt and CompletedAt are epoch milliseconds; CompletedAt is nil
	// until a completion event has been observed.
	CreatedAt   int64
	CompletedAt *int64

	// Raw is the full serialized source document, kept so detail views can
	// render without a second cache fetch.
	Raw string
}

// FxQuoteRow is the relational projection of one currency-conversion quote.
type FxQuoteRow struct {
	ConversionRequestID   string
	ConversionID          string
	RedisKey              string
	DeterminingTransferID string
	InitiatingFsp         string
	CounterPartyFsp       string
	AmountType            string
	SourceAmount          string
	SourceCurrency        string
	TargetAmount          string
	TargetCurrency        string
	Expiration            string
	Condition             string
	Direction             int
	Success               *bool
	CreatedAt             int64
	CompletedAt           *int64
	Raw                   string
}

// FxTransferRow is the relational projection of one conversion settlement,
// correlated to its quote by redis_key.
type FxTransferRow struct {
	RedisKey              string
	CommitRequestID       string
	DeterminingTransferID string
	InitiatingFsp         string
	CounterPartyFsp       string
	SourceAmount          string
	SourceCurrency        string
	TargetAmount          string
	TargetCurrency        string
	Condition             string
	Expiration            string
	ConversionState       string
	Fulfilment            string
	Direction             int
	CreatedAt             int64
	CompletedTimestamp    *int64
}

// JoinCurrencies serializes a supported-currencies list for storage.
func JoinCurrencies(currencies []string) string {
	return strings.Join(currencies, ",")
}
