package projector

import (
	"errors"
	"reflect"
	"testing"
)

// outboundCompleteDoc is a full outbound transfer with embedded conversion
// legs, as the processing engine writes it after the fulfil stage.
const outboundCompleteDoc = `{
	"direction": "OUTBOUND",
	"transferId": "tr-1",
	"currentState": "succeeded",
	"initiatedTimestamp": "2025-03-10T12:00:00Z",
	"from": {
		"displayName": "Ada Lovelace",
		"idType": "MSISDN",
		"idValue": "16135551000",
		"fspId": "payerfsp",
		"supportedCurrencies": ["USD", "EUR"]
	},
	"to": {
		"firstName": "Grace",
		"lastName": "Hopper",
		"idType": "MSISDN",
		"idValue": "16135552000",
		"fspId": "payeefsp"
	},
	"amount": "100",
	"currency": "USD",
	"note": "rent",
	"fulfil": {"body": {"transferState": "COMMITTED", "completedTimestamp": "2025-03-10T12:00:05Z"}},
	"fxQuoteRequest": {"body": {
		"conversionRequestId": "crq-1",
		"conversionTerms": {
			"conversionId": "cnv-1",
			"determiningTransferId": "tr-1",
			"initiatingFsp": "payerfsp",
			"counterPartyFsp": "fxp",
			"amountType": "SEND",
			"sourceAmount": {"amount": "100", "currency": "USD"},
			"targetAmount": {"amount": "92", "currency": "EUR"}
		}
	}},
	"fxQuoteResponse": {"body": {
		"condition": "abc123",
		"conversionTerms": {
			"conversionId": "cnv-1",
			"targetAmount": {"amount": "91.80", "currency": "EUR"}
		}
	}},
	"fxTransferRequest": {"body": {
		"commitRequestId": "cmt-1",
		"determiningTransferId": "tr-1",
		"initiatingFsp": "payerfsp",
		"counterPartyFsp": "fxp",
		"sourceAmount": {"amount": "100", "currency": "USD"},
		"targetAmount": {"amount": "91.80", "currency": "EUR"},
		"condition": "abc123"
	}},
	"fxTransferResponse": {"body": {
		"conversionState": "COMMITTED",
		"fulfilment": "xyz789",
		"completedTimestamp": "2025-03-10T12:00:04Z"
	}}
}`

// TestProject_OutboundComplete tests that a full outbound document with
// conversion legs yields all three correlated rows.
func TestProject_OutboundComplete(t *testing.T) {
	key := "transferModel_out_tr-1"
	proj, err := Project(key, outboundCompleteDoc)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}

	tr := proj.Transfer
	if tr == nil {
		t.Fatal("Transfer row is nil")
	}
	if tr.ID != "tr-1" {
		t.Errorf("ID = %q, want tr-1", tr.ID)
	}
	if tr.RedisKey != key {
		t.Errorf("RedisKey = %q, want %q", tr.RedisKey, key)
	}
	if tr.Success == nil || !*tr.Success {
		t.Error("Success should be true for succeeded state")
	}
	if tr.Direction != 1 {
		t.Errorf("Direction = %d, want 1", tr.Direction)
	}
	if tr.SenderName != "Ada Lovelace" {
		t.Errorf("SenderName = %q, want Ada Lovelace", tr.SenderName)
	}
	if tr.RecipientName != "Grace Hopper" {
		t.Errorf("RecipientName = %q, want Grace Hopper", tr.RecipientName)
	}
	if tr.DFSP != "payeefsp" {
		t.Errorf("DFSP = %q, want payeefsp", tr.DFSP)
	}
	if tr.SupportedCurrencies != "USD,EUR" {
		t.Errorf("SupportedCurrencies = %q, want USD,EUR", tr.SupportedCurrencies)
	}
	if tr.CompletedAt == nil {
		t.Error("CompletedAt should be set from the fulfil timestamp")
	}
	if tr.Raw != outboundCompleteDoc {
		t.Error("Raw should carry the source document verbatim")
	}

	fq := proj.FxQuote
	if fq == nil {
		t.Fatal("FxQuote row is nil")
	}
	if fq.ConversionRequestID != "crq-1" || fq.ConversionID != "cnv-1" {
		t.Errorf("quote identity = (%q, %q), want (crq-1, cnv-1)", fq.ConversionRequestID, fq.ConversionID)
	}
	// Response terms override request terms where present.
	if fq.TargetAmount != "91.80" {
		t.Errorf("TargetAmount = %q, want response value 91.80", fq.TargetAmount)
	}
	// Fields the response omits keep the request values.
	if fq.SourceAmount != "100" || fq.AmountType != "SEND" {
		t.Errorf("request terms lost: source=%q amountType=%q", fq.SourceAmount, fq.AmountType)
	}
	if fq.Condition != "abc123" {
		t.Errorf("Condition = %q, want abc123", fq.Condition)
	}

	ft := proj.FxTransfer
	if ft == nil {
		t.Fatal("FxTransfer row is nil")
	}
	if ft.CommitRequestID != "cmt-1" {
		t.Errorf("CommitRequestID = %q, want cmt-1", ft.CommitRequestID)
	}
	if ft.ConversionState != "COMMITTED" || ft.Fulfilment != "xyz789" {
		t.Errorf("response fields = (%q, %q), want (COMMITTED, xyz789)", ft.ConversionState, ft.Fulfilment)
	}

	// All three rows correlate through the shared cache key.
	if fq.RedisKey != key || ft.RedisKey != key {
		t.Errorf("rows disagree on cache key: quote=%q transfer=%q", fq.RedisKey, ft.RedisKey)
	}
}

// TestProject_InboundQuoteRequest tests party and amount extraction from
// the quote request of an inbound document.
func TestProject_InboundQuoteRequest(t *testing.T) {
	raw := `{
		"direction": "INBOUND",
		"currentState": "QUOTE_REQUEST_RECEIVED",
		"quoteRequest": {"body": {
			"transactionId": "tx-9",
			"payer": {
				"partyIdInfo": {"partyIdType": "MSISDN", "partyIdentifier": "447700900001", "fspId": "remotefsp"},
				"personalInfo": {"complexName": {"firstName": "Jean", "lastName": "Valjean"}}
			},
			"payee": {
				"name": "Cosette F.",
				"partyIdInfo": {"partyIdType": "MSISDN", "partyIdentifier": "447700900002"}
			},
			"amount": {"amount": "55", "currency": "GBP"},
			"note": "allowance"
		}}
	}`

	proj, err := Project("transferModel_in_tx-9", raw)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}

	tr := proj.Transfer
	if tr == nil {
		t.Fatal("Transfer row is nil")
	}
	if tr.ID != "tx-9" {
		t.Errorf("ID = %q, want transactionId fallback tx-9", tr.ID)
	}
	if tr.Direction != -1 {
		t.Errorf("Direction = %d, want -1", tr.Direction)
	}
	if tr.Success != nil {
		t.Error("Success should be nil for a non-terminal inbound state")
	}
	if tr.SenderName != "Jean Valjean" {
		t.Errorf("SenderName = %q, want Jean Valjean", tr.SenderName)
	}
	if tr.RecipientName != "Cosette F." {
		t.Errorf("RecipientName = %q, want explicit name Cosette F.", tr.RecipientName)
	}
	if tr.Amount != "55" || tr.Currency != "GBP" {
		t.Errorf("amount = (%q, %q), want (55, GBP)", tr.Amount, tr.Currency)
	}
	if tr.DFSP != "remotefsp" {
		t.Errorf("DFSP = %q, want payer fsp remotefsp", tr.DFSP)
	}
	if tr.Details != "allowance" {
		t.Errorf("Details = %q, want allowance", tr.Details)
	}
}

// TestProject_PartialDocument tests partial-document tolerance: early
// lifecycle stages project whatever is identifiable so far.
func TestProject_PartialDocument(t *testing.T) {
	raw := `{"direction": "OUTBOUND", "transferId": "tr-2", "currentState": "start"}`
	proj, err := Project("transferModel_out_tr-2", raw)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}

	if proj.Transfer == nil {
		t.Fatal("identifiable partial document should still project a transfer row")
	}
	if proj.Transfer.Success != nil {
		t.Error("Success should be nil for a pending document")
	}
	if proj.FxQuote != nil || proj.FxTransfer != nil {
		t.Error("document without conversion legs should project no FX rows")
	}
}

// TestProject_UnidentifiableDocument tests that a document without any
// transfer id projects nothing rather than a junk row.
func TestProject_UnidentifiableDocument(t *testing.T) {
	proj, err := Project("transferModel_out_x", `{"direction": "OUTBOUND", "currentState": "start"}`)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}
	if !proj.Empty() {
		t.Error("unidentifiable document should project no rows")
	}
}

// TestProject_Malformed tests the malformed-document sentinel.
func TestProject_Malformed(t *testing.T) {
	_, err := Project("transferModel_out_bad", `{"transferId"`)
	if err == nil {
		t.Fatal("Project() should fail on malformed JSON")
	}
	if !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("error = %v, want ErrMalformedDocument", err)
	}
}

// TestProject_FxQuoteInKey tests that fxQuote_in_ documents project FX rows
// only, never a transfer row.
func TestProject_FxQuoteInKey(t *testing.T) {
	raw := `{
		"direction": "INBOUND",
		"transferId": "tr-ignored",
		"currentState": "COMPLETED",
		"fxQuoteRequest": {"body": {
			"conversionRequestId": "crq-7",
			"conversionTerms": {"conversionId": "cnv-7", "sourceAmount": {"amount": "10", "currency": "ZMW"}}
		}}
	}`

	proj, err := Project("fxQuote_in_crq-7", raw)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}
	if proj.Transfer != nil {
		t.Error("fxQuote_in_ keys must not project transfer rows")
	}
	if proj.FxQuote == nil {
		t.Fatal("FxQuote row is nil")
	}
	if proj.FxQuote.ConversionRequestID != "crq-7" {
		t.Errorf("ConversionRequestID = %q, want crq-7", proj.FxQuote.ConversionRequestID)
	}
	if proj.FxQuote.Success == nil || !*proj.FxQuote.Success {
		t.Error("quote Success should carry the document outcome")
	}
}

// TestProject_FxQuoteWithoutIdentity tests that conversion legs missing
// both identifiers yield no quote row.
func TestProject_FxQuoteWithoutIdentity(t *testing.T) {
	raw := `{"fxQuoteRequest": {"body": {"conversionTerms": {"sourceAmount": {"amount": "1"}}}}}`
	proj, err := Project("fxQuote_in_x", raw)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}
	if proj.FxQuote != nil {
		t.Error("quote without identifiers should not project")
	}
}

// TestProject_InboundFxPrepare tests conversion settlement projection from
// the inbound fxPrepare leg, with fulfilment taken from the plain fulfil.
func TestProject_InboundFxPrepare(t *testing.T) {
	raw := `{
		"direction": "INBOUND",
		"transferId": "tr-8",
		"currentState": "COMPLETED",
		"quoteRequest": {"body": {"transactionId": "tr-8"}},
		"fxPrepare": {"body": {
			"commitRequestId": "cmt-8",
			"determiningTransferId": "tr-8",
			"sourceAmount": {"amount": "20", "currency": "USD"},
			"targetAmount": {"amount": "18", "currency": "EUR"}
		}},
		"fulfil": {"body": {"fulfilment": "ff-8", "completedTimestamp": "2025-03-10T12:00:06Z"}}
	}`

	proj, err := Project("transferModel_in_tr-8", raw)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}
	ft := proj.FxTransfer
	if ft == nil {
		t.Fatal("FxTransfer row is nil")
	}
	if ft.CommitRequestID != "cmt-8" {
		t.Errorf("CommitRequestID = %q, want cmt-8", ft.CommitRequestID)
	}
	if ft.Fulfilment != "ff-8" {
		t.Errorf("Fulfilment = %q, want fulfil fallback ff-8", ft.Fulfilment)
	}
	if ft.Direction != -1 {
		t.Errorf("Direction = %d, want -1", ft.Direction)
	}
	if ft.CompletedTimestamp == nil {
		t.Error("CompletedTimestamp should come from the fulfil leg")
	}
}

// TestProject_Deterministic tests that projection is pure: the same input
// always yields the same rows.
func TestProject_Deterministic(t *testing.T) {
	key := "transferModel_out_tr-1"
	first, err := Project(key, outboundCompleteDoc)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}
	second, err := Project(key, outboundCompleteDoc)
	if err != nil {
		t.Fatalf("Project() failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("rows differ across identical projections")
	}
}
