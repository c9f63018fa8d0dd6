// Package model provides the data structures for cache documents and the
// relational rows projected from them.
//
// A cache document is a JSON aggregate written incrementally by the external
// transfer-processing engine as a transfer (or FX conversion) moves through
// its lifecycle. Inbound and outbound documents have disjoint field layouts,
// so parsing produces a tagged Document with exactly one of the Inbound or
// Outbound payloads populated, decided once at parse time.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Direction discriminates the two document shapes.
type Direction string

const (
	// DirectionOutbound marks a transfer initiated by this institution.
	DirectionOutbound Direction = "OUTBOUND"
	// DirectionInbound marks a transfer received from a counterparty.
	DirectionInbound Direction = "INBOUND"
)

// Sign returns the signed integer stored in the direction column:
// +1 for outbound, -1 for inbound.
func (d Direction) Sign() int {
	if d == DirectionInbound {
		return -1
	}
	return 1
}

// Outbound lifecycle states that resolve the success tri-state.
const (
	OutboundStateSucceeded = "succeeded"
	OutboundStateErrored   = "errored"
)

// Inbound lifecycle states that resolve the success tri-state.
const (
	InboundStateCompleted = "COMPLETED"
	InboundStateError     = "ERROR_OCCURRED"
	InboundStateAborted   = "ABORTED"
)

// Party is the party representation used by outbound documents.
type Party struct {
	DisplayName         string   `json:"displayName,omitempty"`
	FirstName           string   `json:"firstName,omitempty"`
	MiddleName          string   `json:"middleName,omitempty"`
	LastName            string   `json:"lastName,omitempty"`
	IDType              string   `json:"idType,omitempty"`
	IDValue             string   `json:"idValue,omitempty"`
	IDSubValue          string   `json:"idSubValue,omitempty"`
	FspID               string   `json:"fspId,omitempty"`
	SupportedCurrencies []string `json:"supportedCurrencies,omitempty"`
}

// Name returns the party display name. An explicit displayName wins;
// otherwise the first/middle/last parts are joined with single spaces,
// empty parts omitted.
func (p *Party) Name() string {
	if p == nil {
		return ""
	}
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return joinNameParts(p.FirstName, p.MiddleName, p.LastName)
}

// PartyIDInfo is the party identifier block used by quote-request parties.
type PartyIDInfo struct {
	PartyIDType     string `json:"partyIdType,omitempty"`
	PartyIdentifier string `json:"partyIdentifier,omitempty"`
	PartySubIDType  string `json:"partySubIdOrType,omitempty"`
	FspID           string `json:"fspId,omitempty"`
}

// ComplexName carries the split name parts of a quote-request party.
type ComplexName struct {
	FirstName  string `json:"firstName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
}

// PersonalInfo wraps the name information of a quote-request party.
type PersonalInfo struct {
	ComplexName ComplexName `json:"complexName"`
}

// QuoteParty is the party representation used by inbound quote requests.
type QuoteParty struct {
	PartyIDInfo  PartyIDInfo  `json:"partyIdInfo"`
	PersonalInfo PersonalInfo `json:"personalInfo"`
	// Name is the optional pre-assembled display name.
	Name string `json:"name,omitempty"`
}

// DisplayName resolves the party name with the same precedence rule as
// Party.Name: explicit name first, then joined complex-name parts.
func (q *QuoteParty) DisplayName() string {
	if q == nil {
		return ""
	}
	if q.Name != "" {
		return q.Name
	}
	cn := q.PersonalInfo.ComplexName
	return joinNameParts(cn.FirstName, cn.MiddleName, cn.LastName)
}

func joinNameParts(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, " ")
}

// Money is an amount/currency pair as carried on the wire.
type Money struct {
	Amount   string `json:"amount,omitempty"`
	Currency string `json:"currency,omitempty"`
}

// QuoteRequest is the quote request sub-document of inbound transfers.
type QuoteRequest struct {
	Body struct {
		TransactionID string     `json:"transactionId,omitempty"`
		Payer         QuoteParty `json:"payer"`
		Payee         QuoteParty `json:"payee"`
		Amount        Money      `json:"amount"`
		Expiration    string     `json:"expiration,omitempty"`
		Note          string     `json:"note,omitempty"`
	} `json:"body"`
}

// Fulfil is the completion sub-document. Its presence is what turns a
// pending row into one with a completed_at timestamp.
type Fulfil struct {
	Body struct {
		TransferState      string `json:"transferState,omitempty"`
		Fulfilment         string `json:"fulfilment,omitempty"`
		CompletedTimestamp string `json:"completedTimestamp,omitempty"`
	} `json:"body"`
}

// ConversionTerms are the negotiated terms of a currency conversion.
type ConversionTerms struct {
	ConversionID          string `json:"conversionId,omitempty"`
	DeterminingTransferID string `json:"determiningTransferId,omitempty"`
	InitiatingFsp         string `json:"initiatingFsp,omitempty"`
	CounterPartyFsp       string `json:"counterPartyFsp,omitempty"`
	AmountType            string `json:"amountType,omitempty"`
	SourceAmount          Money  `json:"sourceAmount"`
	TargetAmount          Money  `json:"targetAmount"`
	Expiration            string `json:"expiration,omitempty"`
}

// FxQuoteRequest is the FX quote request sub-document.
type FxQuoteRequest struct {
	Body struct {
		ConversionRequestID string          `json:"conversionRequestId,omitempty"`
		ConversionTerms     ConversionTerms `json:"conversionTerms"`
	} `json:"body"`
}

// FxQuoteResponse is the FX quote response sub-document.
type FxQuoteResponse struct {
	Body struct {
		Condition       string          `json:"condition,omitempty"`
		ConversionTerms ConversionTerms `json:"conversionTerms"`
	} `json:"body"`
}

// FxTransferRequest is the conversion settlement request. Outbound documents
// carry it as fxTransferRequest, inbound documents as fxPrepare.
type FxTransferRequest struct {
	Body struct {
		CommitRequestID       string `json:"commitRequestId,omitempty"`
		DeterminingTransferID string `json:"determiningTransferId,omitempty"`
		InitiatingFsp         string `json:"initiatingFsp,omitempty"`
		CounterPartyFsp       string `json:"counterPartyFsp,omitempty"`
		SourceAmount          Money  `json:"sourceAmount"`
		TargetAmount          Money  `json:"targetAmount"`
		Condition             string `json:"condition,omitempty"`
		Expiration            string `json:"expiration,omitempty"`
	} `json:"body"`
}

// FxTransferResponse is the conversion settlement response.
type FxTransferResponse struct {
	Body struct {
		ConversionState    string `json:"conversionState,omitempty"`
		Fulfilment         string `json:"fulfilment,omitempty"`
		CompletedTimestamp string `json:"completedTimestamp,omitempty"`
	} `json:"body"`
}

// FXSection groups the currency-conversion sub-structures a document may
// carry. Any of these may be nil; a transfer without conversion legs simply
// has an empty section.
type FXSection struct {
	QuoteRequest     *FxQuoteRequest
	QuoteResponse    *FxQuoteResponse
	TransferRequest  *FxTransferRequest
	TransferResponse *FxTransferResponse
}

// Empty reports whether the document carried no FX sub-structures at all.
func (fx *FXSection) Empty() bool {
	return fx.QuoteRequest == nil && fx.QuoteResponse == nil &&
		fx.TransferRequest == nil && fx.TransferResponse == nil
}

// OutboundTransfer carries the fields valid only for outbound documents.
type OutboundTransfer struct {
	TransferID string
	From       *Party
	To         *Party
	Amount     string
	Currency   string
	Note       string
}

// InboundTransfer carries the fields valid only for inbound documents.
// Party and amount information lives inside the quote request.
type InboundTransfer struct {
	TransferID   string
	QuoteRequest *QuoteRequest
}

// Document is the parsed form of one cache document. Exactly one of
// Outbound or Inbound is non-nil, chosen by the direction discriminator.
type Document struct {
	Direction    Direction
	CurrentState string
	Outbound     *OutboundTransfer
	Inbound      *InboundTransfer
	Fulfil       *Fulfil
	FX           FXSection

	initiatedTimestamp string
}

// envelope mirrors the raw wire layout before the direction split.
type envelope struct {
	Direction          string              `json:"direction"`
	CurrentState       string              `json:"currentState"`
	TransferID         string              `json:"transferId"`
	From               *Party              `json:"from"`
	To                 *Party              `json:"to"`
	Amount             string              `json:"amount"`
	Currency           string              `json:"currency"`
	Note               string              `json:"note"`
	InitiatedTimestamp string              `json:"initiatedTimestamp"`
	QuoteRequest       *QuoteRequest       `json:"quoteRequest"`
	Fulfil             *Fulfil             `json:"fulfil"`
	FxQuoteRequest     *FxQuoteRequest     `json:"fxQuoteRequest"`
	FxQuoteResponse    *FxQuoteResponse    `json:"fxQuoteResponse"`
	FxPrepare          *FxTransferRequest  `json:"fxPrepare"`
	FxTransferRequest  *FxTransferRequest  `json:"fxTransferRequest"`
	FxTransferResponse *FxTransferResponse `json:"fxTransferResponse"`
}

// ParseDocument decodes one raw cache document into its tagged form.
//
// The direction discriminator decides which payload is populated. Documents
// without a recognizable direction default to outbound, matching the engine
// that writes them (it only omits the field on the initiating side).
func ParseDocument(raw string) (*Document, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("failed to decode cache document: %w", err)
	}

	doc := &Document{
		CurrentState:       env.CurrentState,
		Fulfil:             env.Fulfil,
		initiatedTimestamp: env.InitiatedTimestamp,
		FX: FXSection{
			QuoteRequest:     env.FxQuoteRequest,
			QuoteResponse:    env.FxQuoteResponse,
			TransferRequest:  env.FxTransferRequest,
			TransferResponse: env.FxTransferResponse,
		},
	}
	// Inbound documents name the settlement request fxPrepare.
	if doc.FX.TransferRequest == nil {
		doc.FX.TransferRequest = env.FxPrepare
	}

	switch Direction(env.Direction) {
	case DirectionInbound:
		doc.Direction = DirectionInbound
		doc.Inbound = &InboundTransfer{
			TransferID:   env.TransferID,
			QuoteRequest: env.QuoteRequest,
		}
	default:
		doc.Direction = DirectionOutbound
		doc.Outbound = &OutboundTransfer{
			TransferID: env.TransferID,
			From:       env.From,
			To:         env.To,
			Amount:     env.Amount,
			Currency:   env.Currency,
			Note:       env.Note,
		}
	}

	return doc, nil
}

// Success resolves the tri-state outcome from the lifecycle state using the
// direction-specific mapping. nil means the transfer is still pending.
func (d *Document) Success() *bool {
	var v bool
	switch d.Direction {
	case DirectionOutbound:
		switch d.CurrentState {
		case OutboundStateSucceeded:
			v = true
		case OutboundStateErrored:
			v = false
		default:
			return nil
		}
	case DirectionInbound:
		switch d.CurrentState {
		case InboundStateCompleted:
			v = true
		case InboundStateError, InboundStateAborted:
			v = false
		default:
			return nil
		}
	default:
		return nil
	}
	return &v
}

// CreatedAt returns the document's initiation time as epoch milliseconds,
// or 0 when the document does not carry a parseable timestamp.
func (d *Document) CreatedAt() int64 {
	return parseTimestampMillis(d.initiatedTimestamp)
}

// CompletedAt returns the completion time as epoch milliseconds, or nil
// while no completion sub-document has been observed.
func (d *Document) CompletedAt() *int64 {
	var ts string
	if d.Fulfil != nil && d.Fulfil.Body.CompletedTimestamp != "" {
		ts = d.Fulfil.Body.CompletedTimestamp
	} else if d.FX.TransferResponse != nil && d.FX.TransferResponse.Body.CompletedTimestamp != "" {
		ts = d.FX.TransferResponse.Body.CompletedTimestamp
	}
	if ts == "" {
		return nil
	}
	ms := parseTimestampMillis(ts)
	if ms == 0 {
		return nil
	}
	return &ms
}

// parseTimestampMillis accepts the RFC3339 timestamps the processing engine
// writes, with or without sub-second precision.
func parseTimestampMillis(s string) int64 {
	if s == "" {
		return 0
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UnixMilli()
		}
	}
	return 0
}
