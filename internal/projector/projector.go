// Package projector derives relational rows from raw cache documents.
//
// Projection is pure: it performs no I/O and never mutates shared state, so
// the sync engine can re-run it for any key at any time and get the same
// rows. A single document can yield up to three rows (transfer, fx quote,
// fx transfer), all sharing the originating cache key.
package projector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjordpay/cachesync/internal/model"
)

// Cache key prefixes understood by the projector. New prefixes extend the
// scheduler's pattern list without touching the projection rules.
const (
	KeyPrefixTransfer  = "transferModel_"
	KeyPrefixFxQuoteIn = "fxQuote_in_"
)

// ErrMalformedDocument marks a document that could not be decoded. The
// caller logs it and moves on; it must never abort a scan.
var ErrMalformedDocument = errors.New("malformed cache document")

// Projection holds the rows derived from one document. Any of the three
// may be nil: a pending transfer without conversion legs projects only a
// transfer row, and an fxQuote_in_ document projects no transfer row at all.
type Projection struct {
	Transfer   *model.TransferRow
	FxQuote    *model.FxQuoteRow
	FxTransfer *model.FxTransferRow
}

// Empty reports whether the document produced no rows.
func (p *Projection) Empty() bool {
	return p.Transfer == nil && p.FxQuote == nil && p.FxTransfer == nil
}

// Project parses one raw cache document and derives its relational rows.
//
// fxQuote_in_ keys carry standalone FX conversion documents and project only
// the FX rows. Every other key family is treated as a transfer lifecycle
// document, which may additionally embed FX sub-structures.
func Project(key, raw string) (*Projection, error) {
	doc, err := model.ParseDocument(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: key %s: %v", ErrMalformedDocument, key, err)
	}

	p := &Projection{
		FxQuote:    fxQuoteRow(key, doc, raw),
		FxTransfer: fxTransferRow(key, doc),
	}
	if !strings.HasPrefix(key, KeyPrefixFxQuoteIn) {
		p.Transfer = transferRow(key, doc, raw)
	}
	return p, nil
}

// transferRow builds the transfer projection, or nil when the document does
// not yet carry enough structure to identify the transfer.
func transferRow(key string, doc *model.Document, raw string) *model.TransferRow {
	row := &model.TransferRow{
		RedisKey:    key,
		Success:     doc.Success(),
		Direction:   doc.Direction.Sign(),
		CreatedAt:   doc.CreatedAt(),
		CompletedAt: doc.CompletedAt(),
		Raw:         raw,
	}

	switch {
	case doc.Outbound != nil:
		ob := doc.Outbound
		row.ID = ob.TransferID
		row.Amount = ob.Amount
		row.Currency = ob.Currency
		row.Details = ob.Note
		if ob.From != nil {
			row.SenderName = ob.From.Name()
			row.SenderIDType = ob.From.IDType
			row.SenderIDSubValue = ob.From.IDSubValue
			row.SenderIDValue = ob.From.IDValue
			row.SupportedCurrencies = model.JoinCurrencies(ob.From.SupportedCurrencies)
		}
		if ob.To != nil {
			row.RecipientName = ob.To.Name()
			row.RecipientIDType = ob.To.IDType
			row.RecipientIDSubValue = ob.To.IDSubValue
			row.RecipientIDValue = ob.To.IDValue
			row.DFSP = ob.To.FspID
			if row.SupportedCurrencies == "" {
				row.SupportedCurrencies = model.JoinCurrencies(ob.To.SupportedCurrencies)
			}
		}

	case doc.Inbound != nil:
		ib := doc.Inbound
		row.ID = ib.TransferID
		if qr := ib.QuoteRequest; qr != nil {
			if row.ID == "" {
				row.ID = qr.Body.TransactionID
			}
			payer, payee := qr.Body.Payer, qr.Body.Payee
			row.SenderName = payer.DisplayName()
			row.SenderIDType = payer.PartyIDInfo.PartyIDType
			row.SenderIDSubValue = payer.PartyIDInfo.PartySubIDType
			row.SenderIDValue = payer.PartyIDInfo.PartyIdentifier
			row.RecipientName = payee.DisplayName()
			row.RecipientIDType = payee.PartyIDInfo.PartyIDType
			row.RecipientIDSubValue = payee.PartyIDInfo.PartySubIDType
			row.RecipientIDValue = payee.PartyIDInfo.PartyIdentifier
			row.Amount = qr.Body.Amount.Amount
			row.Currency = qr.Body.Amount.Currency
			row.DFSP = payer.PartyIDInfo.FspID
			row.Details = qr.Body.Note
		}
	}

	// A transfer that cannot be identified has nothing to materialize yet.
	if row.ID == "" {
		return nil
	}
	return row
}

// fxQuoteRow builds the FX quote projection from the fxQuoteRequest and
// fxQuoteResponse sub-structures, or nil when neither is present.
func fxQuoteRow(key string, doc *model.Document, raw string) *model.FxQuoteRow {
	req, resp := doc.FX.QuoteRequest, doc.FX.QuoteResponse
	if req == nil && resp == nil {
		return nil
	}

	row := &model.FxQuoteRow{
		RedisKey:    key,
		Direction:   doc.Direction.Sign(),
		Success:     doc.Success(),
		CreatedAt:   doc.CreatedAt(),
		CompletedAt: doc.CompletedAt(),
		Raw:         raw,
	}

	if req != nil {
		row.ConversionRequestID = req.Body.ConversionRequestID
		applyConversionTerms(row, req.Body.ConversionTerms)
	}
	if resp != nil {
		// Response terms are authoritative once present.
		applyConversionTerms(row, resp.Body.ConversionTerms)
		row.Condition = resp.Body.Condition
	}

	if row.ConversionRequestID == "" && row.ConversionID == "" {
		return nil
	}
	return row
}

func applyConversionTerms(row *model.FxQuoteRow, terms model.ConversionTerms) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&row.ConversionID, terms.ConversionID)
	setIf(&row.DeterminingTransferID, terms.DeterminingTransferID)
	setIf(&row.InitiatingFsp, terms.InitiatingFsp)
	setIf(&row.CounterPartyFsp, terms.CounterPartyFsp)
	setIf(&row.AmountType, terms.AmountType)
	setIf(&row.SourceAmount, terms.SourceAmount.Amount)
	setIf(&row.SourceCurrency, terms.SourceAmount.Currency)
	setIf(&row.TargetAmount, terms.TargetAmount.Amount)
	setIf(&row.TargetCurrency, terms.TargetAmount.Currency)
	setIf(&row.Expiration, terms.Expiration)
}

// fxTransferRow builds the conversion settlement projection from the
// fxPrepare/fxTransferRequest sub-structure, or nil when it is absent or
// not yet identifiable.
func fxTransferRow(key string, doc *model.Document) *model.FxTransferRow {
	req := doc.FX.TransferRequest
	if req == nil {
		return nil
	}

	row := &model.FxTransferRow{
		RedisKey:              key,
		CommitRequestID:       req.Body.CommitRequestID,
		DeterminingTransferID: req.Body.DeterminingTransferID,
		InitiatingFsp:         req.Body.InitiatingFsp,
		CounterPartyFsp:       req.Body.CounterPartyFsp,
		SourceAmount:          req.Body.SourceAmount.Amount,
		SourceCurrency:        req.Body.SourceAmount.Currency,
		TargetAmount:          req.Body.TargetAmount.Amount,
		TargetCurrency:        req.Body.TargetAmount.Currency,
		Condition:             req.Body.Condition,
		Expiration:            req.Body.Expiration,
		Direction:             doc.Direction.Sign(),
		CreatedAt:             doc.CreatedAt(),
		CompletedTimestamp:    doc.CompletedAt(),
	}

	if resp := doc.FX.TransferResponse; resp != nil {
		row.ConversionState = resp.Body.ConversionState
		row.Fulfilment = resp.Body.Fulfilment
	} else if doc.Fulfil != nil {
		// Inbound conversions complete through the plain fulfil leg.
		row.Fulfilment = doc.Fulfil.Body.Fulfilment
	}

	if row.CommitRequestID == "" {
		return nil
	}
	return row
}
