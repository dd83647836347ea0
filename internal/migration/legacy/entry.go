// Package legacy moves the pre-ledger register history into the ledger.
//
// The old system kept transactions as an array embedded in the register
// document. Before the import they are flattened into
// legacy_register_entries, one JSON payload per row, keeping the array
// position.
package legacy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	"gorm.io/datatypes"
)

// Entry is one flattened legacy register row.
type Entry struct {
	ID                  uint64         `gorm:"primaryKey;autoIncrement"`
	Position            int64          `gorm:"not null;index"`
	Payload             datatypes.JSON `gorm:"type:json;not null"`
	MigratedAt          *time.Time
	LedgerTransactionID *snowflake.ID
	CreatedAt           time.Time `gorm:"not null"`
}

func (Entry) TableName() string { return "legacy_register_entries" }

var (
	ErrInvalidPayload = errors.New("invalid_legacy_payload")
	ErrMissingRef     = errors.New("legacy_payload_missing_id")
)

// Payload is the shape of one transaction in the old embedded array.
// Amounts are decimal strings or numbers in major units.
type Payload struct {
	ID            string       `json:"id"`
	Number        string       `json:"number"`
	Type          string       `json:"type"`
	Amount        json.Number  `json:"amount"`
	Description   string       `json:"description"`
	Category      string       `json:"category"`
	PaymentMethod string       `json:"paymentMethod"`
	IsActive      *bool        `json:"isActive"`
	CreatedBy     PayloadActor `json:"createdBy"`
	CreatedAt     string       `json:"createdAt"`
	ReceiptID     string       `json:"receiptId,omitempty"`
	ReceiptNumber string       `json:"receiptNumber,omitempty"`
	InvoiceID     string       `json:"invoiceId,omitempty"`
	InvoiceNumber string       `json:"invoiceNumber,omitempty"`
}

type PayloadActor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Decode parses the stored payload into a ledger entry.
func (e Entry) Decode() (ledgerdomain.LegacyEntry, error) {
	var p Payload
	dec := json.NewDecoder(strings.NewReader(string(e.Payload)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return ledgerdomain.LegacyEntry{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return p.toLedger()
}

func (p Payload) toLedger() (ledgerdomain.LegacyEntry, error) {
	ref := strings.TrimSpace(p.ID)
	if ref == "" {
		return ledgerdomain.LegacyEntry{}, ErrMissingRef
	}

	amount, err := money.Parse(p.Amount.String())
	if err != nil {
		return ledgerdomain.LegacyEntry{}, fmt.Errorf("%w: amount %q: %v", ErrInvalidPayload, p.Amount, err)
	}

	createdAt, err := parseTime(p.CreatedAt)
	if err != nil {
		return ledgerdomain.LegacyEntry{}, fmt.Errorf("%w: createdAt %q", ErrInvalidPayload, p.CreatedAt)
	}

	doc, err := p.document()
	if err != nil {
		return ledgerdomain.LegacyEntry{}, err
	}

	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}

	return ledgerdomain.LegacyEntry{
		Ref:           ref,
		Kind:          ledgerdomain.Kind(strings.ToLower(strings.TrimSpace(p.Type))),
		Amount:        amount,
		PaymentMethod: ledgerdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(p.PaymentMethod))),
		Description:   p.Description,
		Category:      p.Category,
		Number:        p.Number,
		Document:      doc,
		Active:        active,
		ActorID:       p.CreatedBy.ID,
		ActorName:     p.CreatedBy.Name,
		CreatedAt:     createdAt,
	}, nil
}

func (p Payload) document() (ledgerdomain.DocumentRef, error) {
	switch {
	case strings.TrimSpace(p.ReceiptID) != "":
		id, err := snowflake.ParseString(strings.TrimSpace(p.ReceiptID))
		if err != nil {
			return ledgerdomain.DocumentRef{}, fmt.Errorf("%w: receiptId %q", ErrInvalidPayload, p.ReceiptID)
		}
		return ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeReceipt, ID: id, Number: p.ReceiptNumber}, nil
	case strings.TrimSpace(p.InvoiceID) != "":
		id, err := snowflake.ParseString(strings.TrimSpace(p.InvoiceID))
		if err != nil {
			return ledgerdomain.DocumentRef{}, fmt.Errorf("%w: invoiceId %q", ErrInvalidPayload, p.InvoiceID)
		}
		return ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeInvoice, ID: id, Number: p.InvoiceNumber}, nil
	default:
		return ledgerdomain.DocumentRef{Type: ledgerdomain.DocumentTypeManual}, nil
	}
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidPayload
}
