package domain

import (
	"fmt"
	"time"
)

type DocumentType string

const (
	DocumentTypeTransaction DocumentType = "transaction"
	DocumentTypeReceipt     DocumentType = "receipt"
	DocumentTypeInvoice     DocumentType = "invoice"
)

const (
	PrefixTransaction = "TRX"
	PrefixReceipt     = "REC"
)

// DocumentCounter is the per-scope sequence row behind increment-and-fetch.
// Scope is "<type>:<period>" for daily sequences and "<type>:<prefix>" for
// running invoice sequences.
type DocumentCounter struct {
	Scope     string    `gorm:"primaryKey;type:varchar(64)"`
	LastValue int64     `gorm:"not null;default:0"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (DocumentCounter) TableName() string { return "document_counters" }

// Sequence describes one numbering stream.
type Sequence struct {
	Type   DocumentType
	Prefix string
	// Period is YYYYMMDD for daily sequences, empty for running ones.
	Period string
}

// Daily builds a PREFIX-YYYYMMDD-NNN sequence for the calendar day of at in loc.
func Daily(docType DocumentType, prefix string, at time.Time, loc *time.Location) Sequence {
	if loc == nil {
		loc = time.UTC
	}
	return Sequence{Type: docType, Prefix: prefix, Period: at.In(loc).Format("20060102")}
}

// Running builds a PREFIX<N> sequence.
func Running(docType DocumentType, prefix string) Sequence {
	return Sequence{Type: docType, Prefix: prefix}
}

func (s Sequence) Scope() string {
	if s.Period != "" {
		return fmt.Sprintf("%s:%s", s.Type, s.Period)
	}
	return fmt.Sprintf("%s:%s", s.Type, s.Prefix)
}

func (s Sequence) Format(value int64) string {
	if s.Period != "" {
		return fmt.Sprintf("%s-%s-%03d", s.Prefix, s.Period, value)
	}
	return fmt.Sprintf("%s%d", s.Prefix, value)
}
