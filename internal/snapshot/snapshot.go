// Package snapshot holds the point-in-time copies of customer and company
// details printed on receipts and invoices. They are written once with the
// document and never refreshed.
package snapshot

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyledger/internal/config"
)

type Customer struct {
	CustomerID *snowflake.ID `gorm:"column:customer_id" json:"customer_id,omitempty"`
	Name       string        `gorm:"column:customer_name;type:text;not null" json:"name"`
	Phone      string        `gorm:"column:customer_phone;type:varchar(32);not null;default:''" json:"phone"`
}

func (c Customer) Normalize() Customer {
	out := Customer{
		Name:  strings.TrimSpace(c.Name),
		Phone: strings.TrimSpace(c.Phone),
	}
	if c.CustomerID != nil && *c.CustomerID != 0 {
		id := *c.CustomerID
		out.CustomerID = &id
	}
	return out
}

func (c Customer) Valid() bool {
	return strings.TrimSpace(c.Name) != ""
}

type Company struct {
	Name    string `gorm:"column:company_name;type:text;not null" json:"name"`
	Address string `gorm:"column:company_address;type:text;not null;default:''" json:"address"`
	Phone   string `gorm:"column:company_phone;type:varchar(32);not null;default:''" json:"phone"`
	Email   string `gorm:"column:company_email;type:text;not null;default:''" json:"email"`
	TaxID   string `gorm:"column:company_tax_id;type:varchar(64);not null;default:''" json:"tax_id"`
}

// CompanyFrom copies the current company profile.
func CompanyFrom(p config.CompanyProfile) Company {
	return Company{
		Name:    p.Name,
		Address: p.Address,
		Phone:   p.Phone,
		Email:   p.Email,
		TaxID:   p.TaxID,
	}
}
