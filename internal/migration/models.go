package migration

import (
	"github.com/smallbiznis/agencyledger/internal/alerting"
	appointmentdomain "github.com/smallbiznis/agencyledger/internal/appointment/domain"
	auditdomain "github.com/smallbiznis/agencyledger/internal/audit/domain"
	customerdomain "github.com/smallbiznis/agencyledger/internal/customer/domain"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/migration/legacy"
	numberingdomain "github.com/smallbiznis/agencyledger/internal/numbering/domain"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
)

// Models lists every table the service owns, in dependency order.
func Models() []any {
	return []any{
		&ledgerdomain.CashRegister{},
		&ledgerdomain.Transaction{},
		&numberingdomain.DocumentCounter{},
		&receiptdomain.Receipt{},
		&invoicedomain.Invoice{},
		&invoicedomain.LineItem{},
		&invoicedomain.Payment{},
		&auditdomain.AuditLog{},
		&customerdomain.Customer{},
		&appointmentdomain.Appointment{},
		&alerting.Alert{},
		&legacy.Entry{},
	}
}
