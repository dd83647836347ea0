package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/agencyledger/internal/invoice/domain"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
)

type lineItemBody struct {
	Description string `json:"description" binding:"required,max=500"`
	Quantity    int64  `json:"quantity" binding:"required,gt=0"`
	UnitPrice   string `json:"unit_price" binding:"required,money"`
}

type createInvoiceRequest struct {
	InvoiceType   string         `json:"invoice_type" binding:"omitempty,oneof=standard proforma"`
	Customer      customerBody   `json:"customer"`
	AppointmentID *snowflake.ID  `json:"appointment_id"`
	LineItems     []lineItemBody `json:"line_items" binding:"required,min=1,dive"`
	TaxRate       *string        `json:"tax_rate"`
	Discount      string         `json:"discount" binding:"omitempty,money"`
	Notes         string         `json:"notes" binding:"max=2000"`
}

type addPaymentRequest struct {
	Amount        string `json:"amount" binding:"required,money"`
	PaymentMethod string `json:"payment_method" binding:"required,payment_method"`
}

func lineItems(body []lineItemBody) ([]invoicedomain.LineItemInput, error) {
	if len(body) == 0 {
		return nil, nil
	}
	items := make([]invoicedomain.LineItemInput, 0, len(body))
	for _, item := range body {
		price, err := money.Parse(item.UnitPrice)
		if err != nil {
			return nil, err
		}
		items = append(items, invoicedomain.LineItemInput{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   price,
		})
	}
	return items, nil
}

// taxRate returns nil when the field is absent so the configured default applies.
func taxRate(raw *string) (*decimal.Decimal, error) {
	if raw == nil {
		return nil, nil
	}
	rate, err := money.ParseRate(*raw)
	if err != nil {
		return nil, invoicedomain.ErrInvalidTaxRate
	}
	return &rate, nil
}

func optionalAmount(raw string) (int64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return money.Parse(raw)
}

func (s *Server) CreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if !bindJSON(c, &req) {
		return
	}
	items, err := lineItems(req.LineItems)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	rate, err := taxRate(req.TaxRate)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	discount, err := optionalAmount(req.Discount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.invoiceSvc.CreateInvoice(c.Request.Context(), invoicedomain.CreateInvoiceRequest{
		InvoiceType:   req.InvoiceType,
		Customer:      req.Customer.snapshot(),
		AppointmentID: req.AppointmentID,
		LineItems:     items,
		TaxRate:       rate,
		Discount:      discount,
		Notes:         req.Notes,
	})
	respond(c, http.StatusCreated, result, err)
}

func (s *Server) AddInvoicePayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req addPaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.invoiceSvc.AddPayment(c.Request.Context(), invoicedomain.AddPaymentRequest{
		InvoiceID:     id,
		Amount:        amount,
		PaymentMethod: ledgerdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
	})
	respond(c, http.StatusCreated, result, err)
}

func (s *Server) RefundInvoicePayment(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	paymentID, err := pathID(c, "paymentId")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.invoiceSvc.RefundPayment(c.Request.Context(), invoicedomain.RefundPaymentRequest{
		InvoiceID: id,
		PaymentID: paymentID,
		Reason:    req.Reason,
	})
	respond(c, http.StatusOK, result, err)
}

func (s *Server) CancelInvoice(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.invoiceSvc.CancelInvoice(c.Request.Context(), invoicedomain.CancelInvoiceRequest{
		InvoiceID: id,
		Reason:    req.Reason,
	})
	respond(c, http.StatusOK, result, err)
}

func (s *Server) GetInvoice(c *gin.Context) {
	inv, ok := s.loadInvoice(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": inv})
}

func (s *Server) GetInvoicePDF(c *gin.Context) {
	inv, ok := s.loadInvoice(c)
	if !ok {
		return
	}
	body, err := s.documents.Invoice(c.Request.Context(), inv)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	attachment(c, "application/pdf", inv.Number+".pdf", body)
}

func (s *Server) loadInvoice(c *gin.Context) (*invoicedomain.Invoice, bool) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	inv, err := s.invoiceSvc.GetInvoice(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return inv, true
}

type listInvoicesQuery struct {
	pagination.Pagination
	Status      string `form:"status"`
	InvoiceType string `form:"invoice_type"`
}

func (s *Server) ListInvoices(c *gin.Context) {
	var query listInvoicesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	from, to, ok := s.timeRange(c, "created_from", "created_to")
	if !ok {
		return
	}

	resp, err := s.invoiceSvc.ListInvoices(c.Request.Context(), invoicedomain.ListInvoiceRequest{
		Pagination:  query.Pagination,
		Status:      invoicedomain.InvoiceStatus(strings.TrimSpace(query.Status)),
		InvoiceType: strings.TrimSpace(query.InvoiceType),
		CreatedFrom: from,
		CreatedTo:   to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Invoices, "page_info": resp.PageInfo})
}
