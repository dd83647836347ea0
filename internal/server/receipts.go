package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	receiptdomain "github.com/smallbiznis/agencyledger/internal/receipt/domain"
	"github.com/smallbiznis/agencyledger/internal/snapshot"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
)

type customerBody struct {
	CustomerID *snowflake.ID `json:"customer_id"`
	Name       string        `json:"name" binding:"required,max=200"`
	Phone      string        `json:"phone" binding:"max=32"`
}

func (b customerBody) snapshot() snapshot.Customer {
	return snapshot.Customer{CustomerID: b.CustomerID, Name: b.Name, Phone: b.Phone}.Normalize()
}

type createReceiptRequest struct {
	Customer      customerBody  `json:"customer"`
	Amount        string        `json:"amount" binding:"required,money"`
	PaymentMethod string        `json:"payment_method" binding:"required,payment_method"`
	AppointmentID *snowflake.ID `json:"appointment_id"`
	Description   string        `json:"description" binding:"max=500"`
}

type cancelRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

type convertReceiptRequest struct {
	InvoiceType string         `json:"invoice_type" binding:"omitempty,oneof=standard proforma"`
	LineItems   []lineItemBody `json:"line_items" binding:"omitempty,dive"`
	TaxRate     *string        `json:"tax_rate"`
	Discount    string         `json:"discount" binding:"omitempty,money"`
}

func (s *Server) CreateReceipt(c *gin.Context) {
	var req createReceiptRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.receiptSvc.CreateReceipt(c.Request.Context(), receiptdomain.CreateReceiptRequest{
		Customer:      req.Customer.snapshot(),
		Amount:        amount,
		PaymentMethod: ledgerdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		AppointmentID: req.AppointmentID,
		Description:   req.Description,
	})
	respond(c, http.StatusCreated, result, err)
}

func (s *Server) CancelReceipt(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req cancelRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.receiptSvc.CancelReceipt(c.Request.Context(), receiptdomain.CancelReceiptRequest{
		ReceiptID: id,
		Reason:    req.Reason,
	})
	respond(c, http.StatusOK, result, err)
}

func (s *Server) ConvertReceipt(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req convertReceiptRequest
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

	result, err := s.receiptSvc.ConvertToInvoice(c.Request.Context(), receiptdomain.ConvertRequest{
		ReceiptID:   id,
		InvoiceType: req.InvoiceType,
		LineItems:   items,
		TaxRate:     rate,
		Discount:    discount,
	})
	respond(c, http.StatusCreated, result, err)
}

func (s *Server) GetReceipt(c *gin.Context) {
	receipt, ok := s.loadReceipt(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": receipt})
}

func (s *Server) GetReceiptPDF(c *gin.Context) {
	receipt, ok := s.loadReceipt(c)
	if !ok {
		return
	}
	body, err := s.documents.Receipt(c.Request.Context(), receipt)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	attachment(c, "application/pdf", receipt.Number+".pdf", body)
}

func (s *Server) loadReceipt(c *gin.Context) (*receiptdomain.Receipt, bool) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	receipt, err := s.receiptSvc.GetReceipt(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return receipt, true
}

type listReceiptsQuery struct {
	pagination.Pagination
	Status string `form:"status"`
}

func (s *Server) ListReceipts(c *gin.Context) {
	var query listReceiptsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	from, to, ok := s.timeRange(c, "created_from", "created_to")
	if !ok {
		return
	}

	resp, err := s.receiptSvc.ListReceipts(c.Request.Context(), receiptdomain.ListReceiptRequest{
		Pagination:  query.Pagination,
		Status:      receiptdomain.Status(strings.TrimSpace(query.Status)),
		CreatedFrom: from,
		CreatedTo:   to,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Receipts, "page_info": resp.PageInfo})
}
