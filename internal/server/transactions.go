package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agencyledger/internal/export"
	ledgerdomain "github.com/smallbiznis/agencyledger/internal/ledger/domain"
	"github.com/smallbiznis/agencyledger/internal/money"
	"github.com/smallbiznis/agencyledger/pkg/db/pagination"
)

type createTransactionRequest struct {
	Kind          string `json:"kind" binding:"required,oneof=income expense"`
	Amount        string `json:"amount" binding:"required,money"`
	PaymentMethod string `json:"payment_method" binding:"required,payment_method"`
	Description   string `json:"description" binding:"required,max=500"`
	Category      string `json:"category" binding:"max=64"`
}

type reverseTransactionRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

func (s *Server) GetCashRegister(c *gin.Context) {
	snap, err := s.ledgerSvc.CashRegister(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": snap})
}

func (s *Server) CreateTransaction(c *gin.Context) {
	var req createTransactionRequest
	if !bindJSON(c, &req) {
		return
	}
	amount, err := money.Parse(req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	result, err := s.ledgerSvc.CreateManualTransaction(c.Request.Context(), ledgerdomain.ManualTransactionRequest{
		Kind:          ledgerdomain.Kind(req.Kind),
		Amount:        amount,
		PaymentMethod: ledgerdomain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Description:   req.Description,
		Category:      req.Category,
	})
	respond(c, http.StatusCreated, result, err)
}

func (s *Server) ReverseTransaction(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req reverseTransactionRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.ledgerSvc.ReverseTransaction(c.Request.Context(), ledgerdomain.ReverseRequest{
		TransactionID: id,
		Reason:        req.Reason,
	})
	respond(c, http.StatusOK, result, err)
}

func (s *Server) GetTransaction(c *gin.Context) {
	id, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	txn, err := s.ledgerSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": txn})
}

type listTransactionsQuery struct {
	pagination.Pagination
	Kind          string `form:"kind" binding:"omitempty,oneof=income expense"`
	PaymentMethod string `form:"payment_method" binding:"omitempty,payment_method"`
	Origin        string `form:"origin" binding:"omitempty,oneof=manual automatic"`
	Active        string `form:"active"`
}

func (s *Server) ListTransactions(c *gin.Context) {
	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, bindError(err))
		return
	}
	active, err := parseOptionalBool(query.Active)
	if err != nil {
		AbortWithError(c, newValidationError("active", "invalid_active", "invalid active"))
		return
	}
	from, to, ok := s.timeRange(c, "from", "to")
	if !ok {
		return
	}

	resp, err := s.ledgerSvc.ListTransactions(c.Request.Context(), ledgerdomain.ListRequest{
		Kind:          ledgerdomain.Kind(query.Kind),
		PaymentMethod: ledgerdomain.PaymentMethod(strings.ToLower(query.PaymentMethod)),
		Origin:        ledgerdomain.Origin(query.Origin),
		Active:        active,
		From:          from,
		To:            to,
		Pagination:    query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": resp.Transactions, "page_info": resp.PageInfo})
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func (s *Server) ExportTransactions(c *gin.Context) {
	from, to, ok := s.timeRange(c, "from", "to")
	if !ok {
		return
	}
	if from == nil || to == nil {
		AbortWithError(c, export.ErrInvalidRange)
		return
	}
	includeInactive, err := parseOptionalBool(c.Query("include_inactive"))
	if err != nil {
		AbortWithError(c, newValidationError("include_inactive", "invalid_include_inactive", "invalid include_inactive"))
		return
	}

	body, err := s.exporter.Transactions(c.Request.Context(), export.Request{
		From:            *from,
		To:              *to,
		IncludeInactive: includeInactive != nil && *includeInactive,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	filename := "ledger_" + from.In(s.loc).Format(dateOnlyLayout) + "_" + to.In(s.loc).Format(dateOnlyLayout) + ".xlsx"
	attachment(c, xlsxContentType, filename, body)
}
