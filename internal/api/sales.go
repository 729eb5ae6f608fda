package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/store"

	"github.com/gin-gonic/gin"
)

// createSale handles sale creation
func (h *Handler) createSale(c *gin.Context) {
	var req service.CreateSaleRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	}
	req.UserID = currentUserID(c)

	resp, err := h.sales.CreateSale(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// getSale handles get sale by ID
func (h *Handler) getSale(c *gin.Context) {
	saleID, ok := parseID(c)
	if !ok {
		return
	}

	sale, err := h.sales.GetSale(c.Request.Context(), saleID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

// listSales handles sale listing with optional filters
func (h *Handler) listSales(c *gin.Context) {
	var filter store.SaleFilter
	var err error

	if filter.From, err = parseTimeQuery(c.Query("from"), false); err != nil {
		badRequest(c, "Invalid from", err)
		return
	}
	if filter.To, err = parseTimeQuery(c.Query("to"), true); err != nil {
		badRequest(c, "Invalid to", err)
		return
	}
	for name, dst := range map[string]*int64{"user_id": &filter.UserID, "client_id": &filter.ClientID} {
		if v := c.Query(name); v != "" {
			if *dst, err = strconv.ParseInt(v, 10, 64); err != nil {
				badRequest(c, "Invalid "+name, err)
				return
			}
		}
	}
	if v := c.Query("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			badRequest(c, "Invalid limit", err)
			return
		}
	}
	filter.Status = c.Query("status")
	if filter.Status != "" && !models.IsValidSaleStatus(filter.Status) {
		badRequest(c, "Invalid status", nil)
		return
	}

	sales, err := h.sales.ListSales(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"sales": sales, "count": len(sales)})
}

// parseTimeQuery accepts RFC 3339 timestamps or plain dates. A plain date
// used as an upper bound covers the whole day.
func parseTimeQuery(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// updateSale handles status and notes changes
func (h *Handler) updateSale(c *gin.Context) {
	saleID, ok := parseID(c)
	if !ok {
		return
	}

	var req service.UpdateSaleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	sale, err := h.sales.UpdateSale(c.Request.Context(), saleID, &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, sale)
}

// deleteSale removes a cancelled or voided sale and restores its stock
func (h *Handler) deleteSale(c *gin.Context) {
	saleID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.sales.DeleteSale(c.Request.Context(), saleID); err != nil {
		h.writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
