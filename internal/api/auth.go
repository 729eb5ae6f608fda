package api

import (
	"net/http"
	"strconv"

	"pos-service/internal/service"

	"github.com/gin-gonic/gin"
)

// login handles credential checks and token issue
func (h *Handler) login(c *gin.Context) {
	var req service.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.Request.UserAgent()

	result, err := h.auth.Login(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// setup creates the first administrator of an empty installation
func (h *Handler) setup(c *gin.Context) {
	var in service.UserInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	user, err := h.users.Setup(c.Request.Context(), &in)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

// lockoutStatus reports the failure count and lock of an account. The
// account may be given as email or username.
func (h *Handler) lockoutStatus(c *gin.Context) {
	account, err := h.auth.AccountKey(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	attempt, err := h.tracker.Status(c.Request.Context(), account)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"account":      attempt.Account,
		"failed_count": attempt.FailedCount,
		"locked":       attempt.Locked,
		"threshold":    h.tracker.Threshold(),
	})
}

// unlockAccount clears the lock and failure count of an account
func (h *Handler) unlockAccount(c *gin.Context) {
	account, err := h.auth.AccountKey(c.Request.Context(), c.Param("account"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if err := h.tracker.Unlock(c.Request.Context(), account); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": account, "locked": false})
}

// listLoginAttempts lists accounts with failed logins; ?locked=true keeps
// only locked ones
func (h *Handler) listLoginAttempts(c *gin.Context) {
	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			badRequest(c, "Invalid limit", nil)
			return
		}
		limit = n
	}

	attempts, err := h.tracker.ListAttempts(c.Request.Context(), c.Query("locked") == "true", limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"attempts":  attempts,
		"count":     len(attempts),
		"threshold": h.tracker.Threshold(),
	})
}
