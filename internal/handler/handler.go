package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"vpnstore/internal/database"
	"vpnstore/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Handler serves the admin/ops HTTP API: health, server inventory CRUD,
// balance adjustments and ledger history.
type Handler struct {
	db          *database.Database
	adminAPIKey string
	log         *zap.Logger
}

func NewHandler(db *database.Database, adminAPIKey string, log *zap.Logger) *Handler {
	return &Handler{db: db, adminAPIKey: adminAPIKey, log: log}
}

// AdminAuth middleware checks the request against the configured API key.
func (h *Handler) AdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if h.adminAPIKey == "" || apiKey != h.adminAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.Response{
				Success: false,
				Error:   "invalid API key",
			})
			return
		}
		c.Next()
	}
}

// ListServers returns the server inventory.
func (h *Handler) ListServers(c *gin.Context) {
	servers, err := h.db.ListServers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to list servers",
		})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: servers})
}

// CreateServer adds a server (admin only).
func (h *Handler) CreateServer(c *gin.Context) {
	var req model.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	server, err := h.db.CreateServer(&model.Server{
		Domain:       req.Domain,
		Auth:         req.Auth,
		Name:         req.Name,
		Price:        req.Price,
		Quota:        req.Quota,
		IPLimit:      req.IPLimit,
		CreateLimit:  req.CreateLimit,
		ResellerOnly: req.ResellerOnly,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   fmt.Sprintf("failed to create server: %v", err),
		})
		return
	}
	c.JSON(http.StatusCreated, model.Response{Success: true, Data: server})
}

// UpdateServer overwrites a server's attributes (admin only).
func (h *Handler) UpdateServer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid server ID",
		})
		return
	}

	var req model.CreateServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	server := &model.Server{
		ID:           id,
		Domain:       req.Domain,
		Auth:         req.Auth,
		Name:         req.Name,
		Price:        req.Price,
		Quota:        req.Quota,
		IPLimit:      req.IPLimit,
		CreateLimit:  req.CreateLimit,
		ResellerOnly: req.ResellerOnly,
	}
	if err := h.db.UpdateServer(server); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrServerNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, model.Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: server})
}

// DeleteServer removes a server (admin only).
func (h *Handler) DeleteServer(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid server ID",
		})
		return
	}

	if err := h.db.DeleteServer(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrServerNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, model.Response{Success: false, Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: gin.H{"id": id}})
}

// GetUser returns a user and their balance (admin only).
func (h *Handler) GetUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid user ID",
		})
		return
	}

	user, err := h.db.GetUser(userID)
	if errors.Is(err, database.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, model.Response{
			Success: false,
			Error:   "user not found",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to get user",
		})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: user})
}

// CreditUser credits a user's balance through the ledger (admin only). The
// credit rides the same idempotent path as settlement so the balance is
// never mutated without a matching log entry.
func (h *Handler) CreditUser(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid user ID",
		})
		return
	}

	var req model.AdjustBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid request body",
		})
		return
	}

	if _, err := h.db.GetOrCreateUser(userID); err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   "failed to load user",
		})
		return
	}

	reference := fmt.Sprintf("admin-%d-%s", userID, uuid.NewString())
	newBalance, err := h.db.CreditDeposit(userID, req.Amount, reference)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   fmt.Sprintf("failed to credit balance: %v", err),
		})
		return
	}

	h.log.Info("admin credit",
		zap.Int64("user_id", userID),
		zap.Int64("amount", req.Amount),
		zap.String("reference", reference))
	c.JSON(http.StatusOK, model.Response{
		Success: true,
		Data:    gin.H{"user_id": userID, "balance": newBalance},
	})
}

// GetLedger returns a page of a user's ledger history (admin only).
func (h *Handler) GetLedger(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Response{
			Success: false,
			Error:   "invalid user ID",
		})
		return
	}

	page := 1
	pageSize := 10
	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}
	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 && ps <= 100 {
			pageSize = ps
		}
	}

	history, err := h.db.GetLedgerEntries(userID, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.Response{
			Success: false,
			Error:   fmt.Sprintf("failed to get ledger: %v", err),
		})
		return
	}
	c.JSON(http.StatusOK, model.Response{Success: true, Data: history})
}
