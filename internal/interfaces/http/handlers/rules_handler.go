package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/ConceptGuard/internal/application/extraction"
	"github.com/turtacn/ConceptGuard/internal/infrastructure/monitoring/logging"
)

// RulesHandler exposes the active rule store.
type RulesHandler struct {
	svc    extraction.Service
	logger logging.Logger
}

// NewRulesHandler creates a new RulesHandler.
func NewRulesHandler(svc extraction.Service, logger logging.Logger) *RulesHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &RulesHandler{svc: svc, logger: logger}
}

// RegisterRoutes registers the rule routes under rg.
func (h *RulesHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/rules", h.Info)
	rg.GET("/rules/:id", h.Get)
	rg.POST("/rules/reload", h.Reload)
}

// Info handles GET /api/v1/rules.
func (h *RulesHandler) Info(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.RulesInfo(c.Request.Context()))
}

// Get handles GET /api/v1/rules/:id.
func (h *RulesHandler) Get(c *gin.Context) {
	rule, err := h.svc.GetRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Reload handles POST /api/v1/rules/reload. A failed reload keeps the
// previous store active.
func (h *RulesHandler) Reload(c *gin.Context) {
	info, err := h.svc.ReloadRules(c.Request.Context())
	if err != nil {
		h.logger.WithContext(c.Request.Context()).Warn("rule reload rejected", logging.Err(err))
		writeAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
