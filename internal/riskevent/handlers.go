package riskevent

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/riskledger/internal/principal"
	"github.com/mbd888/riskledger/internal/validation"
)

// Handler provides HTTP endpoints for the risk event ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a new risk event handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up read-only audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/events", h.ListEvents)
	r.GET("/events/stats", h.GetStats)
	r.GET("/events/:id", h.GetEvent)
}

// RegisterPrincipalRoutes sets up routes requiring a principal identity.
func (h *Handler) RegisterPrincipalRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.CreateEvent)
}

// RegisterOperatorRoutes sets up routes requiring an operator identity.
func (h *Handler) RegisterOperatorRoutes(r *gin.RouterGroup) {
	r.POST("/events/:id/resolve", h.ResolveEvent)
}

// createEventBody is the request body for POST /v1/events. The uid comes
// from the principal header, never from the body.
type createEventBody struct {
	EventType    EventType `json:"eventType" binding:"required"`
	Metadata     Metadata  `json:"metadata"`
	RequestToken string    `json:"requestToken"`
}

// CreateEvent handles POST /v1/events
func (h *Handler) CreateEvent(c *gin.Context) {
	var body createEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "eventType is required",
		})
		return
	}

	event, err := h.service.Create(c.Request.Context(), CreateRequest{
		UID:          principal.UID(c),
		EventType:    body.EventType,
		Metadata:     body.Metadata,
		RequestToken: validation.SanitizeString(body.RequestToken, validation.MaxTokenLength),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"event": event})
}

// GetEvent handles GET /v1/events/:id
func (h *Handler) GetEvent(c *gin.Context) {
	event, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"event": event})
}

// resolveEventBody is the request body for POST /v1/events/:id/resolve.
type resolveEventBody struct {
	Outcome Decision `json:"outcome" binding:"required"`
	Reason  string   `json:"reason" binding:"required"`
}

// ResolveEvent handles POST /v1/events/:id/resolve
func (h *Handler) ResolveEvent(c *gin.Context) {
	var body resolveEventBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "outcome and reason are required",
		})
		return
	}

	event, err := h.service.Resolve(
		c.Request.Context(),
		c.Param("id"),
		principal.Operator(c),
		body.Outcome,
		validation.SanitizeString(body.Reason, validation.MaxReasonLength),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"event": event})
}

// ListEvents handles GET /v1/events
func (h *Handler) ListEvents(c *gin.Context) {
	filter := Filter{
		UID:       c.Query("uid"),
		Decision:  Decision(c.Query("decision")),
		EventType: EventType(c.Query("eventType")),
	}

	if filter.Decision != "" && !filter.Decision.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "decision must be posted, hold, or reversed",
		})
		return
	}
	if filter.EventType != "" && !filter.EventType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "eventType must be credit, promo_redeem, or admin_adjust",
		})
		return
	}

	var ok bool
	if filter.From, ok = parseTimeParam(c, "from"); !ok {
		return
	}
	if filter.To, ok = parseTimeParam(c, "to"); !ok {
		return
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	page, err := h.service.List(c.Request.Context(), filter, c.Query("cursor"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events":     page.Events,
		"count":      len(page.Events),
		"nextCursor": page.NextCursor,
		"hasMore":    page.HasMore,
	})
}

// GetStats handles GET /v1/events/stats
func (h *Handler) GetStats(c *gin.Context) {
	from, ok := parseTimeParam(c, "from")
	if !ok {
		return
	}
	to, ok := parseTimeParam(c, "to")
	if !ok {
		return
	}

	summary, err := h.service.Aggregate(c.Request.Context(), from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": summary})
}

func parseTimeParam(c *gin.Context, name string) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": name + " must be an RFC 3339 timestamp",
		})
		return time.Time{}, false
	}
	return t, true
}

// writeError maps service sentinels to HTTP responses. Every error carries
// enough context for the caller to decide whether a retry is safe.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "already_resolved", "message": err.Error()})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	case errors.Is(err, ErrScoringUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scoring_unavailable", "message": err.Error()})
	case errors.Is(err, ErrStorageUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage_unavailable", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
