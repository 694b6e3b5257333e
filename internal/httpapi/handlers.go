package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/calls"
	"callsignal/internal/history"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth    *auth.Manager
	Calls   *calls.Manager
	History *history.Service
	Sweeper *calls.Sweeper
	Store   calls.SessionStore
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
		return
	}
	if req.Role == "" {
		req.Role = "user"
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Calls ---

type initiateRequest struct {
	ReceiverID string `json:"receiver_id"`
	Kind       string `json:"kind"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	s, err := h.Calls.Initiate(c.Request.Context(), userID, req.ReceiverID, calls.Kind(req.Kind))
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) AcceptCall(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	s, err := h.Calls.Accept(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) DeclineCall(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	s, err := h.Calls.Decline(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h Handlers) UpdateCallStatus(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Calls.UpdateStatus(c.Request.Context(), c.Param("call_id"), userID, req.Status)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type endRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) EndCall(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	s, err := h.Calls.End(c.Request.Context(), c.Param("call_id"), userID, req.Reason)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type metadataRequest struct {
	Metadata string `json:"metadata"`
}

func (h Handlers) SetCallMetadata(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	var req metadataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	s, err := h.Calls.SetMetadata(c.Request.Context(), c.Param("call_id"), userID, req.Metadata)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) GetCall(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	s, err := h.Calls.Get(c.Request.Context(), c.Param("call_id"), userID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) ActiveCall(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	s, found, err := h.Calls.ActiveForParticipant(c.Request.Context(), userID)
	if err != nil {
		writeCallError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": true, "call": s})
}

// --- History ---

func (h Handlers) ListCallHistory(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	from, to, limit, err := historyWindow(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sessions, err := h.History.ListForParticipant(c.Request.Context(), userID, from, to, limit)
	if err != nil {
		if errors.Is(err, history.ErrInvalidHistoryReq) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid history request"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": sessions})
}

func (h Handlers) SummarizeCallHistory(c *gin.Context) {
	userID, ok := h.requireUser(c)
	if !ok {
		return
	}
	from, to, _, err := historyWindow(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := h.History.Summarize(c.Request.Context(), userID, from, to)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- Admin ---

func (h Handlers) RunSweep(c *gin.Context) {
	if h.Sweeper == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "sweeper not configured"})
		return
	}
	stats := h.Sweeper.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, stats)
}

func (h Handlers) ListStaleCalls(c *gin.Context) {
	if h.Store == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store not configured"})
		return
	}
	olderThan := time.Now().UTC().Add(-calls.DefaultRingTimeout)
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "older_than must be a duration"})
			return
		}
		olderThan = time.Now().UTC().Add(-d)
	}
	stale, err := h.Store.FindStaleByStateAndAge(c.Request.Context(),
		[]calls.State{calls.StateInitiated, calls.StateRinging, calls.StateConnecting},
		calls.AnchorCreated, olderThan, 500)
	if err != nil {
		writeCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": stale})
}

// --- helpers ---

func (h Handlers) requireUser(c *gin.Context) (string, bool) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil || userID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return userID, true
}

func historyWindow(c *gin.Context) (from, to time.Time, limit int, err error) {
	if v := c.Query("from"); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, 0, errors.New("from must be RFC3339")
		}
	}
	if v := c.Query("to"); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, 0, errors.New("to must be RFC3339")
		}
	}
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			return from, to, 0, errors.New("limit must be a non-negative integer")
		}
	}
	return from, to, limit, nil
}

// writeCallError maps the lifecycle error taxonomy onto HTTP statuses.
// Conflict responses carry the current/blocking session so clients can
// resolve without a second round trip. Internal store detail never leaks.
func writeCallError(c *gin.Context, err error) {
	var inCall *calls.AlreadyInCallError
	var notPart *calls.NotParticipantError
	var badTransition *calls.InvalidTransitionError

	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.As(err, &notPart):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
	case errors.As(err, &inCall):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "already_in_call",
			"call":  inCall.Existing,
		})
	case errors.As(err, &badTransition):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error": "invalid_state_transition",
			"call":  badTransition.Current,
		})
	case errors.Is(err, calls.ErrInvalidArgument):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case calls.IsTransient(err):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
