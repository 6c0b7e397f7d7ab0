package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"checkin-go/internal/scanner"
)

// Handler serves the kiosk API.
type Handler struct {
	svc    Service
	cards  CardSource
	logger scanner.Logger
}

type resultResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Name        string    `json:"name"`
	Payload     string    `json:"payload"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Date        string    `json:"date,omitempty"`
	Target      string    `json:"target,omitempty"`
	EventID     string    `json:"eventId,omitempty"`
	DetectedAt  time.Time `json:"detectedAt"`
	Duplicate   bool      `json:"duplicate"`
}

type statusResponse struct {
	State          scanner.State   `json:"state"`
	Session        uint64          `json:"session"`
	Since          time.Time       `json:"since"`
	Result         *resultResponse `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	TorchAvailable bool            `json:"torchAvailable"`
	TorchOn        bool            `json:"torchOn"`
}

type historyResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DetectedAt time.Time `json:"detectedAt"`
	Location   string    `json:"location,omitempty"`
	Outcome    string    `json:"outcome"`
	Kind       string    `json:"kind"`
	Detail     string    `json:"detail,omitempty"`
}

type checkinResponse struct {
	ID          string    `json:"id"`
	Token       string    `json:"token,omitempty"`
	DeviceID    string    `json:"deviceId"`
	CheckedInAt time.Time `json:"checkedInAt"`
}

func newResultResponse(r scanner.ScanResult) *resultResponse {
	return &resultResponse{
		ID:          r.ID,
		Kind:        string(r.Kind),
		Name:        r.DisplayName(),
		Payload:     string(r.Payload),
		Description: r.Description,
		Location:    r.Location,
		Date:        r.Date,
		Target:      r.Target,
		EventID:     r.EventID,
		DetectedAt:  r.DetectedAt,
		Duplicate:   r.Duplicate,
	}
}

func newStatusResponse(st scanner.Status) statusResponse {
	resp := statusResponse{
		State:          st.State,
		Session:        st.Session,
		Since:          st.Since,
		TorchAvailable: st.TorchAvailable,
		TorchOn:        st.TorchOn,
	}
	if st.Result != nil {
		resp.Result = newResultResponse(*st.Result)
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

// errorStatus maps scanner errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scanner.ErrInvalidTransition),
		errors.Is(err, scanner.ErrCancelled),
		errors.Is(err, scanner.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, scanner.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, scanner.ErrDeviceUnavailable), errors.Is(err, scanner.ErrStreamUnrecoverable):
		return http.StatusServiceUnavailable
	case errors.Is(err, scanner.ErrConstraintsUnsatisfiable),
		errors.Is(err, scanner.ErrTorchUnsupported),
		errors.Is(err, scanner.ErrActionUnavailable),
		errors.Is(err, scanner.ErrNoTarget):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(errorStatus(err), gin.H{
		"error":  err.Error(),
		"status": newStatusResponse(h.svc.Machine().Status()),
	})
}

func (h *Handler) respondStatus(c *gin.Context) {
	c.JSON(http.StatusOK, newStatusResponse(h.svc.Machine().Status()))
}

// GetStatus handles GET /api/scanner.
func (h *Handler) GetStatus(c *gin.Context) {
	h.respondStatus(c)
}

// Start handles POST /api/scanner/start. It returns once the camera has been
// granted or refused. A client hanging up does not abandon the scan; use
// cancel for that.
func (h *Handler) Start(c *gin.Context) {
	if err := h.svc.Machine().Start(context.WithoutCancel(c.Request.Context())); err != nil {
		h.fail(c, err)
		return
	}
	h.respondStatus(c)
}

// Retry handles POST /api/scanner/retry.
func (h *Handler) Retry(c *gin.Context) {
	if err := h.svc.Machine().Retry(context.WithoutCancel(c.Request.Context())); err != nil {
		h.fail(c, err)
		return
	}
	h.respondStatus(c)
}

// Cancel handles POST /api/scanner/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.svc.Machine().Cancel(); err != nil {
		h.fail(c, err)
		return
	}
	h.respondStatus(c)
}

// Dismiss handles POST /api/scanner/dismiss.
func (h *Handler) Dismiss(c *gin.Context) {
	if err := h.svc.Machine().Dismiss(); err != nil {
		h.fail(c, err)
		return
	}
	h.respondStatus(c)
}

// ToggleTorch handles POST /api/scanner/torch.
func (h *Handler) ToggleTorch(c *gin.Context) {
	if _, err := h.svc.Machine().ToggleTorch(); err != nil {
		h.fail(c, err)
		return
	}
	h.respondStatus(c)
}

// RunAction handles POST /api/scanner/result/{open,copy,share}.
func (h *Handler) RunAction(c *gin.Context) {
	action := scanner.Action(c.Param("action"))
	switch action {
	case scanner.ActionOpen, scanner.ActionCopy, scanner.ActionShare:
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		return
	}

	report := h.svc.Machine().RunAction(c.Request.Context(), action)
	if !report.OK {
		h.fail(c, report.Err)
		return
	}

	resp := gin.H{"action": string(report.Action), "ok": true}
	if action == scanner.ActionShare && h.cards != nil {
		if card, ok := h.cards.Last(); ok {
			resp["card"] = gin.H{
				"title":       card.Title,
				"description": card.Description,
				"target":      card.Target,
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetHistory handles GET /api/history?limit=N.
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.svc.History(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("listing history", "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve history"})
		return
	}

	resp := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, historyResponse{
			ID:         e.ID,
			Name:       e.Name,
			DetectedAt: e.DetectedAt,
			Location:   e.Location,
			Outcome:    string(e.Outcome),
			Kind:       string(e.Kind),
			Detail:     e.Detail,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// GetCheckins handles GET /api/events/{event_id}/checkins.
func (h *Handler) GetCheckins(c *gin.Context) {
	checkins, err := h.svc.Checkins(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		h.logger.Error("listing check-ins", "event", c.Param("event_id"), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve check-ins"})
		return
	}

	resp := make([]checkinResponse, 0, len(checkins))
	for _, ci := range checkins {
		resp = append(resp, checkinResponse{
			ID:          ci.ID,
			Token:       ci.Token,
			DeviceID:    ci.DeviceID,
			CheckedInAt: ci.CheckedInAt,
		})
	}
	c.JSON(http.StatusOK, resp)
}
