package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fieldgrid/servicedesk/internal/domain"
	"github.com/fieldgrid/servicedesk/internal/models"
	"github.com/fieldgrid/servicedesk/internal/recovery"
	"github.com/fieldgrid/servicedesk/internal/util"
)

// RecoveryController exposes the admin-only stuck-workflow endpoints.
type RecoveryController struct {
	AuthController
	Manager        *recovery.Manager
	StuckThreshold int // hours; 0 means the manager default
}

func NewRecoveryController(manager *recovery.Manager, staffRepo StaffRepo, stuckAfterHours int) *RecoveryController {
	return &RecoveryController{
		Manager:        manager,
		StuckThreshold: stuckAfterHours,
		AuthController: AuthController{StaffRepo: staffRepo},
	}
}

func (c *RecoveryController) handleListStuck(w http.ResponseWriter, r *http.Request) {
	threshold := recovery.DefaultStuckThreshold
	if c.StuckThreshold > 0 {
		threshold = time.Duration(c.StuckThreshold) * time.Hour
	}
	if s := r.URL.Query().Get("thresholdHours"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			http.Error(w, "thresholdHours is a positive integer", http.StatusBadRequest)
			return
		}
		threshold = time.Duration(n) * time.Hour
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			http.Error(w, "limit is an integer between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	stuck, err := c.Manager.DetectStuck(r.Context(), threshold, limit)
	if err != nil {
		slog.Error("Failed to detect stuck requests", "error", err)
		http.Error(w, "failed to detect stuck requests", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, stuck)
}

func (c *RecoveryController) handleRecoveryOptions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	options, err := c.Manager.RecoveryOptions(r.Context(), id)
	if err != nil {
		if errors.Is(err, recovery.ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		slog.Error("Failed to list recovery options", "requestId", id, "error", err)
		http.Error(w, "failed to list recovery options", http.StatusInternalServerError)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, options)
}

func (c *RecoveryController) handleRecover(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		http.Error(w, "id is required", http.StatusBadRequest)
		return
	}
	req, err := util.DecodeJSONBody[models.RecoverRequest](r)
	if err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "action is required", http.StatusBadRequest)
		return
	}

	ok, err := c.Manager.Recover(r.Context(), id, domain.Action(req.Action), username(r.Context()), domain.StateData(req.Data))
	if err != nil {
		if errors.Is(err, recovery.ErrRequestNotFound) {
			http.Error(w, "request not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, recovery.ErrUnknownRecoveryAction) || errors.Is(err, recovery.ErrInvalidRecoveryTarget) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		slog.Error("Recovery action failed", "requestId", id, "action", req.Action, "error", err)
		http.Error(w, "failed to apply recovery action", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "recovery action not applicable", http.StatusConflict)
		return
	}
	util.WriteJSONResponse(w, http.StatusOK, models.RecoverResponse{OK: true})
}
