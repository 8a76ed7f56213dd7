package controllers

import (
	"net/http"

	"github.com/fieldgrid/servicedesk/internal/domain"
)

// RegisterRoutes wires the HTTP routes for this controller.
func (c *RequestsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/requests", c.RequireAuth(c.handleCreateRequest))
	mux.HandleFunc("POST /api/requests/{id}/transition", c.RequireAuth(c.handleTransition))
	mux.HandleFunc("POST /api/requests/{id}/complete", c.RequireAuth(c.handleComplete))
	mux.HandleFunc("POST /api/requests/{id}/cancel", c.RequireAuth(c.handleCancel))
	mux.HandleFunc("GET /api/requests/{id}", c.RequireAuth(c.handleGetRequest))
	mux.HandleFunc("GET /api/requests/{id}/history", c.RequireAuth(c.handleGetHistory))
}

func (c *RecoveryController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/admin/requests/stuck", c.RequireRole(domain.RoleAdmin, c.handleListStuck))
	mux.HandleFunc("GET /api/admin/requests/{id}/recovery-options", c.RequireRole(domain.RoleAdmin, c.handleRecoveryOptions))
	mux.HandleFunc("POST /api/admin/requests/{id}/recover", c.RequireRole(domain.RoleAdmin, c.handleRecover))
}
