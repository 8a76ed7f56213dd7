package core

type ctxKey string

// Context keys populated by the auth middleware.
const (
	CtxKeyUsername  ctxKey = "username"
	CtxKeyStaffID   ctxKey = "staffId"
	CtxKeyStaffRole ctxKey = "staffRole"
)
