package domain

const (
	RequesterKeyCtxKey   = "imprint-requesterKey"
	RequesterAdminCtxKey = "imprint-requesterAdmin"
)

const (
	RelayStatusOK      = "ok"
	RelayStatusDown    = "down"
	RelayStatusUnknown = "unknown"
)
