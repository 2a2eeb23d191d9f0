package api

import "time"

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login. When MFARequired is
// true, Token is a short-lived challenge token for POST /auth/login/mfa
// instead of a session token.
type LoginResponse struct {
	Token       string `json:"token,omitempty"`
	MFARequired bool   `json:"mfa_required,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

// MFALoginRequest is the JSON body for POST /auth/login/mfa. Exactly one
// of Code and RecoveryCode must be set.
type MFALoginRequest struct {
	ChallengeToken string `json:"challenge_token"`
	Code           string `json:"code,omitempty"`
	RecoveryCode   string `json:"recovery_code,omitempty"`
}

// SetupMFAResponse is returned from POST /mfa/setup. Secret and
// RecoveryCodes are shown exactly once.
type SetupMFAResponse struct {
	Secret        string   `json:"secret"`
	RecoveryCodes []string `json:"recovery_codes"`
	OtpauthURL    string   `json:"otpauth_url"`
	ExpiresAt     string   `json:"expires_at"`
}

// EnableMFARequest is the JSON body for POST /mfa/enable.
type EnableMFARequest struct {
	Code string `json:"code"`
}

// PutKeyRequest is the JSON body for PUT /keys/{name}.
type PutKeyRequest struct {
	Value string `json:"value"`
}

// GetKeyResponse is returned from GET /keys/{name}.
type GetKeyResponse struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SessionSummary describes one session in GET /sessions.
type SessionSummary struct {
	ID        string     `json:"id"`
	Device    DeviceView `json:"device"`
	Location  PlaceView  `json:"location"`
	CreatedAt time.Time  `json:"created_at"`
	Current   bool       `json:"current"`
}

// ListSessionsResponse is returned from GET /sessions.
type ListSessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
}

// TerminateOthersResponse is returned from DELETE /sessions.
type TerminateOthersResponse struct {
	Terminated int `json:"terminated"`
}

// LoginAttemptView describes one record in GET /login-history.
type LoginAttemptView struct {
	ID        string     `json:"id"`
	Success   bool       `json:"success"`
	Device    DeviceView `json:"device"`
	Location  PlaceView  `json:"location"`
	CreatedAt time.Time  `json:"created_at"`
}

// LoginHistoryResponse is returned from GET /login-history.
type LoginHistoryResponse struct {
	Attempts []LoginAttemptView `json:"attempts"`
}

// DeviceView is the wire shape of a device descriptor.
type DeviceView struct {
	Kind  string `json:"kind"`
	Agent string `json:"agent"`
	OS    string `json:"os"`
}

// PlaceView is the wire shape of a location descriptor.
type PlaceView struct {
	City     string `json:"city"`
	Country  string `json:"country"`
	Timezone string `json:"timezone"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
