package authapi

import "time"

type authRequest struct {
	Password string `json:"password"`
	APIToken string `json:"api_token"`
}

type authResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

type pairRequest struct {
	DeviceID string `json:"device_id"`
	// Older GUI builds send camelCase.
	DeviceIDCamel string `json:"deviceId"`
	Role          string `json:"role"`
}

type pairResponse struct {
	PairCode  string    `json:"pair_code"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
}

type scanRequest struct {
	Target string `json:"target"`
	Mode   string `json:"mode"`
}

type scanResponse struct {
	OK     bool   `json:"ok"`
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
