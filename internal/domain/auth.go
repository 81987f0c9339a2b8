package domain

// ============================================================
// Admin auth — request / response types
// ============================================================

// AdminLoginRequest is the body for POST /v1/admin/token.
type AdminLoginRequest struct {
	Password string `json:"password"`
}

// AdminLoginResponse carries a short-lived HS256 access token.
type AdminLoginResponse struct {
	AccessToken string `json:"accessToken"`
	TokenType   string `json:"tokenType"`
	ExpiresIn   int    `json:"expiresIn"`
}

// SweepResult is returned by POST /v1/admin/sweep.
type SweepResult struct {
	Removed int `json:"removed"`
}
