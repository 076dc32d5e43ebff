package dto

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type DeviceTokenRequest struct {
	DeviceID string `json:"device_id"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
