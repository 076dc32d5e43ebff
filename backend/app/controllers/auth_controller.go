package controllers

import (
	"net/http"
	"strings"

	"fleet-steward/backend/app/dto"
	jwtutil "fleet-steward/backend/app/jwt"
	"fleet-steward/backend/app/models"
	"fleet-steward/backend/app/services"
	"fleet-steward/backend/global"
)

type AuthController struct {
	Users  *services.UserService
	Signer *jwtutil.Signer
}

func NewAuthController(users *services.UserService, signer *jwtutil.Signer) *AuthController {
	return &AuthController{Users: users, Signer: signer}
}

// POST /login
func (c *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req dto.LoginRequest
	_ = decode(r, &req)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing credentials")
		return
	}
	u, err := c.Users.ValidateCredentials(req.Username, req.Password)
	if err != nil {
		global.Logger.Warn().Str("user", req.Username).Str("ip", r.RemoteAddr).Msg("login rejected")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	token, err := c.Signer.Sign(u.ID, u.Username, u.Role)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusOK, dto.TokenResponse{AccessToken: token})
}

// DeviceToken issues the long-lived bearer token an agent uses against /api.
// POST /admin/devices/token
func (c *AuthController) DeviceToken(w http.ResponseWriter, r *http.Request) {
	var req dto.DeviceTokenRequest
	if err := decode(r, &req); err != nil || strings.TrimSpace(req.DeviceID) == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	token, err := c.Signer.SignDevice(strings.TrimSpace(req.DeviceID), models.RoleDevice, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token error")
		return
	}
	writeJSON(w, http.StatusCreated, dto.TokenResponse{AccessToken: token})
}
