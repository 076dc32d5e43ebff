package router

import (
	"net/http"

	"fleet-steward/backend/app/controllers"
	"fleet-steward/backend/app/middleware"
)

type Controllers struct {
	Auth     *controllers.AuthController
	Commands *controllers.CommandController
	Updates  *controllers.UpdateController
	Devices  *controllers.DeviceController
	Metrics  http.Handler
}

func NewRouter(c Controllers, mw *middleware.Auth) http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.Handler) {
		mux.Handle(pattern, middleware.WithRoute(pattern, h))
	}

	// public
	handle("GET /healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}))
	handle("POST /login", http.HandlerFunc(c.Auth.Login))
	if c.Metrics != nil {
		handle("GET /metrics", c.Metrics)
	}

	// operator endpoints
	handle("POST /admin/commands", mw.RequireAdmin(http.HandlerFunc(c.Commands.Create)))
	handle("GET /admin/commands", mw.RequireAdmin(http.HandlerFunc(c.Commands.List)))
	handle("POST /admin/releases", mw.RequireAdmin(http.HandlerFunc(c.Updates.Publish)))
	handle("POST /admin/devices/token", mw.RequireAdmin(http.HandlerFunc(c.Auth.DeviceToken)))
	if c.Devices != nil {
		handle("GET /admin/devices", mw.RequireAdmin(http.HandlerFunc(c.Devices.List)))
		handle("GET /admin/devices/{id}", mw.RequireAdmin(http.HandlerFunc(c.Devices.Get)))
	}

	// device endpoints; the device id always comes from the token
	handle("POST /api/commands/pull", mw.RequireDevice(http.HandlerFunc(c.Commands.Pull)))
	handle("POST /api/commands/{id}/result", mw.RequireDevice(http.HandlerFunc(c.Commands.Report)))
	handle("POST /api/updates/check", mw.RequireDevice(http.HandlerFunc(c.Updates.Check)))

	return mux
}
