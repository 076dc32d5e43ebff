package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"fleet-steward/agent/internal/db"
	"fleet-steward/agent/internal/gate"
	"fleet-steward/agent/internal/logger"
	"fleet-steward/agent/internal/pipeline"
	"fleet-steward/agent/internal/taskstore"
)

type Tasks interface {
	Submit(ctx context.Context, in taskstore.NewTask) (*db.TaskRecord, error)
	Task(id string) (*db.TaskRecord, error)
	Inventory() ([]pipeline.PackageInfo, error)
}

type Actions interface {
	Reboot(ctx context.Context, reason string) error
	ApplyBaselinePolicy() (string, error)
}

type Heartbeats interface {
	Record(source string, at time.Time, meta string) error
}

type Authorizer interface {
	Authorize(c gate.Caller, tier gate.Tier, op string) error
}

// Server is the local control surface used by co-located applications.
type Server struct {
	tasks      Tasks
	actions    Actions
	heartbeats Heartbeats
	auth       Authorizer
	// rebootDelay lets the reply leave before the device goes down.
	rebootDelay time.Duration
}

func NewServer(tasks Tasks, actions Actions, heartbeats Heartbeats, auth Authorizer) *Server {
	return &Server{tasks: tasks, actions: actions, heartbeats: heartbeats, auth: auth, rebootDelay: 2 * time.Second}
}

type callerKey struct{}

// WithCaller attaches the peer identity to ctx.
func WithCaller(ctx context.Context, c gate.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func callerFrom(ctx context.Context) (gate.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(gate.Caller)
	return c, ok
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/install", s.guard(gate.Privileged, "install", s.install(db.TaskInstall)))
	mux.HandleFunc("POST /v1/update", s.guard(gate.Privileged, "update", s.install(db.TaskUpdate)))
	mux.HandleFunc("POST /v1/uninstall", s.guard(gate.Privileged, "uninstall", s.uninstall))
	mux.HandleFunc("GET /v1/tasks/{id}", s.guard(gate.Privileged, "task_status", s.taskStatus))
	mux.HandleFunc("GET /v1/packages", s.guard(gate.Privileged, "list_packages", s.packages))
	mux.HandleFunc("POST /v1/reboot", s.guard(gate.Privileged, "reboot", s.reboot))
	mux.HandleFunc("POST /v1/policy/baseline", s.guard(gate.Privileged, "apply_policy", s.policy))
	mux.HandleFunc("POST /v1/heartbeat", s.guard(gate.Liveness, "heartbeat", s.heartbeat))
	return mux
}

func (s *Server) guard(tier gate.Tier, op string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, ok := callerFrom(r.Context())
		if !ok {
			logger.L.Warn().Str("op", op).Msg("local call without peer credentials")
			writeError(w, http.StatusForbidden, "caller identity unavailable")
			return
		}
		if err := s.auth.Authorize(c, tier, op); err != nil {
			writeError(w, http.StatusForbidden, "not authorized")
			return
		}
		next(w, r)
	}
}

// Serve listens on the unix socket at path until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	// any local process may connect; the gate decides what it may do
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if caller, ok := peerCaller(c); ok {
				return WithCaller(ctx, caller)
			}
			return ctx
		},
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Infof("ipc: listening on %s", path)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(v)
}
