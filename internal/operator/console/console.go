// Package console serves a small local HTTP surface for the operator: it
// shows status, notices and the pending DTMF prompt, and accepts keypad and
// call-ended observations.
package console

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/clawdbot/callnode/internal/agent"
	"github.com/clawdbot/callnode/internal/operator"
	"github.com/clawdbot/callnode/internal/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const (
	maxNotices = 50
	// CurrentCall addresses whatever call is in progress.
	CurrentCall = "current"
)

// Controller is the agent surface the console drives.
type Controller interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Status() agent.Status
}

type Console struct {
	logger *zap.Logger
	obs    chan operator.Observation
	router *mux.Router

	mu      sync.Mutex
	ctrl    Controller
	notices []operator.Notice
	prompt  *operator.Prompt
}

func New(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Console{
		logger: logger,
		obs:    make(chan operator.Observation, 8),
	}
	r := mux.NewRouter()
	r.HandleFunc("/status", c.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/notices", c.handleNotices).Methods(http.MethodGet)
	r.HandleFunc("/prompt", c.handlePrompt).Methods(http.MethodGet)
	r.HandleFunc("/connect", c.handleConnect).Methods(http.MethodPost)
	r.HandleFunc("/disconnect", c.handleDisconnect).Methods(http.MethodPost)
	calls := r.PathPrefix("/calls/{callId}").Subrouter()
	calls.HandleFunc("/dtmf", c.handleDTMF).Methods(http.MethodPost)
	calls.HandleFunc("/end", c.handleEnd).Methods(http.MethodPost)
	c.router = r
	return c
}

// Bind attaches the agent once it exists; the agent itself needs the console
// as its notifier.
func (c *Console) Bind(ctrl Controller) {
	c.mu.Lock()
	c.ctrl = ctrl
	c.mu.Unlock()
}

func (c *Console) Handler() http.Handler { return c.router }

// Serve listens on addr until ctx is done.
func (c *Console) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: c.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	c.logger.Info("operator console listening", zap.String("addr", addr))
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) Observations(ctx context.Context) (<-chan operator.Observation, error) {
	out := make(chan operator.Observation)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case obs := <-c.obs:
				select {
				case out <- obs:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (c *Console) Notify(n operator.Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	if len(c.notices) > maxNotices {
		c.notices = append([]operator.Notice(nil), c.notices[len(c.notices)-maxNotices:]...)
	}
}

func (c *Console) PromptDTMF(p operator.Prompt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = &p
}

func (c *Console) ClearPrompt(callID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prompt != nil && c.prompt.CallID == callID {
		c.prompt = nil
	}
}

func (c *Console) controller() Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctrl
}

func (c *Console) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctrl := c.controller()
	if ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not ready")
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Status())
}

func (c *Console) handleNotices(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	notices := append([]operator.Notice{}, c.notices...)
	c.mu.Unlock()
	writeJSON(w, http.StatusOK, notices)
}

func (c *Console) handlePrompt(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	prompt := c.prompt
	c.mu.Unlock()
	if prompt == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (c *Console) handleConnect(w http.ResponseWriter, r *http.Request) {
	c.control(w, r, Controller.Connect)
}

func (c *Console) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	c.control(w, r, Controller.Disconnect)
}

func (c *Console) control(w http.ResponseWriter, r *http.Request, op func(Controller, context.Context) error) {
	ctrl := c.controller()
	if ctrl == nil {
		writeError(w, http.StatusServiceUnavailable, "agent not ready")
		return
	}
	if err := op(ctrl, r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Status())
}

type dtmfRequest struct {
	Value string `json:"value"`
}

func (c *Console) handleDTMF(w http.ResponseWriter, r *http.Request) {
	var req dtmfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	value := strings.TrimSpace(req.Value)
	if !session.ValidDTMF(value) {
		writeError(w, http.StatusBadRequest, "invalid dtmf value")
		return
	}
	c.submit(w, r, operator.Observation{Kind: operator.KindDTMF, Value: value})
}

func (c *Console) handleEnd(w http.ResponseWriter, r *http.Request) {
	c.submit(w, r, operator.Observation{Kind: operator.KindCallEnded})
}

func (c *Console) submit(w http.ResponseWriter, r *http.Request, obs operator.Observation) {
	if id := mux.Vars(r)["callId"]; id != CurrentCall {
		obs.CallID = id
	}
	obs.Source = c.Name()
	obs.At = time.Now()
	select {
	case c.obs <- obs:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	default:
		c.logger.Warn("operator observation dropped: queue full", zap.String("kind", string(obs.Kind)))
		writeError(w, http.StatusServiceUnavailable, "operator queue full")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
