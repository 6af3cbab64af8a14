package controlapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	provider       Provider
	allowedOrigins []string
	confirmToken   string
	hub            *Hub
	logger         *slog.Logger
}

func NewHandlers(provider Provider, allowedOrigins []string, confirmToken string, hub *Hub, logger *slog.Logger) *Handlers {
	return &Handlers{
		provider:       provider,
		allowedOrigins: allowedOrigins,
		confirmToken:   confirmToken,
		hub:            hub,
		logger:         logger.With("component", "controlapi-handlers"),
	}
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleStatus serves GET /api/status: the point-in-time snapshot of
// every enrolled market's config/state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	status := h.provider.Status()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("failed to encode status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// HandleSync serves POST /api/sync: triggers a full sync outside its
// cron schedule.
func (h *Handlers) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.provider.TriggerFullSync(r.Context()); err != nil {
		h.logger.Error("manual full sync failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleReset serves POST /api/reset: confirmation-token-guarded
// reset-to-chain.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if h.confirmToken == "" || req.ConfirmationToken != h.confirmToken {
		http.Error(w, "confirmation token mismatch", http.StatusForbidden)
		return
	}
	if err := h.provider.ResetToChain(r.Context(), req.ConfirmationToken); err != nil {
		h.logger.Error("reset-to-chain failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandlePause serves POST /api/markets/{mm_id}/pause.
func (h *Handlers) HandlePause(w http.ResponseWriter, r *http.Request, mmID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req PauseRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // body is optional
	if err := h.provider.PauseMarket(r.Context(), mmID, req.Reason); err != nil {
		h.logger.Error("pause failed", "mm_id", mmID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleResume serves POST /api/markets/{mm_id}/resume.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request, mmID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := h.provider.ResumeMarket(r.Context(), mmID); err != nil {
		h.logger.Error("resume failed", "mm_id", mmID, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HandleWebSocket upgrades the connection and creates a new client that
// receives the live audit-trail event stream.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(req *http.Request) bool {
			return isOriginAllowed(req.Header.Get("Origin"), h.allowedOrigins, req.Host)
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(h.hub, conn)

	evt := Event{Type: "STATUS_SNAPSHOT", Data: h.provider.Status()}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal initial status", "error", err)
		return
	}

	select {
	case client.send <- data:
	default:
		h.logger.Warn("failed to send initial status to client")
	}
}

func isOriginAllowed(origin string, allowedOrigins []string, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(allowedOrigins) > 0 {
		for _, allowed := range allowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
