package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/nightgate/nightgate/internal/coordinator"
	ngerrors "github.com/nightgate/nightgate/internal/errors"
	"github.com/nightgate/nightgate/internal/logger"
	"github.com/nightgate/nightgate/internal/protocol"
	"github.com/nightgate/nightgate/internal/ratelimit"
	"github.com/nightgate/nightgate/internal/session"
)

// captiveProbePaths are the OS connectivity checks. Answering them with a
// redirect while the gate is up makes phones pop the portal automatically.
var captiveProbePaths = map[string]bool{
	"/hotspot-detect.html":       true,
	"/library/test/success.html": true,
	"/generate_204":              true,
	"/gen_204":                   true,
	"/connecttest.txt":           true,
	"/ncsi.txt":                  true,
	"/success.txt":               true,
	"/canonical.html":            true,
}

// LinkLookup resolves a client IP to its hardware address. Best effort; ""
// means unknown.
type LinkLookup func(ctx context.Context, ip string) string

type Handler struct {
	coord      *coordinator.Coordinator
	engine     *protocol.Engine
	sessions   *session.Store
	limiter    *ratelimit.Limiter
	lookupLink LinkLookup
}

func NewHandler(coord *coordinator.Coordinator, engine *protocol.Engine, sessions *session.Store, limiter *ratelimit.Limiter, lookupLink LinkLookup) *Handler {
	if lookupLink == nil {
		lookupLink = func(context.Context, string) string { return "" }
	}
	return &Handler{coord: coord, engine: engine, sessions: sessions, limiter: limiter, lookupLink: lookupLink}
}

type chatRequest struct {
	Message   string `json:"message"`
	Image     string `json:"image"`
	SessionID string `json:"session_id"`
}

type chatResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Duration  int    `json:"duration,omitempty"`
	Granted   bool   `json:"granted,omitempty"`
	SessionID string `json:"session_id"`
}

// flexString accepts both JSON strings and bare numbers, so clients can send
// "duration": 45 or "duration": "21:00" interchangeably.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

type modeRequest struct {
	Action     string     `json:"action"`
	Duration   flexString `json:"duration"`
	Reason     string     `json:"reason"`
	Exceptions string     `json:"exceptions"`
}

type modeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// RateLimit rejects clients that exceeded the per-address request budget.
// The rejection shape matches a chat error so the portal UI renders it
// inline.
func (h *Handler) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r)
		if !h.limiter.Admit(addr) {
			slog.Warn("Rate limit exceeded", "remote", addr)
			writeJSON(w, http.StatusTooManyRequests, chatResponse{
				Status:  "error",
				Message: "Too many requests. Please wait a few minutes before trying again.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Chat is the nighttime justification conversation.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Status: "error", Message: "Invalid request body."})
		return
	}

	ip := clientIP(r)
	link := h.lookupLink(r.Context(), ip)
	sess, created := h.sessions.Resolve(req.SessionID, ip, link)
	if created {
		slog.Info("New justification session", "session_id", sess.ID, "remote", ip, "link", link)
	}

	ctx := logger.WithSessionID(logger.WithClientAddr(r.Context(), ip), sess.ID)
	result, err := h.engine.ProcessTurn(ctx, sess, req.Message, req.Image)
	if err != nil {
		writeJSON(w, ngerrors.HTTPStatus(err), chatResponse{
			Status:    "error",
			Message:   "Please enter a message.",
			SessionID: sess.ID,
		})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Status:    string(result.Verdict.Status),
		Message:   result.Verdict.Message,
		Duration:  result.Verdict.Duration,
		Granted:   result.Granted,
		SessionID: sess.ID,
	})
}

// DayChat is the access-neutral daytime conversation.
func (h *Handler) DayChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, chatResponse{Status: "error", Message: "Invalid request body."})
		return
	}

	ip := clientIP(r)
	sess, ok := h.sessions.Get(req.SessionID)
	if !ok {
		sess = h.sessions.Create(ip, h.lookupLink(r.Context(), ip))
	}

	ctx := logger.WithSessionID(logger.WithClientAddr(r.Context(), ip), sess.ID)
	reply, err := h.engine.ProcessDayTurn(ctx, sess, req.Message)
	if err != nil {
		status := ngerrors.HTTPStatus(err)
		msg := "Please enter a message."
		if status >= http.StatusInternalServerError {
			msg = "The assistant is unavailable right now. Please try again."
		}
		writeJSON(w, status, chatResponse{Status: "error", Message: msg, SessionID: sess.ID})
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{Status: "success", Message: reply, SessionID: sess.ID})
}

// Status reports the mode snapshot for the day page.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Status(r.Context()))
}

// Focus starts or stops the distraction blocker.
func (h *Handler) Focus(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, modeResponse{Success: false, Message: "Invalid request body."})
		return
	}

	var err error
	switch req.Action {
	case "start":
		err = h.coord.StartFocus(r.Context(), string(req.Duration))
	case "stop":
		err = h.coord.StopFocus(r.Context())
	default:
		writeJSON(w, http.StatusBadRequest, modeResponse{Success: false, Message: "Unknown action."})
		return
	}

	if err != nil {
		writeJSON(w, ngerrors.HTTPStatus(err), modeResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{Success: true})
}

// Lockdown starts or stops the voluntary daytime lockdown.
func (h *Handler) Lockdown(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, modeResponse{Success: false, Message: "Invalid request body."})
		return
	}

	var err error
	switch req.Action {
	case "start":
		err = h.coord.StartLockdown(r.Context(), string(req.Duration), req.Reason, req.Exceptions)
	case "stop":
		err = h.coord.StopLockdown(r.Context())
	default:
		writeJSON(w, http.StatusBadRequest, modeResponse{Success: false, Message: "Unknown action."})
		return
	}

	if err != nil {
		writeJSON(w, ngerrors.HTTPStatus(err), modeResponse{Success: false, Message: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, modeResponse{Success: true})
}

// Root serves the gate page while gatekeeping or a lockdown is in force, the
// day page otherwise.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	if h.coord.GatePageActive() {
		servePage(w, gatePage)
		return
	}
	servePage(w, dayPage)
}

// Success is the post-approval landing page. While the gate is up it is only
// reachable with an active grant; anyone else goes back to the portal.
func (h *Handler) Success(w http.ResponseWriter, r *http.Request) {
	if h.coord.GatePageActive() && !h.coord.AccessActive(r.Context()) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	servePage(w, successPage)
}

// CatchAll answers everything the hijacked DNS funnels here. Probe paths are
// redirected to the portal while the gate is up so client OSes raise the
// sign-in sheet; with the gate down they get an empty success so devices see
// an open network.
func (h *Handler) CatchAll(w http.ResponseWriter, r *http.Request) {
	if h.coord.GatePageActive() && !h.coord.AccessActive(r.Context()) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	// Open network or active grant: probes succeed so client OSes dismiss
	// the sign-in sheet.
	if captiveProbePaths[strings.ToLower(r.URL.Path)] {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.NotFound(w, r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func servePage(w http.ResponseWriter, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(page)
}
