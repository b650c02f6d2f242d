// Package webapi serves the dashboard's HTTP surface: GET /status,
// GET+POST /params, POST /actions, and the WS /ws telemetry stream.
// It stops at the contract: the dashboard UI and MJPEG pixels are
// rendered elsewhere, so /video and /ws/logs answer with documented
// 501s.
package webapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/jangala-dev/robot-supervisor/errcode"
	"github.com/jangala-dev/robot-supervisor/params"
	"github.com/jangala-dev/robot-supervisor/rlog"
	"github.com/jangala-dev/robot-supervisor/robotstate"
	"github.com/jangala-dev/robot-supervisor/statemachine"
)

// Facade is the narrow surface the web layer needs from the control
// loop. It exists so webapi never imports package loop directly: the
// loop hands the router this interface rather than the router reaching
// into loop internals.
type Facade interface {
	Snapshot() robotstate.Snapshot
	SetTeleopIntent(v, w int16)
	SetMode(m statemachine.RequestedMode) (robotstate.Mode, *statemachine.Refusal)
	RequestClearError()
	EStop() error
}

// ActionResult is what POST /actions returns on success: the transition
// actually applied, which may differ from what was requested if the
// state machine refused part of it.
type ActionResult struct {
	Mode robotstate.Mode `json:"mode"`
}

type apiError struct {
	Code errcode.Code `json:"code"`
	Msg  string       `json:"message"`
}

// NewRouter builds the full route table against core.
func NewRouter(core Facade, reg *params.Registry, log rlog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/status", handleStatus(core))
	r.Get("/params", handleGetParams(reg))
	r.Post("/params", handlePostParams(reg))
	r.Post("/actions", handleActions(core))
	r.Get("/video", handleNotImplemented("video streaming is out of scope for the supervisor core"))
	r.Get("/ws", handleWS(core, log))
	r.Get("/ws/logs", handleNotImplemented("log streaming is out of scope for the supervisor core"))

	return r
}

func handleStatus(core Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, core.Snapshot())
	}
}

func handleGetParams(reg *params.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, reg.All())
	}
}

func handlePostParams(reg *params.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch map[string]any
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Code: errcode.InvalidParams, Msg: "malformed JSON body"})
			return
		}
		if err := reg.Update(batch); err != nil {
			if berr, ok := err.(*params.BatchError); ok {
				writeJSON(w, http.StatusBadRequest, struct {
					Code   errcode.Code       `json:"code"`
					Errors []params.FieldError `json:"errors"`
				}{Code: errcode.InvalidParams, Errors: berr.Errors})
				return
			}
			writeJSON(w, http.StatusBadRequest, apiError{Code: errcode.InvalidParams, Msg: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, reg.All())
	}
}

// actionRequest is the POST /actions body: a tagged action
// name plus whatever fields that action needs.
type actionRequest struct {
	Action string `json:"action"` // "set_mode" | "e_stop" | "clear_e_stop"
	Mode   string `json:"mode,omitempty"`
}

func handleActions(core Facade) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, apiError{Code: errcode.InvalidAction, Msg: "malformed JSON body"})
			return
		}
		switch req.Action {
		case "set_mode":
			mode := statemachine.RequestedMode(req.Mode)
			switch mode {
			case statemachine.RequestIdle, statemachine.RequestTeleop, statemachine.RequestWander:
			default:
				writeJSON(w, http.StatusBadRequest, apiError{Code: errcode.InvalidAction, Msg: "unknown mode " + req.Mode})
				return
			}
			// SetMode blocks until the tick that evaluates the request,
			// so a refusal comes back as a structured 409 and a success
			// reports the transition actually applied.
			applied, refusal := core.SetMode(mode)
			if refusal != nil {
				writeJSON(w, http.StatusConflict, apiError{Code: errcode.ModeRefused, Msg: refusal.Reason})
				return
			}
			writeJSON(w, http.StatusOK, ActionResult{Mode: applied})
			return
		case "e_stop":
			if err := core.EStop(); err != nil {
				writeJSON(w, http.StatusConflict, apiError{Code: errcode.Disconnected, Msg: err.Error()})
				return
			}
		case "clear_e_stop":
			core.RequestClearError()
		default:
			writeJSON(w, http.StatusBadRequest, apiError{Code: errcode.InvalidAction, Msg: "unknown action " + req.Action})
			return
		}

		writeJSON(w, http.StatusOK, ActionResult{Mode: core.Snapshot().Mode})
	}
}

func handleNotImplemented(msg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotImplemented, apiError{Code: errcode.Unsupported, Msg: msg})
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS streams newline-delimited JSON RobotState snapshots at 20 Hz,
// matching the loop's broadcast cadence. A subscriber that falls behind
// is dropped rather than let the writer block.
func handleWS(core Facade, log rlog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug().Err(err).Msg("ws upgrade failed")
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(50 * time.Millisecond) // 20 Hz
		defer ticker.Stop()

		for range ticker.C {
			_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
			if err := conn.WriteJSON(core.Snapshot()); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
