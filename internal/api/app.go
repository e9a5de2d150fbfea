package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/incidentq/internal/connectivity"
	"github.com/kalambet/incidentq/internal/form"
	"github.com/kalambet/incidentq/internal/pending"
	"github.com/kalambet/incidentq/internal/storage"
	"github.com/kalambet/incidentq/internal/submission"
	"github.com/kalambet/incidentq/internal/syncer"
)

// Submitter accepts new submissions.
type Submitter interface {
	Submit(ctx context.Context, sub submission.Submission) (syncer.Receipt, error)
}

// Syncer runs and reports sync passes.
type Syncer interface {
	Run(ctx context.Context, trigger syncer.Trigger) (syncer.Report, error)
	State() syncer.State
	LastReport() (syncer.Report, bool)
}

// PendingRenderer projects the queue for display.
type PendingRenderer interface {
	Render(ctx context.Context) (pending.View, error)
}

// Connectivity exposes the monitor's current view.
type Connectivity interface {
	Online() bool
	Capability() connectivity.Capability
}

// AppDeps holds the collaborators of the local HTTP API.
type AppDeps struct {
	Form         *form.Schema
	Submitter    Submitter
	Syncer       Syncer
	Pending      PendingRenderer
	Connectivity Connectivity
	Board        *StatusBoard
	Token        string
	// RateLimit is the intake request rate per second; 0 disables it.
	RateLimit float64
	Logger    *slog.Logger
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Online      bool                    `json:"online"`
	State       syncer.State            `json:"state"`
	Attachments connectivity.Capability `json:"attachments"`
	LastRun     *syncer.Report          `json:"last_run,omitempty"`
	Board       BoardSnapshot           `json:"board"`
}

// NewAppHandler returns the local API. /health is unauthenticated; every
// other route requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Board == nil {
		deps.Board = NewStatusBoard(0)
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.With(RateLimit(deps.RateLimit, int(deps.RateLimit)+1)).Post("/submissions", handleSubmit(deps))
		r.Get("/pending", handlePending(deps))
		r.Post("/sync", handleSync(deps))
		r.Get("/status", handleStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleSubmit(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxSubmissionBodySize)
		defer r.Body.Close()

		sub, err := readSubmission(r, deps.Form)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		// A client disconnect must not abort a delivery already in flight.
		rec, err := deps.Submitter.Submit(context.WithoutCancel(r.Context()), sub)
		if errors.Is(err, storage.ErrUnencodable) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if errors.Is(err, storage.ErrStorageFault) {
			httpError(w, http.StatusInsufficientStorage, "storage_error", "report could not be saved locally: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "submitting report: %v", err)
			return
		}

		code := http.StatusAccepted
		if rec.Disposition == syncer.Sent {
			code = http.StatusCreated
		}
		writeJSON(w, code, rec)
	}
}

func handlePending(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Pending.Render(r.Context())
		if err != nil {
			httpError(w, http.StatusInsufficientStorage, "storage_error", "reading pending reports: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func handleSync(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := deps.Syncer.Run(context.WithoutCancel(r.Context()), syncer.TriggerManual)
		if errors.Is(err, syncer.ErrRunInProgress) {
			httpError(w, http.StatusConflict, "conflict", "a sync is already running")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "sync: %v", err)
			return
		}
		deps.Logger.Info("manual sync finished", "run_id", rep.RunID, "result", rep.Result)
		writeJSON(w, http.StatusOK, rep)
	}
}

func handleStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Online:      deps.Connectivity.Online(),
			State:       deps.Syncer.State(),
			Attachments: deps.Connectivity.Capability(),
			Board:       deps.Board.Snapshot(),
		}
		if rep, ok := deps.Syncer.LastReport(); ok {
			resp.LastRun = &rep
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
