package pairapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Whizmburu/Whiz-qr/cmd/internal/pairing"
	v1 "github.com/Whizmburu/Whiz-qr/shared/contracts/pairing/v1"
)

const defaultMaxBodyBytes = 4 << 10

// Service is the subset of the pairing service the HTTP layer uses.
type Service interface {
	Start(ctx context.Context, opts pairing.StartOptions) (string, error)
	Status(ctx context.Context, attemptID string) (pairing.StatusView, error)
	Lookup(attemptID string) (pairing.Snapshot, error)
}

// Handler serves the pairing HTTP routes.
type Handler struct {
	log *slog.Logger
	svc Service

	maxBodyBytes int64
}

// HandlerOption configures optional handler behavior.
type HandlerOption func(*Handler)

// WithMaxBodyBytes caps the POST /pair request body.
func WithMaxBodyBytes(n int64) HandlerOption {
	return func(h *Handler) {
		if h == nil || n <= 0 {
			return
		}
		h.maxBodyBytes = n
	}
}

// NewHandler constructs a pairing Handler.
func NewHandler(log *slog.Logger, svc Service, opts ...HandlerOption) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("pairapi: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{log: log, svc: svc, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires pairing routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /pair", h.handleStart)
	mux.HandleFunc("GET /pair/{id}/status", h.handleStatus)
	mux.HandleFunc("GET /pair/{id}/qr.png", h.handleQR)
}

type startRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type startResponse struct {
	AttemptID string `json:"attemptId"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptionalJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body")
		return
	}

	id, err := h.svc.Start(r.Context(), pairing.StartOptions{PhoneNumber: req.PhoneNumber})
	if err != nil {
		h.writeServiceError(w, r, "pairing.start.fail", err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{AttemptID: id})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	view, err := h.svc.Status(r.Context(), id)
	if errors.Is(err, pairing.ErrNotFound) {
		// Unknown and already-cleaned attempts share the status shape.
		writeJSON(w, http.StatusNotFound, v1.StatusPayload{
			Status: string(pairing.StatusExpiredOrError),
			Detail: "pairing attempt not found",
		})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, "pairing.status.fail", err)
		return
	}

	status := http.StatusOK
	if view.Status == pairing.StatusExpiredOrError {
		status = http.StatusGone
	}
	writeJSON(w, status, Payload(view))
}

func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	snap, err := h.svc.Lookup(id)
	if err != nil {
		h.writeServiceError(w, r, "pairing.qr.fail", err)
		return
	}
	view := pairing.Project(snap)
	if view.Status != pairing.StatusPendingScan || view.Mode != "qr" {
		writeError(w, http.StatusConflict, "no_code", "no QR code is pending for this attempt")
		return
	}

	png, err := renderQR(view.Code)
	if err != nil {
		h.log.Error("pairing.qr.render.fail", "attempt_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "could not render QR code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, event string, err error) {
	switch {
	case errors.Is(err, pairing.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "pairing attempt not found")
	case errors.Is(err, pairing.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, pairing.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "unavailable", "server is shutting down")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
	default:
		h.log.Error(event, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// Payload converts a status view into its wire form. Pending QR codes carry
// an inline PNG data URL.
func Payload(view pairing.StatusView) v1.StatusPayload {
	p := v1.StatusPayload{
		Status:   string(view.Status),
		Code:     view.Code,
		Token:    view.Token,
		Identity: view.Identity,
		Detail:   view.Detail,
	}
	if view.Status == pairing.StatusPendingScan && view.Mode == "qr" {
		p.QRDataURL = qrDataURL(view.Code)
	}
	return p
}
