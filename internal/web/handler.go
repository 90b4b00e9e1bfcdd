package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"absenbot/internal/checkin"
	"absenbot/internal/geofence"
	"absenbot/internal/ledger"
	"absenbot/internal/query"
)

// CheckInService records a normalized check-in.
type CheckInService interface {
	Submit(ctx context.Context, ev checkin.Event) (checkin.Outcome, error)
}

// QueryService reads the ledger.
type QueryService interface {
	Today(now time.Time) string
	Location() *time.Location
	GetDay(ctx context.Context, date string) ([]ledger.Record, error)
	GetAllDays(ctx context.Context) ([]query.Day, error)
}

// Handler serves the check-in API and the attendance pages.
type Handler struct {
	checkins CheckInService
	queries  QueryService
	logger   *slog.Logger
	now      func() time.Time
	baseURL  string
}

type Option func(h *Handler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// WithBaseURL sets the address advertised on the index page.
func WithBaseURL(url string) Option {
	return func(h *Handler) {
		h.baseURL = url
	}
}

// New creates a Handler.
func New(checkins CheckInService, queries QueryService, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		checkins: checkins,
		queries:  queries,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Get("/today", h.handleTodayPage)
	r.Get("/all", h.handleAllPage)
	r.Post("/api/absen", h.handleSubmit)
	r.Get("/api/today", h.handleTodayJSON)
	r.Get("/api/all", h.handleAllJSON)
}

// maxSubmitBytes caps the check-in request body.
const maxSubmitBytes = 1 << 20

type submitRequest struct {
	Name      string   `json:"name"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetReqID(ctx)

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	req, err := decodeSubmit(r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid check-in request",
			"request_id", requestID,
			"error", err.Error(),
		)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name required"})
		return
	}

	ev := checkin.Event{
		Identity:    "web:" + name,
		DisplayName: name,
		Method:      ledger.MethodWeb,
		ReceivedAt:  h.now(),
	}
	if req.Latitude != nil && req.Longitude != nil {
		ev.Coordinate = &geofence.Coordinate{Latitude: *req.Latitude, Longitude: *req.Longitude}
	}

	outcome, err := h.checkins.Submit(ctx, ev)
	if err != nil {
		if errors.Is(err, checkin.ErrMalformedInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		h.logger.ErrorContext(ctx, "failed to record web check-in",
			"request_id", requestID,
			"error", err.Error(),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to record attendance"})
		return
	}

	h.logger.InfoContext(ctx, "web check-in",
		"request_id", requestID,
		"name", name,
		"outcome", outcome.Kind.String(),
	)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// decodeSubmit accepts JSON bodies, url-encoded forms and multipart forms.
func decodeSubmit(r *http.Request) (submitRequest, error) {
	var req submitRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, err
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxSubmitBytes); err != nil {
			return req, err
		}
	default:
		err := json.NewDecoder(r.Body).Decode(&req)
		return req, err
	}

	req.Name = r.PostForm.Get("name")
	var err error
	if req.Latitude, err = formFloat(r, "latitude"); err != nil {
		return req, err
	}
	if req.Longitude, err = formFloat(r, "longitude"); err != nil {
		return req, err
	}
	return req, nil
}

func formFloat(r *http.Request, key string) (*float64, error) {
	raw := strings.TrimSpace(r.PostForm.Get(key))
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (h *Handler) handleTodayJSON(w http.ResponseWriter, r *http.Request) {
	day, ok := h.today(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, day)
}

func (h *Handler) handleAllJSON(w http.ResponseWriter, r *http.Request) {
	days, ok := h.allDays(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, days)
}

func (h *Handler) today(w http.ResponseWriter, r *http.Request) (dayView, bool) {
	ctx := r.Context()
	date := h.queries.Today(h.now())
	recs, err := h.queries.GetDay(ctx, date)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read today's ledger",
			"request_id", middleware.GetReqID(ctx),
			"error", err.Error(),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read attendance"})
		return dayView{}, false
	}
	return newDayView(date, recs, h.queries.Location()), true
}

func (h *Handler) allDays(w http.ResponseWriter, r *http.Request) ([]dayView, bool) {
	ctx := r.Context()
	days, err := h.queries.GetAllDays(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to read ledger",
			"request_id", middleware.GetReqID(ctx),
			"error", err.Error(),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to read attendance"})
		return nil, false
	}
	views := make([]dayView, 0, len(days))
	for _, d := range days {
		views = append(views, newDayView(d.Date, d.Records, h.queries.Location()))
	}
	return views, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
