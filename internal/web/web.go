package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"calmerge/internal/calendar"
	appLog "calmerge/internal/log"
	"calmerge/internal/model"
)

// Server exposes the aggregation engine over a JSON API.
//
// It keeps one Projection: the window most recently served by
// GET /api/events. Mutations are applied to it optimistically and rolled
// back by the coordinator when the write fails.
type Server struct {
	agg        *calendar.Aggregator
	coord      *calendar.Coordinator
	exceptions calendar.ExceptionStore

	orgID        string
	weekStart    time.Weekday
	calendarName string
	now          func() time.Time

	mux        *http.ServeMux
	projection *calendar.Projection
}

// Deps are the collaborators a Server serves.
type Deps struct {
	Aggregator  *calendar.Aggregator
	Coordinator *calendar.Coordinator
	Exceptions  calendar.ExceptionStore

	OrgID        string
	WeekStart    time.Weekday
	CalendarName string
	// Now defaults to time.Now; tests pin it.
	Now func() time.Time
}

// NewServer constructs a new Server.
func NewServer(d Deps) *Server {
	s := &Server{
		agg:          d.Aggregator,
		coord:        d.Coordinator,
		exceptions:   d.Exceptions,
		orgID:        d.OrgID,
		weekStart:    d.WeekStart,
		calendarName: d.CalendarName,
		now:          d.Now,
		mux:          http.NewServeMux(),
		projection:   calendar.NewProjection(calendar.Range{}, nil),
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.calendarName == "" {
		s.calendarName = "calmerge"
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Projection is the window the server currently presents.
func (s *Server) Projection() *calendar.Projection {
	return s.projection
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/range", s.handleRange)
	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}", s.handleUpdateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("POST /api/events/{id}/move", s.handleMoveEvent)
	s.mux.HandleFunc("POST /api/events/{id}/resize", s.handleResizeEvent)
	s.mux.HandleFunc("GET /api/events/{id}/exceptions", s.handleListExceptions)
	s.mux.HandleFunc("POST /api/events/{id}/exceptions", s.handleAddException)
	s.mux.HandleFunc("PUT /api/events/{id}/exceptions/{date}", s.handleUpdateException)
	s.mux.HandleFunc("DELETE /api/events/{id}/exceptions/{date}", s.handleRemoveException)
	s.mux.HandleFunc("GET /api/rules/preview", s.handleRulePreview)
	s.mux.HandleFunc("GET /calendar.ics", s.handleExport)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// window resolves ?view= and ?date= (YYYY-MM-DD, default today) into the
// view's range in the engine's location.
func (s *Server) window(r *http.Request) (calendar.View, calendar.Range, error) {
	q := r.URL.Query()
	view, err := calendar.ParseView(q.Get("view"))
	if err != nil {
		return "", calendar.Range{}, err
	}

	loc := s.agg.Location()
	ref := s.now().In(loc)
	if ds := strings.TrimSpace(q.Get("date")); ds != "" {
		d, err := model.ParseDate(ds)
		if err != nil {
			return "", calendar.Range{}, &calendar.ValidationError{Field: "date", Reason: err.Error()}
		}
		ref = d.In(loc)
	}
	return view, calendar.RangeFor(view, ref, s.weekStart), nil
}

// filters reads branch, assignee, status and source. status and source
// accept comma-separated lists.
func filters(r *http.Request) (model.Filters, error) {
	q := r.URL.Query()
	f := model.Filters{
		BranchID:   strings.TrimSpace(q.Get("branch")),
		AssigneeID: strings.TrimSpace(q.Get("assignee")),
	}
	for _, v := range splitList(q.Get("status")) {
		st, err := model.ParseStatus(v)
		if err != nil {
			return f, &calendar.ValidationError{Field: "status", Reason: err.Error()}
		}
		f.Statuses = append(f.Statuses, st)
	}
	for _, v := range splitList(q.Get("source")) {
		st, err := model.ParseSourceType(v)
		if err != nil {
			return f, &calendar.ValidationError{Field: "source", Reason: err.Error()}
		}
		f.SourceTypes = append(f.SourceTypes, st)
	}
	return f, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, calendar.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, calendar.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrOwnershipViolation):
		return http.StatusForbidden
	case errors.Is(err, calendar.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, calendar.ErrWriteConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server-side failures are logged;
// client errors are not.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError || status == http.StatusConflict {
		appLog.Error("api request failed", err, "method", r.Method, "path", r.URL.Path, "status", status)
	}
	writeError(w, status, err.Error())
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &calendar.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
