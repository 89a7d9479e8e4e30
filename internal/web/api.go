package web

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"calmerge/internal/calendar"
	"calmerge/internal/ics"
	appLog "calmerge/internal/log"
	"calmerge/internal/model"
	"calmerge/internal/recurrence"
)

const (
	defaultPreviewCount = 5
	maxPreviewCount     = 100
)

type rangeResponse struct {
	View      calendar.View `json:"view"`
	From      time.Time     `json:"from"`
	To        time.Time     `json:"to"`
	TimeZone  string        `json:"timezone"`
	WeekStart string        `json:"week_start"`
}

type eventsResponse struct {
	rangeResponse
	Events []model.CalendarEvent `json:"events"`
}

type mutationResponse struct {
	Kind  calendar.MutationKind `json:"kind"`
	Key   string                `json:"key"`
	State string                `json:"state"`
	Event *model.CalendarEvent  `json:"event,omitempty"`
}

type moveRequest struct {
	Date model.Date `json:"date"`
	Hour *int       `json:"hour"`
}

type resizeRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type occurrenceDTO struct {
	Index int        `json:"index"`
	Start time.Time  `json:"start"`
	End   *time.Time `json:"end,omitempty"`
}

type previewResponse struct {
	Rule        string          `json:"rule"`
	Enabled     bool            `json:"enabled"`
	Description string          `json:"description"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}

func (s *Server) describeRange(view calendar.View, win calendar.Range) rangeResponse {
	week := "monday"
	if s.weekStart == time.Sunday {
		week = "sunday"
	}
	return rangeResponse{
		View:      view,
		From:      win.From,
		To:        win.To,
		TimeZone:  s.agg.Location().String(),
		WeekStart: week,
	}
}

// GET /api/range?view=month&date=2024-01-17
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	view, win, err := s.window(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.describeRange(view, win))
}

// GET /api/events?view=&date=&branch=&assignee=&status=&source=
//
// The result replaces the server projection.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	view, win, err := s.window(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	f, err := filters(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	events, err := s.agg.Query(r.Context(), s.orgID, win, f)
	if err != nil {
		fail(w, r, err)
		return
	}
	s.projection.Reset(win, events)

	appLog.Debug("api events served",
		"view", view,
		"from", win.From.Format(time.RFC3339),
		"to", win.To.Format(time.RFC3339),
		"count", len(events),
	)
	writeJSON(w, http.StatusOK, eventsResponse{
		rangeResponse: s.describeRange(view, win),
		Events:        events,
	})
}

// POST /api/events
func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var draft model.EventDraft
	if err := decodeJSON(r, &draft); err != nil {
		fail(w, r, err)
		return
	}
	if draft.OrgID == "" {
		draft.OrgID = s.orgID
	}
	if draft.OrgID != s.orgID {
		fail(w, r, &calendar.ValidationError{Field: "org_id", Reason: "does not match the server organization"})
		return
	}

	ev, err := s.coord.Create(r.Context(), s.projection, draft)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// PATCH /api/events/{id}
func (s *Server) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var patch model.EventPatch
	if err := decodeJSON(r, &patch); err != nil {
		fail(w, r, err)
		return
	}
	m, err := s.coord.Update(r.Context(), s.projection, r.PathValue("id"), patch)
	s.writeMutation(w, r, m, err)
}

// DELETE /api/events/{id}
func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	m, err := s.coord.Delete(r.Context(), s.projection, r.PathValue("id"))
	s.writeMutation(w, r, m, err)
}

// POST /api/events/{id}/move {"date": "2024-01-10", "hour": 14}
func (s *Server) handleMoveEvent(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.Date.IsZero() {
		fail(w, r, &calendar.ValidationError{Field: "date", Reason: "required"})
		return
	}
	if req.Hour == nil {
		fail(w, r, &calendar.ValidationError{Field: "hour", Reason: "required"})
		return
	}
	m, err := s.coord.Move(r.Context(), s.projection, r.PathValue("id"), req.Date, *req.Hour)
	s.writeMutation(w, r, m, err)
}

// POST /api/events/{id}/resize {"start": RFC3339, "end": RFC3339}
func (s *Server) handleResizeEvent(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	m, err := s.coord.Resize(r.Context(), s.projection, r.PathValue("id"), req.Start, req.End)
	s.writeMutation(w, r, m, err)
}

func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, m *calendar.Mutation, err error) {
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{
		Kind:  m.Kind,
		Key:   m.Key.String(),
		State: m.State.String(),
		Event: m.After,
	})
}

// anchorID resolves the {id} path value to a manual anchor id. Exceptions
// only exist for manual anchors.
func anchorID(r *http.Request) (string, error) {
	key, err := model.ParseEventKey(r.PathValue("id"))
	if err != nil {
		return "", &calendar.ValidationError{Field: "id", Reason: err.Error()}
	}
	if !key.SourceType.Writable() {
		return "", &calendar.OwnershipViolationError{SourceType: key.SourceType, ID: key.SourceID}
	}
	if key.Occurrence != "" {
		return "", &calendar.ValidationError{Field: "id", Reason: "exceptions belong to the anchor, not an occurrence"}
	}
	return key.SourceID, nil
}

// GET /api/events/{id}/exceptions
func (s *Server) handleListExceptions(w http.ResponseWriter, r *http.Request) {
	id, err := anchorID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	list, err := s.exceptions.ListForAnchor(r.Context(), id)
	if err != nil {
		fail(w, r, &calendar.SourceUnavailableError{Source: model.SourceManual, Err: err})
		return
	}
	if list == nil {
		list = []model.CalendarException{}
	}
	writeJSON(w, http.StatusOK, list)
}

// POST /api/events/{id}/exceptions
func (s *Server) handleAddException(w http.ResponseWriter, r *http.Request) {
	id, err := anchorID(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var exc model.CalendarException
	if err := decodeJSON(r, &exc); err != nil {
		fail(w, r, err)
		return
	}
	if exc.OwnerID != "" && exc.OwnerID != id {
		fail(w, r, &calendar.ValidationError{Field: "owner_id", Reason: "does not match the path"})
		return
	}
	exc.OwnerID = id

	created, err := s.coord.AddException(r.Context(), exc)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// PUT /api/events/{id}/exceptions/{date}
func (s *Server) handleUpdateException(w http.ResponseWriter, r *http.Request) {
	id, date, err := exceptionRef(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	var exc model.CalendarException
	if err := decodeJSON(r, &exc); err != nil {
		fail(w, r, err)
		return
	}
	exc.OwnerID = id
	exc.OriginalDate = date

	if err := s.coord.UpdateException(r.Context(), exc); err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exc)
}

// DELETE /api/events/{id}/exceptions/{date}
func (s *Server) handleRemoveException(w http.ResponseWriter, r *http.Request) {
	id, date, err := exceptionRef(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	if err := s.coord.RemoveException(r.Context(), id, date); err != nil {
		fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func exceptionRef(r *http.Request) (string, model.Date, error) {
	id, err := anchorID(r)
	if err != nil {
		return "", model.Date{}, err
	}
	date, err := model.ParseDate(r.PathValue("date"))
	if err != nil {
		return "", model.Date{}, &calendar.ValidationError{Field: "date", Reason: err.Error()}
	}
	return id, date, nil
}

// GET /api/rules/preview?rule=FREQ=WEEKLY;BYDAY=MO&start=RFC3339&end=RFC3339&count=5
//
// start defaults to now. The preview never fails on a malformed rule; it
// reports the rule as disabled instead.
func (s *Server) handleRulePreview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rule := recurrence.Parse(q.Get("rule"))

	start := s.now().In(s.agg.Location()).Truncate(time.Minute)
	if v := strings.TrimSpace(q.Get("start")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			fail(w, r, &calendar.ValidationError{Field: "start", Reason: err.Error()})
			return
		}
		start = t
	}
	var end time.Time
	if v := strings.TrimSpace(q.Get("end")); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil || !t.After(start) {
			fail(w, r, &calendar.ValidationError{Field: "end", Reason: fmt.Sprintf("invalid end %q", v)})
			return
		}
		end = t
	}

	count := parseIntDefault(q.Get("count"), defaultPreviewCount)
	if count <= 0 {
		count = defaultPreviewCount
	}
	if count > maxPreviewCount {
		count = maxPreviewCount
	}

	resp := previewResponse{
		Rule:        rule.String(),
		Enabled:     rule.Enabled,
		Description: rule.Describe(),
		Occurrences: []occurrenceDTO{},
	}
	for _, o := range recurrence.Preview(start, end, rule, time.Time{}, count) {
		dto := occurrenceDTO{Index: o.Index, Start: o.Start}
		if !o.End.IsZero() {
			e := o.End
			dto.End = &e
		}
		resp.Occurrences = append(resp.Occurrences, dto)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /calendar.ics?view=&date=
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	_, win, err := s.window(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	f, err := filters(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	events, err := s.agg.Query(r.Context(), s.orgID, win, f)
	if err != nil {
		fail(w, r, err)
		return
	}

	body := ics.ExportICS(s.calendarName, events, s.now())
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}
