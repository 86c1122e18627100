package agents

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"gsuited/server"
)

// eventColorMap translates friendly color names to Calendar color IDs.
var eventColorMap = map[string]string{
	"lavender":  "1",
	"sage":      "2",
	"grape":     "3",
	"flamingo":  "4",
	"banana":    "5",
	"tangerine": "6",
	"peacock":   "7",
	"graphite":  "8",
	"blueberry": "9",
	"basil":     "10",
	"tomato":    "11",
}

// Calendar serves event operations backed by the Calendar v3 API.
type Calendar struct {
	base
}

// NewCalendar constructs the calendar agent.
func NewCalendar(app *server.App, opts ...option.ClientOption) *Calendar {
	return &Calendar{base: newBase(app, "calendar", opts)}
}

// Routes lays out the event endpoints.
func (c *Calendar) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/events/list", c.handleListEvents)
	r.Post("/event/create", c.handleCreateEvent)
	r.Post("/event/update", c.handleUpdateEvent)
	r.Post("/event/delete", c.handleDeleteEvent)
	return r
}

func (c *Calendar) service(w http.ResponseWriter, r *http.Request) (*calendar.Service, bool) {
	ts, ok := c.tokenSource(w, r)
	if !ok {
		return nil, false
	}
	svc, err := calendar.NewService(r.Context(), c.clientOptions(ts)...)
	if err != nil {
		c.logger.Error("build calendar service", "error", err)
		respondError(w, http.StatusInternalServerError, "server_error", "failed to build Calendar client")
		return nil, false
	}
	return svc, true
}

// handleListEvents lists single events ordered by start time. time_min and
// time_max are RFC 3339; when omitted the window defaults to today.
func (c *Calendar) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	calendarID := q.Get("calendar_id")
	if calendarID == "" {
		calendarID = "primary"
	}

	now := time.Now()
	timeMin := now.Truncate(24 * time.Hour)
	timeMax := timeMin.Add(24 * time.Hour)
	if raw := q.Get("time_min"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "'time_min' must be RFC 3339")
			return
		}
		timeMin = t
		timeMax = t.Add(24 * time.Hour)
	}
	if raw := q.Get("time_max"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "'time_max' must be RFC 3339")
			return
		}
		timeMax = t
	}

	maxResults := int64(50)
	if raw := q.Get("max_results"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "'max_results' must be a positive integer")
			return
		}
		maxResults = n
	}

	svc, ok := c.service(w, r)
	if !ok {
		return
	}

	result, err := svc.Events.List(calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		MaxResults(maxResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(r.Context()).Do()
	if err != nil {
		c.apiError(w, "events/list", err)
		return
	}

	respondOK(w, map[string]any{
		"calendar_id": calendarID,
		"events":      result.Items,
		"count":       len(result.Items),
	})
}

type createEventRequest struct {
	CalendarID      string   `json:"calendar_id"`
	Summary         string   `json:"summary"`
	Description     string   `json:"description"`
	Location        string   `json:"location"`
	Color           string   `json:"color"`
	Attendees       []string `json:"attendees"`
	RecurrenceRules []string `json:"recurrence_rules"`
	Timezone        string   `json:"timezone"`
	StartDateTime   string   `json:"start_datetime"`
	EndDateTime     string   `json:"end_datetime"`
	StartDate       string   `json:"start_date"`
	EndDate         string   `json:"end_date"`
}

func (c *Calendar) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Summary == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "event 'summary' is required")
		return
	}
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Location:    req.Location,
		Recurrence:  req.RecurrenceRules,
	}
	for _, email := range req.Attendees {
		if email != "" {
			event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
		}
	}
	if req.Color != "" {
		colorID, ok := resolveColorID(req.Color)
		if !ok {
			c.logger.Warn("invalid event color, using calendar default", "color", req.Color)
		} else {
			event.ColorId = colorID
		}
	}

	switch {
	case req.StartDateTime != "":
		start, err := time.Parse(time.RFC3339, req.StartDateTime)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "'start_datetime' must be RFC 3339")
			return
		}
		end := start.Add(time.Hour)
		if req.EndDateTime != "" {
			end, err = time.Parse(time.RFC3339, req.EndDateTime)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_request", "'end_datetime' must be RFC 3339")
				return
			}
		}
		event.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: req.Timezone}
		event.End = &calendar.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: req.Timezone}
	case req.StartDate != "":
		start, err := time.Parse("2006-01-02", req.StartDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_request", "'start_date' must be YYYY-MM-DD")
			return
		}
		// end date is exclusive in the Calendar API
		end := start.AddDate(0, 0, 1)
		if req.EndDate != "" {
			parsed, err := time.Parse("2006-01-02", req.EndDate)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_request", "'end_date' must be YYYY-MM-DD")
				return
			}
			end = parsed.AddDate(0, 0, 1)
		}
		event.Start = &calendar.EventDateTime{Date: start.Format("2006-01-02")}
		event.End = &calendar.EventDateTime{Date: end.Format("2006-01-02")}
	default:
		respondError(w, http.StatusBadRequest, "invalid_request", "either 'start_datetime' or 'start_date' is required")
		return
	}

	svc, ok := c.service(w, r)
	if !ok {
		return
	}

	created, err := svc.Events.Insert(calendarID, event).Context(r.Context()).Do()
	if err != nil {
		c.apiError(w, "event/create", err)
		return
	}

	respondOK(w, map[string]any{"message": "Event created successfully.", "event": created})
}

type updateEventRequest struct {
	CalendarID  string  `json:"calendar_id"`
	EventID     string  `json:"event_id"`
	Summary     *string `json:"summary"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	Color       *string `json:"color"`
}

func (c *Calendar) handleUpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req updateEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EventID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "'event_id' is required")
		return
	}
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	patch := &calendar.Event{}
	var touched []string
	if req.Summary != nil {
		patch.Summary = *req.Summary
		touched = append(touched, "Summary")
	}
	if req.Description != nil {
		patch.Description = *req.Description
		touched = append(touched, "Description")
	}
	if req.Location != nil {
		patch.Location = *req.Location
		touched = append(touched, "Location")
	}
	if req.Color != nil {
		if *req.Color == "" || strings.EqualFold(*req.Color, "default") {
			patch.ColorId = ""
			touched = append(touched, "ColorId")
		} else {
			colorID, ok := resolveColorID(*req.Color)
			if !ok {
				respondError(w, http.StatusBadRequest, "invalid_request", "invalid color value")
				return
			}
			patch.ColorId = colorID
			touched = append(touched, "ColorId")
		}
	}
	if len(touched) == 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "no updatable fields provided")
		return
	}
	// cleared string fields must still be serialized for a patch
	patch.ForceSendFields = touched

	svc, ok := c.service(w, r)
	if !ok {
		return
	}

	updated, err := svc.Events.Patch(calendarID, req.EventID, patch).Context(r.Context()).Do()
	if err != nil {
		c.apiError(w, "event/update", err)
		return
	}

	respondOK(w, map[string]any{"message": "Event updated successfully.", "event": updated})
}

type deleteEventRequest struct {
	CalendarID string `json:"calendar_id"`
	EventID    string `json:"event_id"`
}

func (c *Calendar) handleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	var req deleteEventRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.EventID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "'event_id' is required")
		return
	}
	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = "primary"
	}

	svc, ok := c.service(w, r)
	if !ok {
		return
	}

	if err := svc.Events.Delete(calendarID, req.EventID).Context(r.Context()).Do(); err != nil {
		c.apiError(w, "event/delete", err)
		return
	}

	respondOK(w, map[string]any{
		"message": "Event deletion processed.",
		"details": map[string]string{"eventId": req.EventID, "status": "deleted"},
	})
}

// resolveColorID accepts either a named color or a numeric ID from 1 to 11.
func resolveColorID(input string) (string, bool) {
	lower := strings.ToLower(input)
	if id, ok := eventColorMap[lower]; ok {
		return id, true
	}
	if n, err := strconv.Atoi(lower); err == nil && n >= 1 && n <= 11 {
		return lower, true
	}
	return "", false
}
