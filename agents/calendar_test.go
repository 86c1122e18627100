package agents

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"gsuited/server"
)

func TestResolveColorID(t *testing.T) {
	cases := []struct {
		input string
		want  string
		ok    bool
	}{
		{"lavender", "1", true},
		{"Tomato", "11", true},
		{"7", "7", true},
		{"0", "", false},
		{"12", "", false},
		{"chartreuse", "", false},
	}
	for _, tc := range cases {
		got, ok := resolveColorID(tc.input)
		if ok != tc.ok || got != tc.want {
			t.Errorf("resolveColorID(%q) = (%q, %v), want (%q, %v)", tc.input, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCalendarCreateAllDayEvent(t *testing.T) {
	app, cookie, sid := newAgentApp(t)
	seedCredential(app, sid, server.ScopeCalendarEvents)

	fake := newFakeGoogleAPI(t, func(w http.ResponseWriter, r *http.Request, body []byte) bool {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"evt-1","summary":"Offsite"}`))
		return true
	})
	handler := app.Routes(Mount(app, fake.options()...))

	var resp struct {
		Success bool `json:"success"`
	}
	status := doJSON(t, handler, http.MethodPost, "/calendar/event/create", cookie,
		`{"summary":"Offsite","start_date":"2026-08-27","color":"sage"}`, &resp)
	if status != http.StatusOK {
		t.Fatalf("unexpected status: %d", status)
	}
	if !resp.Success {
		t.Fatalf("expected success")
	}

	var found bool
	for _, rec := range fake.requests {
		if rec.Method != http.MethodPost || !strings.Contains(rec.Path, "/events") {
			continue
		}
		found = true
		var event struct {
			ColorID string `json:"colorId"`
			Start   struct {
				Date string `json:"date"`
			} `json:"start"`
			End struct {
				Date string `json:"date"`
			} `json:"end"`
		}
		if err := json.Unmarshal(rec.Body, &event); err != nil {
			t.Fatalf("decode insert body: %v", err)
		}
		if event.Start.Date != "2026-08-27" {
			t.Fatalf("unexpected start date: %q", event.Start.Date)
		}
		// A single-day event ends on the next day; the end date is exclusive.
		if event.End.Date != "2026-08-28" {
			t.Fatalf("unexpected end date: %q", event.End.Date)
		}
		if event.ColorID != "2" {
			t.Fatalf("sage should map to color 2, got %q", event.ColorID)
		}
	}
	if !found {
		t.Fatalf("no insert reached the API; requests: %+v", fake.requests)
	}
}

func TestCalendarCreateRejectsMissingStart(t *testing.T) {
	app, cookie, sid := newAgentApp(t)
	seedCredential(app, sid, server.ScopeCalendarEvents)
	handler := app.Routes(Mount(app))

	status := doJSON(t, handler, http.MethodPost, "/calendar/event/create", cookie,
		`{"summary":"No time"}`, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", status)
	}
}

func TestCalendarUpdateRejectsInvalidColor(t *testing.T) {
	app, cookie, sid := newAgentApp(t)
	seedCredential(app, sid, server.ScopeCalendarEvents)
	handler := app.Routes(Mount(app))

	status := doJSON(t, handler, http.MethodPost, "/calendar/event/update", cookie,
		`{"event_id":"evt-1","color":"chartreuse"}`, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", status)
	}
}
