package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/foxseedlab/stagewarden/internal/session"
)

type stubSource struct {
	sessions []session.SessionInfo
	queue    []session.QueueEntry
}

func (s stubSource) Sessions() []session.SessionInfo    { return s.sessions }
func (s stubSource) QueueEntries() []session.QueueEntry { return s.queue }

func TestHandler_Routes(t *testing.T) {
	h := NewHandler(stubSource{
		sessions: []session.SessionInfo{{UserID: "u1", ChannelID: "c1", State: "flagged", ElapsedSeconds: 2700}},
		queue:    []session.QueueEntry{{ShortLabel: "<@u2>", URL: "https://discord.com/channels/g/t/m"}},
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	var sessions []session.SessionInfo
	if err := json.NewDecoder(rec.Body).Decode(&sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].State != "flagged" || sessions[0].ElapsedSeconds != 2700 {
		t.Fatalf("unexpected sessions %+v", sessions)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/moderation-queue", nil))
	var queue []session.QueueEntry
	if err := json.NewDecoder(rec.Body).Decode(&queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(queue) != 1 || queue[0].ShortLabel != "<@u2>" {
		t.Fatalf("unexpected queue %+v", queue)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sessions", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /sessions status = %d", rec.Code)
	}
}
