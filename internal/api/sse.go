package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tuukaa/rag-gateway/internal/models"
)

// heartbeatInterval is the longest quiet gap the stream tolerates
// before a comment event keeps the connection warm.
const heartbeatInterval = 5 * time.Second

// sseWriter serializes event writes and interleaves heartbeat
// comments when content stalls. Events go out strictly in the order
// they are written.
type sseWriter struct {
	w    http.ResponseWriter
	f    http.Flusher
	mu   sync.Mutex
	last time.Time
	done chan struct{}
}

func newSSEWriter(w http.ResponseWriter, f http.Flusher) *sseWriter {
	s := &sseWriter{w: w, f: f, last: time.Now(), done: make(chan struct{})}
	go s.heartbeat()
	return s
}

func (s *sseWriter) heartbeat() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if time.Since(s.last) >= heartbeatInterval {
				fmt.Fprint(s.w, ": ping\n\n")
				s.f.Flush()
				s.last = time.Now()
			}
			s.mu.Unlock()
		}
	}
}

func (s *sseWriter) data(line string) {
	s.mu.Lock()
	fmt.Fprintf(s.w, "data: %s\n\n", line)
	s.f.Flush()
	s.last = time.Now()
	s.mu.Unlock()
}

func (s *sseWriter) event(name string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data)
	s.f.Flush()
	s.last = time.Now()
	s.mu.Unlock()
}

func (s *sseWriter) close() {
	close(s.done)
}

// wantsStream reports whether the client negotiated an event stream.
func wantsStream(r *http.Request) bool {
	return strings.Contains(strings.ToLower(r.Header.Get("Accept")), "text/event-stream")
}

// streamAnswer delivers a fully generated answer as an event stream:
// one empty keep-alive event, the answer line by line, then a final
// summary event with the token and cost figures. The charge was
// committed before streaming began, so a client disconnect only stops
// emission.
func streamAnswer(w http.ResponseWriter, r *http.Request, resp *models.AnswerResponse) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	s := newSSEWriter(w, flusher)
	defer s.close()

	s.data("")

	for _, line := range strings.Split(resp.Answer, "\n") {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		s.data(line)
	}

	s.event("summary", map[string]any{
		"citations": resp.Citations,
		"llm_model": resp.LLMModel,
		"tokens":    resp.Tokens,
		"cost_jpy":  resp.CostJPY,
	})
}
