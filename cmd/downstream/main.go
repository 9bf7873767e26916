package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// Simple chat backend for exercising the gateway locally.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "downstream").Logger()
	s := &chatStore{messages: map[string]message{}}

	r := mux.NewRouter()
	r.HandleFunc("/api/auth/login", handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/register", handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/messages", s.list).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", s.create).Methods(http.MethodPost)
	r.HandleFunc("/api/messages/{id}", s.get).Methods(http.MethodGet)
	r.HandleFunc("/api/users/{id}", handleUser).Methods(http.MethodGet)
	r.HandleFunc("/socket", handleEvents)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	logger.Info().Msg("Downstream service listening on :8081")
	if err := http.ListenAndServe(":8081", r); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

type message struct {
	ID   string    `json:"id"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type chatStore struct {
	mu       sync.Mutex
	seq      int
	messages map[string]message
}

func (s *chatStore) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	out := make([]message, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, m)
	}
	s.mu.Unlock()
	w.Header().Set("Cache-Control", "max-age=2")
	writeJSON(w, http.StatusOK, out)
}

func (s *chatStore) create(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid message"})
		return
	}
	s.mu.Lock()
	s.seq++
	m := message{ID: fmt.Sprint(s.seq), Text: in.Text, At: time.Now().UTC()}
	s.messages[m.ID] = m
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, m)
}

func (s *chatStore) get(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	m, ok := s.messages[mux.Vars(r)["id"]]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "message not found"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func handleLogin(w http.ResponseWriter, r *http.Request) {
	// Simulate password hashing
	time.Sleep(50 * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]string{"token": "stub-token"})
}

func handleUser(w http.ResponseWriter, r *http.Request) {
	// Simulate slow endpoint
	time.Sleep(1200 * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]string{"id": mux.Vars(r)["id"], "name": "Alice"})
}

func handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	rc := http.NewResponseController(w)
	for i := 0; ; i++ {
		fmt.Fprintf(w, "data: {\"tick\":%d}\n\n", i)
		if err := rc.Flush(); err != nil {
			return
		}
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
