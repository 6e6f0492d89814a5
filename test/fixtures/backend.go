package fixtures

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/eliteGoblin/focusd/class_mon/internal/domain"
)

// FakeBackend is an in-process supervision server.
type FakeBackend struct {
	*httptest.Server

	mu         sync.Mutex
	token      string
	pending    []domain.Command
	heartbeats []domain.HeartbeatRequest
	alerts     []domain.AlertEvent
	acked      []string
}

// NewFakeBackend starts a backend that accepts token.
func NewFakeBackend(token string) *FakeBackend {
	b := &FakeBackend{token: token}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/devices/heartbeat", b.handleHeartbeat)
	mux.HandleFunc("/api/alerts", b.handleAlert)
	mux.HandleFunc("/api/commands/", b.handleAck)
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {})
	b.Server = httptest.NewServer(mux)
	return b
}

// Queue adds commands to the next heartbeat response.
func (b *FakeBackend) Queue(cmds ...domain.Command) {
	b.mu.Lock()
	b.pending = append(b.pending, cmds...)
	b.mu.Unlock()
}

// Heartbeats returns received heartbeats.
func (b *FakeBackend) Heartbeats() []domain.HeartbeatRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.HeartbeatRequest(nil), b.heartbeats...)
}

// Alerts returns received alerts.
func (b *FakeBackend) Alerts() []domain.AlertEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.AlertEvent(nil), b.alerts...)
}

// Acked returns acknowledged command ids.
func (b *FakeBackend) Acked() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.acked...)
}

func (b *FakeBackend) authorized(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Authorization") != "Bearer "+b.token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (b *FakeBackend) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(w, r) {
		return
	}
	var hb domain.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.heartbeats = append(b.heartbeats, hb)
	cmds := b.pending
	b.pending = nil
	b.mu.Unlock()

	writeJSON(w, domain.ServerResponse{Success: true, Commands: cmds})
}

func (b *FakeBackend) handleAlert(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(w, r) {
		return
	}
	var alert domain.AlertEvent
	if err := json.NewDecoder(r.Body).Decode(&alert); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	b.mu.Lock()
	b.alerts = append(b.alerts, alert)
	b.mu.Unlock()
	writeJSON(w, domain.ServerResponse{Success: true})
}

func (b *FakeBackend) handleAck(w http.ResponseWriter, r *http.Request) {
	if !b.authorized(w, r) {
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/commands/"), "/ack")
	b.mu.Lock()
	b.acked = append(b.acked, id)
	b.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
