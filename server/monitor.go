package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
	"golang.org/x/crypto/bcrypt"
)

const (
	adminUser      = "admin"
	requestTimeout = 5 * time.Second
)

// Monitor serves the relay feed and a small admin API over HTTP.
type Monitor struct {
	hub       *Hub
	engine    *Engine
	adminHash []byte // nil disables the admin API
	log       *logger.Logger
}

// NewMonitor hashes password with bcrypt. An empty password disables
// POST /api/broadcast.
func NewMonitor(hub *Hub, engine *Engine, password string, log *logger.Logger) (*Monitor, error) {
	m := &Monitor{hub: hub, engine: engine, log: log}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash admin password: %w", err)
		}
		m.adminHash = hash
	}
	return m, nil
}

type memberList struct {
	Groups  []string       `json:"groups"`
	Members []model.Member `json:"members"`
}

type broadcastResult struct {
	Recipients int `json:"recipients"`
}

func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", m.handleIndex)
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(m.hub, w, r)
	})
	mux.HandleFunc("/api/members", m.handleMembers)
	mux.HandleFunc("/api/broadcast", m.handleBroadcast)
	return mux
}

func (m *Monitor) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head>
    <title>nchat server</title>
    <style>
        body { font-family: sans-serif; text-align: center; padding-top: 50px; }
        code { background: #f4f4f4; padding: 5px; border-radius: 5px; }
    </style>
</head>
<body>
    <h1>nchat relay on %s</h1>
    <p>Chat traffic is UDP. This page is only the monitor.</p>
    <p>Live feed: <code>/ws</code>, members: <code>/api/members</code></p>
</body>
</html>
`, m.engine.localAddr())
}

func (m *Monitor) handleMembers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var list memberList
	err := m.engine.Do(ctx, func(e *Engine) {
		list.Groups = e.State().Groups()
		list.Members = e.State().Members()
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, list)
}

func (m *Monitor) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if m.adminHash == nil {
		http.Error(w, "admin api disabled", http.StatusForbidden)
		return
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != adminUser || bcrypt.CompareHashAndPassword(m.adminHash, []byte(pass)) != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="nchat"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		m.log.WithField("remote", r.RemoteAddr).Warn("rejected admin broadcast")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, model.MaxDatagramSize/2))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(string(body))
	if text == "" {
		http.Error(w, "empty message", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()
	var result broadcastResult
	if err := m.engine.Do(ctx, func(e *Engine) { result.Recipients = e.Announce(text) }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	m.log.Infof("admin broadcast to %d members", result.Recipients)
	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
