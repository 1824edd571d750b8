package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/service/relay"
	"meeting-translation-relay/internal/store"
)

const storeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Meeting bots connect from arbitrary origins; access is gated by bearerAuth.
	CheckOrigin: func(*http.Request) bool { return true },
}

type handlers struct {
	deps Deps
}

// relay upgrades the request and serves it as an ingest connection until the
// client leaves or the server shuts down.
func (h *handlers) relay(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.deps.Base, cancel)
	defer stop()

	if err := h.deps.Manager.Serve(ctx, newWSChannel(conn), "websocket"); err != nil {
		log.Warn().Err(err).Msg("Relay connection ended with error")
	}
}

// listen streams every client event of a live session to an observer.
func (h *handlers) listen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	l, err := h.deps.Manager.Subscribe(id)
	if errors.Is(err, relay.ErrNotRelayed) {
		writeError(w, http.StatusNotFound, "session is not being relayed")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer l.Close()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("WebSocket upgrade failed")
		return
	}
	ch := newWSChannel(conn)
	defer ch.Close()

	// Observers only read. Draining their input surfaces the close frame.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, err := ch.Receive(context.Background()); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case data, ok := <-l.Events():
			if !ok {
				return
			}
			if err := ch.Send(r.Context(), data); err != nil {
				return
			}
		case <-gone:
			return
		case <-h.deps.Base.Done():
			return
		}
	}
}

type createSessionRequest struct {
	ID             string          `json:"id,omitempty"`
	Platform       models.Platform `json:"platform"`
	SourceLanguage string          `json:"sourceLanguage"`
	TargetLanguage string          `json:"targetLanguage"`
	VoiceID        string          `json:"voiceId,omitempty"`
	CustomerID     string          `json:"customerId,omitempty"`
}

// createSession registers a session in initializing so an ingest connection
// can pick it up.
func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Platform.Valid() {
		writeError(w, http.StatusBadRequest, "platform must be zoom, meet or teams")
		return
	}
	source, err := models.CanonicalLanguage(req.SourceLanguage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := models.CanonicalLanguage(req.TargetLanguage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	} else if _, err := uuid.Parse(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	if _, err := h.deps.Sessions.Get(ctx, req.ID); err == nil {
		writeError(w, http.StatusConflict, "session already exists")
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	sess := &models.Session{
		ID:             req.ID,
		Platform:       req.Platform,
		SourceLanguage: source,
		TargetLanguage: target,
		VoiceID:        req.VoiceID,
		CustomerID:     req.CustomerID,
		Status:         models.StatusInitializing,
	}
	if err := h.deps.Sessions.Upsert(ctx, sess); err != nil {
		log.Error().Err(err).Str("sessionId", sess.ID).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	stored, err := h.deps.Sessions.Get(ctx, sess.ID)
	if err != nil {
		stored = sess
	}
	log.Info().Str("sessionId", sess.ID).Str("platform", string(sess.Platform)).Msg("Session created")
	writeJSON(w, http.StatusCreated, stored)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	sess, err := h.deps.Sessions.Get(ctx, chi.URLParam(r, "sessionID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// liveSessions lists the sessions this instance is relaying right now.
func (h *handlers) liveSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": h.deps.Manager.Sessions()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
