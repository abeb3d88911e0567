// Package server exposes the assistant over HTTP: JSON or SSE for chat,
// multipart uploads for voice, and an artifact endpoint for synthesized
// audio.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"sync"

	"aide/internal/assistant"
	"aide/internal/llm"
	"aide/internal/persona"
	"aide/internal/stt"
	"aide/internal/tts"
)

// maxUploadBytes bounds audio uploads (the transcription API refuses
// anything larger anyway).
const maxUploadBytes = 25 << 20

type Dependencies struct {
	Completer   llm.Completer
	Synthesizer tts.Synthesizer
	Transcriber stt.Transcriber
	Store       *tts.Store
	Persona     persona.Persona
	Session     assistant.Config
}

type Server struct {
	deps Dependencies

	mu       sync.Mutex
	sessions map[string]*assistant.Session
}

func New(deps Dependencies) *Server {
	return &Server{
		deps:     deps,
		sessions: make(map[string]*assistant.Session),
	}
}

func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("POST /transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /tts", s.handleTTS)
	mux.HandleFunc("POST /voice", s.handleVoice)
	mux.HandleFunc("GET /audio/{id}", s.handleAudio)
	mux.HandleFunc("POST /clear", s.handleClear)
	mux.HandleFunc("GET /persona", s.handlePersona)
	mux.HandleFunc("GET /ws/chat", s.handleWSChat)
}

// session returns the conversation for id, creating a fresh one when id is
// empty or unknown.
func (s *Server) session(id string) *assistant.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			return sess
		}
	}
	sess := assistant.New(assistant.Deps{
		Completer:   s.deps.Completer,
		Synthesizer: s.deps.Synthesizer,
		Transcriber: s.deps.Transcriber,
		Store:       s.deps.Store,
		Persona:     s.deps.Persona,
	}, s.deps.Session)
	s.sessions[sess.ID()] = sess
	return sess
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
	Stream         *bool  `json:"stream,omitempty"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
	AudioURL       string `json:"audioUrl,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}

	streaming := req.Stream == nil || *req.Stream
	sess := s.session(req.ConversationID)

	if !streaming {
		reply, err := sess.Ask(r.Context(), req.Message)
		if err != nil {
			writeTurnError(w, err)
			return
		}
		resp := chatResponse{Reply: reply.Answer, ConversationID: reply.ConversationID}
		if reply.ArtifactID != "" {
			resp.AudioURL = "/audio/" + reply.ArtifactID
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	events, err := sess.AskStream(r.Context(), req.Message)
	if err != nil {
		writeTurnError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(v any) {
		raw, err := json.Marshal(v)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}

	send(map[string]string{"type": "conversation_id", "conversationId": sess.ID()})
	for ev := range events {
		switch {
		case ev.Err != nil:
			send(map[string]string{"type": "error", "error": ev.Err.Error()})
			return
		case ev.Done:
			send(map[string]string{"type": "end"})
			return
		default:
			send(map[string]string{"type": "content", "content": ev.Text})
		}
	}
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	audio, hint, ok := readUpload(w, r)
	if !ok {
		return
	}
	text, err := s.deps.Transcriber.Transcribe(r.Context(), audio, hint)
	if err != nil {
		log.Error("transcription failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "transcription failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type ttsRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeDetail(w, http.StatusBadRequest, "missing text")
		return
	}
	art, err := s.deps.Synthesizer.Synthesize(r.Context(), req.Text)
	if err != nil {
		log.Error("synthesis failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "synthesis failed")
		return
	}
	// One-shot artifact: served inline and reclaimed immediately.
	defer func() {
		if s.deps.Store != nil {
			_ = s.deps.Store.Remove(art.ID)
		}
	}()

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", "inline; filename=speech.wav")
	http.ServeFile(w, r, art.Path)
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	audio, hint, ok := readUpload(w, r)
	if !ok {
		return
	}
	sess := s.session(r.FormValue("conversationId"))

	reply, err := sess.AskVoice(r.Context(), audio, hint)
	if errors.Is(err, assistant.ErrNoInput) {
		writeDetail(w, http.StatusBadRequest, "No speech detected")
		return
	}
	if err != nil {
		writeTurnError(w, err)
		return
	}

	resp := map[string]string{
		"question":       reply.Question,
		"answer":         reply.Answer,
		"conversationId": reply.ConversationID,
	}
	if reply.ArtifactID != "" {
		resp["audio_url"] = "/audio/" + reply.ArtifactID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	path, ok := s.deps.Store.Path(r.PathValue("id"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "audio not found")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	http.ServeFile(w, r, path)
}

type clearRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req clearRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	var targets []*assistant.Session
	if req.ConversationID != "" {
		if sess, ok := s.sessions[req.ConversationID]; ok {
			targets = append(targets, sess)
		}
	} else {
		for _, sess := range s.sessions {
			targets = append(targets, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range targets {
		sess.Clear()
	}
	if req.ConversationID == "" && s.deps.Store != nil {
		if err := s.deps.Store.Clear(); err != nil {
			log.Warn("failed to clear audio artifacts", "err", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handlePersona(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    s.deps.Persona.Name,
		"profile": s.deps.Persona.Profile,
	})
}

// readUpload pulls the audio file out of a multipart form, accepting the
// field names both frontend generations used.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	file, hdr, err := r.FormFile("audio_file")
	if err != nil {
		file, hdr, err = r.FormFile("file")
	}
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "missing form file 'audio_file' or 'file'")
		return nil, "", false
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "failed to read upload")
		return nil, "", false
	}
	return audio, hdr.Filename, true
}

// writeTurnError maps orchestrator failures to transport status codes.
func writeTurnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, assistant.ErrNoInput):
		writeDetail(w, http.StatusBadRequest, "empty input")
	case errors.Is(err, llm.ErrRefused):
		writeDetail(w, http.StatusBadGateway, "completion request refused")
	case errors.Is(err, llm.ErrUpstreamTimeout):
		writeDetail(w, http.StatusGatewayTimeout, "completion timed out")
	default:
		log.Error("turn failed", "err", err)
		writeDetail(w, http.StatusInternalServerError, "chat failed")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
