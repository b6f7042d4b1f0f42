package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	errorskg "github.com/sweetpotato0/esg-rag/errors"
	"github.com/sweetpotato0/esg-rag/middleware"
	"github.com/sweetpotato0/esg-rag/rag/esg"
	"github.com/sweetpotato0/esg-rag/session"
)

// maxBodyBytes bounds request bodies; history payloads dominate.
const maxBodyBytes = 1 << 20

type queryRequest struct {
	Question  string          `json:"question"`
	Mode      string          `json:"mode"`
	History   session.History `json:"history"`
	SessionID string          `json:"session_id"`
}

type queryResponse struct {
	Answer     string   `json:"answer"`
	AnswerHTML string   `json:"answer_html"`
	Sources    []string `json:"sources"`
	Guidance   bool     `json:"guidance"`
	SessionID  string   `json:"session_id,omitempty"`
}

type titleRequest struct {
	FirstUser string `json:"first_user"`
	SessionID string `json:"session_id"`
}

type summarizeRequest struct {
	Mode  string             `json:"mode"`
	Items []esg.Conversation `json:"items"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !s.decode(w, r, &req) {
		return
	}

	if req.SessionID == "" && s.sessions != nil {
		req.SessionID = s.newID()
	}

	mctx := middleware.NewContext(r.Context())
	mctx.Question = req.Question
	mctx.Mode = req.Mode
	mctx.History = req.History
	mctx.SessionID = req.SessionID
	mctx.Client = clientIP(r)

	if err := s.chain.Execute(mctx, middleware.AnswerHandler(s.pipeline)); err != nil {
		s.respondErr(w, err)
		return
	}
	resp := mctx.Response

	if s.sessions != nil {
		turn := session.Turn{User: req.Question, Assistant: resp.Answer}
		if _, err := s.sessions.Append(r.Context(), req.SessionID, req.Mode, turn); err != nil {
			// the answer is still delivered; history is best effort
			s.logger.Warn("failed to record turn", "session_id", req.SessionID, "error", err)
		}
	}

	s.respondJSON(w, http.StatusOK, queryResponse{
		Answer:     resp.Answer,
		AnswerHTML: s.renderHTML(resp.Answer),
		Sources:    resp.Sources,
		Guidance:   resp.Guidance,
		SessionID:  req.SessionID,
	})
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	var req titleRequest
	if !s.decode(w, r, &req) {
		return
	}
	title := s.pipeline.Title(r.Context(), req.FirstUser)
	if req.SessionID != "" && s.sessions != nil {
		if err := s.sessions.SetTitle(r.Context(), req.SessionID, title); err != nil {
			s.logger.Warn("failed to store title", "session_id", req.SessionID, "error", err)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"title": title})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !s.decode(w, r, &req) {
		return
	}
	summary, err := s.pipeline.Summarize(r.Context(), req.Mode, req.Items)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"summary":      summary,
		"summary_html": s.renderHTML(summary),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.respondError(w, http.StatusNotImplemented, "sessions not enabled")
		return
	}
	rec, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.respondError(w, http.StatusNotImplemented, "sessions not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// renderHTML converts Markdown answers for clients that cannot render it.
// Raw HTML in the answer is dropped.
func (s *Server) renderHTML(md string) string {
	var buf bytes.Buffer
	if err := s.md.Convert([]byte(md), &buf); err != nil {
		s.logger.Warn("markdown conversion failed", "error", err)
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// statusOf maps pipeline errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, errorskg.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errorskg.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errorskg.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errorskg.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		msg = "internal error"
	}
	s.respondJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
