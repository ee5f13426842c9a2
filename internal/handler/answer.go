// Package handler implements HTTP handlers for the answer API.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/db"
	authmw "github.com/jharjadi/pro-rag/answer-api-go/internal/middleware"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
	"github.com/jharjadi/pro-rag/answer-api-go/internal/service"
)

// Answerer produces answers and citations.
type Answerer interface {
	Model() string
	Stream(ctx context.Context, systemInstruction, question string, w func(string) error) (*service.StreamResult, error)
	Cite(ctx context.Context, systemInstruction, question, streamedAnswer string) *service.CitationResult
	Align(metaText, targetText string, gm *model.GroundingMetadata) *service.CitationResult
	Answer(ctx context.Context, systemInstruction, question string) (*model.AnswerResponse, error)
}

// SessionStore persists answer sessions. Optional: without it streams carry
// no session id and citations must be requested with the streamed text.
type SessionStore interface {
	Create(ctx context.Context, clientID, systemInstruction, question, questionHash string) (*model.AnswerSession, error)
	FinishStream(ctx context.Context, id uuid.UUID, streamedAnswer string, streamErr error) error
	SaveCitations(ctx context.Context, id uuid.UUID, payload *model.CitationPayload) error
	Get(ctx context.Context, id uuid.UUID) (*model.AnswerSession, error)
}

// AnswerHandler handles the /v1/answer endpoints, /v1/align and session lookup.
type AnswerHandler struct {
	svc      Answerer
	sessions SessionStore
}

// NewAnswerHandler creates a new AnswerHandler. sessions may be nil.
func NewAnswerHandler(svc Answerer, sessions SessionStore) *AnswerHandler {
	return &AnswerHandler{svc: svc, sessions: sessions}
}

// Answer handles POST /v1/answer: one non-streamed generation returned with
// its grounding renumbered but not re-aligned.
func (h *AnswerHandler) Answer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimw.GetReqID(ctx)

	var req model.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question is required")
		return
	}

	resp, err := h.svc.Answer(ctx, req.SystemInstruction, req.Question)
	if err != nil {
		slog.Error("LLM call failed", "error", err, "request_id", requestID)
		writeError(w, http.StatusBadGateway, "llm_unavailable", "LLM service unavailable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// streamErrorTrailer is set when a stream fails after text was sent.
const streamErrorTrailer = "X-Stream-Error"

// Stream handles POST /v1/answer/stream. The answer is written as chunked
// text/plain; the status line is sent with the first chunk so a request that
// fails before producing any text still gets a JSON error.
func (h *AnswerHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chimw.GetReqID(ctx)
	start := time.Now()

	var req model.AnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question is required")
		return
	}

	var sess *model.AnswerSession
	if h.sessions != nil {
		s, err := h.sessions.Create(ctx, authmw.ClientIDFromContext(ctx), req.SystemInstruction, req.Question, hashQuestion(req.Question))
		if err != nil {
			slog.Error("failed to create session", "error", err, "request_id", requestID)
		} else {
			sess = s
		}
	}

	flusher, _ := w.(http.Flusher)
	started := false
	write := func(chunk string) error {
		if !started {
			started = true
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Trailer", streamErrorTrailer)
			if sess != nil {
				w.Header().Set("X-Session-ID", sess.SessionID.String())
			}
			w.WriteHeader(http.StatusOK)
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	res, err := h.svc.Stream(ctx, req.SystemInstruction, req.Question, write)

	if sess != nil {
		text := ""
		if res != nil {
			text = res.Text
		}
		if ferr := h.sessions.FinishStream(context.WithoutCancel(ctx), sess.SessionID, text, err); ferr != nil {
			slog.Error("failed to finish session", "error", ferr, "request_id", requestID)
		}
	}

	attrs := []any{
		"request_id", requestID,
		"client_id", authmw.ClientIDFromContext(ctx),
		"question_hash", hashQuestion(req.Question),
		"latency_ms_total", time.Since(start).Milliseconds(),
		"llm_model", h.svc.Model(),
	}
	if res != nil {
		attrs = append(attrs, "attempts", res.Attempts, "fallback_used", res.FallbackUsed, "answer_len", len([]rune(res.Text)))
	}
	if err != nil {
		slog.Error("stream failed", append(attrs, "error", err)...)
		if !started {
			writeError(w, http.StatusBadGateway, "llm_unavailable", "LLM service unavailable")
			return
		}
		// Headers are gone; the trailer marks the body as cut off.
		w.Header().Set(streamErrorTrailer, "llm_unavailable")
		return
	}
	slog.Info("stream", attrs...)
}

// Citations handles POST /v1/answer/citations. It regenerates the answer
// without streaming and aligns the resulting grounding onto the streamed
// text, given inline or by session id. A failed generation still answers 200
// with an empty payload.
func (h *AnswerHandler) Citations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	totalStart := time.Now()
	requestID := chimw.GetReqID(ctx)

	var req model.CitationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}

	var sessionID uuid.UUID
	if req.SessionID != "" {
		sess, status, msg := h.loadSession(ctx, req.SessionID)
		if sess == nil {
			writeError(w, status, errorCode(status), msg)
			return
		}
		if !canAccessSession(ctx, sess) {
			writeError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if sess.Status == model.SessionStreaming {
			writeError(w, http.StatusConflict, "conflict", "stream has not finished")
			return
		}
		sessionID = sess.SessionID
		req.SystemInstruction = sess.SystemInstruction
		req.Question = sess.Question
		req.StreamedAnswer = sess.StreamedAnswer
	}

	if req.Question == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "question is required")
		return
	}

	clog := &model.CitationLog{
		Timestamp:     time.Now().UTC(),
		ClientID:      authmw.ClientIDFromContext(ctx),
		RequestID:     requestID,
		SessionID:     req.SessionID,
		QuestionHash:  hashQuestion(req.Question),
		TargetTextLen: len([]rune(req.StreamedAnswer)),
		LLMModel:      h.svc.Model(),
	}

	res := h.svc.Cite(ctx, req.SystemInstruction, req.Question, req.StreamedAnswer)
	fillCitationLog(clog, res)

	if sessionID != uuid.Nil && res.LLMError == nil {
		if err := h.sessions.SaveCitations(ctx, sessionID, res.Payload); err != nil {
			slog.Error("failed to save citations", "error", err, "request_id", requestID)
		}
	}

	writeJSON(w, http.StatusOK, res.Payload)
	emitCitationLog(clog, http.StatusOK, totalStart)
}

// Align handles POST /v1/align: the alignment engine on caller-supplied
// metadata, without a model call.
func (h *AnswerHandler) Align(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	totalStart := time.Now()

	var req model.AlignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}

	clog := &model.CitationLog{
		Timestamp:     time.Now().UTC(),
		ClientID:      authmw.ClientIDFromContext(ctx),
		RequestID:     chimw.GetReqID(ctx),
		TargetTextLen: len([]rune(req.TargetText)),
	}

	res := h.svc.Align(req.MetaText, req.TargetText, req.GroundingMetadata)
	fillCitationLog(clog, res)

	writeJSON(w, http.StatusOK, res.Payload)
	emitCitationLog(clog, http.StatusOK, totalStart)
}

// GetSession handles GET /v1/sessions/{id}.
func (h *AnswerHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, status, msg := h.loadSession(r.Context(), chi.URLParam(r, "id"))
	if sess == nil {
		writeError(w, status, errorCode(status), msg)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// loadSession returns the session, or nil with the HTTP status and message
// to report.
func (h *AnswerHandler) loadSession(ctx context.Context, rawID string) (*model.AnswerSession, int, string) {
	if h.sessions == nil {
		return nil, http.StatusServiceUnavailable, "sessions require DATABASE_URL"
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, http.StatusBadRequest, "invalid session id"
	}
	sess, err := h.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			return nil, http.StatusNotFound, "session not found"
		}
		slog.Error("failed to load session", "error", err, "session_id", rawID)
		return nil, http.StatusInternalServerError, "failed to load session"
	}
	return sess, 0, ""
}

// canAccessSession reports whether the caller owns sess. Admins see every session.
func canAccessSession(ctx context.Context, sess *model.AnswerSession) bool {
	return authmw.RoleFromContext(ctx) == "admin" || sess.ClientID == authmw.ClientIDFromContext(ctx)
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusServiceUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

func fillCitationLog(clog *model.CitationLog, res *service.CitationResult) {
	clog.MetaTextLen = res.MetaTextLen
	clog.NumSources = len(res.Payload.Sources)
	clog.NumRawSupports = res.Stats.RawSupports
	clog.NumSupports = len(res.Payload.Supports)
	clog.NumQueries = len(res.Payload.Queries)
	clog.WindowMatches = res.Stats.Window
	clog.GlobalMatches = res.Stats.Global
	clog.Estimates = res.Stats.Estimate
	clog.FallbackUsed = res.Stats.FallbackUsed
	clog.LatencyMSLLM = res.LLMLatency.Milliseconds()
	clog.LatencyMSAlign = res.AlignLatency.Milliseconds()
	if res.LLMError != nil {
		clog.LLMError = res.LLMError.Error()
	}
}

// emitCitationLog writes the structured per-request citation log line.
func emitCitationLog(clog *model.CitationLog, httpStatus int, totalStart time.Time) {
	clog.HTTPStatus = httpStatus
	clog.LatencyMSTotal = time.Since(totalStart).Milliseconds()

	slog.Info("citations",
		"ts", clog.Timestamp.Format(time.RFC3339),
		"client_id", clog.ClientID,
		"request_id", clog.RequestID,
		"session_id", clog.SessionID,
		"question_hash", clog.QuestionHash,
		"meta_text_len", clog.MetaTextLen,
		"target_text_len", clog.TargetTextLen,
		"num_sources", clog.NumSources,
		"num_raw_supports", clog.NumRawSupports,
		"num_supports", clog.NumSupports,
		"num_queries", clog.NumQueries,
		"window_matches", clog.WindowMatches,
		"global_matches", clog.GlobalMatches,
		"estimates", clog.Estimates,
		"fallback_used", clog.FallbackUsed,
		"llm_error", clog.LLMError,
		"latency_ms_llm", clog.LatencyMSLLM,
		"latency_ms_align", clog.LatencyMSAlign,
		"latency_ms_total", clog.LatencyMSTotal,
		"llm_model", clog.LLMModel,
		"http_status", clog.HTTPStatus,
	)
}

// hashQuestion returns SHA-256 hex of the question.
func hashQuestion(question string) string {
	h := sha256.Sum256([]byte(question))
	return fmt.Sprintf("%x", h)
}

// writeJSON writes a JSON response with the given status code. HTML
// escaping is off so answer text and URIs are emitted verbatim.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError writes a standard error response.
func writeError(w http.ResponseWriter, status int, errCode, message string) {
	writeJSON(w, status, model.ErrorResponse{
		Error:   errCode,
		Message: message,
	})
}
