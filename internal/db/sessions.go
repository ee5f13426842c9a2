package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jharjadi/pro-rag/answer-api-go/internal/model"
)

// ErrSessionNotFound is returned when no session has the requested id.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists answer sessions so a streamed answer can be cited
// later by session id.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// Create inserts a new session in "streaming" state and returns it.
func (s *SessionStore) Create(ctx context.Context, clientID, systemInstruction, question, questionHash string) (*model.AnswerSession, error) {
	sess := &model.AnswerSession{
		SessionID:         uuid.New(),
		ClientID:          clientID,
		SystemInstruction: systemInstruction,
		Question:          question,
		QuestionHash:      questionHash,
		Status:            model.SessionStreaming,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO answer_sessions
		   (session_id, client_id, system_instruction, question, question_hash, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at, updated_at`,
		sess.SessionID.String(), clientID, systemInstruction, question, questionHash, sess.Status,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// FinishStream records the streamed text. A non-nil streamErr marks the
// session failed; the partial text is kept.
func (s *SessionStore) FinishStream(ctx context.Context, id uuid.UUID, streamedAnswer string, streamErr error) error {
	status := model.SessionStreamed
	var errText *string
	if streamErr != nil {
		status = model.SessionFailed
		msg := streamErr.Error()
		errText = &msg
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE answer_sessions
		 SET streamed_answer = $2, status = $3, error = $4, updated_at = now()
		 WHERE session_id = $1`,
		id.String(), streamedAnswer, status, errText,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// SaveCitations stores the citation payload and marks the session cited.
func (s *SessionStore) SaveCitations(ctx context.Context, id uuid.UUID, payload *model.CitationPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE answer_sessions
		 SET citations = $2, status = $3, updated_at = now()
		 WHERE session_id = $1`,
		id.String(), raw, model.SessionCited,
	)
	if err != nil {
		return fmt.Errorf("save citations: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// Get loads a session by id.
func (s *SessionStore) Get(ctx context.Context, id uuid.UUID) (*model.AnswerSession, error) {
	var (
		sess      model.AnswerSession
		sessionID string
		citations []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id::text, client_id, system_instruction, question, question_hash,
		        streamed_answer, status, citations, created_at, updated_at
		 FROM answer_sessions
		 WHERE session_id = $1`,
		id.String(),
	).Scan(
		&sessionID, &sess.ClientID, &sess.SystemInstruction, &sess.Question, &sess.QuestionHash,
		&sess.StreamedAnswer, &sess.Status, &citations, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	sess.SessionID, err = uuid.Parse(sessionID)
	if err != nil {
		return nil, fmt.Errorf("parse session id: %w", err)
	}
	if len(citations) > 0 {
		var payload model.CitationPayload
		if err := json.Unmarshal(citations, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal citations: %w", err)
		}
		sess.Citations = &payload
	}
	return &sess, nil
}
