// Package pgstore provides a PostgreSQL implementation of analysis.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/source"
)

var tracer = otel.Tracer("github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis/pgstore")

//go:embed schema.sql
var schema string

// Store persists analysis sessions in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema on the given pool and returns a ready Store.
// The Store takes ownership of the pool; Close shuts it down.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

const sessionColumns = `id, owner, alert_content, status, current_stage,
	intent, context_data, analysis_result, created_at, updated_at`

// Get retrieves a session by ID, including its conversation.
func (s *Store) Get(ctx context.Context, id string) (*analysis.Session, bool, error) {
	ctx, span := tracer.Start(ctx, "pgstore.Get", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	query := `SELECT ` + sessionColumns + ` FROM analysis_sessions WHERE id = $1`
	sess, err := scanSessionRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	if sess == nil {
		return nil, false, nil
	}

	if err := s.loadMessages(ctx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, false, err
	}
	return sess, true, nil
}

// Put inserts or updates a session. Conversation messages are
// append-only: rows for already-persisted sequence numbers are left
// untouched, new ones are inserted.
func (s *Store) Put(ctx context.Context, sess *analysis.Session) error {
	ctx, span := tracer.Start(ctx, "pgstore.Put", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "UPSERT"),
	))
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := upsertSession(ctx, tx, sess); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	for seq, msg := range sess.Messages {
		if err := insertMessage(ctx, tx, sess.ID, seq, msg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// List returns one page of the owner's sessions, newest first, without
// their conversations, plus the owner's total session count.
func (s *Store) List(ctx context.Context, owner string, page, pageSize int) ([]*analysis.Session, int, error) {
	ctx, span := tracer.Start(ctx, "pgstore.List", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "SELECT"),
	))
	defer span.End()

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM analysis_sessions WHERE owner = $1`, owner,
	).Scan(&total); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM analysis_sessions
		WHERE owner = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	rows, err := s.pool.Query(ctx, query, owner, pageSize, (page-1)*pageSize)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*analysis.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, 0, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, total, nil
}

// Delete removes a session and, via cascade, its messages.
func (s *Store) Delete(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "pgstore.Delete", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "DELETE"),
	))
	defer span.End()

	if _, err := s.pool.Exec(ctx, `DELETE FROM analysis_sessions WHERE id = $1`, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// AppendMessage appends a message with the next sequence number.
func (s *Store) AppendMessage(ctx context.Context, id string, msg analysis.Message) error {
	ctx, span := tracer.Start(ctx, "pgstore.AppendMessage", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", "INSERT"),
	))
	defer span.End()

	dataJSON, err := marshalNullable(msg.Data)
	if err != nil {
		return fmt.Errorf("marshal message data: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_messages (session_id, seq, role, stage, content, data, created_at)
		 SELECT $1, COALESCE(MAX(seq), -1) + 1, $2, $3, $4, $5, $6
		 FROM analysis_messages WHERE session_id = $1`,
		id, string(msg.Role), string(msg.Stage), msg.Content, dataJSON, msg.Timestamp,
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("insert message: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE analysis_sessions SET updated_at = $2 WHERE id = $1`, id, msg.Timestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func upsertSession(ctx context.Context, tx pgx.Tx, sess *analysis.Session) error {
	intentJSON, err := marshalNullable(sess.Intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	contextJSON, err := marshalNullable(sess.ContextData)
	if err != nil {
		return fmt.Errorf("marshal context data: %w", err)
	}
	resultJSON, err := marshalNullable(sess.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	query := `INSERT INTO analysis_sessions (
		id, owner, alert_content, status, current_stage,
		intent, context_data, analysis_result, created_at, updated_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO UPDATE SET
		status          = EXCLUDED.status,
		current_stage   = EXCLUDED.current_stage,
		intent          = EXCLUDED.intent,
		context_data    = EXCLUDED.context_data,
		analysis_result = EXCLUDED.analysis_result,
		updated_at      = EXCLUDED.updated_at`

	_, err = tx.Exec(ctx, query,
		sess.ID, sess.Owner, sess.AlertContent, string(sess.Status), string(sess.CurrentStage),
		intentJSON, contextJSON, resultJSON, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, sessionID string, seq int, msg analysis.Message) error {
	dataJSON, err := marshalNullable(msg.Data)
	if err != nil {
		return fmt.Errorf("marshal message data seq %d: %w", seq, err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO analysis_messages (session_id, seq, role, stage, content, data, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (session_id, seq) DO NOTHING`,
		sessionID, seq, string(msg.Role), string(msg.Stage), msg.Content, dataJSON, msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message seq %d: %w", seq, err)
	}
	return nil
}

func (s *Store) loadMessages(ctx context.Context, sess *analysis.Session) error {
	rows, err := s.pool.Query(ctx,
		`SELECT role, stage, content, data, created_at
		 FROM analysis_messages WHERE session_id = $1 ORDER BY seq`,
		sess.ID,
	)
	if err != nil {
		return fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var msgs []analysis.Message
	for rows.Next() {
		var (
			role, stage, content string
			dataJSON             []byte
			createdAt            time.Time
		)
		if err := rows.Scan(&role, &stage, &content, &dataJSON, &createdAt); err != nil {
			return fmt.Errorf("scan message: %w", err)
		}
		msg := analysis.Message{
			Role:      analysis.Role(role),
			Stage:     analysis.Stage(stage),
			Content:   content,
			Timestamp: createdAt,
		}
		if len(dataJSON) > 0 {
			if err := json.Unmarshal(dataJSON, &msg.Data); err != nil {
				return fmt.Errorf("unmarshal message data: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate messages: %w", err)
	}
	sess.Messages = msgs
	return nil
}

// scanSessionRow scans a single row into a Session (without messages).
// Returns (nil, nil) when no row is found.
func scanSessionRow(row pgx.Row) (*analysis.Session, error) {
	var (
		sess                 analysis.Session
		status, currentStage string
		intentJSON           []byte
		contextJSON          []byte
		resultJSON           []byte
	)

	err := row.Scan(
		&sess.ID, &sess.Owner, &sess.AlertContent, &status, &currentStage,
		&intentJSON, &contextJSON, &resultJSON, &sess.CreatedAt, &sess.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	sess.Status = analysis.Status(status)
	sess.CurrentStage = analysis.Stage(currentStage)

	if len(intentJSON) > 0 {
		sess.Intent = &analysis.IntentResult{}
		if err := json.Unmarshal(intentJSON, sess.Intent); err != nil {
			return nil, fmt.Errorf("unmarshal intent: %w", err)
		}
	}
	if len(contextJSON) > 0 {
		sess.ContextData = &source.ContextData{}
		if err := json.Unmarshal(contextJSON, sess.ContextData); err != nil {
			return nil, fmt.Errorf("unmarshal context data: %w", err)
		}
	}
	if len(resultJSON) > 0 {
		sess.Result = &analysis.Result{}
		if err := json.Unmarshal(resultJSON, sess.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &sess, nil
}

// marshalNullable returns nil for nil values so they land as SQL NULL
// instead of the JSON literal "null".
func marshalNullable(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case *analysis.IntentResult:
		if val == nil {
			return nil, nil
		}
	case *source.ContextData:
		if val == nil {
			return nil, nil
		}
	case *analysis.Result:
		if val == nil {
			return nil, nil
		}
	case map[string]any:
		if val == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
