package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
)

// PostgresRepository реализует Repository для PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository создает новый экземпляр PostgresRepository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// NewPostgresRepositoryFromDSN создает репозиторий из строки подключения
func NewPostgresRepositoryFromDSN(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Настройки пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresRepository{db: db}, nil
}

// Close закрывает соединение с БД
func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// ===== Управление сессиями =====

func (r *PostgresRepository) CreateSession(ctx context.Context, session *Session) error {
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		INSERT INTO therapy_sessions (id, status, phase, mode, started_at, stopped_at, saved_at, total_states, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		session.ID,
		session.Status,
		session.Phase,
		session.Mode,
		session.StartedAt,
		session.StoppedAt,
		session.SavedAt,
		session.TotalStates,
		metadataJSON,
	)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	query := `
		SELECT id, status, phase, mode, started_at, stopped_at, saved_at, total_states, metadata
		FROM therapy_sessions
		WHERE id = $1
	`

	var session Session
	var metadataJSON []byte

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.ID,
		&session.Status,
		&session.Phase,
		&session.Mode,
		&session.StartedAt,
		&session.StoppedAt,
		&session.SavedAt,
		&session.TotalStates,
		&metadataJSON,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := json.Unmarshal(metadataJSON, &session.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}

	return &session, nil
}

func (r *PostgresRepository) UpdateSession(ctx context.Context, session *Session) error {
	metadataJSON, err := json.Marshal(session.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	query := `
		UPDATE therapy_sessions
		SET status = $2, phase = $3, stopped_at = $4, saved_at = $5, total_states = $6, metadata = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		session.ID,
		session.Status,
		session.Phase,
		session.StoppedAt,
		session.SavedAt,
		session.TotalStates,
		metadataJSON,
	)

	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return fmt.Errorf("session not found: %s", session.ID)
	}

	return nil
}

func (r *PostgresRepository) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	query := `
		SELECT id, status, phase, mode, started_at, stopped_at, saved_at, total_states, metadata
		FROM therapy_sessions
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session

	for rows.Next() {
		var session Session
		var metadataJSON []byte

		err := rows.Scan(
			&session.ID,
			&session.Status,
			&session.Phase,
			&session.Mode,
			&session.StartedAt,
			&session.StoppedAt,
			&session.SavedAt,
			&session.TotalStates,
			&metadataJSON,
		)

		if err != nil {
			continue // Пропускаем поврежденные записи
		}

		if err := json.Unmarshal(metadataJSON, &session.Metadata); err == nil {
			sessions = append(sessions, &session)
		}
	}

	return sessions, nil
}

func (r *PostgresRepository) DeleteSession(ctx context.Context, sessionID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queries := []string{
		"DELETE FROM session_states WHERE session_id = $1",
		"DELETE FROM session_interventions WHERE session_id = $1",
		"DELETE FROM dissociation_episodes WHERE session_id = $1",
		"DELETE FROM session_metrics WHERE session_id = $1",
		"DELETE FROM therapy_sessions WHERE id = $1",
	}

	for _, query := range queries {
		if _, err := tx.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("failed to delete session data: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ===== Метрики =====

func (r *PostgresRepository) SaveMetrics(ctx context.Context, metrics *Metrics) error {
	expressedJSON, err := json.Marshal(metrics.ExpressedEmotions)
	if err != nil {
		return fmt.Errorf("failed to marshal expressed emotions: %w", err)
	}

	query := `
		INSERT INTO session_metrics (
			session_id, duration_sec, intervention_count, avg_coherence, masking_count,
			expressed_emotions, emotional_range_index,
			dissociation_episode_count, dissociation_time_sec, dissociation_pct,
			peak_arousal, peak_arousal_at, regulation_recovery_sec, recovery_observed,
			phase_progress, overall_progress, state_count, finalized, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (session_id) DO UPDATE SET
			duration_sec = EXCLUDED.duration_sec,
			intervention_count = EXCLUDED.intervention_count,
			avg_coherence = EXCLUDED.avg_coherence,
			masking_count = EXCLUDED.masking_count,
			expressed_emotions = EXCLUDED.expressed_emotions,
			emotional_range_index = EXCLUDED.emotional_range_index,
			dissociation_episode_count = EXCLUDED.dissociation_episode_count,
			dissociation_time_sec = EXCLUDED.dissociation_time_sec,
			dissociation_pct = EXCLUDED.dissociation_pct,
			peak_arousal = EXCLUDED.peak_arousal,
			peak_arousal_at = EXCLUDED.peak_arousal_at,
			regulation_recovery_sec = EXCLUDED.regulation_recovery_sec,
			recovery_observed = EXCLUDED.recovery_observed,
			phase_progress = EXCLUDED.phase_progress,
			overall_progress = EXCLUDED.overall_progress,
			state_count = EXCLUDED.state_count,
			finalized = EXCLUDED.finalized,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		metrics.SessionID,
		metrics.DurationSec,
		metrics.InterventionCount,
		metrics.AvgCoherence,
		metrics.MaskingCount,
		expressedJSON,
		metrics.EmotionalRangeIndex,
		metrics.DissociationEpisodeCount,
		metrics.DissociationTimeSec,
		metrics.DissociationPct,
		metrics.PeakArousal,
		metrics.PeakArousalAt,
		metrics.RegulationRecoverySec,
		metrics.RecoveryObserved,
		metrics.PhaseProgress,
		metrics.OverallProgress,
		metrics.StateCount,
		metrics.Finalized,
		metrics.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save metrics: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	query := `
		SELECT session_id, duration_sec, intervention_count, avg_coherence, masking_count,
			expressed_emotions, emotional_range_index,
			dissociation_episode_count, dissociation_time_sec, dissociation_pct,
			peak_arousal, peak_arousal_at, regulation_recovery_sec, recovery_observed,
			phase_progress, overall_progress, state_count, finalized, updated_at
		FROM session_metrics
		WHERE session_id = $1
	`

	var metrics Metrics
	var expressedJSON []byte

	err := r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&metrics.SessionID,
		&metrics.DurationSec,
		&metrics.InterventionCount,
		&metrics.AvgCoherence,
		&metrics.MaskingCount,
		&expressedJSON,
		&metrics.EmotionalRangeIndex,
		&metrics.DissociationEpisodeCount,
		&metrics.DissociationTimeSec,
		&metrics.DissociationPct,
		&metrics.PeakArousal,
		&metrics.PeakArousalAt,
		&metrics.RegulationRecoverySec,
		&metrics.RecoveryObserved,
		&metrics.PhaseProgress,
		&metrics.OverallProgress,
		&metrics.StateCount,
		&metrics.Finalized,
		&metrics.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("metrics not found for session: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	if err := json.Unmarshal(expressedJSON, &metrics.ExpressedEmotions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal expressed emotions: %w", err)
	}

	return &metrics, nil
}

// ===== Эпизоды =====

func (r *PostgresRepository) SaveEpisodes(ctx context.Context, episodes []dissociation.Episode) error {
	if len(episodes) == 0 {
		return nil
	}

	query := `
		INSERT INTO dissociation_episodes (id, session_id, start_time, end_time, max_intensity, avg_intensity, markers)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, ep := range episodes {
		markersJSON, err := json.Marshal(ep.Markers)
		if err != nil {
			return fmt.Errorf("failed to marshal markers: %w", err)
		}

		_, err = stmt.ExecContext(ctx,
			ep.ID,
			ep.SessionID,
			ep.StartTime,
			ep.EndTime,
			ep.MaxIntensity,
			ep.AvgIntensity,
			markersJSON,
		)

		if err != nil {
			return fmt.Errorf("failed to insert episode: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetEpisodes(ctx context.Context, sessionID string) ([]dissociation.Episode, error) {
	query := `
		SELECT id, session_id, start_time, end_time, max_intensity, avg_intensity, markers
		FROM dissociation_episodes
		WHERE session_id = $1
		ORDER BY start_time ASC
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get episodes: %w", err)
	}
	defer rows.Close()

	var episodes []dissociation.Episode

	for rows.Next() {
		var ep dissociation.Episode
		var markersJSON []byte

		err := rows.Scan(
			&ep.ID,
			&ep.SessionID,
			&ep.StartTime,
			&ep.EndTime,
			&ep.MaxIntensity,
			&ep.AvgIntensity,
			&markersJSON,
		)

		if err != nil {
			continue
		}

		if err := json.Unmarshal(markersJSON, &ep.Markers); err != nil {
			continue
		}

		episodes = append(episodes, ep)
	}

	return episodes, nil
}

// ===== Сохранение полных данных сессии =====

func (r *PostgresRepository) SaveSessionData(ctx context.Context, data *SessionData) error {
	if data == nil || data.Session == nil {
		return fmt.Errorf("empty session data")
	}

	// Сессия: upsert через update-or-create
	if err := r.UpdateSession(ctx, data.Session); err != nil {
		if err := r.CreateSession(ctx, data.Session); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
	}

	if data.Metrics != nil {
		if err := r.SaveMetrics(ctx, data.Metrics); err != nil {
			return err
		}
	}

	if err := r.SaveEpisodes(ctx, data.Episodes); err != nil {
		return err
	}

	if err := r.saveStates(ctx, data); err != nil {
		return err
	}

	if err := r.saveInterventions(ctx, data); err != nil {
		return err
	}

	return nil
}

// saveStates сохраняет журнал состояний как JSONB строки
func (r *PostgresRepository) saveStates(ctx context.Context, data *SessionData) error {
	if len(data.States) == 0 {
		return nil
	}

	query := `
		INSERT INTO session_states (session_id, ts, state)
		VALUES ($1, $2, $3)
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, st := range data.States {
		stateJSON, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}

		if _, err := stmt.ExecContext(ctx, data.Session.ID, st.Timestamp, stateJSON); err != nil {
			return fmt.Errorf("failed to insert state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (r *PostgresRepository) saveInterventions(ctx context.Context, data *SessionData) error {
	if len(data.Interventions) == 0 {
		return nil
	}

	query := `
		INSERT INTO session_interventions (id, session_id, intervention_type, ts, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, iv := range data.Interventions {
		if _, err := stmt.ExecContext(ctx, iv.ID, iv.SessionID, iv.Type, iv.Timestamp, iv.Notes); err != nil {
			return fmt.Errorf("failed to insert intervention: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
