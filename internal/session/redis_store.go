package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// RedisStore реализует CacheStore для Redis
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore создает новый экземпляр RedisStore
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
	}
}

// ===== Ключи Redis =====

func sessionKey(sessionID string) string {
	return fmt.Sprintf("therapy:%s:metadata", sessionID)
}

func metricsKey(sessionID string) string {
	return fmt.Sprintf("therapy:%s:metrics:current", sessionID)
}

func statesKey(sessionID string) string {
	return fmt.Sprintf("therapy:%s:states", sessionID)
}

func episodesKey(sessionID string) string {
	return fmt.Sprintf("therapy:%s:episodes", sessionID)
}

func interventionsKey(sessionID string) string {
	return fmt.Sprintf("therapy:%s:interventions", sessionID)
}

// ===== Управление сессиями =====

func (r *RedisStore) SetSession(ctx context.Context, session *Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	return r.client.Set(ctx, sessionKey(session.ID), data, 0).Err()
}

func (r *RedisStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("session not found: %s", sessionID)
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	var session Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (r *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	// Удаляем все ключи, связанные с сессией
	pattern := fmt.Sprintf("therapy:%s:*", sessionID)

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	pipe := r.client.Pipeline()

	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	count, err := r.client.Exists(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *RedisStore) SetSessionTTL(ctx context.Context, sessionID string, ttl int) error {
	pattern := fmt.Sprintf("therapy:%s:*", sessionID)
	duration := time.Duration(ttl) * time.Second

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	pipe := r.client.Pipeline()

	for iter.Next(ctx) {
		pipe.Expire(ctx, iter.Val(), duration)
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan keys: %w", err)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// ===== Метрики =====

func (r *RedisStore) SetMetrics(ctx context.Context, metrics *Metrics) error {
	expressedJSON, err := json.Marshal(metrics.ExpressedEmotions)
	if err != nil {
		return fmt.Errorf("failed to marshal expressed emotions: %w", err)
	}

	// Сохраняем как Hash для эффективного обновления отдельных полей
	fields := map[string]interface{}{
		"duration_sec":               metrics.DurationSec,
		"intervention_count":         metrics.InterventionCount,
		"avg_coherence":              metrics.AvgCoherence,
		"masking_count":              metrics.MaskingCount,
		"expressed_emotions":         string(expressedJSON),
		"emotional_range_index":      metrics.EmotionalRangeIndex,
		"dissociation_episode_count": metrics.DissociationEpisodeCount,
		"dissociation_time_sec":      metrics.DissociationTimeSec,
		"dissociation_pct":           metrics.DissociationPct,
		"peak_arousal":               metrics.PeakArousal,
		"peak_arousal_at":            metrics.PeakArousalAt.UnixNano(),
		"regulation_recovery_sec":    metrics.RegulationRecoverySec,
		"recovery_observed":          strconv.FormatBool(metrics.RecoveryObserved),
		"phase_progress":             metrics.PhaseProgress,
		"overall_progress":           metrics.OverallProgress,
		"state_count":                metrics.StateCount,
		"finalized":                  strconv.FormatBool(metrics.Finalized),
		"updated_at":                 metrics.UpdatedAt.UnixNano(),
	}

	return r.client.HSet(ctx, metricsKey(metrics.SessionID), fields).Err()
}

func (r *RedisStore) GetMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	data, err := r.client.HGetAll(ctx, metricsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics: %w", err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("metrics not found for session: %s", sessionID)
	}

	metrics := &Metrics{SessionID: sessionID}

	// Парсим значения из Hash
	if val, ok := data["duration_sec"]; ok {
		metrics.DurationSec, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["intervention_count"]; ok {
		metrics.InterventionCount, _ = strconv.ParseInt(val, 10, 64)
	}
	if val, ok := data["avg_coherence"]; ok {
		metrics.AvgCoherence, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["masking_count"]; ok {
		metrics.MaskingCount, _ = strconv.ParseInt(val, 10, 64)
	}
	if val, ok := data["expressed_emotions"]; ok {
		_ = json.Unmarshal([]byte(val), &metrics.ExpressedEmotions)
	}
	if val, ok := data["emotional_range_index"]; ok {
		metrics.EmotionalRangeIndex, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["dissociation_episode_count"]; ok {
		metrics.DissociationEpisodeCount, _ = strconv.ParseInt(val, 10, 64)
	}
	if val, ok := data["dissociation_time_sec"]; ok {
		metrics.DissociationTimeSec, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["dissociation_pct"]; ok {
		metrics.DissociationPct, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["peak_arousal"]; ok {
		metrics.PeakArousal, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["peak_arousal_at"]; ok {
		ns, _ := strconv.ParseInt(val, 10, 64)
		metrics.PeakArousalAt = time.Unix(0, ns)
	}
	if val, ok := data["regulation_recovery_sec"]; ok {
		metrics.RegulationRecoverySec, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["recovery_observed"]; ok {
		metrics.RecoveryObserved, _ = strconv.ParseBool(val)
	}
	if val, ok := data["phase_progress"]; ok {
		metrics.PhaseProgress, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["overall_progress"]; ok {
		metrics.OverallProgress, _ = strconv.ParseFloat(val, 64)
	}
	if val, ok := data["state_count"]; ok {
		metrics.StateCount, _ = strconv.ParseInt(val, 10, 64)
	}
	if val, ok := data["finalized"]; ok {
		metrics.Finalized, _ = strconv.ParseBool(val)
	}
	if val, ok := data["updated_at"]; ok {
		ns, _ := strconv.ParseInt(val, 10, 64)
		metrics.UpdatedAt = time.Unix(0, ns)
	}

	return metrics, nil
}

// ===== Состояния =====

func (r *RedisStore) AppendStates(ctx context.Context, sessionID string, states []fusion.IntegratedEmotionalState) error {
	if len(states) == 0 {
		return nil
	}

	key := statesKey(sessionID)
	pipe := r.client.Pipeline()

	for _, state := range states {
		data, err := json.Marshal(state)
		if err != nil {
			return fmt.Errorf("failed to marshal state: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetStates(ctx context.Context, sessionID string) ([]fusion.IntegratedEmotionalState, error) {
	data, err := r.client.LRange(ctx, statesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get states: %w", err)
	}

	states := make([]fusion.IntegratedEmotionalState, 0, len(data))
	for _, item := range data {
		var state fusion.IntegratedEmotionalState
		if err := json.Unmarshal([]byte(item), &state); err != nil {
			continue // Пропускаем поврежденные записи
		}
		states = append(states, state)
	}

	return states, nil
}

func (r *RedisStore) GetStatesCount(ctx context.Context, sessionID string) (int, error) {
	count, err := r.client.LLen(ctx, statesKey(sessionID)).Result()
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// ===== Эпизоды =====

func (r *RedisStore) AppendEpisodes(ctx context.Context, sessionID string, episodes []dissociation.Episode) error {
	if len(episodes) == 0 {
		return nil
	}

	key := episodesKey(sessionID)
	pipe := r.client.Pipeline()

	for _, ep := range episodes {
		data, err := json.Marshal(ep)
		if err != nil {
			return fmt.Errorf("failed to marshal episode: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetEpisodes(ctx context.Context, sessionID string) ([]dissociation.Episode, error) {
	data, err := r.client.LRange(ctx, episodesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get episodes: %w", err)
	}

	episodes := make([]dissociation.Episode, 0, len(data))
	for _, item := range data {
		var ep dissociation.Episode
		if err := json.Unmarshal([]byte(item), &ep); err != nil {
			continue
		}
		episodes = append(episodes, ep)
	}

	return episodes, nil
}

// ===== Вмешательства =====

func (r *RedisStore) AppendInterventions(ctx context.Context, sessionID string, interventions []Intervention) error {
	if len(interventions) == 0 {
		return nil
	}

	key := interventionsKey(sessionID)
	pipe := r.client.Pipeline()

	for _, iv := range interventions {
		data, err := json.Marshal(iv)
		if err != nil {
			return fmt.Errorf("failed to marshal intervention: %w", err)
		}
		pipe.RPush(ctx, key, data)
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) GetInterventions(ctx context.Context, sessionID string) ([]Intervention, error) {
	data, err := r.client.LRange(ctx, interventionsKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get interventions: %w", err)
	}

	interventions := make([]Intervention, 0, len(data))
	for _, item := range data {
		var iv Intervention
		if err := json.Unmarshal([]byte(item), &iv); err != nil {
			continue
		}
		interventions = append(interventions, iv)
	}

	return interventions, nil
}

// ===== Получение всех данных сессии =====

func (r *RedisStore) GetSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	session, err := r.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	metrics, _ := r.GetMetrics(ctx, sessionID) // Метрик может еще не быть
	states, _ := r.GetStates(ctx, sessionID)
	episodes, _ := r.GetEpisodes(ctx, sessionID)
	interventions, _ := r.GetInterventions(ctx, sessionID)

	return &SessionData{
		Session:       session,
		Metrics:       metrics,
		States:        states,
		Episodes:      episodes,
		Interventions: interventions,
	}, nil
}
