package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/pipeline"
)

// Как часто кэшировать промежуточные метрики (раз в N состояний)
const metricsCacheEvery = 10

// Broadcaster — наблюдатель живого потока состояний (WebSocket hub)
type Broadcaster interface {
	BroadcastUpdate(u pipeline.StateUpdate)
}

// runtime объединяет живые объекты одной активной сессии: журнал с метриками,
// детектор диссоциации и процессор кадров
type runtime struct {
	meta        *Session
	therapeutic *TherapeuticSession
	detector    *dissociation.Detector
	processor   *pipeline.Processor
}

// Manager управляет жизненным циклом терапевтических сессий
type Manager struct {
	cfg         *config.Config
	cache       CacheStore
	repository  Repository
	broadcaster Broadcaster

	mu       sync.RWMutex
	sessions map[string]*runtime // Активные сессии в памяти
}

// NewManager создает новый менеджер сессий
func NewManager(cfg *config.Config, cache CacheStore, repository Repository, broadcaster Broadcaster) *Manager {
	return &Manager{
		cfg:         cfg,
		cache:       cache,
		repository:  repository,
		broadcaster: broadcaster,
		sessions:    make(map[string]*runtime),
	}
}

// CreateSession создает новую сессию и запускает ее пайплайн
func (m *Manager) CreateSession(ctx context.Context, req *CreateSessionRequest) (*Session, error) {
	phase := PhaseBaseline
	if req.Phase != "" {
		phase = Phase(req.Phase)
		if !phase.Valid() {
			return nil, fmt.Errorf("unknown phase: %s", req.Phase)
		}
	}

	now := time.Now()
	meta := &Session{
		ID:        uuid.New().String(),
		Status:    StatusActive,
		Phase:     phase,
		Mode:      m.cfg.SessionMode,
		StartedAt: now,
		Metadata: Metadata{
			PatientID:   req.PatientID,
			TherapistID: req.TherapistID,
			Notes:       req.Notes,
			CustomData:  req.CustomData,
			CreatedFrom: req.CreatedFrom,
		},
	}

	if err := m.cache.SetSession(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to save session to cache: %w", err)
	}

	rt := m.newRuntime(meta, now)

	m.mu.Lock()
	m.sessions[meta.ID] = rt
	m.mu.Unlock()

	log.Printf("[SESSION] Created new session: %s phase=%s", meta.ID, phase)
	return meta, nil
}

func (m *Manager) newRuntime(meta *Session, startedAt time.Time) *runtime {
	rt := &runtime{
		meta:        meta,
		therapeutic: NewTherapeuticSession(meta.ID, meta.Phase, startedAt, m.cfg),
		detector: dissociation.NewDetector(
			meta.ID,
			m.cfg.Thresholds.DissociationEntry,
			m.cfg.Thresholds.DissociationExit,
			m.cfg.Thresholds.SustainSamples,
		),
	}
	rt.processor = pipeline.NewProcessor(meta.ID, m.cfg, &sessionSink{manager: m, rt: rt})
	return rt
}

// IngestFrame доставляет кадр лицевых сигналов в пайплайн сессии.
// Сессия автоматически создается при первом кадре от устройства.
func (m *Manager) IngestFrame(ctx context.Context, sessionID string, frame emotion.SignalFrame) error {
	rt, err := m.getOrCreateRuntime(ctx, sessionID)
	if err != nil {
		return err
	}
	return rt.processor.SubmitFrame(frame)
}

// IngestBiometric доставляет биометрическое чтение в пайплайн сессии
func (m *Manager) IngestBiometric(ctx context.Context, sessionID string, reading fusion.BiometricReading) error {
	rt, err := m.getOrCreateRuntime(ctx, sessionID)
	if err != nil {
		return err
	}
	rt.processor.UpdateBiometrics(reading)
	return nil
}

// GetSession получает сессию по ID
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	// Сначала проверяем в памяти. Отдаем копию: метаданные живой сессии
	// мутирует воркер пайплайна
	m.mu.RLock()
	if rt, ok := m.sessions[sessionID]; ok {
		meta := *rt.meta
		m.mu.RUnlock()
		return &meta, nil
	}
	m.mu.RUnlock()

	// Проверяем в Redis
	session, err := m.cache.GetSession(ctx, sessionID)
	if err == nil {
		return session, nil
	}

	// Проверяем в PostgreSQL
	return m.repository.GetSession(ctx, sessionID)
}

// SetPhase переводит активную сессию в следующую фазу протокола
func (m *Manager) SetPhase(ctx context.Context, sessionID string, phase Phase) error {
	rt, ok := m.activeRuntime(sessionID)
	if !ok {
		return fmt.Errorf("session is not active: %s", sessionID)
	}

	if err := rt.therapeutic.SetPhase(phase, time.Now()); err != nil {
		return err
	}

	m.mu.Lock()
	rt.meta.Phase = phase
	meta := *rt.meta
	m.mu.Unlock()

	if err := m.cache.SetSession(ctx, &meta); err != nil {
		log.Printf("[WARN] Failed to update session phase in cache: %v", err)
	}

	log.Printf("[SESSION] Session %s moved to phase %s", sessionID, phase)
	return nil
}

// RecordIntervention регистрирует доставленное вмешательство
func (m *Manager) RecordIntervention(ctx context.Context, sessionID string, req *InterventionRequest) (*Intervention, error) {
	rt, ok := m.activeRuntime(sessionID)
	if !ok {
		return nil, fmt.Errorf("session is not active: %s", sessionID)
	}

	iv := Intervention{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Type:      req.Type,
		Timestamp: time.Now(),
		Notes:     req.Notes,
	}

	if err := rt.therapeutic.RecordIntervention(iv); err != nil {
		return nil, err
	}

	if err := m.cache.AppendInterventions(ctx, sessionID, []Intervention{iv}); err != nil {
		log.Printf("[WARN] Failed to cache intervention: %v", err)
	}

	log.Printf("[SESSION] Recorded intervention for session %s: %s", sessionID, req.Type)
	return &iv, nil
}

// EndSession останавливает пайплайн и финализирует метрики сессии.
// Открытый эпизод диссоциации закрывается последним наблюдавшимся временем.
func (m *Manager) EndSession(ctx context.Context, sessionID string) (*Metrics, error) {
	m.mu.Lock()
	rt, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("session is not active: %s", sessionID)
	}

	// Дообрабатываем буферизованные кадры до финализации
	rt.processor.Stop()

	endTime := rt.therapeutic.LastTimestamp()
	if endTime.IsZero() {
		endTime = time.Now()
	}

	if ep := rt.detector.ForceClose(endTime); ep != nil {
		if err := rt.therapeutic.AddEpisode(ep); err != nil {
			log.Printf("[WARN] Failed to record forced episode: %v", err)
		} else if err := m.cache.AppendEpisodes(ctx, sessionID, []dissociation.Episode{*ep}); err != nil {
			log.Printf("[WARN] Failed to cache forced episode: %v", err)
		}
	}

	metrics, err := rt.therapeutic.End(endTime)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize session: %w", err)
	}

	now := time.Now()
	rt.meta.Status = StatusStopped
	rt.meta.StoppedAt = &now

	if err := m.cache.SetSession(ctx, rt.meta); err != nil {
		log.Printf("[WARN] Failed to update session in cache: %v", err)
	}
	if err := m.cache.SetMetrics(ctx, &metrics); err != nil {
		log.Printf("[WARN] Failed to cache final metrics: %v", err)
	}

	log.Printf("[SESSION] Ended session %s: duration=%.1fs states=%d episodes=%d range=%.2f",
		sessionID, metrics.DurationSec, metrics.StateCount,
		metrics.DissociationEpisodeCount, metrics.EmotionalRangeIndex)

	return &metrics, nil
}

// SaveSession сохраняет завершенную сессию в PostgreSQL
func (m *Manager) SaveSession(ctx context.Context, sessionID string, notes string) error {
	sessionData, err := m.cache.GetSessionData(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session data from cache: %w", err)
	}

	if sessionData.Session.Status == StatusActive {
		return fmt.Errorf("session is still active: %s", sessionID)
	}

	if notes != "" {
		sessionData.Session.Metadata.Notes = notes
	}

	now := time.Now()
	sessionData.Session.Status = StatusSaved
	sessionData.Session.SavedAt = &now

	if err := m.repository.SaveSessionData(ctx, sessionData); err != nil {
		return fmt.Errorf("failed to save session to database: %w", err)
	}

	if err := m.cache.SetSession(ctx, sessionData.Session); err != nil {
		log.Printf("[WARN] Failed to update session status in cache: %v", err)
	}

	// Горячие данные больше не нужны постоянно — ставим TTL
	if err := m.cache.SetSessionTTL(ctx, sessionID, m.cfg.SessionDataTTLSeconds); err != nil {
		log.Printf("[WARN] Failed to set session TTL: %v", err)
	}

	log.Printf("[SESSION] Saved session to database: %s", sessionID)
	return nil
}

// ListSessions возвращает список сессий
func (m *Manager) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	return m.repository.ListSessions(ctx, limit, offset)
}

// DeleteSession удаляет сессию отовсюду
func (m *Manager) DeleteSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	rt, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if ok {
		rt.processor.Stop()
	}

	if err := m.cache.DeleteSession(ctx, sessionID); err != nil {
		log.Printf("[WARN] Failed to delete session from cache: %v", err)
	}

	if err := m.repository.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session from database: %w", err)
	}

	log.Printf("[SESSION] Deleted session: %s", sessionID)
	return nil
}

// GetSessionMetrics получает текущие метрики: живой снапшот для активной
// сессии, кэш для остановленной. Частичные метрики доступны всегда.
func (m *Manager) GetSessionMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	if rt, ok := m.activeRuntime(sessionID); ok {
		metrics := rt.therapeutic.MetricsSnapshot(time.Now())
		return &metrics, nil
	}
	return m.cache.GetMetrics(ctx, sessionID)
}

// GetSessionData получает все данные сессии
func (m *Manager) GetSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	return m.cache.GetSessionData(ctx, sessionID)
}

// IsSessionActive проверяет, активна ли сессия
func (m *Manager) IsSessionActive(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.sessions[sessionID]
	return exists
}

// Shutdown принудительно завершает все активные сессии (graceful shutdown)
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if _, err := m.EndSession(ctx, id); err != nil {
			log.Printf("[WARN] Failed to end session %s on shutdown: %v", id, err)
		}
	}
}

func (m *Manager) activeRuntime(sessionID string) (*runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.sessions[sessionID]
	return rt, ok
}

// getOrCreateRuntime возвращает рантайм активной сессии, поднимая сессию из
// кэша либо создавая новую при первом кадре от устройства
func (m *Manager) getOrCreateRuntime(ctx context.Context, sessionID string) (*runtime, error) {
	if rt, ok := m.activeRuntime(sessionID); ok {
		return rt, nil
	}

	// Есть в Redis? Возобновляем, если сессия активна
	if meta, err := m.cache.GetSession(ctx, sessionID); err == nil {
		if meta.Status != StatusActive {
			return nil, fmt.Errorf("session is not active: %s (status: %s)", sessionID, meta.Status)
		}
		log.Printf("[SESSION] Resuming session from cache: %s", sessionID)
		return m.registerRuntime(meta), nil
	}

	// Сессия не найдена — создаем автоматически по входящим данным
	log.Printf("[SESSION] Auto-creating new session from incoming data: %s", sessionID)

	meta := &Session{
		ID:        sessionID,
		Status:    StatusActive,
		Phase:     PhaseBaseline,
		Mode:      m.cfg.SessionMode,
		StartedAt: time.Now(),
		Metadata: Metadata{
			CreatedFrom: "auto-created",
			Notes:       "Automatically created from device data",
		},
	}

	if err := m.cache.SetSession(ctx, meta); err != nil {
		return nil, fmt.Errorf("failed to save auto-created session to cache: %w", err)
	}

	return m.registerRuntime(meta), nil
}

func (m *Manager) registerRuntime(meta *Session) *runtime {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Гонка двух продюсеров: рантайм мог появиться, пока мы ходили в кэш
	if rt, ok := m.sessions[meta.ID]; ok {
		return rt
	}

	rt := m.newRuntime(meta, meta.StartedAt)
	m.sessions[meta.ID] = rt
	return rt
}

// sessionSink доставляет упорядоченные состояния из пайплайна в сессию,
// детектор диссоциации, кэш и наблюдателей
type sessionSink struct {
	manager *Manager
	rt      *runtime
}

func (s *sessionSink) Consume(ctx context.Context, u pipeline.StateUpdate) error {
	rt := s.rt

	if err := rt.therapeutic.AddState(u.Integrated); err != nil {
		// Нарушение порядка — поломка предположений, наверх без глотания
		return err
	}

	s.manager.mu.Lock()
	rt.meta.TotalStates++
	totalStates := rt.meta.TotalStates
	s.manager.mu.Unlock()

	if ep := rt.detector.Update(u.Integrated); ep != nil {
		if err := rt.therapeutic.AddEpisode(ep); err != nil {
			return err
		}
		if err := s.manager.cache.AppendEpisodes(ctx, u.SessionID, []dissociation.Episode{*ep}); err != nil {
			log.Printf("[WARN] Failed to cache episode: %v", err)
		}
		log.Printf("[SESSION] Dissociation episode closed: session=%s duration=%.1fs max=%.2f",
			u.SessionID, ep.DurationSec(), ep.MaxIntensity)
	}

	if err := s.manager.cache.AppendStates(ctx, u.SessionID, []fusion.IntegratedEmotionalState{u.Integrated}); err != nil {
		log.Printf("[WARN] Failed to cache state: %v", err)
	}

	// Промежуточные метрики кэшируем периодически, не на каждом кадре
	if totalStates%metricsCacheEvery == 0 {
		metrics := rt.therapeutic.MetricsSnapshot(u.Integrated.Timestamp)
		if err := s.manager.cache.SetMetrics(ctx, &metrics); err != nil {
			log.Printf("[WARN] Failed to cache metrics: %v", err)
		}
	}

	if s.manager.broadcaster != nil {
		s.manager.broadcaster.BroadcastUpdate(u)
	}

	return nil
}
