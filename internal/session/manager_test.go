package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// fakeCache — потокобезопасный CacheStore в памяти для тестов менеджера
type fakeCache struct {
	mu            sync.Mutex
	sessions      map[string]Session
	metrics       map[string]Metrics
	states        map[string][]fusion.IntegratedEmotionalState
	episodes      map[string][]dissociation.Episode
	interventions map[string][]Intervention
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		sessions:      make(map[string]Session),
		metrics:       make(map[string]Metrics),
		states:        make(map[string][]fusion.IntegratedEmotionalState),
		episodes:      make(map[string][]dissociation.Episode),
		interventions: make(map[string][]Intervention),
	}
}

func (f *fakeCache) SetSession(ctx context.Context, session *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeCache) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return &s, nil
}

func (f *fakeCache) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeCache) SetMetrics(ctx context.Context, metrics *Metrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics[metrics.SessionID] = *metrics
	return nil
}

func (f *fakeCache) GetMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.metrics[sessionID]
	if !ok {
		return nil, fmt.Errorf("metrics not found for session: %s", sessionID)
	}
	return &m, nil
}

func (f *fakeCache) AppendStates(ctx context.Context, sessionID string, states []fusion.IntegratedEmotionalState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[sessionID] = append(f.states[sessionID], states...)
	return nil
}

func (f *fakeCache) GetStates(ctx context.Context, sessionID string) ([]fusion.IntegratedEmotionalState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fusion.IntegratedEmotionalState(nil), f.states[sessionID]...), nil
}

func (f *fakeCache) GetStatesCount(ctx context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.states[sessionID]), nil
}

func (f *fakeCache) AppendEpisodes(ctx context.Context, sessionID string, episodes []dissociation.Episode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.episodes[sessionID] = append(f.episodes[sessionID], episodes...)
	return nil
}

func (f *fakeCache) GetEpisodes(ctx context.Context, sessionID string) ([]dissociation.Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dissociation.Episode(nil), f.episodes[sessionID]...), nil
}

func (f *fakeCache) AppendInterventions(ctx context.Context, sessionID string, interventions []Intervention) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interventions[sessionID] = append(f.interventions[sessionID], interventions...)
	return nil
}

func (f *fakeCache) GetInterventions(ctx context.Context, sessionID string) ([]Intervention, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Intervention(nil), f.interventions[sessionID]...), nil
}

func (f *fakeCache) GetSessionData(ctx context.Context, sessionID string) (*SessionData, error) {
	session, err := f.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	metrics, _ := f.GetMetrics(ctx, sessionID)
	states, _ := f.GetStates(ctx, sessionID)
	episodes, _ := f.GetEpisodes(ctx, sessionID)
	interventions, _ := f.GetInterventions(ctx, sessionID)
	return &SessionData{
		Session:       session,
		Metrics:       metrics,
		States:        states,
		Episodes:      episodes,
		Interventions: interventions,
	}, nil
}

func (f *fakeCache) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[sessionID]
	return ok, nil
}

func (f *fakeCache) SetSessionTTL(ctx context.Context, sessionID string, ttl int) error {
	return nil
}

// fakeRepository — Repository в памяти; менеджеру в этих тестах от него
// нужны только заглушки
type fakeRepository struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{sessions: make(map[string]Session)}
}

func (f *fakeRepository) CreateSession(ctx context.Context, session *Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = *session
	return nil
}

func (f *fakeRepository) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session not found: %s", sessionID)
	}
	return &s, nil
}

func (f *fakeRepository) UpdateSession(ctx context.Context, session *Session) error {
	return f.CreateSession(ctx, session)
}

func (f *fakeRepository) ListSessions(ctx context.Context, limit, offset int) ([]*Session, error) {
	return nil, nil
}

func (f *fakeRepository) DeleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, sessionID)
	return nil
}

func (f *fakeRepository) SaveMetrics(ctx context.Context, metrics *Metrics) error { return nil }

func (f *fakeRepository) GetMetrics(ctx context.Context, sessionID string) (*Metrics, error) {
	return nil, fmt.Errorf("metrics not found for session: %s", sessionID)
}

func (f *fakeRepository) SaveEpisodes(ctx context.Context, episodes []dissociation.Episode) error {
	return nil
}

func (f *fakeRepository) GetEpisodes(ctx context.Context, sessionID string) ([]dissociation.Episode, error) {
	return nil, nil
}

func (f *fakeRepository) SaveSessionData(ctx context.Context, data *SessionData) error {
	if data == nil || data.Session == nil {
		return fmt.Errorf("empty session data")
	}
	return f.CreateSession(ctx, data.Session)
}

func testManagerConfig() *config.Config {
	return &config.Config{
		SessionMode:           "standard",
		SamplingTier:          config.TierMedium,
		FrameBufferSize:       64,
		SessionDataTTLSeconds: 60,
		PhaseDurationSec:      300,
		Channels:              config.Channels{HRV: true, Motion: true, Respiration: true},
		Thresholds:            config.DefaultThresholds(),
	}
}

func TestManager_GetSessionReturnsCopy(t *testing.T) {
	manager := NewManager(testManagerConfig(), newFakeCache(), newFakeRepository(), nil)
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, &CreateSessionRequest{PatientID: "p1"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	got, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to get session: %v", err)
	}

	// Копия, а не общий указатель: мутации читателя не видны рантайму
	got.TotalStates = 999
	got.Phase = PhaseClosing

	manager.mu.RLock()
	meta := manager.sessions[created.ID].meta
	manager.mu.RUnlock()

	if got == meta {
		t.Fatalf("GetSession must return a copy, got the live pointer")
	}
	if meta.TotalStates != 0 {
		t.Errorf("Live meta mutated through reader copy: TotalStates=%d", meta.TotalStates)
	}
	if meta.Phase != PhaseBaseline {
		t.Errorf("Live meta mutated through reader copy: Phase=%s", meta.Phase)
	}
}

func TestManager_ConcurrentReadsDuringIngest(t *testing.T) {
	manager := NewManager(testManagerConfig(), newFakeCache(), newFakeRepository(), nil)
	ctx := context.Background()

	created, err := manager.CreateSession(ctx, &CreateSessionRequest{PatientID: "p1"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	// Читатели опрашивают сессию, пока воркер пайплайна мутирует метаданные
	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 3; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
					if _, err := manager.GetSession(ctx, created.ID); err != nil {
						t.Errorf("GetSession failed during ingest: %v", err)
						return
					}
				}
			}
		}()
	}

	base := time.Now()
	frameCount := 30
	for i := 0; i < frameCount; i++ {
		frame := emotion.SignalFrame{
			Timestamp: base.Add(time.Duration(i) * 200 * time.Millisecond),
			Channels: map[emotion.Channel]float64{
				emotion.ChannelMouthSmileLeft:  0.9,
				emotion.ChannelMouthSmileRight: 0.9,
			},
			Quality: emotion.QualityGood,
		}
		if err := manager.IngestFrame(ctx, created.ID, frame); err != nil {
			t.Fatalf("Failed to ingest frame %d: %v", i, err)
		}
	}

	metrics, err := manager.EndSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to end session: %v", err)
	}

	close(done)
	readers.Wait()

	if metrics.StateCount != int64(frameCount) {
		t.Errorf("Expected %d states, got %d", frameCount, metrics.StateCount)
	}

	final, err := manager.GetSession(ctx, created.ID)
	if err != nil {
		t.Fatalf("Failed to get ended session: %v", err)
	}
	if final.Status != StatusStopped {
		t.Errorf("Expected STOPPED status after end, got %s", final.Status)
	}
	if final.TotalStates != int64(frameCount) {
		t.Errorf("Expected TotalStates %d, got %d", frameCount, final.TotalStates)
	}
}
