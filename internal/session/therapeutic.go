package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// TherapeuticSession владеет агрегационным жизненным циклом одной сессии:
// append-only журналы событий плюс производные метрики. Мутируется только
// единственным продюсером, доставляющим упорядоченные состояния; читатели
// получают копии под RLock.
type TherapeuticSession struct {
	mu sync.RWMutex

	id        string
	startedAt time.Time
	endedAt   *time.Time

	phase        Phase
	phaseStarted time.Time
	phaseDone    int // Число завершенных фаз протокола

	phaseDuration time.Duration

	states        []fusion.IntegratedEmotionalState
	episodes      []dissociation.Episode
	interventions []Intervention

	agg    *Aggregator
	lastTs time.Time
}

// NewTherapeuticSession создает сессию, начинающуюся с указанной фазы
func NewTherapeuticSession(id string, phase Phase, startedAt time.Time, cfg *config.Config) *TherapeuticSession {
	return &TherapeuticSession{
		id:            id,
		startedAt:     startedAt,
		phase:         phase,
		phaseStarted:  startedAt,
		phaseDuration: time.Duration(cfg.PhaseDurationSec) * time.Second,
		agg:           NewAggregator(id, startedAt, cfg.SamplingTier, cfg.Thresholds),
	}
}

// ID возвращает идентификатор сессии
func (s *TherapeuticSession) ID() string {
	return s.id
}

// AddState добавляет интегрированное состояние в журнал сессии и метрики.
// Нарушение монотонности времени — ошибка программиста (поломка упорядоченной
// доставки), она возвращается наверх, а не глотается.
func (s *TherapeuticSession) AddState(st fusion.IntegratedEmotionalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt != nil {
		return fmt.Errorf("session %s already ended", s.id)
	}
	if !s.lastTs.IsZero() && st.Timestamp.Before(s.lastTs) {
		return fmt.Errorf("out-of-order state for session %s: %s before %s",
			s.id, st.Timestamp.Format(time.RFC3339Nano), s.lastTs.Format(time.RFC3339Nano))
	}

	if err := s.agg.AddState(st); err != nil {
		return err
	}

	s.states = append(s.states, st)
	s.lastTs = st.Timestamp
	return nil
}

// AddEpisode добавляет закрытый эпизод диссоциации
func (s *TherapeuticSession) AddEpisode(ep *dissociation.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.agg.AddEpisode(ep); err != nil {
		return err
	}
	s.episodes = append(s.episodes, *ep)
	return nil
}

// RecordIntervention регистрирует доставленное вмешательство
func (s *TherapeuticSession) RecordIntervention(iv Intervention) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt != nil {
		return fmt.Errorf("session %s already ended", s.id)
	}
	if err := s.agg.RecordIntervention(); err != nil {
		return err
	}
	s.interventions = append(s.interventions, iv)
	return nil
}

// SetPhase переводит сессию в следующую фазу протокола
func (s *TherapeuticSession) SetPhase(phase Phase, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt != nil {
		return fmt.Errorf("session %s already ended", s.id)
	}
	if !phase.Valid() {
		return fmt.Errorf("unknown phase: %s", phase)
	}
	if phase.Ordinal() < s.phase.Ordinal() {
		return fmt.Errorf("phase cannot move backwards: %s -> %s", s.phase, phase)
	}

	s.phaseDone = phase.Ordinal()
	s.phase = phase
	s.phaseStarted = at
	return nil
}

// Phase возвращает текущую фазу
func (s *TherapeuticSession) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// LastTimestamp возвращает время последнего принятого состояния
// (нулевое время, если состояний не было)
func (s *TherapeuticSession) LastTimestamp() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTs
}

// End финализирует сессию. Второй вызов — ошибка: метрики после финализации
// неизменны, пересчет по частичным данным недопустим.
func (s *TherapeuticSession) End(endTime time.Time) (Metrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.endedAt != nil {
		return Metrics{}, fmt.Errorf("session %s already ended", s.id)
	}

	metrics, err := s.agg.Finalize(endTime)
	if err != nil {
		return Metrics{}, err
	}

	s.fillProgress(&metrics, endTime)

	t := endTime
	s.endedAt = &t
	return metrics, nil
}

// MetricsSnapshot возвращает текущие метрики. Безопасно в любой момент:
// частичные метрики читаются без финализации.
func (s *TherapeuticSession) MetricsSnapshot(now time.Time) Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.agg.Snapshot(now)
	s.fillProgress(&m, now)
	return m
}

// States возвращает копию журнала состояний
func (s *TherapeuticSession) States() []fusion.IntegratedEmotionalState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fusion.IntegratedEmotionalState, len(s.states))
	copy(out, s.states)
	return out
}

// Episodes возвращает копию журнала эпизодов
func (s *TherapeuticSession) Episodes() []dissociation.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]dissociation.Episode, len(s.episodes))
	copy(out, s.episodes)
	return out
}

// Interventions возвращает копию журнала вмешательств
func (s *TherapeuticSession) Interventions() []Intervention {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Intervention, len(s.interventions))
	copy(out, s.interventions)
	return out
}

// fillProgress заполняет прогресс фазы и протокола. Вызывается под блокировкой.
func (s *TherapeuticSession) fillProgress(m *Metrics, now time.Time) {
	phaseProgress := 1.0
	if s.phaseDuration > 0 {
		phaseProgress = now.Sub(s.phaseStarted).Seconds() / s.phaseDuration.Seconds()
		if phaseProgress > 1 {
			phaseProgress = 1
		}
		if phaseProgress < 0 {
			phaseProgress = 0
		}
	}

	m.PhaseProgress = phaseProgress
	m.OverallProgress = (float64(s.phaseDone) + phaseProgress) / float64(len(phaseOrder))
}
