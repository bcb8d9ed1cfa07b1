package session

import (
	"fmt"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// Aggregator инкрементально считает метрики сессии по упорядоченному потоку
// интегрированных состояний. Не потокобезопасен: защищается блокировкой
// владеющей TherapeuticSession.
type Aggregator struct {
	sessionID string

	sampleInterval  time.Duration // Ожидаемый интервал сэмплирования (аппроксимация времени диссоциации)
	dissocThreshold float64       // Тот же порог, что у детектора эпизодов
	expressedFloor  float64
	recoveryMargin  float64

	startTime time.Time

	sumCoherence float64
	stateCount   int64
	maskingCount int64

	interventions int64
	episodeCount  int64

	expressed map[emotion.Emotion]struct{}

	dissociationTime time.Duration

	// Пиковое возбуждение и время восстановления
	peakArousal   float64
	peakArousalAt time.Time
	peakRecovered bool
	bestRecovery  time.Duration
	hasRecovery   bool

	finalized bool
}

// NewAggregator создает агрегатор метрик для сессии
func NewAggregator(sessionID string, startTime time.Time, tier config.SamplingTier, thresholds config.Thresholds) *Aggregator {
	return &Aggregator{
		sessionID:       sessionID,
		sampleInterval:  tier.SampleInterval(),
		dissocThreshold: thresholds.DissociationEntry,
		expressedFloor:  thresholds.ExpressedFloor,
		recoveryMargin:  thresholds.RecoveryMargin,
		startTime:       startTime,
		expressed:       make(map[emotion.Emotion]struct{}),
	}
}

// AddState обновляет бегущие суммы по одному интегрированному состоянию
func (a *Aggregator) AddState(st fusion.IntegratedEmotionalState) error {
	if a.finalized {
		return fmt.Errorf("aggregator for session %s is finalized", a.sessionID)
	}

	a.stateCount++
	a.sumCoherence += st.Coherence

	if st.Masking {
		a.maskingCount++
	}

	if st.Intensity > a.expressedFloor {
		a.expressed[st.DominantEmotion] = struct{}{}
	}

	// Аппроксимация времени диссоциации: фиксированная длительность сэмпла
	// на каждый сэмпл выше порога входа детектора
	if st.DissociationIndex > a.dissocThreshold {
		a.dissociationTime += a.sampleInterval
	}

	// Пик возбуждения и восстановление: минимальный наблюдавшийся интервал
	// от пикового сэмпла до сэмпла с возбуждением на margin ниже пика
	if st.Arousal > a.peakArousal {
		a.peakArousal = st.Arousal
		a.peakArousalAt = st.Timestamp
		a.peakRecovered = false
	} else if !a.peakRecovered && a.peakArousal > 0 && st.Arousal <= a.peakArousal-a.recoveryMargin {
		recovery := st.Timestamp.Sub(a.peakArousalAt)
		if !a.hasRecovery || recovery < a.bestRecovery {
			a.bestRecovery = recovery
			a.hasRecovery = true
		}
		a.peakRecovered = true
	}

	return nil
}

// AddEpisode учитывает закрытый эпизод диссоциации
func (a *Aggregator) AddEpisode(ep *dissociation.Episode) error {
	if a.finalized {
		return fmt.Errorf("aggregator for session %s is finalized", a.sessionID)
	}
	a.episodeCount++
	return nil
}

// RecordIntervention учитывает доставленное вмешательство
func (a *Aggregator) RecordIntervention() error {
	if a.finalized {
		return fmt.Errorf("aggregator for session %s is finalized", a.sessionID)
	}
	a.interventions++
	return nil
}

// Snapshot возвращает текущие метрики без финализации. Безопасно вызывать
// в любой момент сессии: производные поля считаются по состоянию на now.
func (a *Aggregator) Snapshot(now time.Time) Metrics {
	return a.compute(now, false)
}

// Finalize вычисляет итоговые метрики. Повторный вызов — ошибка программиста:
// тихий пересчет по частичным данным маскировал бы поломку порядка вызовов.
func (a *Aggregator) Finalize(endTime time.Time) (Metrics, error) {
	if a.finalized {
		return Metrics{}, fmt.Errorf("finalize called twice for session %s", a.sessionID)
	}
	a.finalized = true
	return a.compute(endTime, true), nil
}

// Finalized сообщает, были ли метрики финализированы
func (a *Aggregator) Finalized() bool {
	return a.finalized
}

func (a *Aggregator) compute(now time.Time, finalized bool) Metrics {
	duration := now.Sub(a.startTime).Seconds()
	if duration < 0 {
		duration = 0
	}

	avgCoherence := 0.0
	if a.stateCount > 0 {
		avgCoherence = a.sumCoherence / float64(a.stateCount)
	}

	dissocSec := a.dissociationTime.Seconds()
	dissocPct := 0.0
	if duration > 0 {
		dissocPct = dissocSec / duration
		if dissocPct > 1 {
			dissocPct = 1
		}
	}

	m := Metrics{
		SessionID:                a.sessionID,
		DurationSec:              duration,
		InterventionCount:        a.interventions,
		AvgCoherence:             avgCoherence,
		MaskingCount:             a.maskingCount,
		ExpressedEmotions:        a.expressedList(),
		EmotionalRangeIndex:      float64(len(a.expressed)) / float64(emotion.VocabularySize()),
		DissociationEpisodeCount: a.episodeCount,
		DissociationTimeSec:      dissocSec,
		DissociationPct:          dissocPct,
		PeakArousal:              a.peakArousal,
		PeakArousalAt:            a.peakArousalAt,
		RecoveryObserved:         a.hasRecovery,
		StateCount:               a.stateCount,
		Finalized:                finalized,
		UpdatedAt:                now,
	}
	if a.hasRecovery {
		m.RegulationRecoverySec = a.bestRecovery.Seconds()
	}

	return m
}

// expressedList возвращает выраженные эмоции в каноническом порядке словаря,
// чтобы сериализованное представление было стабильным
func (a *Aggregator) expressedList() []string {
	out := make([]string, 0, len(a.expressed))
	for _, em := range emotion.Vocabulary() {
		if _, ok := a.expressed[em]; ok {
			out = append(out, string(em))
		}
	}
	return out
}
