package emotion

import "time"

// EmotionalState — иммутабельная запись инференса по одному кадру
type EmotionalState struct {
	Timestamp        time.Time           `json:"timestamp"`
	Primary          Emotion             `json:"primary"`
	PrimaryIntensity float64             `json:"primary_intensity"`
	Secondary        map[Emotion]float64 `json:"secondary,omitempty"`
	MicroExpressions []MicroExpression   `json:"micro_expressions,omitempty"`
	Confidence       float64             `json:"confidence"`
	Quality          TrackingQuality     `json:"tracking_quality"`
}

// Intensity возвращает интенсивность эмоции в этом состоянии:
// первичной, вторичной или 0
func (s *EmotionalState) Intensity(em Emotion) float64 {
	if s.Primary == em {
		return s.PrimaryIntensity
	}
	return s.Secondary[em]
}

// StateBuilder собирает EmotionalState из вывода скорера, детектора
// микровыражений и качества трекинга
type StateBuilder struct {
	scorer         *Scorer
	micro          *MicroDetector
	secondaryFloor float64
}

// NewStateBuilder создает builder поверх скорера и детектора
func NewStateBuilder(scorer *Scorer, micro *MicroDetector, secondaryFloor float64) *StateBuilder {
	return &StateBuilder{
		scorer:         scorer,
		micro:          micro,
		secondaryFloor: secondaryFloor,
	}
}

// Build обрабатывает один кадр. Для кадров без лица скорер не вызывается:
// возвращается нейтральное состояние с нулевой уверенностью и интенсивностью,
// без микровыражений.
func (b *StateBuilder) Build(frame SignalFrame) EmotionalState {
	if frame.Quality == QualityNoFace {
		// Кадр все равно попадает в буфер детектора: первый кадр после
		// восстановления трекинга сравнивается с no-face соседом и не дает
		// ложного всплеска на уже удерживаемом выражении
		b.micro.Observe(frame)
		return EmotionalState{
			Timestamp:  frame.Timestamp,
			Primary:    Neutral,
			Confidence: 0,
			Quality:    QualityNoFace,
		}
	}

	scored := b.scorer.Score(&frame)
	micros := b.micro.Observe(frame)

	primary := scored[0]

	var secondary map[Emotion]float64
	for _, se := range scored[1:] {
		if se.Score <= b.secondaryFloor {
			continue
		}
		if secondary == nil {
			secondary = make(map[Emotion]float64)
		}
		secondary[se.Emotion] = se.Score
	}

	return EmotionalState{
		Timestamp:        frame.Timestamp,
		Primary:          primary.Emotion,
		PrimaryIntensity: primary.Score,
		Secondary:        secondary,
		MicroExpressions: micros,
		Confidence:       frame.Quality.Confidence(),
		Quality:          frame.Quality,
	}
}
