package fusion

import (
	"math"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
)

// RegulationState — классификация эмоциональной регуляции
type RegulationState string

const (
	Regulated    RegulationState = "regulated"
	Dysregulated RegulationState = "dysregulated"
)

// IntegratedEmotionalState — результат кросс-модальной интеграции лицевого
// и физиологического сигналов по одному кадру
type IntegratedEmotionalState struct {
	Timestamp         time.Time             `json:"timestamp"`
	DominantEmotion   emotion.Emotion       `json:"dominant_emotion"`
	Intensity         float64               `json:"intensity"`
	Arousal           float64               `json:"arousal"`
	Coherence         float64               `json:"coherence"`
	DissociationIndex float64               `json:"dissociation_index"`
	Regulation        RegulationState       `json:"regulation"`
	Masking           bool                  `json:"masking"`
	Markers           []PhysiologicalMarker `json:"markers,omitempty"`
	FacialConfidence  float64               `json:"facial_confidence"`
	HasBiometrics     bool                  `json:"has_biometrics"`
}

// activatingFactor — насколько эмоция "активирующая": множитель для
// лицевого прокси возбуждения при отсутствии физиологии
var activatingFactor = map[emotion.Emotion]float64{
	emotion.Anger:          1.0,
	emotion.Fear:           1.0,
	emotion.Surprise:       1.0,
	emotion.Hypervigilance: 1.0,
	emotion.Joy:            0.8,
	emotion.Disgust:        0.7,
	emotion.Contempt:       0.6,
	emotion.Sadness:        0.4,
	emotion.Freeze:         0.2,
	emotion.Dissociation:   0.2,
	emotion.Neutral:        0.1,
}

// Нормировочные константы возбуждения
const (
	hrDeviationSpan = 40.0 // уд/мин от персонального бейзлайна до максимума шкалы
	hrvLowSpan      = 50.0 // мс RMSSD; ниже этого HRV вносит вклад в возбуждение
	motionSpan      = 2.0  // величина движения, соответствующая максимуму шкалы
	baselineAlpha   = 0.05 // EWMA персонального бейзлайна пульса
)

// Builder интегрирует лицевое EmotionalState с последним биометрическим
// чтением. Держит скользящий персональный бейзлайн пульса и короткое окно
// возбуждения для оценки тренда. Не потокобезопасен: им владеет единственный
// воркер пайплайна.
type Builder struct {
	channels   config.Channels
	thresholds config.Thresholds

	hrBaseline    float64
	hrInitialized bool

	prevReading   *BiometricReading
	arousalWindow []float64
}

// NewBuilder создает builder интегрированных состояний
func NewBuilder(channels config.Channels, thresholds config.Thresholds) *Builder {
	return &Builder{
		channels:   channels,
		thresholds: thresholds,
	}
}

// Build производит одно интегрированное состояние. reading может быть nil
// (физиология недоступна) — сэмпл все равно эмитится, т.к. метрики ниже по
// потоку опираются на непрерывность временного ряда.
func (b *Builder) Build(es emotion.EmotionalState, reading *BiometricReading) IntegratedEmotionalState {
	facialArousal := facialArousalProxy(es)

	physioArousal, hasPhysio := b.physiologicalArousal(reading)

	arousal := facialArousal
	if hasPhysio {
		arousal = physioArousal
	}

	coherence := 0.5 // Физиологии нет — согласованность неизвестна, берем середину шкалы
	masking := false
	if hasPhysio && es.Quality != emotion.QualityNoFace {
		coherence = 1 - math.Abs(facialArousal-physioArousal)
		// Спокойное лицо при возбужденной физиологии — кандидат на маскировку
		masking = coherence < b.thresholds.MaskingCoherence && physioArousal > facialArousal
	}

	markers := deriveMarkers(b.prevReading, reading, b.channels)
	if reading != nil {
		cp := *reading
		b.prevReading = &cp
	}

	dissociation := b.dissociationIndex(es, markers)

	regulation := b.classifyRegulation(arousal)

	return IntegratedEmotionalState{
		Timestamp:         es.Timestamp,
		DominantEmotion:   es.Primary,
		Intensity:         es.PrimaryIntensity,
		Arousal:           arousal,
		Coherence:         clamp01(coherence),
		DissociationIndex: dissociation,
		Regulation:        regulation,
		Masking:           masking,
		Markers:           markers,
		FacialConfidence:  es.Confidence,
		HasBiometrics:     hasPhysio,
	}
}

// physiologicalArousal вычисляет возбуждение из доступных физиологических
// компонент; веса отсутствующих компонент перенормируются
func (b *Builder) physiologicalArousal(reading *BiometricReading) (float64, bool) {
	if reading == nil {
		return 0, false
	}

	sum := 0.0
	weight := 0.0

	if reading.HeartRate != nil {
		hr := *reading.HeartRate
		if !b.hrInitialized {
			b.hrBaseline = hr
			b.hrInitialized = true
		} else {
			b.hrBaseline = b.hrBaseline*(1-baselineAlpha) + hr*baselineAlpha
		}
		sum += 0.6 * clamp01((hr-b.hrBaseline)/hrDeviationSpan)
		weight += 0.6
	}

	if b.channels.HRV && reading.HRV != nil {
		// Низкая вариабельность пульса — признак симпатической активации
		sum += 0.2 * clamp01((hrvLowSpan-*reading.HRV)/hrvLowSpan)
		weight += 0.2
	}

	if b.channels.Motion && reading.Motion != nil {
		sum += 0.2 * clamp01(*reading.Motion/motionSpan)
		weight += 0.2
	}

	if weight == 0 {
		return 0, false
	}

	return clamp01(sum / weight), true
}

// dissociationIndex — взвешенная комбинация лицевого свидетельства
// (интенсивности dissociation/freeze) и физиологических маркеров
// (каждый вносит интенсивность * уверенность), нормированная и
// ограниченная единицей
func (b *Builder) dissociationIndex(es emotion.EmotionalState, markers []PhysiologicalMarker) float64 {
	facial := math.Max(es.Intensity(emotion.Dissociation), es.Intensity(emotion.Freeze))

	physio := 0.0
	for _, m := range markers {
		physio += m.Intensity * m.Confidence
	}
	physio = clamp01(physio)

	return clamp01(0.5*facial + 0.5*physio)
}

// classifyRegulation: regulated при возбуждении ниже порога либо при
// нисходящем тренде на коротком недавнем окне
func (b *Builder) classifyRegulation(arousal float64) RegulationState {
	window := b.thresholds.TrendWindow
	b.arousalWindow = append(b.arousalWindow, arousal)
	if len(b.arousalWindow) > window {
		b.arousalWindow = b.arousalWindow[1:]
	}

	if arousal < b.thresholds.ArousalRegulated {
		return Regulated
	}

	if len(b.arousalWindow) == window {
		avg := 0.0
		for _, a := range b.arousalWindow[:window-1] {
			avg += a
		}
		avg /= float64(window - 1)
		if arousal < avg {
			return Regulated
		}
	}

	return Dysregulated
}

// facialArousalProxy — прокси возбуждения только по лицу: интенсивность
// первичной эмоции, масштабированная ее активирующим фактором
func facialArousalProxy(es emotion.EmotionalState) float64 {
	factor, ok := activatingFactor[es.Primary]
	if !ok {
		factor = 0.5
	}
	return clamp01(es.PrimaryIntensity * factor)
}
