package emulator

import (
	"math/rand"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// Phase — фаза сценария эмуляции
type Phase string

const (
	PhaseCalm         Phase = "calm"         // Нейтральное лицо, спокойная физиология
	PhaseExpressive   Phase = "expressive"   // Нарастающая радость с микровсплесками
	PhaseDissociative Phase = "dissociative" // Застывший взгляд, падение пульса и подвижности
	PhaseRecovery     Phase = "recovery"     // Возврат к спокойному состоянию
)

// scenarioStep — отрезок сценария фиксированной длительности
type scenarioStep struct {
	phase    Phase
	duration time.Duration
}

// defaultScenario воспроизводит типичную динамику сессии: спокойный бейзлайн,
// эмоциональная активация, эпизод диссоциации, восстановление
var defaultScenario = []scenarioStep{
	{PhaseCalm, 20 * time.Second},
	{PhaseExpressive, 30 * time.Second},
	{PhaseDissociative, 15 * time.Second},
	{PhaseRecovery, 25 * time.Second},
}

// FrameGenerator генерирует синтетические кадры лицевых каналов по сценарию
type FrameGenerator struct {
	rand    *rand.Rand
	started time.Time
	steps   []scenarioStep
}

// NewFrameGenerator создает генератор кадров
func NewFrameGenerator(seed int64, started time.Time) *FrameGenerator {
	return &FrameGenerator{
		rand:    rand.New(rand.NewSource(seed)),
		started: started,
		steps:   defaultScenario,
	}
}

// CurrentPhase возвращает фазу сценария на момент времени; сценарий зациклен
func (g *FrameGenerator) CurrentPhase(ts time.Time) Phase {
	total := time.Duration(0)
	for _, s := range g.steps {
		total += s.duration
	}

	elapsed := ts.Sub(g.started) % total
	for _, s := range g.steps {
		if elapsed < s.duration {
			return s.phase
		}
		elapsed -= s.duration
	}
	return PhaseCalm
}

// NextFrame генерирует кадр для момента времени ts
func (g *FrameGenerator) NextFrame(ts time.Time) (map[emotion.Channel]float64, emotion.TrackingQuality) {
	channels := make(map[emotion.Channel]float64)

	switch g.CurrentPhase(ts) {
	case PhaseExpressive:
		smile := 0.5 + g.noise(0.3)
		channels[emotion.ChannelMouthSmileLeft] = smile
		channels[emotion.ChannelMouthSmileRight] = smile
		channels[emotion.ChannelCheekRaiseLeft] = 0.4 + g.noise(0.2)
		channels[emotion.ChannelCheekRaiseRight] = 0.4 + g.noise(0.2)
		// Редкий резкий всплеск для детектора микровыражений
		if g.rand.Float64() < 0.05 {
			channels[emotion.ChannelEyeWideLeft] = 0.8
			channels[emotion.ChannelEyeWideRight] = 0.8
		}

	case PhaseDissociative:
		channels[emotion.ChannelGazeFixation] = 0.8 + g.noise(0.15)
		channels[emotion.ChannelFaceStillness] = 0.85 + g.noise(0.1)
		channels[emotion.ChannelBlinkSuppression] = 0.7 + g.noise(0.2)

	case PhaseRecovery:
		channels[emotion.ChannelMouthSmileLeft] = 0.2 + g.noise(0.1)
		channels[emotion.ChannelMouthSmileRight] = 0.2 + g.noise(0.1)
		channels[emotion.ChannelGazeFixation] = 0.2 + g.noise(0.1)

	default: // PhaseCalm
		channels[emotion.ChannelMouthSmileLeft] = g.noise(0.1)
		channels[emotion.ChannelMouthSmileRight] = g.noise(0.1)
		channels[emotion.ChannelBrowInnerUp] = g.noise(0.1)
	}

	// Изредка трекинг проседает
	quality := emotion.QualityGood
	if g.rand.Float64() < 0.03 {
		quality = emotion.QualityFair
	}

	return channels, quality
}

func (g *FrameGenerator) noise(span float64) float64 {
	return g.rand.Float64() * span
}

// BiometricGenerator генерирует синтетические биометрические чтения,
// согласованные с фазой лицевого сценария
type BiometricGenerator struct {
	rand   *rand.Rand
	frames *FrameGenerator

	baseHR float64
}

// NewBiometricGenerator создает генератор биометрии поверх сценария кадров
func NewBiometricGenerator(seed int64, frames *FrameGenerator) *BiometricGenerator {
	return &BiometricGenerator{
		rand:   rand.New(rand.NewSource(seed)),
		frames: frames,
		baseHR: 72,
	}
}

// NextReading генерирует чтение для момента времени ts
func (b *BiometricGenerator) NextReading(ts time.Time) fusion.BiometricReading {
	hr := b.baseHR + b.rand.Float64()*4 - 2
	hrv := 45 + b.rand.Float64()*10
	motion := 0.3 + b.rand.Float64()*0.4
	respiration := 14 + b.rand.Float64()*2

	switch b.frames.CurrentPhase(ts) {
	case PhaseExpressive:
		hr += 18
		hrv -= 15
		motion += 0.5

	case PhaseDissociative:
		// Вегетативное оцепенение: пульс и дыхание падают, движение замирает
		hr -= 12
		respiration -= 4
		motion = 0.01 + b.rand.Float64()*0.02

	case PhaseRecovery:
		hr += 4
	}

	return fusion.BiometricReading{
		Timestamp:       ts,
		HeartRate:       fusion.Float64(hr),
		HRV:             fusion.Float64(hrv),
		RespirationRate: fusion.Float64(respiration),
		Motion:          fusion.Float64(motion),
		Source:          "emulator",
	}
}
