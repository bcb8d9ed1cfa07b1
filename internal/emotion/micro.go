package emotion

import (
	"time"
)

// Физиологически правдоподобные границы длительности микровыражения
const (
	microMinDuration = 40 * time.Millisecond
	microMaxDuration = 200 * time.Millisecond
)

// ActionUnit — идентификатор лицевой единицы действия (FACS)
type ActionUnit struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Intensity float64 `json:"intensity"`
}

// MicroExpression — кратковременная высокоамплитудная активация лицевой мышцы
type MicroExpression struct {
	Timestamp   time.Time    `json:"timestamp"`
	DurationSec float64      `json:"duration_sec"`
	Emotion     Emotion      `json:"emotion"`
	Intensity   float64      `json:"intensity"`
	ActionUnits []ActionUnit `json:"action_units"`
}

// expressiveChannel описывает канал, по которому детектируются микровыражения:
// какой эмоции приписать всплеск и какой action unit он активирует
type expressiveChannel struct {
	channel Channel
	emotion Emotion
	auCode  string
	auName  string
}

// expressiveChannels — фиксированное подмножество каналов, в которых всплеск
// интерпретируется как микровыражение
var expressiveChannels = []expressiveChannel{
	{ChannelBrowInnerUp, Sadness, "AU1", "Inner Brow Raiser"},
	{ChannelBrowDownLeft, Anger, "AU4", "Brow Lowerer"},
	{ChannelBrowDownRight, Anger, "AU4", "Brow Lowerer"},
	{ChannelEyeWideLeft, Fear, "AU5", "Upper Lid Raiser"},
	{ChannelEyeWideRight, Fear, "AU5", "Upper Lid Raiser"},
	{ChannelCheekRaiseLeft, Joy, "AU6", "Cheek Raiser"},
	{ChannelCheekRaiseRight, Joy, "AU6", "Cheek Raiser"},
	{ChannelNoseSneerLeft, Disgust, "AU9", "Nose Wrinkler"},
	{ChannelNoseSneerRight, Disgust, "AU9", "Nose Wrinkler"},
	{ChannelMouthSmileLeft, Joy, "AU12", "Lip Corner Puller"},
	{ChannelMouthSmileRight, Joy, "AU12", "Lip Corner Puller"},
	{ChannelMouthFrownLeft, Sadness, "AU15", "Lip Corner Depressor"},
	{ChannelMouthFrownRight, Sadness, "AU15", "Lip Corner Depressor"},
	{ChannelMouthStretchLeft, Fear, "AU20", "Lip Stretcher"},
	{ChannelMouthStretchRight, Fear, "AU20", "Lip Stretcher"},
	{ChannelJawOpen, Surprise, "AU26", "Jaw Drop"},
}

// MicroDetector держит короткую историю кадров и сравнивает соседние кадры
// поканально, выделяя резкие кратковременные активации
type MicroDetector struct {
	capacity  int     // Емкость кольцевого буфера
	minFrames int     // Сравнения не выполняются, пока буфер не держит больше этого числа кадров
	delta     float64 // Минимальный прирост значения между кадрами (строго больше)
	floor     float64 // Минимальное абсолютное значение нового кадра (строго больше)

	frames []SignalFrame
}

// NewMicroDetector создает детектор микровыражений
func NewMicroDetector(capacity, minFrames int, delta, floor float64) *MicroDetector {
	if capacity <= minFrames {
		capacity = minFrames + 1
	}
	return &MicroDetector{
		capacity:  capacity,
		minFrames: minFrames,
		delta:     delta,
		floor:     floor,
		frames:    make([]SignalFrame, 0, capacity),
	}
}

// Observe добавляет кадр в буфер и возвращает микровыражения, обнаруженные
// на переходе от предыдущего кадра к текущему. Несколько каналов могут
// сработать на одном переходе — тогда записей будет несколько.
func (d *MicroDetector) Observe(frame SignalFrame) []MicroExpression {
	d.frames = append(d.frames, frame)
	if len(d.frames) > d.capacity {
		d.frames = d.frames[1:]
	}

	// Защита от шумных срабатываний на старте: ждем наполнения буфера
	if len(d.frames) <= d.minFrames {
		return nil
	}

	prev := &d.frames[len(d.frames)-2]
	if prev.Quality == QualityNoFace || frame.Quality == QualityNoFace {
		return nil
	}

	var result []MicroExpression
	for _, ec := range expressiveChannels {
		cur := frame.Value(ec.channel)
		rise := cur - prev.Value(ec.channel)

		// Оба условия строгие: ровно пороговая дельта не считается всплеском
		if rise <= d.delta || cur <= d.floor {
			continue
		}

		result = append(result, MicroExpression{
			Timestamp:   frame.Timestamp,
			DurationSec: estimateDuration(prev.Timestamp, frame.Timestamp),
			Emotion:     ec.emotion,
			Intensity:   cur,
			ActionUnits: []ActionUnit{{Code: ec.auCode, Name: ec.auName, Intensity: cur}},
		})
	}

	return result
}

// BufferLen возвращает текущее наполнение буфера
func (d *MicroDetector) BufferLen() int {
	return len(d.frames)
}

// Reset очищает буфер (например, при потере трекинга на длительное время)
func (d *MicroDetector) Reset() {
	d.frames = d.frames[:0]
}

// estimateDuration оценивает длительность всплеска по межкадровому интервалу,
// ограничивая правдоподобным диапазоном 40-200 мс
func estimateDuration(prev, cur time.Time) float64 {
	est := cur.Sub(prev) * 2
	if est < microMinDuration {
		est = microMinDuration
	}
	if est > microMaxDuration {
		est = microMaxDuration
	}
	return est.Seconds()
}
