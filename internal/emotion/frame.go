package emotion

import "time"

// Channel — абстрактное имя лицевого канала. Движок не знает device-специфичных
// имен blend shape'ов: адаптер захвата транслирует их в этот словарь.
type Channel string

const (
	ChannelBrowInnerUp      Channel = "brow_inner_up"
	ChannelBrowDownLeft     Channel = "brow_down_left"
	ChannelBrowDownRight    Channel = "brow_down_right"
	ChannelBrowOuterUpLeft  Channel = "brow_outer_up_left"
	ChannelBrowOuterUpRight Channel = "brow_outer_up_right"

	ChannelEyeWideLeft    Channel = "eye_wide_left"
	ChannelEyeWideRight   Channel = "eye_wide_right"
	ChannelEyeBlinkLeft   Channel = "eye_blink_left"
	ChannelEyeBlinkRight  Channel = "eye_blink_right"
	ChannelEyeSquintLeft  Channel = "eye_squint_left"
	ChannelEyeSquintRight Channel = "eye_squint_right"

	ChannelCheekRaiseLeft  Channel = "cheek_raise_left"
	ChannelCheekRaiseRight Channel = "cheek_raise_right"
	ChannelNoseSneerLeft   Channel = "nose_sneer_left"
	ChannelNoseSneerRight  Channel = "nose_sneer_right"

	ChannelMouthSmileLeft    Channel = "mouth_smile_left"
	ChannelMouthSmileRight   Channel = "mouth_smile_right"
	ChannelMouthFrownLeft    Channel = "mouth_frown_left"
	ChannelMouthFrownRight   Channel = "mouth_frown_right"
	ChannelMouthPressLeft    Channel = "mouth_press_left"
	ChannelMouthPressRight   Channel = "mouth_press_right"
	ChannelMouthStretchLeft  Channel = "mouth_stretch_left"
	ChannelMouthStretchRight Channel = "mouth_stretch_right"
	ChannelMouthUpperUpLeft  Channel = "mouth_upper_up_left"
	ChannelMouthUpperUpRight Channel = "mouth_upper_up_right"

	ChannelJawOpen   Channel = "jaw_open"
	ChannelJawClench Channel = "jaw_clench"

	// Производные каналы взгляда/подвижности. Вычисляются адаптером захвата
	// по траектории взгляда и общей подвижности лица за короткое окно.
	ChannelGazeFixation     Channel = "gaze_fixation"
	ChannelGazeScanning     Channel = "gaze_scanning"
	ChannelFaceStillness    Channel = "face_stillness"
	ChannelBlinkSuppression Channel = "blink_suppression"
)

// TrackingQuality представляет качество трекинга лица
type TrackingQuality string

const (
	QualityExcellent TrackingQuality = "excellent"
	QualityGood      TrackingQuality = "good"
	QualityFair      TrackingQuality = "fair"
	QualityPoor      TrackingQuality = "poor"
	QualityNoFace    TrackingQuality = "no_face"
)

// Confidence возвращает базовую уверенность инференса для данного качества
func (q TrackingQuality) Confidence() float64 {
	switch q {
	case QualityExcellent:
		return 1.0
	case QualityGood:
		return 0.85
	case QualityFair:
		return 0.6
	case QualityPoor:
		return 0.3
	default:
		return 0
	}
}

// Valid проверяет, что значение качества из внешнего payload'а известно движку
func (q TrackingQuality) Valid() bool {
	switch q {
	case QualityExcellent, QualityGood, QualityFair, QualityPoor, QualityNoFace:
		return true
	}
	return false
}

// SignalFrame — снимок интенсивностей лицевых каналов на один момент времени.
// Создается один раз на тик захвата и дальше не мутируется.
type SignalFrame struct {
	Timestamp time.Time           `json:"timestamp"`
	Channels  map[Channel]float64 `json:"channels"`
	Quality   TrackingQuality     `json:"tracking_quality"`
}

// Value возвращает интенсивность канала, 0 для отсутствующих
func (f *SignalFrame) Value(ch Channel) float64 {
	return f.Channels[ch]
}
