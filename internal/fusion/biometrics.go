package fusion

import (
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
)

// BiometricReading — одно чтение с физиологических сенсоров. Любое подмножество
// полей может отсутствовать (прогрев сенсора, разрыв соединения с часами).
type BiometricReading struct {
	Timestamp       time.Time `json:"timestamp"`
	HeartRate       *float64  `json:"heart_rate,omitempty"`       // уд/мин
	HRV             *float64  `json:"hrv,omitempty"`              // RMSSD, мс
	RespirationRate *float64  `json:"respiration_rate,omitempty"` // вдохов/мин
	SkinConductance *float64  `json:"skin_conductance,omitempty"` // мкСм
	Motion          *float64  `json:"motion,omitempty"`           // нормированная величина движения
	BlinkRate       *float64  `json:"blink_rate,omitempty"`       // морганий/мин
	GazeStability   *float64  `json:"gaze_stability,omitempty"`   // [0,1], 1 — взгляд неподвижен
	PupilDilation   *float64  `json:"pupil_dilation,omitempty"`   // [0,1]
	Source          string    `json:"source,omitempty"`           // "watch", "camera", "emulator"
}

// MarkerType — тип физиологического маркера диссоциации
type MarkerType string

const (
	MarkerHeartRateDecrease       MarkerType = "heart_rate_decrease"
	MarkerRespirationDecrease     MarkerType = "respiration_decrease"
	MarkerSkinConductanceDecrease MarkerType = "skin_conductance_decrease"
	MarkerPupilDilation           MarkerType = "pupil_dilation"
	MarkerMovementFreeze          MarkerType = "movement_freeze"
	MarkerBlinkRateDecrease       MarkerType = "blink_rate_decrease"
	MarkerGazeFreezing            MarkerType = "gaze_freezing"
)

// PhysiologicalMarker — обнаруженное физиологическое свидетельство диссоциации
type PhysiologicalMarker struct {
	Type       MarkerType `json:"type"`
	Intensity  float64    `json:"intensity"`
	Confidence float64    `json:"confidence"`
}

// Пороги выделения маркеров из пары последовательных чтений
const (
	hrDropMin          = 4.0  // уд/мин
	respirationDropMin = 2.0  // вдохов/мин
	conductanceDropMin = 0.5  // мкСм
	blinkDropMin       = 4.0  // морганий/мин
	motionFreezeMax    = 0.05 // ниже — обездвиженность
	gazeFreezeMin      = 0.85 // выше — застывший взгляд
	pupilDilationMin   = 0.6
)

// deriveMarkers выделяет маркеры диссоциации из текущего чтения и предыдущего.
// prev может быть nil — тогда доступны только маркеры, не требующие дельты.
// Выключенные в конфигурации каналы маркеров не дают.
func deriveMarkers(prev, cur *BiometricReading, ch config.Channels) []PhysiologicalMarker {
	if cur == nil {
		return nil
	}

	var markers []PhysiologicalMarker

	if prev != nil {
		if prev.HeartRate != nil && cur.HeartRate != nil {
			if drop := *prev.HeartRate - *cur.HeartRate; drop >= hrDropMin {
				markers = append(markers, PhysiologicalMarker{
					Type:       MarkerHeartRateDecrease,
					Intensity:  clamp01(drop / 15.0),
					Confidence: 0.8,
				})
			}
		}
		if ch.Respiration && prev.RespirationRate != nil && cur.RespirationRate != nil {
			if drop := *prev.RespirationRate - *cur.RespirationRate; drop >= respirationDropMin {
				markers = append(markers, PhysiologicalMarker{
					Type:       MarkerRespirationDecrease,
					Intensity:  clamp01(drop / 6.0),
					Confidence: 0.7,
				})
			}
		}
		if prev.SkinConductance != nil && cur.SkinConductance != nil {
			if drop := *prev.SkinConductance - *cur.SkinConductance; drop >= conductanceDropMin {
				markers = append(markers, PhysiologicalMarker{
					Type:       MarkerSkinConductanceDecrease,
					Intensity:  clamp01(drop / 2.0),
					Confidence: 0.6,
				})
			}
		}
		if prev.BlinkRate != nil && cur.BlinkRate != nil {
			if drop := *prev.BlinkRate - *cur.BlinkRate; drop >= blinkDropMin {
				markers = append(markers, PhysiologicalMarker{
					Type:       MarkerBlinkRateDecrease,
					Intensity:  clamp01(drop / 10.0),
					Confidence: 0.6,
				})
			}
		}
	}

	if ch.Motion && cur.Motion != nil && *cur.Motion < motionFreezeMax {
		markers = append(markers, PhysiologicalMarker{
			Type:       MarkerMovementFreeze,
			Intensity:  clamp01(1 - *cur.Motion/motionFreezeMax),
			Confidence: 0.75,
		})
	}
	if cur.GazeStability != nil && *cur.GazeStability >= gazeFreezeMin {
		markers = append(markers, PhysiologicalMarker{
			Type:       MarkerGazeFreezing,
			Intensity:  clamp01((*cur.GazeStability - gazeFreezeMin) / (1 - gazeFreezeMin)),
			Confidence: 0.7,
		})
	}
	if cur.PupilDilation != nil && *cur.PupilDilation >= pupilDilationMin {
		markers = append(markers, PhysiologicalMarker{
			Type:       MarkerPupilDilation,
			Intensity:  clamp01(*cur.PupilDilation),
			Confidence: 0.5,
		})
	}

	return markers
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Float64 — хелпер для литеральных чтений в тестах и эмуляторах
func Float64(v float64) *float64 {
	return &v
}
