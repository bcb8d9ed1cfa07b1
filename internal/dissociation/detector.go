package dissociation

import (
	"time"

	"github.com/google/uuid"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// Episode — эпизод диссоциации. Открыт, пока EndTime == nil; после закрытия
// не мутируется.
type Episode struct {
	ID           string                       `json:"id"`
	SessionID    string                       `json:"session_id"`
	StartTime    time.Time                    `json:"start_time"`
	EndTime      *time.Time                   `json:"end_time,omitempty"`
	MaxIntensity float64                      `json:"max_intensity"`
	AvgIntensity float64                      `json:"avg_intensity"`
	Markers      []fusion.PhysiologicalMarker `json:"markers,omitempty"`

	sumIntensity float64
	samples      int
}

// DurationSec возвращает длительность закрытого эпизода в секундах
func (e *Episode) DurationSec() float64 {
	if e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(e.StartTime).Seconds()
}

func (e *Episode) observe(index float64, markers []fusion.PhysiologicalMarker) {
	if index > e.MaxIntensity {
		e.MaxIntensity = index
	}
	e.sumIntensity += index
	e.samples++
	e.Markers = append(e.Markers, markers...)
}

func (e *Episode) close(end time.Time) {
	t := end
	e.EndTime = &t
	if e.samples > 0 {
		e.AvgIntensity = e.sumIntensity / float64(e.samples)
	}
}

// state — фаза конечного автомата детектора
type state int

const (
	stateNone state = iota
	stateEntering
	stateActive
	stateExiting
)

// Detector — дебаунсированный пороговый детектор эпизодов диссоциации.
// Два порога (гистерезис) и два окна удержания защищают метрики от
// однокадрового джиттера: одиночный всплеск индекса не открывает эпизод,
// одиночный провал не закрывает его.
//
// NONE -> ENTERING -> ACTIVE -> EXITING -> NONE (эпизод закрыт)
type Detector struct {
	sessionID string
	entry     float64 // Порог входа
	exit      float64 // Порог выхода, ниже порога входа
	sustain   int     // Сколько сэмплов подряд подтверждают переход

	state      state
	aboveCount int
	belowCount int
	current    *Episode
	exitingAt  time.Time // Время первого сэмпла ниже порога выхода
	lastSeen   time.Time
}

// NewDetector создает детектор для одной сессии
func NewDetector(sessionID string, entry, exit float64, sustain int) *Detector {
	if sustain < 1 {
		sustain = 1
	}
	return &Detector{
		sessionID: sessionID,
		entry:     entry,
		exit:      exit,
		sustain:   sustain,
	}
}

// Update обрабатывает очередное интегрированное состояние. Возвращает
// закрытый эпизод, когда выход из диссоциации подтвержден, иначе nil.
func (d *Detector) Update(st fusion.IntegratedEmotionalState) *Episode {
	index := st.DissociationIndex
	d.lastSeen = st.Timestamp

	switch d.state {
	case stateNone:
		if index > d.entry {
			d.state = stateEntering
			d.aboveCount = 1
			d.current = &Episode{
				ID:        uuid.New().String(),
				SessionID: d.sessionID,
				StartTime: st.Timestamp,
			}
			d.current.observe(index, st.Markers)
		}

	case stateEntering:
		if index > d.entry {
			d.aboveCount++
			d.current.observe(index, st.Markers)
			if d.aboveCount >= d.sustain {
				d.state = stateActive
			}
		} else {
			// Всплеск не удержался — эпизод не открывается
			d.state = stateNone
			d.current = nil
			d.aboveCount = 0
		}

	case stateActive:
		if index >= d.exit {
			d.current.observe(index, st.Markers)
		} else {
			d.state = stateExiting
			d.belowCount = 1
			d.exitingAt = st.Timestamp
		}

	case stateExiting:
		if index >= d.exit {
			// Индекс вернулся — эпизод продолжается
			d.state = stateActive
			d.belowCount = 0
			d.current.observe(index, st.Markers)
		} else {
			d.belowCount++
			if d.belowCount >= d.sustain {
				return d.finishEpisode(d.exitingAt)
			}
		}
	}

	return nil
}

// Active сообщает, открыт ли эпизод в данный момент (включая фазу выхода)
func (d *Detector) Active() bool {
	return d.state == stateActive || d.state == stateExiting
}

// ForceClose закрывает открытый эпизод последним наблюдавшимся временем.
// Вызывается при принудительном завершении сессии, чтобы эпизод не повис
// открытым. ENTERING не считается подтвержденным эпизодом и отбрасывается.
func (d *Detector) ForceClose(ts time.Time) *Episode {
	if d.state == stateActive || d.state == stateExiting {
		end := ts
		if d.state == stateExiting {
			end = d.exitingAt
		}
		return d.finishEpisode(end)
	}

	d.state = stateNone
	d.current = nil
	d.aboveCount = 0
	d.belowCount = 0
	return nil
}

func (d *Detector) finishEpisode(end time.Time) *Episode {
	ep := d.current
	ep.close(end)

	d.state = stateNone
	d.current = nil
	d.aboveCount = 0
	d.belowCount = 0

	return ep
}
