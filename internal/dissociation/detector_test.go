package dissociation

import (
	"testing"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

func stateAt(base time.Time, offsetSec int, index float64) fusion.IntegratedEmotionalState {
	return fusion.IntegratedEmotionalState{
		Timestamp:         base.Add(time.Duration(offsetSec) * time.Second),
		DissociationIndex: index,
	}
}

func TestDetector_SingleSpikeDoesNotOpenEpisode(t *testing.T) {
	detector := NewDetector("session1", 0.6, 0.5, 4)
	base := time.Now()

	// Одиночный всплеск выше порога входа, затем спад
	indices := []float64{0.2, 0.9, 0.2, 0.2, 0.2, 0.2}
	for i, idx := range indices {
		if ep := detector.Update(stateAt(base, i, idx)); ep != nil {
			t.Fatalf("Unexpected episode from single spike at sample %d", i)
		}
	}

	if detector.Active() {
		t.Errorf("Detector must not be active after rejected spike")
	}
}

func TestDetector_SustainedIndexOpensAndClosesEpisode(t *testing.T) {
	detector := NewDetector("session1", 0.6, 0.5, 4)
	base := time.Now()

	// 6 сэмплов выше порога входа: эпизод подтверждается
	for i := 0; i < 6; i++ {
		if ep := detector.Update(stateAt(base, i, 0.8)); ep != nil {
			t.Fatalf("Episode must not close while index is high")
		}
	}
	if !detector.Active() {
		t.Fatalf("Expected active episode after sustained high index")
	}

	// 4 сэмпла ниже порога выхода: эпизод закрывается
	var closed *Episode
	for i := 6; i < 10; i++ {
		closed = detector.Update(stateAt(base, i, 0.3))
	}
	if closed == nil {
		t.Fatalf("Expected closed episode after sustained low index")
	}

	// Конец эпизода - время первого сэмпла ниже порога выхода
	expectedEnd := base.Add(6 * time.Second)
	if !closed.EndTime.Equal(expectedEnd) {
		t.Errorf("Expected episode end at %v, got %v", expectedEnd, *closed.EndTime)
	}
	if closed.StartTime != base {
		t.Errorf("Expected episode start at %v, got %v", base, closed.StartTime)
	}
	if closed.DurationSec() != 6.0 {
		t.Errorf("Expected duration 6s, got %f", closed.DurationSec())
	}
	if closed.MaxIntensity != 0.8 {
		t.Errorf("Expected max intensity 0.8, got %f", closed.MaxIntensity)
	}
}

func TestDetector_HysteresisFlapDoesNotCloseEpisode(t *testing.T) {
	detector := NewDetector("session1", 0.6, 0.5, 4)
	base := time.Now()

	for i := 0; i < 4; i++ {
		detector.Update(stateAt(base, i, 0.8))
	}

	// Индекс колеблется между порогами входа и выхода и кратко проваливается:
	// эпизод не должен закрыться
	flaps := []float64{0.55, 0.3, 0.55, 0.3, 0.3, 0.55}
	for i, idx := range flaps {
		if ep := detector.Update(stateAt(base, 4+i, idx)); ep != nil {
			t.Fatalf("Episode must survive hysteresis flapping, closed at sample %d", i)
		}
	}

	if !detector.Active() {
		t.Errorf("Expected episode still active after flapping")
	}
}

func TestDetector_ForceClose(t *testing.T) {
	detector := NewDetector("session1", 0.6, 0.5, 4)
	base := time.Now()

	for i := 0; i < 5; i++ {
		detector.Update(stateAt(base, i, 0.9))
	}

	endTime := base.Add(10 * time.Second)
	ep := detector.ForceClose(endTime)
	if ep == nil {
		t.Fatalf("Expected forced episode close")
	}
	if !ep.EndTime.Equal(endTime) {
		t.Errorf("Expected forced end at %v, got %v", endTime, *ep.EndTime)
	}
	if detector.Active() {
		t.Errorf("Detector must be idle after force close")
	}
}

func TestDetector_ForceCloseDiscardsUnconfirmedEpisode(t *testing.T) {
	detector := NewDetector("session1", 0.6, 0.5, 4)
	base := time.Now()

	// Только 2 сэмпла выше порога - эпизод не подтвержден
	detector.Update(stateAt(base, 0, 0.9))
	detector.Update(stateAt(base, 1, 0.9))

	if ep := detector.ForceClose(base.Add(2 * time.Second)); ep != nil {
		t.Errorf("Unconfirmed episode must be discarded, got %+v", ep)
	}
}
