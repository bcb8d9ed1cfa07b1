package session

import (
	"testing"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
)

func testConfig() *config.Config {
	return &config.Config{
		SamplingTier:     config.TierMedium,
		PhaseDurationSec: 300,
		Thresholds:       config.DefaultThresholds(),
	}
}

func TestTherapeuticSession_OutOfOrderStateRejected(t *testing.T) {
	base := time.Now()
	ts := NewTherapeuticSession("session1", PhaseBaseline, base, testConfig())

	if err := ts.AddState(integratedState(base.Add(2*time.Second), emotion.Joy, 0.5, 0.3, 0.8, 0.1)); err != nil {
		t.Fatalf("Failed to add state: %v", err)
	}

	// Состояние с более ранним временем - нарушение упорядоченной доставки
	err := ts.AddState(integratedState(base.Add(time.Second), emotion.Joy, 0.5, 0.3, 0.8, 0.1))
	if err == nil {
		t.Errorf("Expected error for out-of-order state")
	}

	// Равное время допустимо
	if err := ts.AddState(integratedState(base.Add(2*time.Second), emotion.Joy, 0.5, 0.3, 0.8, 0.1)); err != nil {
		t.Errorf("Equal timestamp must be accepted: %v", err)
	}
}

func TestTherapeuticSession_EndTwiceFails(t *testing.T) {
	base := time.Now()
	ts := NewTherapeuticSession("session1", PhaseBaseline, base, testConfig())

	ts.AddState(integratedState(base, emotion.Joy, 0.5, 0.3, 0.8, 0.1))

	if _, err := ts.End(base.Add(time.Minute)); err != nil {
		t.Fatalf("First end failed: %v", err)
	}
	if _, err := ts.End(base.Add(time.Minute)); err == nil {
		t.Errorf("Expected error on second end")
	}

	// После завершения состояния не принимаются
	if err := ts.AddState(integratedState(base.Add(2*time.Minute), emotion.Joy, 0.5, 0.3, 0.8, 0.1)); err == nil {
		t.Errorf("Expected error adding state to ended session")
	}
}

func TestTherapeuticSession_SnapshotMidSession(t *testing.T) {
	base := time.Now()
	ts := NewTherapeuticSession("session1", PhaseBaseline, base, testConfig())

	ts.AddState(integratedState(base, emotion.Joy, 0.7, 0.3, 0.8, 0.1))
	ts.AddState(integratedState(base.Add(time.Second), emotion.Sadness, 0.6, 0.3, 0.8, 0.1))

	m := ts.MetricsSnapshot(base.Add(2 * time.Second))
	if m.Finalized {
		t.Errorf("Mid-session snapshot must not be finalized")
	}
	if m.StateCount != 2 {
		t.Errorf("Expected 2 states, got %d", m.StateCount)
	}

	// Снапшот не мешает продолжению сессии
	if err := ts.AddState(integratedState(base.Add(2*time.Second), emotion.Joy, 0.5, 0.3, 0.8, 0.1)); err != nil {
		t.Errorf("Session must keep accepting states after snapshot: %v", err)
	}
}

func TestTherapeuticSession_PhaseProgression(t *testing.T) {
	base := time.Now()
	ts := NewTherapeuticSession("session1", PhaseBaseline, base, testConfig())

	if err := ts.SetPhase(PhaseMirroring, base.Add(time.Minute)); err != nil {
		t.Fatalf("Failed to move to mirroring: %v", err)
	}
	if ts.Phase() != PhaseMirroring {
		t.Errorf("Expected phase mirroring, got %s", ts.Phase())
	}

	// Назад по протоколу двигаться нельзя
	if err := ts.SetPhase(PhaseBaseline, base.Add(2*time.Minute)); err == nil {
		t.Errorf("Expected error moving phase backwards")
	}

	if err := ts.SetPhase(Phase("warmup"), base.Add(2*time.Minute)); err == nil {
		t.Errorf("Expected error for unknown phase")
	}

	// Прогресс: завершена 1 фаза из 5, вторая на половине (150/300 сек)
	m := ts.MetricsSnapshot(base.Add(time.Minute + 150*time.Second))
	if m.PhaseProgress != 0.5 {
		t.Errorf("Expected phase progress 0.5, got %f", m.PhaseProgress)
	}
	expectedOverall := (1.0 + 0.5) / 5.0
	if m.OverallProgress != expectedOverall {
		t.Errorf("Expected overall progress %f, got %f", expectedOverall, m.OverallProgress)
	}
}

func TestTherapeuticSession_LogsAreCopied(t *testing.T) {
	base := time.Now()
	ts := NewTherapeuticSession("session1", PhaseBaseline, base, testConfig())

	ts.AddState(integratedState(base, emotion.Joy, 0.7, 0.3, 0.8, 0.1))
	ts.AddEpisode(&dissociation.Episode{ID: "ep1", SessionID: "session1", StartTime: base})
	ts.RecordIntervention(Intervention{ID: "iv1", SessionID: "session1", Type: "breathing", Timestamp: base})

	states := ts.States()
	if len(states) != 1 {
		t.Fatalf("Expected 1 state, got %d", len(states))
	}

	// Мутация копии не должна трогать журнал сессии
	states[0].Intensity = 99
	if ts.States()[0].Intensity == 99 {
		t.Errorf("States() must return a copy")
	}

	if len(ts.Episodes()) != 1 {
		t.Errorf("Expected 1 episode, got %d", len(ts.Episodes()))
	}
	if len(ts.Interventions()) != 1 {
		t.Errorf("Expected 1 intervention, got %d", len(ts.Interventions()))
	}
}
