package pipeline

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// TestSink для тестирования - собирает все обновления состояния
type TestSink struct {
	mu      sync.Mutex
	updates []StateUpdate
}

func (ts *TestSink) Consume(ctx context.Context, u StateUpdate) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.updates = append(ts.updates, u)
	return nil
}

func (ts *TestSink) GetUpdates() []StateUpdate {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	result := make([]StateUpdate, len(ts.updates))
	copy(result, ts.updates)
	return result
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		FrameBufferSize: 64,
		SamplingTier:    config.TierMedium,
		Channels:        config.Channels{HRV: true, Motion: true, Respiration: true},
		Thresholds:      config.DefaultThresholds(),
	}
}

func goodFrame(base time.Time, offsetMS int64, channels map[emotion.Channel]float64) emotion.SignalFrame {
	return emotion.SignalFrame{
		Timestamp: base.Add(time.Duration(offsetMS) * time.Millisecond),
		Channels:  channels,
		Quality:   emotion.QualityGood,
	}
}

func TestProcessor_OrderedDelivery(t *testing.T) {
	sink := &TestSink{}
	processor := NewProcessor("session1", testPipelineConfig(), sink)

	base := time.Now()
	for i := 0; i < 10; i++ {
		frame := goodFrame(base, int64(i)*200, map[emotion.Channel]float64{
			emotion.ChannelMouthSmileLeft:  0.9,
			emotion.ChannelMouthSmileRight: 0.9,
			emotion.ChannelCheekRaiseLeft:  0.8,
			emotion.ChannelCheekRaiseRight: 0.8,
		})
		if err := processor.SubmitFrame(frame); err != nil {
			t.Fatalf("Failed to submit frame: %v", err)
		}
	}

	processor.Stop()

	updates := sink.GetUpdates()
	if len(updates) != 10 {
		t.Fatalf("Expected 10 updates, got %d", len(updates))
	}

	for i := 1; i < len(updates); i++ {
		if updates[i].Integrated.Timestamp.Before(updates[i-1].Integrated.Timestamp) {
			t.Errorf("Updates out of order at position %d", i)
		}
	}

	if updates[0].Emotional.Primary != emotion.Joy {
		t.Errorf("Expected joy primary emotion, got %s", updates[0].Emotional.Primary)
	}
}

func TestProcessor_OutOfOrderFrameDropped(t *testing.T) {
	sink := &TestSink{}
	processor := NewProcessor("session1", testPipelineConfig(), sink)

	base := time.Now()
	processor.SubmitFrame(goodFrame(base, 1000, nil))
	processor.SubmitFrame(goodFrame(base, 500, nil)) // старше предыдущего
	processor.SubmitFrame(goodFrame(base, 1500, nil))

	processor.Stop()

	updates := sink.GetUpdates()
	if len(updates) != 2 {
		t.Errorf("Expected 2 updates (out-of-order dropped), got %d", len(updates))
	}

	_, _, outOfOrder, published := processor.GetStats()
	if outOfOrder != 1 {
		t.Errorf("Expected 1 out-of-order frame, got %d", outOfOrder)
	}
	if published != 2 {
		t.Errorf("Expected 2 published updates, got %d", published)
	}
}

func TestProcessor_InvalidFramesDropped(t *testing.T) {
	sink := &TestSink{}
	processor := NewProcessor("session1", testPipelineConfig(), sink)

	base := time.Now()

	// Нулевое время
	processor.SubmitFrame(emotion.SignalFrame{Quality: emotion.QualityGood})
	// NaN в канале
	processor.SubmitFrame(goodFrame(base, 0, map[emotion.Channel]float64{
		emotion.ChannelJawOpen: math.NaN(),
	}))
	// Неизвестное качество трекинга
	processor.SubmitFrame(emotion.SignalFrame{
		Timestamp: base,
		Quality:   emotion.TrackingQuality("bogus"),
	})
	// Валидный кадр
	processor.SubmitFrame(goodFrame(base, 100, nil))

	processor.Stop()

	received, dropped, _, published := processor.GetStats()
	if received != 1 {
		t.Errorf("Expected 1 received frame, got %d", received)
	}
	if dropped != 3 {
		t.Errorf("Expected 3 dropped frames, got %d", dropped)
	}
	if published != 1 {
		t.Errorf("Expected 1 published update, got %d", published)
	}
}

func TestProcessor_BiometricsFusedIntoStates(t *testing.T) {
	sink := &TestSink{}
	processor := NewProcessor("session1", testPipelineConfig(), sink)

	base := time.Now()

	// Без биометрии
	processor.SubmitFrame(goodFrame(base, 0, nil))
	time.Sleep(50 * time.Millisecond)

	// Публикуем чтение - следующие кадры должны интегрироваться с ним
	processor.UpdateBiometrics(fusion.BiometricReading{
		Timestamp: base,
		HeartRate: fusion.Float64(72),
	})
	processor.SubmitFrame(goodFrame(base, 200, nil))

	processor.Stop()

	updates := sink.GetUpdates()
	if len(updates) != 2 {
		t.Fatalf("Expected 2 updates, got %d", len(updates))
	}

	if updates[0].Integrated.HasBiometrics {
		t.Errorf("First update must not have biometrics")
	}
	if !updates[1].Integrated.HasBiometrics {
		t.Errorf("Second update must have biometrics")
	}
	// Когерентность без физиологии - середина шкалы
	if updates[0].Integrated.Coherence != 0.5 {
		t.Errorf("Expected coherence 0.5 without biometrics, got %f", updates[0].Integrated.Coherence)
	}
}

func TestProcessor_NoFaceFrameStillPublished(t *testing.T) {
	sink := &TestSink{}
	processor := NewProcessor("session1", testPipelineConfig(), sink)

	base := time.Now()
	noFace := emotion.SignalFrame{
		Timestamp: base,
		Quality:   emotion.QualityNoFace,
	}
	processor.SubmitFrame(noFace)

	processor.Stop()

	updates := sink.GetUpdates()
	if len(updates) != 1 {
		t.Fatalf("Expected 1 update for no_face frame, got %d", len(updates))
	}
	if updates[0].Emotional.Primary != emotion.Neutral {
		t.Errorf("Expected neutral emotion for no_face frame, got %s", updates[0].Emotional.Primary)
	}
	if updates[0].Emotional.Confidence != 0 {
		t.Errorf("Expected zero confidence, got %f", updates[0].Emotional.Confidence)
	}
}
