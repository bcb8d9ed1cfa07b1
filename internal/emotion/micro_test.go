package emotion

import (
	"testing"
	"time"
)

func frameAt(base time.Time, offsetMS int64, channels map[Channel]float64) SignalFrame {
	return SignalFrame{
		Timestamp: base.Add(time.Duration(offsetMS) * time.Millisecond),
		Channels:  channels,
		Quality:   QualityGood,
	}
}

func TestMicroDetector_NoEmissionUntilBufferFilled(t *testing.T) {
	detector := NewMicroDetector(10, 4, 0.3, 0.4)
	base := time.Now()

	// Первые кадры с резкими скачками не должны давать срабатываний:
	// буфер еще не наполнен
	for i := 0; i < 4; i++ {
		value := 0.0
		if i == 1 {
			value = 0.9
		}
		micros := detector.Observe(frameAt(base, int64(i)*100, map[Channel]float64{
			ChannelMouthSmileLeft: value,
		}))
		if micros != nil {
			t.Errorf("Expected no micro-expressions while buffer has %d frames, got %d",
				detector.BufferLen(), len(micros))
		}
	}

	// Пятый кадр: буфер уже держит больше minFrames, всплеск должен сработать
	micros := detector.Observe(frameAt(base, 400, map[Channel]float64{
		ChannelMouthSmileLeft: 0.9,
	}))
	if len(micros) != 1 {
		t.Fatalf("Expected 1 micro-expression after buffer warm-up, got %d", len(micros))
	}
	if micros[0].Emotion != Joy {
		t.Errorf("Expected joy micro-expression, got %s", micros[0].Emotion)
	}
}

func TestMicroDetector_ExactThresholdDoesNotFire(t *testing.T) {
	detector := NewMicroDetector(10, 4, 0.3, 0.4)
	base := time.Now()

	// Наполняем буфер стабильными кадрами
	for i := 0; i < 5; i++ {
		detector.Observe(frameAt(base, int64(i)*100, map[Channel]float64{
			ChannelEyeWideLeft: 0.1,
		}))
	}

	// Прирост ровно 0.3 (0.1 -> 0.4): оба условия строгие, срабатывания нет
	micros := detector.Observe(frameAt(base, 500, map[Channel]float64{
		ChannelEyeWideLeft: 0.4,
	}))
	if len(micros) != 0 {
		t.Errorf("Expected no micro-expression at exact thresholds, got %d", len(micros))
	}

	// Чуть выше порога по обоим условиям - ровно одно срабатывание
	micros = detector.Observe(frameAt(base, 600, map[Channel]float64{
		ChannelEyeWideLeft: 0.75,
	}))
	if len(micros) != 1 {
		t.Fatalf("Expected exactly 1 micro-expression above thresholds, got %d", len(micros))
	}
	if micros[0].Emotion != Fear {
		t.Errorf("Expected fear micro-expression, got %s", micros[0].Emotion)
	}
	if micros[0].Intensity != 0.75 {
		t.Errorf("Expected intensity 0.75, got %f", micros[0].Intensity)
	}
}

func TestMicroDetector_DurationClamped(t *testing.T) {
	detector := NewMicroDetector(10, 4, 0.3, 0.4)
	base := time.Now()

	// Кадры с интервалом 1 секунда: оценка 2x межкадрового интервала
	// должна быть ограничена 200 мс
	for i := 0; i < 5; i++ {
		detector.Observe(frameAt(base, int64(i)*1000, map[Channel]float64{
			ChannelJawOpen: 0.0,
		}))
	}

	micros := detector.Observe(frameAt(base, 5000, map[Channel]float64{
		ChannelJawOpen: 0.9,
	}))
	if len(micros) != 1 {
		t.Fatalf("Expected 1 micro-expression, got %d", len(micros))
	}
	if micros[0].DurationSec != 0.2 {
		t.Errorf("Expected duration clamped to 0.2s, got %f", micros[0].DurationSec)
	}
}

func TestMicroDetector_NoFaceSuppressesDetection(t *testing.T) {
	detector := NewMicroDetector(10, 4, 0.3, 0.4)
	base := time.Now()

	for i := 0; i < 5; i++ {
		detector.Observe(frameAt(base, int64(i)*100, map[Channel]float64{
			ChannelMouthSmileRight: 0.0,
		}))
	}

	// Кадр без лица не должен давать срабатываний, даже со значениями каналов
	noFace := frameAt(base, 500, map[Channel]float64{ChannelMouthSmileRight: 0.9})
	noFace.Quality = QualityNoFace
	if micros := detector.Observe(noFace); micros != nil {
		t.Errorf("Expected no micro-expressions for no_face frame, got %d", len(micros))
	}
}

func TestMicroDetector_RingBufferEviction(t *testing.T) {
	detector := NewMicroDetector(10, 4, 0.3, 0.4)
	base := time.Now()

	for i := 0; i < 25; i++ {
		detector.Observe(frameAt(base, int64(i)*100, map[Channel]float64{}))
	}

	if detector.BufferLen() != 10 {
		t.Errorf("Expected buffer capped at 10 frames, got %d", detector.BufferLen())
	}

	detector.Reset()
	if detector.BufferLen() != 0 {
		t.Errorf("Expected empty buffer after reset, got %d", detector.BufferLen())
	}
}
