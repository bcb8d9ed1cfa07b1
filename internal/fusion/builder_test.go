package fusion

import (
	"testing"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
)

func testBuilder() *Builder {
	return NewBuilder(
		config.Channels{HRV: true, Motion: true, Respiration: true},
		config.DefaultThresholds(),
	)
}

func facialState(ts time.Time, primary emotion.Emotion, intensity float64) emotion.EmotionalState {
	return emotion.EmotionalState{
		Timestamp:        ts,
		Primary:          primary,
		PrimaryIntensity: intensity,
		Confidence:       0.85,
		Quality:          emotion.QualityGood,
	}
}

func TestBuilder_FacialOnlyFallback(t *testing.T) {
	builder := testBuilder()

	st := builder.Build(facialState(time.Now(), emotion.Fear, 0.8), nil)

	if st.HasBiometrics {
		t.Errorf("Expected HasBiometrics=false without reading")
	}
	// Когерентность неизвестна без физиологии - середина шкалы
	if st.Coherence != 0.5 {
		t.Errorf("Expected coherence 0.5 without biometrics, got %f", st.Coherence)
	}
	if st.Masking {
		t.Errorf("Masking must not be flagged without biometrics")
	}
	// fear - полностью активирующая эмоция: arousal = 0.8 * 1.0
	if diff := st.Arousal - 0.8; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected facial arousal proxy 0.8, got %f", st.Arousal)
	}
}

func TestBuilder_NeverDropsSample(t *testing.T) {
	builder := testBuilder()

	// Даже кадр без лица и без физиологии должен дать состояние
	es := emotion.EmotionalState{
		Timestamp: time.Now(),
		Primary:   emotion.Neutral,
		Quality:   emotion.QualityNoFace,
	}
	st := builder.Build(es, nil)

	if st.DominantEmotion != emotion.Neutral {
		t.Errorf("Expected neutral dominant emotion, got %s", st.DominantEmotion)
	}
	if st.Masking {
		t.Errorf("Masking must not be flagged for no_face frame")
	}
}

func TestBuilder_MaskingDetection(t *testing.T) {
	builder := testBuilder()
	now := time.Now()

	// Спокойное лицо при максимальном движении: физиологическое возбуждение 1.0,
	// лицевой прокси около нуля - низкая когерентность, физиология выше лица
	reading := &BiometricReading{
		Timestamp: now,
		Motion:    Float64(2.0),
	}

	st := builder.Build(facialState(now, emotion.Neutral, 0.9), reading)

	if !st.HasBiometrics {
		t.Fatalf("Expected HasBiometrics=true")
	}
	if !st.Masking {
		t.Errorf("Expected masking flag: coherence=%f arousal=%f", st.Coherence, st.Arousal)
	}
}

func TestBuilder_MarkerDerivation(t *testing.T) {
	builder := testBuilder()
	base := time.Now()

	// Первое чтение устанавливает базу
	first := &BiometricReading{
		Timestamp:       base,
		HeartRate:       Float64(80),
		RespirationRate: Float64(14),
	}
	builder.Build(facialState(base, emotion.Neutral, 0.2), first)

	// Резкое падение пульса и дыхания + обездвиженность
	second := &BiometricReading{
		Timestamp:       base.Add(time.Second),
		HeartRate:       Float64(70),
		RespirationRate: Float64(10),
		Motion:          Float64(0.01),
	}
	st := builder.Build(facialState(base.Add(time.Second), emotion.Neutral, 0.2), second)

	types := make(map[MarkerType]bool)
	for _, m := range st.Markers {
		types[m.Type] = true
	}

	for _, expected := range []MarkerType{MarkerHeartRateDecrease, MarkerRespirationDecrease, MarkerMovementFreeze} {
		if !types[expected] {
			t.Errorf("Expected marker %s, got %v", expected, types)
		}
	}

	// Маркеры поднимают индекс диссоциации даже при нейтральном лице
	if st.DissociationIndex <= 0 {
		t.Errorf("Expected positive dissociation index with markers, got %f", st.DissociationIndex)
	}
}

func TestBuilder_DisabledChannelsGiveNoMarkers(t *testing.T) {
	builder := NewBuilder(
		config.Channels{HRV: true, Motion: false, Respiration: false},
		config.DefaultThresholds(),
	)
	base := time.Now()

	first := &BiometricReading{
		Timestamp:       base,
		HeartRate:       Float64(80),
		RespirationRate: Float64(14),
	}
	builder.Build(facialState(base, emotion.Neutral, 0.2), first)

	// То же падение дыхания и обездвиженность, что и выше, но каналы выключены
	second := &BiometricReading{
		Timestamp:       base.Add(time.Second),
		HeartRate:       Float64(80),
		RespirationRate: Float64(10),
		Motion:          Float64(0.01),
	}
	st := builder.Build(facialState(base.Add(time.Second), emotion.Neutral, 0.2), second)

	for _, m := range st.Markers {
		if m.Type == MarkerRespirationDecrease {
			t.Errorf("Respiration marker emitted with channel disabled")
		}
		if m.Type == MarkerMovementFreeze {
			t.Errorf("Movement freeze marker emitted with channel disabled")
		}
	}
}

func TestBuilder_DissociationIndexFromFace(t *testing.T) {
	builder := testBuilder()

	st := builder.Build(facialState(time.Now(), emotion.Dissociation, 0.8), nil)

	// Без маркеров: 0.5 * facial + 0.5 * 0 = 0.4
	if diff := st.DissociationIndex - 0.4; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected dissociation index 0.4, got %f", st.DissociationIndex)
	}
}

func TestBuilder_RegulationClassification(t *testing.T) {
	builder := testBuilder()
	base := time.Now()

	// Низкое возбуждение - regulated
	st := builder.Build(facialState(base, emotion.Sadness, 0.5), nil)
	if st.Regulation != Regulated {
		t.Errorf("Expected regulated at arousal %f, got %s", st.Arousal, st.Regulation)
	}

	// Высокое устойчивое возбуждение - dysregulated
	for i := 1; i <= 6; i++ {
		st = builder.Build(facialState(base.Add(time.Duration(i)*time.Second), emotion.Fear, 0.9), nil)
	}
	if st.Regulation != Dysregulated {
		t.Errorf("Expected dysregulated at sustained arousal %f, got %s", st.Arousal, st.Regulation)
	}
}
