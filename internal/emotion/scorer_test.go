package emotion

import (
	"testing"
	"time"
)

func makeFrame(ts time.Time, channels map[Channel]float64) SignalFrame {
	return SignalFrame{
		Timestamp: ts,
		Channels:  channels,
		Quality:   QualityGood,
	}
}

func TestScorer_NeutralWhenNoExpression(t *testing.T) {
	scorer := NewScorer()

	// Все каналы на нуле - neutral должен быть 1.0
	frame := makeFrame(time.Now(), map[Channel]float64{})
	scored := scorer.Score(&frame)

	if len(scored) != VocabularySize() {
		t.Fatalf("Expected %d scored emotions, got %d", VocabularySize(), len(scored))
	}

	if scored[0].Emotion != Neutral {
		t.Errorf("Expected neutral as primary, got %s", scored[0].Emotion)
	}
	if scored[0].Score != 1.0 {
		t.Errorf("Expected neutral score 1.0, got %f", scored[0].Score)
	}
}

func TestScorer_JoyDominates(t *testing.T) {
	scorer := NewScorer()

	// Сильная симметричная улыбка с поднятыми щеками
	frame := makeFrame(time.Now(), map[Channel]float64{
		ChannelMouthSmileLeft:  0.9,
		ChannelMouthSmileRight: 0.9,
		ChannelCheekRaiseLeft:  0.8,
		ChannelCheekRaiseRight: 0.8,
	})
	scored := scorer.Score(&frame)

	if scored[0].Emotion != Joy {
		t.Errorf("Expected joy as primary, got %s", scored[0].Emotion)
	}

	// joy = 0.6*0.9 + 0.3*0.8 + 0.1*0 = 0.78
	expected := 0.78
	if diff := scored[0].Score - expected; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected joy score %f, got %f", expected, scored[0].Score)
	}

	// neutral = 1 - 0.78 = 0.22
	for _, se := range scored {
		if se.Emotion == Neutral {
			if diff := se.Score - 0.22; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected neutral score 0.22, got %f", se.Score)
			}
		}
	}
}

func TestScorer_CoversFullVocabulary(t *testing.T) {
	scorer := NewScorer()

	frame := makeFrame(time.Now(), map[Channel]float64{ChannelJawOpen: 0.5})
	scored := scorer.Score(&frame)

	seen := make(map[Emotion]bool)
	for _, se := range scored {
		seen[se.Emotion] = true
	}
	for _, em := range Vocabulary() {
		if !seen[em] {
			t.Errorf("Emotion %s missing from scorer output", em)
		}
	}
}

func TestScorer_DeterministicTieBreak(t *testing.T) {
	scorer := NewScorer()

	// face_stillness активирует dissociation (0.35) и freeze (0.5) по-разному,
	// а jaw_clench - anger, hypervigilance и freeze. Подбираем кадр, где
	// важен детерминизм при равных скорах: пустые каналы дают нулевые скоры
	// у всех не-нейтральных эмоций.
	frame := makeFrame(time.Now(), map[Channel]float64{})

	first := scorer.Score(&frame)
	for i := 0; i < 10; i++ {
		again := scorer.Score(&frame)
		for j := range first {
			if first[j].Emotion != again[j].Emotion {
				t.Fatalf("Non-deterministic order at position %d: %s vs %s",
					j, first[j].Emotion, again[j].Emotion)
			}
		}
	}

	// При нулевых скорах порядок после neutral должен быть каноническим
	vocab := Vocabulary()
	for j := 1; j < len(first); j++ {
		if first[j].Emotion != vocab[j] {
			t.Errorf("Expected canonical order at position %d: want %s, got %s",
				j, vocab[j], first[j].Emotion)
		}
	}
}

func TestScorer_ContemptAsymmetry(t *testing.T) {
	scorer := NewScorer()

	// Односторонняя улыбка с поджатыми губами - презрение должно опережать радость
	frame := makeFrame(time.Now(), map[Channel]float64{
		ChannelMouthSmileLeft:  0.8,
		ChannelMouthPressLeft:  0.7,
		ChannelMouthPressRight: 0.7,
	})
	scored := scorer.Score(&frame)

	var contempt, joy float64
	for _, se := range scored {
		switch se.Emotion {
		case Contempt:
			contempt = se.Score
		case Joy:
			joy = se.Score
		}
	}

	if contempt <= joy {
		t.Errorf("Expected contempt (%f) to dominate joy (%f) for unilateral smile", contempt, joy)
	}
}
