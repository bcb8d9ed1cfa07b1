package emotion

import "sort"

// Emotion представляет распознаваемую эмоцию
type Emotion string

const (
	Neutral        Emotion = "neutral"
	Joy            Emotion = "joy"
	Sadness        Emotion = "sadness"
	Anger          Emotion = "anger"
	Fear           Emotion = "fear"
	Surprise       Emotion = "surprise"
	Disgust        Emotion = "disgust"
	Contempt       Emotion = "contempt"
	Dissociation   Emotion = "dissociation"
	Hypervigilance Emotion = "hypervigilance"
	Freeze         Emotion = "freeze"
)

// canonicalOrder — фиксированный порядок словаря эмоций. Используется для
// детерминированного разрешения ничьих: при равных скорах первичной становится
// эмоция, стоящая раньше в этом списке.
var canonicalOrder = []Emotion{
	Neutral,
	Joy,
	Sadness,
	Anger,
	Fear,
	Surprise,
	Disgust,
	Contempt,
	Dissociation,
	Hypervigilance,
	Freeze,
}

// VocabularySize возвращает размер словаря эмоций (V для индекса диапазона)
func VocabularySize() int {
	return len(canonicalOrder)
}

// Vocabulary возвращает копию канонического словаря
func Vocabulary() []Emotion {
	out := make([]Emotion, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// ScoredEmotion — пара (эмоция, скор) в выводе скорера
type ScoredEmotion struct {
	Emotion Emotion `json:"emotion"`
	Score   float64 `json:"score"`
}

// term — одно слагаемое декларативной таблицы: взвешенное среднее каналов.
// Несколько каналов в одном term усредняются (например, левый/правый глаз).
type term struct {
	channels []Channel
	weight   float64
}

// scoringTable — декларативная таблица скоринга: эмоция -> слагаемые.
// Веса каждой эмоции в сумме дают 1.0, поэтому скор лежит в [0,1].
// Neutral в таблице отсутствует: нейтральность определяется как отсутствие
// экспрессии и считается как 1 - max(остальные скоры).
var scoringTable = map[Emotion][]term{
	Joy: {
		{channels: []Channel{ChannelMouthSmileLeft, ChannelMouthSmileRight}, weight: 0.6},
		{channels: []Channel{ChannelCheekRaiseLeft, ChannelCheekRaiseRight}, weight: 0.3},
		{channels: []Channel{ChannelEyeSquintLeft, ChannelEyeSquintRight}, weight: 0.1},
	},
	Sadness: {
		{channels: []Channel{ChannelMouthFrownLeft, ChannelMouthFrownRight}, weight: 0.5},
		{channels: []Channel{ChannelBrowInnerUp}, weight: 0.35},
		{channels: []Channel{ChannelEyeSquintLeft, ChannelEyeSquintRight}, weight: 0.15},
	},
	Anger: {
		{channels: []Channel{ChannelBrowDownLeft, ChannelBrowDownRight}, weight: 0.45},
		{channels: []Channel{ChannelMouthPressLeft, ChannelMouthPressRight}, weight: 0.3},
		{channels: []Channel{ChannelJawClench}, weight: 0.25},
	},
	Fear: {
		{channels: []Channel{ChannelEyeWideLeft, ChannelEyeWideRight}, weight: 0.4},
		{channels: []Channel{ChannelBrowInnerUp}, weight: 0.2},
		{channels: []Channel{ChannelBrowOuterUpLeft, ChannelBrowOuterUpRight}, weight: 0.2},
		{channels: []Channel{ChannelMouthStretchLeft, ChannelMouthStretchRight}, weight: 0.2},
	},
	Surprise: {
		{channels: []Channel{ChannelEyeWideLeft, ChannelEyeWideRight}, weight: 0.4},
		{channels: []Channel{ChannelJawOpen}, weight: 0.35},
		{channels: []Channel{ChannelBrowOuterUpLeft, ChannelBrowOuterUpRight}, weight: 0.25},
	},
	Disgust: {
		{channels: []Channel{ChannelNoseSneerLeft, ChannelNoseSneerRight}, weight: 0.5},
		{channels: []Channel{ChannelMouthUpperUpLeft, ChannelMouthUpperUpRight}, weight: 0.3},
		{channels: []Channel{ChannelBrowDownLeft, ChannelBrowDownRight}, weight: 0.2},
	},
	Contempt: {
		// Односторонняя улыбка — характерный маркер презрения
		{channels: []Channel{ChannelMouthSmileLeft}, weight: 0.35},
		{channels: []Channel{ChannelMouthPressLeft, ChannelMouthPressRight}, weight: 0.35},
		{channels: []Channel{ChannelNoseSneerLeft, ChannelNoseSneerRight}, weight: 0.3},
	},
	Dissociation: {
		{channels: []Channel{ChannelGazeFixation}, weight: 0.45},
		{channels: []Channel{ChannelFaceStillness}, weight: 0.35},
		{channels: []Channel{ChannelBlinkSuppression}, weight: 0.2},
	},
	Hypervigilance: {
		{channels: []Channel{ChannelEyeWideLeft, ChannelEyeWideRight}, weight: 0.4},
		{channels: []Channel{ChannelGazeScanning}, weight: 0.4},
		{channels: []Channel{ChannelJawClench}, weight: 0.2},
	},
	Freeze: {
		{channels: []Channel{ChannelFaceStillness}, weight: 0.5},
		{channels: []Channel{ChannelJawClench}, weight: 0.25},
		{channels: []Channel{ChannelMouthPressLeft, ChannelMouthPressRight}, weight: 0.25},
	},
}

// Scorer вычисляет скоры эмоций по кадру сигналов. Не имеет состояния.
type Scorer struct{}

// NewScorer создает новый скорер
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score возвращает список (эмоция, скор), отсортированный по убыванию скора.
// Покрывает весь словарь эмоций. Вызывающий обязан не передавать сюда кадры
// без лица — для них короткое замыкание делает StateBuilder.
func (s *Scorer) Score(frame *SignalFrame) []ScoredEmotion {
	scored := make([]ScoredEmotion, 0, len(canonicalOrder))

	maxOther := 0.0
	for _, em := range canonicalOrder {
		if em == Neutral {
			continue
		}
		score := weightedScore(frame, scoringTable[em])
		if score > maxOther {
			maxOther = score
		}
		scored = append(scored, ScoredEmotion{Emotion: em, Score: score})
	}

	scored = append(scored, ScoredEmotion{Emotion: Neutral, Score: 1 - maxOther})

	// Восстанавливаем канонический порядок перед стабильной сортировкой,
	// чтобы ничьи разрешались детерминированно
	sort.SliceStable(scored, func(i, j int) bool {
		return canonicalIndex(scored[i].Emotion) < canonicalIndex(scored[j].Emotion)
	})
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	return scored
}

// weightedScore — единственная арифметика скоринга: взвешенное среднее
// значений каналов, отсутствующие каналы считаются нулем
func weightedScore(frame *SignalFrame, terms []term) float64 {
	total := 0.0
	for _, t := range terms {
		sum := 0.0
		for _, ch := range t.channels {
			sum += frame.Value(ch)
		}
		total += t.weight * (sum / float64(len(t.channels)))
	}
	if total > 1 {
		total = 1
	}
	return total
}

func canonicalIndex(em Emotion) int {
	for i, e := range canonicalOrder {
		if e == em {
			return i
		}
	}
	return len(canonicalOrder)
}
