package session

import (
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// Status представляет статус сессии
type Status string

const (
	StatusActive  Status = "ACTIVE"
	StatusStopped Status = "STOPPED"
	StatusSaved   Status = "SAVED"
)

// Phase — упорядоченная стадия терапевтической сессии
type Phase string

const (
	PhaseBaseline    Phase = "baseline"
	PhaseMirroring   Phase = "mirroring"
	PhaseTitration   Phase = "titration"
	PhaseIntegration Phase = "integration"
	PhaseClosing     Phase = "closing"
)

// phaseOrder — фиксированный порядок стадий для расчета общего прогресса
var phaseOrder = []Phase{PhaseBaseline, PhaseMirroring, PhaseTitration, PhaseIntegration, PhaseClosing}

// Ordinal возвращает номер фазы в протоколе (0-based), -1 для неизвестной
func (p Phase) Ordinal() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Valid проверяет фазу из внешнего запроса
func (p Phase) Valid() bool {
	return p.Ordinal() >= 0
}

// Session представляет метаданные терапевтической сессии
type Session struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Phase       Phase      `json:"phase"`
	Mode        string     `json:"mode,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	SavedAt     *time.Time `json:"saved_at,omitempty"`
	TotalStates int64      `json:"total_states"`
	Metadata    Metadata   `json:"metadata,omitempty"`
}

// Metadata содержит дополнительную информацию о сессии
type Metadata struct {
	PatientID   string                 `json:"patient_id,omitempty"`
	TherapistID string                 `json:"therapist_id,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
	CustomData  map[string]interface{} `json:"custom_data,omitempty"`
	CreatedFrom string                 `json:"created_from,omitempty"` // "web", "mobile", "watch"
}

// Intervention — терапевтическое вмешательство, доставленное во время сессии
type Intervention struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes,omitempty"`
}

// Metrics содержит агрегированные терапевтические метрики сессии.
// После финализации не мутируется; сериализуемое представление стабильно
// для персистенса и межустройственной синхронизации.
type Metrics struct {
	SessionID string `json:"session_id"`

	DurationSec       float64 `json:"duration_sec"`
	InterventionCount int64   `json:"intervention_count"`
	AvgCoherence      float64 `json:"avg_coherence"`
	MaskingCount      int64   `json:"masking_count"`

	ExpressedEmotions   []string `json:"expressed_emotions"`
	EmotionalRangeIndex float64  `json:"emotional_range_index"`

	DissociationEpisodeCount int64   `json:"dissociation_episode_count"`
	DissociationTimeSec      float64 `json:"dissociation_time_sec"`
	DissociationPct          float64 `json:"dissociation_pct"`

	PeakArousal           float64   `json:"peak_arousal"`
	PeakArousalAt         time.Time `json:"peak_arousal_at"`
	RegulationRecoverySec float64   `json:"regulation_recovery_sec"`
	RecoveryObserved      bool      `json:"recovery_observed"`

	PhaseProgress   float64 `json:"phase_progress"`
	OverallProgress float64 `json:"overall_progress"`

	StateCount int64     `json:"state_count"`
	Finalized  bool      `json:"finalized"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionData представляет все данные сессии для хранения
type SessionData struct {
	Session       *Session                          `json:"session"`
	Metrics       *Metrics                          `json:"metrics"`
	States        []fusion.IntegratedEmotionalState `json:"states"`
	Episodes      []dissociation.Episode            `json:"episodes"`
	Interventions []Intervention                    `json:"interventions"`
}

// CreateSessionRequest представляет запрос на создание сессии
type CreateSessionRequest struct {
	Phase       string                 `json:"phase,omitempty"`
	PatientID   string                 `json:"patient_id,omitempty"`
	TherapistID string                 `json:"therapist_id,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
	CustomData  map[string]interface{} `json:"custom_data,omitempty"`
	CreatedFrom string                 `json:"created_from,omitempty"`
}

// InterventionRequest представляет запрос на регистрацию вмешательства
type InterventionRequest struct {
	Type  string `json:"type"`
	Notes string `json:"notes,omitempty"`
}

// PhaseRequest представляет запрос на смену фазы сессии
type PhaseRequest struct {
	Phase string `json:"phase"`
}

// SaveSessionRequest представляет запрос на сохранение сессии
type SaveSessionRequest struct {
	Notes string `json:"notes,omitempty"`
}

// SessionResponse представляет ответ с информацией о сессии
type SessionResponse struct {
	Session *Session `json:"session"`
	Metrics *Metrics `json:"metrics,omitempty"`
}
