package session

import (
	"context"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/dissociation"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// Repository определяет интерфейс долговременного хранилища сессий (PostgreSQL)
type Repository interface {
	// Управление сессиями
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSession(ctx context.Context, session *Session) error
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Финализированные метрики
	SaveMetrics(ctx context.Context, metrics *Metrics) error
	GetMetrics(ctx context.Context, sessionID string) (*Metrics, error)

	// Эпизоды диссоциации
	SaveEpisodes(ctx context.Context, episodes []dissociation.Episode) error
	GetEpisodes(ctx context.Context, sessionID string) ([]dissociation.Episode, error)

	// Сохранение полных данных сессии
	SaveSessionData(ctx context.Context, data *SessionData) error
}

// CacheStore определяет интерфейс горячего хранилища активных сессий (Redis)
type CacheStore interface {
	// Управление сессиями в кэше
	SetSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Метрики (перезаписываются целиком при каждом обновлении)
	SetMetrics(ctx context.Context, metrics *Metrics) error
	GetMetrics(ctx context.Context, sessionID string) (*Metrics, error)

	// Состояния (append-only, упорядочены по времени)
	AppendStates(ctx context.Context, sessionID string, states []fusion.IntegratedEmotionalState) error
	GetStates(ctx context.Context, sessionID string) ([]fusion.IntegratedEmotionalState, error)
	GetStatesCount(ctx context.Context, sessionID string) (int, error)

	// Эпизоды (append-only)
	AppendEpisodes(ctx context.Context, sessionID string, episodes []dissociation.Episode) error
	GetEpisodes(ctx context.Context, sessionID string) ([]dissociation.Episode, error)

	// Вмешательства (append-only)
	AppendInterventions(ctx context.Context, sessionID string, interventions []Intervention) error
	GetInterventions(ctx context.Context, sessionID string) ([]Intervention, error)

	// Получение всех данных сессии
	GetSessionData(ctx context.Context, sessionID string) (*SessionData, error)

	// Утилиты
	SessionExists(ctx context.Context, sessionID string) (bool, error)
	SetSessionTTL(ctx context.Context, sessionID string, ttl int) error
}
