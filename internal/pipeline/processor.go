package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/config"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/emotion"
	"github.com/kotyk141191/BioMirror-Therapy-sub001/internal/fusion"
)

// StateUpdate — результат обработки одного кадра: лицевое состояние плюс
// интегрированное. Оба публикуются наблюдателям.
type StateUpdate struct {
	SessionID  string
	Emotional  emotion.EmotionalState
	Integrated fusion.IntegratedEmotionalState
}

// Sink — потребитель упорядоченных обновлений состояния
type Sink interface {
	Consume(ctx context.Context, u StateUpdate) error
}

// LogSink — отладочный sink, пишущий обновления в лог
type LogSink struct{}

func (ls *LogSink) Consume(ctx context.Context, u StateUpdate) error {
	log.Printf("[PIPELINE] session=%s emotion=%s intensity=%.2f arousal=%.2f coherence=%.2f dissociation=%.2f",
		u.SessionID,
		u.Integrated.DominantEmotion,
		u.Integrated.Intensity,
		u.Integrated.Arousal,
		u.Integrated.Coherence,
		u.Integrated.DissociationIndex)
	return nil
}

// Processor обрабатывает кадры одной сессии вне потока продюсера: скоринг,
// детекция микровыражений и кросс-модальная интеграция выполняются единственным
// воркером, который публикует состояния в sink в неубывающем порядке времени.
// Кадры, пришедшие старше последнего обработанного, отбрасываются до sink'а —
// метрики ниже по потоку рассчитывают на монотонное время.
type Processor struct {
	sessionID string
	cfg       *config.Config

	builder *emotion.StateBuilder
	fuser   *fusion.Builder
	sink    Sink

	frameChan chan emotion.SignalFrame
	stopChan  chan struct{}
	doneChan  chan struct{}
	stopOnce  sync.Once

	// Последнее биометрическое чтение: продюсеры лица и физиологии идут с
	// произвольным рассогласованием, при обработке кадра берется самое свежее
	biomu  sync.RWMutex
	latest *fusion.BiometricReading

	stats struct {
		mu         sync.RWMutex
		received   int64
		dropped    int64
		outOfOrder int64
		published  int64
	}
}

// NewProcessor создает процессор для сессии и запускает воркер
func NewProcessor(sessionID string, cfg *config.Config, sink Sink) *Processor {
	scorer := emotion.NewScorer()
	micro := emotion.NewMicroDetector(
		cfg.Thresholds.MicroBufferSize,
		cfg.Thresholds.MicroMinFrames,
		cfg.Thresholds.MicroDelta,
		cfg.Thresholds.MicroFloor,
	)

	p := &Processor{
		sessionID: sessionID,
		cfg:       cfg,
		builder:   emotion.NewStateBuilder(scorer, micro, cfg.Thresholds.SecondaryFloor),
		fuser:     fusion.NewBuilder(cfg.Channels, cfg.Thresholds),
		sink:      sink,
		frameChan: make(chan emotion.SignalFrame, cfg.FrameBufferSize),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}

	go p.worker()

	return p
}

// SubmitFrame передает кадр в обработку, не блокируя продюсера захвата.
// При переполненном буфере кадр отбрасывается с предупреждением.
func (p *Processor) SubmitFrame(frame emotion.SignalFrame) error {
	if err := validateFrame(&frame); err != nil {
		p.incrementDropped()
		log.Printf("[WARN] Invalid frame dropped: session=%s: %v", p.sessionID, err)
		return nil
	}

	select {
	case p.frameChan <- frame:
		p.incrementReceived()
	default:
		p.incrementDropped()
		log.Printf("[WARN] Frame buffer full, frame dropped: session=%s", p.sessionID)
	}
	return nil
}

// UpdateBiometrics публикует свежее биометрическое чтение. Чтения приходят
// со своей каденцией (1-10 Гц) независимо от кадров лица.
func (p *Processor) UpdateBiometrics(reading fusion.BiometricReading) {
	p.biomu.Lock()
	p.latest = &reading
	p.biomu.Unlock()
}

// Stop останавливает воркер, дообработав накопленные кадры, и логирует статистику
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.stopChan)
	})
	<-p.doneChan
	p.logStats()
}

// GetStats возвращает счетчики обработки
func (p *Processor) GetStats() (received, dropped, outOfOrder, published int64) {
	p.stats.mu.RLock()
	defer p.stats.mu.RUnlock()
	return p.stats.received, p.stats.dropped, p.stats.outOfOrder, p.stats.published
}

func (p *Processor) worker() {
	defer close(p.doneChan)

	var lastTs time.Time

	process := func(frame emotion.SignalFrame) {
		if p.cfg.DropTooOldMS > 0 && time.Since(frame.Timestamp) > time.Duration(p.cfg.DropTooOldMS)*time.Millisecond {
			p.incrementDropped()
			log.Printf("[WARN] Stale frame dropped: session=%s ts=%s", p.sessionID, frame.Timestamp.Format(time.RFC3339Nano))
			return
		}
		if !lastTs.IsZero() && frame.Timestamp.Before(lastTs) {
			p.incrementOutOfOrder()
			log.Printf("[WARN] Out of order frame dropped: session=%s ts=%s last=%s",
				p.sessionID, frame.Timestamp.Format(time.RFC3339Nano), lastTs.Format(time.RFC3339Nano))
			return
		}
		lastTs = frame.Timestamp

		es := p.builder.Build(frame)

		p.biomu.RLock()
		reading := p.latest
		p.biomu.RUnlock()

		integrated := p.fuser.Build(es, reading)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.sink.Consume(ctx, StateUpdate{
			SessionID:  p.sessionID,
			Emotional:  es,
			Integrated: integrated,
		})
		cancel()

		if err != nil {
			log.Printf("[ERROR] Failed to consume state update: session=%s: %v", p.sessionID, err)
			return
		}
		p.incrementPublished()
	}

	for {
		select {
		case frame := <-p.frameChan:
			process(frame)

		case <-p.stopChan:
			// Дообрабатываем то, что уже в буфере
			for {
				select {
				case frame := <-p.frameChan:
					process(frame)
				default:
					return
				}
			}
		}
	}
}

// validateFrame отбраковывает кадры, которые испортили бы поток: нулевое
// время, NaN/Inf в каналах, неизвестное качество трекинга
func validateFrame(frame *emotion.SignalFrame) error {
	if frame.Timestamp.IsZero() {
		return fmt.Errorf("zero timestamp")
	}
	if !frame.Quality.Valid() {
		return fmt.Errorf("invalid tracking quality: %q", frame.Quality)
	}
	for ch, v := range frame.Channels {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid value for channel %s: %f", ch, v)
		}
	}
	return nil
}

func (p *Processor) incrementReceived() {
	p.stats.mu.Lock()
	p.stats.received++
	p.stats.mu.Unlock()
}

func (p *Processor) incrementDropped() {
	p.stats.mu.Lock()
	p.stats.dropped++
	p.stats.mu.Unlock()
}

func (p *Processor) incrementOutOfOrder() {
	p.stats.mu.Lock()
	p.stats.outOfOrder++
	p.stats.mu.Unlock()
}

func (p *Processor) incrementPublished() {
	p.stats.mu.Lock()
	p.stats.published++
	p.stats.mu.Unlock()
}

func (p *Processor) logStats() {
	p.stats.mu.RLock()
	defer p.stats.mu.RUnlock()

	log.Printf("[STATS] session=%s received=%d dropped=%d out_of_order=%d published=%d",
		p.sessionID,
		p.stats.received,
		p.stats.dropped,
		p.stats.outOfOrder,
		p.stats.published)
}
