package pipeline

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/logger"
)

// Default tuning values
const (
	DefaultMinInterval   = 100 * time.Millisecond
	DefaultMaxDetections = 20
	DefaultThreshold     = 0.4
	DefaultIoUThreshold  = 0.45
)

// Config configures a Pipeline
type Config struct {
	NumClasses    int
	NumCandidates int // 0 derives the candidate count from the tensor length
	Threshold     float64
	IoUThreshold  float64
	MaxDetections int
	MinInterval   time.Duration
	Labels        detection.Labels
	Clock         clock.Clock
	Recorder      Recorder
}

// Pipeline runs gated inference and publishes the latest detections
type Pipeline struct {
	cfg    Config
	clock  clock.Clock
	loader Loader
	ids    *detection.IDGenerator
	log    logger.Logger

	state atomic.Int32

	// runMu orders Stop and Start against frame admission and publishing.
	// stopEpoch is bumped by every Stop so a result admitted before a
	// Stop/Start pair is still discarded.
	runMu     sync.Mutex
	running   bool
	stopEpoch uint64

	// inferMu is held for reading while a frame is inferred and for writing while
	// the model is loaded or replaced.
	inferMu sync.RWMutex
	inferer Inferer
	loadErr error

	gateMu        sync.Mutex
	lastProcessed time.Time

	latest  atomic.Pointer[Batch]
	version atomic.Uint64

	subsMu  sync.RWMutex
	subs    map[uint64]chan *Batch
	nextSub uint64

	received, gated, notReady, failed, discarded, published atomic.Uint64
}

// New creates a pipeline in the Idle state. The pipeline is started; call Stop to
// pause frame processing.
func New(cfg Config, loader Loader) *Pipeline {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.MinInterval < 0 {
		cfg.MinInterval = 0
	}
	if cfg.Labels == nil {
		cfg.Labels = detection.COCOLabels()
	}
	if cfg.NumClasses <= 0 {
		cfg.NumClasses = len(cfg.Labels)
	}

	p := &Pipeline{
		cfg:    cfg,
		clock:  cfg.Clock,
		loader: loader,
		ids:    detection.NewIDGenerator(cfg.Clock),
		log:    GetLogger(),
		subs:   make(map[uint64]chan *Batch),
	}
	p.running = true
	p.setState(StateIdle)
	return p
}

// State returns the current lifecycle state
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.SetState(s.String())
	}
}

// LastError returns the model load error that put the pipeline into StateError
func (p *Pipeline) LastError() error {
	p.inferMu.RLock()
	defer p.inferMu.RUnlock()
	return p.loadErr
}

// Load initializes the model. It is valid only in the Idle state.
func (p *Pipeline) Load(ctx context.Context) error {
	p.inferMu.Lock()
	defer p.inferMu.Unlock()

	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateLoading)) {
		return errors.Newf("cannot load model in state %s", p.State()).
			Category(errors.CategoryState).
			Build()
	}
	return p.loadLocked(ctx)
}

// Reload replaces the model. It waits for an in-flight inference to finish, closes
// the current model and loads a new one. Reload is the only way out of StateError.
func (p *Pipeline) Reload(ctx context.Context) error {
	p.inferMu.Lock()
	defer p.inferMu.Unlock()

	if p.State() == StateLoading {
		return errors.Newf("model is already loading").
			Category(errors.CategoryState).
			Build()
	}
	p.setState(StateLoading)
	p.closeInfererLocked()
	p.gateMu.Lock()
	p.lastProcessed = time.Time{}
	p.gateMu.Unlock()

	return p.loadLocked(ctx)
}

func (p *Pipeline) loadLocked(ctx context.Context) error {
	p.setState(StateLoading)
	start := p.clock.Now()

	inferer, err := p.loader(ctx)
	if err == nil && inferer == nil {
		err = errors.NewStd("model loader returned no inferer")
	}
	if err != nil {
		p.loadErr = errors.New(err).
			Category(errors.CategoryModelLoad).
			Timing("model-load", p.clock.Since(start)).
			Build()
		p.setState(StateError)
		p.log.Error("model load failed", logger.Error(err))
		return p.loadErr
	}

	p.inferer = inferer
	p.loadErr = nil
	p.setState(StateReady)
	p.log.Info("model ready", logger.Duration("load_time", p.clock.Since(start)))
	return nil
}

func (p *Pipeline) closeInfererLocked() {
	if c, ok := p.inferer.(io.Closer); ok {
		if err := c.Close(); err != nil {
			p.log.Warn("failed to close model", logger.Error(err))
		}
	}
	p.inferer = nil
}

// Start resumes frame processing after Stop
func (p *Pipeline) Start() {
	p.runMu.Lock()
	started := !p.running
	p.running = true
	p.runMu.Unlock()

	if started {
		p.log.Info("pipeline started")
	}
}

// Stop stops scheduling inference. When Stop returns no new inference starts;
// a result still in flight is discarded instead of published.
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	stopped := p.running
	p.running = false
	p.stopEpoch++
	p.runMu.Unlock()

	if stopped {
		p.log.Info("pipeline stopped")
	}
}

// Running reports whether the pipeline accepts frames
func (p *Pipeline) Running() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.running
}

// admit reports whether inference may start now, and the epoch it starts in
func (p *Pipeline) admit() (uint64, bool) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.stopEpoch, p.running
}

// Latest returns the most recently published batch, or nil
func (p *Pipeline) Latest() *Batch {
	return p.latest.Load()
}

// Stats returns a snapshot of the frame counters
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Gated:     p.gated.Load(),
		NotReady:  p.notReady.Load(),
		Failed:    p.failed.Load(),
		Discarded: p.discarded.Load(),
		Published: p.published.Load(),
	}
}

// ProcessFrame runs one frame through the pipeline if it is eligible.
// It never blocks on a reload in progress; such frames are reported as not ready.
func (p *Pipeline) ProcessFrame(ctx context.Context, frame Frame) Outcome {
	p.received.Add(1)
	outcome := p.processFrame(ctx, frame)
	p.count(outcome)
	return outcome
}

func (p *Pipeline) processFrame(ctx context.Context, frame Frame) Outcome {
	if !p.Running() {
		return OutcomeInactive
	}
	if p.State() != StateReady {
		return OutcomeNotReady
	}
	if !p.inferMu.TryRLock() {
		return OutcomeNotReady
	}
	defer p.inferMu.RUnlock()

	p.gateMu.Lock()
	now := p.clock.Now()
	if !p.lastProcessed.IsZero() && now.Sub(p.lastProcessed) < p.cfg.MinInterval {
		p.gateMu.Unlock()
		return OutcomeGated
	}
	if !p.state.CompareAndSwap(int32(StateReady), int32(StateProcessing)) {
		p.gateMu.Unlock()
		return OutcomeNotReady
	}
	p.lastProcessed = now
	p.gateMu.Unlock()

	if p.cfg.Recorder != nil {
		p.cfg.Recorder.SetState(StateProcessing.String())
	}
	defer func() {
		if p.state.CompareAndSwap(int32(StateProcessing), int32(StateReady)) && p.cfg.Recorder != nil {
			p.cfg.Recorder.SetState(StateReady.String())
		}
	}()

	start := p.clock.Now()
	// last check before inference; nothing between it and Infer calls out
	epoch, ok := p.admit()
	if !ok {
		return OutcomeInactive
	}
	tensor, err := p.inferer.Infer(ctx, frame)
	elapsed := p.clock.Since(start)
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.RecordInference(elapsed, err)
	}
	if err != nil {
		p.log.Warn("inference failed",
			logger.Uint64("frame", frame.Seq),
			logger.Error(err))
		return OutcomeFailed
	}

	detections := p.detect(tensor)

	if !p.publishIfCurrent(epoch, &Batch{
		Frame:      frame,
		Detections: detections,
		CreatedAt:  p.clock.Now(),
		Inference:  elapsed,
	}) {
		return OutcomeDiscarded
	}
	return OutcomePublished
}

// publishIfCurrent publishes b unless the pipeline was stopped since epoch.
// Holding runMu makes a Stop either precede the check or follow the store.
func (p *Pipeline) publishIfCurrent(epoch uint64, b *Batch) bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running || p.stopEpoch != epoch {
		return false
	}
	b.Version = p.version.Add(1)
	p.publish(b)
	return true
}

// detect decodes, suppresses, caps and labels a raw tensor
func (p *Pipeline) detect(tensor []float32) []detection.Detection {
	var candidates []detection.Candidate
	if p.cfg.NumCandidates > 0 {
		candidates = detection.DecodeStrict(tensor, p.cfg.NumClasses, p.cfg.NumCandidates, p.cfg.Threshold)
	} else {
		candidates = detection.Decode(tensor, p.cfg.NumClasses, p.cfg.Threshold)
	}
	candidates = detection.Suppress(candidates, p.cfg.IoUThreshold)
	candidates = detection.Cap(candidates, p.cfg.MaxDetections)
	return detection.ToDetections(candidates, p.cfg.Labels, p.ids)
}

func (p *Pipeline) publish(b *Batch) {
	p.latest.Store(b)
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.RecordBatch(len(b.Detections))
	}

	p.subsMu.RLock()
	defer p.subsMu.RUnlock()
	for _, ch := range p.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

func (p *Pipeline) count(o Outcome) {
	switch o {
	case OutcomeGated:
		p.gated.Add(1)
	case OutcomeNotReady:
		p.notReady.Add(1)
	case OutcomeFailed:
		p.failed.Add(1)
	case OutcomeDiscarded:
		p.discarded.Add(1)
	case OutcomePublished:
		p.published.Add(1)
	case OutcomeInactive:
	}
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.RecordFrame(o.String())
	}
}

// Subscribe returns a channel receiving every published batch. Sends never block:
// a subscriber that falls behind misses batches. The returned function unsubscribes
// and closes the channel.
func (p *Pipeline) Subscribe(buffer int) (<-chan *Batch, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan *Batch, buffer)

	p.subsMu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.subsMu.Lock()
			defer p.subsMu.Unlock()
			if c, ok := p.subs[id]; ok {
				delete(p.subs, id)
				close(c)
			}
		})
	}
}

// Run feeds frames from the channel into ProcessFrame until the channel closes or
// ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context, frames <-chan Frame) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			p.ProcessFrame(ctx, frame)
		}
	}
}

// Close stops the pipeline, closes every subscription and releases the model
func (p *Pipeline) Close() error {
	p.Stop()

	p.subsMu.Lock()
	for id, ch := range p.subs {
		delete(p.subs, id)
		close(ch)
	}
	p.subsMu.Unlock()

	p.inferMu.Lock()
	defer p.inferMu.Unlock()
	p.closeInfererLocked()
	p.setState(StateIdle)
	return nil
}
