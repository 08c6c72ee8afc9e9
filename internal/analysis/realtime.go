package analysis

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tphakala/spotit-go/internal/api"
	"github.com/tphakala/spotit-go/internal/buildinfo"
	"github.com/tphakala/spotit-go/internal/classifier"
	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/datastore"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/enrichment"
	"github.com/tphakala/spotit-go/internal/framesource"
	"github.com/tphakala/spotit-go/internal/httpclient"
	"github.com/tphakala/spotit-go/internal/inference"
	"github.com/tphakala/spotit-go/internal/logger"
	"github.com/tphakala/spotit-go/internal/mqtt"
	"github.com/tphakala/spotit-go/internal/network"
	"github.com/tphakala/spotit-go/internal/observability"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

const (
	batchBuffer     = 16
	mqttConnectWait = 30 * time.Second
	requeueLimit    = 10000
)

// Service is the realtime detection service
type Service struct {
	settings *conf.Settings
	log      logger.Logger

	Metrics  *observability.Metrics
	Pipeline *pipeline.Pipeline
	Store    datastore.Interface
	Monitor  *network.Monitor
	Queue    *enrichment.Queue
	Capturer *Capturer
	Results  *Results

	source     *framesource.Directory
	prober     *network.Prober
	httpClient *httpclient.Client
	mqttClient mqtt.Client
	apiServer  *api.Server
	endpoint   *observability.Endpoint

	build      *buildinfo.Context
	loader     pipeline.Loader
	classifier classifier.Classifier
	cleanup    []func()
}

// Option customizes a Service
type Option func(*Service)

// WithBuildInfo sets the version reported in logs and the HTTP User-Agent
func WithBuildInfo(info *buildinfo.Context) Option { return func(s *Service) { s.build = info } }

// WithLoader replaces the TFLite model loader
func WithLoader(l pipeline.Loader) Option { return func(s *Service) { s.loader = l } }

// WithClassifier replaces the configured remote classifier
func WithClassifier(c classifier.Classifier) Option { return func(s *Service) { s.classifier = c } }

// WithMQTTClient replaces the paho client
func WithMQTTClient(c mqtt.Client) Option { return func(s *Service) { s.mqttClient = c } }

// NewService builds every component enabled in settings. The model is loaded by Run.
func NewService(settings *conf.Settings, opts ...Option) (*Service, error) {
	s := &Service{settings: settings, log: GetLogger()}
	for _, opt := range opts {
		opt(s)
	}

	ok := false
	defer func() {
		if !ok {
			s.close()
		}
	}()

	var err error
	if s.Metrics, err = observability.NewMetrics(); err != nil {
		return nil, err
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = s.build.UserAgent()
	s.httpClient = httpclient.New(&httpCfg)
	s.httpClient.SetAfterResponseHook(s.Metrics.OutboundHook())
	s.cleanup = append(s.cleanup, s.httpClient.Close)

	if err := s.initPipeline(); err != nil {
		return nil, err
	}
	if err := s.initStore(); err != nil {
		return nil, err
	}
	s.initNetwork()
	if err := s.initEnrichment(); err != nil {
		return nil, err
	}
	if err := s.initSource(); err != nil {
		return nil, err
	}

	if settings.Telemetry.Enabled {
		s.endpoint = observability.NewEndpoint(settings.Telemetry.Listen, s.Metrics)
	}
	if settings.API.Enabled {
		opts := []api.Option{api.WithNetwork(s.Monitor), api.WithCapturer(s.Capturer)}
		if s.Store != nil {
			opts = append(opts, api.WithDatastore(s.Store))
		}
		if s.Queue != nil {
			opts = append(opts, api.WithQueue(s.Queue))
		}
		s.apiServer = api.NewServer(settings.API.Listen, s.Pipeline, s.Metrics.HTTP, opts...)
	}

	ok = true
	return s, nil
}

func (s *Service) initPipeline() error {
	d := &s.settings.Detection

	labels := detection.COCOLabels()
	if d.LabelPath != "" {
		var err error
		if labels, err = detection.LoadLabels(d.LabelPath); err != nil {
			return err
		}
	}

	modelCfg := inference.ConfigFromSettings(d)
	if modelCfg.InputSize <= 0 {
		modelCfg.InputSize = inference.DefaultInputSize
	}
	if s.loader == nil {
		s.loader = inference.Loader(modelCfg)
	}

	s.Pipeline = pipeline.New(pipeline.Config{
		NumClasses:    d.NumClasses,
		NumCandidates: d.NumCandidates,
		Threshold:     d.Threshold,
		IoUThreshold:  d.IoUThreshold,
		MaxDetections: d.MaxDetections,
		MinInterval:   d.Interval,
		Labels:        labels,
		Recorder:      s.Metrics.Pipeline,
	}, s.loader)
	s.cleanup = append(s.cleanup, func() { _ = s.Pipeline.Close() })

	s.Capturer = NewCapturer(CaptureConfig{
		InputSize:     modelCfg.InputSize,
		AutoCapture:   d.AutoCapture.Enabled,
		MinConfidence: d.AutoCapture.MinConfidence,
	}, s.Pipeline, nil, nil)
	return nil
}

func (s *Service) initStore() error {
	if !s.settings.Output.SQLite.Enabled {
		return nil
	}
	store, err := datastore.OpenSQLite(s.settings.Output.SQLite.Path, datastore.Options{
		Debug:    s.settings.Debug,
		Recorder: s.Metrics.Datastore,
	})
	if err != nil {
		return err
	}
	s.Store = store
	s.Capturer.store = store
	s.cleanup = append(s.cleanup, func() {
		if err := store.Close(); err != nil {
			s.log.Warn("failed to close datastore", logger.Error(err))
		}
	})
	return nil
}

func (s *Service) initNetwork() {
	s.Monitor = network.NewMonitor(true)
	if s.settings.Network.Probe {
		s.prober = network.NewProber(network.ProberConfigFromSettings(&s.settings.Network), s.httpClient, s.Monitor)
	}
}

func (s *Service) initEnrichment() error {
	var publisher EventPublisher
	switch {
	case !s.settings.MQTT.Enabled:
		s.mqttClient = nil
	case s.mqttClient == nil:
		s.mqttClient = mqtt.NewClient(mqtt.ConfigFromSettings(s.settings), s.Metrics.MQTT)
	}
	if s.mqttClient != nil {
		s.cleanup = append(s.cleanup, s.mqttClient.Disconnect)
		publisher = mqtt.NewPublisher(s.mqttClient, s.settings.MQTT.Topic)
	}
	s.Results = NewResults(s.Store, publisher, s.Capturer)

	if !s.settings.Enrichment.Enabled {
		return nil
	}
	if s.classifier == nil {
		c, err := classifier.New(&s.settings.Classifier, s.httpClient, s.Metrics.Classifier)
		if err != nil {
			return err
		}
		s.classifier = c
	}

	cfg := enrichment.ConfigFromSettings(&s.settings.Enrichment)
	cfg.Offline = !s.Monitor.Online()
	cfg.NetworkState = s.Monitor.Online
	cfg.Recorder = s.Metrics.Enrichment
	s.Queue = enrichment.New(cfg, s.classifier, s.Results.Handlers())
	s.Capturer.queue = s.Queue

	remove := s.Monitor.OnChange(s.Queue.NetworkChanged)
	s.cleanup = append(s.cleanup, remove, s.Queue.Close)
	return nil
}

func (s *Service) initSource() error {
	if s.settings.Source.Path == "" {
		s.log.Warn("no frame source configured, pipeline waits for frames")
		return nil
	}
	src, err := framesource.NewDirectory(framesource.ConfigFromSettings(&s.settings.Source))
	if err != nil {
		return err
	}
	s.source = src
	return nil
}

// Run loads the model and runs every component until ctx is done. A model that
// fails to load leaves the pipeline in the error state; it can be reloaded over
// the API.
func (s *Service) Run(ctx context.Context) error {
	defer s.close()

	s.log.Info("starting realtime detection",
		logger.String("version", s.build.GetVersion()),
		logger.String("model", s.settings.Detection.ModelPath),
		logger.Float64("threshold", s.settings.Detection.Threshold),
		logger.Duration("interval", s.settings.Detection.Interval),
		logger.Bool("enrichment", s.Queue != nil),
		logger.Bool("sqlite", s.Store != nil),
		logger.Bool("mqtt", s.mqttClient != nil))

	if err := s.Pipeline.Load(ctx); err != nil {
		s.log.Error("model load failed", logger.Error(err))
	}

	if _, err := s.Capturer.Requeue(requeueLimit); err != nil {
		s.log.Warn("failed to requeue pending items", logger.Error(err))
	}

	batches, unsubscribe := s.Pipeline.Subscribe(batchBuffer)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.Results.Consume(gctx, batches) })
	if s.source != nil {
		g.Go(func() error { return s.source.Run(gctx) })
		g.Go(func() error { return s.Pipeline.Run(gctx, s.source.Frames()) })
	}
	if s.prober != nil {
		g.Go(func() error { return s.prober.Run(gctx) })
	}
	if s.mqttClient != nil {
		g.Go(func() error {
			s.connectMQTT(gctx)
			return nil
		})
	}
	if s.endpoint != nil {
		g.Go(func() error { return s.endpoint.Run(gctx) })
	}
	if s.apiServer != nil {
		g.Go(func() error { return s.apiServer.Run(gctx) })
	}

	err := g.Wait()
	s.log.Info("realtime detection stopped",
		logger.Uint64("frames_received", s.Pipeline.Stats().Received),
		logger.Uint64("batches_published", s.Pipeline.Stats().Published))
	return err
}

// connectMQTT connects once; paho reconnects on its own after the first success
func (s *Service) connectMQTT(ctx context.Context) {
	connCtx, cancel := context.WithTimeout(ctx, mqttConnectWait)
	defer cancel()
	if err := s.mqttClient.Connect(connCtx); err != nil {
		s.log.Warn("MQTT connect failed, publishing disabled until reconnect", logger.Error(err))
	}
}

// close releases components in reverse construction order
func (s *Service) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
	s.cleanup = nil
}

// Realtime runs the realtime service until ctx is done
func Realtime(ctx context.Context, settings *conf.Settings) error {
	s, err := NewService(settings)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

