package kirana

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adiwarsita/kirana/pkg/adapters/player"
	"github.com/adiwarsita/kirana/pkg/adapters/recognizer"
	"github.com/adiwarsita/kirana/pkg/configutil"
	"github.com/adiwarsita/kirana/pkg/convai"
	"github.com/adiwarsita/kirana/pkg/coordinator"
	"github.com/adiwarsita/kirana/pkg/frames"
	"github.com/adiwarsita/kirana/pkg/logging"
	"github.com/adiwarsita/kirana/pkg/metrics"
	"github.com/adiwarsita/kirana/pkg/observers"
	"github.com/adiwarsita/kirana/pkg/playback"
	"github.com/adiwarsita/kirana/pkg/providers/deepgram"
	"github.com/adiwarsita/kirana/pkg/providers/mock"
	"github.com/adiwarsita/kirana/pkg/redact"
	"github.com/adiwarsita/kirana/pkg/resilience"
	"github.com/adiwarsita/kirana/pkg/transcript"
	"github.com/adiwarsita/kirana/pkg/transports"
	"github.com/adiwarsita/kirana/pkg/turn"
)

// Engine assembles and owns coordinated voice sessions. Each session gets
// its own agent connection, recognizer, playback queue, and coordinator;
// the engine shares config, providers, and the metrics pipeline across
// them.
type Engine struct {
	cfg       Config
	providers *ProviderRegistry
	transport transports.Transport
	asyncObs  *metrics.AsyncObserver
	jsonlFile *os.File

	mu       sync.Mutex
	sessions map[string]*coordinator.Coordinator

	ctx    context.Context
	cancel context.CancelFunc
}

type EngineOptions struct {
	Config    Config
	Providers *ProviderRegistry
	Transport transports.Transport
}

func NewEngine(opts EngineOptions) *Engine {
	cfg := opts.Config
	logger := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(logger)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	slog.Info("kirana_init",
		"environment", cfg.Environment,
		"agent_id", cfg.Agent.ID,
		"recognizer_provider", cfg.Vendors.Recognizer.Provider,
		"player_provider", cfg.Vendors.Player.Provider,
	)

	e := &Engine{
		cfg:      cfg,
		sessions: make(map[string]*coordinator.Coordinator),
	}

	var logObs metrics.Observer = observers.NewLoggerObserver(slog.Default())
	if rate := cfg.Observability.LogSampleRate; rate > 0 && rate < 1 {
		logObs = metrics.NewSamplingObserver(logObs, rate)
	}
	obsList := []metrics.Observer{
		observers.NewTurnLatencyObserver(slog.Default()),
		logObs,
	}
	if dir := strings.TrimSpace(cfg.Observability.ArtifactsDir); dir != "" {
		if cfg.Observability.RetentionDays > 0 {
			_, _ = observers.PurgeArtifacts(dir, time.Duration(cfg.Observability.RetentionDays)*24*time.Hour)
		}
		if f, err := openMetricsFile(dir); err == nil {
			e.jsonlFile = f
			obsList = append(obsList, metrics.NewJSONLObserver(f))
		} else {
			slog.Warn("metrics_file_open_failed", "error", err.Error())
		}
	}
	e.asyncObs = metrics.NewAsyncObserver(observers.NewMultiObserver(obsList...), 2048)

	e.providers = opts.Providers
	if e.providers == nil {
		e.providers = NewProviderRegistry()
	}
	registerDefaultProviders(e.providers)
	e.transport = opts.Transport
	if e.transport != nil {
		e.providers.RegisterPlayer("transport", func(cfg Config, sessionID string) (player.Player, error) {
			return transports.NewPlayer(e.transport), nil
		})
	}
	return e
}

func openMetricsFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := filepath.Join(dir, time.Now().UTC().Format("20060102T150405")+".metrics.jsonl")
	return os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

func registerDefaultProviders(r *ProviderRegistry) {
	r.RegisterRecognizer("deepgram", func(cfg Config, rc recognizer.Config) (recognizer.StreamingRecognizer, error) {
		var settings struct {
			APIKey     string `mapstructure:"api_key"`
			Model      string `mapstructure:"model"`
			Language   string `mapstructure:"language"`
			Encoding   string `mapstructure:"encoding"`
			SampleRate int    `mapstructure:"sample_rate"`
		}
		if err := configutil.DecodeSettings(cfg.Vendors.Recognizer.Settings, &settings); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(settings.APIKey, "vendors.recognizer.settings.api_key"); err != nil {
			return nil, err
		}
		lang := rc.Language
		if settings.Language != "" {
			lang = settings.Language
		}
		// Telephony input arrives as mulaw 8000, not the playback PCM rate;
		// the vendor settings override wins when set.
		rate := rc.SampleRate
		if settings.SampleRate > 0 {
			rate = settings.SampleRate
		}
		return deepgram.New(deepgram.Config{
			APIKey:     settings.APIKey,
			Model:      settings.Model,
			Language:   lang,
			Encoding:   settings.Encoding,
			SampleRate: rate,
			Interim:    rc.Interim,
			SessionID:  rc.SessionID,
		}), nil
	})
	r.RegisterRecognizer("mock", func(cfg Config, rc recognizer.Config) (recognizer.StreamingRecognizer, error) {
		return mock.NewRecognizer(mock.RecognizerConfig{SessionID: rc.SessionID, EmitInterim: rc.Interim}), nil
	})
	r.RegisterPlayer("mock", func(cfg Config, sessionID string) (player.Player, error) {
		return mock.NewPlayer(mock.PlayerConfig{}), nil
	})
}

// Start launches shared infrastructure. Sessions are created on demand via
// NewSession.
func (e *Engine) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e.ctx, e.cancel = context.WithCancel(ctx)
	if e.transport != nil {
		if err := e.transport.Start(e.ctx); err != nil {
			return fmt.Errorf("transport start: %w", err)
		}
		if rr, ok := e.transport.(transports.ReadyReporter); ok {
			args := []any{"transport", e.transport.Name()}
			for k, v := range rr.ReadyFields() {
				args = append(args, k, v)
			}
			slog.Info("transport_ready", args...)
		}
	}
	return nil
}

// NewSession builds, starts, and registers one coordinated session. An
// empty id gets a generated one.
func (e *Engine) NewSession(id string) (*coordinator.Coordinator, error) {
	if e.ctx == nil {
		return nil, fmt.Errorf("engine not started")
	}
	if id == "" {
		id = uuid.NewString()
	}

	rc := recognizer.Config{
		SessionID:  id,
		SampleRate: e.cfg.Playback.SampleRate,
		Interim:    true,
	}
	rec, err := e.providers.BuildRecognizer(e.cfg.Vendors.Recognizer.Provider, e.cfg, rc)
	if err != nil {
		return nil, fmt.Errorf("build recognizer: %w", err)
	}
	pl, err := e.providers.BuildPlayer(e.cfg.Vendors.Player.Provider, e.cfg, id)
	if err != nil {
		return nil, fmt.Errorf("build player: %w", err)
	}

	sess := convai.New(convai.Config{
		AgentID:           e.cfg.Agent.ID,
		APIKey:            e.cfg.Agent.APIKey,
		APIBase:           e.cfg.Agent.APIBase,
		SignedURLEndpoint: e.cfg.Agent.SignedURLEndpoint,
		SessionID:         id,
		SampleRate:        e.cfg.Playback.SampleRate,
		Reconnect: resilience.NewReconnectPolicy(
			time.Duration(e.cfg.Session.ReconnectDelayMS)*time.Millisecond,
			e.cfg.Session.ReconnectMaxAttempts,
		),
	}, logging.NewComponentLogger(slog.Default(), "convai"))

	queue := playback.NewQueue(playback.QueueConfig{
		SessionID: id,
		Rate:      e.cfg.Playback.SampleRate,
		Gap:       time.Duration(e.cfg.Playback.GapMS) * time.Millisecond,
		FadeInMS:  e.cfg.Playback.FadeInMS,
		FadeOutTo: e.cfg.Playback.FadeOutTo,
		Buffer:    e.cfg.Playback.Buffer,
	}, pl, turn.NewGate(), logging.NewComponentLogger(slog.Default(), "playback"))

	coord := coordinator.New(coordinator.Config{
		SessionID: id,
		Completer: transcript.CompleterOptions{
			Timeout: time.Duration(e.cfg.Turn.SilenceTimeoutMS) * time.Millisecond,
			MinLen:  e.cfg.Turn.MinUtteranceLen,
		},
	}, sess, rec, queue, e.asyncObs, logging.NewComponentLogger(slog.Default(), "coordinator"))

	if err := coord.Start(e.ctx); err != nil {
		return nil, fmt.Errorf("coordinator start: %w", err)
	}

	// Telephony deployments capture through the transport instead of a
	// device microphone. The transport player learns the live media stream
	// from lifecycle frames the pump routes to it.
	if e.transport != nil && strings.EqualFold(e.cfg.Vendors.Player.Provider, "transport") {
		var onSignal func(frames.Frame)
		if tp, ok := pl.(*transports.Player); ok {
			onSignal = tp.HandleSignal
		}
		go transports.Pump(e.ctx, e.transport, rec, onSignal, logging.NewComponentLogger(slog.Default(), "bridge"))
	}

	e.mu.Lock()
	e.sessions[id] = coord
	e.mu.Unlock()
	return coord, nil
}

// Session returns a registered session, nil when unknown.
func (e *Engine) Session(id string) *coordinator.Coordinator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[id]
}

// CloseSession stops and removes one session.
func (e *Engine) CloseSession(id string) error {
	e.mu.Lock()
	coord := e.sessions[id]
	delete(e.sessions, id)
	e.mu.Unlock()
	if coord == nil {
		return nil
	}
	return coord.Stop()
}

// Drain stops every session and the shared infrastructure. Implements
// runner.Drainer.
func (e *Engine) Drain() error {
	e.mu.Lock()
	coords := make([]*coordinator.Coordinator, 0, len(e.sessions))
	for _, c := range e.sessions {
		coords = append(coords, c)
	}
	e.sessions = make(map[string]*coordinator.Coordinator)
	e.mu.Unlock()

	for _, c := range coords {
		_ = c.Stop()
	}
	if e.transport != nil {
		_ = e.transport.Stop()
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.asyncObs != nil {
		e.asyncObs.Close()
	}
	if e.jsonlFile != nil {
		_ = e.jsonlFile.Close()
	}
	return nil
}
