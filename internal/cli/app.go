package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"smartbox/internal/action"
	"smartbox/internal/api"
	"smartbox/internal/bridge"
	"smartbox/internal/capture"
	"smartbox/internal/config"
	"smartbox/internal/dicom"
	"smartbox/internal/handlers"
	"smartbox/internal/hostenv"
	"smartbox/internal/metrics"
	"smartbox/internal/retention"
	"smartbox/internal/schema"
	"smartbox/internal/settings"
	"smartbox/internal/storage"
	"smartbox/internal/ws"
)

// app is the wired host. Nothing runs until serve starts it.
type app struct {
	env       hostenv.Config
	log       *zap.Logger
	compiler  *schema.Compiler
	metrics   *metrics.Metrics
	store     *config.Store
	codec     *settings.Codec
	registry  *action.Registry
	bridge    *bridge.Bridge
	hub       *ws.Hub
	retention *retention.Service
	handler   http.Handler
}

// newApp wires every component. exit is called when the UI asks the host to
// quit. A configuration document that loaded with errors is logged and
// replaced by defaults field by field; only an unusable one is fatal.
func newApp(ctx context.Context, env hostenv.Config, log *zap.Logger, exit func()) (*app, error) {
	a := &app{
		env:      env,
		log:      log,
		compiler: schema.NewCompilerWithCache(env.SchemaCacheSize),
		metrics:  metrics.New(),
		codec:    settings.NewCodec(),
		registry: action.NewRegistry(),
	}

	store, err := config.Open(ctx, env.ConfigPath, env.Defaults.Document(), log.Named("config"),
		config.WithValidator(a.compiler),
		config.WithSaveObserver(a.metrics.ConfigSaved),
	)
	if store == nil {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	var le *config.LoadError
	if err != nil && !errors.As(err, &le) {
		return nil, fmt.Errorf("open configuration: %w", err)
	}
	a.store = store

	a.bridge = bridge.New(a.registry, log.Named("bridge"),
		bridge.WithEnvelopeValidator(a.compiler),
		bridge.WithPayloadValidator(a.compiler),
		bridge.WithRecorder(a.metrics),
		bridge.WithAsyncTimeout(env.ProbeTimeout),
		bridge.WithAsyncLimit(env.ProbeConcurrency),
	)
	a.hub = ws.NewHub(a.bridge, log.Named("ws"), ws.WithObserver(a.metrics))

	store.OnChange(func(m *config.Model) {
		a.hub.Publish("config.changed", map[string]interface{}{
			"version": m.Version,
			"fields":  map[string]interface{}(a.codec.Encode(m)),
		})
	})

	a.retention = retention.NewService(store, env.RetentionSchedule, log.Named("retention"),
		retention.WithRemovedHook(a.metrics.FilesRemoved),
		retention.WithStorage(storage.LocalOpener(env.BaseURL)),
	)

	h := handlers.NewHandlers(handlers.Deps{
		Store:        store,
		Codec:        a.codec,
		Prober:       dicom.NewTCPProber(log.Named("dicom")),
		Capture:      capture.NewManager(log.Named("capture"), storage.LocalOpener(env.BaseURL), storage.CapturePolicy(env.MaxCaptureMB), capture.NewMockDevice()),
		Cleaner:      a.retention,
		Notifier:     a.hub,
		Info:         handlers.SystemInfo{Version: env.Version, Environment: env.Environment},
		Exit:         exit,
		ProbeTimeout: env.ProbeTimeout,
	}, log.Named("handlers"))
	if err := handlers.Register(a.registry, h); err != nil {
		return nil, err
	}
	a.registry.Seal()

	a.handler = api.Routes(api.Dependencies{
		Bridge:    a.bridge,
		Envelopes: a.compiler,
		Registry:  a.registry,
		Store:     store,
		Codec:     a.codec,
		Hub:       a.hub,
		Metrics:   a.metrics.Handler(),
		BaseURL:   env.BaseURL,
		Log:       log.Named("http"),
	})
	return a, nil
}
