package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"whispers/internal/archive"
	"whispers/internal/blob"
	"whispers/internal/config"
	"whispers/internal/core"
	"whispers/internal/geocode"
	"whispers/internal/logging"
	"whispers/internal/notify"
	"whispers/internal/refdata"
)

// globalFlags are the persistent root flags.
type globalFlags struct {
	configPath string
	trace      bool
	requester  core.Requester
	role       string
}

// app is a fully wired service plus the resources it owns.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	service  *core.Service
	archiver *archive.Archiver
	registry *prometheus.Registry
	storage  *core.Storage
}

func (a *app) Close() error {
	if a == nil || a.storage == nil {
		return nil
	}
	return a.storage.Close()
}

func openApp(ctx context.Context, flags *globalFlags, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	zlog, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger := logging.NewAdapter(zlog)

	catalog, err := refdata.LoadWithOverride(cfg.ReferenceDataPath)
	if err != nil {
		return nil, fmt.Errorf("load reference data: %w", err)
	}
	resolver := core.NewConfigResolver(catalog, cfg.Settings())
	engine := core.NewDefaultRulesEngine(resolver)

	storage, err := core.OpenPersistentStore(ctx, cfg.StorageOptions(), engine)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	blobStore, err := blob.Open(ctx, cfg.Blob())
	if err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("open archive store: %w", err)
	}
	archiver := archive.New(blobStore)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := core.NewPrometheusMetricsRecorder(registry)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	var notifier core.Notifier = notify.NewLogDispatcher(zlog)
	if cfg.SendgridAPIKey != "" {
		sg, err := notify.NewSendgridDispatcher(cfg.SendgridAPIKey, cfg.SendgridFrom, cfg.SendgridFromName)
		if err != nil {
			_ = storage.Close()
			return nil, err
		}
		notifier = sg
	}
	var geocoder core.Geocoder = geocode.Noop{}
	if cfg.GeocoderURL != "" {
		client, err := geocode.NewClient(cfg.GeocoderURL, cfg.GeocoderTimeout)
		if err != nil {
			_ = storage.Close()
			return nil, err
		}
		geocoder = client
	}

	opts := []core.ServiceOption{
		core.WithLogger(logger),
		core.WithAuditRecorder(core.NewLogAuditRecorder(logger)),
		core.WithMetricsRecorder(metrics),
		core.WithEventLocker(storage.Locker),
		core.WithGeocoder(geocoder),
		core.WithNotifier(notifier),
		core.WithArchiver(archiver),
	}
	if flags.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	return &app{
		cfg:      cfg,
		log:      zlog,
		service:  core.NewService(storage.Store, resolver, opts...),
		archiver: archiver,
		registry: registry,
		storage:  storage,
	}, nil
}

// withApp opens the app for the duration of run.
func withApp(flags *globalFlags, run func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), flags, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		runErr := run(cmd, a, args)
		return errors.Join(runErr, a.Close())
	}
}

func (f *globalFlags) Requester() core.Requester {
	r := f.requester
	r.Role = core.Role(f.role)
	return r
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSON decodes the file at path, or stdin for "-" or "".
func readJSON(cmd *cobra.Command, path string, v any) error {
	var r io.Reader = cmd.InOrStdin()
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}
