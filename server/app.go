package server

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"interview-orchestrator/auth"
	"interview-orchestrator/config"
	"interview-orchestrator/dispatcher"
	"interview-orchestrator/events"
	"interview-orchestrator/handler"
	"interview-orchestrator/provider"
	"interview-orchestrator/reconciler"
	"interview-orchestrator/repository"
	"interview-orchestrator/service"
	"io"
)

// App is the wired object graph shared by every command.
type App struct {
	Repo       repository.Repository
	Dispatcher *dispatcher.Dispatcher
	Reconciler *reconciler.Reconciler
	Interviews *service.InterviewService
	Handler    *handler.Handler

	closers []io.Closer
}

// Options tune Build for callers other than the server.
type Options struct {
	// Detached marks a process that shares the database with a running
	// server but not its dispatcher slots, like the reconcile command.
	Detached bool
}

// Build connects to every backing service and wires the controllers. Runs
// started by the dispatcher derive from ctx.
func Build(ctx context.Context, cfg *config.Config, opts Options) (app *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	db, err := config.OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db)
	repo, err := repository.NewRepo(db)
	if err != nil {
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	app.Repo = repo

	gateway, err := app.buildGateway(ctx, cfg)
	if err != nil {
		return nil, err
	}
	publisher, err := app.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	avatars := service.NewAvatarController(repo, gateway, publisher, service.AvatarConfig{
		MaxAttempts: cfg.Jobs.AvatarAttempts,
		RetryDelay:  cfg.Jobs.RetryDelay,
		Fallbacks:   cfg.Jobs.FallbackVideos,
	})
	recordings := service.NewRecordingController(repo, gateway, gateway, publisher, service.RecordingConfig{
		UploadAttempts:     cfg.Jobs.UploadAttempts,
		TranscribeAttempts: cfg.Jobs.TranscribeAttempts,
		RetryDelay:         cfg.Jobs.RetryDelay,
		DefaultLanguage:    cfg.Speech.DefaultLanguage,
	})
	jobs := service.NewService(avatars, recordings)

	transport, err := buildTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Dispatcher = dispatcher.New(ctx, transport, jobs.Process)
	app.Reconciler = reconciler.New(repo, app.Dispatcher, avatars, reconciler.Config{
		PollInterval:    cfg.Jobs.PollInterval,
		MinPollInterval: cfg.Jobs.MinPollInterval,
		StaleAfter:      cfg.Jobs.StaleAfter,
		BatchSize:       cfg.Jobs.BatchSize,
		SpoolDir:        cfg.Upload.SpoolDir,
		SpoolMaxAge:     cfg.Upload.SpoolMaxAge,
		SubmitOnly:      opts.Detached,
	})

	tokens, err := auth.NewTokenMaker(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	app.Interviews = service.NewInterviewService(repo, app.Dispatcher, avatars, recordings, tokens)
	app.Handler = &handler.Handler{
		Service: app.Interviews,
		Checker: app.Reconciler,
		Tokens:  tokens,
		Upload:  handler.Upload{MaxBytes: cfg.Upload.MaxBytes, SpoolDir: cfg.Upload.SpoolDir},
	}
	return app, nil
}

func (a *App) buildGateway(ctx context.Context, cfg *config.Config) (*provider.Gateway, error) {
	did := provider.NewDIDClient(provider.DIDConfig{
		BaseURL:   cfg.DID.BaseURL,
		APIKey:    cfg.DID.APIKey,
		SourceURL: cfg.DID.SourceURL,
		Webhook:   cfg.DID.Webhook,
	}, nil)

	var store provider.ObjectStore
	switch cfg.Storage.Driver {
	case config.StorageGCS:
		gcs, err := provider.NewGCSStore(ctx, provider.GCSConfig{
			Bucket:       cfg.Storage.Bucket,
			Credentials:  cfg.Storage.GCS.Credentials,
			PublicURL:    cfg.Storage.PublicURL,
			PresignedTTL: cfg.Storage.PresignedTTL,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, gcs)
		store = gcs
	default:
		mc, err := provider.NewMinioStore(provider.MinioConfig{
			Endpoint:     cfg.Storage.Minio.URL,
			AccessKey:    cfg.Storage.Minio.AccessID,
			SecretKey:    cfg.Storage.Minio.SecretAccessKey,
			Bucket:       cfg.Storage.Bucket,
			UseSSL:       cfg.Storage.Minio.UseSSL,
			PublicURL:    cfg.Storage.PublicURL,
			PresignedTTL: cfg.Storage.PresignedTTL,
		})
		if err != nil {
			return nil, err
		}
		if err := mc.EnsureBucket(ctx); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("could not ensure bucket, uploads will retry")
		}
		store = mc
	}

	var transcriber provider.Transcriber = provider.DisabledTranscriber{}
	if cfg.Speech.Enabled {
		st, err := provider.NewSpeechTranscriber(ctx, provider.SpeechConfig{
			Credentials: cfg.Speech.Credentials,
			Model:       cfg.Speech.Model,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, st)
		transcriber = st
	}

	return provider.NewGateway(did, store, transcriber, provider.Timeouts{
		Synthesize: cfg.Timeouts.Synthesize,
		Poll:       cfg.Timeouts.Poll,
		Upload:     cfg.Timeouts.Upload,
		Transcribe: cfg.Timeouts.Transcribe,
		Delete:     cfg.Timeouts.Delete,
	}), nil
}

func (a *App) buildPublisher(ctx context.Context, cfg *config.Config) (events.Publisher, error) {
	if cfg.Redis.Addr == "" {
		return events.Nop(), nil
	}
	publisher, err := events.NewRedisPublisher(ctx, events.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  cfg.Redis.Channel,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, publisher)
	return publisher, nil
}

func buildTransport(ctx context.Context, cfg *config.Config) (dispatcher.Transport, error) {
	if cfg.Dispatcher.Transport != config.TransportRabbitMQ {
		return dispatcher.NewMemoryTransport(cfg.Dispatcher.Buffer, cfg.Dispatcher.Workers), nil
	}
	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	return dispatcher.NewAMQPTransport(conn, cfg.Queue, cfg.Dispatcher.Workers), nil
}

// Close releases the connections opened by Build, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
