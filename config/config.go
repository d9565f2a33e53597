package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"strings"
	"time"
)

type Config struct {
	App        App        `yaml:"app"`
	Server     Server     `yaml:"server"`
	Database   Database   `yaml:"database"`
	Queue      *RabbitMQ  `yaml:"rabbitmq"`
	Dispatcher Dispatcher `yaml:"dispatcher"`
	Jobs       Jobs       `yaml:"jobs"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	DID        DID        `yaml:"did"`
	Storage    Storage    `yaml:"storage"`
	Speech     Speech     `yaml:"speech"`
	Upload     Upload     `yaml:"upload"`
	Redis      Redis      `yaml:"redis"`
	Auth       Auth       `yaml:"auth"`
	Otel       Otel       `yaml:"otel"`
}

type App struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type Server struct {
	HttpPort     string   `yaml:"http_port"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type Database struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	Kind         string `json:"kind"`
	MaxTries     int    `json:"max_tries"`
}

const (
	TransportMemory   = "memory"
	TransportRabbitMQ = "rabbitmq"
)

type Dispatcher struct {
	Transport string `yaml:"transport"`
	Workers   int    `yaml:"workers"`
	Buffer    int    `yaml:"buffer"`
}

type Jobs struct {
	PollInterval       time.Duration `yaml:"poll_interval"`
	MinPollInterval    time.Duration `yaml:"min_poll_interval"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	BatchSize          int           `yaml:"batch_size"`
	RetryDelay         time.Duration `yaml:"retry_delay"`
	AvatarAttempts     int           `yaml:"avatar_attempts"`
	UploadAttempts     int           `yaml:"upload_attempts"`
	TranscribeAttempts int           `yaml:"transcribe_attempts"`
	FallbackVideos     []string      `yaml:"fallback_videos"`
}

type Timeouts struct {
	Synthesize time.Duration `yaml:"synthesize"`
	Poll       time.Duration `yaml:"poll"`
	Upload     time.Duration `yaml:"upload"`
	Transcribe time.Duration `yaml:"transcribe"`
	Delete     time.Duration `yaml:"delete"`
}

type DID struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	SourceURL string `yaml:"source_url"`
	Webhook   string `yaml:"webhook"`
}

const (
	StorageMinio = "minio"
	StorageGCS   = "gcs"
)

type Storage struct {
	Driver       string        `yaml:"driver"`
	Bucket       string        `yaml:"bucket"`
	PublicURL    string        `yaml:"public_url"`
	PresignedTTL time.Duration `yaml:"presigned_ttl"`
	Minio        Minio         `yaml:"minio"`
	GCS          GCS           `yaml:"gcs"`
}

type Minio struct {
	URL             string `yaml:"url"`
	AccessID        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
}

type GCS struct {
	Credentials string `yaml:"credentials"`
}

type Speech struct {
	Enabled         bool   `yaml:"enabled"`
	Credentials     string `yaml:"credentials"`
	Model           string `yaml:"model"`
	DefaultLanguage string `yaml:"default_language"`
}

type Upload struct {
	MaxBytes    int64         `yaml:"max_bytes"`
	SpoolDir    string        `yaml:"spool_dir"`
	SpoolMaxAge time.Duration `yaml:"spool_max_age"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Otel struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "interview-orchestrator")
	v.SetDefault("app.environment", "develop")
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
	v.SetDefault("rabbitmq.exchange_name", "interview_jobs_exchange")
	v.SetDefault("rabbitmq.max_tries", 5)

	v.SetDefault("dispatcher.transport", TransportMemory)
	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("dispatcher.buffer", 256)

	v.SetDefault("jobs.poll_interval", 10*time.Second)
	v.SetDefault("jobs.min_poll_interval", 5*time.Second)
	v.SetDefault("jobs.stale_after", 2*time.Minute)
	v.SetDefault("jobs.batch_size", 50)
	v.SetDefault("jobs.retry_delay", 5*time.Second)
	v.SetDefault("jobs.avatar_attempts", 3)
	v.SetDefault("jobs.upload_attempts", 3)
	v.SetDefault("jobs.transcribe_attempts", 3)

	v.SetDefault("timeouts.synthesize", 30*time.Second)
	v.SetDefault("timeouts.poll", 10*time.Second)
	v.SetDefault("timeouts.upload", 60*time.Second)
	v.SetDefault("timeouts.transcribe", 5*time.Minute)
	v.SetDefault("timeouts.delete", 10*time.Second)

	v.SetDefault("did.base_url", "https://api.d-id.com")

	v.SetDefault("storage.driver", StorageMinio)
	v.SetDefault("storage.presigned_ttl", 7*24*time.Hour)

	v.SetDefault("speech.enabled", false)
	v.SetDefault("speech.default_language", "en")

	v.SetDefault("upload.max_bytes", 100*1024*1024)
	v.SetDefault("upload.spool_dir", "temp/uploads")
	v.SetDefault("upload.spool_max_age", 24*time.Hour)

	v.SetDefault("redis.channel", "interview_status")
	v.SetDefault("auth.token_ttl", 7*24*time.Hour)
	v.SetDefault("otel.sample_ratio", 0.1)
}

// Load reads config.yaml from path. Every key can be overridden from the
// environment with dots replaced by underscores, e.g. DID_API_KEY.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	err := v.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err != nil && !errors.As(err, &notFound) {
		return nil, err
	}

	rabbitmq := &RabbitMQ{
		Host:         v.GetString("rabbitmq_host"),
		Port:         v.GetInt("rabbitmq_port"),
		User:         v.GetString("rabbitmq_user"),
		Pass:         v.GetString("rabbitmq_pass"),
		Kind:         v.GetString("rabbitmq_kind"),
		ExchangeName: v.GetString("rabbitmq.exchange_name"),
		MaxTries:     v.GetInt("rabbitmq.max_tries"),
	}

	cfg := &Config{
		App: App{
			Name:        v.GetString("app.name"),
			Environment: v.GetString("app.environment"),
			Version:     v.GetString("app.version"),
		},
		Server: Server{
			HttpPort:     v.GetString("server.port"),
			AllowOrigins: v.GetStringSlice("server.allow_origins"),
		},
		Database: Database{
			URL:         v.GetString("postgresql_host"),
			AutoMigrate: v.GetBool("database.auto_migrate"),
		},
		Queue: rabbitmq,
		Dispatcher: Dispatcher{
			Transport: strings.ToLower(v.GetString("dispatcher.transport")),
			Workers:   v.GetInt("dispatcher.workers"),
			Buffer:    v.GetInt("dispatcher.buffer"),
		},
		Jobs: Jobs{
			PollInterval:       v.GetDuration("jobs.poll_interval"),
			MinPollInterval:    v.GetDuration("jobs.min_poll_interval"),
			StaleAfter:         v.GetDuration("jobs.stale_after"),
			BatchSize:          v.GetInt("jobs.batch_size"),
			RetryDelay:         v.GetDuration("jobs.retry_delay"),
			AvatarAttempts:     v.GetInt("jobs.avatar_attempts"),
			UploadAttempts:     v.GetInt("jobs.upload_attempts"),
			TranscribeAttempts: v.GetInt("jobs.transcribe_attempts"),
			FallbackVideos:     v.GetStringSlice("jobs.fallback_videos"),
		},
		Timeouts: Timeouts{
			Synthesize: v.GetDuration("timeouts.synthesize"),
			Poll:       v.GetDuration("timeouts.poll"),
			Upload:     v.GetDuration("timeouts.upload"),
			Transcribe: v.GetDuration("timeouts.transcribe"),
			Delete:     v.GetDuration("timeouts.delete"),
		},
		DID: DID{
			BaseURL:   v.GetString("did.base_url"),
			APIKey:    v.GetString("did.api_key"),
			SourceURL: v.GetString("did.source_url"),
			Webhook:   v.GetString("did.webhook"),
		},
		Storage: Storage{
			Driver:       strings.ToLower(v.GetString("storage.driver")),
			Bucket:       v.GetString("storage.bucket"),
			PublicURL:    v.GetString("storage.public_url"),
			PresignedTTL: v.GetDuration("storage.presigned_ttl"),
			Minio: Minio{
				URL:             v.GetString("minio.url"),
				AccessID:        v.GetString("minio.access_id"),
				SecretAccessKey: v.GetString("minio.secret_access_key"),
				UseSSL:          v.GetBool("minio.use_ssl"),
			},
			GCS: GCS{
				Credentials: v.GetString("gcs.credentials"),
			},
		},
		Speech: Speech{
			Enabled:         v.GetBool("speech.enabled"),
			Credentials:     v.GetString("speech.credentials"),
			Model:           v.GetString("speech.model"),
			DefaultLanguage: v.GetString("speech.default_language"),
		},
		Upload: Upload{
			MaxBytes:    v.GetInt64("upload.max_bytes"),
			SpoolDir:    v.GetString("upload.spool_dir"),
			SpoolMaxAge: v.GetDuration("upload.spool_max_age"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		},
		Auth: Auth{
			JWTSecret: v.GetString("auth.jwt_secret"),
			TokenTTL:  v.GetDuration("auth.token_ttl"),
		},
		Otel: Otel{
			Enabled:     v.GetBool("otel.enabled"),
			Endpoint:    v.GetString("otel.endpoint"),
			Insecure:    v.GetBool("otel.insecure"),
			SampleRatio: v.GetFloat64("otel.sample_ratio"),
		},
	}
	return cfg, nil
}

// Validate reports every missing or inconsistent setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("postgresql_host is required"))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.DID.APIKey == "" {
		errs = append(errs, errors.New("did.api_key is required"))
	}

	switch c.Dispatcher.Transport {
	case TransportMemory:
	case TransportRabbitMQ:
		if c.Queue == nil || c.Queue.Host == "" {
			errs = append(errs, errors.New("rabbitmq_host is required for the rabbitmq transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dispatcher.transport %q", c.Dispatcher.Transport))
	}

	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	switch c.Storage.Driver {
	case StorageMinio:
		if c.Storage.Minio.URL == "" {
			errs = append(errs, errors.New("minio.url is required for the minio storage driver"))
		}
	case StorageGCS:
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, errors.New("upload.max_bytes must be positive"))
	}
	if c.Jobs.PollInterval <= 0 {
		errs = append(errs, errors.New("jobs.poll_interval must be positive"))
	}
	for i, u := range c.Jobs.FallbackVideos {
		if strings.TrimSpace(u) == "" {
			errs = append(errs, fmt.Errorf("jobs.fallback_videos[%d] is empty", i))
		}
	}
	return errors.Join(errs...)
}
