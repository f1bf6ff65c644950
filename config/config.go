package config

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog/log"
)

const (
	DefaultRedisConnection = "redis://localhost:6379/0"
	DefaultSweepSchedule   = "*/15 * * * * *"
	DefaultSessionCapacity = 4
	DefaultMatchTimeout    = 60 * time.Second
	DefaultBatchSize       = 32
	DefaultBatchWindow     = 250 * time.Millisecond
)

type Config struct {
	RedisConnection          string
	ArrivalSubscription      string
	SessionReadyTopic        string
	SessionReadySubscription string
	MatchResultTopic         string
	SweepSchedule            string
	SessionCapacity          int
	MatchTimeout             time.Duration
	IngestBatchSize          int
	IngestBatchWindow        time.Duration
	AgonesFleet              string
	GoogleProjectID          string
	TargetNamespace          string
	MetricsPort              int
	LogLevel                 string
	CredentialsFile          string
}

func Load() *Config {
	cfg := &Config{
		RedisConnection:          strings.TrimSpace(getEnv("REDIS_CONNECTION_STRING", DefaultRedisConnection)),
		ArrivalSubscription:      strings.TrimSpace(getEnv("PLAYER_ARRIVAL_SUBSCRIPTION", "")),
		SessionReadyTopic:        strings.TrimSpace(getEnv("SESSION_READY_TOPIC", "")),
		SessionReadySubscription: strings.TrimSpace(getEnv("SESSION_READY_SUBSCRIPTION", "")),
		MatchResultTopic:         strings.TrimSpace(getEnv("MATCH_RESULT_TOPIC", "")),
		SweepSchedule:            strings.TrimSpace(getEnv("SWEEP_SCHEDULE", DefaultSweepSchedule)),
		SessionCapacity:          getEnvInt("SESSION_CAPACITY", DefaultSessionCapacity),
		MatchTimeout:             time.Duration(getEnvInt("MATCH_TIMEOUT_SECONDS", int(DefaultMatchTimeout/time.Second))) * time.Second,
		IngestBatchSize:          getEnvInt("INGEST_BATCH_SIZE", DefaultBatchSize),
		IngestBatchWindow:        time.Duration(getEnvInt("INGEST_BATCH_WINDOW_MS", int(DefaultBatchWindow/time.Millisecond))) * time.Millisecond,
		AgonesFleet:              strings.TrimSpace(getEnv("AGONES_FLEET", "")),
		TargetNamespace:          strings.TrimSpace(getEnv("TARGET_NAMESPACE", "default")),
		MetricsPort:              getEnvInt("MATCHMAKER_METRICS_PORT", 8080),
		LogLevel:                 strings.TrimSpace(getEnv("MATCHMAKER_LOG_LEVEL", "info")),
		CredentialsFile:          strings.TrimSpace(firstNonEmpty(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"), os.Getenv("MATCHMAKER_GSA_CREDENTIALS"))),
	}

	if cfg.SessionCapacity < 1 {
		log.Warn().Int("capacity", cfg.SessionCapacity).Msg("config: session capacity must be positive, using default")
		cfg.SessionCapacity = DefaultSessionCapacity
	}
	if cfg.MatchTimeout < time.Second {
		log.Warn().Dur("timeout", cfg.MatchTimeout).Msg("config: match timeout must be positive, using default")
		cfg.MatchTimeout = DefaultMatchTimeout
	}
	if cfg.IngestBatchSize < 1 {
		cfg.IngestBatchSize = DefaultBatchSize
	}
	if cfg.IngestBatchWindow <= 0 {
		cfg.IngestBatchWindow = DefaultBatchWindow
	}

	cfg.GoogleProjectID = getGoogleProjectID(cfg.CredentialsFile, strings.TrimSpace(getEnv("MATCHMAKER_PUBSUB_PROJECT_ID", "")))
	if cfg.GoogleProjectID == "" {
		log.Warn().Msg("Google project ID not resolved; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or MATCHMAKER_PUBSUB_PROJECT_ID")
	}
	return cfg
}

// Validate reports every missing required setting at once.
func (c *Config) Validate() error {
	var merr *multierror.Error
	if c.GoogleProjectID == "" {
		merr = multierror.Append(merr, errors.New("missing Google project id; set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_PROJECT_ID or MATCHMAKER_PUBSUB_PROJECT_ID"))
	}
	if c.ArrivalSubscription == "" {
		merr = multierror.Append(merr, errors.New("missing player arrival subscription; set PLAYER_ARRIVAL_SUBSCRIPTION"))
	}
	if c.SessionReadyTopic == "" {
		merr = multierror.Append(merr, errors.New("missing session ready topic; set SESSION_READY_TOPIC"))
	}
	if c.SessionReadySubscription == "" {
		merr = multierror.Append(merr, errors.New("missing session ready subscription; set SESSION_READY_SUBSCRIPTION"))
	}
	return merr.ErrorOrNil()
}

func (c *Config) HTTPAddr() string {
	return net.JoinHostPort("0.0.0.0", strconv.Itoa(c.MetricsPort))
}

// Redacted returns a view safe for logging
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"redis":                    redactConnection(c.RedisConnection),
		"projectID":                c.GoogleProjectID,
		"arrivalSubscription":      c.ArrivalSubscription,
		"sessionReadyTopic":        c.SessionReadyTopic,
		"sessionReadySubscription": c.SessionReadySubscription,
		"matchResultTopic":         c.MatchResultTopic,
		"sweepSchedule":            c.SweepSchedule,
		"sessionCapacity":          c.SessionCapacity,
		"matchTimeout":             c.MatchTimeout.String(),
		"ingestBatchSize":          c.IngestBatchSize,
		"ingestBatchWindow":        c.IngestBatchWindow.String(),
		"agonesFleet":              c.AgonesFleet,
		"targetNamespace":          c.TargetNamespace,
		"metricsPort":              c.MetricsPort,
		"logLevel":                 c.LogLevel,
		"credentialsProvided":      c.CredentialsFile != "",
	}
}

func redactConnection(conn string) string {
	if !strings.Contains(conn, "://") {
		return conn
	}
	u, err := url.Parse(conn)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		iv, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return iv
		}
		log.Warn().Str("key", key).Str("value", v).Msg("config: invalid int, using default")
	}
	return def
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// projectIDFromCredentials reads project_id from a service account key. A
// file without one yields an empty id.
func projectIDFromCredentials(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	var x struct {
		ProjectID string `json:"project_id"`
	}
	_ = json.Unmarshal(b, &x)
	return x.ProjectID, nil
}

func getGoogleProjectID(credsFile string, explicit string) string {
	// 1) Prefer GOOGLE_APPLICATION_CREDENTIALS if set
	if p := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")); p != "" {
		log.Info().Str("credsFile", p).Msg("GOOGLE_APPLICATION_CREDENTIALS is set; extracting project_id from credentials file")
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			return strings.TrimSpace(pid)
		}
		log.Warn().Str("credsFile", p).Msg("project_id not found in credentials file or unreadable")
	}

	// 2) Explicit override from matchmaker env
	if explicit := strings.TrimSpace(explicit); explicit != "" {
		log.Info().Str("projectID", explicit).Msg("using MATCHMAKER_PUBSUB_PROJECT_ID for Google project")
		return explicit
	}

	// 3) External k8s override
	if v := strings.TrimSpace(os.Getenv("GOOGLE_PROJECT_ID")); v != "" {
		log.Info().Str("projectID", v).Msg("using GOOGLE_PROJECT_ID from environment")
		return v
	}

	// 4) Common Google envs
	if v := firstNonEmpty(os.Getenv("GOOGLE_CLOUD_PROJECT"), os.Getenv("GCLOUD_PROJECT"), os.Getenv("GCP_PROJECT")); strings.TrimSpace(v) != "" {
		v = strings.TrimSpace(v)
		log.Info().Str("projectID", v).Msg("using Google project from common environment variables")
		return v
	}

	// 5) Fallback to provided credentials file path (MATCHMAKER_GSA_CREDENTIALS)
	if p := strings.TrimSpace(credsFile); p != "" {
		if pid, err := projectIDFromCredentials(p); err == nil && pid != "" {
			log.Info().Str("credsFile", p).Msg("using project_id from provided credentials file")
			return strings.TrimSpace(pid)
		}
	}
	return ""
}
