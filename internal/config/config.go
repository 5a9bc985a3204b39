// Package config centralizes how DataSteward reads environment variables and
// exposes them as strongly typed Go values.
package config

import (
	"crypto/rand"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"github.com/dharsanguruparan/DataSteward/internal/submission"
)

// Storage backends accepted by STEWARD_STORAGE_BACKEND.
const (
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config represents runtime configuration shared by the server, the worker
// and the operator CLI.
type Config struct {
	Address     string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	StorageBackend string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
	S3Region       string
	S3UseSSL       bool
	GCPProject     string

	DRCBucket     string
	UnionedBucket string

	EHRDataset        string
	UnionedDataset    string
	RDRDataset        string
	CombinedDataset   string
	VocabularyDataset string
	LookupDataset     string
	SandboxDataset    string

	LoadPollInterval time.Duration
	LoadTimeout      time.Duration
	ValidateAllCron  string
	Workers          int
	Location         *time.Location
	CronSecret       []byte

	NATSURL       string
	ReportSubject string
	AlertSubject  string
	ReportSender  string

	Retraction Retraction
}

// Retraction holds the defaults for retraction runs started from the CLI.
type Retraction struct {
	HPOID    string
	Type     string
	PIDTable string
	Datasets []string
	Folder   string
}

// ErrMissingRequiredEnvVar reports a required variable that is unset.
type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

const (
	defaultAddress         = ":8080"
	defaultRedisAddr       = "localhost:6379"
	defaultStorageBackend  = BackendS3
	defaultS3Endpoint      = "localhost:9000"
	defaultS3Region        = "us-east-1"
	defaultDRCBucket       = "drc-curation-internal"
	defaultUnionedBucket   = "unioned-ehr"
	defaultEHRDataset      = "ehr"
	defaultUnionedDataset  = "unioned_ehr"
	defaultRDRDataset      = "rdr20240101"
	defaultCombinedDataset = "combined"
	defaultVocabulary      = "vocabulary"
	defaultLookupDataset   = "lookup_tables"
	defaultSandboxDataset  = "sandbox"
	defaultPollInterval    = 5 * time.Second
	defaultLoadTimeout     = 10 * time.Minute
	defaultValidateCron    = "0 */6 * * *"
	defaultWorkerCount     = 2
	defaultTimezone        = "America/New_York"
	defaultReportSubject   = "steward.reports"
	defaultAlertSubject    = "steward.alerts"
	defaultReportSender    = "data-steward@localhost"
	defaultRetractionType  = "rdr_and_ehr"
	defaultRetractFolder   = "none"
)

// Load reads configuration from environment variables falling back to
// defaults. DATABASE_URL is the only required variable.
func Load() (*Config, error) {
	cfg := &Config{
		Address:     readEnv("STEWARD_ADDRESS", defaultAddress),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     readEnv("REDIS_ADDR", defaultRedisAddr),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseInt("REDIS_DB", 0),

		StorageBackend: strings.ToLower(readEnv("STEWARD_STORAGE_BACKEND", defaultStorageBackend)),
		S3Endpoint:     readEnv("S3_ENDPOINT", defaultS3Endpoint),
		S3AccessKey:    os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:    os.Getenv("S3_SECRET_KEY"),
		S3Region:       readEnv("S3_REGION", defaultS3Region),
		S3UseSSL:       parseBool("S3_USE_SSL", false),
		GCPProject:     os.Getenv("GCP_PROJECT"),

		DRCBucket:     readEnv("DRC_BUCKET_NAME", defaultDRCBucket),
		UnionedBucket: readEnv("UNIONED_EHR_BUCKET_NAME", defaultUnionedBucket),

		EHRDataset:        readEnv("EHR_DATASET_ID", defaultEHRDataset),
		UnionedDataset:    readEnv("UNIONED_DATASET_ID", defaultUnionedDataset),
		RDRDataset:        readEnv("RDR_DATASET_ID", defaultRDRDataset),
		CombinedDataset:   readEnv("COMBINED_DATASET_ID", defaultCombinedDataset),
		VocabularyDataset: readEnv("VOCABULARY_DATASET", defaultVocabulary),
		LookupDataset:     readEnv("LOOKUP_DATASET_ID", defaultLookupDataset),
		SandboxDataset:    readEnv("SANDBOX_DATASET_ID", defaultSandboxDataset),

		LoadPollInterval: parseDuration("STEWARD_LOAD_POLL_INTERVAL", defaultPollInterval),
		LoadTimeout:      parseDuration("STEWARD_LOAD_TIMEOUT", defaultLoadTimeout),
		ValidateAllCron:  readEnv("STEWARD_VALIDATE_ALL_CRON", defaultValidateCron),
		Workers:          parseInt("STEWARD_WORKERS", defaultWorkerCount),
		CronSecret:       parseSecret("STEWARD_CRON_SECRET"),

		NATSURL:       os.Getenv("NATS_URL"),
		ReportSubject: readEnv("STEWARD_REPORT_SUBJECT", defaultReportSubject),
		AlertSubject:  readEnv("STEWARD_ALERT_SUBJECT", defaultAlertSubject),
		ReportSender:  readEnv("STEWARD_REPORT_SENDER", defaultReportSender),

		Retraction: Retraction{
			HPOID:    os.Getenv("RETRACTION_HPO_ID"),
			Type:     readEnv("RETRACTION_TYPE", defaultRetractionType),
			PIDTable: os.Getenv("RETRACTION_PID_TABLE_ID"),
			Datasets: parseList("RETRACTION_DATASET_IDS", ""),
			Folder:   readEnv("RETRACTION_SUBMISSION_FOLDER", defaultRetractFolder),
		},
	}
	if cfg.DatabaseURL == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "DATABASE_URL"}
	}
	switch cfg.StorageBackend {
	case BackendS3, BackendGCS, BackendMemory:
	default:
		return nil, fmt.Errorf("STEWARD_STORAGE_BACKEND: unknown backend %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == BackendGCS && cfg.GCPProject == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "GCP_PROJECT"}
	}
	if _, err := submission.RDRDate(cfg.RDRDataset); err != nil {
		return nil, fmt.Errorf("RDR_DATASET_ID: %w", err)
	}
	if _, err := cron.ParseStandard(cfg.ValidateAllCron); err != nil {
		return nil, fmt.Errorf("STEWARD_VALIDATE_ALL_CRON: %w", err)
	}
	loc, err := time.LoadLocation(readEnv("STEWARD_TIMEZONE", defaultTimezone))
	if err != nil {
		return nil, fmt.Errorf("STEWARD_TIMEZONE: %w", err)
	}
	cfg.Location = loc
	if cfg.CronSecret == nil {
		// without a configured secret only this process can sign triggers
		secret, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generate cron secret: %w", err)
		}
		cfg.CronSecret = secret
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkerCount
	}
	if cfg.LoadPollInterval <= 0 {
		cfg.LoadPollInterval = defaultPollInterval
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	return cfg, nil
}

func readEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// parseList splits a comma separated value and drops empty entries.
func parseList(key, def string) []string {
	val := readEnv(key, def)
	var out []string
	for _, s := range strings.Split(val, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseDuration(key string, def time.Duration) time.Duration {
	// time.ParseDuration understands inputs like "5m" or "30s".
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}

func parseSecret(key string) []byte {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return []byte(v)
	}
	return nil
}

// randRead is swapped out in tests.
var randRead = rand.Read

func randomSecret() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := randRead(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
