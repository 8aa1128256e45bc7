package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Config struct {
	Env              string
	ServiceName      string
	HTTPPort         int
	LogLevel         string
	ConfigPath       string
	RequestTimeoutMS int
	RequestTimeout   time.Duration

	OIDCIssuer      string
	OIDCAudience    string
	OIDCJWKSURL     string
	JWKSTTLSeconds  int
	JWTClockSkewSec int

	DatabaseURL      string
	DBMaxConns       int
	DBMinConns       int
	DBConnMaxIdleSec int
	DBConnMaxLifeSec int

	AuditEnabled bool

	KafkaBrokers  []string
	KafkaClientID string
	KafkaGroupID  string
	KafkaRetryMax int
	KafkaWriteMS  int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AsynqRedisAddr   string
	AsynqRedisPass   string
	AsynqRedisDB     int
	AsynqQueue       string
	AsynqConcurrency int

	PRCAPIURL            string
	PRCGlobalKey         string
	PRCTimeoutMS         int
	PRCRetryMax          int
	PRCRateBudget        int
	RateAlertThresholdMS int
	RateAlertCooldownSec int

	QueueScanSec            int
	QueueBatchSize          int
	QueueCommandDelayMS     int
	QueueProcessingStaleSec int
	QueueLockTTLSec         int

	AutomationTickSec       int
	AutomationHTTPTimeoutMS int

	PresencePollSec int

	InfluxURL       string
	InfluxToken     string
	InfluxOrg       string
	InfluxBucket    string
	InfluxTimeoutMS int

	DiscordWebhookURL string
	WebhookTimeoutMS  int
	WebhookRetryMax   int

	IngestRoutingPath string
	NotifierGroupID   string
	NotifierTopics    []string

	OtelEnabled     bool
	OtelEndpoint    string
	OtelInsecure    bool
	OtelSampleRatio float64
}

func Load(serviceNameDefault string, httpPortDefault int) (Config, []Problem) {
	envRaw := strings.TrimSpace(os.Getenv("ENV"))
	cfg := Config{
		Env:                     envRaw,
		ServiceName:             serviceNameDefault,
		HTTPPort:                httpPortDefault,
		LogLevel:                "info",
		ConfigPath:              strings.TrimSpace(os.Getenv("CONFIG_PATH")),
		RequestTimeoutMS:        30000,
		OIDCIssuer:              strings.TrimSpace(os.Getenv("OIDC_ISSUER")),
		OIDCAudience:            strings.TrimSpace(os.Getenv("OIDC_AUDIENCE")),
		OIDCJWKSURL:             strings.TrimSpace(os.Getenv("OIDC_JWKS_URL")),
		JWKSTTLSeconds:          300,
		JWTClockSkewSec:         60,
		DatabaseURL:             strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:              10,
		DBMinConns:              1,
		DBConnMaxIdleSec:        300,
		DBConnMaxLifeSec:        1800,
		AuditEnabled:            false,
		KafkaRetryMax:           5,
		KafkaWriteMS:            5000,
		AsynqQueue:              "default",
		AsynqConcurrency:        10,
		PRCTimeoutMS:            8000,
		PRCRetryMax:             3,
		PRCRateBudget:           35,
		RateAlertThresholdMS:    60000,
		RateAlertCooldownSec:    300,
		QueueScanSec:            60,
		QueueBatchSize:          2,
		QueueCommandDelayMS:     6000,
		QueueProcessingStaleSec: 600,
		QueueLockTTLSec:         90,
		AutomationTickSec:       60,
		AutomationHTTPTimeoutMS: 10000,
		PresencePollSec:         30,
		InfluxTimeoutMS:         5000,
		WebhookTimeoutMS:        5000,
		WebhookRetryMax:         2,
		NotifierTopics:          []string{"moderation.alerts"},
		OtelEnabled:             false,
		OtelInsecure:            true,
		OtelSampleRatio:         1.0,
	}

	problems := make([]Problem, 0, 4)
	envProvided := envRaw != ""

	if repoRoot, ok := findRepoRoot(); ok && cfg.Env != "" && cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(repoRoot, "configs", cfg.Env+".json")
	}

	if fileData, fileProblems, ok := loadConfigFile(cfg.ConfigPath, strings.TrimSpace(os.Getenv("CONFIG_PATH")) != ""); ok {
		problems = append(problems, fileProblems...)
		if fileEnv, ok := readStringKey(fileData, "ENV"); ok && strings.TrimSpace(fileEnv) != "" {
			envProvided = true
		}
		applyConfigMap(&cfg, fileData, &problems)
	} else {
		problems = append(problems, fileProblems...)
	}

	applyEnv(&cfg, &problems)

	// Default the JWKS URL off the issuer when not set explicitly.
	if cfg.OIDCIssuer != "" && strings.TrimSpace(cfg.OIDCJWKSURL) == "" {
		cfg.OIDCJWKSURL = strings.TrimRight(cfg.OIDCIssuer, "/") + "/.well-known/jwks.json"
	}

	if cfg.Env == "" {
		cfg.Env = "dev"
	}
	if !envProvided {
		problems = append(problems, Problem{Field: "ENV", Message: "ENV is required"})
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		problems = append(problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		cfg.HTTPPort = httpPortDefault
	}
	requirePositive(&problems, "REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, 30000)
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutMS) * time.Millisecond
	requirePositive(&problems, "JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, 300)
	if cfg.JWTClockSkewSec < 0 {
		problems = append(problems, Problem{Field: "JWT_CLOCK_SKEW_SECONDS", Message: "JWT_CLOCK_SKEW_SECONDS must be >= 0"})
		cfg.JWTClockSkewSec = 60
	}
	requirePositive(&problems, "DB_MAX_CONNS", &cfg.DBMaxConns, 10)
	if cfg.DBMinConns < 0 {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be >= 0"})
		cfg.DBMinConns = 1
	}
	if cfg.DBMinConns > cfg.DBMaxConns {
		problems = append(problems, Problem{Field: "DB_MIN_CONNS", Message: "DB_MIN_CONNS must be <= DB_MAX_CONNS"})
		cfg.DBMinConns = cfg.DBMaxConns
	}
	requirePositive(&problems, "DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, 300)
	requirePositive(&problems, "DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, 1800)
	requirePositive(&problems, "ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, 10)
	requirePositive(&problems, "PRC_TIMEOUT_MS", &cfg.PRCTimeoutMS, 8000)
	requirePositive(&problems, "PRC_RETRY_MAX", &cfg.PRCRetryMax, 3)
	requirePositive(&problems, "PRC_RATE_BUDGET", &cfg.PRCRateBudget, 35)
	requirePositive(&problems, "RATE_ALERT_THRESHOLD_MS", &cfg.RateAlertThresholdMS, 60000)
	requirePositive(&problems, "RATE_ALERT_COOLDOWN_SECONDS", &cfg.RateAlertCooldownSec, 300)
	requirePositive(&problems, "QUEUE_SCAN_SECONDS", &cfg.QueueScanSec, 60)
	requirePositive(&problems, "QUEUE_BATCH_SIZE", &cfg.QueueBatchSize, 2)
	requirePositive(&problems, "QUEUE_COMMAND_DELAY_MS", &cfg.QueueCommandDelayMS, 6000)
	requirePositive(&problems, "QUEUE_PROCESSING_STALE_SECONDS", &cfg.QueueProcessingStaleSec, 600)
	requirePositive(&problems, "QUEUE_LOCK_TTL_SECONDS", &cfg.QueueLockTTLSec, 90)
	requirePositive(&problems, "AUTOMATION_TICK_SECONDS", &cfg.AutomationTickSec, 60)
	requirePositive(&problems, "AUTOMATION_HTTP_TIMEOUT_MS", &cfg.AutomationHTTPTimeoutMS, 10000)
	requirePositive(&problems, "PRESENCE_POLL_SECONDS", &cfg.PresencePollSec, 30)
	requirePositive(&problems, "INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, 5000)
	requirePositive(&problems, "WEBHOOK_TIMEOUT_MS", &cfg.WebhookTimeoutMS, 5000)
	if cfg.WebhookRetryMax < 0 {
		problems = append(problems, Problem{Field: "WEBHOOK_RETRY_MAX", Message: "WEBHOOK_RETRY_MAX must be >= 0"})
		cfg.WebhookRetryMax = 2
	}
	if cfg.OtelSampleRatio < 0 || cfg.OtelSampleRatio > 1 {
		problems = append(problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be 0-1"})
		cfg.OtelSampleRatio = 1.0
	}

	return cfg, problems
}

func requirePositive(problems *[]Problem, field string, value *int, fallback int) {
	if *value <= 0 {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be > 0"})
		*value = fallback
	}
}

func findRepoRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

func loadConfigFile(path string, explicit bool) (map[string]any, []Problem, bool) {
	if strings.TrimSpace(path) == "" {
		return nil, nil, false
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if explicit {
			return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("cannot read config file: %s", path)}}, false
		}
		return nil, nil, false
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil, false
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, []Problem{{Field: "CONFIG_PATH", Message: fmt.Sprintf("invalid JSON in config file: %s", path)}}, false
	}
	return data, nil, true
}

func applyEnv(cfg *Config, problems *[]Problem) {
	envString("SERVICE_NAME", &cfg.ServiceName)

	portRaw := strings.TrimSpace(os.Getenv("HTTP_PORT"))
	if portRaw == "" {
		portRaw = strings.TrimSpace(os.Getenv("PORT"))
	}
	if portRaw != "" {
		if p, err := strconv.Atoi(portRaw); err != nil || p <= 0 || p > 65535 {
			*problems = append(*problems, Problem{Field: "HTTP_PORT", Message: "HTTP_PORT must be 1-65535"})
		} else {
			cfg.HTTPPort = p
		}
	}

	envString("LOG_LEVEL", &cfg.LogLevel)
	envInt("REQUEST_TIMEOUT_MS", &cfg.RequestTimeoutMS, problems)

	envString("OIDC_ISSUER", &cfg.OIDCIssuer)
	envString("OIDC_AUDIENCE", &cfg.OIDCAudience)
	envString("OIDC_JWKS_URL", &cfg.OIDCJWKSURL)
	envInt("JWKS_CACHE_TTL_SECONDS", &cfg.JWKSTTLSeconds, problems)
	envInt("JWT_CLOCK_SKEW_SECONDS", &cfg.JWTClockSkewSec, problems)

	envString("DATABASE_URL", &cfg.DatabaseURL)
	envInt("DB_MAX_CONNS", &cfg.DBMaxConns, problems)
	envInt("DB_MIN_CONNS", &cfg.DBMinConns, problems)
	envInt("DB_CONN_MAX_IDLE_SECONDS", &cfg.DBConnMaxIdleSec, problems)
	envInt("DB_CONN_MAX_LIFETIME_SECONDS", &cfg.DBConnMaxLifeSec, problems)

	envBool("AUDIT_ENABLED", &cfg.AuditEnabled, problems)

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		cfg.KafkaBrokers = parseCSV(v)
	}
	envString("KAFKA_CLIENT_ID", &cfg.KafkaClientID)
	envString("KAFKA_CONSUMER_GROUP", &cfg.KafkaGroupID)
	envInt("KAFKA_RETRY_MAX", &cfg.KafkaRetryMax, problems)
	envInt("KAFKA_WRITE_TIMEOUT_MS", &cfg.KafkaWriteMS, problems)

	envString("REDIS_ADDR", &cfg.RedisAddr)
	envString("REDIS_PASSWORD", &cfg.RedisPassword)
	envInt("REDIS_DB", &cfg.RedisDB, problems)

	envString("ASYNQ_REDIS_ADDR", &cfg.AsynqRedisAddr)
	envString("ASYNQ_REDIS_PASSWORD", &cfg.AsynqRedisPass)
	envInt("ASYNQ_REDIS_DB", &cfg.AsynqRedisDB, problems)
	envString("ASYNQ_QUEUE", &cfg.AsynqQueue)
	envInt("ASYNQ_CONCURRENCY", &cfg.AsynqConcurrency, problems)

	envString("PRC_API_URL", &cfg.PRCAPIURL)
	envString("PRC_GLOBAL_KEY", &cfg.PRCGlobalKey)
	envInt("PRC_TIMEOUT_MS", &cfg.PRCTimeoutMS, problems)
	envInt("PRC_RETRY_MAX", &cfg.PRCRetryMax, problems)
	envInt("PRC_RATE_BUDGET", &cfg.PRCRateBudget, problems)
	envInt("RATE_ALERT_THRESHOLD_MS", &cfg.RateAlertThresholdMS, problems)
	envInt("RATE_ALERT_COOLDOWN_SECONDS", &cfg.RateAlertCooldownSec, problems)

	envInt("QUEUE_SCAN_SECONDS", &cfg.QueueScanSec, problems)
	envInt("QUEUE_BATCH_SIZE", &cfg.QueueBatchSize, problems)
	envInt("QUEUE_COMMAND_DELAY_MS", &cfg.QueueCommandDelayMS, problems)
	envInt("QUEUE_PROCESSING_STALE_SECONDS", &cfg.QueueProcessingStaleSec, problems)
	envInt("QUEUE_LOCK_TTL_SECONDS", &cfg.QueueLockTTLSec, problems)

	envInt("AUTOMATION_TICK_SECONDS", &cfg.AutomationTickSec, problems)
	envInt("AUTOMATION_HTTP_TIMEOUT_MS", &cfg.AutomationHTTPTimeoutMS, problems)

	envInt("PRESENCE_POLL_SECONDS", &cfg.PresencePollSec, problems)

	envString("INFLUX_URL", &cfg.InfluxURL)
	envString("INFLUX_TOKEN", &cfg.InfluxToken)
	envString("INFLUX_ORG", &cfg.InfluxOrg)
	envString("INFLUX_BUCKET", &cfg.InfluxBucket)
	envInt("INFLUX_TIMEOUT_MS", &cfg.InfluxTimeoutMS, problems)

	envString("DISCORD_WEBHOOK_URL", &cfg.DiscordWebhookURL)
	envInt("WEBHOOK_TIMEOUT_MS", &cfg.WebhookTimeoutMS, problems)
	envInt("WEBHOOK_RETRY_MAX", &cfg.WebhookRetryMax, problems)

	envString("INGEST_ROUTING_PATH", &cfg.IngestRoutingPath)
	envString("NOTIFIER_GROUP_ID", &cfg.NotifierGroupID)
	if v := strings.TrimSpace(os.Getenv("NOTIFIER_TOPICS")); v != "" {
		cfg.NotifierTopics = parseCSV(v)
	}

	envBool("OTEL_ENABLED", &cfg.OtelEnabled, problems)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OtelEndpoint)
	envBool("OTEL_INSECURE", &cfg.OtelInsecure, problems)
	if v := strings.TrimSpace(os.Getenv("OTEL_SAMPLE_RATIO")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err != nil {
			*problems = append(*problems, Problem{Field: "OTEL_SAMPLE_RATIO", Message: "OTEL_SAMPLE_RATIO must be a number"})
		} else {
			cfg.OtelSampleRatio = f
		}
	}
}

func envString(key string, dst *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be an integer"})
		return
	}
	*dst = n
}

func envBool(key string, dst *bool, problems *[]Problem) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	b, ok := asBool(v)
	if !ok {
		*problems = append(*problems, Problem{Field: key, Message: key + " must be a boolean"})
		return
	}
	*dst = b
}

func applyConfigMap(cfg *Config, raw map[string]any, problems *[]Problem) {
	for k, v := range raw {
		key := strings.ToUpper(strings.TrimSpace(k))
		switch key {
		case "ENV":
			if s, ok := v.(string); ok {
				cfg.Env = strings.TrimSpace(s)
			}
		case "SERVICE_NAME":
			mapString(v, &cfg.ServiceName)
		case "HTTP_PORT":
			p, ok := asInt(v)
			if !ok || p <= 0 || p > 65535 {
				*problems = append(*problems, Problem{Field: key, Message: "HTTP_PORT must be 1-65535"})
			} else {
				cfg.HTTPPort = p
			}
		case "LOG_LEVEL":
			mapString(v, &cfg.LogLevel)
		case "REQUEST_TIMEOUT_MS":
			mapInt(key, v, &cfg.RequestTimeoutMS, problems)
		case "OIDC_ISSUER":
			mapString(v, &cfg.OIDCIssuer)
		case "OIDC_AUDIENCE":
			mapString(v, &cfg.OIDCAudience)
		case "OIDC_JWKS_URL":
			mapString(v, &cfg.OIDCJWKSURL)
		case "JWKS_CACHE_TTL_SECONDS":
			mapInt(key, v, &cfg.JWKSTTLSeconds, problems)
		case "JWT_CLOCK_SKEW_SECONDS":
			mapInt(key, v, &cfg.JWTClockSkewSec, problems)
		case "DATABASE_URL":
			mapString(v, &cfg.DatabaseURL)
		case "DB_MAX_CONNS":
			mapInt(key, v, &cfg.DBMaxConns, problems)
		case "DB_MIN_CONNS":
			mapInt(key, v, &cfg.DBMinConns, problems)
		case "DB_CONN_MAX_IDLE_SECONDS":
			mapInt(key, v, &cfg.DBConnMaxIdleSec, problems)
		case "DB_CONN_MAX_LIFETIME_SECONDS":
			mapInt(key, v, &cfg.DBConnMaxLifeSec, problems)
		case "AUDIT_ENABLED":
			mapBool(key, v, &cfg.AuditEnabled, problems)
		case "KAFKA_BROKERS":
			switch t := v.(type) {
			case string:
				cfg.KafkaBrokers = parseCSV(t)
			case []any:
				cfg.KafkaBrokers = parseAnyCSV(t)
			}
		case "KAFKA_CLIENT_ID":
			mapString(v, &cfg.KafkaClientID)
		case "KAFKA_CONSUMER_GROUP":
			mapString(v, &cfg.KafkaGroupID)
		case "KAFKA_RETRY_MAX":
			mapInt(key, v, &cfg.KafkaRetryMax, problems)
		case "KAFKA_WRITE_TIMEOUT_MS":
			mapInt(key, v, &cfg.KafkaWriteMS, problems)
		case "REDIS_ADDR":
			mapString(v, &cfg.RedisAddr)
		case "REDIS_PASSWORD":
			mapString(v, &cfg.RedisPassword)
		case "REDIS_DB":
			mapInt(key, v, &cfg.RedisDB, problems)
		case "ASYNQ_REDIS_ADDR":
			mapString(v, &cfg.AsynqRedisAddr)
		case "ASYNQ_REDIS_PASSWORD":
			mapString(v, &cfg.AsynqRedisPass)
		case "ASYNQ_REDIS_DB":
			mapInt(key, v, &cfg.AsynqRedisDB, problems)
		case "ASYNQ_QUEUE":
			mapString(v, &cfg.AsynqQueue)
		case "ASYNQ_CONCURRENCY":
			mapInt(key, v, &cfg.AsynqConcurrency, problems)
		case "PRC_API_URL":
			mapString(v, &cfg.PRCAPIURL)
		case "PRC_GLOBAL_KEY":
			mapString(v, &cfg.PRCGlobalKey)
		case "PRC_TIMEOUT_MS":
			mapInt(key, v, &cfg.PRCTimeoutMS, problems)
		case "PRC_RETRY_MAX":
			mapInt(key, v, &cfg.PRCRetryMax, problems)
		case "PRC_RATE_BUDGET":
			mapInt(key, v, &cfg.PRCRateBudget, problems)
		case "RATE_ALERT_THRESHOLD_MS":
			mapInt(key, v, &cfg.RateAlertThresholdMS, problems)
		case "RATE_ALERT_COOLDOWN_SECONDS":
			mapInt(key, v, &cfg.RateAlertCooldownSec, problems)
		case "QUEUE_SCAN_SECONDS":
			mapInt(key, v, &cfg.QueueScanSec, problems)
		case "QUEUE_BATCH_SIZE":
			mapInt(key, v, &cfg.QueueBatchSize, problems)
		case "QUEUE_COMMAND_DELAY_MS":
			mapInt(key, v, &cfg.QueueCommandDelayMS, problems)
		case "QUEUE_PROCESSING_STALE_SECONDS":
			mapInt(key, v, &cfg.QueueProcessingStaleSec, problems)
		case "QUEUE_LOCK_TTL_SECONDS":
			mapInt(key, v, &cfg.QueueLockTTLSec, problems)
		case "AUTOMATION_TICK_SECONDS":
			mapInt(key, v, &cfg.AutomationTickSec, problems)
		case "AUTOMATION_HTTP_TIMEOUT_MS":
			mapInt(key, v, &cfg.AutomationHTTPTimeoutMS, problems)
		case "PRESENCE_POLL_SECONDS":
			mapInt(key, v, &cfg.PresencePollSec, problems)
		case "INFLUX_URL":
			mapString(v, &cfg.InfluxURL)
		case "INFLUX_TOKEN":
			mapString(v, &cfg.InfluxToken)
		case "INFLUX_ORG":
			mapString(v, &cfg.InfluxOrg)
		case "INFLUX_BUCKET":
			mapString(v, &cfg.InfluxBucket)
		case "INFLUX_TIMEOUT_MS":
			mapInt(key, v, &cfg.InfluxTimeoutMS, problems)
		case "DISCORD_WEBHOOK_URL":
			mapString(v, &cfg.DiscordWebhookURL)
		case "WEBHOOK_TIMEOUT_MS":
			mapInt(key, v, &cfg.WebhookTimeoutMS, problems)
		case "WEBHOOK_RETRY_MAX":
			mapInt(key, v, &cfg.WebhookRetryMax, problems)
		case "INGEST_ROUTING_PATH":
			mapString(v, &cfg.IngestRoutingPath)
		case "NOTIFIER_GROUP_ID":
			mapString(v, &cfg.NotifierGroupID)
		case "NOTIFIER_TOPICS":
			switch t := v.(type) {
			case string:
				cfg.NotifierTopics = parseCSV(t)
			case []any:
				cfg.NotifierTopics = parseAnyCSV(t)
			}
		case "OTEL_ENABLED":
			mapBool(key, v, &cfg.OtelEnabled, problems)
		case "OTEL_EXPORTER_OTLP_ENDPOINT":
			mapString(v, &cfg.OtelEndpoint)
		case "OTEL_INSECURE":
			mapBool(key, v, &cfg.OtelInsecure, problems)
		case "OTEL_SAMPLE_RATIO":
			if f, ok := asFloat(v); ok {
				cfg.OtelSampleRatio = f
			} else {
				*problems = append(*problems, Problem{Field: key, Message: "OTEL_SAMPLE_RATIO must be a number"})
			}
		}
	}
}

func mapString(v any, dst *string) {
	if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
		*dst = strings.TrimSpace(s)
	}
}

func mapInt(field string, v any, dst *int, problems *[]Problem) {
	n, ok := asInt(v)
	if !ok {
		*problems = append(*problems, Problem{Field: field, Message: field + " must be an integer"})
		return
	}
	*dst = n
}

func mapBool(field string, v any, dst *bool, problems *[]Problem) {
	switch t := v.(type) {
	case bool:
		*dst = t
	case string:
		if b, ok := asBool(t); ok {
			*dst = b
		} else {
			*problems = append(*problems, Problem{Field: field, Message: field + " must be a boolean"})
		}
	default:
		*problems = append(*problems, Problem{Field: field, Message: field + " must be a boolean"})
	}
}

func readStringKey(raw map[string]any, key string) (string, bool) {
	for k, v := range raw {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t != float64(int(t)) {
			return 0, false
		}
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func asBool(v string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func parseCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAnyCSV(raw []any) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
