package config

import (
	"os"
	"strconv"
	"strings"
)

// FromEnv overlays RELAY_* environment variables onto cfg.
func FromEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	list := func(key string, dst *[]string) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		*dst = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				*dst = append(*dst, p)
			}
		}
	}

	str("RELAY_HTTP", &cfg.HTTPAddr)
	str("RELAY_GRPC", &cfg.GRPCAddr)
	str("RELAY_DATA_DIR", &cfg.DataDir)
	str("RELAY_LOG_LEVEL", &cfg.Log.Level)
	str("RELAY_LOG_FORMAT", &cfg.Log.Format)

	str("RELAY_EVENT_LOG", &cfg.EventLog.Backend)
	str("RELAY_FSYNC", &cfg.EventLog.Fsync)
	num("RELAY_FSYNC_INTERVAL_MS", &cfg.EventLog.FsyncIntervalMs)
	num("RELAY_EVENT_LOG_MAXLEN", &cfg.EventLog.MaxLen)
	str("RELAY_REDIS_ADDR", &cfg.EventLog.Redis.Addr)
	str("RELAY_REDIS_PASSWORD", &cfg.EventLog.Redis.Password)
	num("RELAY_REDIS_DB", &cfg.EventLog.Redis.DB)
	flag("RELAY_REDIS_TLS", &cfg.EventLog.Redis.TLS)
	str("RELAY_REDIS_KEY_PREFIX", &cfg.EventLog.Redis.KeyPrefix)

	str("RELAY_ENGINE", &cfg.Engine.Backend)
	str("RELAY_TEMPORAL_HOST", &cfg.Engine.HostPort)
	str("RELAY_TEMPORAL_NAMESPACE", &cfg.Engine.Namespace)
	str("RELAY_TEMPORAL_API_KEY", &cfg.Engine.APIKey)
	flag("RELAY_TEMPORAL_TLS", &cfg.Engine.TLS)
	str("RELAY_TEMPORAL_TASK_QUEUE", &cfg.Engine.TaskQueue)
	str("RELAY_TEMPORAL_WORKFLOW_TYPE", &cfg.Engine.WorkflowType)

	num("RELAY_BLOCK_MS", &cfg.Relay.BlockMs)
	num("RELAY_READ_COUNT", &cfg.Relay.ReadCount)
	num("RELAY_POLL_INTERVAL_MS", &cfg.Relay.PollIntervalMs)
	num("RELAY_HEARTBEAT_EVERY", &cfg.Relay.HeartbeatEvery)
	num("RELAY_MAX_POLLS", &cfg.Relay.MaxPolls)
	num("RELAY_MAX_RESULT_FIELD_BYTES", &cfg.Relay.MaxResultFieldBytes)
	num("RELAY_MAX_RESULT_BYTES", &cfg.Relay.MaxResultBytes)
	num("RELAY_WRITE_TIMEOUT_MS", &cfg.Relay.WriteTimeoutMs)

	str("RELAY_S3_BUCKET", &cfg.Upload.Bucket)
	str("RELAY_S3_REGION", &cfg.Upload.Region)
	str("RELAY_S3_ENDPOINT", &cfg.Upload.Endpoint)
	if v := os.Getenv("RELAY_MAX_FILE_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Upload.MaxFileBytes = n
		}
	}
	list("RELAY_ALLOWED_CONTENT_TYPES", &cfg.Upload.AllowedContentTypes)
	list("RELAY_FAN_IN_TOPICS", &cfg.FanInTopics)
	list("RELAY_ALLOWED_ORIGINS", &cfg.AllowedOrigins)
}
