package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration loaded from file/env.
type Config struct {
	HTTPAddr       string         `json:"http" yaml:"http"`
	GRPCAddr       string         `json:"grpc" yaml:"grpc"`
	DataDir        string         `json:"dataDir" yaml:"dataDir"`
	Log            LogConfig      `json:"log" yaml:"log"`
	EventLog       EventLogConfig `json:"eventLog" yaml:"eventLog"`
	Engine         EngineConfig   `json:"engine" yaml:"engine"`
	Relay          RelayConfig    `json:"relay" yaml:"relay"`
	Upload         UploadConfig   `json:"upload" yaml:"upload"`
	FanInTopics    []string       `json:"fanInTopics" yaml:"fanInTopics"`
	AllowedOrigins []string       `json:"allowedOrigins" yaml:"allowedOrigins"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// EventLogConfig selects and tunes the event log backend.
type EventLogConfig struct {
	// Backend is "pebble" (embedded) or "redis".
	Backend         string      `json:"backend" yaml:"backend"`
	Fsync           string      `json:"fsync" yaml:"fsync"`
	FsyncIntervalMs int         `json:"fsyncIntervalMs" yaml:"fsyncIntervalMs"`
	MaxLen          int         `json:"maxLen" yaml:"maxLen"`
	Redis           RedisConfig `json:"redis" yaml:"redis"`
}

// RedisConfig addresses a Redis server holding the event streams.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	TLS       bool   `json:"tls" yaml:"tls"`
	KeyPrefix string `json:"keyPrefix" yaml:"keyPrefix"`
}

// EngineConfig addresses the workflow engine.
type EngineConfig struct {
	// Backend is "temporal" or "none".
	Backend      string `json:"backend" yaml:"backend"`
	HostPort     string `json:"hostPort" yaml:"hostPort"`
	Namespace    string `json:"namespace" yaml:"namespace"`
	APIKey       string `json:"apiKey" yaml:"apiKey"`
	TLS          bool   `json:"tls" yaml:"tls"`
	TaskQueue    string `json:"taskQueue" yaml:"taskQueue"`
	WorkflowType string `json:"workflowType" yaml:"workflowType"`
	QueryName    string `json:"queryName" yaml:"queryName"`
	CancelSignal string `json:"cancelSignal" yaml:"cancelSignal"`
}

// RelayConfig tunes stream sessions.
type RelayConfig struct {
	BlockMs             int `json:"blockMs" yaml:"blockMs"`
	ReadCount           int `json:"readCount" yaml:"readCount"`
	PollIntervalMs      int `json:"pollIntervalMs" yaml:"pollIntervalMs"`
	HeartbeatEvery      int `json:"heartbeatEvery" yaml:"heartbeatEvery"`
	MaxPolls            int `json:"maxPolls" yaml:"maxPolls"`
	QueryWarnAfter      int `json:"queryWarnAfter" yaml:"queryWarnAfter"`
	QueryLogEvery       int `json:"queryLogEvery" yaml:"queryLogEvery"`
	MaxResultFieldBytes int `json:"maxResultFieldBytes" yaml:"maxResultFieldBytes"`
	MaxResultBytes      int `json:"maxResultBytes" yaml:"maxResultBytes"`
	WriteTimeoutMs      int `json:"writeTimeoutMs" yaml:"writeTimeoutMs"`
}

// UploadConfig configures the object store used for uploads.
type UploadConfig struct {
	Bucket              string   `json:"bucket" yaml:"bucket"`
	Region              string   `json:"region" yaml:"region"`
	Endpoint            string   `json:"endpoint" yaml:"endpoint"`
	MaxFileBytes        int64    `json:"maxFileBytes" yaml:"maxFileBytes"`
	AllowedContentTypes []string `json:"allowedContentTypes" yaml:"allowedContentTypes"`
	PresignTTLSeconds   int      `json:"presignTTLSeconds" yaml:"presignTTLSeconds"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		GRPCAddr: ":50051",
		Log:      LogConfig{Level: "info", Format: "text"},
		EventLog: EventLogConfig{
			Backend:         "pebble",
			Fsync:           "interval",
			FsyncIntervalMs: 5,
			MaxLen:          1000,
			Redis:           RedisConfig{Addr: "127.0.0.1:6379"},
		},
		Engine: EngineConfig{
			Backend:      "none",
			HostPort:     "127.0.0.1:7233",
			Namespace:    "default",
			TaskQueue:    "pip-ai-task-queue",
			WorkflowType: "analyzeDocumentWorkflow",
			QueryName:    "getAnalysisStatus",
			CancelSignal: "cancelAnalysis",
		},
		Relay: RelayConfig{
			BlockMs:             1000,
			ReadCount:           10,
			PollIntervalMs:      100,
			HeartbeatEvery:      30,
			MaxPolls:            3000,
			QueryWarnAfter:      30,
			QueryLogEvery:       10,
			MaxResultFieldBytes: 4 << 10,
			MaxResultBytes:      64 << 10,
			WriteTimeoutMs:      10_000,
		},
		Upload: UploadConfig{
			Region:       "us-east-1",
			MaxFileBytes: 100 << 20,
			AllowedContentTypes: []string{
				"application/pdf",
				"application/msword",
				"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
				"text/plain",
				"text/markdown",
				"text/csv",
				"application/json",
				"image/png",
				"image/jpeg",
			},
			PresignTTLSeconds: 3600,
		},
		FanInTopics: []string{
			"relay:workflow:progress",
			"relay:analysis:progress",
			"relay:ai:progress",
			"relay:notifications",
		},
		AllowedOrigins: []string{"*"},
	}
}

// Load reads configuration from a JSON or YAML file (by extension). If path is empty, returns defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Trace(err)
	}
	cfg := Default()
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parse %s", path)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return Config{}, errors.Annotatef(err, "parse %s", path)
		}
	}
	return cfg, nil
}

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	switch c.EventLog.Backend {
	case "pebble", "redis":
	default:
		return errors.NotValidf("event log backend %q", c.EventLog.Backend)
	}
	switch c.Engine.Backend {
	case "temporal", "none", "":
	default:
		return errors.NotValidf("engine backend %q", c.Engine.Backend)
	}
	if c.Relay.MaxPolls <= 0 {
		return errors.NotValidf("relay.maxPolls %d", c.Relay.MaxPolls)
	}
	if c.Relay.PollIntervalMs <= 0 || c.Relay.BlockMs < 0 {
		return errors.NotValidf("relay intervals")
	}
	return nil
}

// Millis converts a millisecond setting into a Duration.
func Millis(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }
