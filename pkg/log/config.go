package log

import (
	"bufio"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
)

// Config declares a logger.
type Config struct {
	Level  string   `json:"level" yaml:"level"`
	Format string   `json:"format" yaml:"format"`
	Output string   `json:"output,omitempty" yaml:"output,omitempty"` // stderr|stdout|null
	Redact []string `json:"redact,omitempty" yaml:"redact,omitempty"`
	Caller bool     `json:"caller,omitempty" yaml:"caller,omitempty"`
}

// ApplyConfig builds a Logger from cfg.
func ApplyConfig(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var formatter Formatter
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		formatter = &TextFormatter{WithCaller: cfg.Caller}
	case "json":
		formatter = &JSONFormatter{WithCaller: cfg.Caller}
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var out Output
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		out = NewConsoleOutput()
	case "stdout":
		out = NewWriterOutput(os.Stdout)
	case "null":
		out = NullOutput{}
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	return NewLogger(
		WithLevel(level),
		WithFormatter(formatter),
		WithOutput(out),
		WithRedactedKeys(cfg.Redact...),
	), nil
}

// RedirectStdLog routes the standard library logger (used by Pebble and
// the Redis client) into logger at info level.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdWriter{logger: logger.WithComponent("stdlog")})
}

type stdWriter struct {
	logger Logger
}

func (w *stdWriter) Write(p []byte) (int, error) {
	sc := bufio.NewScanner(strings.NewReader(string(p)))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			w.logger.Info(line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*stdWriter)(nil)
