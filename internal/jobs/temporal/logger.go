package temporal

import (
	"fmt"

	sdklog "go.temporal.io/sdk/log"

	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// sdkLogger routes Temporal SDK logs into pkg/log.
type sdkLogger struct {
	l logpkg.Logger
}

var _ sdklog.Logger = sdkLogger{}

func newSDKLogger(l logpkg.Logger) sdkLogger {
	if l == nil {
		l = logpkg.NewNop()
	}
	return sdkLogger{l: l.WithComponent("temporal-sdk")}
}

func fields(keyvals []interface{}) []logpkg.Field {
	out := make([]logpkg.Field, 0, len(keyvals)/2+1)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if i+1 >= len(keyvals) {
			out = append(out, logpkg.F("extra", key))
			break
		}
		if err, ok := keyvals[i+1].(error); ok {
			out = append(out, logpkg.F(key, err.Error()))
			continue
		}
		out = append(out, logpkg.F(key, keyvals[i+1]))
	}
	return out
}

func (s sdkLogger) Debug(msg string, keyvals ...interface{}) { s.l.Debug(msg, fields(keyvals)...) }
func (s sdkLogger) Info(msg string, keyvals ...interface{})  { s.l.Info(msg, fields(keyvals)...) }
func (s sdkLogger) Warn(msg string, keyvals ...interface{})  { s.l.Warn(msg, fields(keyvals)...) }
func (s sdkLogger) Error(msg string, keyvals ...interface{}) { s.l.Error(msg, fields(keyvals)...) }
