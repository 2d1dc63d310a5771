package publisher

import (
	"context"
	"math"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// Outcome is the result of a finished job.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Options configure a Publisher.
type Options struct {
	// DisableMirror stops copying events to fan-in topics.
	DisableMirror bool
	Clock         clock.Clock
	Logger        logpkg.Logger
}

// Publisher appends schema-conformant events to the log.
type Publisher struct {
	log    eventlog.Log
	mirror bool
	clock  clock.Clock
	logger logpkg.Logger
}

// New returns a Publisher writing to l.
func New(l eventlog.Log, opts Options) *Publisher {
	if opts.Clock == nil {
		opts.Clock = clock.WallClock
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNop()
	}
	return &Publisher{
		log:    l,
		mirror: !opts.DisableMirror,
		clock:  opts.Clock,
		logger: opts.Logger.WithComponent("publisher"),
	}
}

// PublishProgress appends a progress event. progress must be within 0..100.
func (p *Publisher) PublishProgress(ctx context.Context, subject, step string, progress float64, message string, extra map[string]any) (eventlog.Cursor, error) {
	if math.IsNaN(progress) || progress < 0 || progress > 100 {
		return "", errors.NotValidf("progress %v", progress)
	}
	if step == "" {
		return "", errors.NotValidf("empty step")
	}
	payload := merge(extra, map[string]any{
		"step":     step,
		"progress": progress,
	})
	if message != "" {
		payload["message"] = message
	}
	return p.publish(ctx, subject, eventlog.KindProgress, payload)
}

// PublishTerminal appends the completed or failed event of subject.
func (p *Publisher) PublishTerminal(ctx context.Context, subject string, outcome Outcome, result map[string]any, errMsg string) (eventlog.Cursor, error) {
	switch outcome {
	case Success:
		payload := map[string]any{"step": "completed", "progress": float64(100)}
		if result != nil {
			payload["result"] = result
		}
		return p.publish(ctx, subject, eventlog.KindCompleted, payload)
	case Failure:
		if errMsg == "" {
			errMsg = "analysis failed"
		}
		return p.publish(ctx, subject, eventlog.KindFailed, map[string]any{"step": "failed", "error": errMsg})
	default:
		return "", errors.NotValidf("outcome %q", outcome)
	}
}

// PublishNotification appends a user notification to the notifications topic.
func (p *Publisher) PublishNotification(ctx context.Context, userID, title, message string, extra map[string]any) (eventlog.Cursor, error) {
	if userID == "" {
		return "", errors.NotValidf("empty user id")
	}
	payload := merge(extra, map[string]any{
		"user_id": userID,
		"title":   title,
		"message": message,
	})
	return p.publish(ctx, TopicNotifications, eventlog.KindNotification, payload)
}

func (p *Publisher) publish(ctx context.Context, subject string, kind eventlog.Kind, payload map[string]any) (eventlog.Cursor, error) {
	if subject == "" {
		return "", errors.NotValidf("empty subject key")
	}
	if k, v := owner(subject); k != "" {
		if _, ok := payload[k]; !ok {
			payload[k] = v
		}
	}
	now := p.clock.Now()
	payload["timestamp"] = now.UTC().Format(time.RFC3339Nano)
	ev := eventlog.Event{Timestamp: now, Type: kind, Payload: payload}

	cur, err := p.log.Append(ctx, subject, ev)
	if err != nil {
		return "", errors.Annotatef(err, "publish %s to %s", kind, subject)
	}
	p.logger.Debug("publisher.appended",
		logpkg.Str("subject", subject),
		logpkg.Str("type", string(kind)),
		logpkg.Str("cursor", string(cur)))

	if topic := TopicFor(subject); p.mirror && topic != subject {
		mirrored := merge(payload, map[string]any{"source_subject": subject, "source_id": string(cur)})
		if _, err := p.log.Append(ctx, topic, eventlog.Event{Timestamp: now, Type: kind, Payload: mirrored}); err != nil {
			p.logger.Warn("publisher.mirror_failed",
				logpkg.Str("subject", subject),
				logpkg.Str("topic", topic),
				logpkg.Err(err))
		}
	}
	return cur, nil
}

// merge copies base and then over, so keys of over win.
func merge(base, over map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(over))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}
