package relay

import (
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
)

// MaxFilterBytes bounds client supplied filter expressions.
const MaxFilterBytes = 2 << 10

// ownershipExpr keeps events that belong to params.user_id.
const ownershipExpr = `(has(payload.user_id) && string(payload.user_id) == params.user_id) ||
(has(payload.workflow_id) && string(payload.workflow_id).startsWith(params.owner_prefix)) ||
(has(payload.file_id) && string(payload.file_id).startsWith(params.owner_prefix))`

// Filter is a conjunction of compiled CEL predicates over events. A nil or
// empty Filter matches everything.
type Filter struct {
	progs  []cel.Program
	params map[string]string
	exprs  []string
}

func celEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("event_type", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		// Parsed JSON payload for field filtering
		cel.Variable("payload", cel.DynType),
		cel.Variable("params", cel.MapType(cel.StringType, cel.StringType)),
	)
}

// NewFilter compiles expr. params are exposed to the expression as params.
func NewFilter(expr string, params map[string]string) (*Filter, error) {
	if params == nil {
		params = map[string]string{}
	}
	f := &Filter{params: params}
	if err := f.and(expr); err != nil {
		return nil, err
	}
	return f, nil
}

// and compiles expr on its own and adds it to the conjunction.
func (f *Filter) and(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	prog, err := compile(expr)
	if err != nil {
		return err
	}
	f.progs = append(f.progs, prog)
	f.exprs = append(f.exprs, expr)
	return nil
}

func compile(expr string) (cel.Program, error) {
	env, err := celEnv()
	if err != nil {
		return nil, errors.Trace(err)
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, errors.NewNotValid(iss.Err(), "filter")
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, errors.NewNotValid(iss2.Err(), "filter")
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return prog, nil
}

// OwnershipFilter keeps the events of userID: payload user_id equal to it, or
// workflow_id / file_id prefixed "user:{id}:". A non-empty clientExpr is
// compiled separately and must hold as well.
func OwnershipFilter(userID, clientExpr string) (*Filter, error) {
	clientExpr = strings.TrimSpace(clientExpr)
	if len(clientExpr) > MaxFilterBytes {
		return nil, errors.NotValidf("filter of %d bytes", len(clientExpr))
	}
	f, err := NewFilter(ownershipExpr, map[string]string{
		"user_id":      userID,
		"owner_prefix": "user:" + userID + ":",
	})
	if err != nil {
		return nil, err
	}
	if err := f.and(clientExpr); err != nil {
		return nil, err
	}
	return f, nil
}

// Enabled reports whether the filter rejects anything at all.
func (f *Filter) Enabled() bool { return f != nil && len(f.progs) > 0 }

// String renders the conjunction for logs.
func (f *Filter) String() string {
	if f == nil || len(f.exprs) == 0 {
		return ""
	}
	if len(f.exprs) == 1 {
		return f.exprs[0]
	}
	return "(" + strings.Join(f.exprs, ") && (") + ")"
}

// Match evaluates the filter against ev. Evaluation errors reject the event.
func (f *Filter) Match(ev eventlog.Event) bool {
	if !f.Enabled() {
		return true
	}
	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	vars := map[string]any{
		"subject":    ev.SubjectKey,
		"event_type": string(ev.Type),
		"ts_ms":      ev.Timestamp.UnixMilli(),
		"payload":    payload,
		"params":     f.params,
	}
	for _, prog := range f.progs {
		out, _, err := prog.Eval(vars)
		if err != nil {
			return false
		}
		if b, ok := out.Value().(bool); !ok || !b {
			return false
		}
	}
	return true
}
