// Package lifecycle implements the decisions behind each installed git
// hook.
//
// Every entry point gathers its inputs, consults repository state
// through pkg/vcs and returns an Outcome: allow, block with a reason, or
// report an internal failure. The command layer maps outcomes to process
// exit codes. Handlers never call os.Exit and never let a panic cross
// the hook boundary.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/cadops/cadet/pkg/locker"
	"github.com/cadops/cadet/pkg/model"
	"github.com/cadops/cadet/pkg/transform"
	"github.com/cadops/cadet/pkg/vcs"
	opentracing "github.com/opentracing/opentracing-go"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Outcome codes, mapped one to one onto process exit codes
const (
	CodeAllow    = 0
	CodeBlocked  = 1
	CodeInternal = 2
)

// Outcome is the decision of one hook event
type Outcome struct {
	Code   int
	Reason string
}

// Allowed reports whether the event may proceed
func (o Outcome) Allowed() bool {
	return o.Code == CodeAllow
}

func allow() Outcome {
	return Outcome{Code: CodeAllow}
}

func blocked(format string, args ...interface{}) Outcome {
	return Outcome{Code: CodeBlocked, Reason: fmt.Sprintf(format, args...)}
}

func internal(err error) Outcome {
	return Outcome{Code: CodeInternal, Reason: err.Error()}
}

// Hooks dispatches the repository event handlers
type Hooks struct {
	fs     afero.Fs
	git    *vcs.Git
	cfg    model.Config
	l      *zap.Logger
	tracer opentracing.Tracer
	actor  string

	tr    *transform.Transformer
	locks *locker.Coordinator
}

// Option is a functor to build the hook dispatcher with some options
type Option func(*Hooks)

// Logger injects a logging facility into hook handling
func Logger(l *zap.Logger) Option {
	return func(h *Hooks) {
		if l != nil {
			h.l = l
		}
	}
}

// Tracer injects a tracing facility, noop by default
func Tracer(t opentracing.Tracer) Option {
	return func(h *Hooks) {
		if t != nil {
			h.tracer = t
		}
	}
}

// Actor pins the acting identity instead of resolving it from git
// configuration.
func Actor(name string) Option {
	return func(h *Hooks) {
		h.actor = name
	}
}

// New yields a hook dispatcher over the given repository
func New(fs afero.Fs, git *vcs.Git, cfg model.Config, opts ...Option) *Hooks {
	h := &Hooks{
		fs:     fs,
		git:    git,
		cfg:    cfg,
		l:      zap.NewNop(),
		tracer: opentracing.NoopTracer{},
	}
	for _, apply := range opts {
		apply(h)
	}
	h.tr = transform.New(fs, cfg, transform.Logger(h.l))
	h.locks = locker.New(fs, git, cfg, locker.Logger(h.l))
	return h
}

// run brackets one event with an operation id, a tracing span and a
// panic trap.
func (h *Hooks) run(ctx context.Context, event model.EventKind, fn func(context.Context, *zap.Logger) Outcome) (out Outcome) {
	l := h.l.With(
		zap.String("event", string(event)),
		zap.String("operation", ksuid.New().String()))
	defer func() {
		if r := recover(); r != nil {
			l.Error("trapped panic at the hook boundary", zap.Any("recovered", r))
			out = Outcome{Code: CodeInternal, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()
	span, sctx := opentracing.StartSpanFromContextWithTracer(ctx, h.tracer, string(event))
	defer span.Finish()

	out = fn(sctx, l)
	switch out.Code {
	case CodeAllow:
		l.Debug("event allowed")
	case CodeBlocked:
		l.Info("event blocked", zap.String("reason", out.Reason))
	default:
		l.Error("event failed", zap.String("reason", out.Reason))
	}
	return out
}

// resolveActor returns the pinned or git-derived acting identity
func (h *Hooks) resolveActor(ctx context.Context) (string, error) {
	if h.actor != "" {
		return h.actor, nil
	}
	return h.git.UserName(ctx)
}
