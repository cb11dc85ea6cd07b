// Package tools holds the fixed set of operations the query agent may invoke.
// Every tool takes the caller's tenant as an explicit argument and enforces
// tenant isolation itself; nothing here trusts identity claims found in
// model-supplied arguments.
package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/finance-advisor/internal/logger"
	"github.com/dvloznov/finance-advisor/internal/tenant"
	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// NoResults is returned by tools that found nothing to report.
const NoResults = "No results found."

// identityArgs are stripped from model-supplied arguments before dispatch.
var identityArgs = []string{"user_id", "userId", "tenant_id", "tenant", "owner"}

// Spec describes a tool to the decision model. Parameters is a JSON schema object.
type Spec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Args are the decoded arguments of one tool call.
type Args map[string]any

// String returns a trimmed string argument.
func (a Args) String(key string) (string, bool) {
	v, ok := a[key].(string)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

// Int returns an integer argument or def when absent or malformed.
// JSON numbers arrive as float64; numeric strings are accepted too.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Tool is one named operation. Invoke returns model-facing text.
type Tool interface {
	Spec() Spec
	Invoke(ctx context.Context, owner tenant.ID, args Args) (string, error)
}

// Registry maps tool names to implementations and dispatches calls with a
// per-call timeout.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	timeout time.Duration
}

// NewRegistry creates a registry. A zero timeout disables the per-call deadline.
func NewRegistry(timeout time.Duration, tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool), timeout: timeout}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(t Tool) error {
	name := t.Spec().Name
	if name == "" {
		return finerr.New(finerr.CodeToolArgumentsInvalid, "tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return finerr.New(finerr.CodeToolArgumentsInvalid, "tool already registered", finerr.FieldTool(name))
	}
	r.tools[name] = t
	r.order = append(r.order, name)
	return nil
}

// Specs returns tool specs in registration order.
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]Spec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// Invoke runs the named tool for owner. Identity arguments supplied by the
// caller are dropped; owner is the only tenant the tool ever sees.
func (r *Registry) Invoke(ctx context.Context, owner tenant.ID, name string, args Args) (string, error) {
	if err := owner.Validate(); err != nil {
		return "", err
	}

	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", finerr.New(finerr.CodeToolNotFound, fmt.Sprintf("unknown tool %q", name), finerr.FieldTool(name))
	}

	clean := make(Args, len(args))
	for k, v := range args {
		clean[k] = v
	}
	for _, k := range identityArgs {
		delete(clean, k)
	}

	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	log := logger.FromContext(ctx)
	start := time.Now()
	out, err := t.Invoke(callCtx, owner, clean)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !finerr.IsTimeout(err) {
			err = finerr.Wrap(err, finerr.CodeToolTimeout, "tool call timed out", finerr.FieldTool(name))
		}
		log.Warn().Err(err).Str("tool", name).Dur("elapsed", time.Since(start)).Msg("tool call failed")
		return "", err
	}

	log.Debug().Str("tool", name).Dur("elapsed", time.Since(start)).Int("result_bytes", len(out)).Msg("tool call finished")
	return out, nil
}
