package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"docloader/internal/domain"
	"docloader/internal/metrics"
)

// ── Method Runner ──────────────────────────────────────────
// Compute rules are resolved against a function table once, at
// construction. Apply runs category rules, then attribute rules,
// then datablock rules, each scope in ascending priority.

// MethodFunc is a compute rule. Category-scope rules receive the category
// name, attribute-scope rules also the attribute name, datablock-scope
// rules the block name as category.
type MethodFunc func(ctx context.Context, c *domain.Container, category, attribute string) (bool, error)

// MethodTable maps implementation names to compute rules.
type MethodTable map[string]MethodFunc

type boundMethod struct {
	reg  domain.MethodRegistration
	name string
	fn   MethodFunc
}

var scopeOrder = []domain.MethodScope{domain.ScopeCategory, domain.ScopeAttribute, domain.ScopeDataBlock}

// MethodRunner applies compute rules to containers. It holds no per-call
// state and is shared by all workers.
type MethodRunner struct {
	scopes map[domain.MethodScope][]boundMethod
	logger *zap.Logger
}

// NewMethodRunner binds registrations carrying the compute marker to table
// entries. An unresolvable implementation name is a ConfigurationError.
func NewMethodRunner(regs []domain.MethodRegistration, table MethodTable, logger *zap.Logger) (*MethodRunner, error) {
	r := &MethodRunner{scopes: map[domain.MethodScope][]boundMethod{}, logger: logger.Named("methods")}
	for _, reg := range regs {
		if !strings.EqualFold(reg.Code, domain.ComputeMarker) {
			continue
		}
		name := ImplementationName(reg.Implementation)
		fn, ok := table[name]
		if !ok {
			return nil, domain.ConfigErrorf("method "+reg.ID, "unknown implementation %q", reg.Implementation)
		}
		switch reg.Scope {
		case domain.ScopeCategory, domain.ScopeAttribute, domain.ScopeDataBlock:
		default:
			return nil, domain.ConfigErrorf("method "+reg.ID, "unknown scope %q", reg.Scope)
		}
		r.scopes[reg.Scope] = append(r.scopes[reg.Scope], boundMethod{reg: reg, name: name, fn: fn})
	}
	for _, ms := range r.scopes {
		sort.SliceStable(ms, func(i, j int) bool { return ms[i].reg.Priority < ms[j].reg.Priority })
	}
	return r, nil
}

// ImplementationName strips the helper prefix from "Helper.method".
func ImplementationName(ref string) string {
	if i := strings.Index(ref, "."); i >= 0 {
		return ref[i+1:]
	}
	return ref
}

// Len returns the number of bound rules in a scope.
func (r *MethodRunner) Len(scope domain.MethodScope) int {
	return len(r.scopes[scope])
}

// Apply runs every bound rule against c. Failing or panicking rules are
// logged and skipped; Apply always reports success.
func (r *MethodRunner) Apply(ctx context.Context, c *domain.Container) bool {
	for _, scope := range scopeOrder {
		for _, m := range r.scopes[scope] {
			if ctx.Err() != nil {
				r.logger.Warn("apply interrupted", zap.String("container", c.Name), zap.Error(ctx.Err()))
				return true
			}
			if err := r.invoke(ctx, c, m); err != nil {
				metrics.CounterRuleFailures.WithLabelValues(m.name).Inc()
				r.logger.Warn("rule failed",
					zap.String("container", c.Name),
					zap.String("method", m.reg.ID),
					zap.Error(err),
				)
			}
		}
	}
	return true
}

func (r *MethodRunner) invoke(ctx context.Context, c *domain.Container, m boundMethod) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &domain.RuleError{Method: m.reg.ID, Scope: m.reg.Scope, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	var attr string
	if m.reg.Scope == domain.ScopeAttribute {
		attr = m.reg.Attribute
	}
	ok, callErr := m.fn(ctx, c, m.reg.Category, attr)
	if callErr != nil {
		return &domain.RuleError{Method: m.reg.ID, Scope: m.reg.Scope, Err: callErr}
	}
	if !ok {
		r.logger.Debug("rule reported no change", zap.String("container", c.Name), zap.String("method", m.reg.ID))
	}
	return nil
}
