// Package policy evaluates organization-defined CEL alert policies
// against contract analysis results.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/conrisk/internal/domain"
)

// Engine holds compiled policies per tenant.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	tenants    map[string]map[string]*CompiledPolicy
	maxWorkers int
}

// CompiledPolicy holds a pre-compiled CEL program.
type CompiledPolicy struct {
	Policy  *domain.AlertPolicy
	Program cel.Program
}

// NewEngine creates a policy engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("max_level", cel.StringType),
		cel.Variable("scores", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("levels", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("factors", cel.ListType(cel.StringType)),
		cel.Variable("finding_count", cel.IntType),
		cel.Variable("key_date_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		tenants:    make(map[string]map[string]*CompiledPolicy),
		maxWorkers: maxWorkers,
	}, nil
}

// Validate compiles a policy without loading it.
func (e *Engine) Validate(p *domain.AlertPolicy) error {
	if p == nil {
		return fmt.Errorf("policy is required")
	}
	_, err := e.compile(p)
	return err
}

// Load compiles and adds one policy for a tenant. Disabled policies are removed.
func (e *Engine) Load(tenantID string, p *domain.AlertPolicy) error {
	if !p.Enabled {
		e.Remove(tenantID, p.ID)
		return nil
	}

	compiled, err := e.compile(p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tenants[tenantID] == nil {
		e.tenants[tenantID] = make(map[string]*CompiledPolicy)
	}
	e.tenants[tenantID][p.ID] = compiled
	return nil
}

// Remove drops a loaded policy.
func (e *Engine) Remove(tenantID, policyID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.tenants[tenantID], policyID)
}

// Reload replaces every policy of a tenant. Nothing changes if any policy fails to compile.
func (e *Engine) Reload(tenantID string, policies []*domain.AlertPolicy) error {
	next := make(map[string]*CompiledPolicy)
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		compiled, err := e.compile(p)
		if err != nil {
			return err
		}
		next[p.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants[tenantID] = next
	return nil
}

// Sync brings a tenant's loaded policies in line with policies, reusing
// programs whose expression is unchanged. Policies that fail to compile are
// left out and reported; the rest are loaded.
func (e *Engine) Sync(tenantID string, policies []*domain.AlertPolicy) error {
	e.mu.RLock()
	current := e.tenants[tenantID]
	e.mu.RUnlock()

	next := make(map[string]*CompiledPolicy)
	var errs []error
	for _, p := range policies {
		if !p.Enabled {
			continue
		}
		if cp, ok := current[p.ID]; ok && cp.Policy.Expression == p.Expression {
			next[p.ID] = &CompiledPolicy{Policy: p, Program: cp.Program}
			continue
		}
		compiled, err := e.compile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		next[p.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.tenants[tenantID] = next
	return errors.Join(errs...)
}

// Count returns the number of policies loaded for a tenant.
func (e *Engine) Count(tenantID string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.tenants[tenantID])
}

// Evaluate runs every policy of the tenant in parallel. Results are ordered by policy id.
func (e *Engine) Evaluate(ctx context.Context, tenantID string, result *domain.AnalysisResult) []domain.PolicyResult {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.tenants[tenantID]))
	for _, p := range e.tenants[tenantID] {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	if len(policies) == 0 || result == nil {
		return nil
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Policy.ID < policies[j].Policy.ID
	})

	activation := Activation(result)

	results := make([]domain.PolicyResult, len(policies))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.maxWorkers)

	for i, p := range policies {
		wg.Add(1)
		go func(idx int, cp *CompiledPolicy) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluate(ctx, cp, activation)
		}(i, p)
	}

	wg.Wait()
	return results
}

// Activation builds the CEL variables for an analysis result.
func Activation(result *domain.AnalysisResult) map[string]any {
	scores := make(map[string]float64, len(result.Risks))
	levels := make(map[string]string, len(result.Risks))
	factors := make([]string, 0)
	maxLevel := domain.RiskLow

	for _, r := range result.Risks {
		scores[string(r.Category)] = r.Score
		levels[string(r.Category)] = string(r.Level)
		factors = append(factors, r.Factors...)
		if r.Level.Rank() > maxLevel.Rank() {
			maxLevel = r.Level
		}
	}

	return map[string]any{
		"max_level":      string(maxLevel),
		"scores":         scores,
		"levels":         levels,
		"factors":        factors,
		"finding_count":  int64(len(result.Risks)),
		"key_date_count": int64(len(result.KeyDates)),
	}
}

func evaluate(ctx context.Context, cp *CompiledPolicy, activation map[string]any) domain.PolicyResult {
	start := time.Now()

	res := domain.PolicyResult{
		PolicyID: cp.Policy.ID,
		Name:     cp.Policy.Name,
		Severity: cp.Policy.Severity,
	}

	out, _, err := cp.Program.ContextEval(ctx, activation)
	if err != nil {
		res.Reason = fmt.Sprintf("evaluation error: %v", err)
		res.ProcessMs = time.Since(start).Milliseconds()
		return res
	}

	if b, ok := out.(types.Bool); ok && bool(b) {
		res.Triggered = true
		res.Reason = cp.Policy.Description
		if res.Reason == "" {
			res.Reason = cp.Policy.Name
		}
	}
	res.ProcessMs = time.Since(start).Milliseconds()
	return res
}

func (e *Engine) compile(p *domain.AlertPolicy) (*CompiledPolicy, error) {
	ast, issues := e.env.Compile(p.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile policy %s: %w", p.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("policy %s: expression must return bool, got %s", p.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", p.ID, err)
	}

	return &CompiledPolicy{Policy: p, Program: program}, nil
}
