package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	RiskClass   RiskClass       `json:"risk_class"`
}

// InvokeHook observes every invocation, including rejected ones.
type InvokeHook func(tool, status string, latency time.Duration)

// ToolRegistry is a registry for tools with policies.
type ToolRegistry struct {
	mu       sync.Mutex
	tools    map[string]registeredTool
	limiters map[string]*rate.Limiter
	budgets  map[string]*budget

	now   func() time.Time
	hooks []InvokeHook
}

type registeredTool struct {
	tool      Tool
	policy    ToolPolicy
	riskClass RiskClass
}

type budget struct {
	day   string
	spent float64
}

// RegistryOption configures the registry.
type RegistryOption func(*ToolRegistry)

// WithRegistryClock sets the clock used for daily budgets.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *ToolRegistry) {
		r.now = now
	}
}

// WithInvokeHook adds an invocation observer.
func WithInvokeHook(h InvokeHook) RegistryOption {
	return func(r *ToolRegistry) {
		r.hooks = append(r.hooks, h)
	}
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:    make(map[string]registeredTool),
		limiters: make(map[string]*rate.Limiter),
		budgets:  make(map[string]*budget),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registers a tool with a policy and risk class. Tools sharing a
// LimitKey share one rate limiter and one daily budget. A later
// registration under the same name replaces the earlier one.
func (r *ToolRegistry) Register(tool Tool, policy ToolPolicy, riskClass RiskClass) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := limitKey(tool.Name(), policy)
	if policy.RateLimitPerSec > 0 {
		if _, ok := r.limiters[key]; !ok {
			burst := policy.Burst
			if burst < 1 {
				burst = 1
			}
			r.limiters[key] = rate.NewLimiter(rate.Limit(policy.RateLimitPerSec), burst)
		}
	}

	r.tools[tool.Name()] = registeredTool{
		tool:      tool,
		policy:    policy,
		riskClass: riskClass,
	}
}

// Get returns a registered tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.tools[name]
	return rt.tool, ok
}

// Tools lists the registered tools sorted by name.
func (r *ToolRegistry) Tools() []ToolInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ToolInfo, 0, len(r.tools))
	for _, rt := range r.tools {
		out = append(out, ToolInfo{
			Name:        rt.tool.Name(),
			Description: rt.tool.Description(),
			InputSchema: rt.tool.InputSchema(),
			RiskClass:   rt.riskClass,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs a tool under its policy: daily budget, rate limit, timeout
// and retries of results the tool marks retriable.
func (r *ToolRegistry) Invoke(ctx context.Context, msg *Message) *ToolExecResult {
	start := r.now()
	name := ""
	if msg != nil && msg.ToolReq != nil {
		name = msg.ToolReq.Name
	}

	res := r.invoke(ctx, name, msg)
	for _, h := range r.hooks {
		h(name, res.Status, time.Since(start))
	}
	return res
}

func (r *ToolRegistry) invoke(ctx context.Context, name string, msg *Message) *ToolExecResult {
	r.mu.Lock()
	rt, ok := r.tools[name]
	r.mu.Unlock()
	if !ok {
		return failed(fmt.Errorf("unknown tool %q", name))
	}

	p := rt.policy
	key := limitKey(name, p)

	if p.DefaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.DefaultTimeout)
		defer cancel()
	}

	if err := r.spend(key, p); err != nil {
		return failed(err)
	}

	attempts := 1
	if p.Retriable && p.MaxRetries > 0 {
		attempts += p.MaxRetries
	}
	backoff := p.BaseBackoff

	var res *ToolExecResult
	used := 0
	for i := 1; i <= attempts; i++ {
		used = i
		if err := r.wait(ctx, key); err != nil {
			return canceledOr(ctx, err)
		}

		res = rt.tool.Execute(&ToolContext{Ctx: ctx, Request: msg})
		if res == nil {
			res = failed(errors.New("tool returned no result"))
		}
		if !res.Failed() || !retriable(res) || i == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return canceledOr(ctx, ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}

	if res.Failed() && ctx.Err() != nil {
		res.Status = ToolCanceled
	}
	if attempts > 1 {
		if res.Metadata == nil {
			res.Metadata = map[string]any{}
		}
		res.Metadata[MetaAttempts] = used
	}
	return res
}

// spend charges one call against the key's daily budget.
func (r *ToolRegistry) spend(key string, p ToolPolicy) error {
	if p.BudgetPerDay <= 0 {
		return nil
	}
	cost := p.CostPerCall
	if cost <= 0 {
		cost = 1
	}

	day := r.now().UTC().Format("2006-01-02")

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.budgets[key]
	if !ok || b.day != day {
		b = &budget{day: day}
		r.budgets[key] = b
	}
	if b.spent+cost > p.BudgetPerDay {
		return fmt.Errorf("daily budget for %s exhausted (%.0f/%.0f)", key, b.spent, p.BudgetPerDay)
	}
	b.spent += cost
	return nil
}

func (r *ToolRegistry) wait(ctx context.Context, key string) error {
	r.mu.Lock()
	lim := r.limiters[key]
	r.mu.Unlock()
	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

func limitKey(name string, p ToolPolicy) string {
	if p.LimitKey != "" {
		return p.LimitKey
	}
	return name
}

func retriable(res *ToolExecResult) bool {
	v, _ := res.Metadata[MetaRetriable].(bool)
	return v
}

func failed(err error) *ToolExecResult {
	return &ToolExecResult{Status: ToolFailed, Error: err.Error()}
}

func canceledOr(ctx context.Context, err error) *ToolExecResult {
	res := failed(err)
	if ctx.Err() != nil {
		res.Status = ToolCanceled
	}
	return res
}
