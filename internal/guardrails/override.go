package guardrails

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tripsage/tripsage-core/internal/config"
)

// CompileBypass compiles a boolean expression over `params`, e.g.
// `params.fresh == true || params.query startsWith "breaking"`.
func CompileBypass(source string) (func(Params) bool, error) {
	program, err := expr.Compile(source,
		expr.Env(map[string]any{"params": Params{}}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("compile bypass expression %q: %w", source, err)
	}
	return func(p Params) bool { return runBool(program, p) }, nil
}

func runBool(program *vm.Program, p Params) bool {
	if p == nil {
		p = Params{}
	}
	out, err := expr.Run(program, map[string]any{"params": p})
	if err != nil {
		return false
	}
	b, _ := out.(bool)
	return b
}

// ApplyOverride merges a configuration-file override into a tool's built-in
// guardrail configuration. A bypass expression is OR-ed with the built-in
// bypass; rate-limit and TTL overrides replace the built-in values.
func ApplyOverride(cfg Config, o config.ToolOverride) (Config, error) {
	if o.RateLimit != nil {
		rl := RateLimitConfig{}
		if cfg.RateLimit != nil {
			rl = *cfg.RateLimit
		}
		rl.Limit = o.RateLimit.Limit
		rl.Window = o.RateLimit.Window
		cfg.RateLimit = &rl
	}

	if o.CacheTTL > 0 || o.BypassWhen != "" {
		cc := CacheConfig{}
		if cfg.Cache != nil {
			cc = *cfg.Cache
		}
		if o.CacheTTL > 0 {
			cc.TTL = TTL(o.CacheTTL)
		}
		if o.BypassWhen != "" {
			when, err := CompileBypass(o.BypassWhen)
			if err != nil {
				return cfg, err
			}
			builtin := cc.ShouldBypass
			cc.ShouldBypass = func(p Params) bool {
				return (builtin != nil && builtin(p)) || when(p)
			}
		}
		cfg.Cache = &cc
	}
	return cfg, nil
}
