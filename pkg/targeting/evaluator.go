// Package targeting evaluates targeting-rule trees against an evaluation
// context. Evaluation is total: missing data and malformed rules never
// match and never fail.
package targeting

import (
	"slices"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/hashing"
)

// Evaluate reports whether ctx satisfies rule. A nil rule matches.
func Evaluate(rule domain.TargetingRule, ctx domain.EvalContext) bool {
	if rule == nil {
		return true
	}

	switch r := rule.(type) {
	case domain.AttributeEquals:
		v, ok := ctx.Attribute(r.Key)
		return ok && v == r.Value

	case domain.AttributeIn:
		v, ok := ctx.Attribute(r.Key)
		return ok && slices.Contains(r.Values, v)

	case domain.RegionIn:
		return ctx.Region != "" && slices.Contains(r.Regions, ctx.Region)

	case domain.AppVersionGte:
		return ctx.AppVersion != "" && CompareVersions(ctx.AppVersion, r.Version) >= 0

	case domain.AppVersionLt:
		return ctx.AppVersion != "" && CompareVersions(ctx.AppVersion, r.Version) < 0

	case domain.OSVersionGte:
		return ctx.OSVersion != "" && CompareVersions(ctx.OSVersion, r.Version) >= 0

	case domain.UserIDIn:
		return ctx.UserID != "" && slices.Contains(r.IDs, ctx.UserID)

	case domain.PercentageRollout:
		id, ok := ctx.SubjectID()
		if !ok {
			return false
		}
		if r.Percent < 0 || r.Percent > 100 {
			return false
		}
		return int(hashing.BucketPercent(id)) < r.Percent

	case domain.Composite:
		// A nil sub-rule is malformed here, unlike a nil top-level rule.
		for _, sub := range r.All {
			if sub == nil || !Evaluate(sub, ctx) {
				return false
			}
		}
		if len(r.Any) == 0 {
			return true
		}
		for _, sub := range r.Any {
			if sub != nil && Evaluate(sub, ctx) {
				return true
			}
		}
		return false

	case domain.Expression:
		return evaluateExpression(r.Source, ctx)

	default:
		return false
	}
}

// programs caches compiled expressions by source. Failed compilations are
// cached as nil so a broken rule is not recompiled on every read.
var programs sync.Map

func evaluateExpression(source string, ctx domain.EvalContext) bool {
	program, ok := compile(source)
	if !ok {
		return false
	}

	out, err := expr.Run(program, exprEnv(ctx))
	if err != nil {
		return false
	}

	matched, ok := out.(bool)
	return ok && matched
}

func compile(source string) (*vm.Program, bool) {
	if cached, ok := programs.Load(source); ok {
		p, _ := cached.(*vm.Program)
		return p, p != nil
	}

	p, err := expr.Compile(source, expr.Env(exprEnv(domain.EvalContext{})), expr.AsBool())
	if err != nil {
		programs.Store(source, (*vm.Program)(nil))
		return nil, false
	}

	programs.Store(source, p)
	return p, true
}

func exprEnv(ctx domain.EvalContext) map[string]any {
	attrs := ctx.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	return map[string]any{
		"userId":     ctx.UserID,
		"deviceId":   ctx.DeviceID,
		"appVersion": ctx.AppVersion,
		"osName":     ctx.OSName,
		"osVersion":  ctx.OSVersion,
		"locale":     ctx.Locale,
		"region":     ctx.Region,
		"attributes": attrs,
	}
}
