// Package bucketing assigns experiment variants to subjects using a
// deterministic hash of the experiment key and subject id.
package bucketing

import (
	"fmt"
	"strconv"

	"github.com/OrlandoBitencourt/pennant/pkg/domain"
	"github.com/OrlandoBitencourt/pennant/pkg/hashing"
	"github.com/OrlandoBitencourt/pennant/pkg/targeting"
)

// Assign buckets ctx into exp. It returns nil when the subject fails the
// experiment's targeting, has no resolvable id, or exp has no variants.
//
// The same (experiment key, subject id) pair always lands on the same
// variant while the variant list is unchanged. Reordering or reweighting
// variants moves existing subjects.
func Assign(exp domain.ExperimentDefinition, ctx domain.EvalContext) *domain.ExperimentAssignment {
	if len(exp.Variants) == 0 {
		return nil
	}
	if exp.Targeting != nil && !targeting.Evaluate(exp.Targeting, ctx) {
		return nil
	}

	subject, ok := ctx.SubjectID()
	if !ok {
		return nil
	}

	composite := exp.Key + ":" + subject
	variant := pick(exp.Variants, hashing.BucketFraction(composite))

	return &domain.ExperimentAssignment{
		Key:     exp.Key,
		Variant: variant.Name,
		Payload: variant.Payload,
		Hash:    strconv.FormatUint(uint64(hashing.Hash32String(composite)), 16),
	}
}

// pick walks the cumulative weights and returns the first variant whose
// running total exceeds bucket. Rounding that exhausts the list falls back
// to the last variant.
func pick(variants []domain.Variant, bucket float64) domain.Variant {
	cumulative := 0.0
	for _, v := range variants {
		cumulative += v.Weight
		if bucket < cumulative {
			return v
		}
	}
	return variants[len(variants)-1]
}

// IsInBucket reports whether id falls inside the first percent buckets out
// of 100. percent must be within [0, 100].
func IsInBucket(id string, percent int) (bool, error) {
	if percent < 0 || percent > 100 {
		return false, domain.NewInvalidArgumentError("percent", fmt.Sprintf("must be within [0,100], got %d", percent))
	}
	return int(hashing.BucketPercent(id)) < percent, nil
}
