package promotion

import "github.com/noah-isme/kustom-promo/internal/snapshot"

// SelectAuto returns the first candidate, in catalog order, that is eligible
// for snap. First-order-only promotions are skipped for unauthenticated
// callers because they cannot be confirmed yet. It returns nil when nothing
// applies.
//
// Selection is first-match, not best-discount.
func SelectAuto(snap snapshot.Snapshot, candidates []Promotion, ec EvalContext) *Promotion {
	for i := range candidates {
		p := candidates[i]
		if p.FirstOrderOnly && !ec.Authenticated {
			continue
		}
		if IsEligible(p, snap, ec) {
			return &p
		}
	}
	return nil
}
