package deployment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// =============================================================================
// Config Hash Functions
// =============================================================================

// PlanHash returns a stable hex digest of a container plan. The digest is
// stamped on the container as LabelConfigHash, and a later run compares the
// stored digest against the fresh plan's digest to decide whether the
// container must be recreated.
//
// The LabelConfigHash entry itself is excluded, otherwise stamping the hash
// would change the hash it carries. JSON marshaling sorts map keys, so the
// digest does not depend on map iteration order.
//
// Example:
//
//	plan := BuildContainerPlan(params)
//	plan.Labels[LabelConfigHash] = PlanHash(plan)
func PlanHash(plan ContainerPlan) string {
	if _, ok := plan.Labels[LabelConfigHash]; ok {
		labels := make(map[string]string, len(plan.Labels))
		for k, v := range plan.Labels {
			if k == LabelConfigHash {
				continue
			}
			labels[k] = v
		}
		plan.Labels = labels
	}

	// Plans are plain data, so Marshal cannot fail on them.
	data, _ := json.Marshal(plan)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
