// Package visibility implements the viewer-specific message filter as a pure
// function over immutable snapshots, so it can be exercised in isolation from
// the store and called concurrently without side effects.
package visibility

import (
	"sort"
	"time"

	"emberline/pkg/models"
)

// Visible returns the subset of msgs the viewer may see at now, ordered by
// creation time ascending. A message is included iff the viewer is not in its
// hidden set AND it is younger than the retention window. The two exclusion
// conditions are independent: the age cutoff applies regardless of hide
// state, and hiding applies regardless of age.
func Visible(msgs []models.Message, viewer string, now time.Time) []models.Message {
	cutoff := now.Add(-models.RetentionWindow).UnixNano()
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.HiddenFrom(viewer) {
			continue
		}
		if m.CreatedTS <= cutoff {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedTS < out[j].CreatedTS })
	return out
}
