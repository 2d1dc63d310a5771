package relay

import "github.com/drewthekiiid/pipai-sub002/internal/eventlog"

// mergeByTime interleaves per-subject batches by timestamp. Each batch keeps
// its own order; ties go to the earlier batch.
func mergeByTime(batches [][]eventlog.Event) []eventlog.Event {
	total := 0
	nonEmpty := 0
	for _, b := range batches {
		total += len(b)
		if len(b) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty <= 1 {
		out := make([]eventlog.Event, 0, total)
		for _, b := range batches {
			out = append(out, b...)
		}
		return out
	}

	heads := make([]int, len(batches))
	out := make([]eventlog.Event, 0, total)
	for len(out) < total {
		best := -1
		for i, b := range batches {
			if heads[i] >= len(b) {
				continue
			}
			if best < 0 || b[heads[i]].Timestamp.Before(batches[best][heads[best]].Timestamp) {
				best = i
			}
		}
		out = append(out, batches[best][heads[best]])
		heads[best]++
	}
	return out
}
