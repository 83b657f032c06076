// Package selector implements the optimal-block algorithm: a pure function
// of (blocks, constraints, predicates) with no I/O and no clock, trivially
// unit-testable with literal inputs.
package selector

import (
	"sort"
	"time"

	"github.com/windowmeet/core/internal/model"
)

// Constraints bound a candidate block's quorum and length.
type Constraints struct {
	MinParticipants int
	MinBlockSlots   int
	MaxBlockSlots   int
}

// Block is one qualifying (or candidate, before filtering) contiguous run of
// slots with its intersecting participant set.
type Block struct {
	Start         time.Time
	End           time.Time
	Participants  []string // sorted, deterministic ordering
	Count         int
	DurationSlots int
}

// Score is participant_count * duration_slots, the ranking spec.md defines.
func (b Block) Score() int { return b.Count * b.DurationSlots }

// Predicate rejects an otherwise-qualifying block. Both Selector filter
// hooks named in spec.md (sleep-interval intersection, participant-count
// sensitivity) are expressed as a Predicate and default to an always-true
// no-op so they can be composed in without touching the search.
type Predicate func(b Block, users map[string]model.User) bool

// AlwaysValid is the default, no-op Predicate.
func AlwaysValid(Block, map[string]model.User) bool { return true }

// Select groups blocks by start slot, then for each occupied slot greedily
// grows the longest qualifying run, per spec.md §4.2. It returns every block
// tied for the maximum score; callers apply the tie-break policy.
func Select(blocks []model.AvailabilityBlock, c Constraints, predicates ...Predicate) []Block {
	slotMap := groupBySlot(blocks)
	if len(slotMap) == 0 {
		return nil
	}

	starts := make([]time.Time, 0, len(slotMap))
	for s := range slotMap {
		starts = append(starts, s)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	var candidates []Block
	for _, s := range starts {
		// intersection/k track the longest run rooted at s proven so far;
		// k is the block length in slots (starts at 1: just slot_map[s]).
		intersection := cloneSet(slotMap[s])
		k := 1
		for k < c.MaxBlockSlots {
			next, ok := slotMap[s.Add(time.Duration(k)*model.Slot)]
			if !ok {
				break
			}
			candidate := intersectSets(intersection, next)
			if len(candidate) < c.MinParticipants {
				break
			}
			intersection = candidate
			k++
		}
		if k < c.MinBlockSlots || len(intersection) < c.MinParticipants {
			continue
		}
		candidates = append(candidates, Block{
			Start:         s,
			End:           s.Add(time.Duration(k) * model.Slot),
			Participants:  sortedKeys(intersection),
			Count:         len(intersection),
			DurationSlots: k,
		})
	}

	if len(candidates) == 0 {
		return nil
	}

	filtered := candidates[:0:0]
	for _, b := range candidates {
		ok := true
		for _, p := range predicates {
			if !p(b, nil) {
				ok = false
				break
			}
		}
		if ok {
			filtered = append(filtered, b)
		}
	}
	if len(filtered) == 0 {
		return nil
	}

	best := filtered[0].Score()
	for _, b := range filtered[1:] {
		if b.Score() > best {
			best = b.Score()
		}
	}

	var winners []Block
	for _, b := range filtered {
		if b.Score() == best {
			winners = append(winners, b)
		}
	}
	sort.Slice(winners, func(i, j int) bool {
		if !winners[i].Start.Equal(winners[j].Start) {
			return winners[i].Start.Before(winners[j].Start)
		}
		return winners[i].DurationSlots > winners[j].DurationSlots
	})
	return winners
}

// ParticipantsInBlock computes the intersection of availability over every
// slot in [start, end), the same computation confirm_event needs to
// materialize Membership at a caller-chosen block rather than a Select
// winner. Returns nil if any slot in the range has no availability at all.
func ParticipantsInBlock(blocks []model.AvailabilityBlock, start, end time.Time) []string {
	slotMap := groupBySlot(blocks)
	var intersection map[string]struct{}
	for cur := start; cur.Before(end); cur = cur.Add(model.Slot) {
		set, ok := slotMap[cur]
		if !ok {
			return nil
		}
		if intersection == nil {
			intersection = cloneSet(set)
			continue
		}
		intersection = intersectSets(intersection, set)
	}
	if len(intersection) == 0 {
		return nil
	}
	return sortedKeys(intersection)
}

// Pick applies the caller-side tie-break policy from spec.md §4.2: earliest
// start, then longest duration, then deterministic participant-id ordering
// (already guaranteed by Select's sort and by sortedKeys).
func Pick(winners []Block) (Block, bool) {
	if len(winners) == 0 {
		return Block{}, false
	}
	return winners[0], true
}

func groupBySlot(blocks []model.AvailabilityBlock) map[time.Time]map[string]struct{} {
	out := make(map[time.Time]map[string]struct{})
	for _, b := range blocks {
		set, ok := out[b.StartInstant]
		if !ok {
			set = make(map[string]struct{})
			out[b.StartInstant] = set
		}
		set[b.UserID] = struct{}{}
	}
	return out
}

func cloneSet(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

func intersectSets(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SleepExclusion rejects any block intersecting a user's sleep interval. Off
// by default (a caller must opt in); wall times are "HH:MM" in loc.
func SleepExclusion(loc *time.Location) Predicate {
	return func(b Block, users map[string]model.User) bool {
		for _, uid := range b.Participants {
			u, ok := users[uid]
			if !ok || u.SleepStart == nil || u.SleepEnd == nil {
				continue
			}
			if blockIntersectsWallRange(b, *u.SleepStart, *u.SleepEnd, loc) {
				return false
			}
		}
		return true
	}
}

func blockIntersectsWallRange(b Block, start, end string, loc *time.Location) bool {
	sh, sm := parseHHMM(start)
	eh, em := parseHHMM(end)
	cur := b.Start
	for cur.Before(b.End) {
		local := cur.In(loc)
		wallStart := time.Date(local.Year(), local.Month(), local.Day(), sh, sm, 0, 0, loc)
		wallEnd := time.Date(local.Year(), local.Month(), local.Day(), eh, em, 0, 0, loc)
		if !local.Before(wallStart) && local.Before(wallEnd) {
			return true
		}
		cur = cur.Add(model.Slot)
	}
	return false
}

func parseHHMM(s string) (int, int) {
	var h, m int
	_, _ = time.Parse("15:04", s) // validated upstream; ignore error here
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0
	}
	h, m = t.Hour(), t.Minute()
	return h, m
}

// SensitivityThreshold rejects a block whose participant count drops by more
// than threshold fraction between its first and last slot — the "shifts
// drastically" hook named in spec.md §4.2. Off by default.
func SensitivityThreshold(blocks []model.AvailabilityBlock, threshold float64) Predicate {
	return func(b Block, _ map[string]model.User) bool {
		slotMap := groupBySlot(blocks)
		first, ok := slotMap[b.Start]
		if !ok || len(first) == 0 {
			return true
		}
		last, ok := slotMap[b.End.Add(-model.Slot)]
		if !ok {
			return true
		}
		drop := float64(len(first)-len(last)) / float64(len(first))
		return drop <= threshold
	}
}
