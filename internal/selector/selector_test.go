package selector

import (
	"reflect"
	"testing"
	"time"

	"github.com/windowmeet/core/internal/model"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}

func block(t *testing.T, user, start string) model.AvailabilityBlock {
	s := mustParse(t, start)
	return model.AvailabilityBlock{UserID: user, StartInstant: s, EndInstant: s.Add(model.Slot)}
}

func defaultConstraints() Constraints {
	return Constraints{MinParticipants: 2, MinBlockSlots: 2, MaxBlockSlots: 4}
}

// Scenario 1: single 60-minute overlap.
func TestScenarioSingleOverlap(t *testing.T) {
	blocks := []model.AvailabilityBlock{
		block(t, "1", "2025-01-01 10:00"),
		block(t, "1", "2025-01-01 10:30"),
		block(t, "2", "2025-01-01 10:00"),
		block(t, "2", "2025-01-01 10:30"),
	}
	winners := Select(blocks, defaultConstraints())
	if len(winners) != 1 {
		t.Fatalf("expected 1 winner, got %d: %+v", len(winners), winners)
	}
	got := winners[0]
	wantStart := mustParse(t, "2025-01-01 10:00")
	wantEnd := mustParse(t, "2025-01-01 11:00")
	if !got.Start.Equal(wantStart) || !got.End.Equal(wantEnd) {
		t.Fatalf("unexpected block window: %+v", got)
	}
	if !reflect.DeepEqual(got.Participants, []string{"1", "2"}) {
		t.Fatalf("unexpected participants: %v", got.Participants)
	}
}

// Scenario 2: no quorum.
func TestScenarioNoQuorum(t *testing.T) {
	blocks := []model.AvailabilityBlock{
		block(t, "1", "2025-01-01 10:00"),
		block(t, "1", "2025-01-01 10:30"),
	}
	winners := Select(blocks, defaultConstraints())
	if len(winners) != 0 {
		t.Fatalf("expected no winners, got %+v", winners)
	}
}

// Scenario 3: length cap at max, tied starts.
func TestScenarioLengthCapAtMax(t *testing.T) {
	var blocks []model.AvailabilityBlock
	starts := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "11:30", "12:00", "12:30"}
	for _, u := range []string{"1", "2", "3", "4"} {
		for _, s := range starts {
			blocks = append(blocks, block(t, u, "2025-01-01 "+s))
		}
	}
	winners := Select(blocks, defaultConstraints())
	wantStarts := []string{"09:00", "09:30", "10:00", "10:30", "11:00"}
	if len(winners) != len(wantStarts) {
		t.Fatalf("expected %d tied winners, got %d: %+v", len(wantStarts), len(winners), winners)
	}
	for i, w := range wantStarts {
		want := mustParse(t, "2025-01-01 "+w)
		if !winners[i].Start.Equal(want) {
			t.Fatalf("winner %d: expected start %s, got %s", i, want, winners[i].Start)
		}
		if winners[i].DurationSlots != 4 {
			t.Fatalf("winner %d: expected duration 4 slots, got %d", i, winners[i].DurationSlots)
		}
	}
	picked, ok := Pick(winners)
	if !ok {
		t.Fatal("expected a pick")
	}
	if !picked.Start.Equal(mustParse(t, "2025-01-01 09:00")) {
		t.Fatalf("expected earliest start to win tie-break, got %s", picked.Start)
	}
}

// Scenario 4: intersection shrinks but still clears quorum.
func TestScenarioIntersectionShrinks(t *testing.T) {
	blocks := []model.AvailabilityBlock{
		block(t, "1", "2025-01-01 10:00"),
		block(t, "2", "2025-01-01 10:00"),
		block(t, "3", "2025-01-01 10:00"),
		block(t, "1", "2025-01-01 10:30"),
		block(t, "2", "2025-01-01 10:30"),
		block(t, "3", "2025-01-01 10:30"),
		block(t, "2", "2025-01-01 11:00"),
		block(t, "3", "2025-01-01 11:00"),
	}
	winners := Select(blocks, defaultConstraints())
	if len(winners) != 1 {
		t.Fatalf("expected 1 winner, got %+v", winners)
	}
	got := winners[0]
	if !got.Start.Equal(mustParse(t, "2025-01-01 10:00")) {
		t.Fatalf("unexpected start: %s", got.Start)
	}
	if !got.End.Equal(mustParse(t, "2025-01-01 11:30")) {
		t.Fatalf("unexpected end: %s", got.End)
	}
	if got.DurationSlots != 3 {
		t.Fatalf("expected duration 3 slots, got %d", got.DurationSlots)
	}
	if !reflect.DeepEqual(got.Participants, []string{"2", "3"}) {
		t.Fatalf("unexpected participants: %v", got.Participants)
	}
}

func TestEmptyInputYieldsEmptyOutput(t *testing.T) {
	if winners := Select(nil, defaultConstraints()); len(winners) != 0 {
		t.Fatalf("expected no winners for empty input, got %+v", winners)
	}
}

func TestTieDeterminism(t *testing.T) {
	blocks := []model.AvailabilityBlock{
		block(t, "1", "2025-01-01 09:00"),
		block(t, "2", "2025-01-01 09:00"),
		block(t, "1", "2025-01-01 09:30"),
		block(t, "2", "2025-01-01 09:30"),
	}
	first := Select(blocks, defaultConstraints())
	second := Select(blocks, defaultConstraints())
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic output, got %+v vs %+v", first, second)
	}
}

// Qualification closure: a shorter sub-block of a qualifying block, down to
// min_block_slots, must also appear as a qualifying candidate somewhere in
// the constraint space. We assert it indirectly: shrinking max_block_slots
// to the sub-length still yields a qualifying block rooted at the same
// start with intersection count >= the original (monotonicity).
func TestQualificationClosure(t *testing.T) {
	blocks := []model.AvailabilityBlock{
		block(t, "1", "2025-01-01 09:00"),
		block(t, "2", "2025-01-01 09:00"),
		block(t, "1", "2025-01-01 09:30"),
		block(t, "2", "2025-01-01 09:30"),
		block(t, "1", "2025-01-01 10:00"),
		block(t, "2", "2025-01-01 10:00"),
	}
	full := Select(blocks, Constraints{MinParticipants: 2, MinBlockSlots: 2, MaxBlockSlots: 3})
	if len(full) != 1 || full[0].DurationSlots != 3 {
		t.Fatalf("expected one 3-slot winner, got %+v", full)
	}
	capped := Select(blocks, Constraints{MinParticipants: 2, MinBlockSlots: 2, MaxBlockSlots: 2})
	if len(capped) != 2 || capped[0].DurationSlots != 2 || !capped[0].Start.Equal(full[0].Start) {
		t.Fatalf("expected two tied 2-slot winners once capped, the first rooted at the same start, got %+v", capped)
	}
	if capped[0].Count < full[0].Count {
		t.Fatalf("intersection size should not grow when capping duration: %d vs %d", capped[0].Count, full[0].Count)
	}
}

func TestSensitivityThresholdPredicateOffByDefault(t *testing.T) {
	blocks := []model.AvailabilityBlock{
		block(t, "1", "2025-01-01 10:00"),
		block(t, "2", "2025-01-01 10:00"),
		block(t, "3", "2025-01-01 10:00"),
		block(t, "1", "2025-01-01 10:30"),
		block(t, "2", "2025-01-01 10:30"),
	}
	c := Constraints{MinParticipants: 2, MinBlockSlots: 2, MaxBlockSlots: 2}
	withoutPredicate := Select(blocks, c)
	if len(withoutPredicate) == 0 {
		t.Fatal("expected a block without the sensitivity predicate")
	}
	withPredicate := Select(blocks, c, SensitivityThreshold(blocks, 0.1))
	if len(withPredicate) != 0 {
		t.Fatalf("expected the sensitivity predicate to reject the drop, got %+v", withPredicate)
	}
}
