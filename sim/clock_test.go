package sim

import (
	"testing"
	"time"
)

func fifteenMinuteDayWindow() SimulationWindow {
	// Day 1, 00:00 through 23:59, 15-minute steps.
	return SimulationWindow{
		StartYear:         2020,
		StartDay:          1,
		StartTimeMin:      0,
		EndDay:            1,
		EndTimeMin:        1439,
		StepResolutionSec: 900,
	}
}

func TestClock_FifteenMinuteDay_Yields96Steps(t *testing.T) {
	// GIVEN a one-day window at 15-minute resolution
	clock, err := NewClock(fifteenMinuteDayWindow(), QSTS)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}

	// WHEN the horizon is drained
	var steps []TimeStep
	for {
		step, ok := clock.Next()
		if !ok {
			break
		}
		steps = append(steps, step)
	}

	// THEN there are exactly 96 steps at minute offsets 0, 15, ..., 1425
	if len(steps) != 96 {
		t.Fatalf("steps: got %d, want 96", len(steps))
	}
	start := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, step := range steps {
		want := start.Add(time.Duration(i) * 15 * time.Minute)
		if !step.Time.Equal(want) {
			t.Errorf("step %d: got %v, want %v", i, step.Time, want)
		}
		if step.Index != i {
			t.Errorf("step %d: index %d", i, step.Index)
		}
	}
	if !steps[95].IsFinal {
		t.Error("last step not flagged final")
	}
	if steps[94].IsFinal {
		t.Error("intermediate step flagged final")
	}
}

func TestClock_SequenceIsNonDecreasingAndGapConsistent(t *testing.T) {
	// GIVEN a window that does not divide evenly by the step resolution
	window := SimulationWindow{
		StartYear:         2020,
		StartDay:          10,
		StartTimeMin:      30,
		EndDay:            12,
		EndTimeMin:        100,
		StepResolutionSec: 3600,
	}
	clock, err := NewClock(window, QSTS)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}

	// WHEN the horizon is drained
	var prev TimeStep
	count := 0
	for {
		step, ok := clock.Next()
		if !ok {
			break
		}
		// THEN consecutive steps are exactly one resolution apart and never
		// pass the end instant
		if count > 0 {
			gap := step.Time.Sub(prev.Time)
			if gap != time.Hour {
				t.Fatalf("gap between steps %d and %d: %v", prev.Index, step.Index, gap)
			}
		}
		if step.Time.After(window.End()) {
			t.Fatalf("step %d at %v exceeds end %v", step.Index, step.Time, window.End())
		}
		prev = step
		count++
	}
	if count != clock.Steps() {
		t.Errorf("emitted %d steps, Steps() says %d", count, clock.Steps())
	}
}

func TestClock_SnapshotMode_SingleStepAtStart(t *testing.T) {
	// GIVEN a multi-day window in Snapshot mode
	window := fifteenMinuteDayWindow()
	window.EndDay = 7
	clock, err := NewClock(window, Snapshot)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}

	// WHEN the horizon is drained
	first, ok := clock.Next()
	if !ok {
		t.Fatal("no step produced")
	}
	_, more := clock.Next()

	// THEN exactly one step exists, at the start instant
	if more {
		t.Error("snapshot produced more than one step")
	}
	if !first.Time.Equal(window.Start()) {
		t.Errorf("snapshot step at %v, want %v", first.Time, window.Start())
	}
	if !first.IsFinal {
		t.Error("snapshot step not flagged final")
	}
}

func TestClock_DateOffset_ShiftsWholeSequence(t *testing.T) {
	// GIVEN the same window with and without a date offset
	base := fifteenMinuteDayWindow()
	shifted := base
	shifted.DateOffsetDays = 30

	ca, _ := NewClock(base, QSTS)
	cb, _ := NewClock(shifted, QSTS)

	// WHEN both emit their first step
	sa, _ := ca.Next()
	sb, _ := cb.Next()

	// THEN the offset sequence starts exactly 30 days later
	if got := sb.Time.Sub(sa.Time); got != 30*24*time.Hour {
		t.Errorf("offset: got %v, want 720h", got)
	}
}

func TestClock_FractionalEndDay_ExtendsIntoTheDay(t *testing.T) {
	// GIVEN a window whose end day is day one and a half
	window := SimulationWindow{
		StartYear:         2020,
		StartDay:          1,
		StartTimeMin:      0,
		EndDay:            1.5,
		EndTimeMin:        0,
		StepResolutionSec: 3600,
	}
	clock, err := NewClock(window, QSTS)
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}

	// WHEN the horizon is drained
	var last TimeStep
	count := 0
	for {
		step, ok := clock.Next()
		if !ok {
			break
		}
		last = step
		count++
	}

	// THEN hourly steps run through noon of day one, 13 in total
	if count != 13 {
		t.Fatalf("steps: got %d, want 13", count)
	}
	wantEnd := time.Date(2020, time.January, 1, 12, 0, 0, 0, time.UTC)
	if !last.Time.Equal(wantEnd) {
		t.Errorf("last step at %v, want %v", last.Time, wantEnd)
	}
}

func TestClock_InvalidWindows_AreConfigurationErrors(t *testing.T) {
	// GIVEN a zero step resolution
	bad := fifteenMinuteDayWindow()
	bad.StepResolutionSec = 0
	if _, err := NewClock(bad, QSTS); err == nil {
		t.Error("zero step resolution accepted")
	}

	// GIVEN an end instant before the start instant
	inverted := fifteenMinuteDayWindow()
	inverted.StartDay = 5
	inverted.EndDay = 2
	if _, err := NewClock(inverted, QSTS); err == nil {
		t.Error("inverted window accepted")
	}
}

func TestClock_Reset_ReplaysTheSequence(t *testing.T) {
	// GIVEN a drained clock
	clock, _ := NewClock(fifteenMinuteDayWindow(), QSTS)
	for {
		if _, ok := clock.Next(); !ok {
			break
		}
	}

	// WHEN it is reset
	clock.Reset()

	// THEN the sequence replays from step 0
	step, ok := clock.Next()
	if !ok || step.Index != 0 {
		t.Errorf("after reset: ok=%v index=%d", ok, step.Index)
	}
}
