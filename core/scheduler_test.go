package core

import "testing"

func TestSchedulerFiresInOrder(t *testing.T) {
	s := NewScheduler()
	var fired []int

	mk := func(id int, at uint64) *Timer {
		return &Timer{WakeTime: at, Handler: func(*Timer) uint8 {
			fired = append(fired, id)
			return SF_DONE
		}}
	}
	s.Schedule(mk(1, 30))
	s.Schedule(mk(2, 10))
	s.Schedule(mk(3, 20))
	s.Schedule(mk(4, 10)) // same time as 2, fires after it

	s.AdvanceTo(15)
	if len(fired) != 2 || fired[0] != 2 || fired[1] != 4 {
		t.Fatalf("after 15us fired %v, want [2 4]", fired)
	}
	if s.Now() != 15 {
		t.Errorf("clock = %d, want 15", s.Now())
	}

	s.Drain()
	if len(fired) != 4 || fired[2] != 3 || fired[3] != 1 {
		t.Errorf("fired %v, want [2 4 3 1]", fired)
	}
	if s.Now() != 30 {
		t.Errorf("clock after drain = %d, want 30", s.Now())
	}
	if s.Pending() {
		t.Error("timers left after drain")
	}
}

func TestSchedulerReschedule(t *testing.T) {
	s := NewScheduler()
	count := 0
	s.Schedule(&Timer{WakeTime: 5, Handler: func(tm *Timer) uint8 {
		count++
		if count < 3 {
			tm.WakeTime += 5
			return SF_RESCHEDULE
		}
		return SF_DONE
	}})

	s.AdvanceTo(100)
	if count != 3 {
		t.Errorf("handler ran %d times, want 3", count)
	}

	s.Reset()
	if s.Now() != 0 || s.Pending() {
		t.Error("reset did not clear the scheduler")
	}
}
