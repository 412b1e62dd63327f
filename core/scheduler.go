package core

import "sync"

// Timer represents a scheduled event on a Scheduler clock (microseconds)
type Timer struct {
	WakeTime uint64
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

// Scheduler keeps timers sorted by wake time and fires them as its clock
// advances. Same ordering rules as Klipper's sched_add_timer: timers with
// equal wake times fire in insertion order.
type Scheduler struct {
	mu        sync.Mutex
	timerList *Timer
	now       uint64
}

// NewScheduler creates a scheduler with its clock at zero
func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Now returns the scheduler clock
func (s *Scheduler) Now() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Schedule adds a timer to the schedule
func (s *Scheduler) Schedule(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertTimer(t)
}

// insertTimer inserts a timer in sorted order by WakeTime
func (s *Scheduler) insertTimer(t *Timer) {
	if s.timerList == nil || t.WakeTime < s.timerList.WakeTime {
		t.Next = s.timerList
		s.timerList = t
		return
	}

	current := s.timerList
	for current.Next != nil && current.Next.WakeTime <= t.WakeTime {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// AdvanceTo moves the clock forward to until, firing every timer due on the
// way. The clock is set to each timer's wake time while its handler runs.
func (s *Scheduler) AdvanceTo(until uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.timerList != nil && s.timerList.WakeTime <= until {
		timer := s.timerList
		s.timerList = timer.Next
		timer.Next = nil

		if timer.WakeTime > s.now {
			s.now = timer.WakeTime
		}

		// Handlers may not call Schedule; they reschedule by returning SF_RESCHEDULE
		if timer.Handler(timer) == SF_RESCHEDULE {
			s.insertTimer(timer)
		}
	}
	if until > s.now {
		s.now = until
	}
}

// Drain fires every pending timer, leaving the clock at the last wake time
func (s *Scheduler) Drain() {
	for {
		s.mu.Lock()
		if s.timerList == nil {
			s.mu.Unlock()
			return
		}
		next := s.timerList.WakeTime
		s.mu.Unlock()
		s.AdvanceTo(next)
	}
}

// Pending reports whether any timer is waiting to fire
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timerList != nil
}

// Reset drops all timers and rewinds the clock
func (s *Scheduler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timerList = nil
	s.now = 0
}
