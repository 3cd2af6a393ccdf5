package call

import "time"

// Session timers.
const (
	timerGrace    = "disconnect-grace"
	timerEscalate = "restart-escalation"
)

// timerSet tracks the named one-shot timers of a session. It is only
// touched from the loop.
type timerSet struct {
	timers map[string]*time.Timer
}

func (ts *timerSet) armed(name string) bool {
	_, ok := ts.timers[name]
	return ok
}

func (ts *timerSet) stop(names ...string) {
	for _, name := range names {
		if t, ok := ts.timers[name]; ok {
			t.Stop()
			delete(ts.timers, name)
		}
	}
}

func (ts *timerSet) stopAll() {
	for name, t := range ts.timers {
		t.Stop()
		delete(ts.timers, name)
	}
}

func (ts *timerSet) len() int {
	return len(ts.timers)
}

// arm schedules fn on the loop after d, replacing a timer of the same name.
// fn runs only if the timer was not stopped or replaced and s is still the
// live session.
func (m *Manager) arm(s *session, name string, d time.Duration, fn func()) {
	s.timers.stop(name)
	if s.timers.timers == nil {
		s.timers.timers = map[string]*time.Timer{}
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.post(func() {
			if m.sess != s || s.timers.timers[name] != t {
				return
			}
			delete(s.timers.timers, name)
			fn()
		})
	})
	s.timers.timers[name] = t
}
