package capture

import "sync"

// RunState is the single-flight state of one capture mode.
type RunState int

const (
	Idle RunState = iota
	Running
)

func (s RunState) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Guard tracks which capture modes are in flight on one page. With exclusive
// set, all modes share a single slot.
type Guard struct {
	mu        sync.Mutex
	exclusive bool
	states    map[Mode]RunState
}

// NewGuard returns a guard with every mode idle.
func NewGuard(exclusive bool) *Guard {
	return &Guard{exclusive: exclusive, states: make(map[Mode]RunState)}
}

func (g *Guard) key(m Mode) Mode {
	if g.exclusive {
		return "*"
	}
	return m
}

// TryAcquire marks m running and reports whether it was idle.
func (g *Guard) TryAcquire(m Mode) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := g.key(m)
	if g.states[k] == Running {
		return false
	}
	g.states[k] = Running
	return true
}

// Release returns m to idle.
func (g *Guard) Release(m Mode) {
	g.mu.Lock()
	g.states[g.key(m)] = Idle
	g.mu.Unlock()
}

// State reports the current state of m.
func (g *Guard) State(m Mode) RunState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.states[g.key(m)]
}
