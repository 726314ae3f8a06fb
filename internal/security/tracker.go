package security

import "sync"

// Tracker counts open connections globally and per IP so admission can
// be refused before the WebSocket upgrade.
type Tracker struct {
	mu       sync.Mutex
	total    int
	perIP    map[string]int
	maxTotal int
	maxPerIP int
}

// NewTracker creates a tracker with the given caps. A cap of zero or
// less disables that check.
func NewTracker(maxTotal, maxPerIP int) *Tracker {
	return &Tracker{
		perIP:    make(map[string]int),
		maxTotal: maxTotal,
		maxPerIP: maxPerIP,
	}
}

// TryAcquire reserves a connection slot for ip. It returns false when
// either the global or the per-IP cap is already reached.
func (t *Tracker) TryAcquire(ip string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxTotal > 0 && t.total >= t.maxTotal {
		return false
	}
	if t.maxPerIP > 0 && t.perIP[ip] >= t.maxPerIP {
		return false
	}
	t.total++
	t.perIP[ip]++
	return true
}

// Release returns a slot previously acquired for ip.
func (t *Tracker) Release(ip string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total > 0 {
		t.total--
	}
	if n := t.perIP[ip]; n > 1 {
		t.perIP[ip] = n - 1
	} else {
		delete(t.perIP, ip)
	}
}

// Count returns the number of currently tracked connections.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}

// SetLimits updates the caps. Existing connections are never evicted;
// the new caps apply to future admissions.
func (t *Tracker) SetLimits(maxTotal, maxPerIP int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxTotal = maxTotal
	t.maxPerIP = maxPerIP
}
