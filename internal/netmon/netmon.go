// Package netmon observes network reachability for the sync daemon.
//
// The monitor probes a configured TCP address on an interval and emits a
// Transition on its channel whenever the path flips between satisfied and
// unsatisfied. Only flips are emitted, never steady state, so a consumer can
// treat every satisfied transition as "connectivity came back" and trigger a
// sync. Triggering an already-running engine is a safe no-op, so rapid
// flapping cannot start overlapping cycles.
package netmon

import (
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"
)

// Transition is a connectivity state change.
type Transition struct {
	// Satisfied is true when the network path became usable.
	Satisfied bool

	// At is when the flip was observed.
	At time.Time
}

// Monitor probes a remote address and reports connectivity transitions.
type Monitor struct {
	probeAddr    string
	interval     time.Duration
	probeTimeout time.Duration
	logger       *log.Logger
	dial         func(network, addr string, timeout time.Duration) (net.Conn, error)

	transitions chan Transition
	done        chan struct{}
	wg          sync.WaitGroup

	mu        sync.Mutex
	running   bool
	satisfied bool
	haveState bool
}

// Config holds configuration for the reachability monitor.
type Config struct {
	// ProbeAddr is the "host:port" TCP address to dial. Required.
	ProbeAddr string

	// Interval between probes (default: 10s).
	Interval time.Duration

	// ProbeTimeout bounds a single probe dial (default: 3s).
	ProbeTimeout time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// New creates a reachability monitor. The monitor must be started with
// Start() before it will emit transitions.
func New(config *Config) (*Monitor, error) {
	if config == nil || config.ProbeAddr == "" {
		return nil, fmt.Errorf("probe address cannot be empty")
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	probeTimeout := config.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 3 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		probeAddr:    config.ProbeAddr,
		interval:     interval,
		probeTimeout: probeTimeout,
		logger:       logger,
		dial:         net.DialTimeout,
		transitions:  make(chan Transition, 8),
		done:         make(chan struct{}),
	}, nil
}

// Transitions returns the channel on which connectivity flips are emitted.
func (m *Monitor) Transitions() <-chan Transition {
	return m.transitions
}

// Satisfied reports the last observed connectivity state.
func (m *Monitor) Satisfied() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.satisfied
}

// Start begins probing. The first probe always emits its result so
// consumers learn the initial state.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return fmt.Errorf("monitor already running")
	}
	m.running = true

	m.wg.Add(1)
	go m.loop()
	return nil
}

// Stop halts probing and closes the transitions channel.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	close(m.transitions)
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.probeOnce()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

func (m *Monitor) probeOnce() {
	conn, err := m.dial("tcp", m.probeAddr, m.probeTimeout)
	satisfied := err == nil
	if conn != nil {
		_ = conn.Close()
	}

	m.mu.Lock()
	flipped := !m.haveState || satisfied != m.satisfied
	m.satisfied = satisfied
	m.haveState = true
	m.mu.Unlock()

	if !flipped {
		return
	}

	if satisfied {
		m.logger.Printf("Network path satisfied (%s reachable)", m.probeAddr)
	} else {
		m.logger.Printf("Network path lost (%s unreachable: %v)", m.probeAddr, err)
	}

	select {
	case m.transitions <- Transition{Satisfied: satisfied, At: time.Now()}:
	case <-m.done:
	default:
		m.logger.Println("Warning: transitions channel full, dropping event")
	}
}
