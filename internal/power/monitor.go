package power

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Sampler reads the device's current power and thermal state.
// Implementations must be safe to call repeatedly from one goroutine.
type Sampler interface {
	Sample() (lowPower bool, thermal ThermalState, err error)
}

// Monitor samples device state on an interval and emits a Tuning whenever
// the planned schedule changes. Only changes are emitted, so a consumer can
// apply every received value without de-duplicating.
type Monitor struct {
	sampler  Sampler
	interval time.Duration
	logger   *log.Logger

	tunings chan Tuning
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	last    Tuning
	haveOne bool
}

// MonitorConfig holds configuration for the power monitor.
type MonitorConfig struct {
	// Sampler reads device state. Required.
	Sampler Sampler

	// Interval between samples (default: 15s).
	Interval time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// NewMonitor creates a power monitor. The monitor must be started with
// Start() before it will emit tunings.
func NewMonitor(config *MonitorConfig) (*Monitor, error) {
	if config == nil || config.Sampler == nil {
		return nil, fmt.Errorf("sampler cannot be nil")
	}
	interval := config.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[power] ", log.LstdFlags)
	}
	return &Monitor{
		sampler:  config.Sampler,
		interval: interval,
		logger:   logger,
		tunings:  make(chan Tuning, 4),
		done:     make(chan struct{}),
	}, nil
}

// Tunings returns the channel on which schedule changes are emitted.
func (m *Monitor) Tunings() <-chan Tuning {
	return m.tunings
}

// Start begins sampling. The first sample always emits so consumers start
// from the device's actual state rather than assuming defaults.
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

// Stop halts sampling and closes the tunings channel.
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
	close(m.tunings)
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	m.sampleOnce()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *Monitor) sampleOnce() {
	lowPower, thermal, err := m.sampler.Sample()
	if err != nil {
		m.logger.Printf("Sample failed: %v", err)
		return
	}

	tuning := Plan(lowPower, thermal)

	m.mu.Lock()
	changed := !m.haveOne || tuning != m.last
	m.last = tuning
	m.haveOne = true
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Printf("Schedule change: lowPower=%v thermal=%s -> batch=%d interval=%v",
		lowPower, thermal, tuning.BatchSize, tuning.BaseInterval)

	select {
	case m.tunings <- tuning:
	case <-m.done:
	default:
		// Consumer is behind; the next change will carry current state.
	}
}
