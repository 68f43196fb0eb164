package reachability

import (
	"net/http"
	"sync"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// HTTPMonitorConfig ...
type HTTPMonitorConfig struct {
	// ProbeURL is requested with a HEAD on every probe. Any HTTP response
	// counts as online; only transport errors count as offline.
	ProbeURL string
	// Interval between probes. Defaults to 15s.
	Interval time.Duration
	// HTTPClient used for probing. Defaults to a client with a short
	// timeout so a blackholed network flips the state quickly.
	HTTPClient *http.Client
}

// HTTPMonitor derives connectivity from periodic probes against a
// well-known endpoint.
type HTTPMonitor struct {
	config HTTPMonitorConfig
	logger log.Logger

	mu          sync.Mutex
	online      bool
	subscribers map[int]chan bool
	nextID      int
	stop        chan struct{}
	done        chan struct{}
}

// NewHTTPMonitor ...
func NewHTTPMonitor(config HTTPMonitorConfig, logger log.Logger) *HTTPMonitor {
	if config.Interval == 0 {
		config.Interval = defaultProbeInterval
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: defaultProbeTimeout}
	}
	return &HTTPMonitor{
		config:      config,
		logger:      logger,
		subscribers: map[int]chan bool{},
	}
}

// Start performs an initial synchronous probe, then keeps probing on the
// configured interval until Stop is called.
func (m *HTTPMonitor) Start() {
	m.mu.Lock()
	if m.stop != nil {
		m.mu.Unlock()
		return
	}
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.setOnline(m.probe())

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.setOnline(m.probe())
			}
		}
	}()
}

// Stop ends probing and waits for the probe loop to exit.
func (m *HTTPMonitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// IsOnline ...
func (m *HTTPMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Subscribe ...
func (m *HTTPMonitor) Subscribe() (<-chan bool, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	ch := make(chan bool, 1)
	m.subscribers[id] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
	return ch, cancel
}

func (m *HTTPMonitor) probe() bool {
	req, err := http.NewRequest(http.MethodHead, m.config.ProbeURL, nil)
	if err != nil {
		m.logger.Errorf("invalid probe URL %s: %s", m.config.ProbeURL, err)
		return false
	}
	resp, err := m.config.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

func (m *HTTPMonitor) setOnline(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if online == m.online {
		return
	}
	m.online = online
	if online {
		m.logger.Infof("Connectivity restored")
	} else {
		m.logger.Warnf("Connectivity lost")
	}

	// A subscriber that isn't draining its channel must not stall the
	// probe loop or the other subscribers. A stale unread transition is
	// replaced rather than kept, so the latest state always wins: an
	// online edge is never shadowed by an undelivered offline one.
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- online:
		default:
		}
	}
}
