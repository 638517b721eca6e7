package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"
)

const (
	minBackoff  = time.Second
	dialTimeout = 3 * time.Second
)

// HealthChecker is satisfied by api.Client.
type HealthChecker interface {
	Healthcheck(ctx context.Context) error
}

// Prober derives Status by dialing the server's host (link state) and calling
// its health endpoint (reachability). Started, it polls and notifies
// subscribers on change, probing faster while offline.
type Prober struct {
	addr     string
	health   HealthChecker
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)

	mu       sync.Mutex
	last     Status
	known    bool
	running  bool
	stopChan chan struct{}
	done     chan struct{}

	subs listeners
}

// NewProber creates a prober for serverURL.
func NewProber(serverURL string, health HealthChecker, interval, timeout time.Duration, logger *slog.Logger) (*Prober, error) {
	addr, err := hostPort(serverURL)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	d := &net.Dialer{Timeout: dialTimeout}
	return &Prober{
		addr:     addr,
		health:   health,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		dial:     d.DialContext,
	}, nil
}

func hostPort(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q", serverURL)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}

// FetchStatus probes now and records the result.
func (p *Prober) FetchStatus(ctx context.Context) (Status, error) {
	st := p.probe(ctx)
	p.record(st)
	return st, nil
}

func (p *Prober) Subscribe(fn func(Status)) func() {
	return p.subs.add(fn)
}

func (p *Prober) probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		p.logger.Debug("Connectivity probe: link down", "addr", p.addr, "error", err)
		return Status{Connected: false, InternetReachable: Reachable(false)}
	}
	_ = conn.Close()

	if err := p.health.Healthcheck(ctx); err != nil {
		p.logger.Debug("Connectivity probe: server unhealthy", "error", err)
		return Status{Connected: true, InternetReachable: Reachable(false)}
	}
	return Status{Connected: true, InternetReachable: Reachable(true)}
}

func (p *Prober) record(st Status) {
	p.mu.Lock()
	changed := !p.known || !p.last.Equal(st)
	p.last = st
	p.known = true
	p.mu.Unlock()

	if changed {
		p.logger.Info("Connectivity changed", "connected", st.Connected, "online", st.Online())
		p.subs.emit(st)
	}
}

// Start begins background polling.
func (p *Prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	go p.loop(p.stopChan, p.done)
}

// Stop halts polling and waits for the loop to exit.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	done := p.done
	p.mu.Unlock()
	<-done
}

func (p *Prober) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	backoff := minBackoff
	for {
		st := p.probe(ctx)
		select {
		case <-stop:
			return
		default:
		}
		p.record(st)

		wait := p.interval
		if st.Online() {
			backoff = minBackoff
		} else {
			wait = min(backoff, p.interval)
			if backoff < p.interval {
				backoff *= 2
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
