package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ICKelin/vpnbook/src/internal/logs"
	"github.com/ICKelin/vpnbook/src/internal/store"
	"github.com/ICKelin/vpnbook/src/vpnbook/backend"
	"github.com/ICKelin/vpnbook/src/vpnbook/catalog"
	"github.com/ICKelin/vpnbook/src/vpnbook/event"
	"github.com/ICKelin/vpnbook/src/vpnbook/probe"
	"github.com/ICKelin/vpnbook/src/vpnbook/scrape"
)

const (
	DefaultIdentifier      = "vpnbook"
	DefaultMonitorInterval = 2 * time.Second
	DefaultCommandTimeout  = 30 * time.Second
)

var (
	ErrNoServerReachable = errors.New("no server reachable")
	ErrDisconnectFailed  = errors.New("disconnect failed")
	ErrNoCredential      = errors.New("no credential available")
)

// ConnectError is a failed connect attempt. The attempt is over, the
// orchestrator is back to disconnected.
type ConnectError struct {
	Server catalog.Entry
	Reason backend.Reason
	Output string
	Err    error
}

func (e *ConnectError) Error() string {
	c := backend.Classification{Reason: e.Reason, Output: e.Output}
	return fmt.Sprintf("connect %s: %s", e.Server.Label(), c)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Prober is the latency side of the orchestrator, *probe.Prober in production.
type Prober interface {
	MeasureEntry(ctx context.Context, entry catalog.Entry) probe.Measurement
	Rank(ctx context.Context, entries []catalog.Entry) []probe.Measurement
}

// Resolver fetches the shared credential, *scrape.Resolver in production.
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
	ResolveImage(ctx context.Context) (*scrape.Image, error)
}

type Config struct {
	Identifier      string
	SplitTunneling  bool
	MonitorInterval time.Duration
	// CommandTimeout bounds every single backend call.
	CommandTimeout time.Duration
}

type Deps struct {
	Backend  backend.Backend
	Prober   Prober
	Resolver Resolver
	// Store is optional, credentials are not persisted without one.
	Store  store.Store
	Events event.Publisher
}

type discard struct{}

func (discard) Push(event.Event) {}

type Orchestrator struct {
	cfg      Config
	backend  backend.Backend
	prober   Prober
	resolver Resolver
	store    store.Store
	events   event.Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// opMu serializes connect and disconnect sequences
	opMu sync.Mutex

	mu         sync.RWMutex
	state      State
	credential string
	catalog    catalog.Catalog
	monitor    *Task
	tasks      map[*Task]struct{}
	closed     bool
}

func New(cfg Config, servers catalog.Catalog, deps Deps) *Orchestrator {
	if cfg.Identifier == "" {
		cfg.Identifier = DefaultIdentifier
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = DefaultMonitorInterval
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if deps.Events == nil {
		deps.Events = discard{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:      cfg,
		backend:  deps.Backend,
		prober:   deps.Prober,
		resolver: deps.Resolver,
		store:    deps.Store,
		events:   deps.Events,
		ctx:      ctx,
		cancel:   cancel,
		state:    State{Phase: PhaseDisconnected},
		catalog:  servers,
		tasks:    make(map[*Task]struct{}),
	}

	if o.store != nil {
		credential, err := o.store.Load()
		if err != nil {
			logs.Warn("load saved credential fail: %v", err)
		} else if credential != "" {
			logs.Info("loaded saved credential")
			o.credential = credential
		}
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *Orchestrator) Credential() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.credential
}

func (o *Orchestrator) Catalog() catalog.Catalog {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.catalog
}

func (o *Orchestrator) SetCatalog(servers catalog.Catalog) {
	o.mu.Lock()
	o.catalog = servers
	o.mu.Unlock()
	logs.Info("catalog updated, %d servers", servers.Len())
}

// Connect connects to target, hanging up any active session first. An
// empty credential means the last known one.
func (o *Orchestrator) Connect(ctx context.Context, target catalog.Entry, credential string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if credential == "" {
		credential = o.Credential()
	}
	if credential == "" {
		o.notice(event.LevelError, "connect %s: %v", target.Label(), ErrNoCredential)
		return ErrNoCredential
	}

	active := o.State().Phase == PhaseConnected
	if !active {
		up, err := o.status(ctx)
		if err != nil {
			logs.Warn("query backend status fail: %v", err)
		}
		active = up
	}
	if active {
		logs.Info("session active, disconnect before connecting to %s", target.Label())
		if err := o.disconnect(ctx); err != nil {
			return err
		}
	}

	if err := o.transition(PhaseConnecting, "", target); err != nil {
		return err
	}

	if err := o.dial(ctx, target, credential); err != nil {
		c := backend.ClassifyError(err)
		logs.Error("connect server[%s] fail: %v", target.Label(), err)
		o.transition(PhaseFailed, c.String(), target)
		o.transition(PhaseDisconnected, "", catalog.Entry{})
		o.notice(event.LevelError, "connect %s: %s", target.Label(), c)
		return &ConnectError{Server: target, Reason: c.Reason, Output: c.Output, Err: err}
	}

	o.transition(PhaseConnected, "", target)
	o.remember(credential)
	o.persist(credential)
	o.startMonitor(target)
	return nil
}

// ConnectFastest connects to the lowest latency server of the catalog.
// Nothing reaches the backend when no server answers.
func (o *Orchestrator) ConnectFastest(ctx context.Context, credential string) error {
	ranking := o.prober.Rank(ctx, o.Catalog().Entries())
	o.events.Push(event.Ranking(ranking))

	best, ok := probe.Best(ranking)
	if !ok {
		o.notice(event.LevelError, "connect fastest: %v", ErrNoServerReachable)
		return ErrNoServerReachable
	}
	logs.Info("fastest server %s", best)
	return o.Connect(ctx, best.Server, credential)
}

func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	if err := o.disconnect(ctx); err != nil {
		return err
	}
	o.notice(event.LevelInfo, "disconnected")
	return nil
}

// disconnect runs with opMu held. The state only moves once the backend
// has hung up, a refused hang up leaves it untouched.
func (o *Orchestrator) disconnect(ctx context.Context) error {
	o.stopMonitor()

	prev := o.State()
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CommandTimeout)
	err := o.backend.Disconnect(cctx)
	cancel()
	if err != nil {
		logs.Error("disconnect fail: %v", err)
		if prev.Phase == PhaseConnected {
			o.startMonitor(prev.Server)
		}
		o.notice(event.LevelError, "disconnect: %v", err)
		return fmt.Errorf("%w: %v", ErrDisconnectFailed, err)
	}

	if prev.Phase == PhaseConnected {
		o.transition(PhaseDisconnecting, "", prev.Server)
		o.transition(PhaseDisconnected, "", catalog.Entry{})
	}
	return nil
}

func (o *Orchestrator) dial(ctx context.Context, target catalog.Entry, credential string) error {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CommandTimeout)
	defer cancel()

	opts := backend.Options{SplitTunneling: o.cfg.SplitTunneling}
	if err := o.backend.EnsureEndpoint(cctx, target.Host, opts); err != nil {
		return err
	}
	return o.backend.Authenticate(cctx, o.cfg.Identifier, credential)
}

func (o *Orchestrator) status(ctx context.Context) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, o.cfg.CommandTimeout)
	defer cancel()
	return o.backend.Status(cctx)
}

func (o *Orchestrator) transition(next Phase, reason string, server catalog.Entry) error {
	o.mu.Lock()
	cur := o.state.Phase
	if !allowedTransition(cur, next) {
		o.mu.Unlock()
		logs.Error("state %s -> %s refused", cur, next)
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, next)
	}
	o.state = State{Phase: next, Reason: reason, Server: server}
	o.mu.Unlock()

	logs.Debug("state %s -> %s server[%s] %s", cur, next, server, reason)
	o.events.Push(event.StateChanged(string(next), reason, server))
	return nil
}

func (o *Orchestrator) notice(level event.Level, format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	o.events.Push(event.Notice(level, msg))
}

func (o *Orchestrator) remember(credential string) {
	o.mu.Lock()
	o.credential = credential
	o.mu.Unlock()
}

func (o *Orchestrator) persist(credential string) {
	if o.store == nil {
		return
	}
	if err := o.store.Save(credential); err != nil {
		logs.Warn("save credential fail: %v", err)
		o.notice(event.LevelWarn, "save credential: %v", err)
	}
}

// ResolveCredential scrapes the current credential and keeps it as the
// last known one.
func (o *Orchestrator) ResolveCredential(ctx context.Context) (string, error) {
	credential, err := o.resolver.Resolve(ctx)
	if err != nil {
		logs.Warn("resolve credential fail: %v", err)
		o.notice(event.LevelError, "resolve credential: %v", err)
		return "", err
	}
	logs.Info("credential resolved")
	o.remember(credential)
	o.events.Push(event.Credential(credential))
	return credential, nil
}

func (o *Orchestrator) ResolveCredentialImage(ctx context.Context) (*scrape.Image, error) {
	img, err := o.resolver.ResolveImage(ctx)
	if err != nil {
		logs.Warn("resolve credential image fail: %v", err)
		o.notice(event.LevelError, "resolve credential image: %v", err)
		return nil, err
	}
	logs.Info("credential image %s %dx%d", img.URL, img.Width, img.Height)
	o.notice(event.LevelInfo, "credential image available: %s", img.URL)
	return img, nil
}

// Refresh measures every catalog server and publishes the ranking.
func (o *Orchestrator) Refresh(ctx context.Context) []probe.Measurement {
	ranking := o.prober.Rank(ctx, o.Catalog().Entries())
	for _, m := range ranking {
		logs.Debug("server %s", m)
	}
	o.events.Push(event.Ranking(ranking))
	return ranking
}

func (o *Orchestrator) StartRefresh() *Task {
	return o.spawn("refresh", func(ctx context.Context, t *Task) {
		o.Refresh(ctx)
	})
}

func (o *Orchestrator) StartResolve() *Task {
	return o.spawn("resolve", func(ctx context.Context, t *Task) {
		o.ResolveCredential(ctx)
	})
}

// spawn runs a one shot task bound to the orchestrator lifetime. Once
// closed it returns a task that is already over.
func (o *Orchestrator) spawn(name string, fn func(ctx context.Context, t *Task)) *Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		logs.Debug("orchestrator closed, %s not started", name)
		return finishedTask(name)
	}

	t := startTask(name, &o.wg, func(t *Task) {
		ctx, cancel := context.WithCancel(o.ctx)
		defer cancel()
		go func() {
			select {
			case <-t.stop:
				cancel()
			case <-ctx.Done():
			}
		}()

		fn(ctx, t)

		o.mu.Lock()
		delete(o.tasks, t)
		o.mu.Unlock()
	})
	o.tasks[t] = struct{}{}
	return t
}

// startMonitor is a no-op while a live monitor exists. A cancelled
// monitor still finishing its probe is waited for first.
func (o *Orchestrator) startMonitor(target catalog.Entry) {
	o.mu.RLock()
	prev := o.monitor
	o.mu.RUnlock()

	if prev.Alive() {
		if !prev.Cancelled() {
			return
		}
		prev.Wait()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.monitor != prev && o.monitor.Alive() && !o.monitor.Cancelled() {
		return
	}
	o.monitor = startTask("monitor", &o.wg, func(t *Task) {
		o.runMonitor(t, target)
	})
	logs.Debug("monitor started for %s", target.Label())
}

func (o *Orchestrator) stopMonitor() {
	o.mu.RLock()
	t := o.monitor
	o.mu.RUnlock()
	t.Cancel()
}

func (o *Orchestrator) runMonitor(t *Task, target catalog.Entry) {
	defer logs.Debug("monitor for %s stopped", target.Label())

	for !t.Cancelled() {
		up, err := o.status(context.Background())
		if err != nil {
			logs.Warn("monitor status fail: %v", err)
		}

		m := probe.Measurement{Server: target}
		if up {
			m = o.prober.MeasureEntry(context.Background(), target)
		}
		o.events.Push(event.Latency(m))

		if !t.Sleep(o.cfg.MonitorInterval) {
			return
		}
	}
}

// Close cancels every task and waits for them. The tunnel itself is
// left as is.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	monitor := o.monitor
	tasks := make([]*Task, 0, len(o.tasks))
	for t := range o.tasks {
		tasks = append(tasks, t)
	}
	o.mu.Unlock()

	o.cancel()
	monitor.Cancel()
	for _, t := range tasks {
		t.Cancel()
	}
	o.wg.Wait()
	return nil
}
