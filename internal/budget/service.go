package budget

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"budgetsync/internal/live"
)

const (
	DefaultSyncInterval  = 30 * time.Second
	DefaultMaxRetryCount = 5
	DefaultBackoffMin    = 2 * time.Second
	DefaultBackoffMax    = 5 * time.Minute
	DefaultRunRetention  = 500
)

// Options configures a Coordinator.
type Options struct {
	UserID string
	Month  string // YYYY-MM; defaults to the current month

	// SyncInterval is the period of the pull+drain timer while online.
	SyncInterval time.Duration

	// MaxRetryCount is the number of failed attempts after which an
	// operation is discarded and its entity marked as error.
	MaxRetryCount int

	// BackoffMin and BackoffMax bound the per-operation retry delay.
	// BackoffMin of zero disables backoff: failed operations are retried on
	// the next pass.
	BackoffMin time.Duration
	BackoffMax time.Duration

	// RunRetention is the number of sync run records kept for history.
	RunRetention int
}

// DefaultOptions returns Options with the default schedule and retry policy.
func DefaultOptions() Options {
	return Options{
		SyncInterval:  DefaultSyncInterval,
		MaxRetryCount: DefaultMaxRetryCount,
		BackoffMin:    DefaultBackoffMin,
		BackoffMax:    DefaultBackoffMax,
		RunRetention:  DefaultRunRetention,
	}
}

// Coordinator is the sync engine. Mutations write to the local store and
// enqueue a durable intent; a background loop started with Start pulls from
// and drains the queue to the remote store on a timer, on reconnect, and
// after each mutation.
type Coordinator struct {
	store   Store
	remote  Remote
	network NetworkSignal
	hub     *live.Hub
	logger  Logger
	clock   Clock
	idgen   IDGenerator
	opts    Options
	jitter  func() float64

	// syncMu serializes pull and drain passes.
	syncMu sync.Mutex

	mu       sync.Mutex
	month    string
	online   bool
	syncing  int
	loading  bool
	syncErr  string
	lastSync time.Time
	cancel   context.CancelFunc
	done     chan struct{}

	kick   chan struct{}
	reload chan struct{}
}

// NewCoordinator creates a Coordinator. network may be nil, in which case the
// coordinator always considers itself online. hub may be nil.
func NewCoordinator(store Store, remote Remote, network NetworkSignal, hub *live.Hub, logger Logger, clock Clock, idgen IDGenerator, opts Options) (*Coordinator, error) {
	defaults := DefaultOptions()
	if opts.SyncInterval <= 0 {
		opts.SyncInterval = defaults.SyncInterval
	}
	if opts.MaxRetryCount <= 0 {
		opts.MaxRetryCount = defaults.MaxRetryCount
	}
	if opts.BackoffMin < 0 {
		opts.BackoffMin = 0
	}
	if opts.BackoffMax < opts.BackoffMin {
		opts.BackoffMax = opts.BackoffMin
	}
	if opts.RunRetention <= 0 {
		opts.RunRetention = defaults.RunRetention
	}
	if opts.Month == "" {
		opts.Month = clock.Now().Format("2006-01")
	}
	if err := ValidateMonth(opts.Month); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = NewNopLogger()
	}

	c := &Coordinator{
		store:   store,
		remote:  remote,
		network: network,
		hub:     hub,
		logger:  logger,
		clock:   clock,
		idgen:   idgen,
		opts:    opts,
		jitter:  rand.Float64,
		month:   opts.Month,
		online:  network == nil || network.Online(),
		loading: true,
		kick:    make(chan struct{}, 1),
		reload:  make(chan struct{}, 1),
	}
	return c, nil
}

// Start launches the background loop. It returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return errors.New("coordinator already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done

	var netCh <-chan bool
	if c.network != nil {
		c.online = c.network.Online()
		netCh = c.network.Watch(ctx)
	}
	c.mu.Unlock()

	c.logger.Info("sync coordinator started", "user", c.opts.UserID, "month", c.Month(), "online", c.IsOnline())
	go c.run(ctx, netCh, done)
	return nil
}

// Stop cancels the background loop and waits for it to exit. In-flight remote
// calls are cancelled through their context.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.logger.Info("sync coordinator stopped")
}

// run owns the periodic timer. The timer only exists while online.
func (c *Coordinator) run(ctx context.Context, netCh <-chan bool, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	var tick <-chan time.Time
	arm := func() {
		if ticker == nil {
			ticker = time.NewTicker(c.opts.SyncInterval)
			tick = ticker.C
		}
	}
	disarm := func() {
		if ticker != nil {
			ticker.Stop()
			ticker, tick = nil, nil
		}
	}
	defer disarm()

	if c.IsOnline() {
		arm()
		c.pullThenDrain(ctx, false)
	} else {
		c.setLoading(false)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case online, ok := <-netCh:
			if !ok {
				netCh = nil
				continue
			}
			wasOnline := c.setOnline(online)
			switch {
			case online && !wasOnline:
				c.logger.Info("network online, syncing")
				arm()
				c.pullThenDrain(ctx, true)
			case !online && wasOnline:
				c.logger.Info("network offline, pausing sync")
				disarm()
			}

		case <-tick:
			c.pullThenDrain(ctx, false)

		case <-c.kick:
			if c.IsOnline() {
				c.logIfErr("draining queue", c.processQueue(ctx, false))
			}

		case <-c.reload:
			if c.IsOnline() {
				c.pullThenDrain(ctx, false)
			} else {
				c.setLoading(false)
			}
		}
	}
}

func (c *Coordinator) pullThenDrain(ctx context.Context, force bool) {
	c.logIfErr("pulling budget", c.SyncFromServer(ctx))
	c.logIfErr("draining queue", c.processQueue(ctx, force))
}

func (c *Coordinator) logIfErr(what string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Error(what+" failed", "error", err)
	}
}

// requestDrain asks the loop for a drain pass without blocking.
func (c *Coordinator) requestDrain() {
	if !c.IsOnline() {
		return
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// SyncNow drains the queue, ignoring any retry backoff, then pulls.
// Offline it does nothing.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	if !c.IsOnline() {
		c.logger.Debug("sync skipped while offline")
		return nil
	}
	if err := c.processQueue(ctx, true); err != nil {
		return err
	}
	return c.SyncFromServer(ctx)
}

// SwitchMonth points the coordinator at another budget month and schedules a
// pull for it.
func (c *Coordinator) SwitchMonth(month string) error {
	if err := ValidateMonth(month); err != nil {
		return err
	}

	c.mu.Lock()
	changed := c.month != month
	c.month = month
	if changed {
		c.loading = true
	}
	c.mu.Unlock()

	if !changed {
		return nil
	}
	c.logger.Info("switched month", "month", month)
	c.publishStatus()
	select {
	case c.reload <- struct{}{}:
	default:
	}
	return nil
}

// Month returns the budget month currently shown.
func (c *Coordinator) Month() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.month
}

// IsOnline reports the last known network state.
func (c *Coordinator) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

// target returns the (user, month) pair mutations apply to.
func (c *Coordinator) target() (string, string, error) {
	if c.opts.UserID == "" {
		return "", "", ErrNoUser
	}
	return c.opts.UserID, c.Month(), nil
}

func (c *Coordinator) setOnline(online bool) (was bool) {
	c.mu.Lock()
	was = c.online
	c.online = online
	c.mu.Unlock()
	if was != online {
		c.publishStatus()
	}
	return was
}

func (c *Coordinator) setLoading(loading bool) {
	c.mu.Lock()
	changed := c.loading != loading
	c.loading = loading
	c.mu.Unlock()
	if changed {
		c.publishStatus()
	}
}

func (c *Coordinator) beginSync() {
	c.mu.Lock()
	c.syncing++
	c.mu.Unlock()
	c.publishStatus()
}

func (c *Coordinator) endSync() {
	c.mu.Lock()
	c.syncing--
	c.mu.Unlock()
	c.publishStatus()
}

func (c *Coordinator) setSyncError(err error) {
	c.mu.Lock()
	if err == nil {
		c.syncErr = ""
	} else {
		c.syncErr = err.Error()
	}
	c.mu.Unlock()
	c.publishStatus()
}

func (c *Coordinator) publishStatus() {
	c.hub.Publish(live.TopicStatus)
}

// backoff returns when an operation that has failed retryCount times may be
// attempted again.
func (c *Coordinator) backoff(retryCount int) time.Time {
	if c.opts.BackoffMin <= 0 {
		return time.Time{}
	}
	d := c.opts.BackoffMin
	for i := 1; i < retryCount && d < c.opts.BackoffMax; i++ {
		d *= 2
	}
	if d > c.opts.BackoffMax {
		d = c.opts.BackoffMax
	}
	// +/- 20% jitter
	d = time.Duration(float64(d) * (0.8 + 0.4*c.jitter()))
	return c.clock.Now().Add(d)
}

// budgetEntityID is the queue key for a budget header.
func budgetEntityID(userID, month string) string {
	return fmt.Sprintf("budget/%s/%s", userID, month)
}
