// Package presence tracks who is online from the client side.
//
// Two signals feed the belief about a watched user: membership of that
// user's presence channel, pushed live by the bus, and the last heartbeat
// the server saw, pulled by polling. A user is online when either says so.
// The viewer's own presence is broadcast by joining its channel and sending
// heartbeats while the coordinator is started.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oggyb/studymatch/internal/auth"
	"github.com/oggyb/studymatch/internal/logger"
	"github.com/oggyb/studymatch/internal/pubsub"
	"github.com/oggyb/studymatch/internal/rpc/presencerpc"
)

const (
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultPollInterval      = 30 * time.Second
	DefaultOnlineWindow      = 5 * time.Minute
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	default:
		return "disconnected"
	}
}

// Channel is one presence channel connection. *pubsub.Subscription
// satisfies it.
type Channel interface {
	Bind(event string, h pubsub.Handler) (unbind func())
	Subscribe(ctx context.Context, token string) error
	Close() error
}

type Bus interface {
	Channel(name string) Channel
}

type redisBus struct{ b *pubsub.Bus }

func (r redisBus) Channel(name string) Channel { return r.b.Channel(name) }

// RedisBus adapts the Redis-backed bus.
func RedisBus(b *pubsub.Bus) Bus { return redisBus{b: b} }

type Heartbeater interface {
	Heartbeat(ctx context.Context, status string) error
}

type Status struct {
	UserID     string
	Status     string
	LastActive time.Time
}

type StatusFetcher interface {
	Statuses(ctx context.Context, userIDs []string) ([]Status, error)
}

// Beacon delivers the final offline signal. It must not block and may
// silently fail; the server's online window covers a lost beacon.
type Beacon interface {
	SendOffline(token string)
}

// TokenSource returns the current session token, or "" when signed out.
type TokenSource func() string

type Option func(*Coordinator)

func WithClock(now func() time.Time) Option { return func(c *Coordinator) { c.now = now } }

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.log = l } }

func WithIntervals(heartbeat, poll time.Duration) Option {
	return func(c *Coordinator) {
		c.heartbeatEvery = heartbeat
		c.pollEvery = poll
	}
}

func WithOnlineWindow(d time.Duration) Option { return func(c *Coordinator) { c.onlineWindow = d } }

// WithOnChange is called whenever a watched user's online belief flips.
func WithOnChange(f func(userID string, online bool)) Option {
	return func(c *Coordinator) { c.onChange = f }
}

type Deps struct {
	Bus       Bus
	Heartbeat Heartbeater
	Statuses  StatusFetcher
	Beacon    Beacon
	Token     TokenSource
}

type watch struct {
	ch            Channel
	unbinds       []func()
	member        bool
	lastHeartbeat time.Time
}

type Coordinator struct {
	selfID string
	deps   Deps

	now            func() time.Time
	log            *slog.Logger
	heartbeatEvery time.Duration
	pollEvery      time.Duration
	onlineWindow   time.Duration
	onChange       func(string, bool)

	mu       sync.Mutex
	state    State
	self     Channel
	selfStop context.CancelFunc
	watched  map[string]*watch
	pollStop context.CancelFunc
	loops    sync.WaitGroup
}

func New(selfID string, deps Deps, opts ...Option) *Coordinator {
	c := &Coordinator{
		selfID:         selfID,
		deps:           deps,
		now:            time.Now,
		log:            logger.L(),
		heartbeatEvery: DefaultHeartbeatInterval,
		pollEvery:      DefaultPollInterval,
		onlineWindow:   DefaultOnlineWindow,
		watched:        make(map[string]*watch),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func channelName(userID string) string { return auth.PresenceChannelPrefix + userID }

func (c *Coordinator) token() string {
	if c.deps.Token == nil {
		return ""
	}
	return c.deps.Token()
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start joins the viewer's own channel, sends a heartbeat and keeps sending
// one every heartbeat interval. Without a session token it does nothing.
func (c *Coordinator) Start(ctx context.Context) {
	token := c.token()
	if token == "" {
		c.log.Debug("no session token; self presence not started")
		return
	}

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	c.mu.Unlock()

	var ch Channel
	if c.deps.Bus != nil {
		ch = c.deps.Bus.Channel(channelName(c.selfID))
		ch.Bind(pubsub.EventSubscriptionError, func(ev pubsub.Event) {
			c.log.Warn("self presence channel error", "channel", ev.Channel, "err", ev.Err)
		})
		if err := ch.Subscribe(ctx, token); err != nil {
			// heartbeats still reach pollers
			_ = ch.Close()
			ch = nil
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.state != Connecting {
		// stopped while connecting
		c.mu.Unlock()
		cancel()
		if ch != nil {
			_ = ch.Close()
		}
		return
	}
	c.state = Subscribed
	c.self = ch
	c.selfStop = cancel
	c.loops.Add(1)
	c.mu.Unlock()

	c.sendHeartbeat(ctx)
	go c.heartbeatLoop(loopCtx)
}

func (c *Coordinator) heartbeatLoop(ctx context.Context) {
	defer c.loops.Done()
	t := time.NewTicker(c.heartbeatEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.sendHeartbeat(ctx)
		}
	}
}

func (c *Coordinator) sendHeartbeat(ctx context.Context) {
	if c.deps.Heartbeat == nil {
		return
	}
	if err := c.deps.Heartbeat.Heartbeat(ctx, presencerpc.StatusOnline); err != nil && ctx.Err() == nil {
		c.log.Warn("heartbeat failed", "err", err)
	}
}

// Foreground sends an extra heartbeat when the viewer comes back to the app.
func (c *Coordinator) Foreground(ctx context.Context) {
	if c.State() != Subscribed {
		return
	}
	c.sendHeartbeat(ctx)
}

// Stop ends self presence: the heartbeat timer is cleared, the own channel
// is closed and an offline beacon is fired without waiting for it.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state == Disconnected {
		c.mu.Unlock()
		return
	}
	wasSubscribed := c.state == Subscribed
	c.state = Disconnected
	ch, stop := c.self, c.selfStop
	c.self, c.selfStop = nil, nil
	c.mu.Unlock()

	if stop != nil {
		stop()
	}
	if ch != nil {
		if err := ch.Close(); err != nil {
			c.log.Warn("closing self presence channel", "err", err)
		}
	}
	if wasSubscribed && c.deps.Beacon != nil {
		c.deps.Beacon.SendOffline(c.token())
	}
}

// Watch starts observing users. Each gets its own channel subscription when a
// token is available, and an immediate status poll; polling continues in the
// background regardless. Channel failures are logged and leave the polling
// signal in charge.
func (c *Coordinator) Watch(ctx context.Context, userIDs ...string) {
	token := c.token()
	added := 0
	for _, id := range userIDs {
		c.mu.Lock()
		if _, ok := c.watched[id]; ok || id == "" {
			c.mu.Unlock()
			continue
		}
		w := &watch{}
		c.watched[id] = w
		c.mu.Unlock()
		added++

		if token == "" || c.deps.Bus == nil {
			continue
		}
		c.subscribe(ctx, id, w, token)
	}
	if added > 0 {
		_ = c.Poll(ctx)
	}
	c.startPolling()
}

func (c *Coordinator) subscribe(ctx context.Context, id string, w *watch, token string) {
	ch := c.deps.Bus.Channel(channelName(id))
	unbinds := []func(){
		ch.Bind(pubsub.EventSubscriptionSucceeded, func(ev pubsub.Event) {
			present := false
			for _, m := range ev.Members {
				if m.ID == id {
					present = true
					break
				}
			}
			c.setMember(id, w, present)
		}),
		ch.Bind(pubsub.EventSubscriptionError, func(ev pubsub.Event) {
			c.log.Warn("presence channel error", "channel", ev.Channel, "err", ev.Err)
		}),
		ch.Bind(pubsub.EventMemberAdded, func(ev pubsub.Event) {
			if ev.Member.ID == id {
				c.setMember(id, w, true)
			}
		}),
		ch.Bind(pubsub.EventMemberRemoved, func(ev pubsub.Event) {
			if ev.Member.ID == id {
				c.setMember(id, w, false)
			}
		}),
	}

	c.mu.Lock()
	if c.watched[id] != w {
		// unwatched meanwhile
		c.mu.Unlock()
		release(ch, unbinds)
		return
	}
	w.ch, w.unbinds = ch, unbinds
	c.mu.Unlock()

	// errors already went to the subscription_error handler
	_ = ch.Subscribe(ctx, token)
}

func release(ch Channel, unbinds []func()) {
	for _, u := range unbinds {
		u()
	}
	if ch != nil {
		_ = ch.Close()
	}
}

func (c *Coordinator) setMember(id string, w *watch, present bool) {
	c.update(id, w, func(w *watch) { w.member = present })
}

// update mutates a watch and reports a flip of its derived belief.
func (c *Coordinator) update(id string, w *watch, mutate func(*watch)) {
	c.mu.Lock()
	if c.watched[id] != w {
		c.mu.Unlock()
		return
	}
	now := c.now()
	before := c.onlineLocked(w, now)
	mutate(w)
	after := c.onlineLocked(w, now)
	c.mu.Unlock()

	if before != after && c.onChange != nil {
		c.onChange(id, after)
	}
}

func (c *Coordinator) onlineLocked(w *watch, now time.Time) bool {
	if w.member {
		return true
	}
	return !w.lastHeartbeat.IsZero() && now.Sub(w.lastHeartbeat) <= c.onlineWindow
}

// Unwatch stops observing a user, releasing its handlers before leaving the
// channel.
func (c *Coordinator) Unwatch(userID string) {
	c.mu.Lock()
	w, ok := c.watched[userID]
	delete(c.watched, userID)
	c.mu.Unlock()
	if ok {
		release(w.ch, w.unbinds)
	}
}

// IsOnline is true when the user is a member of their channel or their last
// heartbeat falls within the online window. Unwatched users are offline.
func (c *Coordinator) IsOnline(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.watched[userID]
	return ok && c.onlineLocked(w, c.now())
}

// OnlineIDs returns the watched users currently believed online, sorted.
func (c *Coordinator) OnlineIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	var out []string
	for id, w := range c.watched {
		if c.onlineLocked(w, now) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) Watched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.watched))
	for id := range c.watched {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Coordinator) startPolling() {
	c.mu.Lock()
	if c.pollStop != nil || c.deps.Statuses == nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.pollStop = cancel
	c.loops.Add(1)
	c.mu.Unlock()

	go c.pollLoop(ctx)
}

func (c *Coordinator) pollLoop(ctx context.Context) {
	defer c.loops.Done()
	t := time.NewTicker(c.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			_ = c.Poll(ctx)
		}
	}
}

// Poll fetches last-heartbeat times for every watched user. A user the
// server reports as explicitly offline loses its heartbeat signal.
func (c *Coordinator) Poll(ctx context.Context) error {
	ids := c.Watched()
	if len(ids) == 0 || c.deps.Statuses == nil {
		return nil
	}
	statuses, err := c.deps.Statuses.Statuses(ctx, ids)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Warn("presence poll failed", "users", len(ids), "err", err)
		}
		return err
	}

	for _, st := range statuses {
		c.mu.Lock()
		w := c.watched[st.UserID]
		c.mu.Unlock()
		if w == nil {
			continue
		}
		last := st.LastActive
		if st.Status == presencerpc.StatusOffline {
			last = time.Time{}
		}
		c.update(st.UserID, w, func(w *watch) { w.lastHeartbeat = last })
	}
	return nil
}

// Close stops self presence, every watch and the polling loop.
func (c *Coordinator) Close() {
	c.Stop()

	c.mu.Lock()
	watched := c.watched
	c.watched = make(map[string]*watch)
	stop := c.pollStop
	c.pollStop = nil
	c.mu.Unlock()

	for _, w := range watched {
		release(w.ch, w.unbinds)
	}
	if stop != nil {
		stop()
	}
	c.loops.Wait()
}
