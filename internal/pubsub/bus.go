// Package pubsub implements presence channels on top of Redis.
//
// A presence channel has a member set (a Redis hash of member id to open
// connection count) and an event stream (a Redis pub/sub channel). Joining
// publishes member_added the first time an id appears; leaving publishes
// member_removed when its last connection goes away.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventSubscriptionSucceeded = "subscription_succeeded"
	EventSubscriptionError     = "subscription_error"
	EventMemberAdded           = "member_added"
	EventMemberRemoved         = "member_removed"
)

var (
	ErrClosed            = errors.New("subscription closed")
	ErrAlreadySubscribed = errors.New("already subscribed")
)

type Member struct {
	ID string `json:"id"`
}

// Event is delivered to bound handlers. Members is set for
// subscription_succeeded, Member for member events and Err for
// subscription_error.
type Event struct {
	Name    string
	Channel string
	Member  Member
	Members []Member
	Err     error
}

type Handler func(Event)

// Authorizer admits a token to a channel and names the member it joins as.
type Authorizer interface {
	Authorize(channel, token string) (uint64, error)
}

// leaveScript drops one connection and removes the member with its last one.
var leaveScript = redis.NewScript(`
local n = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if n <= 0 then redis.call('HDEL', KEYS[1], ARGV[1]) end
return n
`)

type wireEvent struct {
	Event  string `json:"event"`
	Member Member `json:"member"`
}

type Bus struct {
	rdb  *redis.Client
	auth Authorizer
	log  *slog.Logger
}

func NewBus(rdb *redis.Client, auth Authorizer, log *slog.Logger) *Bus {
	return &Bus{rdb: rdb, auth: auth, log: log}
}

func membersKey(channel string) string { return "presence:members:" + channel }
func eventsKey(channel string) string  { return "presence:events:" + channel }

// Channel returns an unsubscribed handle. Bind handlers before Subscribe so
// the subscription outcome is not missed.
func (b *Bus) Channel(name string) *Subscription {
	return &Subscription{
		bus:      b,
		name:     name,
		handlers: make(map[string]map[uint64]Handler),
		done:     make(chan struct{}),
	}
}

// Members lists the current member ids of a channel.
func (b *Bus) Members(ctx context.Context, channel string) ([]Member, error) {
	all, err := b.rdb.HGetAll(ctx, membersKey(channel)).Result()
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", channel, err)
	}
	out := make([]Member, 0, len(all))
	for id, n := range all {
		if count, _ := strconv.Atoi(n); count > 0 {
			out = append(out, Member{ID: id})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Subscription is one connection to a presence channel.
type Subscription struct {
	bus  *Bus
	name string

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	self     Member
	ps       *redis.PubSub
	joined   bool
	closed   bool
	// delivering is set while the reader runs handlers for a live event.
	delivering bool
	done       chan struct{}
}

func (s *Subscription) Name() string { return s.name }

// Bind registers h for event and returns its disposer. Calling the disposer
// more than once is harmless.
func (s *Subscription) Bind(event string, h Handler) (unbind func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}

	s.nextID++
	id := s.nextID
	if s.handlers[event] == nil {
		s.handlers[event] = make(map[uint64]Handler)
	}
	s.handlers[event][id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers[event], id)
		if len(s.handlers[event]) == 0 {
			delete(s.handlers, event)
		}
	}
}

// Bound is the number of handlers still registered.
func (s *Subscription) Bound() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, hs := range s.handlers {
		n += len(hs)
	}
	return n
}

func (s *Subscription) emit(ev Event) {
	ev.Channel = s.name
	s.mu.Lock()
	hs := make([]Handler, 0, len(s.handlers[ev.Name]))
	ids := make([]uint64, 0, len(s.handlers[ev.Name]))
	for id := range s.handlers[ev.Name] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		hs = append(hs, s.handlers[ev.Name][id])
	}
	s.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func (s *Subscription) fail(err error) error {
	s.emit(Event{Name: EventSubscriptionError, Err: err})
	return err
}

// Subscribe authorizes token, joins the member set and starts delivering
// member events. The outcome is also delivered as subscription_succeeded or
// subscription_error.
func (s *Subscription) Subscribe(ctx context.Context, token string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.ps != nil:
		s.mu.Unlock()
		return ErrAlreadySubscribed
	}
	s.mu.Unlock()

	memberID, err := s.bus.auth.Authorize(s.name, token)
	if err != nil {
		return s.fail(fmt.Errorf("authorize %s: %w", s.name, err))
	}
	self := Member{ID: strconv.FormatUint(memberID, 10)}

	ps := s.bus.rdb.Subscribe(ctx, eventsKey(s.name))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return s.fail(fmt.Errorf("subscribe %s: %w", s.name, err))
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ps.Close()
		return ErrClosed
	}
	s.ps = ps
	s.self = self
	s.mu.Unlock()

	go s.read(ps.Channel())

	n, err := s.bus.rdb.HIncrBy(ctx, membersKey(s.name), self.ID, 1).Result()
	if err != nil {
		return s.fail(fmt.Errorf("join %s: %w", s.name, err))
	}
	s.mu.Lock()
	s.joined = true
	s.mu.Unlock()

	if n == 1 {
		s.publish(ctx, EventMemberAdded, self)
	}

	members, err := s.bus.Members(ctx, s.name)
	if err != nil {
		return s.fail(err)
	}
	s.emit(Event{Name: EventSubscriptionSucceeded, Members: members})
	return nil
}

func (s *Subscription) publish(ctx context.Context, event string, m Member) {
	payload, _ := json.Marshal(wireEvent{Event: event, Member: m})
	if err := s.bus.rdb.Publish(ctx, eventsKey(s.name), payload).Err(); err != nil {
		s.bus.log.Warn("presence publish failed", "channel", s.name, "event", event, "err", err)
	}
}

func (s *Subscription) read(ch <-chan *redis.Message) {
	defer close(s.done)
	for msg := range ch {
		var ev wireEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			s.bus.log.Warn("presence event dropped", "channel", s.name, "err", err)
			continue
		}
		s.mu.Lock()
		own := ev.Member.ID == s.self.ID
		s.mu.Unlock()
		if own {
			continue
		}
		switch ev.Event {
		case EventMemberAdded, EventMemberRemoved:
			s.mu.Lock()
			s.delivering = true
			s.mu.Unlock()
			s.emit(Event{Name: ev.Event, Member: ev.Member})
			s.mu.Lock()
			s.delivering = false
			s.mu.Unlock()
		}
	}
}

// Close releases every bound handler, leaves the member set and
// unsubscribes, in that order. It is safe to call more than once, and from
// a bound handler; the reader is not awaited while it is delivering.
func (s *Subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.handlers = make(map[string]map[uint64]Handler)
	ps, joined, self, delivering := s.ps, s.joined, s.self, s.delivering
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if joined {
		n, err := leaveScript.Run(ctx, s.bus.rdb, []string{membersKey(s.name)}, self.ID).Int64()
		if err != nil {
			s.bus.log.Warn("presence leave failed", "channel", s.name, "member", self.ID, "err", err)
		} else if n <= 0 {
			s.publish(ctx, EventMemberRemoved, self)
		}
	}

	if ps == nil {
		return nil
	}
	err := ps.Close()
	if !delivering {
		<-s.done
	}
	return err
}
