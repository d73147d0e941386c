package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"attestra/internal/oracle/models"

	lru "github.com/hashicorp/golang-lru/v2"
)

// dedupeWindow is how many recent event ids each subscription remembers.
const dedupeWindow = 4096

// EventSource streams ledger events. The returned stop func releases the
// stream; the channel is closed once the source stops.
type EventSource interface {
	Subscribe(ctx context.Context, target, eventName string, filter map[string]string) (<-chan models.Event, func(), error)
}

// Callback handles one event. Errors and panics are logged, never propagated.
type Callback func(ctx context.Context, event models.Event) error

// Subscription is a handle returned by Client.Subscribe.
type Subscription struct {
	eventName string
	target    string
	callback  Callback
	seen      *lru.Cache[string, struct{}]

	ctx    context.Context
	cancel context.CancelFunc
	stop   func()
	done   chan struct{}

	logger  *slog.Logger
	metrics *Metrics
}

// EventName returns the subscribed event name.
func (s *Subscription) EventName() string { return s.eventName }

// Done is closed once the dispatch goroutine has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }

type subscribeOptions struct {
	target string
	filter map[string]string
}

type SubscribeOption func(*subscribeOptions)

// WithTarget scopes the subscription to one contract or ledger address.
func WithTarget(target string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.target = target
	}
}

// WithFilter passes indexed-field filters to the event source.
func WithFilter(filter map[string]string) SubscribeOption {
	return func(o *subscribeOptions) {
		o.filter = filter
	}
}

// Subscribe starts delivering eventName events from source to callback on a
// dedicated goroutine. Each event id reaches the callback at most once.
func (c *Client) Subscribe(source EventSource, eventName string, callback Callback, opts ...SubscribeOption) (*Subscription, error) {
	if source == nil {
		return nil, errors.New("event source is required")
	}
	if eventName == "" {
		return nil, errors.New("event name is required")
	}
	if callback == nil {
		return nil, errors.New("callback is required")
	}
	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	seen, err := lru.New[string, struct{}](dedupeWindow)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, stop, err := source.Subscribe(ctx, o.target, eventName, o.filter)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe to %s: %w", eventName, err)
	}

	sub := &Subscription{
		eventName: eventName,
		target:    o.target,
		callback:  callback,
		seen:      seen,
		ctx:       ctx,
		cancel:    cancel,
		stop:      stop,
		done:      make(chan struct{}),
		logger:    c.logger,
		metrics:   c.metrics,
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()
	c.metrics.addSubscriptions(1)

	go sub.run(events)

	c.logger.Info("subscribed to ledger event",
		"event_name", eventName,
		"target", o.target,
	)
	return sub, nil
}

// Unsubscribe stops sub. It returns false when sub was already removed.
// It does not wait for an in-flight callback; use sub.Done for that.
func (c *Client) Unsubscribe(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	c.mu.Lock()
	_, ok := c.subs[sub]
	delete(c.subs, sub)
	c.mu.Unlock()
	if !ok {
		return false
	}

	sub.cancel()
	if sub.stop != nil {
		sub.stop()
	}
	c.metrics.addSubscriptions(-1)
	return true
}

// Close removes every active subscription.
func (c *Client) Close() {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()
	for _, sub := range subs {
		c.Unsubscribe(sub)
	}
}

func (s *Subscription) run(events <-chan models.Event) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if s.ctx.Err() != nil {
				return
			}
			s.dispatch(event)
		}
	}
}

func (s *Subscription) dispatch(event models.Event) {
	if event.ID != "" {
		if seen, _ := s.seen.ContainsOrAdd(event.ID, struct{}{}); seen {
			s.metrics.incDuplicate()
			s.logger.Debug("duplicate ledger event suppressed",
				"event_name", s.eventName,
				"event_id", event.ID,
			)
			return
		}
	}

	s.metrics.incDelivered()
	if err := s.invoke(event); err != nil {
		s.metrics.incCallbackFailure()
		s.logger.Error("ledger event callback failed",
			"event_name", s.eventName,
			"event_id", event.ID,
			"error", err,
		)
	}
}

func (s *Subscription) invoke(event models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return s.callback(s.ctx, event)
}
