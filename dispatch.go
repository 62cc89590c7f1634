package racefeed

import (
	"fmt"

	"github.com/st-keller/racefeed-client/message"
	"github.com/st-keller/racefeed-client/state"
	"github.com/st-keller/racefeed-client/types"
)

// delivery is one queued subscriber callback. Exactly one field is set.
type delivery struct {
	change *state.Change
	msg    *message.Inbound
	err    error
}

type subscription struct {
	types.Subscriber
}

// Subscribe installs sub as the only consumer, replacing any previous one.
// Once Subscribe returns no new callback starts on the previous subscriber.
// Callbacks run on a single dispatcher goroutine, in the order the channel
// produced them, and may call back into the channel.
func (c *Channel) Subscribe(sub types.Subscriber) types.Unsubscribe {
	s := &subscription{Subscriber: sub}

	c.mu.Lock()
	c.sub = s
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		if c.sub == s {
			c.sub = nil
		}
		c.mu.Unlock()
	}
}

// enqueueLocked queues d and starts the dispatcher if it is idle.
// Caller holds c.mu.
func (c *Channel) enqueueLocked(d delivery) {
	c.queue = append(c.queue, d)
	if !c.dispatching {
		c.dispatching = true
		go c.drain()
	}
}

// drain delivers queued callbacks until the queue is empty, then exits.
func (c *Channel) drain() {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.dispatching = false
			c.mu.Unlock()
			return
		}
		d := c.queue[0]
		c.queue[0] = delivery{}
		c.queue = c.queue[1:]
		sub := c.sub
		c.mu.Unlock()

		if sub != nil {
			c.deliver(sub, d)
		}
	}
}

func (c *Channel) deliver(sub *subscription, d delivery) {
	defer func() {
		if r := recover(); r != nil {
			c.events.Error("Subscriber callback panicked", map[string]interface{}{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	switch {
	case d.change != nil:
		if sub.OnStateChange != nil {
			sub.OnStateChange(*d.change)
		}
	case d.msg != nil:
		if sub.OnMessage != nil {
			sub.OnMessage(*d.msg)
		}
	case d.err != nil:
		if sub.OnError != nil {
			sub.OnError(d.err)
		}
	}
}
