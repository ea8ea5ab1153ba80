package bus

import "context"

// inboundCapacity is the bounded inbound channel's capacity. A channel
// adapter publishing inbound messages suspends once the buffer is full,
// naturally rate-limiting a flood of external traffic.
const inboundCapacity = 256

// outboundCapacity bounds the outbound queue the same way; slow channel
// sends simply apply backpressure to the session manager rather than
// growing memory without limit.
const outboundCapacity = 256

// MessageBus is the single bounded inbound queue plus outbound queue that
// connects channel plugins to the channel manager's routing loop. It is the
// concrete implementation of MessageRouter.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// NewMessageBus constructs a bus with the core's fixed queue capacities.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundCapacity),
		outbound: make(chan OutboundMessage, outboundCapacity),
	}
}

// PublishInbound enqueues a message from a channel adapter. It blocks while
// the inbound queue is full; callers that must not block should use a
// select with ctx.Done() around this call themselves — the bus does not
// impose a timeout.
func (b *MessageBus) PublishInbound(msg InboundMessage) error {
	b.inbound <- msg
	return nil
}

// ConsumeInbound is used exclusively by the channel manager's single
// routing loop. It returns (msg, true) on receipt, or (zero, false) if ctx
// is cancelled first.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

// PublishOutbound enqueues a message produced by a session for delivery
// back out through a channel plugin.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) error {
	b.outbound <- msg
	return nil
}

// SubscribeOutbound is used by the channel manager's outbound dispatcher
// goroutine. Like ConsumeInbound, it returns false once ctx is cancelled.
func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
