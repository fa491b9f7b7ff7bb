// Package events records the notifications emitted by the ledger: fee
// collection, transfers, approvals and every administrative change. Events
// are kept in a bounded ring buffer for the query API and fanned out to
// subscribers such as the websocket stream.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/token_ledger/internal/logging"
)

// EventType classifies a ledger notification.
type EventType string

const (
	// Value movement
	EventTransfer     EventType = "token.transfer"
	EventApproval     EventType = "token.approval"
	EventBurn         EventType = "token.burn"
	EventFeeCollected EventType = "fee.collected"

	// Fee policy and sink
	EventFeeUpdated        EventType = "fee.updated"
	EventFeeAddressUpdated EventType = "fee.address_updated"

	// Liquidity pairs
	EventPairAdded   EventType = "pair.added"
	EventPairRemoved EventType = "pair.removed"

	// Ownership
	EventOwnershipTransferStarted  EventType = "ownership.transfer_started"
	EventOwnershipTransferCanceled EventType = "ownership.transfer_canceled"
	EventOwnershipTransferred      EventType = "ownership.transferred"

	// Pause switch
	EventPaused   EventType = "system.paused"
	EventUnpaused EventType = "system.unpaused"
)

var knownTypes = map[EventType]struct{}{
	EventTransfer: {}, EventApproval: {}, EventBurn: {}, EventFeeCollected: {},
	EventFeeUpdated: {}, EventFeeAddressUpdated: {},
	EventPairAdded: {}, EventPairRemoved: {},
	EventOwnershipTransferStarted: {}, EventOwnershipTransferCanceled: {}, EventOwnershipTransferred: {},
	EventPaused: {}, EventUnpaused: {},
}

// ParseEventType returns the EventType named s, if it is one the ledger emits.
func ParseEventType(s string) (EventType, bool) {
	t := EventType(s)
	_, ok := knownTypes[t]
	return t, ok
}

// Event is one ledger notification. Accounts are Neo addresses and amounts
// are decimal strings of base units.
type Event struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Caller    string `json:"caller,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Owner     string `json:"owner,omitempty"`
	Spender   string `json:"spender,omitempty"`
	Account   string `json:"account,omitempty"`
	Previous  string `json:"previous,omitempty"`
	Current   string `json:"current,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Fee       string `json:"fee,omitempty"`
	Net       string `json:"net,omitempty"`
	RateBps   uint16 `json:"rate_bps,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// String returns the JSON encoding.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// EventHandler processes events as they are published.
type EventHandler func(Event)

// EventFilter decides whether an event should reach a handler.
type EventFilter func(Event) bool

// TypeFilter matches any of the given types.
func TypeFilter(types ...EventType) EventFilter {
	set := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// Publisher is what the ledger needs from an event sink.
type Publisher interface {
	Publish(event Event)
}

// RingBuffer is a thread-safe circular buffer of recent events.
type RingBuffer struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  EventFilter
	handler EventHandler
}

// NewRingBuffer creates a buffer holding at most size events.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish stores event and notifies subscribers outside the lock.
func (rb *RingBuffer) Publish(event Event) {
	rb.mu.Lock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	rb.events[rb.head] = event
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns its cancel func.
func (rb *RingBuffer) Subscribe(handler EventHandler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees events passing filter.
func (rb *RingBuffer) SubscribeFiltered(filter EventFilter, handler EventHandler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{
		id:      id,
		filter:  filter,
		handler: handler,
	})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (rb *RingBuffer) Recent(n int) []Event {
	return rb.RecentFiltered(nil, n)
}

// RecentByType returns up to n events of one type, newest first.
func (rb *RingBuffer) RecentByType(eventType EventType, n int) []Event {
	return rb.RecentFiltered(TypeFilter(eventType), n)
}

// RecentFiltered returns up to n events passing filter, newest first.
func (rb *RingBuffer) RecentFiltered(filter EventFilter, n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Event
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if filter == nil || filter(rb.events[idx]) {
			result = append(result, rb.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Clear drops every buffered event. Subscriptions are kept.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.events = make([]Event, rb.size)
	rb.head = 0
	rb.count = 0
}

// EventBuilder provides a fluent API for creating events.
type EventBuilder struct {
	event Event
}

// NewEvent starts an event of the given type.
func NewEvent(eventType EventType) *EventBuilder {
	return &EventBuilder{
		event: Event{
			Type:      eventType,
			Timestamp: time.Now().UTC(),
		},
	}
}

// Caller sets the account that made the call.
func (b *EventBuilder) Caller(addr string) *EventBuilder {
	b.event.Caller = addr
	return b
}

// Route sets the from/to accounts.
func (b *EventBuilder) Route(from, to string) *EventBuilder {
	b.event.From = from
	b.event.To = to
	return b
}

// Approval sets the owner/spender accounts.
func (b *EventBuilder) Approval(owner, spender string) *EventBuilder {
	b.event.Owner = owner
	b.event.Spender = spender
	return b
}

// Account sets the subject account.
func (b *EventBuilder) Account(addr string) *EventBuilder {
	b.event.Account = addr
	return b
}

// Change sets the before/after values.
func (b *EventBuilder) Change(previous, current string) *EventBuilder {
	b.event.Previous = previous
	b.event.Current = current
	return b
}

// Amount sets the moved amount.
func (b *EventBuilder) Amount(amount string) *EventBuilder {
	b.event.Amount = amount
	return b
}

// Fee sets the fee and net amounts.
func (b *EventBuilder) Fee(fee, net string) *EventBuilder {
	b.event.Fee = fee
	b.event.Net = net
	return b
}

// Rate sets the fee rate in basis points.
func (b *EventBuilder) Rate(bps uint16) *EventBuilder {
	b.event.RateBps = bps
	return b
}

// WithContext copies the trace identifier from ctx.
func (b *EventBuilder) WithContext(ctx context.Context) *EventBuilder {
	b.event.TraceID = logging.GetTraceID(ctx)
	return b
}

// Build returns the constructed event.
func (b *EventBuilder) Build() Event {
	if b.event.ID == "" {
		b.event.ID = uuid.NewString()
	}
	return b.event
}

// NoOpPublisher discards everything.
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(Event) {}

// LogPublisher writes every event to a structured logger as an audit trail.
type LogPublisher struct {
	logger *logging.Logger
}

// NewLogPublisher creates a publisher logging at info level.
func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish logs event with its non-empty attributes.
func (p *LogPublisher) Publish(event Event) {
	fields := map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
		"sequence":   event.Sequence,
	}
	for key, value := range map[string]string{
		"caller":   event.Caller,
		"from":     event.From,
		"to":       event.To,
		"owner":    event.Owner,
		"spender":  event.Spender,
		"account":  event.Account,
		"previous": event.Previous,
		"current":  event.Current,
		"amount":   event.Amount,
		"fee":      event.Fee,
		"net":      event.Net,
		"trace_id": event.TraceID,
	} {
		if value != "" {
			fields[key] = value
		}
	}
	if event.RateBps != 0 {
		fields["rate_bps"] = event.RateBps
	}
	p.logger.WithFields(fields).Info("Ledger event")
}
