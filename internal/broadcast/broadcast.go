// Package broadcast implements the in-process status pub/sub (§4.K):
// topic-based, best-effort, non-blocking delivery, with a per-topic ring
// buffer new subscribers can replay to re-sync without a REST round trip.
// Grounded on the donor's Hub/PriceThrottler (hub.go): a gorilla/websocket
// client registry with non-blocking broadcast and ping/pong heartbeat,
// generalized here from one implicit price topic to six named topics.
package broadcast

import (
	"sync"
)

// Topic names the six event streams the engine multiplexes.
type Topic string

const (
	TopicLiquidation Topic = "liquidation"
	TopicThreshold   Topic = "threshold"
	TopicVWAP        Topic = "vwap"
	TopicPosition    Topic = "position"
	TopicOrder       Topic = "order"
	TopicError       Topic = "error"
)

const ringBufferSize = 64
const subscriberBuffer = 32

type subscriber struct {
	id int
	ch chan interface{}
}

type topicState struct {
	mu      sync.Mutex
	ring    []interface{}
	ringPos int
	subs    map[int]*subscriber
	nextID  int
}

func newTopicState() *topicState {
	return &topicState{subs: make(map[int]*subscriber)}
}

func (t *topicState) publish(msg interface{}) {
	t.mu.Lock()
	if len(t.ring) < ringBufferSize {
		t.ring = append(t.ring, msg)
	} else {
		t.ring[t.ringPos] = msg
		t.ringPos = (t.ringPos + 1) % ringBufferSize
	}
	subs := make([]*subscriber, 0, len(t.subs))
	for _, s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			// slow subscriber dropped per-message; it can re-sync via Snapshot.
		}
	}
}

func (t *topicState) snapshot() []interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]interface{}, 0, len(t.ring))
	if len(t.ring) < ringBufferSize {
		out = append(out, t.ring...)
		return out
	}
	out = append(out, t.ring[t.ringPos:]...)
	out = append(out, t.ring[:t.ringPos]...)
	return out
}

func (t *topicState) subscribe() *subscriber {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	s := &subscriber{id: t.nextID, ch: make(chan interface{}, subscriberBuffer)}
	t.subs[s.id] = s
	return s
}

func (t *topicState) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.subs[id]; ok {
		close(s.ch)
		delete(t.subs, id)
	}
}

// Broadcaster is the engine-wide event bus. Within a topic, messages arrive
// in publication order for each subscriber; there is no ordering guarantee
// across topics.
type Broadcaster struct {
	mu     sync.Mutex
	topics map[Topic]*topicState
}

func New() *Broadcaster {
	return &Broadcaster{topics: make(map[Topic]*topicState)}
}

func (b *Broadcaster) stateFor(topic Topic) *topicState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.topics[topic]
	if !ok {
		st = newTopicState()
		b.topics[topic] = st
	}
	return st
}

// Publish delivers msg to every current subscriber of topic, dropping slow
// subscribers for this message rather than blocking the publisher.
func (b *Broadcaster) Publish(topic Topic, msg interface{}) {
	b.stateFor(topic).publish(msg)
}

// Subscription is a live handle a caller reads from and must Close when done.
type Subscription struct {
	topic Topic
	state *topicState
	sub   *subscriber
}

// Messages returns the channel to range over for delivered events.
func (s *Subscription) Messages() <-chan interface{} { return s.sub.ch }

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() { s.state.unsubscribe(s.sub.id) }

// Subscribe registers a new best-effort, non-blocking listener on topic.
func (b *Broadcaster) Subscribe(topic Topic) *Subscription {
	st := b.stateFor(topic)
	return &Subscription{topic: topic, state: st, sub: st.subscribe()}
}

// Snapshot returns the ring buffer's current contents in publication order,
// for a new subscriber (or an HTTP REST caller) to re-sync state without
// waiting on live events.
func (b *Broadcaster) Snapshot(topic Topic) []interface{} {
	return b.stateFor(topic).snapshot()
}
