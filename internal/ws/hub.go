package ws

import (
	"log/slog"
	"sync"
)

const (
	broadcastBuffer = 256
	clientQueueSize = 16
)

// Subscriber abstracts a streaming client. Close must not block.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub fans payloads out to subscribers grouped by stream key. Each subscriber gets a bounded
// queue drained by its own writer goroutine; a subscriber whose queue is full is dropped.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]*peer
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	done      chan struct{}
	closeOnce sync.Once
	log       *slog.Logger
}

type message struct {
	key     string
	payload []byte
}

type subscription struct {
	key    string
	client Subscriber
}

type peer struct {
	sub  Subscriber
	out  chan []byte
	quit chan struct{}
}

// NewHub creates an initialized Hub and starts its dispatch loop.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	initMetrics()
	h := &Hub{
		clients:   make(map[string]map[Subscriber]*peer),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message, broadcastBuffer),
		done:      make(chan struct{}),
		log:       logger.With("component", "stream_hub"),
	}
	go h.run()
	return h
}

// run owns every state change. None of its branches block.
func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for key, clients := range h.clients {
				for sub, p := range clients {
					h.dropLocked(key, sub, p)
				}
			}
			h.mu.Unlock()
			return
		case s := <-h.register:
			h.mu.Lock()
			clients, ok := h.clients[s.key]
			if !ok {
				clients = make(map[Subscriber]*peer)
				h.clients[s.key] = clients
			}
			if _, exists := clients[s.client]; !exists {
				p := &peer{sub: s.client, out: make(chan []byte, clientQueueSize), quit: make(chan struct{})}
				clients[s.client] = p
				go h.pump(s.key, p)
			}
			h.mu.Unlock()
		case s := <-h.unreg:
			h.mu.Lock()
			if p, ok := h.clients[s.key][s.client]; ok {
				h.dropLocked(s.key, s.client, p)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for sub, p := range h.clients[msg.key] {
				select {
				case p.out <- msg.payload:
				default:
					h.log.Warn("dropping slow stream client", "queued", len(p.out))
					recordDropped("slow_client")
					h.dropLocked(msg.key, sub, p)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) dropLocked(key string, sub Subscriber, p *peer) {
	close(p.quit)
	sub.Close()
	clients := h.clients[key]
	delete(clients, sub)
	if len(clients) == 0 {
		delete(h.clients, key)
	}
}

// pump delivers queued payloads to one subscriber until it fails or is dropped.
func (h *Hub) pump(key string, p *peer) {
	for {
		select {
		case <-p.quit:
			return
		case payload := <-p.out:
			if err := p.sub.Send(payload); err != nil {
				h.Unregister(key, p.sub)
				return
			}
		}
	}
}

// Register adds a client to a stream.
func (h *Hub) Register(key string, client Subscriber) {
	select {
	case h.register <- subscription{key: key, client: client}:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client and closes it.
func (h *Hub) Unregister(key string, client Subscriber) {
	select {
	case h.unreg <- subscription{key: key, client: client}:
	case <-h.done:
	}
}

// Broadcast queues payload for every client of the stream. It never blocks; when the hub is
// saturated the payload is dropped.
func (h *Hub) Broadcast(key string, payload []byte) {
	select {
	case <-h.done:
		return
	default:
	}
	select {
	case h.broadcast <- message{key: key, payload: payload}:
	default:
		h.log.Warn("stream broadcast dropped", "pending", len(h.broadcast))
		recordDropped("hub_full")
	}
}

// Subscribers reports how many clients are attached to a stream.
func (h *Hub) Subscribers(key string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[key])
}

// Close stops the dispatch loop and closes every attached client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
