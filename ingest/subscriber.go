package ingest

import (
	"log"
	"sync"
	"time"
)

// Subscriber owns the feed Client's lifecycle: connect, read loop,
// dispatch, and idle-cancel/reconnect, adapted from websocket/manager.go's
// ConnectionManager (minus the Stockbit auth-token refresh dance — this
// feed authenticates once at dial time via API key, spec §6).
type Subscriber struct {
	client       *Client
	dispatcher   *Dispatcher
	heartbeat    time.Duration
	reconnectGap time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// NewSubscriber builds a subscriber over an already-constructed client.
func NewSubscriber(client *Client, dispatcher *Dispatcher, heartbeat time.Duration) *Subscriber {
	return &Subscriber{
		client:       client,
		dispatcher:   dispatcher,
		heartbeat:    heartbeat,
		reconnectGap: 2 * time.Second,
		done:         make(chan struct{}),
	}
}

// Start connects and runs the read loop until Stop is called, transparently
// reconnecting on idle-cancel or read errors.
func (s *Subscriber) Start() {
	s.wg.Add(1)
	defer s.wg.Done()

	log.Println("✅ feed subscriber started")
	for {
		select {
		case <-s.done:
			log.Println("🛑 feed subscriber stopped")
			return
		default:
		}

		if err := s.client.Connect(); err != nil {
			log.Printf("⚠️  feed connect failed: %v, retrying in %v", err, s.reconnectGap)
			s.sleepOrDone(s.reconnectGap)
			continue
		}
		s.client.StartPing()

		s.readLoop()

		s.client.Close()
		select {
		case <-s.done:
			return
		default:
			log.Printf("🔄 reconnecting to feed in %v", s.reconnectGap)
			s.sleepOrDone(s.reconnectGap)
		}
	}
}

// readLoop reads frames until 3 consecutive read timeouts of the
// heartbeat interval elapse (spec §5's idle-cancel rule) or the
// connection errors outright, then returns so Start can reconnect.
func (s *Subscriber) readLoop() {
	consecutiveTimeouts := 0
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.client.SetReadTimeout(s.heartbeat); err != nil {
			return
		}

		f, err := s.client.ReadFrame()
		if err != nil {
			if isTimeout(err) {
				consecutiveTimeouts++
				if consecutiveTimeouts >= 3 {
					log.Printf("⚠️  feed idle for %v, cancelling connection", 3*s.heartbeat)
					return
				}
				continue
			}
			log.Printf("⚠️  feed read error: %v", err)
			return
		}
		consecutiveTimeouts = 0

		if err := s.dispatcher.Dispatch(f); err != nil {
			log.Printf("⚠️  feed dispatch error: %v", err)
		}
	}
}

func (s *Subscriber) sleepOrDone(d time.Duration) {
	select {
	case <-time.After(d):
	case <-s.done:
	}
}

// Stop signals the subscriber to exit and waits for it to finish.
func (s *Subscriber) Stop() {
	close(s.done)
	s.client.Close()
	s.wg.Wait()
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}
