package speech

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxrip/voxrip/internal/fault"
)

// Event channel capacities. Finals are rare, interims are chatty.
const (
	finalsBuffer   = 16
	interimsBuffer = 64
	errorsBuffer   = 16
)

// wireMessage is the envelope the browser client sends over the socket.
type wireMessage struct {
	Type         string        `json:"type"`
	Transcript   string        `json:"transcript,omitempty"`
	Confidence   float64       `json:"confidence,omitempty"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Kind         string        `json:"kind,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// controlMessage is what the service sends back to steer the browser
// recognizer.
type controlMessage struct {
	Type string `json:"type"`
}

// SocketOption configures a [Socket].
type SocketOption func(*Socket)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) SocketOption {
	return func(s *Socket) { s.log = log }
}

// Socket is a [Source] fed by a browser client over a websocket. The
// server accepts the connection and hands it over via [Socket.Attach];
// the socket survives reconnects by moving through Recovering until the
// next Attach. Safe for concurrent use.
type Socket struct {
	log *slog.Logger

	finals   chan Final
	interims chan Interim
	errs     chan ErrorEvent

	mu      sync.Mutex
	state   State
	started bool
	paused  bool
	conn    *websocket.Conn

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

var _ Source = (*Socket)(nil)

// NewSocket creates a detached [Socket] in the idle state.
func NewSocket(opts ...SocketOption) *Socket {
	s := &Socket{
		log:      slog.Default(),
		finals:   make(chan Final, finalsBuffer),
		interims: make(chan Interim, interimsBuffer),
		errs:     make(chan ErrorEvent, errorsBuffer),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start arms the source. With no client attached yet the source stays
// in Starting until [Socket.Attach]. Idempotent.
func (s *Socket) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	if s.conn != nil {
		s.state = StateListening
		s.sendControlLocked(ctx, "start")
	} else {
		s.state = StateStarting
	}
	return nil
}

// Attach takes ownership of an accepted websocket connection and begins
// reading transcript events from it. A source in Recovering resumes
// listening; an unstarted source parks the connection until Start.
// The returned channel closes when this connection stops being read.
func (s *Socket) Attach(ctx context.Context, conn *websocket.Conn) <-chan struct{} {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	if s.started {
		s.state = StateListening
		s.sendControlLocked(ctx, "start")
		if s.paused {
			s.sendControlLocked(ctx, "pause")
		}
	}
	s.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusGoingAway, "replaced by new client")
	}

	gone := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer close(gone)
		s.readLoop(ctx, conn)
	}()
	return gone
}

// Pause instructs the client to stop recognizing; queued transcript
// events arriving while paused are dropped. Idempotent.
func (s *Socket) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused {
		return
	}
	s.paused = true
	s.sendControlLocked(context.Background(), "pause")
}

// Resume undoes [Socket.Pause]. Idempotent.
func (s *Socket) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.paused {
		return
	}
	s.paused = false
	s.sendControlLocked(context.Background(), "resume")
}

// Stop shuts the source down for good and closes the event channels.
// Idempotent.
func (s *Socket) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.state = StateStopping
		conn := s.conn
		s.conn = nil
		s.mu.Unlock()

		close(s.done)
		if conn != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "source stopped")
		}
		s.wg.Wait()

		s.mu.Lock()
		s.state = StateIdle
		s.started = false
		s.mu.Unlock()

		close(s.finals)
		close(s.interims)
		close(s.errs)
	})
}

// Finals returns the committed-transcript channel.
func (s *Socket) Finals() <-chan Final { return s.finals }

// Interims returns the provisional-transcript channel.
func (s *Socket) Interims() <-chan Interim { return s.interims }

// Errors returns the recognizer-failure channel.
func (s *Socket) Errors() <-chan ErrorEvent { return s.errs }

// State returns the current lifecycle state.
func (s *Socket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// sendControlLocked writes a control frame to the attached client.
// Caller holds s.mu. Write failures are logged, not surfaced; the read
// loop notices a dead connection anyway.
func (s *Socket) sendControlLocked(ctx context.Context, typ string) {
	if s.conn == nil {
		return
	}
	payload, err := json.Marshal(controlMessage{Type: typ})
	if err != nil {
		return
	}
	if err := s.conn.Write(ctx, websocket.MessageText, payload); err != nil {
		s.log.Warn("speech control write failed", "control", typ, "error", err)
	}
}

// readLoop consumes transcript events from one connection until it
// drops. An unexpected drop moves the source to Recovering so a
// reconnecting client can pick up where it left off.
func (s *Socket) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.wg.Done()
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.mu.Lock()
			stale := s.conn != conn
			if !stale {
				s.conn = nil
				if s.started {
					s.state = StateRecovering
				}
			}
			s.mu.Unlock()
			if !stale {
				s.log.Info("speech client disconnected", "error", err)
				s.emitError(ErrorEvent{
					Kind:      fault.KindNetwork,
					Retryable: true,
					Message:   "speech client disconnected",
				})
			}
			return
		}
		s.dispatch(msg)
	}
}

// dispatch parses one wire message and routes it. Transcript events
// are dropped while paused; errors always pass through.
func (s *Socket) dispatch(raw []byte) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.log.Debug("discarding unparseable speech message", "error", err)
		return
	}

	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()

	switch msg.Type {
	case "final":
		if paused || msg.Transcript == "" {
			return
		}
		s.emitFinal(Final{
			Transcript:   msg.Transcript,
			Confidence:   msg.Confidence,
			Alternatives: msg.Alternatives,
		})
	case "interim":
		if paused {
			return
		}
		s.emitInterim(Interim{Transcript: msg.Transcript, Confidence: msg.Confidence})
	case "error":
		kind := kindFromWire(msg.Kind)
		s.emitError(ErrorEvent{
			Kind:      kind,
			Retryable: fault.IsRetryableKind(kind),
			Message:   msg.Message,
		})
	default:
		s.log.Debug("ignoring unknown speech message type", "type", msg.Type)
	}
}

func (s *Socket) emitFinal(f Final) {
	select {
	case s.finals <- f:
	case <-s.done:
	default:
		s.log.Warn("dropping final transcript, consumer too slow", "transcript", f.Transcript)
	}
}

func (s *Socket) emitInterim(i Interim) {
	select {
	case s.interims <- i:
	case <-s.done:
	default:
	}
}

func (s *Socket) emitError(e ErrorEvent) {
	select {
	case s.errs <- e:
	case <-s.done:
	default:
	}
}
