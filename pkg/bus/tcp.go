package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/cuemby/council/pkg/log"
)

// wireFrame is the line-delimited JSON envelope exchanged between a
// TCPBus client and the BrokerServer. It plays the same role for the
// bus transport that pkg/council/protocol.Envelope plays for Council's
// own worker protocol, one layer down.
type wireFrame struct {
	Op      string `json:"op"`                // "pub" | "sub" | "unsub" | "msg"
	Subject string `json:"subject"`
	Payload []byte `json:"payload,omitempty"`
}

// BrokerServer is the process that real (non-memory) deployments run
// so that a coordinator and its workers, each a TCPBus client, can
// exchange frames across process/machine boundaries. Grounded on the
// teacher's pkg/api.Server: a net.Listen + Accept loop started by
// Start and torn down by Stop, adapted from a single gRPC service to a
// line-oriented pub/sub broker.
type BrokerServer struct {
	mu       sync.RWMutex
	subs     map[string]map[net.Conn]*bufio.Writer
	listener net.Listener
	stopCh   chan struct{}
}

// NewBrokerServer creates a broker ready to Start.
func NewBrokerServer() *BrokerServer {
	return &BrokerServer{
		subs:   make(map[string]map[net.Conn]*bufio.Writer),
		stopCh: make(chan struct{}),
	}
}

// Start listens on addr and accepts client connections until Stop is called.
func (s *BrokerServer) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bus broker: listen %s: %w", addr, err)
	}
	s.listener = lis

	logger := log.WithComponent("bus-broker")
	logger.Info().Str("addr", addr).Msg("bus broker listening")

	go func() {
		for {
			conn, err := lis.Accept()
			if err != nil {
				select {
				case <-s.stopCh:
					return
				default:
					logger.Error().Err(err).Msg("bus broker accept failed")
					return
				}
			}
			go s.handleConn(conn)
		}
	}()

	return nil
}

// Stop closes the listener. Connections already accepted are not
// closed; each stays open until its client disconnects.
func (s *BrokerServer) Stop() error {
	close(s.stopCh)
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *BrokerServer) handleConn(conn net.Conn) {
	logger := log.WithComponent("bus-broker")
	defer conn.Close()

	writer := bufio.NewWriter(conn)
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	defer s.removeConn(conn)

	for scanner.Scan() {
		var frame wireFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}

		switch frame.Op {
		case "sub":
			s.addSub(frame.Subject, conn, writer)
		case "unsub":
			s.removeSub(frame.Subject, conn)
		case "pub":
			s.broadcast(frame.Subject, frame.Payload)
		default:
			logger.Warn().Str("op", frame.Op).Msg("unknown bus op")
		}
	}
}

func (s *BrokerServer) addSub(subject string, conn net.Conn, writer *bufio.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[subject] == nil {
		s.subs[subject] = make(map[net.Conn]*bufio.Writer)
	}
	s.subs[subject][conn] = writer
}

func (s *BrokerServer) removeSub(subject string, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subs[subject]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(s.subs, subject)
		}
	}
}

func (s *BrokerServer) removeConn(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, subs := range s.subs {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(s.subs, subject)
		}
	}
}

func (s *BrokerServer) broadcast(subject string, payload []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	frame := wireFrame{Op: "msg", Subject: subject, Payload: payload}
	line, err := json.Marshal(frame)
	if err != nil {
		return
	}
	line = append(line, '\n')

	for _, writer := range s.subs[subject] {
		if _, err := writer.Write(line); err != nil {
			continue
		}
		_ = writer.Flush()
	}
}

// TCPBus is a MessageBus client that dials a BrokerServer and exchanges
// newline-delimited JSON frames with it. Connect lifecycle is grounded
// on the teacher's pkg/client.Client: dial once at construction, one
// goroutine reading frames off the connection for the lifetime of the
// bus, Close tears the connection down.
type TCPBus struct {
	conn   net.Conn
	writer *bufio.Writer

	mu   sync.Mutex
	subs map[string]map[chan Message]struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// DialTCPBus connects to a BrokerServer at addr.
func DialTCPBus(addr string) (*TCPBus, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", addr, err)
	}

	b := &TCPBus{
		conn:   conn,
		writer: bufio.NewWriter(conn),
		subs:   make(map[string]map[chan Message]struct{}),
		closed: make(chan struct{}),
	}
	go b.readLoop()
	return b, nil
}

func (b *TCPBus) readLoop() {
	logger := log.WithComponent("bus-client")
	scanner := bufio.NewScanner(b.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		var frame wireFrame
		if err := json.Unmarshal(scanner.Bytes(), &frame); err != nil {
			logger.Warn().Err(err).Msg("dropping malformed frame")
			continue
		}
		if frame.Op != "msg" {
			continue
		}

		b.mu.Lock()
		subs := b.subs[frame.Subject]
		msg := Message{Subject: frame.Subject, Payload: frame.Payload}
		for ch := range subs {
			select {
			case ch <- msg:
			default:
			}
		}
		b.mu.Unlock()
	}

	close(b.closed)
}

func (b *TCPBus) send(frame wireFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	line, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	if _, err := b.writer.Write(line); err != nil {
		return err
	}
	return b.writer.Flush()
}

// Publish sends payload to subject via the broker.
func (b *TCPBus) Publish(_ context.Context, subject string, payload []byte) error {
	select {
	case <-b.closed:
		return ErrClosed
	default:
	}
	return b.send(wireFrame{Op: "pub", Subject: subject, Payload: payload})
}

// Subscribe registers interest in subject with the broker.
func (b *TCPBus) Subscribe(_ context.Context, subject string) (*Subscription, error) {
	select {
	case <-b.closed:
		return nil, ErrClosed
	default:
	}

	ch := make(chan Message, subscriberBuffer)

	b.mu.Lock()
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[chan Message]struct{})
	}
	b.subs[subject][ch] = struct{}{}
	b.mu.Unlock()

	if err := b.send(wireFrame{Op: "sub", Subject: subject}); err != nil {
		b.mu.Lock()
		delete(b.subs[subject], ch)
		b.mu.Unlock()
		return nil, err
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			_ = b.send(wireFrame{Op: "unsub", Subject: subject})
			b.mu.Lock()
			delete(b.subs[subject], ch)
			b.mu.Unlock()
			close(ch)
		})
	}

	return &Subscription{C: ch, Unsubscribe: unsubscribe}, nil
}

// Close closes the underlying connection.
func (b *TCPBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		err = b.conn.Close()
	})
	return err
}
