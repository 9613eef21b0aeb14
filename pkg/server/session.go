package server

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/catherinesyeh/cs262-chat/pkg/protocol"
	"github.com/catherinesyeh/cs262-chat/pkg/store"
)

// Session owns one physical connection. The first byte of the first
// request latches the codec for the connection's lifetime; every frame
// in both directions then uses it.
//
// All writes go through writeMu. Request handling writes from the
// session's own goroutine, but a live push writes to this connection
// from the sender's goroutine; without the mutex their bytes could
// interleave on the wire.
type Session struct {
	ID         uint64
	RemoteAddr string

	conn        net.Conn
	reader      *bufio.Reader
	writeMu     sync.Mutex
	pushTimeout time.Duration

	mu        sync.RWMutex // protects codec, accountID, username
	codec     protocol.Codec
	accountID int64 // 0 when not logged in
	username  string
}

func newSession(id uint64, conn net.Conn, pushTimeout time.Duration) *Session {
	return &Session{
		ID:          id,
		RemoteAddr:  conn.RemoteAddr().String(),
		conn:        conn,
		reader:      bufio.NewReader(conn),
		pushTimeout: pushTimeout,
	}
}

// latchCodec selects the codec from the first byte of the first request:
// '{' selects the structured-text codec, anything else the binary one.
func (s *Session) latchCodec(first byte) protocol.Codec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codec == nil {
		if first == '{' {
			s.codec = protocol.JSONCodec{}
		} else {
			s.codec = protocol.WireCodec{}
		}
	}
	return s.codec
}

// Codec returns the latched codec, or nil before the first request.
func (s *Session) Codec() protocol.Codec {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codec
}

func (s *Session) setAccount(id int64, username string) {
	s.mu.Lock()
	s.accountID = id
	s.username = username
	s.mu.Unlock()
}

func (s *Session) clearAccount() {
	s.setAccount(0, "")
}

// account returns the logged-in account id and username (0, "" if none).
func (s *Session) account() (int64, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accountID, s.username
}

// WriteResponse encodes and writes one response under the write lock.
func (s *Session) WriteResponse(resp protocol.Response) error {
	codec := s.Codec()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return codec.EncodeResponse(s.conn, resp)
}

// PushMessage implements store.PushTarget: it delivers a message to this
// connection as an unsolicited single-message REQUEST_MESSAGES response,
// in this connection's own codec. The attempt is bounded by a write
// deadline so a stalled recipient cannot block the sender's request.
func (s *Session) PushMessage(msg store.Message, sender string) error {
	codec := s.Codec()

	resp := protocol.RequestMessagesResponse{
		Messages: []protocol.DeliveredMessage{{
			ID:      uint32(msg.ID),
			Sender:  sender,
			Message: msg.Body,
		}},
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.pushTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.pushTimeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return codec.EncodeResponse(s.conn, resp)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
