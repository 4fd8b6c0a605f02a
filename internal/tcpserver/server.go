package tcpserver

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kickrbridge/kickrbridge/internal/gatt"
	"github.com/kickrbridge/kickrbridge/internal/safego"
	"github.com/kickrbridge/kickrbridge/internal/session"
)

// Port is the fixed TNP listen port (§4.4).
const Port = 36867

const acceptPollInterval = time.Second

// Server accepts TNP connections and binds each to a Session. It enforces
// a server-wide concurrent client cap; connections beyond the cap are
// accepted and immediately closed rather than queued.
type Server struct {
	mirror     *gatt.Mirror
	logger     *log.Logger
	maxClients int32

	listener net.Listener
	active   int32

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New creates a server bound to mirror with the given concurrent client cap.
func New(mirror *gatt.Mirror, logger *log.Logger, maxClients int32) *Server {
	if mirror == nil {
		panic("tcpserver.New: mirror cannot be nil")
	}
	if logger == nil {
		panic("tcpserver.New: logger cannot be nil")
	}
	if maxClients <= 0 {
		maxClients = 1
	}
	return &Server{
		mirror:     mirror,
		logger:     logger,
		maxClients: maxClients,
		stopChan:   make(chan struct{}),
	}
}

// ListenAndServe binds addr (e.g. ":36867" for dual-stack) and runs the
// accept loop until Stop is called. It blocks until the listener closes.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Printf("tcpserver: listening on %s", addr)

	for {
		select {
		case <-s.stopChan:
			return nil
		default:
		}

		if tcpListener, ok := listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopChan:
				return nil
			default:
				s.logger.Printf("tcpserver: accept error: %v", err)
				return err
			}
		}

		s.handleAccept(conn)
	}
}

func (s *Server) handleAccept(conn net.Conn) {
	if atomic.AddInt32(&s.active, 1) > s.maxClients {
		atomic.AddInt32(&s.active, -1)
		s.logger.Printf("tcpserver: rejecting %s, at capacity (%d)", conn.RemoteAddr(), s.maxClients)
		conn.Close()
		return
	}

	id := uuid.New().String()
	sess := session.New(id, conn, s.mirror, s.logger)
	s.logger.Printf("tcpserver: accepted %s as session %s", conn.RemoteAddr(), id)

	s.wg.Add(1)
	safego.Go(s.logger, func() {
		defer s.wg.Done()
		defer atomic.AddInt32(&s.active, -1)
		sess.Run()
	})
}

// ActiveSessions returns the current number of connected clients.
func (s *Server) ActiveSessions() int32 {
	return atomic.LoadInt32(&s.active)
}

// Stop closes the listener and waits for all in-flight sessions to finish
// their teardown.
func (s *Server) Stop() {
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}
