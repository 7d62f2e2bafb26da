package ipc

import (
	"net"
	"os"
	"sync"
	"time"

	"github.com/kartikbazzad/corebase/internal/logger"
	"github.com/panjf2000/ants/v2"
)

// Server accepts connections on a Unix domain socket and serves each one
// with Handler, optionally bounding concurrent connection handlers with a
// fixed-size goroutine pool. Grounded on
// docdb/internal/ipc.Server accept-loop/connection-pool structure.
type Server struct {
	socketPath string
	log        *logger.Logger
	handler    *Handler

	listener net.Listener
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool

	connections map[net.Conn]bool
	connMu      sync.Mutex
	connPool    *ants.Pool // nil means unlimited concurrent connections
}

// NewServer builds a Server listening at socketPath once Start is called.
// maxConnections <= 0 means no bound on concurrent connection handlers.
func NewServer(socketPath string, handler *Handler, maxConnections int, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	s := &Server{
		socketPath:  socketPath,
		log:         log,
		handler:     handler,
		connections: make(map[net.Conn]bool),
	}
	if maxConnections > 0 {
		pool, err := ants.NewPool(maxConnections, ants.WithPanicHandler(func(v interface{}) {
			log.Error("IPC connection handler panic: %v", v)
		}))
		if err == nil {
			s.connPool = pool
		}
	}
	return s
}

// Start removes any stale socket file, binds, and begins accepting
// connections in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.log.Warn("failed to remove stale socket: %v", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return err
	}
	s.listener = listener
	s.running = true

	s.log.Info("IPC server listening on %s", s.socketPath)
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, closes every open connection to unblock any
// in-flight read, and waits for all handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.running = false
	s.mu.Unlock()

	s.connMu.Lock()
	for conn := range s.connections {
		conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	if s.connPool != nil {
		_ = s.connPool.ReleaseTimeout(3 * time.Second)
		s.connPool = nil
	}
	s.log.Info("IPC server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stillRunning := s.running
			s.mu.Unlock()
			if !stillRunning {
				return
			}
			s.log.Error("accept error: %v", err)
			continue
		}

		s.connMu.Lock()
		s.connections[conn] = true
		s.connMu.Unlock()

		s.wg.Add(1)
		if s.connPool != nil {
			if err := s.connPool.Submit(func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}); err != nil {
				s.wg.Done()
				conn.Close()
				s.forgetConn(conn)
				s.log.Error("failed to submit connection handler: %v", err)
			}
		} else {
			go func() {
				defer s.wg.Done()
				s.handleConnection(conn)
			}()
		}
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.forgetConn(conn)
	}()

	for {
		req, err := readRequest(conn)
		if err != nil {
			return
		}
		resp := s.handler.Handle(req)
		if err := writeResponse(conn, resp); err != nil {
			s.log.Error("failed to write response: %v", err)
			return
		}
	}
}

func (s *Server) forgetConn(conn net.Conn) {
	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()
}
