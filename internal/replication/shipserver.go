package replication

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/kartikbazzad/corebase/internal/logger"
	"github.com/kartikbazzad/corebase/internal/wal"
)

// ShipServer is the authority side of WAL shipping: it accepts TCP
// connections from followers, reads each one's reported last_applied_lsn
// as an 8-byte handshake, and then streams every newer record to it,
// polling for new appends once it catches up (spec §4.6 WAL shipping).
type ShipServer struct {
	w            *wal.WAL
	pollInterval time.Duration
	log          *logger.Logger
}

func NewShipServer(w *wal.WAL, pollInterval time.Duration, log *logger.Logger) *ShipServer {
	if log == nil {
		log = logger.Default()
	}
	if pollInterval <= 0 {
		pollInterval = 20 * time.Millisecond
	}
	return &ShipServer{w: w, pollInterval: pollInterval, log: log}
}

// Serve accepts connections on l until it returns an error (typically
// because l was closed during shutdown).
func (s *ShipServer) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *ShipServer) handleConn(conn net.Conn) {
	defer conn.Close()

	connID := NewNodeID()

	var handshake [8]byte
	if _, err := io.ReadFull(conn, handshake[:]); err != nil {
		s.log.Warn("ship: conn %s: handshake read failed: %v", connID, err)
		return
	}
	from := wal.LSN(binary.LittleEndian.Uint64(handshake[:])) + 1
	s.log.Info("ship: conn %s: follower attached from lsn %d", connID, from)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		var last wal.LSN
		seen := false
		err := s.w.Iterate(from, func(rec wal.Record) error {
			if err := WriteRecord(conn, rec); err != nil {
				return err
			}
			last = rec.LSN
			seen = true
			return nil
		})
		if err != nil {
			s.log.Warn("ship: conn %s: streaming to follower stopped: %v", connID, err)
			return
		}
		if seen {
			from = last + 1
		}
		<-ticker.C
	}
}
