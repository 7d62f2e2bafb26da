package replication

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kartikbazzad/corebase/internal/logger"
)

// ShipClient is the follower side of WAL shipping: it dials the
// authority's ShipServer, sends its current last_applied_lsn as the
// handshake, and feeds every record it receives into a Follower until
// the connection drops or ctx is cancelled, then reconnects after a
// short backoff (spec §4.6 WAL shipping).
type ShipClient struct {
	authorityAddr string
	follower      *Follower
	log           *logger.Logger
	dialer        net.Dialer
}

func NewShipClient(authorityAddr string, follower *Follower, log *logger.Logger) *ShipClient {
	if log == nil {
		log = logger.Default()
	}
	return &ShipClient{authorityAddr: authorityAddr, follower: follower, log: log}
}

// Run dials and consumes the shipping stream in a loop until ctx is
// done. It is meant to be run in its own goroutine for the lifetime of
// a follower node.
func (c *ShipClient) Run(ctx context.Context) {
	backoff := 500 * time.Millisecond
	const maxBackoff = 10 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.connectOnce(ctx); err != nil {
			c.log.Warn("ship client: %v, retrying in %s", err, backoff)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (c *ShipClient) connectOnce(ctx context.Context) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", c.authorityAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	var handshake [8]byte
	binary.LittleEndian.PutUint64(handshake[:], uint64(c.follower.LastAppliedLSN()))
	if _, err := conn.Write(handshake[:]); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.follower.Consume(conn)
	})
	g.Go(func() error {
		<-gctx.Done()
		conn.Close()
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return ctx.Err()
}
