// Package mediasink receives the RTP audio that external-media channels
// stream out of Asterisk. The sink only drains and counts: the point of
// the stream is to exercise the media path under load, not to decode it.
package mediasink

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
)

// maxRTPPacket is the maximum UDP packet size we handle. Standard
// Ethernet MTU minus IP/UDP headers gives ~1472 bytes, but we allow
// larger for jumbo frames or aggregation.
const maxRTPPacket = 1500

// Sink is a UDP listener draining external-media streams.
type Sink struct {
	conn   *net.UDPConn
	logger *slog.Logger

	packets atomic.Int64
	bytes   atomic.Int64

	closeOnce sync.Once
	done      chan struct{}
}

// Listen binds the sink to addr (host:port) and starts draining.
func Listen(addr string, logger *slog.Logger) (*Sink, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	s := &Sink{
		conn:   conn,
		logger: logger.With("subsystem", "mediasink", "addr", conn.LocalAddr().String()),
		done:   make(chan struct{}),
	}
	go s.drain()
	s.logger.Info("media sink listening")
	return s, nil
}

// Addr returns the bound UDP address, useful when listening on port 0.
func (s *Sink) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

func (s *Sink) drain() {
	buf := make([]byte, maxRTPPacket)
	for {
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("read failed", "error", err)
			return
		}
		s.packets.Add(1)
		s.bytes.Add(int64(n))
	}
}

// Packets reports the number of datagrams received so far.
func (s *Sink) Packets() int64 {
	return s.packets.Load()
}

// Bytes reports the number of payload bytes received so far.
func (s *Sink) Bytes() int64 {
	return s.bytes.Load()
}

// Close stops the drain loop and releases the socket.
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.logger.Info("media sink closed",
			"packets", s.packets.Load(),
			"bytes", s.bytes.Load(),
		)
	})
	return err
}
