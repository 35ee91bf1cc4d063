package udp

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

// Broadcaster sends datagrams to one destination (typically an EFB's GDL90 port or a subnet
// broadcast address).
type Broadcaster struct {
	dest string
	conn udpConn
	log  *zap.SugaredLogger

	mu        sync.Mutex
	sent      uint64
	failed    uint64
	lastError string
}

// Stats reports send counters.
type Stats struct {
	Dest       string
	FramesSent uint64
	SendErrors uint64
	LastError  string
}

func NewBroadcaster(dest string, log *zap.SugaredLogger) (*Broadcaster, error) {
	b, err := newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
	if err != nil {
		return nil, err
	}
	if log != nil {
		b.log = log
	}
	return b, nil
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("udp: resolve dest: %w", err)
	}
	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("udp: dial: %w", err)
	}
	return &Broadcaster{dest: dest, conn: conn, log: zap.NewNop().Sugar()}, nil
}

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	b.mu.Lock()
	if err != nil {
		b.failed++
		b.lastError = err.Error()
	} else {
		b.sent++
	}
	b.mu.Unlock()
	return err
}

func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{Dest: b.dest, FramesSent: b.sent, SendErrors: b.failed, LastError: b.lastError}
}

// Run sends the frames returned by build every interval until ctx is done. Send errors are counted
// and logged; a missing receiver is normal for UDP and does not stop the loop.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration, build func(now time.Time) [][]byte) error {
	if interval <= 0 {
		return fmt.Errorf("udp: interval must be > 0")
	}
	if build == nil {
		return fmt.Errorf("udp: build func is nil")
	}
	log := b.log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var lastLogged time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-t.C:
			for _, f := range build(now) {
				if err := b.Send(f); err != nil && now.Sub(lastLogged) >= 10*time.Second {
					lastLogged = now
					log.Warnw("udp send failed", "dest", b.dest, "error", err)
				}
			}
		}
	}
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
