// Package ingest receives syslog datagrams over UDP and turns each one
// into an attributed log record.
//
// One datagram is one record. The receive timestamp is captured before
// device resolution so queueing and resolution latency never shift a
// record across a day boundary. The listener never blocks on the write
// path; the writer pool absorbs or drops under pressure.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/logmaster/logmaster/internal/logger"
	"github.com/logmaster/logmaster/pkg/metrics"
	"github.com/logmaster/logmaster/pkg/writerpool"
)

// maxDatagramSize bounds one receive. RFC 3164 messages are far smaller;
// the headroom keeps oversized but well-meaning senders whole.
const maxDatagramSize = 64 * 1024

// DeviceResolver maps a source IP literal to a device identifier.
type DeviceResolver interface {
	Resolve(sourceIP string) string
}

// RecordSink accepts resolved records. Enqueue must not block.
type RecordSink interface {
	Enqueue(rec writerpool.Record)
}

// ServerConfig holds configuration for the ingest listener.
type ServerConfig struct {
	// BindAddress is the local address to bind, empty for all
	// interfaces.
	BindAddress string

	// Port is the UDP port to listen on (syslog default 514).
	Port int
}

// Server is the UDP syslog listener.
type Server struct {
	config        ServerConfig
	resolver      DeviceResolver
	sink          RecordSink
	metrics       metrics.IngestMetrics
	udpConn       *net.UDPConn
	shutdown      chan struct{}
	shutdownOnce  sync.Once
	wg            sync.WaitGroup
	listenerReady chan struct{}
}

// NewServer creates an ingest listener. The resolver and sink are
// required.
func NewServer(cfg ServerConfig, resolver DeviceResolver, sink RecordSink, m metrics.IngestMetrics) *Server {
	return &Server{
		config:        cfg,
		resolver:      resolver,
		sink:          sink,
		metrics:       m,
		shutdown:      make(chan struct{}),
		listenerReady: make(chan struct{}),
	}
}

// Serve binds the UDP socket and runs the read loop. It blocks until the
// context is cancelled or Stop is called. After the listener is bound,
// WaitReady() unblocks.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port)

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve UDP %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %s: %w", addr, err)
	}
	s.udpConn = udpConn

	close(s.listenerReady)

	logger.Info("Syslog listener started", "address", udpConn.LocalAddr().String())

	s.wg.Add(1)
	go s.readLoop()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// WaitReady returns a channel that is closed once the UDP socket is
// bound. Callers should select on it with a timeout to detect startup
// failures.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenerReady
}

// readLoop receives datagrams until shutdown.
func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, maxDatagramSize)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		// Short deadline so shutdown is noticed promptly.
		if err := s.udpConn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("Ingest: set UDP deadline error", logger.KeyError, err)
				continue
			}
		}

		n, clientAddr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				logger.Debug("Ingest: UDP read error", logger.KeyError, err)
				continue
			}
		}

		receivedAt := time.Now()
		s.handleDatagram(buf[:n], clientAddr, receivedAt)
	}
}

// handleDatagram resolves and enqueues one datagram. An empty payload
// still becomes a record: the datagram itself is the custody event, so
// an empty line lands in the device file.
func (s *Server) handleDatagram(data []byte, clientAddr *net.UDPAddr, receivedAt time.Time) {
	metrics.ObserveDatagram(s.metrics, len(data))

	message := strings.TrimRight(strings.ToValidUTF8(string(data), "�"), "\r\n")
	if message == "" {
		metrics.ObserveEmpty(s.metrics)
	}

	sourceIP := clientAddr.IP.String()
	deviceID := s.resolver.Resolve(sourceIP)

	s.sink.Enqueue(writerpool.Record{
		DeviceID:   deviceID,
		SourceIP:   sourceIP,
		Message:    message,
		ReceivedAt: receivedAt,
	})
}

// Stop shuts the listener down and waits for the read loop to exit.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.udpConn != nil {
			_ = s.udpConn.Close()
		}
	})
	s.wg.Wait()
	logger.Info("Syslog listener stopped")
}

// UDPAddr returns the bound listener address (for tests). Returns empty
// string if the server is not listening.
func (s *Server) UDPAddr() string {
	if s.udpConn != nil {
		return s.udpConn.LocalAddr().String()
	}
	return ""
}
