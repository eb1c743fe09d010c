package publish

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidrelay/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"go.uber.org/zap"
)

const (
	rtpClockRate   = 90000
	rtpHeaderSize  = 12
	defaultMTU     = 1200
	defaultRTPType = 96
	ntpEpochOffset = 2208988800
	goodbyeReason  = "stream closed"
)

type RTPConfig struct {
	Address string
	// RTCPAddress defaults to the RTP port plus one.
	RTCPAddress          string
	MTU                  int
	PayloadType          uint8
	SenderReportInterval time.Duration
}

// RTPSink packetizes encoded packets onto RTP over UDP. Each session gets a
// fresh SSRC and timestamp offset, announces itself with an RTCP sender
// report plus SDES, and keeps sending sender reports until closed.
type RTPSink struct {
	cfg    RTPConfig
	logger *zap.SugaredLogger

	mu         sync.Mutex
	conn       net.Conn
	rtcpConn   net.Conn
	packetizer rtp.Packetizer
	sessionID  string
	ssrc       uint32
	tsOffset   uint32
	codec      string

	packetCount uint32
	octetCount  uint32
	lastRTPTime uint32
	lastSentAt  time.Time

	stopReports chan struct{}
	reportsDone chan struct{}
}

func NewRTPSink(cfg RTPConfig, logger *zap.SugaredLogger) *RTPSink {
	if cfg.MTU <= rtpHeaderSize {
		cfg.MTU = defaultMTU
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = defaultRTPType
	}
	return &RTPSink{cfg: cfg, logger: logger}
}

func (s *RTPSink) TimeBase() domain.Rational { return domain.Rational{Num: 1, Den: rtpClockRate} }

func (s *RTPSink) Open(ctx context.Context, desc domain.StreamDescriptor) error {
	s.closeSession(false)

	rtcpAddr := s.cfg.RTCPAddress
	if rtcpAddr == "" {
		var err error
		if rtcpAddr, err = nextPort(s.cfg.Address); err != nil {
			return err
		}
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("dial rtp %s: %w", s.cfg.Address, err)
	}
	rtcpConn, err := d.DialContext(ctx, "udp", rtcpAddr)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("dial rtcp %s: %w", rtcpAddr, err)
	}

	id := uuid.New()
	ssrc := binary.BigEndian.Uint32(id[0:4])

	s.mu.Lock()
	s.conn = conn
	s.rtcpConn = rtcpConn
	s.sessionID = id.String()
	s.ssrc = ssrc
	s.tsOffset = binary.BigEndian.Uint32(id[4:8])
	s.codec = desc.Codec
	s.packetCount, s.octetCount = 0, 0
	s.lastRTPTime = s.tsOffset
	s.lastSentAt = time.Now()
	s.packetizer = rtp.NewPacketizer(uint16(s.cfg.MTU), s.cfg.PayloadType, ssrc,
		payloaderFor(desc.Codec), rtp.NewRandomSequencer(), rtpClockRate)
	err = s.sendRTCPLocked(true)
	s.mu.Unlock()
	if err != nil {
		s.closeSession(false)
		return fmt.Errorf("send rtcp: %w", err)
	}

	if s.cfg.SenderReportInterval > 0 {
		s.stopReports = make(chan struct{})
		s.reportsDone = make(chan struct{})
		go s.reportLoop(s.cfg.SenderReportInterval, s.stopReports, s.reportsDone)
	}

	s.logger.Infow("output opened", "stage", "publisher", "session_id", s.sessionID,
		"address", s.cfg.Address, "rtcp_address", rtcpAddr, "codec", desc.Codec,
		"ssrc", ssrc, "payload_type", s.cfg.PayloadType)
	return nil
}

func payloaderFor(codec string) rtp.Payloader {
	if strings.EqualFold(codec, "h264") {
		return &codecs.H264Payloader{}
	}
	return chunkPayloader{}
}

// chunkPayloader splits an opaque payload into MTU-sized pieces; the
// marker bit on the last piece closes the frame.
type chunkPayloader struct{}

func (chunkPayloader) Payload(mtu uint16, payload []byte) [][]byte {
	if mtu == 0 || len(payload) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(payload)+int(mtu)-1)/int(mtu))
	for len(payload) > 0 {
		n := min(int(mtu), len(payload))
		out = append(out, payload[:n:n])
		payload = payload[n:]
	}
	return out
}

// WritePacket sends pkt as one RTP frame. pkt.PTS must be in 1/90000.
func (s *RTPSink) WritePacket(pkt *domain.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("rtp sink: %w", domain.ErrNotConnected)
	}

	ts := s.tsOffset + uint32(pkt.PTS)
	for _, p := range s.packetizer.Packetize(pkt.Data, 0) {
		p.Timestamp = ts
		raw, err := p.Marshal()
		if err != nil {
			return fmt.Errorf("marshal rtp: %w", err)
		}
		if _, err := s.conn.Write(raw); err != nil {
			return fmt.Errorf("write rtp: %w: %w", err, domain.ErrFatal)
		}
		s.packetCount++
		s.octetCount += uint32(len(p.Payload))
	}
	s.lastRTPTime = ts
	s.lastSentAt = time.Now()
	return nil
}

func (s *RTPSink) reportLoop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.rtcpConn == nil {
				s.mu.Unlock()
				return
			}
			if err := s.sendRTCPLocked(false); err != nil {
				s.logger.Debugw("sender report failed", "stage", "publisher", "session_id", s.sessionID, "error", err)
			}
			s.mu.Unlock()
		}
	}
}

// sendRTCPLocked sends a sender report, with SDES attached when announce
// is set.
func (s *RTPSink) sendRTCPLocked(announce bool) error {
	now := time.Now()
	elapsed := now.Sub(s.lastSentAt)
	packets := []rtcp.Packet{&rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ntpTime(now),
		RTPTime:     s.lastRTPTime + uint32(elapsed.Seconds()*rtpClockRate),
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}}
	if announce {
		packets = append(packets, &rtcp.SourceDescription{Chunks: []rtcp.SourceDescriptionChunk{{
			Source: s.ssrc,
			Items:  []rtcp.SourceDescriptionItem{{Type: rtcp.SDESCNAME, Text: s.sessionID}},
		}}})
	}
	raw, err := rtcp.Marshal(packets)
	if err != nil {
		return err
	}
	_, err = s.rtcpConn.Write(raw)
	return err
}

func ntpTime(t time.Time) uint64 {
	secs := uint64(t.Unix() + ntpEpochOffset)
	frac := uint64(t.Nanosecond())<<32/uint64(time.Second)
	return secs<<32 | frac
}

func (s *RTPSink) Close() error {
	return s.closeSession(true)
}

func (s *RTPSink) closeSession(bye bool) error {
	if s.stopReports != nil {
		close(s.stopReports)
		<-s.reportsDone
		s.stopReports, s.reportsDone = nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	if bye {
		if raw, err := rtcp.Marshal([]rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{s.ssrc}, Reason: goodbyeReason}}); err == nil {
			_, _ = s.rtcpConn.Write(raw)
		}
	}
	err := s.conn.Close()
	if cerr := s.rtcpConn.Close(); err == nil {
		err = cerr
	}
	s.conn, s.rtcpConn = nil, nil
	s.logger.Infow("output closed", "stage", "publisher", "session_id", s.sessionID,
		"packets", s.packetCount, "octets", s.octetCount)
	return err
}

func nextPort(address string) (string, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("rtp address %q: %w", address, err)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p >= 65535 {
		return "", fmt.Errorf("rtp address %q: bad port: %w", address, domain.ErrUnsupportedURL)
	}
	return net.JoinHostPort(host, strconv.Itoa(p+1)), nil
}
