package publish

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"vidrelay/internal/core/domain"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger { return zap.NewNop().Sugar() }

type udpPeer struct {
	rtp  net.PacketConn
	rtcp net.PacketConn
}

func newUDPPeer(t *testing.T) *udpPeer {
	t.Helper()
	r, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	c, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = c.Close()
	})
	return &udpPeer{rtp: r, rtcp: c}
}

func (p *udpPeer) config(interval time.Duration) RTPConfig {
	return RTPConfig{
		Address:              p.rtp.LocalAddr().String(),
		RTCPAddress:          p.rtcp.LocalAddr().String(),
		MTU:                  200,
		SenderReportInterval: interval,
	}
}

func readRTP(t *testing.T, conn net.PacketConn) *rtp.Packet {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	var pkt rtp.Packet
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	return &pkt
}

func readRTCP(t *testing.T, conn net.PacketConn) []rtcp.Packet {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFrom(buf)
	require.NoError(t, err)
	pkts, err := rtcp.Unmarshal(buf[:n])
	require.NoError(t, err)
	return pkts
}

// readFrame collects RTP packets up to and including the marker.
func readFrame(t *testing.T, conn net.PacketConn) []*rtp.Packet {
	t.Helper()
	var out []*rtp.Packet
	for {
		pkt := readRTP(t, conn)
		out = append(out, pkt)
		if pkt.Marker {
			return out
		}
	}
}

func TestRTPSinkFragmentsRawPayload(t *testing.T) {
	peer := newUDPPeer(t)
	sink := NewRTPSink(peer.config(0), testLogger())
	require.NoError(t, sink.Open(context.Background(), domain.StreamDescriptor{Codec: "rawvideo"}))
	defer sink.Close()
	assert.Equal(t, domain.Rational{Num: 1, Den: 90000}, sink.TimeBase())

	data := make([]byte, 1000)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: data, PTS: 0}))
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: data[:10], PTS: 3000}))

	first := readFrame(t, peer.rtp)
	require.Len(t, first, 6) // 188 payload bytes per packet at MTU 200
	var joined []byte
	for i, pkt := range first {
		assert.Equal(t, uint8(96), pkt.PayloadType)
		assert.Equal(t, first[0].Timestamp, pkt.Timestamp)
		assert.Equal(t, first[0].SequenceNumber+uint16(i), pkt.SequenceNumber)
		assert.Equal(t, i == len(first)-1, pkt.Marker)
		assert.LessOrEqual(t, len(pkt.Payload), 200-rtpHeaderSize)
		joined = append(joined, pkt.Payload...)
	}
	assert.Equal(t, data, joined)

	second := readFrame(t, peer.rtp)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].Timestamp+3000, second[0].Timestamp)
	assert.Equal(t, first[0].SSRC, second[0].SSRC)
}

func TestRTPSinkH264UsesFUA(t *testing.T) {
	peer := newUDPPeer(t)
	sink := NewRTPSink(peer.config(0), testLogger())
	require.NoError(t, sink.Open(context.Background(), domain.StreamDescriptor{Codec: "h264"}))
	defer sink.Close()

	idr := append([]byte{0, 0, 0, 1, 0x65}, bytes.Repeat([]byte{0xab}, 500)...)
	au := append([]byte{0, 0, 0, 1, 0x09, 0xf0}, idr...)
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: au, PTS: 90, KeyFrame: true}))

	frame := readFrame(t, peer.rtp)
	require.Greater(t, len(frame), 1)
	for i, pkt := range frame {
		assert.Equal(t, byte(28), pkt.Payload[0]&0x1f, "packet %d is not FU-A", i)
		assert.Equal(t, byte(5), pkt.Payload[1]&0x1f)
	}
	assert.NotZero(t, frame[0].Payload[1]&0x80, "start bit")
	assert.NotZero(t, frame[len(frame)-1].Payload[1]&0x40, "end bit")
}

func TestRTPSinkSendsRTCP(t *testing.T) {
	peer := newUDPPeer(t)
	sink := NewRTPSink(peer.config(20*time.Millisecond), testLogger())
	require.NoError(t, sink.Open(context.Background(), domain.StreamDescriptor{Codec: "rawvideo"}))

	announce := readRTCP(t, peer.rtcp)
	require.Len(t, announce, 2)
	sr, ok := announce[0].(*rtcp.SenderReport)
	require.True(t, ok)
	sdes, ok := announce[1].(*rtcp.SourceDescription)
	require.True(t, ok)
	assert.Equal(t, sr.SSRC, sdes.Chunks[0].Source)
	assert.NotEmpty(t, sdes.Chunks[0].Items[0].Text)

	require.NoError(t, sink.WritePacket(&domain.Packet{Data: []byte{1, 2, 3}, PTS: 0}))
	pkt := readRTP(t, peer.rtp)
	assert.Equal(t, sr.SSRC, pkt.SSRC)

	var report *rtcp.SenderReport
	for report == nil || report.PacketCount == 0 {
		pkts := readRTCP(t, peer.rtcp)
		report, _ = pkts[0].(*rtcp.SenderReport)
	}
	assert.Equal(t, uint32(1), report.PacketCount)
	assert.Equal(t, uint32(3), report.OctetCount)

	require.NoError(t, sink.Close())
	for {
		pkts := readRTCP(t, peer.rtcp)
		if bye, ok := pkts[0].(*rtcp.Goodbye); ok {
			assert.Equal(t, []uint32{sr.SSRC}, bye.Sources)
			break
		}
	}
	assert.NoError(t, sink.Close())
}

func TestRTPSinkNewSessionOnReopen(t *testing.T) {
	peer := newUDPPeer(t)
	sink := NewRTPSink(peer.config(0), testLogger())
	ctx := context.Background()

	require.NoError(t, sink.Open(ctx, domain.StreamDescriptor{Codec: "rawvideo"}))
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: []byte{1}, PTS: 0}))
	a := readRTP(t, peer.rtp)

	require.NoError(t, sink.Open(ctx, domain.StreamDescriptor{Codec: "rawvideo"}))
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: []byte{2}, PTS: 0}))
	b := readRTP(t, peer.rtp)
	require.NoError(t, sink.Close())

	assert.NotEqual(t, a.SSRC, b.SSRC)
}

func TestRTPSinkWriteBeforeOpen(t *testing.T) {
	sink := NewRTPSink(RTPConfig{Address: "127.0.0.1:5004"}, testLogger())
	err := sink.WritePacket(&domain.Packet{Data: []byte{1}})
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.NoError(t, sink.Close())
}

func TestChunkPayloader(t *testing.T) {
	chunks := chunkPayloader{}.Payload(4, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.Equal(t, [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}, {9}}, chunks)
	assert.Nil(t, chunkPayloader{}.Payload(4, nil))
}

func TestNextPort(t *testing.T) {
	addr, err := nextPort("10.0.0.1:5004")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:5005", addr)

	_, err = nextPort("10.0.0.1:65535")
	assert.ErrorIs(t, err, domain.ErrUnsupportedURL)
	_, err = nextPort("nope")
	assert.Error(t, err)
}

func TestNTPTime(t *testing.T) {
	ts := ntpTime(time.Unix(1, int64(500*time.Millisecond)))
	assert.Equal(t, uint64(ntpEpochOffset+1), ts>>32)
	assert.Equal(t, uint64(1)<<31, ts&0xffffffff)
}

func TestTCPSinkHandshakeAndRecords(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	received := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		data, _ := io.ReadAll(conn)
		received <- data
	}()

	sink := NewTCPSink(TCPConfig{Address: ln.Addr().String()}, testLogger())
	assert.Equal(t, domain.Rational{Num: 1, Den: 1000}, sink.TimeBase())
	desc := domain.StreamDescriptor{Codec: "h264", Width: 1280, Height: 1024, FrameRate: 30}
	require.NoError(t, sink.Open(context.Background(), desc))
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: []byte{9, 8, 7}, PTS: 33, KeyFrame: true}))
	require.NoError(t, sink.WritePacket(&domain.Packet{Data: []byte{6}, PTS: 66}))
	require.NoError(t, sink.Close())

	var data []byte
	select {
	case data = <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver got nothing")
	}

	header := encodeStreamHeader(desc, sink.TimeBase())
	require.True(t, bytes.HasPrefix(data, header))
	assert.Equal(t, "VRLY", string(header[:4]))
	assert.Equal(t, "h264", string(header[6:10]))
	assert.Equal(t, uint16(1280), binary.BigEndian.Uint16(header[10:12]))
	assert.Equal(t, uint32(30000), binary.BigEndian.Uint32(header[14:18]))

	rec := data[len(header):]
	assert.Equal(t, uint32(3), binary.BigEndian.Uint32(rec[0:4]))
	assert.Equal(t, uint64(33), binary.BigEndian.Uint64(rec[4:12]))
	assert.Equal(t, byte(flagKeyFrame), rec[12])
	assert.Equal(t, []byte{9, 8, 7}, rec[13:16])

	rec = rec[16:]
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(rec[0:4]))
	assert.Equal(t, uint64(66), binary.BigEndian.Uint64(rec[4:12]))
	assert.Equal(t, byte(0), rec[12])
	assert.Equal(t, []byte{6}, rec[13:])
}

func TestTCPSinkFailsWhenReceiverGoes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		if conn, err := ln.Accept(); err == nil {
			_ = conn.Close()
		}
	}()

	sink := NewTCPSink(TCPConfig{Address: ln.Addr().String(), WriteTimeout: time.Second}, testLogger())
	require.NoError(t, sink.Open(context.Background(), domain.StreamDescriptor{Codec: "rawvideo"}))
	defer sink.Close()

	payload := make([]byte, 64*1024)
	assert.Eventually(t, func() bool {
		return domain.IsFatal(sink.WritePacket(&domain.Packet{Data: payload}))
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTCPSinkOpenFailsWithoutReceiver(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sink := NewTCPSink(TCPConfig{Address: addr, DialTimeout: time.Second}, testLogger())
	assert.Error(t, sink.Open(context.Background(), domain.StreamDescriptor{}))
	assert.ErrorIs(t, sink.WritePacket(&domain.Packet{}), domain.ErrNotConnected)
}

func TestNewSink(t *testing.T) {
	cfg := domain.DefaultPipelineConfig()

	cfg.SinkURL = "rtp://127.0.0.1:5004?rtcp=127.0.0.1:6000"
	sink, err := NewSink(cfg, testLogger())
	require.NoError(t, err)
	r, ok := sink.(*RTPSink)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:6000", r.cfg.RTCPAddress)
	assert.Equal(t, 1200, r.cfg.MTU)

	cfg.SinkURL = "tcp://localhost:9000"
	sink, err = NewSink(cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &TCPSink{}, sink)

	for _, bad := range []string{"rtmp://host/live", "file:///tmp/out", "tcp://"} {
		cfg.SinkURL = bad
		_, err = NewSink(cfg, testLogger())
		assert.ErrorIs(t, err, domain.ErrUnsupportedURL, bad)
	}
}
