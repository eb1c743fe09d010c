package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidrelay/internal/core/domain"
	"vidrelay/internal/core/ports"

	"go.uber.org/zap"
)

var (
	commandContext = exec.CommandContext
	lookPath       = exec.LookPath
)

const (
	defaultH264Bitrate  = 2_000_000
	defaultWriteTimeout = 2 * time.Second
	closeGrace          = 5 * time.Second
	readChunk           = 64 * 1024
)

// H264 encodes through an ffmpeg/libx264 child process. Raw frames go in
// on stdin and an Annex B stream with access unit delimiters comes back on
// stdout. No B-frames are produced, so packets leave in input order and
// take their timestamps from a FIFO of submitted PTS values.
//
// A dead or stuck process ends the session with an error wrapping
// domain.ErrFatal; Close followed by Open starts a fresh process.
type H264 struct {
	Binary string
	// WriteTimeout bounds the write of one frame into the process.
	WriteTimeout time.Duration

	logger *zap.SugaredLogger
	params ports.CodecParams

	stdin *os.File
	done  chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	units   [][]byte
	pts     []int64
	lastPTS int64
	exitErr error
	broken  bool
	closed  bool
}

func NewH264(logger *zap.SugaredLogger) *H264 {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &H264{
		Binary:       "ffmpeg",
		WriteTimeout: defaultWriteTimeout,
		logger:       logger,
		lastPTS:      domain.NoPTS,
	}
}

func (c *H264) Name() string { return "h264" }

func (c *H264) Open(params ports.CodecParams) error {
	if params.Width <= 0 || params.Height <= 0 {
		return fmt.Errorf("h264: invalid size %dx%d", params.Width, params.Height)
	}
	binary, err := lookPath(c.Binary)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", c.Binary, domain.ErrCodecUnavailable, err)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cmd := commandContext(ctx, binary, h264Args(params)...) //nolint:gosec
	cmd.Stdin = pr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}
	stderr := new(bytes.Buffer)
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		cancel()
		_ = pr.Close()
		_ = pw.Close()
		return fmt.Errorf("start %s: %w: %v", binary, domain.ErrCodecUnavailable, err)
	}
	// the child holds its own copy of the read end
	_ = pr.Close()

	done := make(chan struct{})
	c.mu.Lock()
	c.params = params
	c.cancel = cancel
	c.stdin = pw
	c.done = done
	c.units, c.pts = nil, nil
	c.exitErr = nil
	c.broken, c.closed = false, false
	c.mu.Unlock()
	go c.readLoop(cmd, stdout, stderr, done)

	c.logger.Debugw("ffmpeg started", "stage", "encoder", "codec", c.Name(), "pid", cmd.Process.Pid,
		"args", strings.Join(cmd.Args, " "))
	return nil
}

func h264Args(p ports.CodecParams) []string {
	fps := p.FrameRate
	if fps <= 0 {
		fps = 30
	}
	gop := p.GOPSize
	if gop <= 0 {
		gop = int(fps + 0.5)
	}
	bitrate := p.Bitrate
	if bitrate <= 0 {
		bitrate = defaultH264Bitrate
	}
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", ffmpegPixelFormat(p.PixelFormat),
		"-s", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-g", strconv.Itoa(gop),
		"-bf", "0",
		"-b:v", strconv.Itoa(bitrate),
		"-bsf:v", "h264_metadata=aud=insert",
		"-f", "h264",
		"pipe:1",
	}
}

func ffmpegPixelFormat(f domain.PixelFormat) string {
	switch f {
	case domain.PixelFormatNV12:
		return "nv12"
	case domain.PixelFormatGray:
		return "gray"
	default:
		return "yuv420p"
	}
}

func (c *H264) readLoop(cmd *exec.Cmd, stdout io.Reader, stderr *bytes.Buffer, done chan struct{}) {
	defer close(done)

	var split auSplitter
	buf := make([]byte, readChunk)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if units := split.Write(buf[:n]); len(units) > 0 {
				c.mu.Lock()
				c.units = append(c.units, units...)
				c.mu.Unlock()
			}
		}
		if err != nil {
			break
		}
	}

	waitErr := cmd.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if last := split.Flush(); last != nil {
		c.units = append(c.units, last)
	}
	if waitErr != nil && !c.closed {
		c.exitErr = fmt.Errorf("ffmpeg exited: %w: %s: %w", waitErr, strings.TrimSpace(stderr.String()), domain.ErrFatal)
	}
}

func (c *H264) SendFrame(frame *domain.Frame) error {
	c.mu.Lock()
	closed, broken, exitErr := c.closed || c.stdin == nil, c.broken, c.exitErr
	c.mu.Unlock()
	if closed {
		return domain.ErrEndOfStream
	}
	if exitErr != nil {
		return exitErr
	}
	if broken {
		return fmt.Errorf("ffmpeg input interrupted: %w", domain.ErrFatal)
	}
	if err := checkFrame(frame, c.params); err != nil {
		return err
	}

	c.mu.Lock()
	c.pts = append(c.pts, frame.PTS)
	c.mu.Unlock()

	if c.WriteTimeout > 0 {
		_ = c.stdin.SetWriteDeadline(time.Now().Add(c.WriteTimeout))
	}
	if _, err := c.stdin.Write(frame.Packed()); err != nil {
		c.mu.Lock()
		c.pts = c.pts[:len(c.pts)-1]
		// a partial write leaves the raw stream misaligned
		c.broken = true
		c.mu.Unlock()
		return fmt.Errorf("write frame to ffmpeg: %w: %w", err, domain.ErrFatal)
	}
	return nil
}

// Interrupt kills the process so a SendFrame blocked on a stuck child
// returns. The session must be closed afterwards.
func (c *H264) Interrupt() {
	c.mu.Lock()
	cancel := c.cancel
	if cancel != nil {
		c.broken = true
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (c *H264) ReceivePacket() (*domain.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.units) == 0 {
		select {
		case <-c.done:
			if c.exitErr != nil && !c.closed {
				return nil, c.exitErr
			}
			return nil, domain.ErrEndOfStream
		default:
			return nil, domain.ErrWouldBlock
		}
	}

	unit := c.units[0]
	c.units[0] = nil
	c.units = c.units[1:]

	pts := c.lastPTS + 1
	if len(c.pts) > 0 {
		pts = c.pts[0]
		c.pts = c.pts[1:]
	}
	c.lastPTS = pts

	return &domain.Packet{
		Data:     unit,
		PTS:      pts,
		TimeBase: c.params.TimeBase,
		KeyFrame: isKeyFrame(unit),
	}, nil
}

// Close ends the input and waits for ffmpeg to flush. Packets produced by
// the flush stay readable until ReceivePacket reports end of stream. A
// broken session is killed instead of flushed.
func (c *H264) Close() error {
	c.mu.Lock()
	if c.closed || c.stdin == nil {
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	abandon := c.broken || c.exitErr != nil
	cancel := c.cancel
	c.mu.Unlock()

	if abandon {
		cancel()
	}
	err := c.stdin.Close()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	select {
	case <-c.done:
	case <-time.After(closeGrace):
		c.logger.Warnw("ffmpeg did not exit, killing", "stage", "encoder", "codec", c.Name())
		cancel()
		<-c.done
	}
	cancel()
	return err
}
