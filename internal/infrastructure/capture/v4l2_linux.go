//go:build linux

package capture

import (
	"fmt"
	"runtime"
	"time"
	"unsafe"

	"vidrelay/internal/core/domain"

	"golang.org/x/sys/unix"
)

// Multi-planar V4L2 capture. Only the first plane is mapped; NV12 drivers
// that expose a single contiguous plane are the target.

const (
	v4l2BufTypeVideoCaptureMplane = 9
	v4l2MemoryMmap                = 1
	v4l2FieldAny                  = 0
	v4l2CapVideoCaptureMplane     = 0x00001000
	v4l2CapDeviceCaps             = 0x80000000
	videoMaxPlanes                = 8
)

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

var pixelFormats = map[domain.PixelFormat]uint32{
	domain.PixelFormatNV12: fourcc('N', 'V', '1', '2'),
	domain.PixelFormatI420: fourcc('Y', 'U', '1', '2'),
	domain.PixelFormatGray: fourcc('G', 'R', 'E', 'Y'),
}

type v4l2Capability struct {
	Driver       [16]uint8
	Card         [32]uint8
	BusInfo      [32]uint8
	Version      uint32
	Capabilities uint32
	DeviceCaps   uint32
	Reserved     [3]uint32
}

type v4l2PlanePixFormat struct {
	SizeImage    uint32
	BytesPerLine uint32
	Reserved     [6]uint16
}

type v4l2PixFormatMplane struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Field        uint32
	Colorspace   uint32
	PlaneFmt     [videoMaxPlanes]v4l2PlanePixFormat
	NumPlanes    uint8
	Flags        uint8
	YcbcrEnc     uint8
	Quantization uint8
	XferFunc     uint8
	Reserved     [7]uint8
}

type v4l2Format struct {
	Type uint32
	_    [unsafe.Sizeof(uintptr(0))-4]byte // the union is pointer aligned
	Fmt  [200]byte
}

func (f *v4l2Format) pixMP() *v4l2PixFormatMplane {
	return (*v4l2PixFormatMplane)(unsafe.Pointer(&f.Fmt[0]))
}

type v4l2RequestBuffers struct {
	Count        uint32
	Type         uint32
	Memory       uint32
	Capabilities uint32
	Flags        uint8
	Reserved     [3]uint8
}

type v4l2Timecode struct {
	Type     uint32
	Flags    uint32
	Frames   uint8
	Seconds  uint8
	Minutes  uint8
	Hours    uint8
	Userbits [4]uint8
}

type v4l2Plane struct {
	BytesUsed  uint32
	Length     uint32
	M          uintptr // mem_offset for MMAP
	DataOffset uint32
	Reserved   [11]uint32
}

type v4l2Buffer struct {
	Index     uint32
	Type      uint32
	BytesUsed uint32
	Flags     uint32
	Field     uint32
	Timestamp unix.Timeval
	Timecode  v4l2Timecode
	Sequence  uint32
	Memory    uint32
	Planes    unsafe.Pointer // union m; planes for multi-planar buffers
	Length    uint32
	Reserved2 uint32
	RequestFD int32
}

const (
	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | uintptr('V')<<8 | nr
}

var (
	vidiocQuerycap  = ioc(iocRead, 0, unsafe.Sizeof(v4l2Capability{}))
	vidiocGFmt      = ioc(iocRead|iocWrite, 4, unsafe.Sizeof(v4l2Format{}))
	vidiocSFmt      = ioc(iocRead|iocWrite, 5, unsafe.Sizeof(v4l2Format{}))
	vidiocReqbufs   = ioc(iocRead|iocWrite, 8, unsafe.Sizeof(v4l2RequestBuffers{}))
	vidiocQuerybuf  = ioc(iocRead|iocWrite, 9, unsafe.Sizeof(v4l2Buffer{}))
	vidiocQbuf      = ioc(iocRead|iocWrite, 15, unsafe.Sizeof(v4l2Buffer{}))
	vidiocDqbuf     = ioc(iocRead|iocWrite, 17, unsafe.Sizeof(v4l2Buffer{}))
	vidiocStreamon  = ioc(iocWrite, 18, unsafe.Sizeof(int32(0)))
	vidiocStreamoff = ioc(iocWrite, 19, unsafe.Sizeof(int32(0)))
)

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		switch errno {
		case 0:
			return nil
		case unix.EINTR:
			continue
		default:
			return errno
		}
	}
}

// V4L2Device drives a multi-planar capture node through ioctl, mmap and
// poll.
type V4L2Device struct {
	fd     int
	format domain.PixelFormat
}

func NewV4L2Device(format domain.PixelFormat) *V4L2Device {
	return &V4L2Device{fd: -1, format: format}
}

func (d *V4L2Device) Open(path string, width, height int) (DeviceFormat, error) {
	fourCC, ok := pixelFormats[d.format]
	if !ok {
		return DeviceFormat{}, fmt.Errorf("pixel format %q not supported by capture devices", d.format)
	}

	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return DeviceFormat{}, err
	}
	d.fd = fd

	var capability v4l2Capability
	if err := ioctl(fd, vidiocQuerycap, unsafe.Pointer(&capability)); err != nil {
		d.Close()
		return DeviceFormat{}, fmt.Errorf("query capabilities: %w", err)
	}
	caps := capability.Capabilities
	if caps&v4l2CapDeviceCaps != 0 {
		caps = capability.DeviceCaps
	}
	if caps&v4l2CapVideoCaptureMplane == 0 {
		d.Close()
		return DeviceFormat{}, fmt.Errorf("device does not support multi-planar capture")
	}

	var format v4l2Format
	format.Type = v4l2BufTypeVideoCaptureMplane
	pix := format.pixMP()
	pix.Width = uint32(width)
	pix.Height = uint32(height)
	pix.PixelFormat = fourCC
	pix.Field = v4l2FieldAny
	pix.NumPlanes = 1
	if err := ioctl(fd, vidiocSFmt, unsafe.Pointer(&format)); err != nil {
		d.Close()
		return DeviceFormat{}, fmt.Errorf("set format: %w", err)
	}

	var actual v4l2Format
	actual.Type = v4l2BufTypeVideoCaptureMplane
	if err := ioctl(fd, vidiocGFmt, unsafe.Pointer(&actual)); err != nil {
		d.Close()
		return DeviceFormat{}, fmt.Errorf("get format: %w", err)
	}
	got := actual.pixMP()
	if got.PixelFormat != fourCC {
		d.Close()
		return DeviceFormat{}, fmt.Errorf("driver picked fourcc %#x instead of %#x", got.PixelFormat, fourCC)
	}

	bpl := int(got.PlaneFmt[0].BytesPerLine)
	if bpl == 0 {
		bpl = int(got.Width)
	}
	return DeviceFormat{
		Width:        int(got.Width),
		Height:       int(got.Height),
		BytesPerLine: bpl,
		SizeImage:    int(got.PlaneFmt[0].SizeImage),
		PixelFormat:  d.format,
	}, nil
}

func (d *V4L2Device) RequestBuffers(count int) (int, error) {
	req := v4l2RequestBuffers{
		Count:  uint32(count),
		Type:   v4l2BufTypeVideoCaptureMplane,
		Memory: v4l2MemoryMmap,
	}
	if err := ioctl(d.fd, vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return int(req.Count), nil
}

func (d *V4L2Device) buffer(index int, planes *[videoMaxPlanes]v4l2Plane) v4l2Buffer {
	return v4l2Buffer{
		Index:  uint32(index),
		Type:   v4l2BufTypeVideoCaptureMplane,
		Memory: v4l2MemoryMmap,
		Planes: unsafe.Pointer(planes),
		Length: videoMaxPlanes,
	}
}

func (d *V4L2Device) MapBuffer(index int) ([]byte, error) {
	var planes [videoMaxPlanes]v4l2Plane
	buf := d.buffer(index, &planes)
	err := ioctl(d.fd, vidiocQuerybuf, unsafe.Pointer(&buf))
	runtime.KeepAlive(&planes)
	if err != nil {
		return nil, fmt.Errorf("query buffer: %w", err)
	}
	if planes[0].Length == 0 {
		return nil, fmt.Errorf("buffer %d has no planes", index)
	}
	return unix.Mmap(d.fd, int64(uint32(planes[0].M)), int(planes[0].Length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}

func (d *V4L2Device) Unmap(buf []byte) error {
	return unix.Munmap(buf)
}

func (d *V4L2Device) Enqueue(index int) error {
	var planes [videoMaxPlanes]v4l2Plane
	buf := d.buffer(index, &planes)
	err := ioctl(d.fd, vidiocQbuf, unsafe.Pointer(&buf))
	runtime.KeepAlive(&planes)
	return err
}

func (d *V4L2Device) Dequeue() (int, int, error) {
	var planes [videoMaxPlanes]v4l2Plane
	buf := d.buffer(0, &planes)
	err := ioctl(d.fd, vidiocDqbuf, unsafe.Pointer(&buf))
	runtime.KeepAlive(&planes)
	if err != nil {
		return -1, 0, err
	}
	return int(buf.Index), int(planes[0].BytesUsed - planes[0].DataOffset), nil
}

func (d *V4L2Device) StreamOn() error {
	typ := int32(v4l2BufTypeVideoCaptureMplane)
	return ioctl(d.fd, vidiocStreamon, unsafe.Pointer(&typ))
}

func (d *V4L2Device) StreamOff() error {
	typ := int32(v4l2BufTypeVideoCaptureMplane)
	return ioctl(d.fd, vidiocStreamoff, unsafe.Pointer(&typ))
}

func (d *V4L2Device) WaitReady(timeout time.Duration) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(d.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
		return false, fmt.Errorf("poll: revents %#x", fds[0].Revents)
	}
	return true, nil
}

func (d *V4L2Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	err := unix.Close(d.fd)
	d.fd = -1
	return err
}
