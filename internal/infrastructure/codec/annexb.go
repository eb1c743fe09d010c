package codec

import "bytes"

const (
	nalSliceIDR = 5
	nalAUD      = 9
)

var startCode = []byte{0, 0, 1}

// auSplitter cuts an Annex B byte stream into access units. A unit is
// complete once the delimiter of the next one has arrived.
type auSplitter struct {
	buf []byte
	pos int
}

// Write appends p and returns every access unit it completed.
func (s *auSplitter) Write(p []byte) [][]byte {
	s.buf = append(s.buf, p...)
	var units [][]byte
	for {
		i := bytes.Index(s.buf[s.pos:], startCode)
		if i < 0 {
			// a start code may straddle two writes
			s.pos = max(s.pos, len(s.buf)-2)
			return units
		}
		i += s.pos
		hdr := i + len(startCode)
		if hdr >= len(s.buf) {
			s.pos = i
			return units
		}

		begin := i
		if begin > 0 && s.buf[begin-1] == 0 {
			begin--
		}
		if s.buf[hdr]&0x1f == nalAUD && begin > 0 {
			units = append(units, bytes.Clone(s.buf[:begin]))
			n := copy(s.buf, s.buf[begin:])
			s.buf = s.buf[:n]
			s.pos = hdr - begin + 1
			continue
		}
		s.pos = hdr + 1
	}
}

// Flush returns whatever is buffered as the final access unit.
func (s *auSplitter) Flush() []byte {
	if len(s.buf) == 0 {
		return nil
	}
	unit := bytes.Clone(s.buf)
	s.buf = s.buf[:0]
	s.pos = 0
	return unit
}

// nalTypes lists the NAL unit types in an access unit.
func nalTypes(unit []byte) []byte {
	var types []byte
	for off := 0; off < len(unit); {
		i := bytes.Index(unit[off:], startCode)
		if i < 0 {
			break
		}
		hdr := off + i + len(startCode)
		if hdr >= len(unit) {
			break
		}
		types = append(types, unit[hdr]&0x1f)
		off = hdr + 1
	}
	return types
}

func isKeyFrame(unit []byte) bool {
	return bytes.IndexByte(nalTypes(unit), nalSliceIDR) >= 0
}
