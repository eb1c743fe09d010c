package services

// TimestampRepairer keeps packet timestamps strictly increasing per stream.
// A timestamp that does not move past the previous one is forced to
// previous+1 tick. This keeps sinks happy under frame-rate jitter and time
// base rounding, at the cost of compressing real gaps; it is a policy, not
// a correction.
type TimestampRepairer struct {
	last map[int]int64
}

func NewTimestampRepairer() *TimestampRepairer {
	return &TimestampRepairer{last: make(map[int]int64)}
}

// Next returns the timestamp to emit for ts on stream and whether it had to
// be repaired.
func (r *TimestampRepairer) Next(stream int, ts int64) (int64, bool) {
	last, ok := r.last[stream]
	repaired := false
	if ok && ts <= last {
		ts = last + 1
		repaired = true
	}
	r.last[stream] = ts
	return ts, repaired
}

// Last returns the last emitted timestamp for stream.
func (r *TimestampRepairer) Last(stream int) (int64, bool) {
	ts, ok := r.last[stream]
	return ts, ok
}
