package domain

// Packet is one compressed unit of output.
type Packet struct {
	Data        []byte
	StreamIndex int
	PTS         int64
	TimeBase    Rational
	KeyFrame    bool
}

// StreamDescriptor is what a sink needs to announce the stream before the
// first packet.
type StreamDescriptor struct {
	Codec     string
	Width     int
	Height    int
	FrameRate float64
	TimeBase  Rational // encoder time base
	Bitrate   int
}
