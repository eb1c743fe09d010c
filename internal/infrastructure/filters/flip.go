package filters

import "vidrelay/internal/core/domain"

// HFlip mirrors the image left to right, in place.
type HFlip struct{}

func (HFlip) Name() string { return "hflip" }

func (HFlip) Apply(frame *domain.Frame) ([]*domain.Frame, error) {
	for _, p := range planes(frame) {
		for y := 0; y < p.height; y++ {
			row := p.data[y*p.stride : y*p.stride+p.width*p.pixel]
			for l, r := 0, p.width-1; l < r; l, r = l+1, r-1 {
				for b := 0; b < p.pixel; b++ {
					li, ri := l*p.pixel+b, r*p.pixel+b
					row[li], row[ri] = row[ri], row[li]
				}
			}
		}
	}
	return []*domain.Frame{frame}, nil
}

// VFlip mirrors the image top to bottom, in place.
type VFlip struct{}

func (VFlip) Name() string { return "vflip" }

func (VFlip) Apply(frame *domain.Frame) ([]*domain.Frame, error) {
	var tmp []byte
	for _, p := range planes(frame) {
		n := p.width * p.pixel
		if cap(tmp) < n {
			tmp = make([]byte, n)
		}
		tmp = tmp[:n]
		for top, bottom := 0, p.height-1; top < bottom; top, bottom = top+1, bottom-1 {
			a := p.data[top*p.stride : top*p.stride+n]
			b := p.data[bottom*p.stride : bottom*p.stride+n]
			copy(tmp, a)
			copy(a, b)
			copy(b, tmp)
		}
	}
	return []*domain.Frame{frame}, nil
}
