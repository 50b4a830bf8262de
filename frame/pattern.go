package frame

// NewPattern returns frame n of a moving diagonal gradient, with pts n.
func NewPattern(width, height int, format PixelFormat, n int) (*Frame, error) {
	f, err := New(width, height, format)
	if err != nil {
		return nil, err
	}
	shift := n * 4
	err = f.Mutate(func(planes []*Plane) error {
		for i, p := range planes {
			for y := 0; y < p.height; y++ {
				row := p.Row(y)
				for x := range row {
					switch {
					case format == RGB24:
						row[x] = byte((x/3 + y + shift) * (x%3 + 1))
					case i == 0:
						row[x] = byte(x + y + shift)
					case i == 1:
						row[x] = byte(128 + (x+shift)/2)
					default:
						row[x] = byte(128 - (y+shift)/2)
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := f.SetPTS(int64(n)); err != nil {
		return nil, err
	}
	return f, nil
}
