package compress

import "fmt"

// Shuffle regroups the bytes of fixed width values so that byte k of every
// value comes before byte k+1 of any value. For float64 replicate columns the
// sign and exponent bytes then form long runs, which every codec here
// compresses far better than the interleaved layout.
//
// dst is reused when its capacity allows. len(src) must be a multiple of
// width.
func Shuffle(dst, src []byte, width int) ([]byte, error) {
	n, err := shuffleCount(src, width)
	if err != nil {
		return nil, err
	}
	dst = grow(dst, len(src))
	for i := 0; i < n; i++ {
		for k := 0; k < width; k++ {
			dst[k*n+i] = src[i*width+k]
		}
	}

	return dst, nil
}

// Unshuffle reverses Shuffle.
func Unshuffle(dst, src []byte, width int) ([]byte, error) {
	n, err := shuffleCount(src, width)
	if err != nil {
		return nil, err
	}
	dst = grow(dst, len(src))
	for i := 0; i < n; i++ {
		for k := 0; k < width; k++ {
			dst[i*width+k] = src[k*n+i]
		}
	}

	return dst, nil
}

func shuffleCount(src []byte, width int) (int, error) {
	if width <= 0 || len(src)%width != 0 {
		return 0, fmt.Errorf("cannot shuffle %d bytes as %d byte values", len(src), width)
	}

	return len(src) / width, nil
}

func grow(b []byte, n int) []byte {
	if cap(b) < n {
		return make([]byte, n)
	}

	return b[:n]
}
