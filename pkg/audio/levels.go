package audio

import (
	"math"
	"math/cmplx"
)

// LevelBands is the number of bars produced by [ComputeLevels].
const LevelBands = 32

// Levels is a spectrum snapshot for the level meter: one value per band,
// each in [0, 1].
type Levels []float64

// ComputeLevels reduces a block of 16-bit mono PCM to bands spectrum bars.
// Magnitudes are normalised to the loudest bin and grouped into
// logarithmically spaced bands, each reporting its peak. Silent or empty
// input yields all zeros.
func ComputeLevels(pcm []byte, bands int) Levels {
	if bands <= 0 {
		bands = LevelBands
	}
	out := make(Levels, bands)
	samples := Float32(pcm)
	if len(samples) < 2 {
		return out
	}

	mags := magnitudes(samples)
	var peak float64
	for _, m := range mags {
		peak = math.Max(peak, m)
	}
	if peak == 0 {
		return out
	}

	edges := logEdges(len(mags), bands)
	for i := range bands {
		a, b := edges[i], edges[i+1]
		var m float64
		for j := a; j <= b; j++ {
			m = math.Max(m, mags[j])
		}
		out[i] = m / (peak + 1e-9)
	}
	return out
}

// logEdges returns bands+1 bin indices spaced logarithmically over [0, n).
func logEdges(n, bands int) []int {
	edges := make([]int, bands+1)
	top := math.Log10(float64(n))
	for i := range edges {
		e := int(math.Pow(10, top*float64(i)/float64(bands))) - 1
		edges[i] = min(max(e, 0), n-1)
	}
	return edges
}

// magnitudes returns |rfft(x)| over the largest power-of-two prefix of x.
func magnitudes(x []float32) []float64 {
	n := 1
	for n*2 <= len(x) {
		n *= 2
	}
	buf := make([]complex128, n)
	for i := range n {
		buf[i] = complex(float64(x[i]), 0)
	}
	fft(buf)
	mags := make([]float64, n/2+1)
	for i := range mags {
		mags[i] = cmplx.Abs(buf[i])
	}
	return mags
}

// fft is an in-place iterative radix-2 transform. len(a) must be a power of two.
func fft(a []complex128) {
	n := len(a)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		w := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			wk := complex(1, 0)
			for k := range size / 2 {
				u := a[start+k]
				v := a[start+k+size/2] * wk
				a[start+k] = u + v
				a[start+k+size/2] = u - v
				wk *= w
			}
		}
	}
}
