package devices

import (
	"math"
	"slices"
)

const (
	starRadius    = 10
	maxStars      = 50
	detectSigma   = 5.0
	minStarHFR    = 0.3
	backgroundMax = 20000
)

// MeanADU returns the average pixel value.
func MeanADU(pixels []int32) float64 {
	if len(pixels) == 0 {
		return 0
	}
	var sum float64
	for _, v := range pixels {
		sum += float64(v)
	}
	return sum / float64(len(pixels))
}

// background estimates the sky level and noise with the median and the
// median absolute deviation of a pixel sample.
func background(pixels []int32) (level, noise float64) {
	stride := 1
	if len(pixels) > backgroundMax {
		stride = len(pixels) / backgroundMax
	}
	sample := make([]float64, 0, len(pixels)/stride+1)
	for i := 0; i < len(pixels); i += stride {
		sample = append(sample, float64(pixels[i]))
	}
	level = median(sample)
	for i, v := range sample {
		sample[i] = math.Abs(v - level)
	}
	noise = 1.4826 * median(sample)
	return level, noise
}

func median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	slices.Sort(v)
	mid := len(v) / 2
	if len(v)%2 == 0 {
		return (v[mid-1] + v[mid]) / 2
	}
	return v[mid]
}

type star struct {
	x, y int
	peak int32
}

// MedianHFR detects stars and returns the median half-flux radius in
// pixels, or 0 when no star is found.
func MedianHFR(pixels []int32, width, height int) float64 {
	if width <= 2*starRadius || height <= 2*starRadius || len(pixels) != width*height {
		return 0
	}
	level, noise := background(pixels)
	threshold := level + detectSigma*math.Max(noise, 1)

	var candidates []star
	for y := starRadius; y < height-starRadius; y++ {
		row := y * width
		for x := starRadius; x < width-starRadius; x++ {
			v := pixels[row+x]
			if float64(v) <= threshold || !localMax(pixels, width, x, y) {
				continue
			}
			candidates = append(candidates, star{x: x, y: y, peak: v})
		}
	}
	slices.SortFunc(candidates, func(a, b star) int { return int(b.peak) - int(a.peak) })

	var (
		accepted []star
		radii    []float64
	)
	for _, c := range candidates {
		if len(radii) == maxStars {
			break
		}
		if crowded(accepted, c) {
			continue
		}
		accepted = append(accepted, c)
		if r := halfFluxRadius(pixels, width, c, level); r >= minStarHFR {
			radii = append(radii, r)
		}
	}
	return median(radii)
}

func localMax(pixels []int32, width, x, y int) bool {
	v := pixels[y*width+x]
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			if pixels[(y+dy)*width+x+dx] > v {
				return false
			}
		}
	}
	return true
}

func crowded(stars []star, c star) bool {
	for _, s := range stars {
		dx, dy := s.x-c.x, s.y-c.y
		if dx*dx+dy*dy < 4*starRadius*starRadius {
			return true
		}
	}
	return false
}

// halfFluxRadius is sum(flux*r)/sum(flux) around the flux centroid.
func halfFluxRadius(pixels []int32, width int, s star, level float64) float64 {
	var sum, cx, cy float64
	visit := func(fn func(x, y int, flux float64)) {
		for y := s.y - starRadius; y <= s.y+starRadius; y++ {
			for x := s.x - starRadius; x <= s.x+starRadius; x++ {
				dx, dy := x-s.x, y-s.y
				if dx*dx+dy*dy > starRadius*starRadius {
					continue
				}
				if flux := float64(pixels[y*width+x]) - level; flux > 0 {
					fn(x, y, flux)
				}
			}
		}
	}

	visit(func(x, y int, flux float64) {
		sum += flux
		cx += flux * float64(x)
		cy += flux * float64(y)
	})
	if sum == 0 {
		return 0
	}
	cx /= sum
	cy /= sum

	var weighted float64
	visit(func(x, y int, flux float64) {
		weighted += flux * math.Hypot(float64(x)-cx, float64(y)-cy)
	})
	return weighted / sum
}
