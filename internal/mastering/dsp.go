package mastering

import (
	"math"

	"github.com/maauso/decupagem-api/internal/audio"
)

// ToChannels converts b to the requested channel count.
// Mono is duplicated to every output channel. Wider layouts are folded to
// stereo by averaging even channels into left and odd channels into right.
// A buffer already at the target is returned unchanged.
func ToChannels(b *audio.Buffer, channels int) *audio.Buffer {
	in := b.Channels()
	if in == channels || channels < 1 {
		return b
	}

	frames := b.Frames()
	out := make([]float64, frames*channels)
	for f := 0; f < frames; f++ {
		switch {
		case in == 1:
			v := b.Sample(f, 0)
			for ch := 0; ch < channels; ch++ {
				out[f*channels+ch] = v
			}
		default:
			for ch := 0; ch < channels; ch++ {
				var sum float64
				var n int
				for src := ch % in; src < in; src += channels {
					sum += b.Sample(f, src)
					n++
				}
				if n > 0 {
					out[f*channels+ch] = sum / float64(n)
				}
			}
		}
	}
	return mustBuffer(out, channels, b.SampleRate())
}

// Resample converts b to rate using linear interpolation.
// A buffer already at rate is returned unchanged.
func Resample(b *audio.Buffer, rate int) *audio.Buffer {
	src := b.SampleRate()
	if src == rate || rate < 1 {
		return b
	}

	channels := b.Channels()
	inFrames := b.Frames()
	outFrames := int(math.Round(float64(inFrames) * float64(rate) / float64(src)))
	out := make([]float64, outFrames*channels)
	step := float64(src) / float64(rate)

	for j := 0; j < outFrames; j++ {
		pos := float64(j) * step
		i := int(pos)
		frac := pos - float64(i)
		if i >= inFrames-1 {
			i = inFrames - 1
			frac = 0
		}
		for ch := 0; ch < channels; ch++ {
			a := b.Sample(i, ch)
			v := a
			if frac > 0 {
				v = a + (b.Sample(i+1, ch)-a)*frac
			}
			out[j*channels+ch] = v
		}
	}
	return mustBuffer(out, channels, rate)
}

// HighPass applies a second-order Butterworth high-pass filter at cutoffHz.
func HighPass(b *audio.Buffer, cutoffHz float64) *audio.Buffer {
	rate := float64(b.SampleRate())
	if cutoffHz <= 0 || cutoffHz >= rate/2 {
		return b
	}

	w0 := 2 * math.Pi * cutoffHz / rate
	cosW := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * (1 / math.Sqrt2))

	a0 := 1 + alpha
	c := biquad{
		b0: (1 + cosW) / 2 / a0,
		b1: -(1 + cosW) / a0,
		b2: (1 + cosW) / 2 / a0,
		a1: -2 * cosW / a0,
		a2: (1 - alpha) / a0,
	}
	return c.apply(b)
}

// Compress reduces gain above the threshold using a feed-forward compressor
// with a stereo-linked peak envelope.
func Compress(b *audio.Buffer, cfg CompressorConfig) *audio.Buffer {
	if cfg.Ratio <= 1 {
		return b
	}

	rate := float64(b.SampleRate())
	attack := timeCoefficient(cfg.AttackMs, rate)
	release := timeCoefficient(cfg.ReleaseMs, rate)
	slope := 1 - 1/cfg.Ratio

	channels := b.Channels()
	frames := b.Frames()
	out := make([]float64, frames*channels)

	var env float64
	for f := 0; f < frames; f++ {
		var level float64
		for ch := 0; ch < channels; ch++ {
			if a := math.Abs(b.Sample(f, ch)); a > level {
				level = a
			}
		}
		if level > env {
			env = attack*env + (1-attack)*level
		} else {
			env = release*env + (1-release)*level
		}

		gain := 1.0
		if envDB := audio.AmplitudeToDBFS(env); envDB > cfg.ThresholdDB {
			gain = audio.DBFSToAmplitude((cfg.ThresholdDB - envDB) * slope)
		}
		for ch := 0; ch < channels; ch++ {
			out[f*channels+ch] = b.Sample(f, ch) * gain
		}
	}
	return mustBuffer(out, channels, b.SampleRate())
}

// Limit scales b so its peak does not exceed ceilingDBFS, then hard-clips any
// residue left by rounding. Buffers already below the ceiling are unchanged.
func Limit(b *audio.Buffer, ceilingDBFS float64) *audio.Buffer {
	ceiling := audio.DBFSToAmplitude(ceilingDBFS)
	// The amplitude must read back at or below the ceiling in dBFS.
	for audio.AmplitudeToDBFS(ceiling) > ceilingDBFS {
		ceiling = math.Nextafter(ceiling, 0)
	}
	peak := b.Peak()
	if peak <= ceiling {
		return b
	}

	gain := ceiling / peak
	samples := b.Samples()
	for i, s := range samples {
		v := s * gain
		if v > ceiling {
			v = ceiling
		} else if v < -ceiling {
			v = -ceiling
		}
		samples[i] = v
	}
	return mustBuffer(samples, b.Channels(), b.SampleRate())
}

// biquad holds normalized direct-form I coefficients.
type biquad struct {
	b0, b1, b2, a1, a2 float64
}

func (c biquad) apply(b *audio.Buffer) *audio.Buffer {
	channels := b.Channels()
	frames := b.Frames()
	out := make([]float64, frames*channels)

	for ch := 0; ch < channels; ch++ {
		var x1, x2, y1, y2 float64
		for f := 0; f < frames; f++ {
			x := b.Sample(f, ch)
			y := c.b0*x + c.b1*x1 + c.b2*x2 - c.a1*y1 - c.a2*y2
			x2, x1 = x1, x
			y2, y1 = y1, y
			out[f*channels+ch] = y
		}
	}
	return mustBuffer(out, channels, b.SampleRate())
}

// timeCoefficient returns the one-pole smoothing factor for a time constant.
func timeCoefficient(ms, rate float64) float64 {
	if ms <= 0 {
		return 0
	}
	return math.Exp(-1 / (ms / 1000 * rate))
}

// mustBuffer wraps samples produced by a stage. Stages always emit aligned
// samples with a valid layout, so construction cannot fail.
func mustBuffer(samples []float64, channels, rate int) *audio.Buffer {
	b, err := audio.NewBuffer(samples, channels, rate)
	if err != nil {
		panic(err)
	}
	return b
}
