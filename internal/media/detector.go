package media

import (
	"math"
	"math/cmplx"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"gonum.org/v1/gonum/dsp/fourier"
)

// DetectorConfig mirrors a web-audio analyser: magnitudes are mapped from
// [MinDecibels, MaxDecibels] onto 0..255 and averaged across the bins.
type DetectorConfig struct {
	Interval    time.Duration
	FFTSize     int
	Threshold   float64
	Smoothing   float64
	MinDecibels float64
	MaxDecibels float64
}

func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		Interval:    100 * time.Millisecond,
		FFTSize:     256,
		Threshold:   10,
		Smoothing:   0.8,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

func (c DetectorConfig) withDefaults() DetectorConfig {
	d := DefaultDetectorConfig()
	if c.Interval > 0 {
		d.Interval = c.Interval
	}
	if c.FFTSize > 0 {
		d.FFTSize = c.FFTSize
	}
	if c.Threshold > 0 {
		d.Threshold = c.Threshold
	}
	if c.Smoothing > 0 && c.Smoothing < 1 {
		d.Smoothing = c.Smoothing
	}
	if c.MinDecibels < c.MaxDecibels {
		d.MinDecibels, d.MaxDecibels = c.MinDecibels, c.MaxDecibels
	}
	return d
}

// SampleSource is the analysis tap of the capture stream.
type SampleSource interface {
	Samples(dst []float64) int
}

// Detector samples the tap on a fixed interval and reports speaking edges.
type Detector struct {
	cfg      DetectorConfig
	src      SampleSource
	clk      clock.Clock
	onChange func(bool)

	fft    *fourier.FFT
	window []float64
	buf    []float64
	coeff  []complex128
	smooth []float64

	mu       sync.Mutex
	speaking bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

func NewDetector(src SampleSource, cfg DetectorConfig, clk clock.Clock, onChange func(bool)) *Detector {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.New()
	}
	n := cfg.FFTSize
	return &Detector{
		cfg:      cfg,
		src:      src,
		clk:      clk,
		onChange: onChange,
		fft:      fourier.NewFFT(n),
		window:   blackman(n),
		buf:      make([]float64, n),
		coeff:    make([]complex128, n/2+1),
		smooth:   make([]float64, n/2),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func blackman(n int) []float64 {
	const a = 0.16
	a0, a1, a2 := (1-a)/2, 0.5, a/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// Start launches the sampling loop. Call at most once.
func (d *Detector) Start() {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	ticker := d.clk.Ticker(d.cfg.Interval)
	go func() {
		defer close(d.done)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				d.tick()
			}
		}
	}()
}

// Stop ends sampling and waits for the loop. Idempotent.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stop) })
	d.mu.Lock()
	started := d.started
	d.mu.Unlock()
	if started {
		<-d.done
	}
}

func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *Detector) tick() {
	level := d.Level()
	speaking := level > d.cfg.Threshold

	d.mu.Lock()
	changed := speaking != d.speaking
	d.speaking = speaking
	d.mu.Unlock()

	if changed && d.onChange != nil {
		d.onChange(speaking)
	}
}

// Level returns the average byte-scaled magnitude of the latest window.
func (d *Detector) Level() float64 {
	n := d.src.Samples(d.buf)
	for i := n; i < len(d.buf); i++ {
		d.buf[i] = 0
	}
	for i := range d.buf {
		d.buf[i] *= d.window[i]
	}
	d.fft.Coefficients(d.coeff, d.buf)

	size := float64(len(d.buf))
	scale := 255 / (d.cfg.MaxDecibels - d.cfg.MinDecibels)
	var sum float64
	for k := range d.smooth {
		mag := cmplx.Abs(d.coeff[k]) / size
		d.smooth[k] = d.cfg.Smoothing*d.smooth[k] + (1-d.cfg.Smoothing)*mag
		if d.smooth[k] == 0 {
			continue
		}
		db := 20 * math.Log10(d.smooth[k])
		v := (db - d.cfg.MinDecibels) * scale
		sum += math.Max(0, math.Min(255, v))
	}
	return sum / float64(len(d.smooth))
}
