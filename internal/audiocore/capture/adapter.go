package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/dsp"
	"github.com/tphakala/trackmix/internal/audiocore/processors"
	"github.com/tphakala/trackmix/internal/logger"
	"github.com/tphakala/trackmix/internal/observability/metrics"
)

// ComponentCapture identifies errors raised by capture adapters
const ComponentCapture = "capture"

// Config holds the settings shared by all adapters
type Config struct {
	SampleRate int     // target rate of buffers handed to the sink
	QueueSize  int     // buffers held between callback and worker
	Gain       float64 // linear gain, microphones only
	Metrics    *metrics.CaptureMetrics
	Logger     logger.Logger
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = audiocore.DefaultSampleRate
	}
	if c.QueueSize <= 0 {
		c.QueueSize = audiocore.DefaultQueueSize
	}
	if c.Logger == nil {
		c.Logger = GetLogger()
	}
	return c
}

// GetLogger returns the capture module logger
func GetLogger() logger.Logger {
	return logger.Global().Module("capture")
}

// rawBuffer is a callback buffer copied off the real-time thread
type rawBuffer struct {
	samples  []float32
	channels int
	rate     int
	ts       time.Time
}

// adapter is the queue, worker and sink shared by every adapter kind
type adapter struct {
	source  audiocore.SourceType
	cfg     Config
	gain    *processors.GainProcessor // nil disables gain
	log     logger.Logger
	dropLog *rate.Limiter

	queue chan rawBuffer
	quit  chan struct{}
	wg    sync.WaitGroup

	running   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	received  atomic.Uint64
	dropped   atomic.Uint64

	mu   sync.Mutex // guards sink and serializes Append
	sink Sink
}

func newAdapter(source audiocore.SourceType, sink Sink, cfg Config, gain *processors.GainProcessor) *adapter {
	cfg = cfg.withDefaults()
	return &adapter{
		source:  source,
		cfg:     cfg,
		gain:    gain,
		log:     cfg.Logger.With(logger.String("source", source.Key())),
		dropLog: rate.NewLimiter(rate.Every(time.Second), 1),
		queue:   make(chan rawBuffer, cfg.QueueSize),
		quit:    make(chan struct{}),
		sink:    sink,
	}
}

// startWorker launches the serial queue worker once
func (a *adapter) startWorker() {
	a.startOnce.Do(func() {
		a.running.Store(true)
		a.wg.Add(1)
		go a.work()
	})
}

// stopWorker stops accepting buffers, processes what is queued and waits
// for the worker to exit
func (a *adapter) stopWorker() {
	a.stopOnce.Do(func() {
		a.running.Store(false)
		close(a.quit)
	})
	a.wg.Wait()
}

// Push copies raw and queues it without blocking. A full queue drops the
// buffer.
func (a *adapter) Push(raw []float32, channels, sampleRate int, ts time.Time) {
	if !a.running.Load() || len(raw) == 0 {
		return
	}
	a.received.Add(1)
	a.cfg.Metrics.RecordBufferReceived(a.source.Key())

	b := rawBuffer{
		samples:  append([]float32(nil), raw...),
		channels: channels,
		rate:     sampleRate,
		ts:       ts,
	}
	select {
	case a.queue <- b:
	default:
		n := a.dropped.Add(1)
		a.cfg.Metrics.RecordBufferDropped(a.source.Key(), metrics.DropQueueFull)
		if a.dropLog.Allow() {
			a.log.Debug("capture queue full, buffer dropped", logger.Uint64("dropped_total", n))
		}
	}
}

func (a *adapter) work() {
	defer a.wg.Done()
	for {
		select {
		case b := <-a.queue:
			a.process(b)
		case <-a.quit:
			for {
				select {
				case b := <-a.queue:
					a.process(b)
				default:
					return
				}
			}
		}
	}
}

func (a *adapter) process(b rawBuffer) {
	mono := dsp.Downmix(b.samples, b.channels)
	if b.rate != a.cfg.SampleRate {
		resampled, err := dsp.Resample(mono, b.rate, a.cfg.SampleRate)
		if err != nil {
			a.dropped.Add(1)
			a.cfg.Metrics.RecordBufferDropped(a.source.Key(), metrics.DropConvertError)
			if a.dropLog.Allow() {
				a.log.Debug("conversion failed, buffer dropped", logger.Error(err))
			}
			return
		}
		mono = resampled
	}
	if len(mono) == 0 {
		return
	}
	if a.gain != nil {
		a.gain.Apply(mono)
	}

	buf := audiocore.NewBuffer(mono, a.cfg.SampleRate, b.ts)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sink != nil {
		a.sink.Append(buf)
	}
}

// Swap publishes newSink and returns the previous one. Buffers processed
// after Swap returns go to newSink.
func (a *adapter) Swap(newSink Sink) Sink {
	return a.SwapWith(newSink, nil)
}

// SwapWith swaps the sink like Swap and runs hook with the old sink while
// the adapter lock is still held, so no buffer reaches either sink between
// the swap and hook.
func (a *adapter) SwapWith(newSink Sink, hook func(old Sink)) Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	old := a.sink
	a.sink = newSink
	if hook != nil {
		hook(old)
	}
	return old
}

// Sink returns the current sink
func (a *adapter) Sink() Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sink
}

// Source returns the adapter's source type
func (a *adapter) Source() audiocore.SourceType { return a.source }

// Running reports whether the adapter accepts buffers
func (a *adapter) Running() bool { return a.running.Load() }

// Stats returns the number of received and dropped buffers
func (a *adapter) Stats() (received, dropped uint64) {
	return a.received.Load(), a.dropped.Load()
}
