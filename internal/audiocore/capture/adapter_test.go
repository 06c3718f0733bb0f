package capture_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/trackmix/internal/audiocore"
	"github.com/tphakala/trackmix/internal/audiocore/capture"
)

// recordingSink keeps every buffer it receives
type recordingSink struct {
	mu   sync.Mutex
	bufs []audiocore.Buffer
}

func (s *recordingSink) Append(buf audiocore.Buffer) {
	s.mu.Lock()
	s.bufs = append(s.bufs, buf)
	s.mu.Unlock()
}

func (s *recordingSink) buffers() []audiocore.Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audiocore.Buffer(nil), s.bufs...)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bufs)
}

// blockingSink blocks in Append until release is closed
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSink) Append(audiocore.Buffer) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
}

func filled(n int, v float32) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func TestSystemAdapterConvertsToTargetFormat(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	a := capture.NewSystemAudioAdapter(sink, capture.Config{SampleRate: 48000})
	a.Start()

	ts := time.Unix(1_700_000_000, 0)
	// 480 stereo frames at 24 kHz
	a.Push(filled(960, 0.25), 2, 24000, ts)
	a.Stop()

	bufs := sink.buffers()
	require.Len(t, bufs, 1)
	assert.Equal(t, 48000, bufs[0].SampleRate)
	assert.Len(t, bufs[0].Samples, 960)
	assert.Equal(t, ts, bufs[0].Timestamp)
	assert.Equal(t, 20*time.Millisecond, bufs[0].Duration)
	assert.InDelta(t, 0.25, bufs[0].Samples[100], 1e-4, "system audio is not gained")
}

func TestAdapterCopiesCallbackBuffer(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	a := capture.NewSystemAudioAdapter(sink, capture.Config{})
	a.Start()

	raw := filled(480, 0.5)
	a.Push(raw, 1, 48000, time.Now())
	for i := range raw {
		raw[i] = 0
	}
	a.Stop()

	bufs := sink.buffers()
	require.Len(t, bufs, 1)
	assert.InDelta(t, 0.5, bufs[0].Samples[0], 1e-6)
}

func TestAdapterIgnoresPushWhenNotRunning(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	a := capture.NewSystemAudioAdapter(sink, capture.Config{})
	a.Push(filled(480, 0.1), 1, 48000, time.Now())

	a.Start()
	a.Stop()
	a.Push(filled(480, 0.1), 1, 48000, time.Now())

	assert.Zero(t, sink.count())
	received, dropped := a.Stats()
	assert.Zero(t, received)
	assert.Zero(t, dropped)
}

func TestAdapterDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	sink := &blockingSink{entered: make(chan struct{}), release: make(chan struct{})}
	a := capture.NewSystemAudioAdapter(sink, capture.Config{QueueSize: 1})
	a.Start()

	a.Push(filled(480, 0.1), 1, 48000, time.Now())
	<-sink.entered // worker is now stuck inside Append

	a.Push(filled(480, 0.1), 1, 48000, time.Now()) // fills the queue
	a.Push(filled(480, 0.1), 1, 48000, time.Now()) // dropped

	received, dropped := a.Stats()
	assert.Equal(t, uint64(3), received)
	assert.Equal(t, uint64(1), dropped)

	close(sink.release)
	a.Stop()
}

func TestAdapterStopDrainsQueue(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	a := capture.NewSystemAudioAdapter(sink, capture.Config{})
	a.Start()

	start := time.Now()
	for i := range 5 {
		a.Push(filled(480, 0.1), 1, 48000, start.Add(time.Duration(i)*10*time.Millisecond))
	}
	a.Stop()

	bufs := sink.buffers()
	require.Len(t, bufs, 5)
	for i := 1; i < len(bufs); i++ {
		assert.True(t, bufs[i].Timestamp.After(bufs[i-1].Timestamp), "buffers keep arrival order")
	}
}

func TestAdapterSwapRoutesToNewSink(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	second := &recordingSink{}
	a := capture.NewSystemAudioAdapter(first, capture.Config{})
	a.Start()
	defer a.Stop()

	a.Push(filled(480, 0.1), 1, 48000, time.Now())
	require.Eventually(t, func() bool { return first.count() == 1 }, time.Second, time.Millisecond)

	var hooked capture.Sink
	old := a.SwapWith(second, func(prev capture.Sink) { hooked = prev })
	assert.Same(t, first, old)
	assert.Same(t, first, hooked)
	assert.Same(t, second, a.Sink())

	a.Push(filled(480, 0.1), 1, 48000, time.Now())
	require.Eventually(t, func() bool { return second.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, first.count())
}

type countingPusher struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPusher) Push([]float32, int, int, time.Time) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
}

func TestStreamRouterDispatch(t *testing.T) {
	t.Parallel()

	system := &countingPusher{}
	mic := &countingPusher{}
	router := capture.NewStreamRouter(system, mic)

	payload := capture.Payload{Samples: filled(480, 0.1), Channels: 1, SampleRate: 48000, Timestamp: time.Now()}
	router.Dispatch(audiocore.PayloadSystemAudio, payload)
	router.Dispatch(audiocore.PayloadSystemAudio, payload)
	router.Dispatch(audiocore.PayloadMicrophone, payload)
	router.Dispatch(audiocore.PayloadVideo, payload)
	router.Dispatch(audiocore.PayloadKind(42), payload)

	assert.Equal(t, 2, system.calls)
	assert.Equal(t, 1, mic.calls)

	// a router without a microphone pusher ignores microphone payloads
	capture.NewStreamRouter(system, nil).Dispatch(audiocore.PayloadMicrophone, payload)
	assert.Equal(t, 2, system.calls)
}
