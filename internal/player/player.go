package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/rewind/internal/clock"
	"github.com/zsiec/rewind/internal/config"
	"github.com/zsiec/rewind/internal/media"
	"github.com/zsiec/rewind/internal/queue"
	"github.com/zsiec/rewind/internal/ringbuf"
)

// Master clock names, as configured in sync.master.
const (
	MasterAudio    = "audio"
	MasterVideo    = "video"
	MasterExternal = "external"
)

const (
	unboundedMin = time.Duration(math.MinInt64)
	unboundedMax = time.Duration(math.MaxInt64)
)

var epoch = time.Now()

// Player plays one input. Create it with New, then call Open and Run.
// Control methods may be called from any goroutine while Run is active.
type Player struct {
	log       *slog.Logger
	cfg       *config.Config
	dmx       Demuxer
	factory   DecoderFactory
	sink      AudioSink
	resampler Resampler
	renderer  Renderer
	now       func() float64

	state atomic.Int32

	streams  []*stream
	video    *stream
	audio    *stream
	subtitle *stream
	start    time.Duration

	// ring holds decoded pictures in stream-position order. writeMu
	// serializes the decode goroutine's claim/complete pairs with the
	// direction toggles, flushes and reads made by other goroutines.
	ring      *ringbuf.Ring[media.Frame]
	writeMu   sync.Mutex
	minSerial atomic.Int64
	gen       atomic.Int64

	vidclk *clock.Clock
	audclk *clock.Clock
	extclk *clock.Clock

	audioFormat media.AudioFormat
	hwBufSize   int
	async       *audioSync
	audioBuf    []byte
	sinkOnce    sync.Once

	seekMu  sync.Mutex
	seekReq *seekRequest
	wake    chan struct{}
	eof     atomic.Bool

	ctlMu    sync.Mutex
	paused   bool
	speed    float64
	backward bool
	step     bool
	cancel   context.CancelFunc
	runDone  chan struct{}

	// Refresh state, guarded by refreshMu.
	refreshMu   sync.Mutex
	cur         media.Frame
	next        media.Frame
	hasCur      bool
	hasNext     bool
	curGen      int64
	nextGen     int64
	frameTimer  float64
	timerGen    int64
	timerSet    bool
	endReported atomic.Bool

	externalRefresh bool

	lastPTS atomic.Int64
	closed  atomic.Bool

	shown         atomic.Int64
	dropped       atomic.Int64
	duplicated    atomic.Int64
	seeks         atomic.Int64
	seeksRejected atomic.Int64
	repositions   atomic.Int64
}

// Option configures a Player.
type Option func(*Player)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(p *Player) {
		if log != nil {
			p.log = log
		}
	}
}

// WithAudioSink routes decoded audio through r into sink. Without a sink
// audio streams are ignored.
func WithAudioSink(sink AudioSink, r Resampler) Option {
	return func(p *Player) {
		p.sink = sink
		p.resampler = r
	}
}

// WithRenderer sets the renderer receiving displayed pictures.
func WithRenderer(r Renderer) Option {
	return func(p *Player) {
		p.renderer = r
	}
}

// WithNow replaces the wall time source, in seconds, used by the clocks
// and the frame timer.
func WithNow(now func() float64) Option {
	return func(p *Player) {
		p.now = now
	}
}

// WithExternalRefresh makes Run leave display timing to the caller, which
// must call Refresh after each returned delay.
func WithExternalRefresh() Option {
	return func(p *Player) {
		p.externalRefresh = true
	}
}

// New creates a player for the input read by dmx, decoding with factory.
// A nil cfg means config.Default().
func New(cfg *config.Config, dmx Demuxer, factory DecoderFactory, opts ...Option) *Player {
	if cfg == nil {
		cfg = config.Default()
	}
	p := &Player{
		log:      slog.Default(),
		cfg:      cfg,
		dmx:      dmx,
		factory:  factory,
		renderer: discardRenderer{},
		now:      func() float64 { return time.Since(epoch).Seconds() },
		wake:     make(chan struct{}, 1),
		speed:    math.Abs(cfg.Player.Speed),
		paused:   cfg.Player.StartPaused,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With("component", "player")
	p.lastPTS.Store(int64(media.NoPTS))
	return p
}

type discardRenderer struct{}

func (discardRenderer) Render(_, _ *media.Frame) error { return nil }

func (p *Player) setState(st State) {
	prev := State(p.state.Swap(int32(st)))
	if prev != st {
		p.log.Info("player state", "from", prev.String(), "to", st.String())
	}
}

// State returns the player's lifecycle state.
func (p *Player) State() State {
	return State(p.state.Load())
}

// Open opens a decoder for the first video, audio and subtitle stream of
// the input, and the audio sink. A stream that fails to open is skipped;
// Open fails only when neither video nor audio is playable.
func (p *Player) Open(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if p.State() != StateIdle {
		return fmt.Errorf("player: already opened")
	}

	var errs []error
	for _, info := range p.dmx.Streams() {
		if err := ctx.Err(); err != nil {
			p.closeStreams()
			return err
		}
		var err error
		switch info.Kind {
		case media.KindVideo:
			if p.video == nil {
				p.video, err = p.openVideo(info)
			}
		case media.KindAudio:
			if p.audio == nil {
				p.audio, err = p.openAudio(info)
			}
		case media.KindSubtitle:
			if p.subtitle == nil {
				p.subtitle, err = p.openSubtitle(info)
			}
		}
		if err != nil {
			p.log.Warn("stream disabled", "stream", info.Index, "error", err)
			errs = append(errs, err)
		}
	}

	if p.video == nil && p.audio == nil {
		p.closeStreams()
		if len(errs) == 0 {
			return ErrNoStreams
		}
		return fmt.Errorf("%w: %w", ErrNoStreams, errors.Join(errs...))
	}
	if p.video == nil && p.subtitle != nil {
		p.log.Info("subtitles ignored without video")
		p.subtitle.dec.Close()
		p.subtitle.setState(StateClosed)
		p.subtitle = nil
	}
	for _, s := range []*stream{p.video, p.audio, p.subtitle} {
		if s != nil {
			p.streams = append(p.streams, s)
		}
	}

	if p.video != nil {
		p.start = p.video.info.StartTime
	} else {
		p.start = p.audio.info.StartTime
	}
	p.vidclk = clock.New(p.clockOpts(p.video)...)
	p.audclk = clock.New(p.clockOpts(p.audio)...)
	p.extclk = clock.New(clock.WithNow(p.now))
	for _, c := range p.clocks() {
		c.SetSpeed(p.speed)
		c.SetPaused(p.paused)
	}

	p.setState(StateOpened)
	p.log.Info("input opened",
		"streams", len(p.streams),
		"video", p.video != nil,
		"audio", p.audio != nil,
		"subtitles", p.subtitle != nil,
		"master", p.master(),
	)
	return nil
}

func (p *Player) clockOpts(s *stream) []clock.Option {
	opts := []clock.Option{clock.WithNow(p.now)}
	if s != nil {
		opts = append(opts, clock.WithQueueSerial(s.pktq.Serial))
	}
	return opts
}

func (p *Player) clocks() []*clock.Clock {
	return []*clock.Clock{p.vidclk, p.audclk, p.extclk}
}

func (p *Player) openStream(info media.StreamInfo) (*stream, error) {
	dec, err := p.factory.Open(info)
	if err != nil {
		return nil, &StreamError{Kind: info.Kind, Op: "open decoder", Err: err}
	}
	pktq, err := queue.NewPacketQueue(p.cfg.Queue.MaxPackets, p.cfg.Queue.MaxBytes)
	if err != nil {
		dec.Close()
		return nil, &StreamError{Kind: info.Kind, Op: "allocate queue", Err: err}
	}
	pktq.Start()
	return newStream(info, dec, pktq, p.log), nil
}

func (p *Player) openVideo(info media.StreamInfo) (*stream, error) {
	ring, err := ringbuf.New[media.Frame](p.cfg.Ring.Capacity, p.cfg.Ring.MaxReverse, 0)
	if err != nil {
		return nil, &StreamError{Kind: info.Kind, Op: "allocate ring", Err: err}
	}
	s, err := p.openStream(info)
	if err != nil {
		return nil, err
	}
	p.ring = ring
	return s, nil
}

func (p *Player) openAudio(info media.StreamInfo) (*stream, error) {
	if p.sink == nil || p.resampler == nil || p.cfg.Audio.Disabled {
		p.log.Info("audio output disabled", "stream", info.Index)
		return nil, nil
	}
	s, err := p.openStream(info)
	if err != nil {
		return nil, err
	}
	s.fq, err = queue.NewFrameQueue(s.pktq, p.cfg.Queue.AudioFrames, true)
	if err != nil {
		s.dec.Close()
		return nil, &StreamError{Kind: info.Kind, Op: "allocate frame queue", Err: err}
	}

	format := media.AudioFormat{
		SampleRate:     p.cfg.Audio.SampleRate,
		Channels:       p.cfg.Audio.Channels,
		BytesPerSample: p.cfg.Audio.BytesPerSample,
	}
	hw, err := p.sink.Open(format)
	if err != nil {
		s.dec.Close()
		return nil, &StreamError{Kind: info.Kind, Op: "open sink", Err: err}
	}
	p.audioFormat = format
	p.hwBufSize = hw
	p.async = newAudioSync(p.cfg.Sync, float64(hw)/float64(format.BytesPerSecond()))
	return s, nil
}

func (p *Player) openSubtitle(info media.StreamInfo) (*stream, error) {
	s, err := p.openStream(info)
	if err != nil {
		return nil, err
	}
	s.fq, err = queue.NewFrameQueue(s.pktq, p.cfg.Queue.SubtitleFrames, false)
	if err != nil {
		s.dec.Close()
		return nil, &StreamError{Kind: info.Kind, Op: "allocate frame queue", Err: err}
	}
	return s, nil
}

// Run plays the input until ctx is cancelled, Close is called, or, with
// player.auto_exit set, the end of the input is displayed. It returns
// the first error of any playback goroutine.
func (p *Player) Run(ctx context.Context) error {
	p.ctlMu.Lock()
	if p.closed.Load() {
		p.ctlMu.Unlock()
		return ErrClosed
	}
	if p.State() != StateOpened {
		p.ctlMu.Unlock()
		return fmt.Errorf("player: run in state %s", p.State())
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.runDone = make(chan struct{})
	done := p.runDone
	p.ctlMu.Unlock()
	defer close(done)
	defer cancel()

	p.setState(StateRunning)
	for _, s := range p.streams {
		s.setState(StateRunning)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.demuxLoop(ctx) })
	if p.video != nil {
		g.Go(func() error { return p.videoLoop(ctx) })
	}
	if p.audio != nil {
		g.Go(func() error { return p.frameLoop(ctx, p.audio) })
		g.Go(func() error { return p.audioLoop(ctx) })
	}
	if p.subtitle != nil {
		g.Go(func() error { return p.frameLoop(ctx, p.subtitle) })
	}
	if !p.externalRefresh {
		g.Go(func() error { return p.refreshLoop(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		p.abort()
		return nil
	})

	err := g.Wait()
	p.teardown()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// abort releases every goroutine blocked on a queue, the ring, or the
// audio sink.
func (p *Player) abort() {
	p.setState(StateClosing)
	for _, s := range p.streams {
		s.setState(StateClosing)
		s.pktq.Abort()
		if s.fq != nil {
			s.fq.Signal()
		}
	}
	if p.ring != nil {
		p.ring.Unblock()
	}
	p.closeSink()
	p.signal()
}

func (p *Player) closeSink() {
	if p.audio == nil {
		return
	}
	p.sinkOnce.Do(func() {
		if err := p.sink.Close(); err != nil {
			p.log.Warn("audio sink close failed", "error", err)
		}
	})
}

func (p *Player) closeStreams() {
	for _, s := range []*stream{p.video, p.audio, p.subtitle} {
		if s == nil || s.State() == StateClosed {
			continue
		}
		if err := s.dec.Close(); err != nil {
			s.log.Warn("decoder close failed", "error", err)
		}
		s.setState(StateClosed)
	}
}

func (p *Player) teardown() {
	p.closeStreams()
	p.setState(StateClosed)
	p.log.Info("playback stopped",
		"shown", p.shown.Load(),
		"dropped", p.dropped.Load(),
		"duplicated", p.duplicated.Load(),
		"seeks", p.seeks.Load(),
		"seeks_rejected", p.seeksRejected.Load(),
	)
}

// Close stops playback, waits for Run to return, and closes the demuxer.
// Calls after the first return ErrClosed.
func (p *Player) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	p.ctlMu.Lock()
	cancel, done := p.cancel, p.runDone
	p.ctlMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	} else {
		p.abort()
		p.teardown()
	}
	return p.dmx.Close()
}

// finish ends Run after the end of the input was displayed.
func (p *Player) finish() {
	p.ctlMu.Lock()
	cancel := p.cancel
	p.ctlMu.Unlock()
	if cancel != nil {
		p.log.Info("end of input, exiting")
		cancel()
	}
}

func (p *Player) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Player) canSeek() bool {
	if s, ok := p.dmx.(seekable); ok {
		return s.Seekable()
	}
	return true
}

// Pause stops the clocks and freezes the displayed picture.
func (p *Player) Pause() error {
	return p.setPaused(true)
}

// Play resumes playback.
func (p *Player) Play() error {
	return p.setPaused(false)
}

// TogglePause flips between Play and Pause.
func (p *Player) TogglePause() error {
	return p.setPaused(!p.isPaused())
}

func (p *Player) setPaused(paused bool) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()

	if p.paused == paused {
		return nil
	}
	if !paused && p.vidclk != nil {
		p.frameTimer += p.now() - p.vidclk.LastUpdated()
	}
	p.paused = paused
	p.step = false
	if p.vidclk != nil {
		for _, c := range p.clocks() {
			c.SetPaused(paused)
		}
	}
	p.log.Info("paused", "paused", paused)
	return nil
}

func (p *Player) isPaused() bool {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	return p.paused
}

// Step shows the next picture while paused.
func (p *Player) Step() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if err := p.Pause(); err != nil {
		return err
	}
	p.ctlMu.Lock()
	p.step = true
	p.ctlMu.Unlock()
	return nil
}

// SetSpeed sets the playback rate; 1 is real time. The direction is set
// separately.
func (p *Player) SetSpeed(speed float64) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !(speed > 0) || math.IsInf(speed, 0) {
		return fmt.Errorf("player: speed %v, need a positive finite value", speed)
	}
	p.ctlMu.Lock()
	p.speed = speed
	p.ctlMu.Unlock()
	p.applySpeed()
	p.log.Info("speed", "speed", speed)
	return nil
}

// applySpeed signs the configured speed with the direction the ring is
// actually traversed in and applies it to every clock.
func (p *Player) applySpeed() {
	if p.vidclk == nil {
		return
	}
	p.ctlMu.Lock()
	speed := p.speed
	p.ctlMu.Unlock()
	if p.ring != nil && p.ring.Backward() {
		speed = -speed
	}
	for _, c := range p.clocks() {
		c.SetSpeed(speed)
	}
}

// Speed returns the playback rate magnitude.
func (p *Player) Speed() float64 {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	return p.speed
}

// SetDirection requests playback in direction d. The change takes effect
// at the next displayed picture. Backward playback needs a video stream
// and a seekable input.
func (p *Player) SetDirection(d Direction) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if d == Backward {
		if p.video == nil {
			return fmt.Errorf("%w: backward playback needs video", ErrSeekRejected)
		}
		if !p.canSeek() {
			return fmt.Errorf("%w: input is not seekable", ErrSeekRejected)
		}
	}
	p.ctlMu.Lock()
	changed := p.backward != (d == Backward)
	p.backward = d == Backward
	p.ctlMu.Unlock()
	if changed {
		p.log.Info("direction requested", "direction", d.String())
	}
	return nil
}

// ToggleDirection requests the direction opposite to the last requested
// one.
func (p *Player) ToggleDirection() error {
	d := Backward
	if p.wantBackward() {
		d = Forward
	}
	return p.SetDirection(d)
}

// Direction returns the direction playback is currently running in.
func (p *Player) Direction() Direction {
	if p.ring != nil && p.ring.Backward() {
		return Backward
	}
	return Forward
}

func (p *Player) wantBackward() bool {
	p.ctlMu.Lock()
	defer p.ctlMu.Unlock()
	return p.backward
}

// master returns the name of the clock the others follow.
func (p *Player) master() string {
	if p.video != nil && p.ring.Backward() {
		return MasterVideo
	}
	audio := p.audio != nil && !p.audio.closed()
	switch p.cfg.Sync.Master {
	case MasterVideo:
		if p.video != nil {
			return MasterVideo
		}
		if audio {
			return MasterAudio
		}
	case MasterAudio:
		if audio {
			return MasterAudio
		}
	}
	return MasterExternal
}

func (p *Player) masterClock() *clock.Clock {
	switch p.master() {
	case MasterVideo:
		return p.vidclk
	case MasterAudio:
		return p.audclk
	}
	return p.extclk
}

// Position returns the playback position relative to the start of the
// input.
func (p *Player) Position() time.Duration {
	if p.vidclk == nil {
		return 0
	}
	ts := media.FromSeconds(p.masterClock().Time())
	if ts == media.NoPTS {
		ts = time.Duration(p.lastPTS.Load())
	}
	if ts == media.NoPTS {
		return 0
	}
	return max(ts-p.start, 0)
}
