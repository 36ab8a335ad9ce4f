package client

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

type Quality string

const (
	QualityGood Quality = "good"
	QualityPoor Quality = "poor"
)

// Categories a consumer can subscribe callbacks to.
const (
	CategoryAll         = "*"
	CategoryAchievement = "achievement"
	CategoryPayment     = "payment"
	CategoryStatus      = "status"
	CategoryParticipant = "participant"
	CategoryReminder    = "reminder"
	CategoryWeather     = "weather"
)

// Subscription selects what the server should stream.
type Subscription struct {
	UserID     string
	Categories []string
	EntityIDs  []string
}

type Stream interface {
	Recv() (models.Message, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, sub Subscription) (Stream, error)
}

type Timer interface {
	Stop() bool
}

// Scheduler runs f after d. Tests substitute a manual clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type Options struct {
	Subscription     Subscription
	AutoReconnect    bool
	MaxAttempts      int
	BaseDelay        time.Duration
	MaxDelay         time.Duration
	HeartbeatTimeout time.Duration
	BufferSize       int
	Scheduler        Scheduler
	Now              func() time.Time
	// OnStateChange sees every transition once, in order, outside the
	// subscriber's lock.
	OnStateChange func(State)
}

type callback struct {
	id int
	fn func(Notification)
}

// Subscriber keeps one live stream open and reconnects with exponential backoff.
type Subscriber struct {
	dialer  Dialer
	opts    Options
	backoff *backoff.ExponentialBackOff
	inbox   *Inbox
	logger  *logger.Log

	mu             sync.Mutex
	state          State
	quality        Quality
	attempts       int
	lastDelay      time.Duration
	generation     int
	stream         Stream
	ctx            context.Context
	cancel         context.CancelFunc
	reconnectTimer Timer
	qualityTimer   Timer
	callbacks      map[string][]callback
	nextCallback   int

	// transitions not yet handed to OnStateChange, oldest first
	pendingStates []State
	flushing      bool
}

func NewSubscriber(dialer Dialer, opts Options) *Subscriber {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = time.Second
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 30 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 60 * time.Second
	}
	if opts.Scheduler == nil {
		opts.Scheduler = realScheduler{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     opts.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         opts.MaxDelay,
	}
	b.Reset()

	return &Subscriber{
		dialer:    dialer,
		opts:      opts,
		backoff:   b,
		inbox:     NewInbox(opts.BufferSize),
		logger:    logger.New().WithField("component", "subscriber").WithField("user", opts.Subscription.UserID),
		state:     StateDisconnected,
		quality:   QualityPoor,
		callbacks: make(map[string][]callback),
	}
}

func (s *Subscriber) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Subscriber) Quality() Quality {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quality
}

// Attempts is the number of reconnects scheduled since the last successful connect.
func (s *Subscriber) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *Subscriber) LastDelay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastDelay
}

func (s *Subscriber) Inbox() *Inbox {
	return s.inbox
}

// Connect opens the stream. It is a no-op unless the subscriber is disconnected
// or in the error state.
func (s *Subscriber) Connect(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateError {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.attempts = 0
	s.backoff.Reset()
	s.generation++
	gen := s.generation
	s.setStateLocked(StateConnecting)
	s.mu.Unlock()
	s.flushStates()

	s.dial(gen)
}

// Disconnect closes the stream and cancels every pending timer.
func (s *Subscriber) Disconnect() {
	s.mu.Lock()
	s.generation++
	if s.cancel != nil {
		s.cancel()
	}
	stream := s.stream
	s.stream = nil
	s.stopTimersLocked()
	s.quality = QualityPoor
	s.setStateLocked(StateDisconnected)
	s.mu.Unlock()
	s.flushStates()

	if stream != nil {
		stream.Close()
	}
}

func (s *Subscriber) dial(gen int) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	stream, err := s.dialer.Dial(ctx, s.opts.Subscription)

	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
		return
	}
	if err != nil {
		s.mu.Unlock()
		s.fail(gen, err)
		return
	}
	s.stream = stream
	s.attempts = 0
	s.backoff.Reset()
	s.quality = QualityGood
	s.armQualityLocked(gen)
	s.setStateLocked(StateConnected)
	s.mu.Unlock()
	s.flushStates()

	s.logger.Info("Connected to achievement stream")
	go s.read(gen, stream)
}

func (s *Subscriber) read(gen int, stream Stream) {
	for {
		msg, err := stream.Recv()
		if err != nil {
			stream.Close()
			s.fail(gen, err)
			return
		}
		if !s.receive(gen, msg) {
			stream.Close()
			return
		}
	}
}

// receive handles one message and reports whether gen is still current.
func (s *Subscriber) receive(gen int, msg models.Message) bool {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return false
	}
	if msg.Type == models.MessageHeartbeat || msg.Type == models.MessageConnected {
		s.quality = QualityGood
		s.armQualityLocked(gen)
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	n := s.inbox.Add(msg, s.opts.Now())
	s.dispatch(n)
	return true
}

func (s *Subscriber) fail(gen int, err error) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.stopTimersLocked()
	s.quality = QualityPoor

	if !s.opts.AutoReconnect || s.attempts >= s.opts.MaxAttempts {
		s.setStateLocked(StateError)
		s.mu.Unlock()
		s.flushStates()
		s.logger.WithError(err).Error("Achievement stream failed, giving up")
		return
	}

	delay := s.backoff.NextBackOff()
	if delay > s.opts.MaxDelay {
		delay = s.opts.MaxDelay
	}
	s.attempts++
	s.lastDelay = delay
	s.setStateLocked(StateReconnecting)
	s.reconnectTimer = s.opts.Scheduler.AfterFunc(delay, func() { s.dial(gen) })
	attempt := s.attempts
	s.mu.Unlock()
	s.flushStates()

	s.logger.WithError(err).WithField("attempt", attempt).WithField("delay", delay).Warn("Achievement stream lost, reconnecting")
}

func (s *Subscriber) armQualityLocked(gen int) {
	if s.qualityTimer != nil {
		s.qualityTimer.Stop()
	}
	s.qualityTimer = s.opts.Scheduler.AfterFunc(s.opts.HeartbeatTimeout, func() {
		s.mu.Lock()
		if gen == s.generation {
			s.quality = QualityPoor
		}
		s.mu.Unlock()
	})
}

func (s *Subscriber) stopTimersLocked() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.qualityTimer != nil {
		s.qualityTimer.Stop()
		s.qualityTimer = nil
	}
}

func (s *Subscriber) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.opts.OnStateChange != nil {
		s.pendingStates = append(s.pendingStates, st)
	}
}

// flushStates hands queued transitions to OnStateChange in the order they
// happened. Only one goroutine flushes at a time; a transition queued while
// another goroutine is flushing is delivered by that goroutine. Must be called
// without mu held.
func (s *Subscriber) flushStates() {
	s.mu.Lock()
	if s.flushing {
		s.mu.Unlock()
		return
	}
	s.flushing = true
	for len(s.pendingStates) > 0 {
		st := s.pendingStates[0]
		s.pendingStates = s.pendingStates[1:]
		s.mu.Unlock()
		s.opts.OnStateChange(st)
		s.mu.Lock()
	}
	s.flushing = false
	s.mu.Unlock()
}

// On registers fn for a category and returns a function that removes it.
// Several observers may share a category.
func (s *Subscriber) On(category string, fn func(Notification)) func() {
	s.mu.Lock()
	s.nextCallback++
	id := s.nextCallback
	s.callbacks[category] = append(s.callbacks[category], callback{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.callbacks[category]
		for i, cb := range list {
			if cb.id == id {
				s.callbacks[category] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(s.callbacks[category]) == 0 {
			delete(s.callbacks, category)
		}
	}
}

func (s *Subscriber) dispatch(n Notification) {
	s.mu.Lock()
	var fns []func(Notification)
	for _, cb := range s.callbacks[n.Category] {
		fns = append(fns, cb.fn)
	}
	if n.Category != CategoryAll {
		for _, cb := range s.callbacks[CategoryAll] {
			fns = append(fns, cb.fn)
		}
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}
