package subscriber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	streamsvc "github.com/rzbill/pulse/internal/services/streams"
	logpkg "github.com/rzbill/pulse/pkg/log"
)

// DeadLetterSuffix is appended to a stream key to name its dead-letter stream.
const DeadLetterSuffix = ":dlq"

var (
	ErrNoHandler = errors.New("subscriber: handler is required")
	ErrNoStream  = errors.New("subscriber: stream is required")
	ErrNoGroup   = errors.New("subscriber: group read needs a group name")
	errNotBool   = errors.New("subscriber: filter must evaluate to bool")
)

// Client is the part of the event log client a subscriber uses.
type Client interface {
	EnsureGroup(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int) ([]streamsvc.Record, error)
	ReadCursor(ctx context.Context, stream, after string, block time.Duration, count int) ([]streamsvc.Record, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Append(ctx context.Context, stream string, fields map[string]string) (string, error)
	Trim(ctx context.Context, stream string, maxLen int64, approximate bool) int
	LatestID(stream string) (string, error)
}

// RecordHandler applies one record's effect.
type RecordHandler interface {
	Handle(ctx context.Context, rec streamsvc.Record) error
}

// HandlerFunc adapts a function to RecordHandler.
type HandlerFunc func(ctx context.Context, rec streamsvc.Record) error

func (f HandlerFunc) Handle(ctx context.Context, rec streamsvc.Record) error { return f(ctx, rec) }

// State is the lifecycle position of a subscriber.
type State int32

const (
	StateUninitialized State = iota
	StateGroupReady
	StatePolling
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateGroupReady:
		return "GROUP_READY"
	case StatePolling:
		return "POLLING"
	case StateShutdown:
		return "SHUTDOWN"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Options configures a Subscriber.
type Options struct {
	// Name labels log lines; defaults to the stream key.
	Name     string
	Stream   string
	Strategy ReadStrategy
	Count    int
	Block    time.Duration
	// Interval is the pause between polls used by Run.
	Interval time.Duration
	// Filter is an optional CEL expression over fields and id.
	Filter           string
	DeadLetter       bool
	DeadLetterMaxLen int64
	Logger           logpkg.Logger
}

// Stats counts what a subscriber has done since it was created.
type Stats struct {
	Delivered    uint64
	Handled      uint64
	Failed       uint64
	Filtered     uint64
	DeadLettered uint64
}

// Subscriber owns one stream membership and its poll loop.
type Subscriber struct {
	client   Client
	handler  RecordHandler
	opts     Options
	filter   celFilter
	logger   logpkg.Logger
	consumer string

	state  atomic.Int32
	pollMu sync.Mutex
	lastID string

	delivered, handled, failed, filtered, deadLettered atomic.Uint64
}

// New validates opts and builds a subscriber in the UNINITIALIZED state.
func New(client Client, handler RecordHandler, opts Options) (*Subscriber, error) {
	if handler == nil {
		return nil, ErrNoHandler
	}
	if opts.Stream == "" {
		return nil, ErrNoStream
	}
	if opts.Strategy.IsGroup() && opts.Strategy.group == "" {
		return nil, ErrNoGroup
	}
	if opts.Count <= 0 {
		opts.Count = 50
	}
	if opts.Block < 0 {
		opts.Block = 0
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Name == "" {
		opts.Name = opts.Stream
	}
	f, err := newCELFilter(opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("subscriber %s: filter: %w", opts.Name, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	s := &Subscriber{
		client:   client,
		handler:  handler,
		opts:     opts,
		filter:   f,
		consumer: "consumer-" + uuid.NewString(),
		lastID:   streamsvc.TailID,
	}
	s.logger = logger.WithComponent("subscriber").With(
		logpkg.Str("subscriber", opts.Name),
		logpkg.Str("stream", opts.Stream),
		logpkg.Str("read", opts.Strategy.String()),
	)
	return s, nil
}

// Consumer returns the random consumer identity used for group reads.
func (s *Subscriber) Consumer() string { return s.consumer }

// State returns the current lifecycle state.
func (s *Subscriber) State() State { return State(s.state.Load()) }

// Name returns the subscriber label.
func (s *Subscriber) Name() string { return s.opts.Name }

// LastID returns the cursor position of a cursor subscriber.
func (s *Subscriber) LastID() string {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()
	return s.lastID
}

// Stats returns a snapshot of the counters.
func (s *Subscriber) Stats() Stats {
	return Stats{
		Delivered:    s.delivered.Load(),
		Handled:      s.handled.Load(),
		Failed:       s.failed.Load(),
		Filtered:     s.filtered.Load(),
		DeadLettered: s.deadLettered.Load(),
	}
}

// Start prepares the read position. Group subscribers ensure their group
// exists; a failure is logged and the subscriber continues in GROUP_READY
// since a peer may have created the group. Cursor subscribers pin "$" to the
// stream's current last ID so records appended from now on are read.
func (s *Subscriber) Start(ctx context.Context) {
	if s.State() != StateUninitialized {
		return
	}
	switch s.opts.Strategy.kind {
	case groupRead:
		if err := s.client.EnsureGroup(ctx, s.opts.Stream, s.opts.Strategy.group, s.opts.Strategy.start); err != nil {
			s.logger.Warn("ensure group failed, continuing",
				logpkg.Str("group", s.opts.Strategy.group),
				logpkg.Err(err))
		}
	case cursorRead:
		s.pollMu.Lock()
		s.lastID = s.resolveTail()
		s.pollMu.Unlock()
	}
	s.state.Store(int32(StateGroupReady))
	s.logger.Info("subscriber ready", logpkg.Str("consumer", s.consumer))
}

func (s *Subscriber) resolveTail() string {
	last, err := s.client.LatestID(s.opts.Stream)
	if err != nil {
		s.logger.Warn("resolve tail failed, reading from tail per poll", logpkg.Err(err))
		return streamsvc.TailID
	}
	if last == "" {
		return "0"
	}
	return last
}

// Poll runs one read and dispatch cycle and returns the number of records
// delivered. An empty read returns (0, nil). Concurrent calls on the same
// subscriber do not overlap; a call made while another is running returns
// immediately with (0, nil).
func (s *Subscriber) Poll(ctx context.Context) (int, error) {
	if !s.pollMu.TryLock() {
		s.logger.Debug("poll already running, skipping tick")
		return 0, nil
	}
	defer s.pollMu.Unlock()
	if s.State() == StateShutdown {
		return 0, nil
	}
	s.state.Store(int32(StatePolling))

	recs, err := s.read(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		s.logger.Error("read failed", logpkg.Err(err))
		if errors.Is(err, streamsvc.ErrNoGroup) {
			s.recreateGroup(ctx)
		}
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	s.delivered.Add(uint64(len(recs)))

	// A batch that was read is finished even if ctx ends mid-way, otherwise
	// its tail would sit in this consumer's pending list forever.
	bctx := context.WithoutCancel(ctx)
	for _, rec := range recs {
		s.dispatch(bctx, rec)
		s.settle(bctx, rec)
	}
	return len(recs), nil
}

func (s *Subscriber) read(ctx context.Context) ([]streamsvc.Record, error) {
	if s.opts.Strategy.IsGroup() {
		return s.client.ReadGroup(ctx, s.opts.Stream, s.opts.Strategy.group, s.consumer, s.opts.Block, s.opts.Count)
	}
	return s.client.ReadCursor(ctx, s.opts.Stream, s.lastID, s.opts.Block, s.opts.Count)
}

func (s *Subscriber) recreateGroup(ctx context.Context) {
	if err := s.client.EnsureGroup(ctx, s.opts.Stream, s.opts.Strategy.group, s.opts.Strategy.start); err != nil {
		s.logger.Warn("recreate group failed", logpkg.Err(err))
	}
}

// dispatch runs the handler for rec. Errors and panics stop here.
func (s *Subscriber) dispatch(ctx context.Context, rec streamsvc.Record) {
	if !s.filter.Eval(rec) {
		s.filtered.Add(1)
		return
	}
	err := s.invoke(ctx, rec)
	if err == nil {
		s.handled.Add(1)
		return
	}
	s.failed.Add(1)
	s.logger.Error("handler failed",
		logpkg.Str("group", s.opts.Strategy.group),
		logpkg.Str("consumer", s.consumer),
		logpkg.Str("id", rec.ID),
		logpkg.Err(err))
	if s.opts.DeadLetter {
		s.deadLetter(ctx, rec, err)
	}
}

func (s *Subscriber) invoke(ctx context.Context, rec streamsvc.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.Handle(ctx, rec)
}

// settle acks the record or advances the cursor past it, whatever the
// handler outcome was.
func (s *Subscriber) settle(ctx context.Context, rec streamsvc.Record) {
	if !s.opts.Strategy.IsGroup() {
		s.lastID = rec.ID
		return
	}
	if err := s.client.Ack(ctx, s.opts.Stream, s.opts.Strategy.group, rec.ID); err != nil {
		s.logger.Warn("ack failed", logpkg.Str("id", rec.ID), logpkg.Err(err))
	}
}

func (s *Subscriber) deadLetter(ctx context.Context, rec streamsvc.Record, cause error) {
	fields := make(map[string]string, len(rec.Fields)+6)
	for k, v := range rec.Fields {
		fields[k] = v
	}
	fields["dlq.stream"] = s.opts.Stream
	fields["dlq.id"] = rec.ID
	fields["dlq.group"] = s.opts.Strategy.group
	fields["dlq.consumer"] = s.consumer
	fields["dlq.error"] = cause.Error()
	fields["dlq.ts"] = strconv.FormatInt(time.Now().UnixMilli(), 10)

	dlq := s.opts.Stream + DeadLetterSuffix
	if _, err := s.client.Append(ctx, dlq, fields); err != nil {
		s.logger.Warn("dead-letter append failed", logpkg.Str("id", rec.ID), logpkg.Err(err))
		return
	}
	s.deadLettered.Add(1)
	if s.opts.DeadLetterMaxLen > 0 {
		s.client.Trim(ctx, dlq, s.opts.DeadLetterMaxLen, true)
	}
}

// Run starts the subscriber and polls on its interval until ctx is done.
// Read failures are logged by Poll and retried on the next tick.
func (s *Subscriber) Run(ctx context.Context) error {
	s.Start(ctx)
	t := time.NewTicker(s.opts.Interval)
	defer t.Stop()
	defer s.state.Store(int32(StateShutdown))
	for {
		_, _ = s.Poll(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("subscriber stopped")
			return nil
		case <-t.C:
		}
	}
}
