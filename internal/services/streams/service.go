package streamsvc

import (
	"context"
	"fmt"
	"time"

	"github.com/rzbill/pulse/internal/eventlog"
	logpkg "github.com/rzbill/pulse/pkg/log"
	"github.com/rzbill/pulse/pkg/id"
)

// TailID names the current end of a stream in cursor reads and group creation.
const TailID = eventlog.TailID

// BootstrapField marks the placeholder record written when a group is
// created on a stream that does not exist yet.
const BootstrapField = "bootstrap"

// Record is one log record with its string ID.
type Record struct {
	ID     string
	Fields map[string]string
}

// Log is the backing event log. *eventlog.Store implements it.
type Log interface {
	Append(ctx context.Context, stream string, fields map[string]string) (id.ID, error)
	Delete(ctx context.Context, stream string, ids ...id.ID) (int, error)
	Trim(ctx context.Context, stream string, maxLen int64, approximate bool) (int, error)
	RevRange(stream string, end, start id.ID, count int) ([]eventlog.Entry, error)
	ReadAfter(ctx context.Context, stream string, after id.ID, count int, block time.Duration) ([]eventlog.Entry, error)
	CreateGroup(ctx context.Context, stream, group, start string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int, block time.Duration) ([]eventlog.Entry, error)
	Ack(ctx context.Context, stream, group string, ids ...id.ID) (int, error)
	LastID(stream string) (id.ID, bool, error)
	Info(stream string) (eventlog.StreamInfo, error)
}

// Service is the event log client.
type Service struct {
	log    Log
	logger logpkg.Logger
}

// New constructs a Service. A nil logger falls back to the package default.
func New(l Log, logger logpkg.Logger) *Service {
	if logger == nil {
		logger = logpkg.NewLogger().With(logpkg.Component("streams"))
	}
	return &Service{log: l, logger: logger}
}

// Append adds fields to stream and returns the assigned record ID.
func (s *Service) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	rid, err := s.log.Append(ctx, stream, fields)
	if err != nil {
		return "", classify("append", err)
	}
	return rid.String(), nil
}

// Trim bounds stream to roughly maxLen records. Failures are logged and
// never returned; retention is best effort.
func (s *Service) Trim(ctx context.Context, stream string, maxLen int64, approximate bool) int {
	if maxLen <= 0 {
		return 0
	}
	n, err := s.log.Trim(ctx, stream, maxLen, approximate)
	if err != nil {
		s.logger.Warn("trim failed",
			logpkg.Str("stream", stream),
			logpkg.Int64("max_len", maxLen),
			logpkg.Err(err))
		return 0
	}
	return n
}

// ReadCursor returns up to count records with IDs greater than after,
// waiting up to block for new records when none are available. TailID
// resolves to the stream's last ID when the call starts, so only records
// appended afterwards are returned.
func (s *Service) ReadCursor(ctx context.Context, stream, after string, block time.Duration, count int) ([]Record, error) {
	cursor, err := s.resolve(stream, after)
	if err != nil {
		return nil, err
	}
	entries, err := s.log.ReadAfter(ctx, stream, cursor, count, block)
	if err != nil {
		return nil, classify("read cursor", err)
	}
	return toRecords(entries), nil
}

// ReadGroup delivers up to count never-delivered records to consumer.
func (s *Service) ReadGroup(ctx context.Context, stream, group, consumer string, block time.Duration, count int) ([]Record, error) {
	entries, err := s.log.ReadGroup(ctx, stream, group, consumer, count, block)
	if err != nil {
		return nil, classify("read group", err)
	}
	return toRecords(entries), nil
}

// Ack removes ids from the group's pending list. Unknown, repeated or
// malformed IDs are ignored.
func (s *Service) Ack(ctx context.Context, stream, group string, ids ...string) error {
	parsed := make([]id.ID, 0, len(ids))
	for _, raw := range ids {
		rid, err := id.Parse(raw)
		if err != nil {
			continue
		}
		parsed = append(parsed, rid)
	}
	if len(parsed) == 0 {
		return nil
	}
	if _, err := s.log.Ack(ctx, stream, group, parsed...); err != nil {
		return classify("ack", err)
	}
	return nil
}

// EnsureGroup makes sure group exists on stream. An existing group is
// success. When the stream is missing a bootstrap record is appended, the
// group is created at the tail so the placeholder is never delivered, and
// the placeholder is then deleted.
func (s *Service) EnsureGroup(ctx context.Context, stream, group, start string) error {
	if start == "" {
		start = TailID
	}
	err := s.log.CreateGroup(ctx, stream, group, start)
	if err == nil || IsGroupExists(err) {
		return nil
	}
	if !IsStreamMissing(err) {
		return classify("create group", err)
	}

	rid, err := s.log.Append(ctx, stream, map[string]string{BootstrapField: "true"})
	if err != nil {
		return classify("bootstrap stream", err)
	}
	if err := s.log.CreateGroup(ctx, stream, group, TailID); err != nil && !IsGroupExists(err) {
		return classify("create group", err)
	}
	if _, err := s.log.Delete(ctx, stream, rid); err != nil {
		s.logger.Warn("bootstrap record not removed",
			logpkg.Str("stream", stream),
			logpkg.Str("id", rid.String()),
			logpkg.Err(err))
	}
	s.logger.Debug("group created on new stream",
		logpkg.Str("stream", stream),
		logpkg.Str("group", group))
	return nil
}

// Latest returns up to n of the stream's most recent records, newest first.
func (s *Service) Latest(stream string, n int) ([]Record, error) {
	entries, err := s.log.RevRange(stream, id.Max, id.Zero, n)
	if err != nil {
		return nil, classify("rev range", err)
	}
	return toRecords(entries), nil
}

// LatestRecord returns the most recent retained record, if any.
func (s *Service) LatestRecord(stream string) (Record, bool, error) {
	recs, err := s.Latest(stream, 1)
	if err != nil || len(recs) == 0 {
		return Record{}, false, err
	}
	return recs[0], true, nil
}

// LatestID returns the most recently assigned ID of stream, or "" when the
// stream has never been written.
func (s *Service) LatestID(stream string) (string, error) {
	last, exists, err := s.log.LastID(stream)
	if err != nil {
		return "", classify("last id", err)
	}
	if !exists || last.IsZero() {
		return "", nil
	}
	return last.String(), nil
}

// Info summarizes stream and its consumer groups.
func (s *Service) Info(stream string) (eventlog.StreamInfo, error) {
	info, err := s.log.Info(stream)
	if err != nil {
		return eventlog.StreamInfo{}, classify("info", err)
	}
	return info, nil
}

func (s *Service) resolve(stream, after string) (id.ID, error) {
	switch after {
	case "", "0":
		return id.Zero, nil
	case TailID:
		last, _, err := s.log.LastID(stream)
		if err != nil {
			return id.Zero, classify("last id", err)
		}
		return last, nil
	}
	rid, err := id.Parse(after)
	if err != nil {
		return id.Zero, fmt.Errorf("%w: %q", ErrInvalidID, after)
	}
	return rid, nil
}

func toRecords(entries []eventlog.Entry) []Record {
	if len(entries) == 0 {
		return nil
	}
	out := make([]Record, len(entries))
	for i, e := range entries {
		out[i] = Record{ID: e.ID.String(), Fields: e.Fields}
	}
	return out
}
