// Package sender appends the signed-in user's messages to the feed. Text is
// validated against the current length limit; photos are uploaded first and
// appended only once the object store has accepted them.
package sender

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/friendlychat/chat-app/internal/chat"
	"github.com/friendlychat/chat-app/internal/feed"
	"github.com/friendlychat/chat-app/internal/metrics"
	"github.com/friendlychat/chat-app/internal/orphan"
	"github.com/friendlychat/chat-app/internal/ratelimit"
	"github.com/friendlychat/chat-app/internal/storage"
)

var (
	// ErrWriteRejected is returned when the feed refused the record. It is
	// not retried.
	ErrWriteRejected = errors.New("sender: write rejected")

	// ErrRateLimited is returned, together with ErrWriteRejected, when the
	// sender exceeded its append budget.
	ErrRateLimited = errors.New("sender: rate limited")

	// ErrUploadFailed is returned when a photo could not be stored. Nothing
	// was appended.
	ErrUploadFailed = errors.New("sender: upload failed")
)

// compensateTimeout bounds the cleanup of an object whose append failed. It
// runs even when the caller's context is already done.
const compensateTimeout = 10 * time.Second

// LengthLimit supplies the current maximum text length in characters.
type LengthLimit interface {
	MaxMessageLength() int
}

// Sender is safe for concurrent use.
type Sender struct {
	feed    feed.Service
	objects storage.ObjectStore

	limit   LengthLimit
	limiter ratelimit.Checker
	rule    ratelimit.Rule
	orphans orphan.Store
	maxDim  uint
}

// Option configures a Sender.
type Option func(*Sender)

// WithLengthLimit checks text against limit at send time.
func WithLengthLimit(limit LengthLimit) Option {
	return func(s *Sender) { s.limit = limit }
}

// WithRateLimit throttles appends per display name.
func WithRateLimit(limiter ratelimit.Checker, rule ratelimit.Rule) Option {
	return func(s *Sender) {
		s.limiter = limiter
		s.rule = rule
	}
}

// WithOrphanLedger records photos that could be neither appended nor
// deleted.
func WithOrphanLedger(store orphan.Store) Option {
	return func(s *Sender) { s.orphans = store }
}

// WithMaxDimension downscales photos whose longest side exceeds maxDim.
func WithMaxDimension(maxDim uint) Option {
	return func(s *Sender) { s.maxDim = maxDim }
}

// New creates a Sender. objects may be nil, in which case SendPhoto fails.
func New(f feed.Service, objects storage.ObjectStore, opts ...Option) *Sender {
	s := &Sender{feed: f, objects: objects, maxDim: storage.DefaultMaxDimension}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendText appends a text message stamped with name.
func (s *Sender) SendText(ctx context.Context, body, name string) (string, error) {
	maxChars := chat.DefaultMaxLength
	if s.limit != nil {
		maxChars = s.limit.MaxMessageLength()
	}
	if err := chat.ValidateText(body, maxChars); err != nil {
		return "", fmt.Errorf("sender: send text: %w", err)
	}

	if err := s.allow(ctx, name); err != nil {
		return "", err
	}
	return s.append(ctx, chat.NewText(body, name))
}

// SendPhoto uploads the file at path to chat_photos/<id>-<last path segment> and
// appends a photo message pointing at it. When the append fails the object
// is deleted again; if that fails too it is recorded in the orphan ledger.
func (s *Sender) SendPhoto(ctx context.Context, path, name string) (string, error) {
	if s.objects == nil {
		return "", fmt.Errorf("%w: no object store configured", ErrUploadFailed)
	}
	if err := s.allow(ctx, name); err != nil {
		return "", err
	}

	photo, err := storage.PreparePhoto(path, s.maxDim)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	start := time.Now()
	location, err := s.objects.Upload(ctx, photo.Name, photo.ContentType, photo.Reader())
	if err != nil {
		log.Printf("[sender] upload %s: %v", photo.Name, err)
		return "", fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	metrics.UploadDuration.Observe(time.Since(start).Seconds())

	key, err := s.append(ctx, chat.NewPhoto(location, name))
	if err != nil {
		s.compensate(ctx, photo.Name, location, name, err)
		return "", err
	}
	return key, nil
}

func (s *Sender) allow(ctx context.Context, name string) error {
	if s.limiter == nil {
		return nil
	}
	ok, err := s.limiter.Allow(ctx, name, s.rule)
	if err != nil {
		// Fail open.
		log.Printf("[sender] rate limit check for %s: %v", name, err)
		return nil
	}
	if !ok {
		metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
		return fmt.Errorf("%w: %w", ErrWriteRejected, ErrRateLimited)
	}
	return nil
}

func (s *Sender) append(ctx context.Context, m chat.Message) (string, error) {
	start := time.Now()
	key, err := s.feed.Append(ctx, m)
	if err != nil {
		if errors.Is(err, feed.ErrRateLimited) {
			metrics.MessagesTotal.WithLabelValues("rate_limited").Inc()
			return "", fmt.Errorf("%w: %w", ErrWriteRejected, ErrRateLimited)
		}
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: %w", ErrWriteRejected, err)
	}
	metrics.AppendLatency.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.WithLabelValues("appended").Inc()
	return key, nil
}

func (s *Sender) compensate(ctx context.Context, object, location, name string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	err := s.objects.Delete(ctx, object)
	if err == nil {
		metrics.OrphanedObjects.WithLabelValues("deleted").Inc()
		log.Printf("[sender] append failed, deleted %s", object)
		return
	}
	log.Printf("[sender] append failed and delete of %s failed: %v", object, err)

	if s.orphans == nil {
		return
	}
	rerr := s.orphans.Record(ctx, orphan.Entry{
		ObjectName: object,
		Location:   location,
		Sender:     name,
		Reason:     fmt.Sprintf("append: %v; delete: %v", cause, err),
	})
	if rerr != nil {
		log.Printf("[sender] record orphan %s: %v", object, rerr)
		return
	}
	metrics.OrphanedObjects.WithLabelValues("recorded").Inc()
}
