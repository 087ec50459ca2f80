package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/archive"
	"github.com/JakeFAU/tender-watch/internal/delivery"
	"github.com/JakeFAU/tender-watch/internal/events"
	"github.com/JakeFAU/tender-watch/internal/progress"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Config controls digest content and the empty-digest policy.
type Config struct {
	Purpose         string
	Recipients      delivery.Recipients
	SubjectTemplate string
	// SendEmpty sends a summary-only digest when nothing is pending.
	SendEmpty bool
	Footer    string
	// Location is the zone the digest is stamped in; nil means UTC.
	Location *time.Location
}

// Result describes what Notify did.
type Result struct {
	Selection    Selection
	Skipped      bool
	Subject      string
	Notification *tender.NotificationRecord
	ArchiveURI   string
	// DeliveryErr is set when the provider rejected the digest. It is never
	// returned as Notify's error.
	DeliveryErr error
}

// Delivered reports whether the provider accepted the digest.
func (r Result) Delivered() bool {
	return r.Notification != nil && r.Notification.Outcome == tender.DeliverySuccess
}

// Notifier drives one digest cycle.
type Notifier struct {
	cfg       Config
	selector  *Selector
	provider  delivery.Provider
	archive   archive.Store
	publisher events.Publisher
	emitter   progress.Emitter
	logger    *zap.Logger
}

// Option customizes a Notifier.
type Option func(*Notifier)

// WithArchive stores every rendered digest.
func WithArchive(a archive.Store) Option {
	return func(n *Notifier) {
		if a != nil {
			n.archive = a
		}
	}
}

// WithPublisher publishes digest events.
func WithPublisher(p events.Publisher) Option {
	return func(n *Notifier) {
		if p != nil {
			n.publisher = p
		}
	}
}

// WithEmitter attaches a progress emitter.
func WithEmitter(e progress.Emitter) Option {
	return func(n *Notifier) {
		if e != nil {
			n.emitter = e
		}
	}
}

// New wires a Notifier.
func New(cfg Config, selector *Selector, provider delivery.Provider, logger *zap.Logger, opts ...Option) (*Notifier, error) {
	if selector == nil {
		return nil, errors.New("selector is required")
	}
	if provider == nil {
		return nil, errors.New("delivery provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &Notifier{
		cfg:       cfg,
		selector:  selector,
		provider:  provider,
		archive:   archive.Noop{},
		publisher: events.Noop{},
		emitter:   progress.Nop{},
		logger:    logger.Named("notify"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify selects pending records, delivers the digest and records the
// outcome. Only store failures are returned as errors; a rejected delivery is
// reported through Result.DeliveryErr and leaves the records pending.
func (n *Notifier) Notify(ctx context.Context, rc tender.RunContext, now time.Time) (Result, error) {
	sel, err := n.selector.Select(ctx, now)
	if err != nil {
		return Result{}, err
	}
	res := Result{Selection: sel}
	logger := n.logger.With(zap.String("run_id", rc.RunID), zap.Int("pending", len(sel.Records)))

	if sel.Empty() && !n.cfg.SendEmpty {
		logger.Info("no pending records, digest skipped")
		res.Skipped = true
		n.publish(ctx, events.Event{Type: events.TypeDigestSkip, RunID: rc.RunID, Purpose: n.cfg.Purpose, TS: now})
		return res, nil
	}

	local := now
	if n.cfg.Location != nil {
		local = now.In(n.cfg.Location)
	}
	view := sel
	view.GeneratedAt = local
	body, err := RenderDigest(view, n.cfg.Footer)
	if err != nil {
		return res, err
	}
	res.Subject = RenderSubject(n.cfg.SubjectTemplate, n.cfg.Purpose, len(sel.Records), local)
	msg := delivery.Message{
		Recipients: n.cfg.Recipients,
		Subject:    res.Subject,
		Body:       body,
		Records:    sel.Records,
		Summary:    sel.Summary,
	}
	record := tender.NotificationRecord{
		SentAt:       now,
		RecipientSet: n.cfg.Recipients.String(),
		Subject:      res.Subject,
	}

	if sendErr := n.provider.Send(ctx, msg); sendErr != nil {
		var de *tender.DeliveryError
		if !errors.As(sendErr, &de) {
			sendErr = &tender.DeliveryError{Provider: n.provider.Name(), Err: sendErr}
		}
		res.DeliveryErr = sendErr
		logger.Error("digest delivery failed", zap.String("provider", n.provider.Name()), zap.Error(sendErr))

		record.ErrorDetail = sendErr.Error()
		saved, err := n.selector.RecordFailure(context.WithoutCancel(ctx), sel.Records, record)
		if err != nil {
			return res, fmt.Errorf("record failed delivery: %w", err)
		}
		res.Notification = &saved
		n.emit(rc, now, string(tender.DeliveryFailure), len(sel.Records), sendErr.Error())
		n.publish(ctx, events.Event{
			Type: events.TypeDigestFailed, RunID: rc.RunID, Purpose: n.cfg.Purpose, TS: now,
			Sources: sel.Summary, Subject: res.Subject, Error: sendErr.Error(),
		})
		return res, nil
	}

	// The provider accepted the digest; the confirmation must not be lost to
	// a cancellation arriving now.
	saved, err := n.selector.ConfirmSent(context.WithoutCancel(ctx), sel.Records, record)
	if err != nil {
		logger.Error("digest sent but confirmation failed, records will be sent again", zap.Error(err))
		return res, fmt.Errorf("confirm delivery: %w", err)
	}
	res.Notification = &saved
	logger.Info("digest delivered",
		zap.String("provider", n.provider.Name()),
		zap.String("subject", res.Subject),
		zap.Int("records", len(sel.Records)),
	)

	uri, err := n.archive.Put(ctx, archive.Key(n.cfg.Purpose, now), "text/plain; charset=utf-8", []byte(body))
	if err != nil {
		logger.Warn("digest archive failed", zap.Error(err))
	} else if uri != "" {
		res.ArchiveURI = uri
		logger.Debug("digest archived", zap.String("uri", uri))
	}

	n.emit(rc, now, string(tender.DeliverySuccess), len(sel.Records), "")
	n.publish(ctx, events.Event{
		Type: events.TypeDigestSent, RunID: rc.RunID, Purpose: n.cfg.Purpose, TS: now,
		Sources: sel.Summary, Delivered: len(sel.Records), Subject: res.Subject, ArchiveURI: res.ArchiveURI,
	})
	return res, nil
}

func (n *Notifier) emit(rc tender.RunContext, now time.Time, outcome string, count int, note string) {
	if rc.RunID == "" {
		return
	}
	n.emitter.Emit(progress.Event{
		RunID:   rc.RunID,
		Purpose: rc.Purpose,
		TS:      now,
		Stage:   progress.StageDigest,
		State:   outcome,
		New:     count,
		Note:    note,
	})
}

func (n *Notifier) publish(ctx context.Context, evt events.Event) {
	if _, err := n.publisher.Publish(ctx, evt); err != nil {
		n.logger.Warn("publish digest event failed", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
