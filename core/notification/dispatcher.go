package notification

import (
	"context"
	"fmt"
	"net/mail"
	"sync"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/gruppenschlau/gruppenschlau/core"
)

const groupReadyTemplate = "group_ready"

var (
	// errors
	ErrNotFound       = errors.New("notification not found")
	ErrNoRecipients   = errors.New("group has no members to notify")
	ErrAllFailed      = errors.New("no notification email could be delivered")
	ErrGroupNotActive = errors.New("group is not active")
)

type Repository interface {
	CreateEntry(ctx context.Context, e Entry) (Entry, error)
	GetEntry(ctx context.Context, id string) (Entry, error)
	// LatestEntry returns the most recent entry of a group, or ErrNotFound.
	LatestEntry(ctx context.Context, groupID string) (Entry, error)
	// UndeliveredEntries returns undelivered entries with fewer than maxAttempts attempts, oldest first.
	UndeliveredEntries(ctx context.Context, maxAttempts int) ([]Entry, error)
	// SaveAttempt persists the attempt counters, last error and delivery time of `e`.
	SaveAttempt(ctx context.Context, e Entry) error
	// GroupInfo returns the group with its members as recipients, or ErrNotFound.
	GroupInfo(ctx context.Context, groupID string) (GroupInfo, error)
}

// Dispatcher delivers outbox entries by email.
type Dispatcher struct {
	repo    Repository
	mailSvc core.EmailService
	conf    *core.Config
	limiter *rate.Limiter
	logger  core.Logger
	metrics core.Metrics
}

func NewDispatcher(repo Repository, mailSvc core.EmailService, conf *core.Config, logger core.Logger, metrics core.Metrics) *Dispatcher {
	vala.BeginValidation().Validate(
		vala.IsNotNil(repo, "repo"),
		vala.IsNotNil(mailSvc, "mailSvc"),
		vala.IsNotNil(conf, "conf"),
		vala.IsNotNil(logger, "logger"),
	).CheckAndPanic()

	if metrics == nil {
		metrics = core.NopMetrics
	}
	limit := rate.Inf
	if conf.Notification.SendRate > 0 {
		limit = rate.Limit(conf.Notification.SendRate)
	}
	burst := conf.Notification.SendBurst
	if burst < 1 {
		burst = 1
	}
	return &Dispatcher{
		repo:    repo,
		mailSvc: mailSvc,
		conf:    conf,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		metrics: metrics,
	}
}

// Dispatch sends the "group ready" email of entry `entryID` to every group member and records the attempt.
// Partial delivery counts as delivered; an error is returned when nothing could be sent.
func (d *Dispatcher) Dispatch(ctx context.Context, entryID string) (Report, error) {
	entry, err := d.repo.GetEntry(ctx, entryID)
	if err != nil {
		return Report{}, errors.Wrap(err, "getting outbox entry")
	}

	report, sendErr := d.send(ctx, entry)

	entry.Attempts++
	entry.EmailsSent = report.EmailsSent
	entry.EmailsFailed = report.EmailsFailed
	if sendErr != nil {
		entry.LastError = null.StringFrom(sendErr.Error())
	} else {
		entry.LastError = null.String{}
		entry.DeliveredAt = null.TimeFrom(core.NowFunc())
	}
	if err = d.repo.SaveAttempt(ctx, entry); err != nil {
		d.logger.Error("saving notification attempt", errors.Wrap(err, entry.ID))
	}

	d.metrics.EmailsDispatched(report.EmailsSent, report.EmailsFailed)
	return report, sendErr
}

func (d *Dispatcher) send(ctx context.Context, entry Entry) (Report, error) {
	info, err := d.repo.GroupInfo(ctx, entry.GroupID)
	if err != nil {
		return Report{}, errors.Wrap(err, "loading group recipients")
	}
	if len(info.Recipients) == 0 {
		return Report{}, ErrNoRecipients
	}

	var (
		mu     sync.Mutex
		report Report
		g      errgroup.Group
	)
	g.SetLimit(d.conf.Notification.SendBurst + 1)
	for _, r := range info.Recipients {
		r := r
		g.Go(func() error {
			err := d.sendOne(ctx, info, r, entry.ChatLink)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.EmailsFailed++
				d.logger.Error(fmt.Sprintf("sending group notification to %s", r.Email), err)
			} else {
				report.EmailsSent++
			}
			return nil
		})
	}
	_ = g.Wait()

	if report.EmailsSent == 0 {
		return report, ErrAllFailed
	}
	return report, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, info GroupInfo, r Recipient, chatLink string) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for send rate")
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: r.FirstName, Address: r.Email}},
		Subject:      fmt.Sprintf("🎉 Deine Nachhilfegruppe für %s ist bereit!", info.Grade),
		TemplateName: groupReadyTemplate,
		TemplateData: newGroupReadyData(info, r, chatLink),
	}
	return d.mailSvc.SendMessage(ctx, msg)
}
