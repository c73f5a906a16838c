package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Options struct {
	Interval    time.Duration
	MaxBackoff  time.Duration
	MaxMessages int
	DryRun      bool
	Logger      *slog.Logger
}

// Agent runs the poll, triage, compose and dispatch cycle. Messages are
// handled strictly one at a time on the caller's goroutine.
type Agent struct {
	poller     *Poller
	classifier *Classifier
	composer   *Composer
	dispatcher *Dispatcher
	backoff    Backoff
	logger     *slog.Logger

	sleep   func(ctx context.Context, d time.Duration) error
	cycleID func() string
}

// CycleReport summarizes one cycle.
type CycleReport struct {
	ID       string
	Fetched  int
	Outcomes []ProcessingOutcome

	// Err is the transport failure that ended the cycle early.
	Err error
	// Throttled is set when the model provider rate limited us.
	Throttled bool
}

func (r CycleReport) Failed() bool {
	return r.Err != nil || r.Throttled
}

func New(mailbox Mailbox, completer Completer, transport Transport, persona Persona, opts Options) (*Agent, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	classifier, err := NewClassifier(completer, persona)
	if err != nil {
		return nil, err
	}
	composer, err := NewComposer(completer, persona)
	if err != nil {
		return nil, err
	}

	return &Agent{
		poller:     NewPoller(mailbox, opts.MaxMessages),
		classifier: classifier,
		composer:   composer,
		dispatcher: NewDispatcher(mailbox, transport, opts.DryRun, logger),
		backoff:    Backoff{Base: opts.Interval, Max: opts.MaxBackoff},
		logger:     logger,
		sleep:      sleepContext,
		cycleID:    uuid.NewString,
	}, nil
}

// Run repeats cycles until ctx is cancelled. Cancellation is only observed at
// the top of the loop and during the idle wait; a started cycle always
// finishes every message it fetched.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("agent started", "interval", a.backoff.Base, "max_backoff", a.backoff.Max)
	for {
		if ctx.Err() != nil {
			a.logger.Info("agent stopped")
			return nil
		}

		report := a.RunCycle(ctx)

		var wait time.Duration
		if report.Failed() {
			wait = a.backoff.Failure()
			a.logger.Warn("cycle failed; backing off",
				"cycle", report.ID, "failures", a.backoff.Failures(), "wait", wait,
				"throttled", report.Throttled, "err", report.Err)
		} else {
			wait = a.backoff.Success()
		}

		if err := a.sleep(ctx, wait); err != nil {
			a.logger.Info("agent stopped")
			return nil
		}
	}
}

// RunCycle polls once and processes every fetched message in arrival order.
func (a *Agent) RunCycle(ctx context.Context) CycleReport {
	report := CycleReport{ID: a.cycleID()}
	log := a.logger.With("cycle", report.ID)

	msgs, err := a.poller.Poll(ctx)
	if err != nil {
		report.Err = err
		log.Error("poll failed", "err", err)
		return report
	}
	report.Fetched = len(msgs)
	log.Info("polled mailbox", "unseen", len(msgs))

	// A started cycle runs to the end of its batch; stop is only observed
	// between cycles.
	work := context.WithoutCancel(ctx)
	for i, msg := range msgs {
		outcome, throttled := a.process(work, log, msg)
		report.Outcomes = append(report.Outcomes, outcome)

		if IsTransport(outcome.Err) {
			report.Err = outcome.Err
			if remaining := len(msgs) - i - 1; remaining > 0 {
				log.Warn("transport failure; aborting cycle", "remaining", remaining)
			}
			break
		}
		if throttled && !report.Throttled {
			report.Throttled = true
			log.Warn("inference rate limited; next cycle will back off", "uid", msg.UID)
		}
	}
	if ctx.Err() != nil {
		log.Info("stop requested; cycle finished")
	}
	return report
}

func (a *Agent) process(ctx context.Context, log *slog.Logger, msg MessageDescriptor) (ProcessingOutcome, bool) {
	decision := a.classifier.Classify(ctx, msg)
	throttled := errors.Is(decision.Err, ErrRateLimited)

	var draft *DraftReply
	if decision.Action == ActionReply {
		d, err := a.composer.Compose(ctx, msg)
		if err != nil {
			log.Error("could not compose reply; message will be marked seen without an answer",
				"uid", msg.UID, "message_id", msg.MessageID, "from", msg.From, "subject", msg.Subject, "err", err)
			decision = TriageDecision{
				MessageUID: msg.UID,
				Action:     ActionSkip,
				Reason:     "compose failure",
				Err:        err,
			}
			throttled = throttled || errors.Is(err, ErrRateLimited)
		} else {
			draft = &d
		}
	}

	outcome := a.dispatcher.Dispatch(ctx, msg, decision, draft)
	logOutcome(log, msg, outcome)
	return outcome, throttled
}

func logOutcome(log *slog.Logger, msg MessageDescriptor, o ProcessingOutcome) {
	attrs := []any{
		"uid", o.MessageUID,
		"message_id", o.MessageID,
		"from", msg.From,
		"subject", msg.Subject,
		"action", o.Action,
		"status", o.Status(),
		"sent", o.Sent,
		"marked_seen", o.MarkedSeen,
		"reason", o.Reason,
	}
	if o.Err != nil {
		attrs = append(attrs, "err", o.Err)
	}

	switch {
	case o.DuplicateRisk():
		log.Warn("reply sent but message not marked seen; it may be answered again next cycle", attrs...)
	case o.Status() == StatusFailed:
		log.Error("message not handled; it stays unseen for the next cycle", attrs...)
	default:
		log.Info("message handled", attrs...)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
