package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/opsgrove/incident-ledger/internal/domain"
)

const defaultChannelTimeout = 10 * time.Second

// TimelineAppender records the dispatch summary on the incident's
// timeline after all channel calls settle.
type TimelineAppender interface {
	AppendSystemEvent(ctx context.Context, event *domain.TimelineEvent) error
}

// Outcome is the settled result of one channel call.
type Outcome struct {
	Channel string
	OK      bool
	Err     error
}

// Dispatcher fans out alerts to the channels configured for an
// incident's severity. Channel calls run concurrently, each bounded
// by its own timeout; a failing or slow channel never blocks or fails
// another (bulkhead) and never reaches the caller.
type Dispatcher struct {
	policy   Policy
	senders  map[string]Sender
	timeline TimelineAppender
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. Senders are matched to policy
// entries by Name().
func NewDispatcher(policy Policy, timeline TimelineAppender, timeout time.Duration, senders ...Sender) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultChannelTimeout
	}
	senderMap := make(map[string]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Name()] = s
	}
	return &Dispatcher{
		policy:   policy,
		senders:  senderMap,
		timeline: timeline,
		timeout:  timeout,
	}
}

// IncidentCreated dispatches alerts for a newly created incident.
func (d *Dispatcher) IncidentCreated(ctx context.Context, inc *domain.Incident) {
	d.dispatch(ctx, inc, Alert{
		Kind:        AlertIncidentCreated,
		IncidentID:  inc.ID,
		Title:       inc.Title,
		Description: inc.Description,
		Severity:    inc.Severity,
		Status:      inc.Status,
		OccurredAt:  inc.CreatedAt,
	})
}

// StatusChanged dispatches alerts for a status transition.
func (d *Dispatcher) StatusChanged(ctx context.Context, inc *domain.Incident, from, to domain.Status) {
	d.dispatch(ctx, inc, Alert{
		Kind:        AlertStatusChanged,
		IncidentID:  inc.ID,
		Title:       inc.Title,
		Description: inc.Description,
		Severity:    inc.Severity,
		Status:      to,
		FromStatus:  from,
		OccurredAt:  inc.UpdatedAt,
	})
}

// dispatch runs the fan-out. For severities with no configured
// channels it returns without touching the timeline: the absence of
// any notification text is part of the contract.
func (d *Dispatcher) dispatch(ctx context.Context, inc *domain.Incident, alert Alert) {
	channels := d.policy.ChannelsFor(alert.Severity)
	if len(channels) == 0 {
		return
	}

	outcomes := make([]Outcome, len(channels))
	var wg sync.WaitGroup
	for i, name := range channels {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			outcomes[i] = d.callChannel(ctx, name, alert)
		}(i, name)
	}
	wg.Wait()

	summary := summarize(outcomes)
	slog.Info("notification dispatch settled",
		"incident_id", inc.ID,
		"severity", alert.Severity,
		"summary", summary,
	)

	event := &domain.TimelineEvent{
		IncidentID: inc.ID,
		Type:       domain.TimelineFieldUpdate,
		Message:    summary,
	}
	if err := d.timeline.AppendSystemEvent(ctx, event); err != nil {
		slog.Error("failed to record dispatch summary",
			"incident_id", inc.ID,
			"error", err,
		)
	}
}

// callChannel invokes one sender with its own deadline and converts
// whatever happens into an Outcome. Nothing escapes.
func (d *Dispatcher) callChannel(ctx context.Context, name string, alert Alert) Outcome {
	sender, ok := d.senders[name]
	if !ok {
		slog.Warn("no sender configured for channel", "channel", name)
		recordDispatch(name, "unconfigured", 0)
		return Outcome{Channel: name, Err: fmt.Errorf("no sender configured for %s", name)}
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := sender.Send(callCtx, alert)
	duration := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = &ChannelError{Channel: name, Err: ErrChannelTimeout}
			recordDispatch(name, "timeout", duration)
		} else {
			err = &ChannelError{Channel: name, Err: err}
			recordDispatch(name, "failure", duration)
		}
		slog.Error("channel dispatch failed",
			"channel", name,
			"duration", duration,
			"error", err,
		)
		return Outcome{Channel: name, Err: err}
	}

	recordDispatch(name, "success", duration)
	return Outcome{Channel: name, OK: true}
}

// summarize renders the per-channel outcome line recorded on the
// timeline, e.g. "Notifications: discord OK, pagerduty FAILED (timeout)".
func summarize(outcomes []Outcome) string {
	parts := make([]string, len(outcomes))
	for i, o := range outcomes {
		switch {
		case o.OK:
			parts[i] = o.Channel + " OK"
		case errors.Is(o.Err, ErrChannelTimeout):
			parts[i] = o.Channel + " FAILED (timeout)"
		default:
			parts[i] = o.Channel + " FAILED"
		}
	}
	return "Notifications: " + strings.Join(parts, ", ")
}
