// Package notify sends operator alerts about runs that need attention.
//
// Alerts are only sent during configured hours of the day, so a problem that
// persists across many passes produces a few mails per day rather than one
// per pass.
package notify

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Flag selects the alert template.
type Flag string

const (
	FlagNoSamplesheet    Flag = "no_samplesheet"
	FlagWeirdSamplesheet Flag = "weird_samplesheet"
	FlagFailedRun        Flag = "failed_run"
	FlagDiskSpace        Flag = "disk_space"
)

// Subject returns the mail subject for f.
func (f Flag) Subject() string {
	switch f {
	case FlagNoSamplesheet:
		return "ERROR, Samplesheet error"
	case FlagWeirdSamplesheet:
		return "ERROR, Incorrectly formatted samplesheet"
	case FlagFailedRun:
		return "WARNING, Reinitialization of partially failed FC"
	case FlagDiskSpace:
		return "WARNING, Low disk space"
	default:
		return "WARNING, " + string(f)
	}
}

// DefaultHours are the hours of the day alerts may be sent in.
var DefaultHours = []int{7, 12, 16}

// Message is a rendered alert.
type Message struct {
	Subject string
	Body    string
}

// Mailer delivers messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config configures a Notifier.
type Config struct {
	// Hours lists the local hours (0-23) alerts are sent in.
	Hours []int

	// MaxPerPass caps the alerts one Notifier sends. Zero means unlimited.
	// Build a Notifier per pass.
	MaxPerPass int
}

// Notifier renders and gates alerts.
type Notifier struct {
	cfg     Config
	mailer  Mailer
	limiter *rate.Limiter
	now     func() time.Time
	log     *zap.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithClock overrides the wall clock used by the hour gate.
func WithClock(now func() time.Time) Option {
	return func(n *Notifier) { n.now = now }
}

// New returns a Notifier. A nil mailer disables delivery; gated alerts are
// still logged.
func New(cfg Config, mailer Mailer, log *zap.Logger, opts ...Option) *Notifier {
	if cfg.Hours == nil {
		cfg.Hours = DefaultHours
	}
	if log == nil {
		log = zap.NewNop()
	}
	n := &Notifier{cfg: cfg, mailer: mailer, now: time.Now, log: log}
	if cfg.MaxPerPass > 0 {
		// a zero rate never refills, so the burst is the whole budget
		n.limiter = rate.NewLimiter(0, cfg.MaxPerPass)
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Render builds the message for flag naming the offending entry.
func Render(flag Flag, info string) Message {
	var b strings.Builder
	b.WriteString("flowstatus has encountered an issue that might be worth investigating\n")
	b.WriteString("The offending entry is: ")
	b.WriteString(info)
	b.WriteString("\n")
	return Message{Subject: flag.Subject(), Body: b.String()}
}

// Notify sends the alert if the current hour is allowed and the pass budget
// is not spent. It reports whether a message was sent.
func (n *Notifier) Notify(ctx context.Context, flag Flag, info string) (bool, error) {
	hour := n.now().Hour()
	if !slices.Contains(n.cfg.Hours, hour) {
		n.log.Debug("notification outside allowed hours",
			zap.String("flag", string(flag)), zap.String("info", info), zap.Int("hour", hour))
		return false, nil
	}
	if n.limiter != nil && !n.limiter.AllowN(n.now(), 1) {
		n.log.Warn("notification suppressed: max_per_pass reached",
			zap.String("flag", string(flag)), zap.String("info", info))
		return false, nil
	}
	if n.mailer == nil {
		n.log.Info("notification (no mailer configured)",
			zap.String("flag", string(flag)), zap.String("info", info))
		return false, nil
	}

	msg := Render(flag, info)
	if err := n.mailer.Send(ctx, msg); err != nil {
		return false, fmt.Errorf("send %s notification: %w", flag, err)
	}
	n.log.Info("notification sent", zap.String("flag", string(flag)), zap.String("info", info))
	return true, nil
}

// Discard is a Mailer that drops every message.
type Discard struct{}

func (Discard) Send(context.Context, Message) error { return nil }
