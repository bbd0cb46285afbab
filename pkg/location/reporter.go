package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/caretalk/caretalk/pkg/logging"
	"github.com/caretalk/caretalk/pkg/resilience"
)

// ErrNoFix is returned by a Source that has no reading yet.
var ErrNoFix = errors.New("no location fix available")

// Source yields the most recent coordinate reading.
type Source interface {
	Fix(ctx context.Context) (Fix, error)
}

// PushSource is a Source fed by the device as fixes arrive; the reporter
// drains the latest reading at its own cadence.
type PushSource struct {
	mu   sync.Mutex
	last Fix
	has  bool
}

func NewPushSource() *PushSource {
	return &PushSource{}
}

func (p *PushSource) Push(f Fix) {
	if f.Time.IsZero() {
		f.Time = time.Now()
	}
	p.mu.Lock()
	p.last = f
	p.has = true
	p.mu.Unlock()
}

func (p *PushSource) Fix(ctx context.Context) (Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has {
		return Fix{}, ErrNoFix
	}
	return p.last, nil
}

var _ Source = (*PushSource)(nil)

// Reporter periodically sends the newest fix to the backend. Reporting is
// fire-and-forget: failures are retried within a bounded policy and then
// dropped, never surfaced to the user.
type Reporter struct {
	src      Source
	sender   Sender
	interval time.Duration
	retry    resilience.RetryPolicy
	log      *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	lastSent time.Time
}

func NewReporter(src Source, sender Sender, interval time.Duration, retry resilience.RetryPolicy, log *slog.Logger) *Reporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reporter{
		src:      src,
		sender:   sender,
		interval: interval,
		retry:    retry,
		log:      logging.NewComponentLogger(log, "location"),
	}
}

func (r *Reporter) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx)
}

func (r *Reporter) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	done := r.done
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (r *Reporter) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	fix, err := r.src.Fix(ctx)
	if errors.Is(err, ErrNoFix) {
		return
	}
	if err != nil {
		r.log.Debug("location source error", slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	fresh := fix.Time.After(r.lastSent)
	r.mu.Unlock()
	if !fresh {
		return
	}

	err = r.retry.Do(func() error {
		return r.sender.SendLocation(ctx, fix)
	})
	if err != nil {
		r.log.Warn("location update dropped", slog.String("error", err.Error()))
		return
	}
	r.mu.Lock()
	r.lastSent = fix.Time
	r.mu.Unlock()
}
