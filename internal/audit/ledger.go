package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	xrate "golang.org/x/time/rate"
)

// Store is the durable append-only audit table.
type Store interface {
	AppendAudit(ctx context.Context, e Entry) error
}

// LedgerConfig tunes the synchronous write path.
type LedgerConfig struct {
	WriteTimeout time.Duration
	// FailureLogEvery throttles repeated append-failure logs.
	FailureLogEvery time.Duration
}

// Ledger appends entries to a Store and then fans them out through an
// optional Dispatcher. Record never returns an error: failures are logged
// and counted so that the caller's outcome is never masked.
type Ledger struct {
	store      Store
	dispatcher *Dispatcher
	logger     *slog.Logger
	timeout    time.Duration
	logLimiter *xrate.Limiter

	failures atomic.Uint64
	pending  sync.WaitGroup
	onFail   func()
}

// NewLedger wires a ledger. dispatcher and onFail may be nil.
func NewLedger(cfg LedgerConfig, store Store, dispatcher *Dispatcher, logger *slog.Logger, onFail func()) *Ledger {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 2 * time.Second
	}
	if cfg.FailureLogEvery <= 0 {
		cfg.FailureLogEvery = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		timeout:    cfg.WriteTimeout,
		logLimiter: xrate.NewLimiter(xrate.Every(cfg.FailureLogEvery), 1),
		onFail:     onFail,
	}
}

// Record appends e. When ctx is already done the write is detached onto a
// background goroutine and Record returns immediately; otherwise the write
// runs on a context that ignores the caller's cancellation but is bounded by
// the write timeout.
func (l *Ledger) Record(ctx context.Context, e Entry) {
	if l == nil {
		return
	}
	if ctx.Err() != nil {
		l.pending.Add(1)
		go func() {
			defer l.pending.Done()
			l.write(context.WithoutCancel(ctx), e)
		}()
		return
	}
	l.write(context.WithoutCancel(ctx), e)
}

func (l *Ledger) write(parent context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(parent, l.timeout)
	defer cancel()

	if l.store != nil {
		if err := l.store.AppendAudit(ctx, e); err != nil {
			l.failures.Add(1)
			if l.onFail != nil {
				l.onFail()
			}
			if l.logLimiter.Allow() {
				l.logger.ErrorContext(ctx, "audit append failed",
					"action", e.Action, "outcome", e.Outcome, "entry_id", e.ID,
					"failures_total", l.failures.Load(), "error", err)
			}
		}
	}
	l.dispatcher.Emit(ctx, e)
}

// Failures returns the number of failed appends.
func (l *Ledger) Failures() uint64 { return l.failures.Load() }

// Flush waits for detached writes started by cancelled callers.
func (l *Ledger) Flush() { l.pending.Wait() }

// Close flushes detached writes and stops the dispatcher.
func (l *Ledger) Close() {
	if l == nil {
		return
	}
	l.pending.Wait()
	l.dispatcher.Close()
}
