// Package mutation wraps every externally visible effect: on-chain
// transactions with a submitted/confirmed/failed lifecycle, and authenticated
// backend writes. Successful effects invalidate the cache keys whose data
// they could have changed; failures are returned to the caller unchanged.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/seer-pm/seer/internal/chain"
	"github.com/seer-pm/seer/internal/domain"
	"github.com/seer-pm/seer/internal/notify"
	"github.com/seer-pm/seer/internal/querycache"
)

// Phase is a step of the transaction lifecycle.
type Phase string

const (
	PhaseSubmitted Phase = "submitted"
	PhaseConfirmed Phase = "confirmed"
	PhaseFailed    Phase = "failed"
)

var phaseKinds = map[Phase]string{
	PhaseSubmitted: notify.KindTxSubmitted,
	PhaseConfirmed: notify.KindTxConfirmed,
	PhaseFailed:    notify.KindTxFailed,
}

// Event describes one phase transition.
type Event struct {
	Phase  Phase
	Label  string
	TxHash string
	Err    error
}

// Notifier receives phase notifications.
type Notifier interface {
	Notify(ctx context.Context, ev notify.Event) error
}

// SendFunc submits exactly one transaction.
type SendFunc func(ctx context.Context) (*types.Transaction, error)

// Broadcaster carries confirmed invalidations past the local cache: to
// browsers over the invalidation channel and to shared server-side caches.
type Broadcaster interface {
	InvalidateQueries(ctx context.Context, prefixes ...[]any)
}

// TxRunner drives one transaction through its phases.
type TxRunner struct {
	backend     chain.Backend
	cache       *querycache.Client
	broadcaster Broadcaster
	notifier    Notifier
	logger      *slog.Logger
}

// RunnerOption configures a TxRunner.
type RunnerOption func(*TxRunner)

// WithBroadcaster publishes every confirmed invalidation through b.
func WithBroadcaster(b Broadcaster) RunnerOption {
	return func(r *TxRunner) { r.broadcaster = b }
}

// NewTxRunner creates a runner. cache and notifier may be nil.
func NewTxRunner(backend chain.Backend, cache *querycache.Client, notifier Notifier, logger *slog.Logger, opts ...RunnerOption) *TxRunner {
	r := &TxRunner{
		backend:  backend,
		cache:    cache,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "mutation")),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run sends the transaction, waits for it to be mined and reports each phase.
// On a successful receipt every key in invalidate is invalidated. A send
// error, a mining error or a reverted receipt yields the failed phase and the
// error is returned.
func (r *TxRunner) Run(ctx context.Context, label string, send SendFunc, invalidate ...querycache.Key) (*types.Receipt, error) {
	tx, err := send(ctx)
	if err != nil {
		r.emit(ctx, Event{Phase: PhaseFailed, Label: label, Err: err})
		return nil, fmt.Errorf("mutation: %s: %w", label, err)
	}
	hash := tx.Hash().Hex()
	r.emit(ctx, Event{Phase: PhaseSubmitted, Label: label, TxHash: hash})

	receipt, err := bind.WaitMined(ctx, r.backend, tx.Hash())
	if err != nil {
		r.emit(ctx, Event{Phase: PhaseFailed, Label: label, TxHash: hash, Err: err})
		return nil, fmt.Errorf("mutation: %s: wait %s: %w", label, hash, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		err := fmt.Errorf("mutation: %s: tx %s reverted: %w", label, hash, domain.ErrTxFailed)
		r.emit(ctx, Event{Phase: PhaseFailed, Label: label, TxHash: hash, Err: err})
		return receipt, err
	}

	if r.cache != nil {
		for _, k := range invalidate {
			r.cache.Invalidate(k)
		}
	}
	if r.broadcaster != nil && len(invalidate) > 0 {
		prefixes := make([][]any, len(invalidate))
		for i, k := range invalidate {
			prefixes[i] = []any(k)
		}
		r.broadcaster.InvalidateQueries(context.WithoutCancel(ctx), prefixes...)
	}
	r.emit(ctx, Event{Phase: PhaseConfirmed, Label: label, TxHash: hash})
	return receipt, nil
}

func (r *TxRunner) emit(ctx context.Context, ev Event) {
	attrs := []any{
		slog.String("phase", string(ev.Phase)),
		slog.String("label", ev.Label),
		slog.String("tx", ev.TxHash),
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
		r.logger.WarnContext(ctx, "transaction failed", attrs...)
	} else {
		r.logger.InfoContext(ctx, "transaction "+string(ev.Phase), attrs...)
	}

	if r.notifier == nil {
		return
	}
	out := notify.Event{
		Kind:   phaseKinds[ev.Phase],
		Title:  ev.Label,
		Fields: map[string]string{"phase": string(ev.Phase)},
	}
	if ev.TxHash != "" {
		out.Fields["tx"] = ev.TxHash
	}
	switch {
	case ev.Err != nil:
		out.Message = failureMessage(ev.Err)
	case ev.Phase == PhaseSubmitted:
		out.Message = "Transaction sent"
	case ev.Phase == PhaseConfirmed:
		out.Message = "Transaction confirmed"
	}
	// Notification delivery never changes the outcome of the transaction.
	if err := r.notifier.Notify(context.WithoutCancel(ctx), out); err != nil {
		r.logger.WarnContext(ctx, "phase notification failed", slog.String("error", err.Error()))
	}
}

func failureMessage(err error) string {
	if errors.Is(err, domain.ErrTxFailed) {
		return "Transaction reverted"
	}
	return "Transaction failed"
}
