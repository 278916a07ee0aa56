// cmd/txflow/tracking.go
package main

import (
	"context"

	"github.com/altuslabsxyz/txflow/internal/pending"
	"github.com/altuslabsxyz/txflow/internal/store"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

// seedPending tracks the newest journaled submissions that may still be
// missing from the gateway's pending list. Registered entries are checked
// once; a terminal answer settles them in the journal instead. The journal
// is closed before returning so a long-running feed does not hold its lock.
func (a *app) seedPending(ctx context.Context, reg *pending.Registry, c *gateway.Client, limit int) {
	st, err := a.openStore()
	if err != nil {
		a.logger.Debug("journal unavailable, showing gateway list only", "error", err)
		return
	}
	defer st.Close()

	subs, err := st.List(ctx, store.ListOptions{})
	if err != nil {
		a.logger.Warn("failed to read journal", "error", err)
		return
	}

	seeded := 0
	for i := len(subs) - 1; i >= 0; i-- {
		if limit > 0 && seeded >= limit {
			break
		}
		sub := subs[i]
		if !sub.AwaitingConfirmation() {
			continue
		}
		status := gateway.TxStatus{TxHash: sub.TxHash, TxType: sub.TxType, State: gateway.TxStatePending}

		if sub.Phase == store.PhaseRegistered {
			cur, err := c.GetStatus(ctx, sub.TxHash)
			switch {
			case err == nil && cur.State.IsTerminal():
				sub.FinalState = string(cur.State)
				if err := st.Update(ctx, sub); err != nil {
					a.logger.Warn("failed to settle journal entry", "txHash", sub.TxHash, "error", err)
				}
				continue
			case err == nil:
				status = *cur
			case !gateway.IsNotFound(err):
				a.logger.Debug("status check failed, tracking anyway", "txHash", sub.TxHash, "error", err)
			}
		}

		reg.Track(status)
		seeded++
	}
}

// settle drops a completed transaction from the optimistic list and records
// its terminal state in the journal. Hashes the journal does not know are
// ignored.
func (a *app) settle(ctx context.Context, reg *pending.Registry, status gateway.TxStatus) {
	if reg != nil {
		reg.Forget(status.TxHash)
	}
	if !status.State.IsTerminal() {
		return
	}

	st, err := a.openStore()
	if err != nil {
		a.logger.Debug("journal unavailable", "error", err)
		return
	}
	defer st.Close()

	sub, err := st.Get(ctx, status.TxHash)
	if err != nil {
		if !store.IsNotFound(err) {
			a.logger.Warn("failed to read journal", "txHash", status.TxHash, "error", err)
		}
		return
	}
	sub.FinalState = string(status.State)
	if err := st.Update(ctx, sub); err != nil {
		a.logger.Warn("failed to settle journal entry", "txHash", status.TxHash, "error", err)
	}
}
