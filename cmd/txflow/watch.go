// cmd/txflow/watch.go
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/altuslabsxyz/txflow/internal/pending"
	"github.com/altuslabsxyz/txflow/internal/watcher"
	"github.com/altuslabsxyz/txflow/pkg/gateway"
)

func newWatchCmd(a *app) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "watch HASH...",
		Short: "Watch transactions until their dependent effects land",
		Long: `Watch one or more transaction hashes until each reaches a terminal state.
Repeated hashes share one gateway subscription.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("timeout") {
				a.cfg.Watcher.Timeout = timeout
			}
			c := a.gatewayClient()
			w := a.watcher(c)
			defer w.Close()

			results, err := a.watchAll(cmd.Context(), w, a.registry(c), args)
			if a.jsonOut {
				if jerr := a.printJSON(results); jerr != nil {
					return jerr
				}
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 0, "give up after this long (default watcher.timeout)")
	return cmd
}

type watchResult struct {
	gateway.TxStatus
	Error string `json:"error,omitempty"`
}

// watchAll observes every hash concurrently and returns once all complete.
// Completed hashes are settled through reg and the journal. The error
// reports how many did not reach updated.
func (a *app) watchAll(ctx context.Context, w *watcher.Watcher, reg *pending.Registry, hashes []string) ([]watchResult, error) {
	results := make([]watchResult, len(hashes))
	var (
		mu     sync.Mutex
		failed int
	)

	g, ctx := errgroup.WithContext(ctx)
	for i, hash := range hashes {
		g.Go(func() error {
			h := w.Watch(hash, watcher.Options{
				OnUpdate: func(st gateway.TxStatus) {
					mu.Lock()
					defer mu.Unlock()
					a.printStatus(st)
				},
			})
			defer h.Cancel()

			st, err := h.Wait(ctx)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			if st.TxHash == "" {
				st.TxHash = hash
			}
			results[i] = watchResult{TxStatus: st}
			if !watcher.IsTimeout(err) {
				a.settle(ctx, reg, st)
			}
			if err != nil {
				failed++
				results[i].Error = err.Error()
				if !st.State.IsSuccess() && st.State != "" {
					a.printStatus(st)
				}
				a.out.Error("%s: %v", hash, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	if failed > 0 {
		return results, fmt.Errorf("%d of %d transactions did not complete", failed, len(hashes))
	}
	return results, nil
}
