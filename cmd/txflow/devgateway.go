// cmd/txflow/devgateway.go
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/altuslabsxyz/txflow/internal/gatewaytest"
)

func newDevGatewayCmd(a *app) *cobra.Command {
	var (
		listen      string
		token       string
		step        time.Duration
		noStreaming bool
	)

	cmd := &cobra.Command{
		Use:   "dev-gateway",
		Short: "Run an in-memory gateway for local development",
		Long: `Serve the build, register, status, pending and stream endpoints from memory.
Registered transactions advance pending -> confirmed -> updated every --step.
Pair it with wallet.kind = "dev".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := []gatewaytest.Option{
				gatewaytest.WithLogger(a.logger),
				gatewaytest.WithAutoAdvance(step),
			}
			if token != "" {
				opts = append(opts, gatewaytest.WithToken(token))
			}
			if noStreaming {
				opts = append(opts, gatewaytest.WithoutStreaming())
			}
			gw := gatewaytest.New(opts...)
			defer gw.Close()

			ln, err := net.Listen("tcp", listen)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           gw.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()
			a.out.Success("dev gateway listening on http://%s", ln.Addr())

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			gw.Close()
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "127.0.0.1:8080", "address to listen on")
	cmd.Flags().StringVar(&token, "require-token", "", "require this bearer token")
	cmd.Flags().DurationVar(&step, "step", 2*time.Second, "time between state advances (0 disables)")
	cmd.Flags().BoolVar(&noStreaming, "no-streaming", false, "answer 404 on the stream endpoint")
	return withoutConfig(cmd)
}
