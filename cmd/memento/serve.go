package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/becomeliminal/memento/config"
)

func newServeCmd() *cobra.Command {
	var addr, dbPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat server",
		Long:  "Run the HTTP and websocket server. Settings come from the environment (and .env); flags override the listen address and database path.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}

			a, err := wire(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return a.server.Run(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Println("🛑 Shutting down...")
				return nil
			})

			log.Printf("🚀 memento listening on %s", cfg.Addr)
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PORT / MEMENTO_ADDR)")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path (overrides MEMENTO_DB)")
	return cmd
}
