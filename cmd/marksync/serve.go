package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/marksync/internal/events"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the queue in the background and stream events",
	Long: `Serve runs queue passes on the wake schedule, after retries come
due and whenever bookmarks are added. Events are streamed to websocket
clients at /events on server.listen_addr.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveListen string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveListen, "listen", "",
		"Event stream address (overrides server.listen_addr, empty keeps config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner, err := apiClient.Scheduler()
	if err != nil {
		return err
	}

	addr := cfg.Server.ListenAddr
	if serveListen != "" {
		addr = serveListen
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runner.Run(ctx)
	})

	if addr != "" {
		hub := events.NewHub(logger)
		sub, unsubscribe := apiClient.Events.Subscribe(256)
		defer unsubscribe()

		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g.Go(func() error {
			hub.Run(ctx, sub)
			return nil
		})
		g.Go(func() error {
			logger.WithField("addr", addr).Info("Event stream listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if !jsonOutput {
		printInfo("marksync running, press Ctrl+C to stop")
	}

	err = g.Wait()
	if err != nil {
		printError("Server error: %v", err)
		return err
	}
	if !jsonOutput {
		printInfo("Stopped")
	}
	return nil
}
