package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"fudosan-agent/handler"
	"fudosan-agent/internal/dispatch"
	"fudosan-agent/internal/integrations/line"
	"fudosan-agent/internal/persona"
	"fudosan-agent/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the LINE webhook server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Configuration (read only here) ----
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	p, err := persona.Load(cfg.PersonaFile)
	if err != nil {
		return err
	}

	// ---- Clients ----
	history, closeHistory, err := openHistory(ctx, cfg.History)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeHistory(); err != nil {
			logger.Warn("close history store", "err", err)
		}
	}()

	llm, err := newCompleter(cfg.Completion)
	if err != nil {
		return err
	}
	sender, err := line.NewClient(cfg.LINE.ChannelAccessToken)
	if err != nil {
		return err
	}

	// ---- Handler ----
	svc, err := usecase.NewConversationService(llm, sender, history, usecase.ConversationConfig{
		Model:         cfg.Completion.Model(),
		SystemPrompt:  p.SystemPrompt,
		FallbackReply: p.FallbackReply,
		HistoryLimit:  cfg.History.Limit,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	d, err := dispatch.New(svc, dispatch.Options{
		DedupWindow:      cfg.DedupWindow,
		SerializePerUser: cfg.SerializePerUser,
		Logger:           logger,
	})
	if err != nil {
		return err
	}
	h, err := handler.New(d, cfg.LINE.ChannelSecret, p.Health, logger)
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", srv.Addr,
			"provider", cfg.Completion.Provider,
			"model", cfg.Completion.Model(),
			"history", cfg.History.Backend,
			"persona", p.Name,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	return drain(shutdownCtx, d)
}

// drain waits for in-flight events until ctx expires.
func drain(ctx context.Context, d *dispatch.Dispatcher) error {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("in-flight events drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("serve: in-flight events not drained: %w", ctx.Err())
	}
}
