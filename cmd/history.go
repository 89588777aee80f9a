package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"fudosan-agent/internal/domain"
	"fudosan-agent/internal/usecase"
)

type historyEntry struct {
	Sequence  int64  `yaml:"sequence"`
	CreatedAt string `yaml:"created_at,omitempty"`
	Question  string `yaml:"question"`
	Response  string `yaml:"response"`
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print a user's recent conversation turns as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, err := loadHistoryConfig(ctx)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = h.Limit
			}
			store, closeStore, err := openHistory(ctx, h)
			if err != nil {
				return err
			}
			defer func() { _ = closeStore() }()
			return writeHistory(ctx, cmd.OutOrStdout(), store, args[0], limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of turns (default HISTORY_LIMIT)")
	return cmd
}

func writeHistory(ctx context.Context, w io.Writer, store usecase.HistoryStore, userID string, limit int) error {
	turns, err := store.RecentTurns(ctx, userID, limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	entries := make([]historyEntry, 0, len(turns))
	for _, t := range turns {
		entries = append(entries, toHistoryEntry(t))
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(entries); err != nil {
		return fmt.Errorf("history: encode: %w", err)
	}
	return enc.Close()
}

func toHistoryEntry(t domain.Turn) historyEntry {
	e := historyEntry{Sequence: t.Sequence, Question: t.Question, Response: t.Response}
	if !t.CreatedAt.IsZero() {
		e.CreatedAt = t.CreatedAt.UTC().Format(time.RFC3339)
	}
	return e
}
