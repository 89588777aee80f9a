package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"fudosan-agent/internal/config"
	"fudosan-agent/internal/integrations/anthropic"
	"fudosan-agent/internal/integrations/openai"
	"fudosan-agent/internal/integrations/paramstore"
	"fudosan-agent/internal/repository"
	"fudosan-agent/internal/usecase"
)

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// secretSource returns the parameter store lookup when a prefix is configured.
func secretSource(ctx context.Context, getenv func(string) string) (config.SecretLookup, error) {
	prefix := config.ParamPrefix(getenv)
	if prefix == "" {
		return nil, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return paramstore.New(awsssm.NewFromConfig(awsCfg), prefix)
}

func loadConfig(ctx context.Context) (config.Config, error) {
	secrets, err := secretSource(ctx, os.Getenv)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(ctx, os.Getenv, secrets)
}

func loadHistoryConfig(ctx context.Context) (config.History, error) {
	secrets, err := secretSource(ctx, os.Getenv)
	if err != nil {
		return config.History{}, err
	}
	return config.LoadHistory(ctx, os.Getenv, secrets)
}

func noClose() error { return nil }

// openHistory builds the configured store and its cleanup function.
func openHistory(ctx context.Context, h config.History) (usecase.HistoryStore, func() error, error) {
	switch h.Backend {
	case config.BackendSupabase:
		s, err := repository.NewSupabase(h.SupabaseURL, h.SupabaseKey, h.Table)
		return s, noClose, err
	case config.BackendPostgres:
		p, err := repository.NewPostgres(h.DatabaseURL, h.Table)
		if err != nil {
			return nil, noClose, err
		}
		return p, p.Close, nil
	case config.BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, noClose, fmt.Errorf("load AWS config: %w", err)
		}
		d, err := repository.NewDynamoDB(awsdynamodb.NewFromConfig(awsCfg), h.DynamoDBTable)
		return d, noClose, err
	case config.BackendSQLite:
		s, err := repository.NewSQLite(h.SQLitePath, h.Table)
		if err != nil {
			return nil, noClose, err
		}
		return s, s.Close, nil
	case config.BackendMemory:
		return repository.NewMemory(), noClose, nil
	case config.BackendNone:
		return repository.Discard{}, noClose, nil
	default:
		return nil, noClose, fmt.Errorf("unknown history backend %q", h.Backend)
	}
}

func newCompleter(c config.Completion) (usecase.LLMClient, error) {
	switch c.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewClient(c.AnthropicKey, anthropic.WithMaxTokens(c.MaxTokens))
	case config.ProviderOpenAI:
		var opts []openai.Option
		if c.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(c.OpenAIBaseURL))
		}
		return openai.NewClient(c.OpenAIKey, opts...)
	default:
		return nil, fmt.Errorf("unknown completion provider %q", c.Provider)
	}
}
