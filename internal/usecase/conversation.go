package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"fudosan-agent/internal/domain"
)

const defaultHistoryLimit = 10

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type ReplySender interface {
	Push(ctx context.Context, userID, text string) error
}

// HistoryStore is the append-only turn log. RecentTurns returns at most limit
// turns for the user, oldest first.
type HistoryStore interface {
	RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error)
	AppendTurn(ctx context.Context, turn domain.Turn) error
}

type ConversationConfig struct {
	Model         string
	SystemPrompt  string
	FallbackReply string
	HistoryLimit  int
	Logger        *slog.Logger
}

// ConversationService turns one inbound text message into a pushed reply and
// a persisted turn. It holds no mutable state and is safe for concurrent use.
type ConversationService struct {
	llm     LLMClient
	sender  ReplySender
	history HistoryStore

	model         string
	systemPrompt  string
	fallbackReply string
	historyLimit  int
	log           *slog.Logger
}

func NewConversationService(llm LLMClient, sender ReplySender, history HistoryStore, cfg ConversationConfig) (*ConversationService, error) {
	if llm == nil {
		return nil, errors.New("usecase: llm client must not be nil")
	}
	if sender == nil {
		return nil, errors.New("usecase: reply sender must not be nil")
	}
	if history == nil {
		return nil, errors.New("usecase: history store must not be nil")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("usecase: model must not be empty")
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		return nil, errors.New("usecase: system prompt must not be empty")
	}
	if strings.TrimSpace(cfg.FallbackReply) == "" {
		return nil, errors.New("usecase: fallback reply must not be empty")
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ConversationService{
		llm:           llm,
		sender:        sender,
		history:       history,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		fallbackReply: cfg.FallbackReply,
		historyLimit:  cfg.HistoryLimit,
		log:           cfg.Logger,
	}, nil
}

// Handle processes one event. It never returns an error or panics: every
// failure is recovered here, logged, and reported in the Result.
func (s *ConversationService) Handle(ctx context.Context, ev domain.Event) (res Result) {
	if !ev.IsTextMessage() {
		return Result{Status: StatusIgnored}
	}

	log := s.log.With("user_id", ev.UserID, "event_id", ev.ID)
	defer func() { s.logResult(log, res) }()

	var history []domain.Turn
	err := guard(func() (err error) {
		history, err = s.history.RecentTurns(ctx, ev.UserID, s.historyLimit)
		return err
	})
	if err != nil {
		res.record(newError(FailureContextRead, "history_read_error", err))
		history = nil
	}
	history = chronological(history, s.historyLimit)

	var reply string
	err = guard(func() (err error) {
		reply, err = s.llm.Chat(ctx, s.model, buildContext(s.systemPrompt, ev.Text, history))
		return err
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty completion")
	}
	if err != nil {
		res.record(newError(FailureGeneration, "completion_error", err))
		res.Status = StatusFallback
		s.sendFallback(ctx, ev.UserID, &res)
		return res
	}

	res.Status = StatusReplied
	res.Reply = reply

	var (
		wg         sync.WaitGroup
		pushErr    error
		persistErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		pushErr = guard(func() error { return s.sender.Push(ctx, ev.UserID, reply) })
	}()
	go func() {
		defer wg.Done()
		persistErr = guard(func() error {
			return s.history.AppendTurn(ctx, domain.Turn{
				UserID:   ev.UserID,
				Question: ev.Text,
				Response: reply,
			})
		})
	}()
	wg.Wait()

	if pushErr != nil {
		res.record(newError(FailureDelivery, "push_error", pushErr))
	}
	if persistErr != nil {
		res.record(newError(FailurePersistence, "history_write_error", persistErr))
	}
	return res
}

func (s *ConversationService) sendFallback(ctx context.Context, userID string, res *Result) {
	if err := guard(func() error { return s.sender.Push(ctx, userID, s.fallbackReply) }); err != nil {
		res.record(newError(FailureFallbackDelivery, "fallback_push_error", err))
	}
}

func (s *ConversationService) logResult(log *slog.Logger, res Result) {
	for _, f := range res.Failures {
		log.Error("conversation step failed", "kind", f.Kind, "reason", f.Reason, "err", f.Err)
	}
	log.Info("conversation handled", "status", res.Status, "failures", len(res.Failures))
}

// guard runs a collaborator call and turns a panic into an error so a
// misbehaving client cannot escape the handler boundary.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
