package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"fudosan-agent/internal/domain"
)

// Memory is a process-local turn log for development and tests.
type Memory struct {
	mu    sync.RWMutex
	seq   int64
	turns map[string][]domain.Turn
}

func NewMemory() *Memory {
	return &Memory{turns: make(map[string][]domain.Turn)}
}

func (m *Memory) AppendTurn(_ context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return errors.New("repository: AppendTurn: user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	turn.Sequence = m.seq
	turn.CreatedAt = time.Now().UTC()
	m.turns[turn.UserID] = append(m.turns[turn.UserID], turn)
	return nil
}

func (m *Memory) RecentTurns(_ context.Context, userID string, limit int) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.turns[userID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]domain.Turn, len(all))
	copy(out, all)
	return out, nil
}

// Discard keeps no history: reads are always empty and writes are dropped.
type Discard struct{}

func (Discard) AppendTurn(context.Context, domain.Turn) error { return nil }

func (Discard) RecentTurns(context.Context, string, int) ([]domain.Turn, error) { return nil, nil }
