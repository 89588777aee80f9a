package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fudosan-agent/internal/domain"
	"fudosan-agent/internal/repository"
	"fudosan-agent/internal/usecase"
)

type blockingHandler struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingHandler) Handle(ctx context.Context, _ domain.Event) usecase.Result {
	b.calls.Add(1)
	<-b.release
	return usecase.Result{}
}

type funcHandler func(ctx context.Context, ev domain.Event) usecase.Result

func (f funcHandler) Handle(ctx context.Context, ev domain.Event) usecase.Result { return f(ctx, ev) }

type echoLLM struct {
	mu       sync.Mutex
	failFor  string
	contexts map[string][][]domain.ChatMessage
}

func (e *echoLLM) Chat(_ context.Context, _ string, msgs []domain.ChatMessage) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	last := msgs[len(msgs)-1].Content
	if e.contexts == nil {
		e.contexts = make(map[string][][]domain.ChatMessage)
	}
	e.contexts[last] = append(e.contexts[last], msgs)
	if last == e.failFor {
		return "", errors.New("model overloaded")
	}
	return "re: " + last, nil
}

type recordingSender struct {
	mu     sync.Mutex
	pushes map[string][]string
}

func (r *recordingSender) Push(_ context.Context, to, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pushes == nil {
		r.pushes = make(map[string][]string)
	}
	r.pushes[to] = append(r.pushes[to], text)
	return nil
}

func textEvent(id, userID, text string) domain.Event {
	return domain.Event{
		ID:          id,
		Type:        domain.EventTypeMessage,
		MessageType: domain.MessageTypeText,
		UserID:      userID,
		Text:        text,
	}
}

func newService(t *testing.T, llm usecase.LLMClient, sender usecase.ReplySender, history usecase.HistoryStore) *usecase.ConversationService {
	t.Helper()
	s, err := usecase.NewConversationService(llm, sender, history, usecase.ConversationConfig{
		Model:         "test-model",
		SystemPrompt:  "system",
		FallbackReply: "sorry",
	})
	require.NoError(t, err)
	return s
}

func TestNew_Validates(t *testing.T) {
	_, err := New(nil, Options{})
	require.Error(t, err)
	_, err = New(&blockingHandler{}, Options{DedupWindow: -time.Second})
	require.Error(t, err)
}

func TestDispatch_ReturnsBeforeHandlersFinish(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	d, err := New(h, Options{})
	require.NoError(t, err)

	returned := make(chan int)
	go func() {
		returned <- d.Dispatch(context.Background(), []domain.Event{
			textEvent("e1", "U1", "a"),
			textEvent("e2", "U2", "b"),
		})
	}()

	select {
	case n := <-returned:
		require.Equal(t, 2, n)
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked on handler completion")
	}

	close(h.release)
	d.Wait()
	require.EqualValues(t, 2, h.calls.Load())
}

func TestDispatch_DetachesFromRequestCancellation(t *testing.T) {
	var sawErr atomic.Value
	started := make(chan struct{})
	h := funcHandler(func(ctx context.Context, _ domain.Event) usecase.Result {
		<-started
		sawErr.Store(ctx.Err() == nil)
		return usecase.Result{}
	})
	d, err := New(h, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, []domain.Event{textEvent("e1", "U1", "a")})
	cancel()
	close(started)
	d.Wait()
	require.Equal(t, true, sawErr.Load())
}

func TestDispatch_InvokesHandlerForEveryEvent(t *testing.T) {
	var calls atomic.Int32
	h := funcHandler(func(_ context.Context, _ domain.Event) usecase.Result {
		calls.Add(1)
		return usecase.Result{}
	})
	d, err := New(h, Options{DedupWindow: time.Minute})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{
		{ID: "f1", Type: "follow", UserID: "U1"},
		{ID: "m1", Type: domain.EventTypeMessage, MessageType: "image", UserID: "U1"},
		textEvent("m2", "U1", "hi"),
	})
	d.Wait()
	require.EqualValues(t, 3, calls.Load())
}

func TestDispatch_OneFailureDoesNotAffectSiblings(t *testing.T) {
	llm := &echoLLM{failFor: "bob's message"}
	sender := &recordingSender{}
	history := repository.NewMemory()
	d, err := New(newService(t, llm, sender, history), Options{})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{
		textEvent("e1", "alice", "alice's message"),
		textEvent("e2", "bob", "bob's message"),
		textEvent("e3", "carol", "carol's message"),
	})
	d.Wait()

	require.Equal(t, []string{"re: alice's message"}, sender.pushes["alice"])
	require.Equal(t, []string{"sorry"}, sender.pushes["bob"])
	require.Equal(t, []string{"re: carol's message"}, sender.pushes["carol"])

	for user, want := range map[string]int{"alice": 1, "bob": 0, "carol": 1} {
		turns, err := history.RecentTurns(context.Background(), user, 10)
		require.NoError(t, err)
		require.Len(t, turns, want, user)
	}
}

func TestDispatch_RecoversHandlerPanic(t *testing.T) {
	var ok atomic.Int32
	h := funcHandler(func(_ context.Context, ev domain.Event) usecase.Result {
		if ev.UserID == "bad" {
			panic("boom")
		}
		ok.Add(1)
		return usecase.Result{}
	})
	d, err := New(h, Options{})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{
		textEvent("e1", "bad", "x"),
		textEvent("e2", "good", "y"),
	})
	d.Wait()
	require.EqualValues(t, 1, ok.Load())
}

func TestDispatch_DropsRedeliveredEvents(t *testing.T) {
	llm := &echoLLM{}
	sender := &recordingSender{}
	history := repository.NewMemory()
	d, err := New(newService(t, llm, sender, history), Options{DedupWindow: time.Minute})
	require.NoError(t, err)

	payload := []domain.Event{textEvent("01HX", "U1", "hello")}
	require.Equal(t, 1, d.Dispatch(context.Background(), payload))
	redelivered := textEvent("01HX", "U1", "hello")
	redelivered.Redelivery = true
	require.Equal(t, 0, d.Dispatch(context.Background(), []domain.Event{redelivered}))
	d.Wait()

	require.Len(t, sender.pushes["U1"], 1)
	require.Len(t, llm.contexts["hello"], 1)
	turns, err := history.RecentTurns(context.Background(), "U1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 1)
}

func TestDispatch_WithoutDedupDuplicatesAreProcessedTwice(t *testing.T) {
	sender := &recordingSender{}
	history := repository.NewMemory()
	d, err := New(newService(t, &echoLLM{}, sender, history), Options{})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{textEvent("01HX", "U1", "hello")})
	d.Wait()
	d.Dispatch(context.Background(), []domain.Event{textEvent("01HX", "U1", "hello")})
	d.Wait()

	require.Len(t, sender.pushes["U1"], 2)
	turns, err := history.RecentTurns(context.Background(), "U1", 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestDispatch_EventsWithoutIDAreNeverDeduplicated(t *testing.T) {
	var calls atomic.Int32
	h := funcHandler(func(_ context.Context, _ domain.Event) usecase.Result {
		calls.Add(1)
		return usecase.Result{}
	})
	d, err := New(h, Options{DedupWindow: time.Minute})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{textEvent("", "U1", "a"), textEvent("", "U1", "a")})
	d.Wait()
	require.EqualValues(t, 2, calls.Load())
}

func TestDispatch_DedupWindowExpires(t *testing.T) {
	var calls atomic.Int32
	h := funcHandler(func(_ context.Context, _ domain.Event) usecase.Result {
		calls.Add(1)
		return usecase.Result{}
	})
	d, err := New(h, Options{DedupWindow: time.Minute})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	d.Dispatch(context.Background(), []domain.Event{textEvent("e1", "U1", "a")})
	now = now.Add(2 * time.Minute)
	d.Dispatch(context.Background(), []domain.Event{textEvent("e1", "U1", "a")})
	d.Wait()

	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, 1, d.seen.len())
}

func TestDispatch_SerializePerUserPreservesOrder(t *testing.T) {
	llm := &echoLLM{}
	sender := &recordingSender{}
	history := repository.NewMemory()
	d, err := New(newService(t, llm, sender, history), Options{SerializePerUser: true})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{
		textEvent("e1", "U1", "first"),
		textEvent("e2", "U1", "second"),
		textEvent("e3", "U1", "third"),
	})
	d.Wait()

	require.Equal(t, []string{"re: first", "re: second", "re: third"}, sender.pushes["U1"])

	// each later message sees the earlier turns in its context
	second := llm.contexts["second"][0]
	require.Len(t, second, 4)
	require.Equal(t, "first", second[1].Content)
	third := llm.contexts["third"][0]
	require.Len(t, third, 6)
	require.Equal(t, "re: second", third[4].Content)

	require.Zero(t, d.locks.len())
}

func TestDispatch_SerializePerUserKeepsUsersIndependent(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var order []string
	h := funcHandler(func(_ context.Context, ev domain.Event) usecase.Result {
		if ev.UserID == "slow" {
			<-release
		}
		mu.Lock()
		order = append(order, ev.UserID)
		mu.Unlock()
		return usecase.Result{}
	})
	d, err := New(h, Options{SerializePerUser: true})
	require.NoError(t, err)

	d.Dispatch(context.Background(), []domain.Event{
		textEvent("e1", "slow", "a"),
		textEvent("e2", "fast", "b"),
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	d.Wait()
	require.Equal(t, []string{"fast", "slow"}, order)
}
