package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedUpdater struct {
	mu      sync.Mutex
	batches [][]Update
	offsets []int64
	failure error
}

func (s *scriptedUpdater) GetUpdates(ctx context.Context, offset int64, _ time.Duration) ([]Update, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	if s.failure != nil {
		err := s.failure
		s.failure = nil
		s.mu.Unlock()
		return nil, err
	}
	if len(s.batches) > 0 {
		b := s.batches[0]
		s.batches = s.batches[1:]
		s.mu.Unlock()
		return b, nil
	}
	s.mu.Unlock()

	<-ctx.Done()
	return nil, ctx.Err()
}

type collectingHandler struct {
	mu   sync.Mutex
	seen map[int64][]int64
	done chan struct{}
	want int
	n    int
}

func (h *collectingHandler) HandleUpdate(_ context.Context, u Update) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen[u.SenderID()] = append(h.seen[u.SenderID()], u.UpdateID)
	h.n++
	if h.n == h.want {
		close(h.done)
	}
}

func msg(updateID, from int64) Update {
	return Update{UpdateID: updateID, Message: &Message{From: &User{ID: from}, Chat: Chat{ID: from}, Text: "x"}}
}

func TestPoller_DispatchesInOrderPerSender(t *testing.T) {
	updater := &scriptedUpdater{
		failure: errors.New("temporary network error"),
		batches: [][]Update{
			{msg(1, 42), msg(2, 7), msg(3, 42)},
			{msg(4, 42), msg(5, 7)},
		},
	}
	handler := &collectingHandler{seen: map[int64][]int64{}, done: make(chan struct{}), want: 5}
	poller := NewPoller(updater, handler, 4, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	poller.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- poller.Run(ctx) }()

	select {
	case <-handler.done:
	case <-time.After(5 * time.Second):
		t.Fatal("updates were not dispatched")
	}
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, []int64{1, 3, 4}, handler.seen[42])
	assert.Equal(t, []int64{2, 5}, handler.seen[7])

	updater.mu.Lock()
	defer updater.mu.Unlock()
	require.GreaterOrEqual(t, len(updater.offsets), 3)
	assert.Equal(t, []int64{0, 0, 4}, updater.offsets[:3])
}

func TestPoller_RecoversHandlerPanic(t *testing.T) {
	updater := &scriptedUpdater{batches: [][]Update{{msg(1, 42), msg(2, 42)}}}
	done := make(chan struct{})
	var calls int
	handler := handlerFunc(func(_ context.Context, u Update) {
		calls++
		if u.UpdateID == 1 {
			panic("boom")
		}
		close(done)
	})
	poller := NewPoller(updater, handler, 1, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- poller.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("second update was not handled")
	}
	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, 2, calls)
}

type handlerFunc func(ctx context.Context, u Update)

func (f handlerFunc) HandleUpdate(ctx context.Context, u Update) { f(ctx, u) }

func TestShardFor(t *testing.T) {
	assert.Equal(t, 2, shardFor(42, 4))
	assert.Equal(t, 2, shardFor(-42, 4))
	assert.Equal(t, 0, shardFor(0, 4))
}
