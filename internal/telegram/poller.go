package telegram

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Updater fetches updates. *Client implements it.
type Updater interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error)
}

// UpdateHandler processes one update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u Update)
}

// Poller long-polls getUpdates and fans updates out to a fixed pool of workers.
// Updates from one sender always go to the same worker, so they run in arrival order.
type Poller struct {
	updater Updater
	handler UpdateHandler
	workers int
	timeout time.Duration
	backoff time.Duration
	logger  *slog.Logger
}

// NewPoller creates a Poller.
func NewPoller(updater Updater, handler UpdateHandler, workers int, timeout time.Duration, logger *slog.Logger) *Poller {
	if workers <= 0 {
		workers = 1
	}
	return &Poller{
		updater: updater,
		handler: handler,
		workers: workers,
		timeout: timeout,
		backoff: 3 * time.Second,
		logger:  logger,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight updates to finish.
func (p *Poller) Run(ctx context.Context) error {
	shards := make([]chan Update, p.workers)
	g := new(errgroup.Group)
	for i := range shards {
		ch := make(chan Update, 16)
		shards[i] = ch
		g.Go(func() error {
			// Updates already taken from Telegram are finished even during shutdown.
			hctx := context.WithoutCancel(ctx)
			for u := range ch {
				p.dispatch(hctx, u)
			}
			return nil
		})
	}

	p.logger.Info("telegram poller started", "workers", p.workers, "timeout", p.timeout)
	p.loop(ctx, shards)

	for _, ch := range shards {
		close(ch)
	}
	err := g.Wait()
	p.logger.Info("telegram poller stopped")
	return err
}

func (p *Poller) loop(ctx context.Context, shards []chan Update) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := p.updater.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("get updates failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			shard := shards[shardFor(u.SenderID(), len(shards))]
			select {
			case shard <- u:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, u Update) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("update handler panicked", "update_id", u.UpdateID, "error", rec)
		}
	}()
	p.handler.HandleUpdate(ctx, u)
}

func shardFor(senderID int64, n int) int {
	if senderID < 0 {
		senderID = -senderID
	}
	return int(senderID % int64(n))
}
