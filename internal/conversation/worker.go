package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/thiagorragazzo/clinic-assistant/pkg/logging"
)

// TurnHandler processes one inbound message.
type TurnHandler interface {
	HandleTurn(ctx context.Context, msg InboundMessage) (TurnResult, error)
}

// Worker consumes inbound-message jobs from the queue. A single receiver
// routes each job to the shard owning its contact, and every shard runs
// its jobs one at a time, so one contact is always handled in arrival order
// while different contacts proceed in parallel.
type Worker struct {
	handler TurnHandler
	queue   queueClient
	logger  *logging.Logger
	cfg     workerConfig
	wg      sync.WaitGroup
}

type workerConfig struct {
	shards           int
	shardBuffer      int
	receiveWaitSecs  int
	receiveBatchSize int
	turnTimeout      time.Duration
}

const (
	defaultShardCount    = 4
	defaultShardBuffer   = 16
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	defaultTurnTimeout   = 90 * time.Second
	deleteTimeoutSeconds = 5
)

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithShardCount sets the number of concurrent per-contact shards.
func WithShardCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.shards = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithTurnTimeout bounds a single turn.
func WithTurnTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.turnTimeout = d
		}
	}
}

func NewWorker(handler TurnHandler, queue queueClient, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if handler == nil {
		panic("conversation: turn handler cannot be nil")
	}
	if queue == nil {
		panic("conversation: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		shards:           defaultShardCount,
		shardBuffer:      defaultShardBuffer,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		turnTimeout:      defaultTurnTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{handler: handler, queue: queue, logger: logger, cfg: cfg}
}

type job struct {
	msg     queueMessage
	payload queuePayload
}

// Start launches the receiver and the shard goroutines. They stop when ctx
// is done; Wait blocks until every in-flight turn has finished.
func (w *Worker) Start(ctx context.Context) {
	shards := make([]chan job, w.cfg.shards)
	for i := range shards {
		shards[i] = make(chan job, w.cfg.shardBuffer)
		w.wg.Add(1)
		go w.runShard(ctx, i, shards[i])
	}
	w.wg.Add(1)
	go w.receive(ctx, shards)
}

func (w *Worker) Wait() {
	w.wg.Wait()
}

func shardFor(contact string, n int) int {
	return int(xxhash.Sum64String(contact) % uint64(n))
}

func (w *Worker) receive(ctx context.Context, shards []chan job) {
	defer w.wg.Done()
	defer func() {
		for _, ch := range shards {
			close(ch)
		}
	}()
	w.logger.Debug("conversation receiver started", "shards", len(shards))

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Error("failed to receive conversation jobs", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			payload, err := decodePayload(msg.Body)
			if err != nil {
				w.logger.Error("dropping undecodable conversation job", "error", err, "msg_id", msg.ID)
				w.deleteMessage(msg.ReceiptHandle)
				continue
			}
			select {
			case shards[shardFor(payload.Message.ContactAddress, len(shards))] <- job{msg: msg, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (w *Worker) runShard(ctx context.Context, shard int, jobs <-chan job) {
	defer w.wg.Done()
	for j := range jobs {
		w.handle(ctx, shard, j)
	}
}

func (w *Worker) handle(ctx context.Context, shard int, j job) {
	turnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.turnTimeout)
	defer cancel()

	w.logger.Info("worker processing job", "job_id", j.payload.ID, "shard", shard, "contact", j.payload.Message.ContactAddress)
	if _, err := w.handler.HandleTurn(turnCtx, j.payload.Message); err != nil {
		w.logger.Error("conversation turn failed", "error", err, "job_id", j.payload.ID, "contact", j.payload.Message.ContactAddress)
	}
	w.deleteMessage(j.msg.ReceiptHandle)
}

func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete conversation job", "error", err)
	}
}
