package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"estimateur/server/config"
	"estimateur/server/internal/metrics"
	"estimateur/server/internal/models"
	"estimateur/server/internal/queue"
)

// Store persists batches of transactions
type Store interface {
	SaveTransactions(ctx context.Context, batch []models.Transaction) error
}

// BatchProcessor archives the transaction batches published on the queue
type BatchProcessor struct {
	store  Store
	logger *logrus.Logger
	config *config.Config
	queue  *queue.TransactionQueue
	ctx    context.Context
	cancel context.CancelFunc
}

// NewBatchProcessor creates a new batch processor instance
func NewBatchProcessor(store Store, queue *queue.TransactionQueue, config *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		store:  store,
		queue:  queue,
		config: config,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the queue and starts its workers
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(p.processBatch)
	p.queue.Start(p.config.BatchProcessing.ProcessorCount)
}

// Stop aborts pending retries and shuts the queue down
func (p *BatchProcessor) Stop() {
	p.cancel()
	p.queue.Close()
}

// processBatch saves a single batch, retrying on failure
func (p *BatchProcessor) processBatch(batch []models.Transaction) error {
	maxRetries := p.config.BatchProcessing.MaxRetries
	delay := time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch processing, attempt %d of %d", attempt, maxRetries)
			select {
			case <-p.ctx.Done():
				return fmt.Errorf("batch processing cancelled: %w", p.ctx.Err())
			case <-time.After(delay):
			}
		}

		err = p.store.SaveTransactions(p.ctx, batch)
		if err == nil {
			metrics.ArchivedTransactions.Add(float64(len(batch)))
			p.logger.Infof("Successfully processed batch of %d transactions", len(batch))
			return nil
		}

		p.logger.Errorf("Batch processing failed: %v", err)
	}

	return fmt.Errorf("failed to process batch after %d attempts: %w", maxRetries+1, err)
}
