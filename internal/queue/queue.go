package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"estimateur/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler processes one batch of transactions
type Handler func([]models.Transaction) error

// TransactionQueue is an in-memory queue of transaction batches waiting to be archived
type TransactionQueue struct {
	items    chan []models.Transaction
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	wg       sync.WaitGroup
	logger   *logrus.Logger
	handlers []Handler
}

// NewTransactionQueue creates a new queue with the specified buffer size
func NewTransactionQueue(bufferSize int, logger *logrus.Logger) *TransactionQueue {
	return &TransactionQueue{
		items:    make(chan []models.Transaction, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]Handler, 0),
	}
}

// Push adds a batch to the queue without blocking
func (q *TransactionQueue) Push(batch []models.Transaction) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.items <- batch:
		q.logger.WithField("batch_size", len(batch)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe adds a handler that will be called for each batch
func (q *TransactionQueue) Subscribe(handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches workers goroutines consuming the queue
func (q *TransactionQueue) Start(workers int) {
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.process()
	}
}

func (q *TransactionQueue) process() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case batch := <-q.items:
			q.processBatch(batch)
		}
	}
}

// processBatch sends the batch to all subscribed handlers
func (q *TransactionQueue) processBatch(batch []models.Transaction) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).Error("Handler failed to process batch")
		}
	}
}

// Close stops accepting batches, waits for the workers and drops anything still queued
func (q *TransactionQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	if pending := len(q.items); pending > 0 {
		q.logger.WithField("pending_batches", pending).Warn("Queue closed with unprocessed batches")
	}
	return nil
}

// Len returns the current number of batches in the queue
func (q *TransactionQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *TransactionQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
