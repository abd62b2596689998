package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"infosec-rag/internal/model"
)

type QueryLogStore interface {
	Create(entry *model.QueryLog) error
}

// QueryLogWorker drains the query log queue into the audit table.
type QueryLogWorker struct {
	conn     *amqp.Connection
	store    QueryLogStore
	queue    string
	prefetch int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueryLogWorker(conn *amqp.Connection, store QueryLogStore, queue string) *QueryLogWorker {
	return &QueryLogWorker{
		conn:     conn,
		store:    store,
		queue:    queue,
		prefetch: 32,
	}
}

func (w *QueryLogWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := ch.Qos(w.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}
	if _, err := ch.QueueDeclare(w.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	deliveries, err := ch.Consume(w.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()
		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					log.Printf("query log worker: delivery channel closed")
					return
				}
				w.handle(d)
			}
		}
	}()
	return nil
}

// handle acks stored events and drops undecodable ones. Store failures are
// requeued once; a redelivered message that fails again is dropped.
func (w *QueryLogWorker) handle(d amqp.Delivery) {
	var event model.QueryEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		log.Printf("query log worker: decode event failed: %v", err)
		_ = d.Nack(false, false)
		return
	}
	if event.QueryID == "" {
		log.Printf("query log worker: event without query id dropped")
		_ = d.Nack(false, false)
		return
	}

	if err := w.store.Create(toQueryLog(event)); err != nil {
		log.Printf("query log worker: persist %s failed: %v", event.QueryID, err)
		_ = d.Nack(false, !d.Redelivered)
		return
	}
	_ = d.Ack(false)
}

func toQueryLog(event model.QueryEvent) *model.QueryLog {
	return &model.QueryLog{
		QueryID:            event.QueryID,
		ClientID:           event.ClientID,
		Question:           event.Question,
		Method:             event.Method,
		Confidence:         event.Confidence,
		TotalSources:       event.TotalSources,
		SourceFiles:        strings.Join(event.Sources, ","),
		FilterCategory:     event.FilterCategory,
		EnhancementApplied: event.EnhancementApplied,
		ProcessingTimeMS:   event.ProcessingTimeMS,
		CreatedAt:          event.CreatedAt,
	}
}

func (w *QueryLogWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
