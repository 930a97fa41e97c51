package services

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/sqaleshop/api/internal/repositories"
)

const defaultNotifyTimeout = 30 * time.Second

// asyncNotifier runs notification sends off the request path. Failures are logged only.
type asyncNotifier struct {
	dispatcher NotificationDispatcher
	stores     repositories.StoreRepository
	timeout    time.Duration
	logger     func(context.Context, string, map[string]any)
	wg         sync.WaitGroup
}

func newAsyncNotifier(dispatcher NotificationDispatcher, stores repositories.StoreRepository, timeout time.Duration, logger func(context.Context, string, map[string]any)) *asyncNotifier {
	if timeout <= 0 {
		timeout = defaultNotifyTimeout
	}
	return &asyncNotifier{
		dispatcher: dispatcher,
		stores:     stores,
		timeout:    timeout,
		logger:     logger,
	}
}

// send resolves the store when only its id is known, then calls fn on a detached context.
func (n *asyncNotifier) send(ctx context.Context, kind, entityID string, store Store, fn func(context.Context, NotificationDispatcher, Store) error) {
	if n == nil || n.dispatcher == nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()

		if store.Name == "" && n.stores != nil && store.ID != "" {
			loaded, err := n.stores.FindByID(bg, store.ID)
			if err != nil {
				n.logger(bg, "notification.store.lookup_failed", map[string]any{
					"kind":    kind,
					"storeId": store.ID,
					"error":   err.Error(),
				})
				return
			}
			store = loaded
		}
		if err := fn(bg, n.dispatcher, store); err != nil {
			n.logger(bg, "notification.failed", map[string]any{
				"kind":     kind,
				"entityId": entityID,
				"storeId":  store.ID,
				"error":    err.Error(),
			})
		}
	}()
}

// wait blocks until every in-flight send has finished.
func (n *asyncNotifier) wait() {
	if n != nil {
		n.wg.Wait()
	}
}

func publishEvent(ctx context.Context, events EventPublisher, logger func(context.Context, string, map[string]any), event DomainEvent) {
	if events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := events.Publish(ctx, event); err != nil {
		logger(ctx, "event.publish.failed", map[string]any{
			"type":   event.Type,
			"entity": event.EntityID,
			"status": event.CurrentStatus,
			"error":  err.Error(),
		})
	}
}
