package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/logger"
	"github.com/fjod/storefront/internal/repository"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultGroupID = "storefront-cart-reconciler"
	readBackoff    = time.Second
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Invalidator drops a cached cart view.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Poller consumes OrderPlaced events and takes the ordered units out of the
// cart. It repairs carts whose clear failed right after checkout; units added
// after the order was placed are kept, even when they merged into an ordered line.
type Poller struct {
	repo    repository.CartRepository
	reader  messageReader
	cache   Invalidator
	log     *slog.Logger
	backoff time.Duration
}

func NewPoller(repo repository.CartRepository, cache Invalidator, topic, groupID string, brokers ...string) *Poller {
	if groupID == "" {
		groupID = DefaultGroupID
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return newPoller(repo, cache, reader)
}

func newPoller(repo repository.CartRepository, cache Invalidator, reader messageReader) *Poller {
	return &Poller{
		repo:    repo,
		reader:  reader,
		cache:   cache,
		log:     logger.New("cart-reconciler"),
		backoff: readBackoff,
	}
}

func (p *Poller) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			p.log.Error("error reading message", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.backoff):
			}
			continue
		}
		if err := p.handle(ctx, m); err != nil {
			p.log.Error("failed to reconcile cart", "offset", m.Offset, "err", err)
		}
	}
}

func (p *Poller) Close() error {
	return p.reader.Close()
}

func (p *Poller) handle(ctx context.Context, m kafka.Message) error {
	if eventType(m) != domain.EventTypeOrderPlaced {
		return nil
	}

	var event domain.OrderPlacedEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		return fmt.Errorf("parse message: %w", err)
	}
	if event.UserID == "" {
		return errors.New("missing user_id")
	}

	changed, err := p.repo.SubtractItems(ctx, event.UserID, event.CartLines)
	if err != nil {
		return fmt.Errorf("subtract ordered lines: %w", err)
	}
	if changed > 0 {
		p.cache.Invalidate(ctx, event.UserID)
		p.log.Info("took ordered units left in cart", "user_id", event.UserID, "order_id", event.OrderID, "lines", changed)
	}
	return nil
}

func eventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == "event_type" {
			return string(h.Value)
		}
	}
	return ""
}
