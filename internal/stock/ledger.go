package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/toko-offers/internal/catalog"
	"github.com/noah-isme/toko-offers/internal/events"
	"github.com/noah-isme/toko-offers/internal/obs"
)

var (
	// ErrInsufficientStock is returned when an allocation would take tracked
	// stock below zero.
	ErrInsufficientStock = catalog.ErrInsufficientStock
	// ErrAllocationNotConsumable is returned when a consumption exceeds what
	// is allocated or in stock.
	ErrAllocationNotConsumable = catalog.ErrInvalidStockAdjustment
	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
)

// Ledger operation names, used as the stock.changed reason.
const (
	OpAllocate = "allocate"
	OpConsume  = "consume"
	OpCancel   = "cancel"
	OpRestock  = "restock"
)

// Store applies atomic stock record mutations. Each method must either apply
// the change in full or leave the record untouched.
type Store interface {
	StockRecord(ctx context.Context, id uuid.UUID) (*catalog.StockRecord, error)
	Allocate(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error)
	ConsumeAllocation(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error)
	CancelAllocation(ctx context.Context, id uuid.UUID, quantity int) (*catalog.StockRecord, error)
	SetNumInStock(ctx context.Context, id uuid.UUID, numInStock int) (*catalog.StockRecord, error)
}

// Locker serialises work on a key. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Emitter publishes domain events. *events.Bus satisfies it.
type Emitter interface {
	Emit(ctx context.Context, topic string, aggregateID uuid.UUID, payload any) (events.Event, error)
}

// Ledger is the single writer for stock records. Every write runs under a
// per-record lock and emits stock.changed once it has been applied.
type Ledger struct {
	Store   Store
	Locker  Locker
	Bus     Emitter
	LockTTL time.Duration
	Logger  zerolog.Logger
}

// Allocate reserves quantity units of the record for item.
func (l *Ledger) Allocate(ctx context.Context, item *catalog.Item, recordID uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	return l.write(ctx, OpAllocate, item, recordID, quantity, func(ctx context.Context) (*catalog.StockRecord, error) {
		return l.Store.Allocate(ctx, recordID, quantity)
	})
}

// ConsumeAllocation ships quantity previously allocated units.
func (l *Ledger) ConsumeAllocation(ctx context.Context, item *catalog.Item, recordID uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	return l.write(ctx, OpConsume, item, recordID, quantity, func(ctx context.Context) (*catalog.StockRecord, error) {
		return l.Store.ConsumeAllocation(ctx, recordID, quantity)
	})
}

// CancelAllocation releases up to quantity allocated units.
func (l *Ledger) CancelAllocation(ctx context.Context, item *catalog.Item, recordID uuid.UUID, quantity int) (*catalog.StockRecord, error) {
	return l.write(ctx, OpCancel, item, recordID, quantity, func(ctx context.Context) (*catalog.StockRecord, error) {
		return l.Store.CancelAllocation(ctx, recordID, quantity)
	})
}

// Restock sets the physical stock count of the record.
func (l *Ledger) Restock(ctx context.Context, item *catalog.Item, recordID uuid.UUID, numInStock int) (*catalog.StockRecord, error) {
	if numInStock < 0 {
		return nil, fmt.Errorf("restock %d: %w", numInStock, ErrInvalidQuantity)
	}
	return l.write(ctx, OpRestock, item, recordID, numInStock, func(ctx context.Context) (*catalog.StockRecord, error) {
		return l.Store.SetNumInStock(ctx, recordID, numInStock)
	})
}

func (l *Ledger) write(ctx context.Context, op string, item *catalog.Item, recordID uuid.UUID, quantity int,
	apply func(context.Context) (*catalog.StockRecord, error)) (*catalog.StockRecord, error) {
	ctx, span := otel.Tracer("stock.Ledger").Start(ctx, "Ledger."+op)
	defer span.End()
	span.SetAttributes(attribute.String("stock_record.id", recordID.String()), attribute.Int("quantity", quantity))

	if l.Store == nil {
		return nil, errors.New("stock: store not configured")
	}
	if op != OpRestock && quantity <= 0 {
		return nil, fmt.Errorf("%s %d: %w", op, quantity, ErrInvalidQuantity)
	}
	if item != nil && !item.TracksStock() {
		l.Logger.Debug().Str("op", op).Str("stock_record_id", recordID.String()).Msg("stock not tracked, ledger write skipped")
		return l.Store.StockRecord(ctx, recordID)
	}

	var before, after *catalog.StockRecord
	requested := time.Now()
	err := l.withLock(ctx, recordID, func(ctx context.Context) error {
		if obs.LedgerLockWait != nil {
			obs.LedgerLockWait.Observe(float64(time.Since(requested).Milliseconds()))
		}
		var err error
		before, err = l.Store.StockRecord(ctx, recordID)
		if err != nil {
			return err
		}
		after, err = apply(ctx)
		return err
	})
	l.count(op, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("stock: %s %s: %w", op, recordID, err)
	}

	l.emit(ctx, op, quantity, before, after)
	return after, nil
}

func (l *Ledger) withLock(ctx context.Context, recordID uuid.UUID, fn func(context.Context) error) error {
	if l.Locker == nil {
		return fn(ctx)
	}
	ttl := l.LockTTL
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return l.Locker.WithLock(ctx, LockKey(recordID), ttl, fn)
}

func (l *Ledger) emit(ctx context.Context, op string, quantity int, before, after *catalog.StockRecord) {
	if l.Bus == nil {
		return
	}
	payload := events.StockChanged{
		StockRecordID:     after.ID,
		ItemID:            after.ItemID,
		Reason:            op,
		Quantity:          quantity,
		NetBefore:         before.NetStockLevel(),
		NetAfter:          after.NetStockLevel(),
		LowStockThreshold: after.LowStockThreshold,
	}
	// The write is already committed; subscriber failures are logged only.
	if _, err := l.Bus.Emit(ctx, events.TopicStockChanged, after.ID, payload); err != nil {
		l.Logger.Error().Err(err).Str("op", op).Str("stock_record_id", after.ID.String()).Msg("stock.changed dispatch failed")
	}
}

func (l *Ledger) count(op string, err error) {
	if obs.StockAllocationsTotal == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientStock):
		result = "insufficient"
	case errors.Is(err, ErrAllocationNotConsumable):
		result = "invalid"
	default:
		result = "error"
	}
	obs.StockAllocationsTotal.WithLabelValues(op, result).Inc()
}

// LockKey is the Redis key guarding a stock record.
func LockKey(recordID uuid.UUID) string {
	return "lock:stockrecord:" + recordID.String()
}
