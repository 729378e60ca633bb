// Package orders lists committed orders and moves them through their
// fulfilment and payment lifecycles.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/metrics"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/obs"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type StatusPublisher interface {
	StatusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) error
}

type Options struct {
	RestockOnCancel bool
	TxTimeout       time.Duration
}

type Option func(*Service)

func WithEvents(p StatusPublisher) Option {
	return func(s *Service) { s.events = p }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	db      *gorm.DB
	opts    Options
	events  StatusPublisher
	metrics *metrics.CheckoutMetrics
	log     *slog.Logger
	now     func() time.Time
	wg      sync.WaitGroup
}

func NewService(conn *gorm.DB, opts Options, options ...Option) *Service {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 5 * time.Second
	}
	s := &Service{
		db:   conn,
		opts: opts,
		log:  obs.Logger,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Wait blocks until pending status-change events have been handed off.
func (s *Service) Wait() {
	s.wg.Wait()
}

type Filter struct {
	Status        models.OrderStatus
	PaymentStatus models.PaymentStatus
	CustomerID    *uint
	Search        string
	Sort          string
	Desc          bool
	Page          int
	PageSize      int
}

type Page struct {
	Orders   []models.Order `json:"orders"`
	Total    int64          `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

var sortColumns = map[string]string{
	"":           "created_at",
	"created_at": "created_at",
	"total":      "total",
}

func (f *Filter) normalize() error {
	if f.Status != "" && !f.Status.Valid() {
		return &errs.ValidationError{Field: "status", Reason: "unknown order status"}
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return &errs.ValidationError{Field: "payment_status", Reason: "unknown payment status"}
	}
	if _, ok := sortColumns[f.Sort]; !ok {
		return &errs.ValidationError{Field: "sort", Reason: "must be created_at or total"}
	}
	if f.Page < 1 {
		f.Page = 1
	}
	switch {
	case f.PageSize <= 0:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
	f.Search = strings.TrimSpace(f.Search)
	return nil
}

// likeEscaper makes search text match literally inside a LIKE pattern.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (f Filter) scope(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.PaymentStatus != "" {
		q = q.Where("payment_status = ?", f.PaymentStatus)
	}
	if f.CustomerID != nil {
		q = q.Where("customer_id = ?", *f.CustomerID)
	}
	if f.Search != "" {
		like := "%" + likeEscaper.Replace(strings.ToLower(f.Search)) + "%"
		q = q.Where(`(LOWER(order_number) LIKE ? ESCAPE '\' OR LOWER(contact_email) LIKE ? ESCAPE '\' `+
			`OR LOWER(billing_full_name) LIKE ? ESCAPE '\' OR LOWER(shipping_full_name) LIKE ? ESCAPE '\')`,
			like, like, like, like)
	}
	return q
}

func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	if err := f.normalize(); err != nil {
		return nil, err
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Order{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, db.Translate(err, "list orders")
	}

	orders := []models.Order{}
	err := s.db.WithContext(ctx).
		Scopes(f.scope).
		Preload("Items", itemsByID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: sortColumns[f.Sort]}, Desc: f.Desc}).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: f.Desc}).
		Limit(f.PageSize).
		Offset((f.Page - 1) * f.PageSize).
		Find(&orders).Error
	if err != nil {
		return nil, db.Translate(err, "list orders")
	}
	return &Page{Orders: orders, Total: total, Page: f.Page, PageSize: f.PageSize}, nil
}

func itemsByID(q *gorm.DB) *gorm.DB {
	return q.Order("id")
}

func (s *Service) Get(ctx context.Context, id uint) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items", itemsByID).First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errs.NotFoundError{Resource: "order", ID: strconv.FormatUint(uint64(id), 10)}
	}
	if err != nil {
		return nil, db.Translate(err, "get order")
	}
	return &order, nil
}

func (s *Service) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	var order models.Order
	err := s.db.WithContext(ctx).Preload("Items", itemsByID).Where("order_number = ?", number).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &errs.NotFoundError{Resource: "order", ID: number}
	}
	if err != nil {
		return nil, db.Translate(err, "get order")
	}
	return &order, nil
}

type StatusUpdate struct {
	OrderID        uint
	Status         models.OrderStatus
	TrackingNumber *string
	Notes          *string
	// Force skips the transition rules. Timestamps are still stamped once.
	Force bool
}

func (s *Service) UpdateStatus(ctx context.Context, u StatusUpdate) (*models.Order, error) {
	if !u.Status.Valid() {
		return nil, &errs.ValidationError{Field: "status", Reason: "unknown order status"}
	}

	var (
		order models.Order
		from  models.OrderStatus
	)
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := lockOrder(tx, u.OrderID, &order); err != nil {
			return err
		}
		from = order.Status
		if !u.Force {
			if err := checkTransition(order, u.Status); err != nil {
				return err
			}
		}

		now := s.now()
		updates := map[string]any{"status": u.Status}
		switch u.Status {
		case models.OrderStatusShipped:
			if order.ShippedAt == nil {
				updates["shipped_at"] = now
			}
		case models.OrderStatusDelivered:
			if order.ShippedAt == nil {
				updates["shipped_at"] = now
			}
			if order.DeliveredAt == nil {
				updates["delivered_at"] = now
			}
		case models.OrderStatusRefunded:
			if order.PaymentStatus == models.PaymentStatusPaid {
				updates["payment_status"] = models.PaymentStatusRefunded
			}
		case models.OrderStatusCancelled:
			if s.opts.RestockOnCancel && order.RestockedAt == nil && unshipped(from) {
				if err := restock(tx, order.ID); err != nil {
					return err
				}
				updates["restocked_at"] = now
			}
		}
		// a forced revive of a restocked order takes its goods off the shelf again
		if order.RestockedAt != nil && u.Status != models.OrderStatusCancelled && u.Status != models.OrderStatusRefunded {
			if err := reserve(tx, order.ID); err != nil {
				return err
			}
			updates["restocked_at"] = nil
		}
		if u.TrackingNumber != nil {
			updates["tracking_number"] = strings.TrimSpace(*u.TrackingNumber)
		}
		if u.Notes != nil {
			updates["notes"] = *u.Notes
		}

		if err := tx.Model(&order).Updates(updates).Error; err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		return tx.Preload("Items", itemsByID).First(&order, order.ID).Error
	})
	if err != nil {
		return nil, db.Translate(err, "update order status")
	}

	if from != order.Status {
		s.log.Info("order_status_changed", "order_number", order.OrderNumber, "from", from, "to", order.Status, "forced", u.Force)
		s.statusChanged(&order, from)
	}
	return &order, nil
}

var paymentTransitions = map[models.PaymentStatus][]models.PaymentStatus{
	models.PaymentStatusPending: {models.PaymentStatusPaid, models.PaymentStatusFailed},
	models.PaymentStatusFailed:  {models.PaymentStatusPending, models.PaymentStatusPaid},
	models.PaymentStatusPaid:    {models.PaymentStatusRefunded},
}

// UpdatePaymentStatus records the outcome reported by the payment flow. A
// refund also moves the order itself to refunded.
func (s *Service) UpdatePaymentStatus(ctx context.Context, id uint, to models.PaymentStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, &errs.ValidationError{Field: "payment_status", Reason: "unknown payment status"}
	}

	var (
		order       models.Order
		fromStatus  models.OrderStatus
		fromPayment models.PaymentStatus
	)
	err := s.inTx(ctx, func(tx *gorm.DB) error {
		if err := lockOrder(tx, id, &order); err != nil {
			return err
		}
		fromStatus, fromPayment = order.Status, order.PaymentStatus
		if fromPayment == to {
			return nil
		}
		if !allowedPayment(fromPayment, to) {
			return &errs.InvalidTransitionError{From: string(fromPayment), To: string(to)}
		}

		updates := map[string]any{"payment_status": to}
		if to == models.PaymentStatusRefunded {
			updates["status"] = models.OrderStatusRefunded
		}
		if err := tx.Model(&order).Updates(updates).Error; err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		return tx.Preload("Items", itemsByID).First(&order, order.ID).Error
	})
	if err != nil {
		return nil, db.Translate(err, "update payment status")
	}

	if fromPayment != order.PaymentStatus {
		s.log.Info("order_payment_status_changed", "order_number", order.OrderNumber, "from", fromPayment, "to", order.PaymentStatus)
		s.statusChanged(&order, fromStatus)
	}
	return &order, nil
}

func allowedPayment(from, to models.PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

var fulfilmentRank = map[models.OrderStatus]int{
	models.OrderStatusPending:    0,
	models.OrderStatusProcessing: 1,
	models.OrderStatusShipped:    2,
	models.OrderStatusDelivered:  3,
}

// checkTransition allows forward fulfilment moves (skips included), cancelling
// before shipment and refunding once payment has been captured.
func checkTransition(order models.Order, to models.OrderStatus) error {
	from := order.Status
	if from == to {
		return nil
	}
	invalid := &errs.InvalidTransitionError{From: string(from), To: string(to)}

	switch to {
	case models.OrderStatusCancelled:
		if from == models.OrderStatusPending || from == models.OrderStatusProcessing {
			return nil
		}
		return invalid
	case models.OrderStatusRefunded:
		if order.PaymentStatus == models.PaymentStatusPaid {
			return nil
		}
		return invalid
	}

	fr, okFrom := fulfilmentRank[from]
	tr, okTo := fulfilmentRank[to]
	if okFrom && okTo && tr > fr {
		return nil
	}
	return invalid
}

// unshipped reports whether an order's goods are still in the warehouse.
func unshipped(s models.OrderStatus) bool {
	return s == models.OrderStatusPending || s == models.OrderStatusProcessing
}

func orderItems(tx *gorm.DB, orderID uint) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := tx.Where("order_id = ?", orderID).Order("product_id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return items, nil
}

func restock(tx *gorm.DB, orderID uint) error {
	items, err := orderItems(tx, orderID)
	if err != nil {
		return err
	}
	for _, it := range items {
		err := tx.Model(&models.Product{}).
			Where("id = ?", it.ProductID).
			Updates(map[string]any{
				"stock":       gorm.Expr("stock + ?", it.Quantity),
				"sales_count": gorm.Expr("CASE WHEN sales_count >= ? THEN sales_count - ? ELSE 0 END", it.Quantity, it.Quantity),
			}).Error
		if err != nil {
			return fmt.Errorf("restock product %d: %w", it.ProductID, err)
		}
	}
	return nil
}

// reserve takes an order's quantities out of stock again. It fails when any
// product has too little left.
func reserve(tx *gorm.DB, orderID uint) error {
	items, err := orderItems(tx, orderID)
	if err != nil {
		return err
	}
	for _, it := range items {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock >= ?", it.ProductID, it.Quantity).
			Updates(map[string]any{
				"stock":       gorm.Expr("stock - ?", it.Quantity),
				"sales_count": gorm.Expr("sales_count + ?", it.Quantity),
			})
		if res.Error != nil {
			return fmt.Errorf("reserve product %d: %w", it.ProductID, res.Error)
		}
		if res.RowsAffected == 1 {
			continue
		}
		var p models.Product
		err := tx.Select("stock").First(&p, it.ProductID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &errs.ProductUnavailableError{ProductName: it.ProductName}
		}
		if err != nil {
			return fmt.Errorf("reload stock: %w", err)
		}
		return &errs.InsufficientStockError{ProductName: it.ProductName, Available: p.Stock}
	}
	return nil
}

func lockOrder(tx *gorm.DB, id uint, order *models.Order) error {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.First(order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &errs.NotFoundError{Resource: "order", ID: strconv.FormatUint(uint64(id), 10)}
	}
	return err
}

func (s *Service) inTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.TxTimeout)
	defer cancel()
	return s.db.WithContext(ctx).Transaction(fn)
}

func (s *Service) statusChanged(order *models.Order, from models.OrderStatus) {
	if s.metrics != nil && from != order.Status {
		s.metrics.Transitions.WithLabelValues(string(order.Status)).Inc()
	}
	if s.events == nil {
		return
	}
	snapshot := *order

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.events.StatusChanged(ctx, &snapshot, from); err != nil {
			s.log.Error("order_status_event_failed", "order_number", snapshot.OrderNumber, "error", err)
		}
	}()
}
