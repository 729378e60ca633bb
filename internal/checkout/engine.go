// Package checkout turns a cart, or an explicit list of line items, into a
// committed order. Re-validation, pricing, order creation, stock decrement and
// cart cleanup happen in a single database transaction.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/metrics"
	"github.com/Keoroanthony/go-checkout/internal/models"
	"github.com/Keoroanthony/go-checkout/internal/obs"
	"github.com/Keoroanthony/go-checkout/internal/ordernum"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
)

const opCheckout = "checkout"

type PolicySource interface {
	Policy(ctx context.Context) (pricing.Policy, error)
}

type NumberGenerator interface {
	Next() string
}

type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, order *models.Order) error
}

type Notifier interface {
	OrderPlaced(ctx context.Context, order *models.Order) error
}

type EventSink interface {
	OrderCreated(ctx context.Context, order *models.Order) error
}

type Options struct {
	TxTimeout           time.Duration
	OrderNumberAttempts int
	IdempotencyTTL      time.Duration
	CalloutTimeout      time.Duration
}

func (o *Options) applyDefaults() {
	if o.TxTimeout <= 0 {
		o.TxTimeout = 5 * time.Second
	}
	if o.OrderNumberAttempts <= 0 {
		o.OrderNumberAttempts = 3
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = 24 * time.Hour
	}
	if o.CalloutTimeout <= 0 {
		o.CalloutTimeout = 10 * time.Second
	}
}

type Option func(*Engine)

func WithOrderNumbers(g NumberGenerator) Option {
	return func(e *Engine) { e.numbers = g }
}

func WithPayments(p PaymentInitiator) Option {
	return func(e *Engine) { e.payments = p }
}

func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithEvents(s EventSink) Option {
	return func(e *Engine) { e.events = s }
}

func WithMetrics(m *metrics.CheckoutMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

type Engine struct {
	db       *gorm.DB
	policy   PolicySource
	opts     Options
	numbers  NumberGenerator
	payments PaymentInitiator
	notifier Notifier
	events   EventSink
	metrics  *metrics.CheckoutMetrics
	log      *slog.Logger
	validate *validator.Validate
	now      func() time.Time
	wg       sync.WaitGroup
}

func NewEngine(conn *gorm.DB, policy PolicySource, opts Options, options ...Option) *Engine {
	opts.applyDefaults()
	e := &Engine{
		db:       conn,
		policy:   policy,
		opts:     opts,
		numbers:  ordernum.New(),
		log:      obs.Logger,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Result is a committed order plus whether it came from an earlier request
// with the same idempotency key.
type Result struct {
	Order    *models.Order
	Replayed bool
}

func (e *Engine) Checkout(ctx context.Context, req Request) (*models.Order, error) {
	res, err := e.Commit(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.Order, nil
}

// Commit runs the checkout and reports replays. Post-commit call-outs are
// started only for newly created orders.
func (e *Engine) Commit(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := e.commit(ctx, req)
	e.observe(start, res, err)
	if err != nil {
		return nil, err
	}
	if !res.Replayed {
		e.afterCommit(res.Order)
	}
	return res, nil
}

// Wait blocks until every post-commit call-out has finished.
func (e *Engine) Wait() {
	e.wg.Wait()
}

var errIdempotencyRace = errors.New("idempotency key claimed by a concurrent checkout")

func (e *Engine) commit(ctx context.Context, req Request) (*Result, error) {
	if err := validateRequest(e.validate, &req); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 && req.CustomerID == nil && req.SessionID == "" {
		return nil, &errs.EmptyCartError{}
	}

	if req.IdempotencyKey != "" {
		order, err := e.replay(ctx, req)
		if err != nil {
			return nil, db.Translate(err, opCheckout)
		}
		if order != nil {
			return &Result{Order: order, Replayed: true}, nil
		}
	}

	policy, err := e.policy.Policy(ctx)
	if err != nil {
		return nil, db.Translate(err, opCheckout)
	}

	txCtx, cancel := context.WithTimeout(ctx, e.opts.TxTimeout)
	defer cancel()

	var order *models.Order
	err = e.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = e.placeOrder(tx, req, policy)
		return err
	})
	switch {
	case err == nil:
		return &Result{Order: order}, nil
	case errors.Is(err, errIdempotencyRace):
		existing, rerr := e.replay(ctx, req)
		if rerr != nil {
			return nil, db.Translate(rerr, opCheckout)
		}
		if existing == nil {
			return nil, &errs.TransientError{Op: opCheckout, Err: err}
		}
		return &Result{Order: existing, Replayed: true}, nil
	case !errs.IsDomain(err) && txCtx.Err() != nil:
		return nil, &errs.TransientError{Op: opCheckout, Err: txCtx.Err()}
	}
	return nil, db.Translate(err, opCheckout)
}

type line struct {
	ProductID uint
	Quantity  int
	Name      string
}

func (e *Engine) placeOrder(tx *gorm.DB, req Request, policy pricing.Policy) (*models.Order, error) {
	lines, cartIDs, err := resolveLines(tx, req)
	if err != nil {
		return nil, err
	}

	products := make([]models.Product, len(lines))
	for i, l := range lines {
		p, err := lockProduct(tx, l.ProductID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.ProductUnavailableError{ProductName: l.Name}
		}
		if err != nil {
			return nil, err
		}
		if p.Status != models.ProductStatusActive {
			return nil, &errs.ProductUnavailableError{ProductName: p.Name}
		}
		if p.Stock < l.Quantity {
			return nil, &errs.InsufficientStockError{ProductName: p.Name, Available: p.Stock}
		}
		products[i] = p
	}

	priced := make([]pricing.Line, len(lines))
	for i, l := range lines {
		priced[i] = pricing.Line{Quantity: l.Quantity, UnitPrice: products[i].Price}
	}
	breakdown := pricing.Price(priced, policy)

	order := &models.Order{
		CustomerID:      req.CustomerID,
		ContactEmail:    req.ContactEmail,
		Status:          models.OrderStatusPending,
		PaymentStatus:   models.PaymentStatusPending,
		PaymentMethod:   req.PaymentMethod,
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		Subtotal:        breakdown.Subtotal,
		TaxAmount:       breakdown.TaxAmount,
		ShippingAmount:  breakdown.ShippingAmount,
		Total:           breakdown.Total,
	}
	if req.ContactPhone != "" {
		phone := req.ContactPhone
		order.ContactPhone = &phone
	}
	if err := e.insertOrder(tx, order); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if err := e.claimKey(tx, req, order.ID); err != nil {
			return nil, err
		}
	}

	items := make([]models.OrderItem, len(lines))
	for i, l := range lines {
		items[i] = models.OrderItem{
			OrderID:     order.ID,
			ProductID:   products[i].ID,
			ProductName: products[i].Name,
			Quantity:    l.Quantity,
			UnitPrice:   pricing.Round2(products[i].Price),
			LineTotal:   breakdown.LineTotals[i],
		}
	}
	if err := tx.Create(&items).Error; err != nil {
		return nil, fmt.Errorf("insert order items: %w", err)
	}

	for i, l := range lines {
		if err := decrementStock(tx, products[i], l.Quantity); err != nil {
			return nil, err
		}
	}

	if err := clearCart(tx, req, cartIDs, lines); err != nil {
		return nil, err
	}

	order.Items = items
	return order, nil
}

// resolveLines returns the purchase lines sorted by product id so that
// concurrent checkouts lock product rows in the same order.
func resolveLines(tx *gorm.DB, req Request) ([]line, []uint, error) {
	merged := make(map[uint]*line)
	var cartIDs []uint

	if len(req.Items) > 0 {
		for _, it := range req.Items {
			if l, ok := merged[it.ProductID]; ok {
				l.Quantity += it.Quantity
				continue
			}
			merged[it.ProductID] = &line{ProductID: it.ProductID, Quantity: it.Quantity, Name: productLabel(it.ProductID)}
		}
	} else {
		var cart []models.CartItem
		if err := tx.Scopes(cartOwner(req)).Preload("Product").Order("id").Find(&cart).Error; err != nil {
			return nil, nil, fmt.Errorf("load cart: %w", err)
		}
		for _, c := range cart {
			cartIDs = append(cartIDs, c.ID)
			if l, ok := merged[c.ProductID]; ok {
				l.Quantity += c.Quantity
				continue
			}
			name := c.Product.Name
			if name == "" {
				name = productLabel(c.ProductID)
			}
			merged[c.ProductID] = &line{ProductID: c.ProductID, Quantity: c.Quantity, Name: name}
		}
	}

	if len(merged) == 0 {
		return nil, nil, &errs.EmptyCartError{}
	}
	lines := make([]line, 0, len(merged))
	for _, l := range merged {
		lines = append(lines, *l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, cartIDs, nil
}

func productLabel(id uint) string {
	return fmt.Sprintf("product #%d", id)
}

// cartOwner scopes cart rows to the customer, or to the guest session when
// there is no customer.
func cartOwner(req Request) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if req.CustomerID != nil {
			return q.Where("customer_id = ?", *req.CustomerID)
		}
		return q.Where("customer_id IS NULL AND session_id = ?", req.SessionID)
	}
}

func hasOwner(req Request) bool {
	return req.CustomerID != nil || req.SessionID != ""
}

func lockProduct(tx *gorm.DB, id uint) (models.Product, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var p models.Product
	err := q.First(&p, id).Error
	return p, err
}

// insertOrder assigns an order number and inserts the order, drawing a fresh
// number on a uniqueness collision. Each attempt runs in a savepoint so a
// failed insert leaves the outer transaction usable.
func (e *Engine) insertOrder(tx *gorm.DB, order *models.Order) error {
	var collision error
	for attempt := 1; attempt <= e.opts.OrderNumberAttempts; attempt++ {
		order.ID = 0
		order.OrderNumber = e.numbers.Next()
		err := tx.Transaction(func(sp *gorm.DB) error {
			return sp.Omit("Items").Create(order).Error
		})
		if err == nil {
			return nil
		}
		if !db.IsUniqueViolation(err) {
			return fmt.Errorf("insert order: %w", err)
		}
		collision = &errs.OrderNumberCollisionError{OrderNumber: order.OrderNumber}
		e.log.Warn("order_number_collision", "order_number", order.OrderNumber, "attempt", attempt)
	}
	return &errs.TransientError{Op: opCheckout, Err: collision}
}

func (e *Engine) claimKey(tx *gorm.DB, req Request, orderID uint) error {
	now := e.now()
	owner := keyOwner(req)
	if err := tx.Where("owner = ? AND idempotency_key = ? AND expires_at <= ?", owner, req.IdempotencyKey, now).
		Delete(&models.IdempotencyKey{}).Error; err != nil {
		return fmt.Errorf("purge expired idempotency key: %w", err)
	}
	key := models.IdempotencyKey{
		Owner:       owner,
		Key:         req.IdempotencyKey,
		RequestHash: fingerprint(req),
		OrderID:     orderID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.opts.IdempotencyTTL),
	}
	err := tx.Transaction(func(sp *gorm.DB) error {
		return sp.Create(&key).Error
	})
	if db.IsUniqueViolation(err) {
		return errIdempotencyRace
	}
	if err != nil {
		return fmt.Errorf("store idempotency key: %w", err)
	}
	return nil
}

// replay returns the order an earlier request from the same owner produced
// with this key, or nil when the key is unused or expired.
func (e *Engine) replay(ctx context.Context, req Request) (*models.Order, error) {
	var k models.IdempotencyKey
	err := e.db.WithContext(ctx).
		Where("owner = ? AND idempotency_key = ? AND expires_at > ?", keyOwner(req), req.IdempotencyKey, e.now()).
		First(&k).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if k.RequestHash != fingerprint(req) {
		return nil, &errs.IdempotencyKeyReuseError{Key: req.IdempotencyKey}
	}

	var order models.Order
	err = e.db.WithContext(ctx).
		Preload("Items", func(q *gorm.DB) *gorm.DB { return q.Order("id") }).
		First(&order, k.OrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// decrementStock only succeeds while enough stock remains, which keeps stock
// non-negative even on databases without row locks.
func decrementStock(tx *gorm.DB, p models.Product, qty int) error {
	res := tx.Model(&models.Product{}).
		Where("id = ? AND stock >= ?", p.ID, qty).
		Updates(map[string]any{
			"stock":       gorm.Expr("stock - ?", qty),
			"sales_count": gorm.Expr("sales_count + ?", qty),
		})
	if res.Error != nil {
		return fmt.Errorf("decrement stock: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var current models.Product
	if err := tx.Select("stock").First(&current, p.ID).Error; err != nil {
		return fmt.Errorf("reload stock: %w", err)
	}
	return &errs.InsufficientStockError{ProductName: p.Name, Available: current.Stock}
}

// clearCart removes what was bought from the owner's cart. A cart checkout
// consumes every row it read. An explicit-items checkout takes the bought
// quantity off the matching rows and deletes rows that drop to zero.
func clearCart(tx *gorm.DB, req Request, cartIDs []uint, lines []line) error {
	if len(cartIDs) > 0 {
		if err := tx.Where("id IN ?", cartIDs).Delete(&models.CartItem{}).Error; err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		return nil
	}
	if !hasOwner(req) {
		return nil
	}
	for _, l := range lines {
		err := tx.Scopes(cartOwner(req)).
			Where("product_id = ? AND quantity <= ?", l.ProductID, l.Quantity).
			Delete(&models.CartItem{}).Error
		if err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}
		err = tx.Model(&models.CartItem{}).Scopes(cartOwner(req)).
			Where("product_id = ? AND quantity > ?", l.ProductID, l.Quantity).
			Update("quantity", gorm.Expr("quantity - ?", l.Quantity)).Error
		if err != nil {
			return fmt.Errorf("reduce cart quantity: %w", err)
		}
	}
	return nil
}

func (e *Engine) afterCommit(order *models.Order) {
	if e.payments == nil && e.notifier == nil && e.events == nil {
		return
	}
	snapshot := *order

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.CalloutTimeout)
		defer cancel()

		log := e.log.With("order_id", snapshot.ID, "order_number", snapshot.OrderNumber)
		if e.events != nil {
			if err := e.events.OrderCreated(ctx, &snapshot); err != nil {
				log.Error("order_event_failed", "error", err)
			}
		}
		if e.payments != nil {
			if err := e.payments.InitiatePayment(ctx, &snapshot); err != nil {
				log.Error("payment_initiation_failed", "error", err)
			}
		}
		if e.notifier != nil {
			if err := e.notifier.OrderPlaced(ctx, &snapshot); err != nil {
				log.Warn("order_notification_failed", "error", err)
			}
		}
	}()
}

func (e *Engine) observe(start time.Time, res *Result, err error) {
	elapsed := time.Since(start)
	outcome := outcomeOf(res, err)

	if e.metrics != nil {
		e.metrics.Outcomes.WithLabelValues(outcome).Inc()
		e.metrics.DurationMS.Observe(float64(elapsed.Milliseconds()))
	}

	switch {
	case err == nil:
		e.log.Info("checkout_committed",
			"order_number", res.Order.OrderNumber,
			"total", res.Order.Total.StringFixed(2),
			"guest", res.Order.CustomerID == nil,
			"replayed", res.Replayed,
			"duration_ms", elapsed.Milliseconds(),
		)
	case outcome == "transient" || outcome == "error":
		e.log.Error("checkout_failed", "outcome", outcome, "error", err, "cause", errors.Unwrap(err), "duration_ms", elapsed.Milliseconds())
	default:
		e.log.Info("checkout_rejected", "outcome", outcome, "error", err.Error())
	}
}

func outcomeOf(res *Result, err error) string {
	var (
		ve *errs.ValidationError
		ec *errs.EmptyCartError
		pu *errs.ProductUnavailableError
		is *errs.InsufficientStockError
		ir *errs.IdempotencyKeyReuseError
	)
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil:
		return "success"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ec):
		return "empty_cart"
	case errors.As(err, &pu):
		return "unavailable"
	case errors.As(err, &is):
		return "insufficient_stock"
	case errors.As(err, &ir):
		return "idempotency_conflict"
	case errs.IsTransient(err):
		return "transient"
	}
	return "error"
}
