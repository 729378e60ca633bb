package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/errs"
	"github.com/Keoroanthony/go-checkout/internal/metrics"
	"github.com/Keoroanthony/go-checkout/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	testDB, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), db.NewConfig("silent"))
	require.NoError(t, err)
	sqlDB, err := testDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.Migrate(testDB))
	return testDB
}

type orderSeed struct {
	number   string
	email    string
	name     string
	total    string
	status   models.OrderStatus
	payment  models.PaymentStatus
	customer *uint
	created  time.Time
}

func seedOrder(t *testing.T, conn *gorm.DB, s orderSeed, items ...models.OrderItem) models.Order {
	if s.status == "" {
		s.status = models.OrderStatusPending
	}
	if s.payment == "" {
		s.payment = models.PaymentStatusPending
	}
	if s.total == "" {
		s.total = "10.00"
	}
	if s.created.IsZero() {
		s.created = time.Now().UTC()
	}
	total := decimal.RequireFromString(s.total)
	o := models.Order{
		OrderNumber:     s.number,
		CustomerID:      s.customer,
		ContactEmail:    s.email,
		Status:          s.status,
		PaymentStatus:   s.payment,
		PaymentMethod:   models.PaymentMethodCard,
		BillingAddress:  models.Address{FullName: s.name, City: "Nairobi"},
		ShippingAddress: models.Address{FullName: s.name, City: "Nairobi"},
		Subtotal:        total,
		TaxAmount:       decimal.Zero,
		ShippingAmount:  decimal.Zero,
		Total:           total,
		CreatedAt:       s.created,
		Items:           items,
	}
	require.NoError(t, conn.Create(&o).Error)
	return o
}

func seedProduct(t *testing.T, conn *gorm.DB, stock, sold int) models.Product {
	p := models.Product{Name: "Lantern", Price: decimal.RequireFromString("5.00"), Stock: stock, SalesCount: sold, Status: models.ProductStatusActive}
	require.NoError(t, conn.Create(&p).Error)
	return p
}

func strPtr(s string) *string { return &s }

func TestListOrders(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	alice := uint(1)

	seedOrder(t, conn, orderSeed{number: "ORD-000000001", email: "alice@example.com", name: "Alice Mwangi", total: "50.00", customer: &alice, created: base})
	seedOrder(t, conn, orderSeed{number: "ORD-000000002", email: "bob@example.com", name: "Bob Otieno", total: "20.00", status: models.OrderStatusShipped, payment: models.PaymentStatusPaid, created: base.Add(time.Hour)})
	seedOrder(t, conn, orderSeed{number: "ORD-000000003", email: "carol@example.com", name: "Carol Alison", total: "90.00", customer: &alice, created: base.Add(2 * time.Hour)})

	t.Run("Newest first when descending", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{Desc: true})
		require.NoError(t, err)
		require.Len(t, page.Orders, 3)
		assert.Equal(t, int64(3), page.Total)
		assert.Equal(t, DefaultPageSize, page.PageSize)
		assert.Equal(t, "ORD-000000003", page.Orders[0].OrderNumber)
	})

	t.Run("Filter by status", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{Status: models.OrderStatusShipped})
		require.NoError(t, err)
		require.Len(t, page.Orders, 1)
		assert.Equal(t, "ORD-000000002", page.Orders[0].OrderNumber)
	})

	t.Run("Filter by payment status", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{PaymentStatus: models.PaymentStatusPending})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)
	})

	t.Run("Filter by customer", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{CustomerID: &alice})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total)
	})

	t.Run("Search is case-insensitive across name, email and number", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{Search: "ALI"})
		require.NoError(t, err)
		assert.Equal(t, int64(2), page.Total, "Alice by name and email, Carol by surname")

		page, err = svc.List(ctx, Filter{Search: "bob@"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), page.Total)

		page, err = svc.List(ctx, Filter{Search: "000000003"})
		require.NoError(t, err)
		require.Len(t, page.Orders, 1)
		assert.Equal(t, "carol@example.com", page.Orders[0].ContactEmail)
	})

	t.Run("Sort by total ascending", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{Sort: "total"})
		require.NoError(t, err)
		require.Len(t, page.Orders, 3)
		assert.Equal(t, "ORD-000000002", page.Orders[0].OrderNumber)
		assert.Equal(t, "ORD-000000003", page.Orders[2].OrderNumber)
	})

	t.Run("Pagination", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{Page: 2, PageSize: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), page.Total)
		require.Len(t, page.Orders, 1)
		assert.Equal(t, "ORD-000000003", page.Orders[0].OrderNumber)

		page, err = svc.List(ctx, Filter{PageSize: 1000})
		require.NoError(t, err)
		assert.Equal(t, MaxPageSize, page.PageSize)
	})

	t.Run("Rejects unknown sort and status", func(t *testing.T) {
		_, err := svc.List(ctx, Filter{Sort: "name"})
		var ve *errs.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "sort", ve.Field)

		_, err = svc.List(ctx, Filter{Status: "lost"})
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "status", ve.Field)
	})

	t.Run("Empty result is an empty slice", func(t *testing.T) {
		page, err := svc.List(ctx, Filter{Search: "nobody"})
		require.NoError(t, err)
		assert.NotNil(t, page.Orders)
		assert.Empty(t, page.Orders)
	})
}

func TestListOrdersSearchIsLiteral(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	ctx := context.Background()

	seedOrder(t, conn, orderSeed{number: "ORD-000000011", email: "jo_ann@example.com", name: "Jo Ann"})
	seedOrder(t, conn, orderSeed{number: "ORD-000000012", email: "joxann@example.com", name: "Jox Ann"})

	page, err := svc.List(ctx, Filter{Search: "jo_a"})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, "jo_ann@example.com", page.Orders[0].ContactEmail)

	for _, search := range []string{"%", "_", `\`} {
		page, err = svc.List(ctx, Filter{Search: search})
		require.NoError(t, err)
		assert.Zero(t, page.Total, search)
	}
}

func TestGetOrder(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	ctx := context.Background()
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000010", email: "a@example.com", name: "A"},
		models.OrderItem{ProductID: 1, ProductName: "Lantern", Quantity: 1, UnitPrice: decimal.RequireFromString("10"), LineTotal: decimal.RequireFromString("10")})

	got, err := svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)

	got, err = svc.GetByNumber(ctx, "ORD-000000010")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = svc.Get(ctx, 999)
	var nf *errs.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "999", nf.ID)

	_, err = svc.GetByNumber(ctx, "ORD-999999999")
	assert.ErrorAs(t, err, &nf)
}

func TestUpdateStatusTimestamps(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	ctx := context.Background()
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000020", email: "a@example.com", name: "A"})

	shippedAt := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return shippedAt }
	got, err := svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusShipped, TrackingNumber: strPtr(" TRK-1 ")})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)
	require.NotNil(t, got.ShippedAt)
	assert.True(t, got.ShippedAt.Equal(shippedAt))
	assert.Equal(t, "TRK-1", *got.TrackingNumber)
	assert.Nil(t, got.DeliveredAt)

	svc.now = func() time.Time { return shippedAt.Add(time.Hour) }
	got, err = svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusShipped})
	require.NoError(t, err)
	assert.True(t, got.ShippedAt.Equal(shippedAt), "re-entering shipped keeps the first timestamp")

	deliveredAt := shippedAt.Add(48 * time.Hour)
	svc.now = func() time.Time { return deliveredAt }
	got, err = svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusDelivered, Notes: strPtr("left at door")})
	require.NoError(t, err)
	require.NotNil(t, got.DeliveredAt)
	assert.True(t, got.DeliveredAt.Equal(deliveredAt))
	assert.True(t, got.ShippedAt.Equal(shippedAt))
	assert.Equal(t, "left at door", got.Notes)
}

func TestUpdateStatusSkipToDeliveredStampsShipped(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000021", email: "a@example.com", name: "A", status: models.OrderStatusProcessing})

	got, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusDelivered})
	require.NoError(t, err)
	assert.NotNil(t, got.ShippedAt)
	assert.NotNil(t, got.DeliveredAt)
}

func TestUpdateStatusTransitions(t *testing.T) {
	cases := []struct {
		name    string
		from    models.OrderStatus
		payment models.PaymentStatus
		to      models.OrderStatus
		ok      bool
	}{
		{"pending to processing", models.OrderStatusPending, "", models.OrderStatusProcessing, true},
		{"pending to shipped skips processing", models.OrderStatusPending, "", models.OrderStatusShipped, true},
		{"shipped back to processing", models.OrderStatusShipped, "", models.OrderStatusProcessing, false},
		{"delivered back to pending", models.OrderStatusDelivered, "", models.OrderStatusPending, false},
		{"cancel processing", models.OrderStatusProcessing, "", models.OrderStatusCancelled, true},
		{"cancel shipped", models.OrderStatusShipped, "", models.OrderStatusCancelled, false},
		{"cancelled to processing", models.OrderStatusCancelled, "", models.OrderStatusProcessing, false},
		{"refund unpaid", models.OrderStatusDelivered, models.PaymentStatusPending, models.OrderStatusRefunded, false},
		{"refund paid", models.OrderStatusDelivered, models.PaymentStatusPaid, models.OrderStatusRefunded, true},
		{"refunded to shipped", models.OrderStatusRefunded, models.PaymentStatusRefunded, models.OrderStatusShipped, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := setupTestDB(t)
			svc := NewService(conn, Options{})
			o := seedOrder(t, conn, orderSeed{number: "ORD-000000030", email: "a@example.com", name: "A", status: tc.from, payment: tc.payment})

			got, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: tc.to})
			if tc.ok {
				require.NoError(t, err)
				assert.Equal(t, tc.to, got.Status)
				return
			}
			var it *errs.InvalidTransitionError
			require.ErrorAs(t, err, &it)
			assert.Equal(t, string(tc.from), it.From)
			assert.Equal(t, string(tc.to), it.To)

			var stored models.Order
			require.NoError(t, conn.First(&stored, o.ID).Error)
			assert.Equal(t, tc.from, stored.Status)
		})
	}
}

func TestUpdateStatusRefundMarksPayment(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000031", email: "a@example.com", name: "A", status: models.OrderStatusShipped, payment: models.PaymentStatusPaid})

	got, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusRefunded})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, got.PaymentStatus)
}

func TestUpdateStatusForce(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000032", email: "a@example.com", name: "A", status: models.OrderStatusDelivered})

	got, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusProcessing, Force: true})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusProcessing, got.Status)
}

func TestUpdateStatusCancelRestock(t *testing.T) {
	for _, restockOn := range []bool{true, false} {
		name := "Restock disabled"
		if restockOn {
			name = "Restock enabled"
		}
		t.Run(name, func(t *testing.T) {
			conn := setupTestDB(t)
			svc := NewService(conn, Options{RestockOnCancel: restockOn})
			p := seedProduct(t, conn, 3, 2)
			o := seedOrder(t, conn, orderSeed{number: "ORD-000000040", email: "a@example.com", name: "A"},
				models.OrderItem{ProductID: p.ID, ProductName: p.Name, Quantity: 2, UnitPrice: p.Price, LineTotal: decimal.RequireFromString("10.00")})

			_, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusCancelled})
			require.NoError(t, err)

			var after models.Product
			require.NoError(t, conn.First(&after, p.ID).Error)
			if restockOn {
				assert.Equal(t, 5, after.Stock)
				assert.Equal(t, 0, after.SalesCount)
			} else {
				assert.Equal(t, 3, after.Stock)
				assert.Equal(t, 2, after.SalesCount)
			}

			_, err = svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusCancelled})
			require.NoError(t, err)
			var again models.Product
			require.NoError(t, conn.First(&again, p.ID).Error)
			assert.Equal(t, after.Stock, again.Stock, "cancelling twice never restocks twice")
		})
	}
}

func reloadStock(t *testing.T, conn *gorm.DB, id uint) int {
	var p models.Product
	require.NoError(t, conn.First(&p, id).Error)
	return p.Stock
}

func TestForcedReviveReservesStockAgain(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{RestockOnCancel: true})
	ctx := context.Background()
	p := seedProduct(t, conn, 3, 2)
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000041", email: "a@example.com", name: "A"},
		models.OrderItem{ProductID: p.ID, ProductName: p.Name, Quantity: 2, UnitPrice: p.Price, LineTotal: decimal.RequireFromString("10.00")})

	got, err := svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusCancelled})
	require.NoError(t, err)
	assert.NotNil(t, got.RestockedAt)
	assert.Equal(t, 5, reloadStock(t, conn, p.ID))

	got, err = svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusPending, Force: true})
	require.NoError(t, err)
	assert.Nil(t, got.RestockedAt)
	assert.Equal(t, 3, reloadStock(t, conn, p.ID))

	_, err = svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 5, reloadStock(t, conn, p.ID), "each cancel returns only what the order holds")

	t.Run("Revive fails when the stock is gone", func(t *testing.T) {
		require.NoError(t, conn.Model(&models.Product{}).Where("id = ?", p.ID).Update("stock", 1).Error)

		_, err := svc.UpdateStatus(ctx, StatusUpdate{OrderID: o.ID, Status: models.OrderStatusProcessing, Force: true})
		var ise *errs.InsufficientStockError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, 1, ise.Available)

		got, err := svc.Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, models.OrderStatusCancelled, got.Status)
		assert.NotNil(t, got.RestockedAt)
		assert.Equal(t, 1, reloadStock(t, conn, p.ID))
	})
}

func TestForcedCancelOfShippedGoodsDoesNotRestock(t *testing.T) {
	for _, status := range []models.OrderStatus{models.OrderStatusShipped, models.OrderStatusDelivered} {
		t.Run(string(status), func(t *testing.T) {
			conn := setupTestDB(t)
			svc := NewService(conn, Options{RestockOnCancel: true})
			p := seedProduct(t, conn, 1, 2)
			o := seedOrder(t, conn, orderSeed{number: "ORD-000000042", email: "a@example.com", name: "A", status: status},
				models.OrderItem{ProductID: p.ID, ProductName: p.Name, Quantity: 2, UnitPrice: p.Price, LineTotal: decimal.RequireFromString("10.00")})

			got, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusCancelled, Force: true})
			require.NoError(t, err)
			assert.Equal(t, models.OrderStatusCancelled, got.Status)
			assert.Nil(t, got.RestockedAt)
			assert.Equal(t, 1, reloadStock(t, conn, p.ID))
		})
	}
}

func TestUpdateStatusErrors(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})

	_, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: 42, Status: models.OrderStatusShipped})
	var nf *errs.NotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: 42, Status: "teleported"})
	var ve *errs.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestUpdatePaymentStatus(t *testing.T) {
	conn := setupTestDB(t)
	svc := NewService(conn, Options{})
	ctx := context.Background()
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000050", email: "a@example.com", name: "A"})

	got, err := svc.UpdatePaymentStatus(ctx, o.ID, models.PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusFailed, got.PaymentStatus)

	got, err = svc.UpdatePaymentStatus(ctx, o.ID, models.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, got.Status)

	_, err = svc.UpdatePaymentStatus(ctx, o.ID, models.PaymentStatusPending)
	var it *errs.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, "paid", it.From)

	got, err = svc.UpdatePaymentStatus(ctx, o.ID, models.PaymentStatusRefunded)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusRefunded, got.PaymentStatus)
	assert.Equal(t, models.OrderStatusRefunded, got.Status)
}

type recordingEvents struct {
	mu    sync.Mutex
	froms []models.OrderStatus
	tos   []models.OrderStatus
}

func (r *recordingEvents) StatusChanged(_ context.Context, order *models.Order, from models.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.froms = append(r.froms, from)
	r.tos = append(r.tos, order.Status)
	return nil
}

func TestStatusChangesArePublished(t *testing.T) {
	conn := setupTestDB(t)
	events := &recordingEvents{}
	reg := metrics.New()
	svc := NewService(conn, Options{}, WithEvents(events), WithMetrics(reg.Checkout))
	o := seedOrder(t, conn, orderSeed{number: "ORD-000000060", email: "a@example.com", name: "A"})

	_, err := svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusProcessing})
	require.NoError(t, err)
	_, err = svc.UpdateStatus(context.Background(), StatusUpdate{OrderID: o.ID, Status: models.OrderStatusProcessing})
	require.NoError(t, err)
	svc.Wait()

	assert.Equal(t, []models.OrderStatus{models.OrderStatusPending}, events.froms)
	assert.Equal(t, []models.OrderStatus{models.OrderStatusProcessing}, events.tos)
	assert.Equal(t, float64(1), testutil.ToFloat64(reg.Checkout.Transitions.WithLabelValues("processing")))
}
