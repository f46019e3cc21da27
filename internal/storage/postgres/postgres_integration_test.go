//go:build integration

package postgres

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:17-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "checkout",
				"POSTGRES_PASSWORD": "checkout",
				"POSTGRES_DB":       "checkout",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(context.Background()); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		log.Fatalf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://checkout:checkout@%s:%s/checkout?sslmode=disable", host, port.Port())
	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		log.Fatalf("pool: %v", err)
	}
	defer testPool.Close()

	if err := RunMigrations(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}
	if err := seedCatalog(ctx); err != nil {
		log.Fatalf("seed: %v", err)
	}

	return m.Run()
}

func seedCatalog(ctx context.Context) error {
	_, err := testPool.Exec(ctx, `
		INSERT INTO products (id, name) VALUES ('tee', 'Tee'), ('cap', 'Cap');
		INSERT INTO product_sizes (product_id, color, size, sku, price, sale_price, units) VALUES
			('tee', 'black', 'M', 'TEE-BLK-M', 500, 0, 5),
			('tee', 'black', 'L', 'TEE-BLK-L', 500, 400, 2),
			('cap', 'red', 'OS', 'CAP-RED-OS', 300, 0, 3);
		INSERT INTO orders (id, user_id, status, payment_method, grand_total, lines, breakdown, address,
			refund, created_at, updated_at)
		VALUES ('payout-order', 'u', 'cancelled', 'cod', 0, '[]', '{}', '{}', '{}', now(), now());`)
	return err
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestProductRepository_Facts(t *testing.T) {
	repo := NewProductRepository(testPool)
	c, err := repo.Facts(context.Background(), []product.Key{
		{ProductID: "tee", Color: "black", Size: "L"},
		{ProductID: "cap", Color: "red", Size: "OS"},
		{ProductID: "tee", Color: "white", Size: "M"},
	})
	require.NoError(t, err)

	f, ok := c.Lookup(product.Key{ProductID: "tee", Color: "black", Size: "L"})
	require.True(t, ok)
	assert.Equal(t, "TEE-BLK-L", f.SKU)
	assert.Equal(t, "Tee", f.Name)
	assert.True(t, dec("400").Equal(f.UnitPrice()))
	assert.Equal(t, 2, f.Stock)

	_, ok = c.Lookup(product.Key{ProductID: "tee", Color: "black", Size: "M"})
	assert.False(t, ok, "unrequested keys are not loaded")
	_, ok = c.Lookup(product.Key{ProductID: "tee", Color: "white", Size: "M"})
	assert.False(t, ok)
}

func TestProductRepository_UpsertSize(t *testing.T) {
	repo := NewProductRepository(testPool)
	ctx := context.Background()
	key := product.Key{ProductID: "hoodie", Color: "grey", Size: "XL"}

	require.NoError(t, repo.UpsertSize(ctx, key, product.SizeFacts{
		SKU: "HOOD-GRY-XL", Name: "Hoodie", Price: dec("1500"), Stock: 4,
	}))
	require.NoError(t, repo.UpsertSize(ctx, key, product.SizeFacts{
		SKU: "HOOD-GRY-XL", Name: "Zip Hoodie", Price: dec("1500"), SalePrice: dec("1200"), Stock: 6,
	}))

	c, err := repo.Facts(ctx, []product.Key{key})
	require.NoError(t, err)
	f, ok := c.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "Zip Hoodie", f.Name)
	assert.True(t, dec("1200").Equal(f.UnitPrice()))
	assert.Equal(t, 6, f.Stock)
}

func TestStockStore_DecrementFloor(t *testing.T) {
	store := NewStockStore(testPool)
	ctx := context.Background()
	key := product.Key{ProductID: "cap", Color: "red", Size: "OS"}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.DecrementFloor(ctx, key, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	left, err := store.DecrementFloor(ctx, key, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, left)

	_, err = store.DecrementFloor(ctx, product.Key{ProductID: "cap", Color: "blue", Size: "OS"}, 1)
	require.ErrorIs(t, err, product.ErrNotFound)
}

func TestCouponRepository(t *testing.T) {
	repo := NewCouponRepository(testPool)
	ctx := context.Background()
	limit := 1

	require.NoError(t, repo.Create(ctx, coupon.Rule{
		Code:       "once10",
		Kind:       coupon.KindPercentage,
		Value:      dec("10"),
		UsageLimit: &limit,
		Active:     true,
		SKUs:       []string{"TEE-BLK-M"},
	}))
	require.ErrorIs(t, repo.Create(ctx, coupon.Rule{Code: "ONCE10", Kind: coupon.KindFixed, Value: dec("1"), Active: true}), coupon.ErrDuplicateCode)

	rule, err := repo.FindByCode(ctx, "Once10")
	require.NoError(t, err)
	assert.Equal(t, "ONCE10", rule.Code)
	assert.Equal(t, coupon.KindPercentage, rule.Kind)
	require.NotNil(t, rule.UsageLimit)
	assert.Equal(t, 1, *rule.UsageLimit)
	assert.Equal(t, []string{"TEE-BLK-M"}, rule.SKUs)

	_, err = repo.FindByCode(ctx, "MISSING")
	require.ErrorIs(t, err, coupon.ErrInvalidCoupon)

	ok, err := repo.RecordUse(ctx, coupon.Use{Code: "ONCE10", UserID: "u1", OrderID: "o1"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.RecordUse(ctx, coupon.Use{Code: "ONCE10", UserID: "u1", OrderID: "o1"})
	require.NoError(t, err)
	assert.False(t, ok, "same order redeems once")

	_, err = repo.RecordUse(ctx, coupon.Use{Code: "ONCE10", UserID: "u2", OrderID: "o2"})
	require.ErrorIs(t, err, coupon.ErrCouponExhausted)

	n, err := repo.CountUserUses(ctx, "once10", "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = repo.CountUserUses(ctx, "once10", "u2")
	require.NoError(t, err)
	assert.Equal(t, 0, n, "exhausted redemption rolled back")
}

func TestCouponRepository_CreateBatch(t *testing.T) {
	repo := NewCouponRepository(testPool)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, coupon.Rule{
		Code: "BULK1", Kind: coupon.KindFixed, Value: dec("10"), Active: true,
	}))

	inserted, err := repo.CreateBatch(ctx, []coupon.Rule{
		{Code: "bulk1", Kind: coupon.KindFixed, Value: dec("99"), Active: true},
		{Code: "bulk2", Kind: coupon.KindPercentage, Value: dec("5"), Active: true},
		{Code: "bulk3", Kind: coupon.KindPercentage, Value: dec("7.5"), Active: true, SKUs: []string{"TEE-BLK-L"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, inserted)

	existing, err := repo.FindByCode(ctx, "BULK1")
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(existing.Value), "existing code is kept")

	bulk3, err := repo.FindByCode(ctx, "bulk3")
	require.NoError(t, err)
	assert.Equal(t, []string{"TEE-BLK-L"}, bulk3.SKUs)
}

func TestOrderRepository(t *testing.T) {
	repo := NewOrderRepository(testPool)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	o := &order.Order{
		ID:             "ord-int-1",
		UserID:         "u1",
		Email:          "u1@shop.test",
		PaymentMethod:  payment.MethodStripe,
		PaymentSession: "cs_int_1",
		Status:         order.StatusAwaitingPayment,
		Lines: []pricing.PricedLine{{
			Line:      pricing.Line{ProductID: "tee", Color: "black", Size: "M", Quantity: 1},
			SKU:       "TEE-BLK-M",
			Name:      "Tee",
			UnitPrice: dec("500"),
			SalePrice: dec("500"),
		}},
		Breakdown:  pricing.Breakdown{Subtotal: dec("500"), Shipping: dec("80"), GrandTotal: dec("580")},
		Address:    shipment.Address{Name: "Asha", City: "Pune", Pincode: "411001"},
		Refundable: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Create(ctx, o))
	assert.Equal(t, 1, o.Version)

	got, err := repo.GetBySession(ctx, "cs_int_1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.True(t, dec("580").Equal(got.Breakdown.GrandTotal))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "TEE-BLK-M", got.Lines[0].SKU)
	assert.Nil(t, got.Shipment)

	got.Status = order.StatusConfirmed
	got.PaymentConfirmed = true
	got.PaymentRef = "pi_1"
	got.Shipment = &shipment.Shipment{ShipmentID: "43210", Status: shipment.StatusNew, UpdatedAt: now}
	got.Refund = refund.Record{Status: refund.StatusNone}
	require.NoError(t, repo.Update(ctx, got))
	assert.Equal(t, 2, got.Version)

	stale := *o
	stale.Status = order.StatusFailed
	require.ErrorIs(t, repo.Update(ctx, &stale), order.ErrConflict)

	reloaded, err := repo.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, reloaded.Status)
	assert.Equal(t, "pi_1", reloaded.PaymentRef)
	require.NotNil(t, reloaded.Shipment)
	assert.Equal(t, "43210", reloaded.Shipment.ShipmentID)

	_, err = repo.Get(ctx, "missing")
	require.ErrorIs(t, err, order.ErrNotFound)
}

func TestPayoutRepository(t *testing.T) {
	repo := NewPayoutRepository(testPool)
	err := repo.RecordPayout(context.Background(), refund.Payout{
		Reference: "01JPAYOUT",
		OrderID:   "payout-order",
		Amount:    dec("950"),
		Details:   refund.PayoutDetails{UPIID: "asha@upi"},
		CreatedAt: time.Now(),
	})
	require.NoError(t, err)

	var details string
	require.NoError(t, testPool.QueryRow(context.Background(),
		`SELECT details->>'upi_id' FROM manual_payouts WHERE reference = $1`, "01JPAYOUT").Scan(&details))
	assert.Equal(t, "asha@upi", details)
}

func TestMembershipRepository(t *testing.T) {
	repo := NewMembershipRepository(testPool, 30*24*time.Hour)
	ctx := context.Background()

	ok, err := repo.IsMember(ctx, "member-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Activate(ctx, "member-1", "ord-m1"))
	require.NoError(t, repo.Activate(ctx, "member-1", "ord-m1"))

	ok, err = repo.IsMember(ctx, "member-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAPIKeyRepository(t *testing.T) {
	repo := NewAPIKeyRepository(testPool)
	ctx := context.Background()
	hash := auth.HashKey([]byte("pepper"), "raw-key")

	require.NoError(t, repo.Save(ctx, auth.APIKeyInfo{ID: "k1", KeyHash: hash, Name: "carrier", Scopes: []string{auth.ScopeCarrierWebhook}}))

	info, err := repo.FindByHash(ctx, hash)
	require.NoError(t, err)
	assert.True(t, info.HasScope(auth.ScopeCarrierWebhook))

	_, err = repo.FindByHash(ctx, "nope")
	require.ErrorIs(t, err, auth.ErrUnknownKey)
}
