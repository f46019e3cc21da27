package app

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/carrier"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/stock"
	"github.com/xenking/kart-checkout/internal/events"
	"github.com/xenking/kart-checkout/internal/gateway/razorpay"
	"github.com/xenking/kart-checkout/internal/gateway/stripe"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

const instrumentationName = "github.com/xenking/kart-checkout/internal/domain/order"

type services struct {
	orders  *order.Service
	coupons *coupon.Service
	stripe  *stripe.Gateway
	events  *events.Publisher
}

func (s *services) close(lg *zap.Logger) {
	if s.events == nil {
		return
	}
	if err := s.events.Close(); err != nil {
		lg.Warn("Close event publisher", zap.Error(err))
	}
}

// newServices builds the gateways, adapters and domain services. Mail and
// Kafka are optional and disabled when unconfigured.
func newServices(ctx context.Context, cfg *Config, m *app.Telemetry, pool *pgxpool.Pool, rdb redis.UniversalClient) (*services, error) {
	lg := zctx.From(ctx)

	money, err := cfg.Money()
	if err != nil {
		return nil, err
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	couponRepo := postgres.NewCouponRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	payoutRepo := postgres.NewPayoutRepository(pool)
	membershipRepo := postgres.NewMembershipRepository(pool, cfg.Membership.Duration)

	// Gateways and carrier.
	stripeGw, err := stripe.New(stripe.Config{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		SuccessURL:    cfg.Stripe.SuccessURL,
		CancelURL:     cfg.Stripe.CancelURL,
		SessionTTL:    cfg.Stripe.SessionTTL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "stripe gateway")
	}
	razorpayGw, err := razorpay.New(razorpay.Config{
		BaseURL:   cfg.Razorpay.BaseURL,
		KeyID:     cfg.Razorpay.KeyID,
		KeySecret: cfg.Razorpay.KeySecret,
		Timeout:   cfg.Timeouts.Gateway,
	}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "razorpay gateway")
	}
	carrierClient := carrier.New(carrier.Config{
		BaseURL:        cfg.Carrier.BaseURL,
		Email:          cfg.Carrier.Email,
		Password:       cfg.Carrier.Password,
		PickupLocation: cfg.Carrier.PickupLocation,
		Timeout:        cfg.Timeouts.Carrier,
	}, carrier.NewRedisTokenStore(rdb, cfg.Carrier.TokenKey), cfg.Carrier.TokenTTL, nil)

	s := &services{stripe: stripeGw}

	// Optional notification and event sinks.
	var (
		notifier  order.Notifier
		publisher order.Publisher
		alerter   stock.Alerter
	)
	if cfg.Mail.Host != "" {
		mailer, err := notify.New(notify.Config{
			Host:     cfg.Mail.Host,
			Port:     cfg.Mail.Port,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			Insecure: cfg.Mail.Insecure,
		})
		if err != nil {
			return nil, errors.Wrap(err, "mailer")
		}
		notifier = mailer
	} else {
		lg.Info("Mail host not configured, notifications disabled")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		p, err := events.New(events.Config{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			AlertTopic:   cfg.Kafka.AlertTopic,
			WriteTimeout: cfg.Kafka.Timeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "event publisher")
		}
		s.events = p
		publisher = p
		alerter = p
	} else {
		lg.Info("Kafka brokers not configured, events disabled")
	}

	// Domain services.
	s.coupons = coupon.NewService(couponRepo)
	dispatcher := refund.NewDispatcher(map[payment.Method]payment.Refunder{
		payment.MethodStripe:   stripeGw,
		payment.MethodRazorpay: razorpayGw,
	}, payoutRepo, cfg.Timeouts.Refund)

	s.orders, err = order.NewService(order.Params{
		Orders:      orderRepo,
		Catalog:     productRepo,
		Coupons:     s.coupons,
		Pricing:     pricing.NewCalculator(money.Rules),
		Stock:       stock.NewLedger(postgres.NewStockStore(pool), alerter),
		Checkout:    stripeGw,
		Intents:     razorpayGw,
		Carrier:     carrierClient,
		Refunds:     refund.NewCalculator(money.ConvenienceFee),
		Dispatcher:  dispatcher,
		Memberships: membershipRepo,
		Notifier:    notifier,
		Publisher:   publisher,
		Meter:       m.MeterProvider().Meter(instrumentationName),
		Tracer:      m.TracerProvider().Tracer(instrumentationName),
		Config: order.Config{
			Currency:        cfg.Pricing.Currency,
			GiftWrapPrice:   money.GiftWrapPrice,
			MembershipPrice: money.MembershipPrice,
			CarrierTimeout:  cfg.Timeouts.Carrier,
			GatewayTimeout:  cfg.Timeouts.Gateway,
		},
	})
	if err != nil {
		s.close(lg)
		return nil, errors.Wrap(err, "order service")
	}
	return s, nil
}
