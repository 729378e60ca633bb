package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	config "github.com/Keoroanthony/go-checkout/configs"
	"github.com/Keoroanthony/go-checkout/internal/auth"
	"github.com/Keoroanthony/go-checkout/internal/checkout"
	"github.com/Keoroanthony/go-checkout/internal/db"
	"github.com/Keoroanthony/go-checkout/internal/events"
	"github.com/Keoroanthony/go-checkout/internal/handlers"
	"github.com/Keoroanthony/go-checkout/internal/metrics"
	"github.com/Keoroanthony/go-checkout/internal/notifier"
	"github.com/Keoroanthony/go-checkout/internal/obs"
	"github.com/Keoroanthony/go-checkout/internal/orders"
	"github.com/Keoroanthony/go-checkout/internal/pricing"
	"github.com/Keoroanthony/go-checkout/internal/settings"
)

func main() {
	serverCfg := config.LoadServerConfig()
	checkoutCfg := config.LoadCheckoutConfig()
	kafkaCfg := config.LoadKafkaConfig()

	obs.InitLogger(serverCfg.LogLevel)
	obs.Logger.Info("service_starting")
	gin.SetMode(gin.ReleaseMode)

	ctx := context.Background()

	if err := db.Init(config.LoadDBConfig()); err != nil {
		fatal("database_init_failed", err)
	}
	if err := auth.Init(ctx, config.LoadOIDCConfig()); err != nil {
		fatal("oidc_init_failed", err)
	}

	defaults, err := pricing.ParsePolicy(checkoutCfg.TaxRate, checkoutCfg.FreeShippingThreshold, checkoutCfg.ShippingFee)
	if err != nil {
		fatal("pricing_config_invalid", err)
	}
	store := settings.NewStore(db.DB, defaults)
	policy := settings.NewCache(store.LoadPricingPolicy, checkoutCfg.SettingsCacheTTL)

	var publisher events.Publisher = events.NopPublisher{}
	if kp, err := events.NewKafkaPublisher(events.NewClient(kafkaCfg.Brokers)); err == nil {
		publisher = kp
		obs.Logger.Info("kafka_enabled", "order_topic", kafkaCfg.OrderTopic, "payment_topic", kafkaCfg.PaymentTopic)
	} else {
		obs.Logger.Warn("kafka_disabled", "reason", err.Error())
	}

	email, err := notifier.NewEmailSender(ctx, config.LoadEmailConfig())
	if err != nil {
		obs.Logger.Warn("email_notifications_disabled", "reason", err.Error())
	}
	orderNotifier := notifier.New(email, notifier.NewSMSSender(config.LoadAfricaTalkingConfig()))

	reg := metrics.New()
	orderEvents := events.NewOrderEvents(publisher, kafkaCfg.OrderTopic)

	engine := checkout.NewEngine(db.DB, policy,
		checkout.Options{
			TxTimeout:           checkoutCfg.TxTimeout,
			OrderNumberAttempts: checkoutCfg.OrderNumberAttempts,
			IdempotencyTTL:      checkoutCfg.IdempotencyTTL,
		},
		checkout.WithPayments(events.NewPaymentRequester(publisher, kafkaCfg.PaymentTopic)),
		checkout.WithEvents(orderEvents),
		checkout.WithNotifier(orderNotifier),
		checkout.WithMetrics(reg.Checkout),
	)
	orderService := orders.NewService(db.DB,
		orders.Options{RestockOnCancel: checkoutCfg.RestockOnCancel, TxTimeout: checkoutCfg.TxTimeout},
		orders.WithEvents(orderEvents),
		orders.WithMetrics(reg.Checkout),
	)

	api := &handlers.API{
		Engine:   engine,
		Orders:   orderService,
		Settings: store,
		Policy:   policy,
		Metrics:  reg,
	}
	r := handlers.NewRouter(api, handlers.RouterConfig{
		SessionSecret: serverCfg.SessionSecret,
		AdminEmails:   serverCfg.AdminEmails,
	})

	srv := &http.Server{
		Addr:              serverCfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		obs.Logger.Info("http_listen", "addr", serverCfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("http_server_error", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigc
	obs.Logger.Info("shutdown_signal", "signal", s.String())

	ctxSrv, cancelSrv := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
	defer cancelSrv()
	if err := srv.Shutdown(ctxSrv); err != nil {
		obs.Logger.Error("http_shutdown_error", "error", err)
	}

	// in-flight checkouts are done; wait for their post-commit call-outs
	drained := make(chan struct{})
	go func() {
		engine.Wait()
		orderService.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		obs.Logger.Info("shutdown_drain_complete")
	case <-ctxSrv.Done():
		obs.Logger.Warn("shutdown_drain_timeout")
	}

	if err := publisher.Close(); err != nil {
		obs.Logger.Error("publisher_close_error", "error", err)
	}
	obs.Logger.Info("service_stopped")
}

func fatal(msg string, err error) {
	obs.Logger.Error(msg, "error", err)
	os.Exit(1)
}
