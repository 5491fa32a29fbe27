package main

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/knadh/koanf/v2"
	"github.com/knadh/stuffbin"
	"github.com/zerodha/logf"

	"github.com/demostore/storegate/internal/checkout"
	"github.com/demostore/storegate/internal/identity"
	"github.com/demostore/storegate/internal/identity/postgres"
	"github.com/demostore/storegate/internal/otp"
	"github.com/demostore/storegate/internal/payment"
	"github.com/demostore/storegate/internal/reset"
	"github.com/demostore/storegate/internal/store"
	"github.com/demostore/storegate/internal/store/redis"
)

type constants struct {
	BrandName      string
	RootURL        string
	StorefrontURL  string
	DefaultCountry string
}

// App is the global app context that groups the necessary controls
// (store, flows, gateways etc.) to be injected into the HTTP handlers.
type App struct {
	store    store.Store
	idn      identity.Provider
	flow     *reset.Flow
	rec      *checkout.Reconciler
	gateways map[string]payment.Gateway
	fs       stuffbin.FileSystem
	lo       logf.Logger

	constants constants
}

var (
	lo = logf.New(logf.Opts{EnableColor: true, EnableCaller: true})
	ko = koanf.New(".")

	// Version of the build injected at build time.
	buildString = "unknown"
)

func main() {
	initConfig()
	lo = initLogger(ko.Bool("app.debug"))

	app := &App{
		lo: lo,
		fs: initFS(os.Args[0]),
		constants: constants{
			BrandName:      ko.String("app.brand_name"),
			RootURL:        strings.TrimRight(ko.String("app.root_url"), "/"),
			StorefrontURL:  strings.TrimRight(ko.String("app.storefront_url"), "/"),
			DefaultCountry: ko.String("app.default_country"),
		},
	}

	// Load the store.
	var rc redis.Conf
	ko.UnmarshalWithConf("store.redis", &rc, koanf.UnmarshalConf{Tag: "json"})
	app.store = redis.New(rc)

	// Load the identity provider.
	var pc postgres.Conf
	ko.UnmarshalWithConf("identity.postgres", &pc, koanf.UnmarshalConf{Tag: "json"})
	idn, err := postgres.New(pc)
	if err != nil {
		lo.Fatal("error connecting to identity backend", "error", err)
	}
	app.idn = idn

	// OTP manager over the store.
	mgr := otp.New(app.store, otp.Config{
		Expiry:          ko.Duration("app.otp_ttl"),
		MaxAttempts:     ko.Int("app.otp_max_attempts"),
		RateWindow:      ko.Duration("app.rate_window"),
		RateMaxRequests: ko.Int("app.rate_max_requests"),
		TokenTTL:        ko.Duration("app.reset_token_ttl"),
	})

	// Notification channels and the reset flow.
	renderer, sms, mail := initNotify(app.fs)
	app.flow = reset.New(mgr, app.idn, sms, mail, renderer,
		reset.Config{
			BrandName:      app.constants.BrandName,
			MinPasswordLen: ko.Int("app.min_password_len"),
		}, lo)

	// Payment gateways and the checkout reconciler.
	app.gateways = initGateways(sms, renderer)
	app.rec = checkout.New(
		checkout.NewClient(initCommerceConf()),
		checkout.Config{
			ConflictBackoff: ko.Duration("checkout.conflict_backoff"),
			OrderLookback:   ko.Duration("checkout.order_lookback"),
			FallbackCountry: app.constants.DefaultCountry,
		}, lo)

	// Register handles.
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("storegate"))
	})
	r.Get("/api/health", wrap(app, handleHealthCheck))

	r.Post("/auth/request-password-reset", wrap(app, handleRequestReset))
	r.Post("/auth/verify-otp", wrap(app, handleVerifyOTP))
	r.Post("/auth/reset-password", wrap(app, handleResetPassword))

	r.Post("/payments/{gateway}/initiate", wrap(app, handlePaymentInitiate))
	r.Get("/payments/{gateway}/success", wrap(app, handlePaymentSuccess))
	r.Post("/payments/{gateway}/success", wrap(app, handlePaymentSuccess))
	r.Get("/payments/{gateway}/fail", wrap(app, handlePaymentFail))
	r.Post("/payments/{gateway}/fail", wrap(app, handlePaymentFail))
	r.Get("/payments/{gateway}/ipn", wrap(app, handlePaymentIPN))
	r.Post("/payments/{gateway}/ipn", wrap(app, handlePaymentIPN))
	r.Get("/payments/{gateway}/session/{id}/cart", wrap(app, handleSessionCart))

	// HTTP Server.
	timeout := ko.Duration("app.server_timeout")
	if timeout.Seconds() < 1 {
		timeout = time.Second * 5
	}

	srv := &http.Server{
		Addr:         ko.String("app.address"),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		Handler:      r,
	}

	lo.Info("starting server", "address", srv.Addr, "version", buildString)
	if err := srv.ListenAndServe(); err != nil {
		lo.Fatal("couldn't start server", "error", err)
	}
}
