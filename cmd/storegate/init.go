package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/knadh/stuffbin"
	flag "github.com/spf13/pflag"
	"github.com/zerodha/logf"

	"github.com/demostore/storegate/internal/checkout"
	"github.com/demostore/storegate/internal/notify"
	"github.com/demostore/storegate/internal/notify/bulksmsbd"
	"github.com/demostore/storegate/internal/notify/pinpoint"
	"github.com/demostore/storegate/internal/notify/smtp"
	"github.com/demostore/storegate/internal/payment"
	"github.com/demostore/storegate/internal/payment/cod"
	"github.com/demostore/storegate/internal/payment/sslcommerz"
)

func initConfig() {
	// Register --help handler.
	f := flag.NewFlagSet("config", flag.ContinueOnError)
	f.Usage = func() {
		fmt.Println(f.FlagUsages())
		os.Exit(0)
	}
	f.StringSlice("config", []string{"config.toml"},
		"Path to one or more TOML config files to load in order")
	f.Bool("version", false, "Show build version")
	f.Parse(os.Args[1:])

	// Display version.
	if ok, _ := f.GetBool("version"); ok {
		fmt.Println(buildString)
		os.Exit(0)
	}

	// Read the config files.
	cFiles, _ := f.GetStringSlice("config")
	for _, c := range cFiles {
		log.Printf("reading config: %s", c)
		if err := ko.Load(file.Provider(c), toml.Parser()); err != nil {
			log.Printf("error reading config: %v", err)
		}
	}

	// Load environment variables and merge into the loaded config.
	if err := ko.Load(env.Provider("STOREGATE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "STOREGATE_")), "__", ".", -1)
	}), nil); err != nil {
		log.Printf("error loading env config: %v", err)
	}

	ko.Load(posflag.Provider(f, ".", ko), nil)
}

func initLogger(debug bool) logf.Logger {
	opts := logf.Opts{
		EnableColor:  true,
		EnableCaller: true,
	}
	if debug {
		opts.Level = logf.DebugLevel
	}
	return logf.New(opts)
}

func initFS(exe string) stuffbin.FileSystem {
	// Read stuffed data from self.
	fs, err := stuffbin.UnStuff(exe)
	if err != nil {
		// Binary is unstuffed or is running in dev mode.
		// Fall back to the local filesystem.
		if err == stuffbin.ErrNoID {
			fs, err = stuffbin.NewLocalFS("/", "static/")
			if err != nil {
				lo.Fatal("error falling back to local filesystem", "error", err)
			}
		} else {
			lo.Fatal("error reading stuffed binary", "error", err)
		}
	}

	return fs
}

// initNotify compiles the message templates and sets up the SMS and
// e-mail channels. The e-mail channel is optional.
func initNotify(fs stuffbin.FileSystem) (*notify.Renderer, notify.Provider, notify.Provider) {
	renderer, err := notify.NewRenderer(fs)
	if err != nil {
		lo.Fatal("error compiling message templates", "error", err)
	}

	var sms notify.Provider
	switch p := ko.String("sms.provider"); p {
	case "bulksmsbd":
		var cfg bulksmsbd.Config
		ko.UnmarshalWithConf("sms.bulksmsbd", &cfg, koanf.UnmarshalConf{Tag: "json"})
		sms, err = bulksmsbd.New(cfg)
	case "pinpoint":
		var cfg pinpoint.Config
		ko.UnmarshalWithConf("sms.pinpoint", &cfg, koanf.UnmarshalConf{Tag: "json"})
		sms, err = pinpoint.New(cfg)
	case "":
		lo.Fatal("no sms.provider set in config")
	default:
		lo.Fatal("unknown sms.provider in config", "provider", p)
	}
	if err != nil {
		lo.Fatal("error initializing SMS provider", "error", err)
	}

	var mail notify.Provider
	if ko.Bool("smtp.enabled") {
		var cfg smtp.Config
		ko.UnmarshalWithConf("smtp", &cfg, koanf.UnmarshalConf{Tag: "json"})
		m, err := smtp.New(cfg)
		if err != nil {
			lo.Fatal("error initializing SMTP provider", "error", err)
		}
		mail = m
	}

	return renderer, sms, mail
}

// initGateways sets up the configured payment gateways keyed by id.
func initGateways(sms notify.Provider, r *notify.Renderer) map[string]payment.Gateway {
	out := make(map[string]payment.Gateway)

	if ko.Bool("payment.sslcommerz.enabled") {
		var cfg sslcommerz.Config
		ko.UnmarshalWithConf("payment.sslcommerz", &cfg, koanf.UnmarshalConf{Tag: "json"})
		g, err := sslcommerz.New(cfg)
		if err != nil {
			lo.Fatal("error initializing sslcommerz gateway", "error", err)
		}
		out[g.ID()] = g
	}

	if ko.Bool("payment.cod.enabled") {
		g := cod.New(cod.Config{
			NotifyEnabled: ko.Bool("app.notify_enabled"),
			BrandName:     ko.String("app.brand_name"),
		}, sms, r, lo)
		out[g.ID()] = g
	}

	if len(out) == 0 {
		lo.Fatal("no payment gateways enabled in config")
	}
	return out
}

func initCommerceConf() checkout.ClientConf {
	return checkout.ClientConf{
		BaseURL:        ko.String("commerce.base_url"),
		PublishableKey: ko.String("commerce.publishable_key"),
		Timeout:        ko.Duration("commerce.timeout"),
		MaxConns:       ko.Int("commerce.max_conns"),
	}
}
