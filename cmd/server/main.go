package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/Carbon-X-DAO/LayerStack/audit"
	"github.com/Carbon-X-DAO/LayerStack/config"
	"github.com/Carbon-X-DAO/LayerStack/fsutil"
	"github.com/Carbon-X-DAO/LayerStack/server"
	"github.com/Carbon-X-DAO/LayerStack/store"
)

var (
	flagConfig string
	cfg        = config.Default()
)

func init() {
	flag.StringVar(&flagConfig, "config", "", "optional YAML config file, flags given explicitly take precedence")
	flag.StringVar(&cfg.Address, "address", cfg.Address, "address on which to listen")
	flag.StringVar(&cfg.PublicURL, "public-url", cfg.PublicURL, "externally visible base URL used in QR codes")
	flag.StringVar(&cfg.CertFile, "cert", cfg.CertFile, "TLS certificate file")
	flag.StringVar(&cfg.KeyFile, "key", cfg.KeyFile, "TLS certificate signing key file")
	flag.Var(&cfg.Compose.MaxUpload, "max-upload", "maximum size of one upload, e.g. 40M")
	flag.IntVar(&cfg.Compose.MaxPixels, "max-pixels", cfg.Compose.MaxPixels, "maximum decoded pixels per layer")
	flag.DurationVar(&cfg.Compose.Timeout, "compose-timeout", cfg.Compose.Timeout, "time limit for one composition")
	flag.IntVar(&cfg.Compose.MaxConcurrent, "max-concurrent", cfg.Compose.MaxConcurrent, "compositions allowed to run at once")
	flag.DurationVar(&cfg.Store.TTL, "ttl", cfg.Store.TTL, "how long composites stay downloadable")
	flag.IntVar(&cfg.Store.MaxEntries, "max-entries", cfg.Store.MaxEntries, "maximum number of composites kept in memory")
	flag.StringVar(&cfg.Database.DSN, "dsn", cfg.Database.DSN, "postgres DSN for the composition log, empty disables it")
	flag.StringVar(&cfg.Database.Name, "db-name", cfg.Database.Name, "postgres database name used for migrations")
	flag.StringVar(&cfg.Mail.Domain, "mailgun-domain", cfg.Mail.Domain, "Mailgun sending domain, empty disables e-mail")
	flag.StringVar(&cfg.Mail.APIKey, "mailgun-key", os.Getenv("MAILGUN_API_KEY"), "Mailgun API key (default $MAILGUN_API_KEY)")
	flag.StringVar(&cfg.Mail.From, "mail-from", cfg.Mail.From, "sender address for e-mailed composites")
	flag.BoolVar(&cfg.Mail.EU, "mailgun-eu", cfg.Mail.EU, "use the Mailgun EU region")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown timeout")
}

// loadConfig applies the config file and then parses the command line a
// second time so explicitly set flags win over the file.
func loadConfig() {
	flag.Parse()
	if flagConfig == "" {
		return
	}

	if err := config.Load(flagConfig, &cfg); err != nil {
		log.Fatalf("failed to load config: %s", err)
	}

	if err := flag.CommandLine.Parse(os.Args[1:]); err != nil {
		log.Fatalf("failed to parse flags: %s", err)
	}
}

func main() {
	loadConfig()
	if err := config.Validate(&cfg); err != nil {
		log.Fatalf("invalid configuration: %s", err)
	}

	var recorder audit.Recorder = audit.Nop{}
	if cfg.Database.DSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pg, err := audit.OpenPostgres(ctx, cfg.Database.DSN, cfg.Database.Name)
		cancel()
		if err != nil {
			log.Fatalf("failed to open the composition log: %s", err)
		}
		recorder = pg
		log.Printf("recording compositions to postgres database %s", cfg.Database.Name)
	}

	var tlsConfig *tls.Config
	if cfg.TLSEnabled() {
		missing, err := fsutil.Missing(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("failed to check TLS key pair: %s", err)
		}
		if missing != "" {
			log.Fatalf("TLS file %s does not exist", missing)
		}

		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			log.Fatalf("failed to load key pair: %s and %s: %s", cfg.CertFile, cfg.KeyFile, err)
		}

		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
	}

	var mailer server.Mailer
	if cfg.MailEnabled() {
		mg := mailgun.NewMailgun(cfg.Mail.Domain, cfg.Mail.APIKey)
		if cfg.Mail.EU {
			mg.SetAPIBase(mailgun.APIBaseEU)
		}
		mailer = mg
		log.Printf("e-mail delivery enabled from %s", cfg.Mail.From)
	}

	composites := store.New(cfg.Store.TTL, cfg.Store.MaxEntries)
	storeCtx, stopStore := context.WithCancel(context.Background())
	go composites.Run(storeCtx, time.Minute)

	srv, err := server.New(server.Config{
		Addr:           cfg.Address,
		TLSConfig:      tlsConfig,
		PublicURL:      cfg.PublicURL,
		MaxUpload:      cfg.Compose.MaxUpload,
		MaxPixels:      cfg.Compose.MaxPixels,
		ComposeTimeout: cfg.Compose.Timeout,
		MaxConcurrent:  cfg.Compose.MaxConcurrent,
		Store:          composites,
		Recorder:       recorder,
		Mailer:         mailer,
		MailFrom:       cfg.Mail.From,
	})
	if err != nil {
		log.Fatalf("failed to create server: %s", err)
	}

	killed := make(chan os.Signal, 1)
	signal.Notify(killed, os.Interrupt, syscall.SIGTERM)

	serverShutdown := make(chan bool)

	go func() {
		sig := <-killed
		log.Printf("received signal to shutdown: %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("failed to shutdown server: %s", err)
		}
		cancel()
		stopStore()
		close(serverShutdown)
	}()

	log.Printf("starting the web server on address %s", cfg.Address)
	if err := srv.Listen(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("failed to serve: %s", err)
	}

	<-serverShutdown
	log.Printf("server has shut down... Exiting.")
}
