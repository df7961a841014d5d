package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Carbon-X-DAO/LayerStack/audit"
	"github.com/Carbon-X-DAO/LayerStack/fsutil"
	"github.com/Carbon-X-DAO/LayerStack/store"
	"github.com/Carbon-X-DAO/LayerStack/templates"
)

var (
	reCompositePreview = regexp.MustCompile(`^/composites/(?P<id>[0-9a-f-]{36})$`)
	reCompositeImage   = regexp.MustCompile(`^/composites/(?P<id>[0-9a-f-]{36})\.png$`)
	reCompositeQR      = regexp.MustCompile(`^/composites/(?P<id>[0-9a-f-]{36})/qr\.png$`)
	reCompositeEmail   = regexp.MustCompile(`^/composites/(?P<id>[0-9a-f-]{36})/email$`)
)

// DefaultMaxUpload bounds the whole multipart body of one composite request.
const DefaultMaxUpload = 40 * 1024 * 1024

const DefaultMaxConcurrent = 4

type Config struct {
	Addr string
	// TLSConfig may be nil, in which case the server serves plain HTTP.
	TLSConfig *tls.Config
	// PublicURL is the externally visible base URL used in QR codes. When
	// empty it is derived from the request.
	PublicURL      string
	MaxUpload      fsutil.Size
	MaxPixels      int
	ComposeTimeout time.Duration
	// MaxConcurrent bounds compositions running at once, further requests
	// wait for a slot until ComposeTimeout.
	MaxConcurrent int
	Store         *store.Store
	Recorder      audit.Recorder
	// Mailer may be nil, which disables e-mail delivery.
	Mailer   Mailer
	MailFrom string
}

type Server struct {
	*http.Server
	cfg        Config
	composites *store.Store
	recorder   audit.Recorder
	composing  *semaphore.Weighted
	// background tracks audit writes still running after a response
	background sync.WaitGroup
}

func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("a composite store is required")
	}
	if cfg.Mailer != nil && cfg.MailFrom == "" {
		return nil, fmt.Errorf("a sender address is required when mail is enabled")
	}
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}
	if cfg.ComposeTimeout <= 0 {
		cfg.ComposeTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")

	server := &Server{
		cfg:        cfg,
		composites: cfg.Store,
		recorder:   cfg.Recorder,
		composing:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
	if server.recorder == nil {
		server.recorder = audit.Nop{}
	}

	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := http.Server{
		Addr:              cfg.Addr,
		TLSConfig:         cfg.TLSConfig,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.Server = &httpServer

	return server, nil
}

func (server *Server) Listen() error {
	if server.Server.TLSConfig != nil {
		if err := server.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("TLS HTTP server failed: %s", err)
		}
	} else {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server failed: %s", err)
		}
	}

	return nil
}

func (server *Server) Shutdown(ctx context.Context) error {
	if err := server.Server.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to shut down HTTP server: %s", err)
	}

	// audit writes outlive their requests, drain them before closing
	drained := make(chan struct{})
	go func() {
		server.background.Wait()
		close(drained)
	}()

	var waitErr error
	select {
	case <-drained:
	case <-ctx.Done():
		waitErr = fmt.Errorf("gave up waiting for audit writes: %w", ctx.Err())
	}

	if err := server.recorder.Close(); err != nil {
		return fmt.Errorf("failed to close recorder: %s", err)
	}

	return waitErr
}

func (server *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/" && r.Method == http.MethodGet:
		server.handleIndex(w, r)
	case path == "/healthz":
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "ok")
	case path == "/composite" && r.Method == http.MethodPost:
		server.handleComposite(w, r)
	case path == "/composite":
		w.Header().Set("Allow", http.MethodPost)
		writeStatus(w, http.StatusMethodNotAllowed, "use POST to upload layers")
	case reCompositePreview.MatchString(path) && r.Method == http.MethodGet:
		server.handleCompositePreview(w, r, pathID(reCompositePreview, path))
	case reCompositeImage.MatchString(path) && r.Method == http.MethodGet:
		server.handleCompositeImage(w, r, pathID(reCompositeImage, path))
	case reCompositeQR.MatchString(path) && r.Method == http.MethodGet:
		server.handleCompositeQR(w, r, pathID(reCompositeQR, path))
	case reCompositeEmail.MatchString(path) && r.Method == http.MethodPost:
		server.handleCompositeEmail(w, r, pathID(reCompositeEmail, path))
	default:
		server.serveNotFound(w)
	}
}

func pathID(re *regexp.Regexp, path string) string {
	match := re.FindStringSubmatch(path)
	return match[re.SubexpIndex("id")]
}

// baseURL is the scheme and host clients should use to reach this server.
func (server *Server) baseURL(r *http.Request) string {
	if server.cfg.PublicURL != "" {
		return server.cfg.PublicURL
	}

	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func (server *Server) serveNotFound(res http.ResponseWriter) {
	res.Header().Set("Content-Type", "text/html; charset=utf-8")
	res.WriteHeader(http.StatusNotFound)
	writeTemplate(templates.NotFound, nil, res)
}

func writeTemplate(tmpl *template.Template, ctx interface{}, res http.ResponseWriter) {
	err := tmpl.Execute(res, ctx)
	if err != nil {
		writeErr(err, res)
	}
}

func writeStatus(res http.ResponseWriter, status int, msg string) {
	res.Header().Set("Content-Type", "text/html; charset=utf-8")
	res.WriteHeader(status)
	templates.Error.Execute(res, templates.ErrorData{Status: status, Message: msg})
}

func writeErr(err error, res http.ResponseWriter) {
	writeStatus(res, http.StatusInternalServerError, "Something went wrong.")
	log.Printf("err: %s", err.Error())
}
