// Package audit records metadata about composites and deliveries. Image
// bytes never leave the process.
package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"
)

type Event struct {
	ID          string
	Layers      int
	Width       int
	Height      int
	PNGBytes    int
	UserAgent   string
	ClientIP    string
	CFIPCountry string
	Time        time.Time
}

type Delivery struct {
	CompositeID string
	Recipient   string
	MessageID   string
	Time        time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Event) error
	RecordDelivery(ctx context.Context, d Delivery) error
	Close() error
}

// Nop discards everything. It is used when no database is configured.
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
func (Nop) RecordDelivery(context.Context, Delivery) error { return nil }
func (Nop) Close() error { return nil }

// RequestInfo fills the client fields of e from the request headers.
func RequestInfo(e *Event, r *http.Request) {
	hdrs := r.Header
	e.UserAgent = hdrs.Get("User-Agent")
	e.CFIPCountry = hdrs.Get("CF-IPCountry")
	e.ClientIP = ClientIP(r)
}

// ClientIP prefers the Cloudflare header, then the first X-Forwarded-For
// hop, then the socket address.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
