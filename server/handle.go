package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/ajg/form"
	jsoniter "github.com/json-iterator/go"

	"github.com/Carbon-X-DAO/LayerStack/audit"
	"github.com/Carbon-X-DAO/LayerStack/fsutil"
	"github.com/Carbon-X-DAO/LayerStack/image"
	"github.com/Carbon-X-DAO/LayerStack/store"
	"github.com/Carbon-X-DAO/LayerStack/templates"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	actionPreview  = "preview"
	actionDownload = "download"
	actionJSON     = "json"

	downloadFilename = "composite-image.png"

	// in-memory part of a multipart body, the rest spills to temp files
	maxFormMemory = 8 << 20
)

// composeForm holds the text fields of a composite request. Layers may be
// sent as data URLs in text fields instead of file parts.
type composeForm struct {
	Action string `form:"action"`
	Filter string `form:"filter"`
	Layer1 string `form:"layer1"`
	Layer2 string `form:"layer2"`
	Layer3 string `form:"layer3"`
	Layer4 string `form:"layer4"`
}

func (f *composeForm) text(slot int) string {
	return [...]string{f.Layer1, f.Layer2, f.Layer3, f.Layer4}[slot-1]
}

type emailForm struct {
	Email string `form:"email"`
}

type compositeJSON struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	DownloadURL string `json:"downloadUrl"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Layers      int    `json:"layers"`
	DataURL     string `json:"dataUrl"`
}

type errorJSON struct {
	Error string `json:"error"`
}

func slotName(slot int) string {
	return fmt.Sprintf("layer%d", slot)
}

func slotLabel(slot int) string {
	return fmt.Sprintf("Layer %d", slot)
}

func (server *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := templates.IndexData{MaxUpload: server.cfg.MaxUpload.String()}
	for slot := 1; slot <= image.MaxLayers; slot++ {
		data.Slots = append(data.Slots, templates.Slot{Name: slotName(slot), Label: slotLabel(slot)})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	writeTemplate(templates.Index, data, w)
}

func (server *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(server.cfg.MaxUpload))

	var fi composeForm
	sources, err := server.readLayers(r, &fi)
	if fi.Action == "" {
		// an oversized body never reaches the form fields
		fi.Action = r.URL.Query().Get("action")
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			server.composeFailed(w, fi.Action, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Upload exceeds %s.", server.cfg.MaxUpload))
			return
		}
		var de *image.DecodeError
		if errors.As(err, &de) {
			server.composeFailed(w, fi.Action, http.StatusUnprocessableEntity, "Could not create image. "+de.Error())
			return
		}
		log.Printf("failed to read layers: %s", err)
		server.composeFailed(w, fi.Action, http.StatusBadRequest, "The upload could not be read.")
		return
	}

	switch fi.Action {
	case "", actionPreview, actionDownload, actionJSON:
	default:
		writeStatus(w, http.StatusBadRequest, fmt.Sprintf("Unknown action %q.", fi.Action))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), server.cfg.ComposeTimeout)
	defer cancel()

	if err := server.composing.Acquire(ctx, 1); err != nil {
		log.Printf("failed to acquire a composition slot: %s", err)
		server.composeFailed(w, fi.Action, http.StatusServiceUnavailable, "Too many images are being composed, try again shortly.")
		return
	}
	buf, res, err := compose(ctx, sources, image.Options{Filter: fi.Filter, MaxPixels: server.cfg.MaxPixels})
	server.composing.Release(1)
	if err != nil {
		status, msg := composeErrorStatus(err)
		if status == http.StatusInternalServerError {
			log.Printf("failed to compose %d sources: %s", len(sources), err)
		}
		server.composeFailed(w, fi.Action, status, msg)
		return
	}

	entry := server.composites.Put(store.Entry{
		PNG:    buf.Bytes(),
		Width:  res.Width,
		Height: res.Height,
		Layers: res.Layers,
	})
	log.Printf("composed %s: %d layers, %dx%d, %s", entry.ID, entry.Layers, entry.Width, entry.Height, fsutil.Size(len(entry.PNG)))

	event := audit.Event{
		ID:       entry.ID,
		Layers:   entry.Layers,
		Width:    entry.Width,
		Height:   entry.Height,
		PNGBytes: len(entry.PNG),
		Time:     entry.CreatedAt,
	}
	audit.RequestInfo(&event, r)
	server.background.Add(1)
	go server.recordComposite(event)

	switch fi.Action {
	case actionDownload:
		servePNG(w, r, entry, true)
	case actionJSON:
		server.writeCompositeJSON(w, r, entry)
	default:
		http.Redirect(w, r, "/composites/"+entry.ID, http.StatusSeeOther)
	}
}

// compose stacks the sources and encodes the canvas, the two steps that
// hold decoded pixels in memory.
func compose(ctx context.Context, sources []image.Source, opts image.Options) (*bytes.Buffer, *image.Result, error) {
	res, err := image.Compose(ctx, sources, opts)
	if err != nil {
		return nil, nil, err
	}

	var buf bytes.Buffer
	if err := image.EncodePNG(&buf, res.Image); err != nil {
		return nil, nil, fmt.Errorf("failed to encode composite: %w", err)
	}
	return &buf, res, nil
}

// readLayers collects the four slots from either file parts or data-URL
// text fields, decoding the remaining text fields into fi.
func (server *Server) readLayers(r *http.Request, fi *composeForm) ([]image.Source, error) {
	err := r.ParseMultipartForm(maxFormMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse form: %w", err)
	}

	dec := form.NewDecoder(strings.NewReader(r.PostForm.Encode()))
	dec.IgnoreUnknownKeys(true)
	if err := dec.Decode(fi); err != nil {
		return nil, fmt.Errorf("failed to decode form: %w", err)
	}

	sources := make([]image.Source, 0, image.MaxLayers)
	for slot := 1; slot <= image.MaxLayers; slot++ {
		data, err := readSlot(r, slotName(slot), fi.text(slot))
		if err != nil {
			return nil, &image.DecodeError{Slot: slot, Err: err}
		}
		sources = append(sources, image.Source{Slot: slot, Data: data})
	}

	return sources, nil
}

func readSlot(r *http.Request, name, text string) ([]byte, error) {
	if r.MultipartForm != nil {
		if headers := r.MultipartForm.File[name]; len(headers) > 0 {
			f, err := headers[0].Open()
			if err != nil {
				return nil, err
			}
			defer f.Close()
			return io.ReadAll(f)
		}
	}

	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if !image.IsDataURL(text) {
		return nil, fmt.Errorf("field %s is neither a file nor a data URL", name)
	}
	return image.DecodeDataURL(text)
}

func composeErrorStatus(err error) (int, string) {
	var de *image.DecodeError
	switch {
	case errors.Is(err, image.ErrNoLayers):
		return http.StatusBadRequest, "Upload at least one layer."
	case errors.Is(err, image.ErrUnknownFilter):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &de):
		return http.StatusUnprocessableEntity, "Could not create image. " + de.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Composing took too long."
	default:
		return http.StatusInternalServerError, "Could not create image."
	}
}

func (server *Server) composeFailed(w http.ResponseWriter, action string, status int, msg string) {
	if action == actionJSON {
		writeJSON(w, status, errorJSON{Error: msg})
		return
	}
	writeStatus(w, status, msg)
}

func (server *Server) writeCompositeJSON(w http.ResponseWriter, r *http.Request, entry *store.Entry) {
	url := server.baseURL(r) + "/composites/" + entry.ID + ".png"
	writeJSON(w, http.StatusCreated, compositeJSON{
		ID:          entry.ID,
		URL:         url,
		DownloadURL: url + "?download=1",
		Width:       entry.Width,
		Height:      entry.Height,
		Layers:      entry.Layers,
		DataURL:     image.EncodeDataURL(entry.PNG),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	bs, err := json.Marshal(v)
	if err != nil {
		writeErr(err, w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(bs)
}

func (server *Server) handleCompositeImage(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := server.composites.Get(id)
	if !ok {
		server.serveNotFound(w)
		return
	}

	servePNG(w, r, entry, r.URL.Query().Get("download") != "")
}

func (server *Server) handleCompositePreview(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := server.composites.Get(id)
	if !ok {
		server.serveNotFound(w)
		return
	}

	server.servePreview(w, r, entry, "")
}

func servePNG(w http.ResponseWriter, r *http.Request, entry *store.Entry, attachment bool) {
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}

	w.Header().Set("Content-Type", image.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, downloadFilename))
	w.Header().Set("Cache-Control", "private, max-age=900")
	http.ServeContent(w, r, "", entry.CreatedAt, bytes.NewReader(entry.PNG))
}

func (server *Server) servePreview(w http.ResponseWriter, r *http.Request, entry *store.Entry, sent string) {
	imageURL := "/composites/" + entry.ID + ".png"
	data := templates.PreviewData{
		ID:          entry.ID,
		ImageURL:    imageURL,
		DownloadURL: imageURL + "?download=1",
		QRURL:       "/composites/" + entry.ID + "/qr.png",
		Width:       entry.Width,
		Height:      entry.Height,
		Layers:      entry.Layers,
		Size:        fsutil.Size(len(entry.PNG)).String(),
		Sent:        sent,
	}
	if server.cfg.Mailer != nil {
		data.EmailURL = "/composites/" + entry.ID + "/email"
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	writeTemplate(templates.Preview, data, w)
}

func (server *Server) handleCompositeQR(w http.ResponseWriter, r *http.Request, id string) {
	entry, ok := server.composites.Get(id)
	if !ok {
		server.serveNotFound(w)
		return
	}

	code, err := generateQRCode(server.baseURL(r) + "/composites/" + entry.ID + ".png?download=1")
	if err != nil {
		writeErr(err, w)
		return
	}

	var buf bytes.Buffer
	if err := image.EncodePNG(&buf, code); err != nil {
		writeErr(err, w)
		return
	}

	w.Header().Set("Content-Type", image.ContentType)
	w.Write(buf.Bytes())
}

func (server *Server) handleCompositeEmail(w http.ResponseWriter, r *http.Request, id string) {
	if server.cfg.Mailer == nil {
		server.serveNotFound(w)
		return
	}

	entry, ok := server.composites.Get(id)
	if !ok {
		server.serveNotFound(w)
		return
	}

	var ef emailForm
	dec := form.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.IgnoreUnknownKeys(true)
	if err := dec.Decode(&ef); err != nil {
		log.Printf("failed to decode form: %s", err)
		writeStatus(w, http.StatusBadRequest, "The form could not be read.")
		return
	}

	addr, err := mail.ParseAddress(strings.TrimSpace(ef.Email))
	if err != nil {
		writeStatus(w, http.StatusBadRequest, "That does not look like an e-mail address.")
		return
	}

	log.Printf("sending composite %s to %s", entry.ID, addr.Address)
	messageID, err := server.sendEmail(r.Context(), addr.Address, entry)
	if err != nil {
		log.Printf("failed to e-mail composite %s: %s", entry.ID, err)
		writeStatus(w, http.StatusBadGateway, "The e-mail could not be sent, try again later.")
		return
	}

	server.background.Add(1)
	go server.recordDelivery(audit.Delivery{
		CompositeID: entry.ID,
		Recipient:   addr.Address,
		MessageID:   messageID,
		Time:        time.Now(),
	})

	server.servePreview(w, r, entry, addr.Address)
}

func (server *Server) recordComposite(e audit.Event) {
	defer server.background.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.recorder.Record(ctx, e); err != nil {
		log.Printf("failed to record composite: %s", err)
	}
}

func (server *Server) recordDelivery(d audit.Delivery) {
	defer server.background.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.recorder.RecordDelivery(ctx, d); err != nil {
		log.Printf("failed to record delivery: %s", err)
	}
}
