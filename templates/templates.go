package templates

import (
	_ "embed"
	"html/template"
	"log"
)

var (
	//go:embed index.html
	indexSource string
	//go:embed preview.html
	previewSource string
	//go:embed notfound.html
	notFoundSource string
	//go:embed error.html
	errorSource string
)

var (
	Index    *template.Template
	Preview  *template.Template
	NotFound *template.Template
	Error    *template.Template
)

// Slot is one uploader field on the index page.
type Slot struct {
	Name  string
	Label string
}

type IndexData struct {
	Slots     []Slot
	MaxUpload string
}

type PreviewData struct {
	ID          string
	ImageURL    string
	DownloadURL string
	QRURL       string
	EmailURL    string
	Width       int
	Height      int
	Layers      int
	Size        string
	Sent        string
}

// ErrorData is rendered by the Error template.
type ErrorData struct {
	Status  int
	Message string
}

func init() {
	Index = parse("index", indexSource)
	Preview = parse("preview", previewSource)
	NotFound = parse("notfound", notFoundSource)
	Error = parse("error", errorSource)
}

func parse(name, text string) *template.Template {
	tmpl, err := template.New(name).Parse(text)

	if err != nil {
		log.Fatal(err)
	}

	return tmpl
}
