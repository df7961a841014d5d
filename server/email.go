package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/Carbon-X-DAO/LayerStack/store"
)

// Mailer is the part of *mailgun.MailgunImpl the server needs.
type Mailer interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
}

const (
	emailSubject    = `Your composite image`
	emailAttachment = "composite-image.png"
)

var body string = `
<html>
<body>
	<h1>Your composite image</h1>
	<p>The composite you created is attached as a PNG (%dx%d, %d layers).</p>
</body>
</html>
`

// sendEmail mails the composite as an attachment and returns the provider's
// message ID.
func (server *Server) sendEmail(ctx context.Context, email string, entry *store.Entry) (string, error) {
	msg := server.cfg.Mailer.NewMessage(server.cfg.MailFrom, emailSubject, "", email)
	msg.SetHtml(fmt.Sprintf(body, entry.Width, entry.Height, entry.Layers))
	msg.AddReaderAttachment(emailAttachment, io.NopCloser(bytes.NewReader(entry.PNG)))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, id, err := server.cfg.Mailer.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("failed to send message to recipient: %w", err)
	}

	return id, nil
}
