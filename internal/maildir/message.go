package maildir

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
)

const messageIDDomain = "rss2maildir"

// Message is the header and body data of one delivered message.
type Message struct {
	From    string
	To      string
	Subject string
	Date    time.Time
	Body    string
	// ContentType defaults to text/plain.
	ContentType string
}

// Render encodes m as an RFC 5322 message. The body is copied verbatim after
// the header (binary transfer encoding): line endings and line lengths are
// left as they are.
func (m Message) Render() ([]byte, error) {
	var h mail.Header
	h.SetDate(m.Date)
	h.Set("From", mime.QEncoding.Encode("utf-8", m.From))
	h.Set("To", m.To)
	h.SetSubject(m.Subject)
	h.Set("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain))
	contentType := m.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "binary")

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, h.Header.Header); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(&buf, m.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
