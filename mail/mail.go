// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	stdmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
)

const ExcerptMaxLen = 500

// Details is the metadata a raw RFC822 message yields for the triage
// snapshot.
type Details struct {
	Subject        string
	Sender         string
	Date           time.Time
	Excerpt        string
	HasAttachments bool
}

// ParseDetails extracts header and body metadata from a raw message. Body
// parsing is best-effort: an unreadable body yields an empty excerpt, not an
// error.
func ParseDetails(rawMail []byte) (*Details, error) {
	msg, err := stdmail.ReadMessage(bytes.NewReader(rawMail))
	if err != nil {
		return nil, fmt.Errorf("could not parse mail: %w", err)
	}

	dec := &mime.WordDecoder{
		CharsetReader: charset.Reader,
	}
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		return nil, fmt.Errorf("could not decode subject header: %w", err)
	}

	details := &Details{
		Subject: subject,
		Sender:  senderAddress(msg.Header.Get("From")),
	}

	if date, err := msg.Header.Date(); err == nil {
		details.Date = date
	}

	details.Excerpt, details.HasAttachments = bodyInfo(rawMail)
	return details, nil
}

func senderAddress(from string) string {
	addr, err := stdmail.ParseAddress(from)
	if err != nil {
		return strings.TrimSpace(from)
	}
	return addr.Address
}

// bodyInfo walks the mime structure for the first text part and for any
// attachment part.
func bodyInfo(rawMail []byte) (string, bool) {
	reader, err := gomail.CreateReader(bytes.NewReader(rawMail))
	if err != nil {
		return "", false
	}
	defer reader.Close()

	excerpt := ""
	hasAttachments := false
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			break
		}

		switch header := part.Header.(type) {
		case *gomail.InlineHeader:
			if len(excerpt) > 0 {
				continue
			}
			contentType, _, err := header.ContentType()
			if err != nil || !strings.HasPrefix(contentType, "text/") {
				continue
			}
			body, err := io.ReadAll(io.LimitReader(part.Body, ExcerptMaxLen*4))
			if err != nil {
				continue
			}
			excerpt = Excerpt(string(body))
		case *gomail.AttachmentHeader:
			hasAttachments = true
		}
	}

	return excerpt, hasAttachments
}

// Excerpt collapses whitespace and caps the text at ExcerptMaxLen.
func Excerpt(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) > ExcerptMaxLen {
		collapsed = collapsed[:ExcerptMaxLen]
	}
	return collapsed
}

func ShortSubject(subject string) string {
	if (len(subject)) > 30 {
		subject = subject[:30] + "..."
	}
	return subject
}
