package chat

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the Message variants.
type Kind string

const (
	KindText   Kind = "text"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
)

// SystemAuthor is the author name carried by every system message.
const SystemAuthor = "system"

// FileRef describes a file already stored by the upload endpoint.
type FileRef struct {
	URL          string `json:"url"`
	OriginalName string `json:"originalName"`
	SizeBytes    int64  `json:"sizeBytes"`
	MimeType     string `json:"mimeType"`
}

// Message is a closed variant of text, file and system messages. Only the
// fields belonging to Kind are populated; use the New* constructors and
// Validate rather than building values by hand.
type Message struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"type"`
	AuthorName string    `json:"authorName"`
	Body       string    `json:"body,omitempty"`
	Text       string    `json:"text,omitempty"`
	File       *FileRef  `json:"file,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewText builds a text message authored by author.
func NewText(author, body string, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		Kind:       KindText,
		AuthorName: author,
		Body:       body,
		Timestamp:  now,
	}
}

// NewFile builds a file message referencing an uploaded file.
func NewFile(author string, ref FileRef, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		Kind:       KindFile,
		AuthorName: author,
		File:       &ref,
		Timestamp:  now,
	}
}

// NewSystem builds a synthetic notice such as a join or leave.
func NewSystem(text string, now time.Time) Message {
	return Message{
		ID:         uuid.NewString(),
		Kind:       KindSystem,
		AuthorName: SystemAuthor,
		Text:       text,
		Timestamp:  now,
	}
}

// Validate checks that m has exactly the shape of its variant.
func (m Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: message id is empty", ErrInvalidInput)
	}
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: message timestamp is zero", ErrInvalidInput)
	}

	switch m.Kind {
	case KindText:
		if strings.TrimSpace(m.Body) == "" {
			return fmt.Errorf("%w: text body is empty", ErrInvalidInput)
		}
		if m.File != nil || m.Text != "" {
			return fmt.Errorf("%w: text message carries foreign fields", ErrInvalidInput)
		}
	case KindFile:
		if m.File == nil {
			return fmt.Errorf("%w: file message without file", ErrInvalidInput)
		}
		if err := m.File.Validate(); err != nil {
			return err
		}
		if m.Body != "" || m.Text != "" {
			return fmt.Errorf("%w: file message carries foreign fields", ErrInvalidInput)
		}
	case KindSystem:
		if m.AuthorName != SystemAuthor {
			return fmt.Errorf("%w: system message author %q", ErrInvalidInput, m.AuthorName)
		}
		if m.Text == "" {
			return fmt.Errorf("%w: system text is empty", ErrInvalidInput)
		}
		if m.File != nil || m.Body != "" {
			return fmt.Errorf("%w: system message carries foreign fields", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", ErrInvalidInput, m.Kind)
	}

	if m.Kind != KindSystem && strings.TrimSpace(m.AuthorName) == "" {
		return fmt.Errorf("%w: author name is empty", ErrInvalidInput)
	}
	return nil
}

// Validate checks the metadata envelope. The URL and sizes are trusted as
// given; only their presence and sign are checked here.
func (f FileRef) Validate() error {
	if strings.TrimSpace(f.URL) == "" {
		return fmt.Errorf("%w: file url is empty", ErrInvalidInput)
	}
	if strings.TrimSpace(f.OriginalName) == "" {
		return fmt.Errorf("%w: file name is empty", ErrInvalidInput)
	}
	if f.SizeBytes < 0 {
		return fmt.Errorf("%w: negative file size", ErrInvalidInput)
	}
	if strings.TrimSpace(f.MimeType) == "" {
		return fmt.Errorf("%w: file mime type is empty", ErrInvalidInput)
	}
	return nil
}
