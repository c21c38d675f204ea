package attachment

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/document/parser"
	"github.com/gabriel-vasile/mimetype"

	"readable/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrTooLarge          = errors.New("file too large")
	ErrInvalidText       = errors.New("text file is not valid UTF-8")
	ErrMissingName       = errors.New("file name is required")
)

// Kind is the transport shape chosen for an attachment.
type Kind int

const (
	KindBinary Kind = iota + 1
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	default:
		return "unknown"
	}
}

var textExtensions = []string{".md", ".csv", ".json"}

// File is a user-selected upload before decoding.
type File struct {
	Name      string
	MediaType string
	Reader    io.Reader
}

// Classify picks the transport shape for a file, in priority order:
// images and PDFs are binary, anything text-like (by type or extension) is text.
func Classify(name, mediaType string) (Kind, error) {
	if strings.HasPrefix(mediaType, "image/") || mediaType == "application/pdf" {
		return KindBinary, nil
	}
	if strings.Contains(mediaType, "text") || hasTextExtension(name) {
		return KindText, nil
	}
	return 0, ErrUnsupportedFormat
}

func hasTextExtension(name string) bool {
	for _, ext := range textExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// Decode reads the file and converts it into an attachment.
// maxBytes <= 0 disables the size check.
func Decode(ctx context.Context, f File, maxBytes int64) (*models.Attachment, error) {
	name := filepath.Base(strings.TrimSpace(f.Name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, ErrMissingName
	}
	if f.Reader == nil {
		return nil, fmt.Errorf("read %s: no content", name)
	}

	reader := f.Reader
	if maxBytes > 0 {
		reader = io.LimitReader(f.Reader, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}

	mediaType := resolveMediaType(name, f.MediaType, data)
	kind, err := Classify(name, mediaType)
	if err != nil {
		return nil, err
	}

	att := &models.Attachment{
		Name:      name,
		MediaType: mediaType,
		Size:      int64(len(data)),
		IsBinary:  kind == KindBinary,
	}
	switch kind {
	case KindBinary:
		att.Payload = "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
	case KindText:
		text, err := decodeText(ctx, name, data)
		if err != nil {
			return nil, err
		}
		att.Payload = text
	}
	return att, nil
}

func decodeText(ctx context.Context, name string, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrInvalidText
	}
	docs, err := parser.TextParser{}.Parse(ctx, bytes.NewReader(data), parser.WithURI(name))
	if err != nil {
		return "", fmt.Errorf("parse %s: %w", name, err)
	}
	var sb strings.Builder
	for _, doc := range docs {
		if doc != nil {
			sb.WriteString(doc.Content)
		}
	}
	return sb.String(), nil
}

// resolveMediaType keeps an explicit declared type; generic or missing types are
// sniffed from content and then from the file extension.
func resolveMediaType(name, declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return normalize(declared)
	}
	if detected := normalize(mimetype.Detect(data).String()); detected != "" && detected != "application/octet-stream" {
		return detected
	}
	if byExt := normalize(mime.TypeByExtension(filepath.Ext(name))); byExt != "" {
		return byExt
	}
	if declared != "" {
		return declared
	}
	return "application/octet-stream"
}

func normalize(mediaType string) string {
	if mediaType == "" {
		return ""
	}
	parsed, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}
	return parsed
}
