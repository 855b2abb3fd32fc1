package publish

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Class decides how deployed content is compared.
type Class string

const (
	// Text content is compared after UTF-8 decoding, so a byte order mark
	// or an invalid sequence does not force a rewrite.
	Text Class = "text"
	// Binary content is compared byte for byte.
	Binary Class = "binary"
)

var textApplicationTypes = map[string]bool{
	"application/json":                  true,
	"application/javascript":            true,
	"application/ecmascript":            true,
	"application/xml":                   true,
	"application/xhtml+xml":             true,
	"application/x-yaml":                true,
	"application/yaml":                  true,
	"application/toml":                  true,
	"application/x-sh":                  true,
	"application/sql":                   true,
	"application/graphql":               true,
	"application/x-www-form-urlencoded": true,
	"image/svg+xml":                     true,
}

// ClassifyType maps a MIME type to a comparison class. Parameters such as
// charset are ignored.
func ClassifyType(mimeType string) Class {
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return Text
	case textApplicationTypes[mediaType]:
		return Text
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return Text
	default:
		return Binary
	}
}

// Target is one page to publish.
type Target struct {
	Name  string
	Body  []byte
	Type  string
	Class Class
}

// NewTarget builds a target, classifying mimeType.
func NewTarget(name string, body []byte, mimeType string) Target {
	return Target{Name: name, Body: body, Type: mimeType, Class: ClassifyType(mimeType)}
}

// TargetFromFile reads path and takes the MIME type from its extension.
// An empty name defaults to the file's base name.
func TargetFromFile(path, name string) (Target, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Target{}, err
	}
	if name == "" {
		name = filepath.Base(path)
	}
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		return Target{}, fmt.Errorf("publish: could not determine the type of %s", path)
	}
	return NewTarget(name, body, mimeType), nil
}

// Equal reports whether deployed matches the target's body under the
// target's comparison class.
func (t Target) Equal(deployed []byte) bool {
	if t.Class != Text {
		return bytes.Equal(t.Body, deployed)
	}
	local, err := decodeText(t.Body)
	if err != nil {
		return false
	}
	remote, err := decodeText(deployed)
	if err != nil {
		return false
	}
	return local == remote
}

func decodeText(b []byte) (string, error) {
	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), unicode.UTF8BOM.NewDecoder()))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
