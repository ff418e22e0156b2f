package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"

	"github.com/volley/pkg/errs"
)

// Encoding is the character encoding of a request body.
type Encoding string

const (
	EncodingUTF8        Encoding = "UTF-8"
	EncodingUTF16       Encoding = "UTF-16"
	EncodingISO88591    Encoding = "ISO-8859-1"
	EncodingWindows1252 Encoding = "windows-1252"
)

// codec returns the x/text encoding for e. Empty means UTF-8.
func (e Encoding) codec() (encoding.Encoding, error) {
	switch strings.ToUpper(string(e)) {
	case "", "UTF-8", "UTF8":
		return unicode.UTF8, nil
	case "UTF-16", "UTF16":
		return unicode.UTF16(unicode.BigEndian, unicode.UseBOM), nil
	case "ISO-8859-1", "LATIN1":
		return charmap.ISO8859_1, nil
	case "WINDOWS-1252", "CP1252":
		return charmap.Windows1252, nil
	}
	return nil, errs.Invalid("unsupported encoding %q", string(e))
}

// Charset returns the value used for the charset media type parameter.
func (e Encoding) Charset() string {
	if e == "" {
		return string(EncodingUTF8)
	}
	return string(e)
}

// Body is a serialized request body with the Content-Type to send it under.
type Body struct {
	ContentType string
	Data        []byte
}

// EncodeBody serializes the request parameters in order using the request
// content type, then transcodes the text to the request encoding.
func EncodeBody(r *Request) (Body, error) {
	ct := r.ContentType()
	if ct == "" {
		ct = ContentTypeForm
	}

	params := r.Parameters().Items()

	var text string
	switch ct {
	case ContentTypeForm:
		parts := make([]string, 0, len(params))
		for _, p := range params {
			parts = append(parts, url.QueryEscape(p.Name)+"="+url.QueryEscape(p.Value))
		}
		text = strings.Join(parts, "&")
	case ContentTypeJSON:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, p := range params {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(p.Name)
			v, _ := json.Marshal(p.Value)
			buf.Write(k)
			buf.WriteByte(':')
			buf.Write(v)
		}
		buf.WriteByte('}')
		text = buf.String()
	case ContentTypeText, ContentTypeXML:
		lines := make([]string, 0, len(params))
		for _, p := range params {
			lines = append(lines, p.String())
		}
		text = strings.Join(lines, "\n")
	default:
		return Body{}, errs.Invalid("unsupported content type %q", string(ct))
	}

	codec, err := r.Encoding().codec()
	if err != nil {
		return Body{}, err
	}
	data, err := codec.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return Body{}, fmt.Errorf("failed to encode body as %s: %w", r.Encoding().Charset(), err)
	}

	return Body{
		ContentType: fmt.Sprintf("%s; charset=%s", ct, r.Encoding().Charset()),
		Data:        data,
	}, nil
}
