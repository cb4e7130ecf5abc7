package apiclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
)

// Multipart is a boundary-encoded body. Its content type is always sent
// verbatim, whatever the caller put in the headers.
type Multipart struct {
	ContentType string
	Data        []byte
}

// NewMultipart builds a multipart body through build.
func NewMultipart(build func(w *multipart.Writer) error) (*Multipart, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := build(w); err != nil {
		return nil, fmt.Errorf("build multipart body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}
	return &Multipart{ContentType: w.FormDataContentType(), Data: buf.Bytes()}, nil
}

// payload is a body buffered so a retry can replay it.
type payload struct {
	data        []byte
	contentType string
	forced      bool // contentType overrides caller headers
}

func (p payload) reader() io.Reader {
	if p.data == nil {
		return nil
	}
	return bytes.NewReader(p.data)
}

func encodeBody(body any) (payload, error) {
	switch b := body.(type) {
	case nil:
		return payload{}, nil
	case *Multipart:
		if b == nil {
			return payload{}, nil
		}
		return payload{data: b.Data, contentType: b.ContentType, forced: true}, nil
	case []byte:
		return payload{data: b}, nil
	case string:
		return payload{data: []byte(b)}, nil
	case json.RawMessage:
		return payload{data: b, contentType: "application/json"}, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return payload{}, fmt.Errorf("read request body: %w", err)
		}
		return payload{data: data}, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return payload{}, fmt.Errorf("encode request body: %w", err)
		}
		return payload{data: data, contentType: "application/json"}, nil
	}
}
