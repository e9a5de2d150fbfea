// Package payload turns queued submissions into the request bodies the
// remote webhook expects.
package payload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kalambet/incidentq/internal/form"
	"github.com/kalambet/incidentq/internal/submission"
)

// ErrInvalidPayload is returned when a submission cannot be encoded into a
// document the remote schema accepts.
var ErrInvalidPayload = errors.New("invalid payload")

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

const schemaURL = "https://incidentq.local/schemas/fields.schema.json"

// Payload is an encoded request body.
type Payload struct {
	ContentType string
	Body        []byte
	// Fingerprint identifies the submission content so downstream systems
	// can recognise replays of the same report.
	Fingerprint string
}

// Encoder is safe for concurrent use.
type Encoder struct {
	form   *form.Schema
	schema *jsonschema.Schema
}

// NewEncoder compiles the JSON Schema for f.
func NewEncoder(f *form.Schema) (*Encoder, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(schemaURL, strings.NewReader(f.JSONSchema())); err != nil {
		return nil, fmt.Errorf("loading fields schema: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling fields schema: %w", err)
	}
	return &Encoder{form: f, schema: compiled}, nil
}

// Encode builds the wire payload for sub. It has no side effects and
// returns identical bytes for identical input.
func (e *Encoder) Encode(sub submission.Submission) (Payload, error) {
	fields := e.completeFields(sub.Fields)

	doc, err := marshalOrdered(fields)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := e.validate(doc); err != nil {
		return Payload{}, err
	}

	fp, err := fingerprint(doc, sub.Attachment)
	if err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if sub.Attachment == nil {
		return Payload{ContentType: "application/json", Body: doc, Fingerprint: fp}, nil
	}

	body, contentType, err := e.multipartBody(fields, sub.Attachment, fp)
	if err != nil {
		return Payload{}, err
	}
	return Payload{ContentType: contentType, Body: body, Fingerprint: fp}, nil
}

// completeFields returns the submission's fields in order followed by any
// schema field it lacks, encoded as an empty string. Numeric fields are
// coerced to numbers when their text parses.
func (e *Encoder) completeFields(in []submission.Field) []submission.Field {
	out := e.form.Normalize(in)
	seen := make(map[string]bool, len(out))
	for _, f := range out {
		seen[f.Label] = true
	}
	for _, spec := range e.form.Fields {
		if !seen[spec.Label] {
			out = append(out, submission.Field{Label: spec.Label, Value: submission.String("")})
		}
	}
	return out
}

func (e *Encoder) validate(doc []byte) error {
	var v any
	if err := json.Unmarshal(doc, &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := e.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func (e *Encoder) multipartBody(fields []submission.Field, a *submission.Attachment, fp string) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary("incidentq-" + fp[:32]); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	for _, f := range fields {
		if err := mw.WriteField(f.Label, f.Value.Text()); err != nil {
			return nil, "", fmt.Errorf("writing field %q: %w", f.Label, err)
		}
	}

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(e.form.AttachmentField), quoteEscaper.Replace(a.Filename)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("creating attachment part: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return nil, "", fmt.Errorf("writing attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("closing multipart body: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// marshalOrdered renders fields as a JSON object preserving their order.
func marshalOrdered(fields []submission.Field) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Label, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// fingerprint hashes the canonical (RFC 8785) fields document together with
// the attachment name and content digest.
func fingerprint(doc []byte, a *submission.Attachment) (string, error) {
	canon, err := jcs.Transform(doc)
	if err != nil {
		return "", fmt.Errorf("canonicalizing fields: %w", err)
	}
	h := sha256.New()
	h.Write(canon)
	if a != nil {
		sum := sha256.Sum256(a.Data)
		h.Write([]byte("\x00" + a.Filename + "\x00" + strconv.Itoa(len(a.Data)) + "\x00"))
		h.Write(sum[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
