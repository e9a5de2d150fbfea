package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/kalambet/incidentq/internal/form"
	"github.com/kalambet/incidentq/internal/submission"
)

const (
	maxSubmissionBodySize = 32 << 20 // 32MB
	maxFieldSize          = 1 << 20  // 1MB
)

// SubmissionRequest is the JSON intake body.
type SubmissionRequest struct {
	Fields     []submission.Field `json:"fields"`
	Attachment *AttachmentRequest `json:"attachment,omitempty"`
}

// AttachmentRequest carries a file in a JSON body. Data is base64 encoded.
type AttachmentRequest struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"`
}

var errBadRequest = errors.New("bad request")

// readSubmission decodes a JSON or multipart/form-data intake body and
// returns a normalized, validated submission.
func readSubmission(r *http.Request, f *form.Schema) (submission.Submission, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	var (
		fields []submission.Field
		att    *submission.Attachment
	)
	switch mediaType {
	case "multipart/form-data":
		fields, att, err = readMultipart(r, f.AttachmentField)
	case "application/json":
		fields, att, err = readJSON(r)
	default:
		return submission.Submission{}, fmt.Errorf("%w: unsupported content type %q", errBadRequest, mediaType)
	}
	if err != nil {
		return submission.Submission{}, err
	}

	if len(fields) == 0 {
		return submission.Submission{}, fmt.Errorf("%w: no fields submitted", errBadRequest)
	}
	fields = f.Normalize(fields)
	if err := f.Validate(fields); err != nil {
		return submission.Submission{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return submission.New(fields, att), nil
}

func readJSON(r *http.Request) ([]submission.Field, *submission.Attachment, error) {
	var req SubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("%w: invalid request body: %v", errBadRequest, err)
	}
	for _, fld := range req.Fields {
		if fld.Label == "" {
			return nil, nil, fmt.Errorf("%w: field with empty label", errBadRequest)
		}
	}
	var att *submission.Attachment
	if a := req.Attachment; a != nil {
		if a.Filename == "" {
			return nil, nil, fmt.Errorf("%w: attachment filename is required", errBadRequest)
		}
		att = &submission.Attachment{Filename: a.Filename, ContentType: a.ContentType, Data: a.Data}
	}
	return req.Fields, att, nil
}

// readMultipart streams parts in order so field order matches the form.
func readMultipart(r *http.Request, attachmentField string) ([]submission.Field, *submission.Attachment, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}

	var (
		fields []submission.Field
		att    *submission.Attachment
	)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading multipart body: %v", errBadRequest, err)
		}

		name := part.FormName()
		if name == attachmentField {
			if part.FileName() == "" {
				// An empty file input.
				io.Copy(io.Discard, part)
				continue
			}
			data, err := io.ReadAll(part)
			if err != nil {
				return nil, nil, fmt.Errorf("%w: reading attachment: %v", errBadRequest, err)
			}
			att = &submission.Attachment{
				Filename:    part.FileName(),
				ContentType: part.Header.Get("Content-Type"),
				Data:        data,
			}
			continue
		}
		if name == "" {
			continue
		}

		value, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
		if err != nil {
			return nil, nil, fmt.Errorf("%w: reading field %q: %v", errBadRequest, name, err)
		}
		if len(value) > maxFieldSize {
			return nil, nil, fmt.Errorf("%w: field %q is too large", errBadRequest, name)
		}
		fields = append(fields, submission.Field{
			Label: name,
			Value: submission.String(strings.ToValidUTF8(string(value), "�")),
		})
	}
	return fields, att, nil
}
