package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yndnr/chatdesk/internal/core/domain"
)

// Documents API paths.
const (
	PathListDocuments   = "/api/v1/Documents/list_documents"
	PathIngestDocument  = "/api/v1/Documents/ingest_document"
	PathConsultDocument = "/api/v1/Documents/consult_document"
	PathUpdateDocument  = "/api/v1/Documents/update_document"
	PathDeleteDocument  = "/api/v1/Documents/delete_document"

	DefaultPageSize = 10
)

// allowedTypes maps accepted file extensions to the upload content type.
var allowedTypes = map[string]string{
	".pdf":      "application/pdf",
	".txt":      "text/plain",
	".doc":      "application/msword",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".html":     "text/html",
	".htm":      "text/html",
	".md":       "text/markdown",
	".markdown": "text/markdown",
}

// Document is a stored document. The API is inconsistent about field
// names; UnmarshalJSON accepts every variant seen in practice.
type Document struct {
	ID        string `json:"document_id" yaml:"document_id" table:"ID"`
	Name      string `json:"document_name" yaml:"document_name" table:"NAME"`
	Status    string `json:"document_status" yaml:"document_status" table:"STATUS"`
	CreatedAt string `json:"created_at,omitempty" yaml:"created_at,omitempty" table:"CREATED"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	var raw struct {
		DocumentID     flexString `json:"document_id"`
		ID             flexString `json:"id"`
		DocumentName   string     `json:"document_name"`
		Name           string     `json:"name"`
		DocumentStatus string     `json:"document_status"`
		Status         string     `json:"status"`
		CreatedAt      string     `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = Document{
		ID:        firstNonEmpty(string(raw.DocumentID), string(raw.ID)),
		Name:      firstNonEmpty(raw.DocumentName, raw.Name),
		Status:    firstNonEmpty(raw.DocumentStatus, raw.Status),
		CreatedAt: raw.CreatedAt,
	}
	return nil
}

// DocumentPage is one page of the document listing.
type DocumentPage struct {
	Documents  []Document `json:"documents" yaml:"documents"`
	Page       int        `json:"page" yaml:"page"`
	Size       int        `json:"size" yaml:"size"`
	TotalPages int        `json:"total_pages" yaml:"total_pages"`
}

// ProgressFunc receives upload progress in bytes.
type ProgressFunc func(sent, total int64)

// DocumentsClient talks to the Documents API.
type DocumentsClient struct {
	apiClient
	progress ProgressFunc
}

// NewDocumentsClient creates a client for the Documents API at baseURL.
func NewDocumentsClient(baseURL string, session Session, opts ...ClientOption) *DocumentsClient {
	return &DocumentsClient{apiClient: newAPIClient("documents", baseURL, session, opts...)}
}

// OnProgress reports upload progress of Ingest and Update to fn.
func (c *DocumentsClient) OnProgress(fn ProgressFunc) {
	c.progress = fn
}

// List returns one page of documents. Pages start at 1.
func (c *DocumentsClient) List(ctx context.Context, page, size int) (*DocumentPage, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}

	var body struct {
		Documents   []Document `json:"documents"`
		Items       []Document `json:"items"`
		TotalPages  int        `json:"total_pages"`
		TotalPages2 int        `json:"totalPages"`
	}
	resp, err := c.http.Get(ctx, PathListDocuments, url.Values{
		"page": {strconv.Itoa(page)},
		"size": {strconv.Itoa(size)},
	})
	if err := c.result(ctx, resp, err, &body); err != nil {
		return nil, err
	}

	out := &DocumentPage{Documents: body.Documents, Page: page, Size: size, TotalPages: body.TotalPages}
	if len(out.Documents) == 0 {
		out.Documents = body.Items
	}
	if out.TotalPages <= 0 {
		out.TotalPages = body.TotalPages2
	}
	if out.TotalPages <= 0 {
		out.TotalPages = 1
	}
	return out, nil
}

// Ingest uploads a file and returns the stored document as reported by
// a follow-up consult call.
func (c *DocumentsClient) Ingest(ctx context.Context, path string) (*Document, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	body, contentType, err := c.uploadBody(path, nil)
	if err != nil {
		return nil, err
	}

	var created struct {
		DocumentID flexString `json:"document_id"`
		ID         flexString `json:"id"`
		Document   *struct {
			ID flexString `json:"id"`
		} `json:"Document"`
	}
	resp, err := c.http.Do(ctx, http.MethodPost, PathIngestDocument, nil, body, contentType)
	if err := c.result(ctx, resp, err, &created); err != nil {
		return nil, err
	}

	id := firstNonEmpty(string(created.DocumentID), string(created.ID))
	if id == "" && created.Document != nil {
		id = string(created.Document.ID)
	}
	if id == "" {
		return nil, domain.ErrAPIRequest.WithDetails("ingest response has no document id")
	}
	return c.Consult(ctx, id)
}

// Consult fetches one document.
func (c *DocumentsClient) Consult(ctx context.Context, id string) (*Document, error) {
	if id == "" {
		return nil, domain.ErrInvalidArgument.WithDetails("document id is required")
	}
	if err := c.requireSession(); err != nil {
		return nil, err
	}

	var doc Document
	resp, err := c.http.Get(ctx, PathConsultDocument, url.Values{"document_id": {id}})
	if err := c.result(ctx, resp, err, &doc); err != nil {
		return nil, err
	}
	if doc.ID == "" {
		doc.ID = id
	}
	return &doc, nil
}

// Update replaces the content of a document.
func (c *DocumentsClient) Update(ctx context.Context, id, path string) error {
	if id == "" {
		return domain.ErrInvalidArgument.WithDetails("document id is required")
	}
	if err := c.requireSession(); err != nil {
		return err
	}
	body, contentType, err := c.uploadBody(path, map[string]string{"document_id": id})
	if err != nil {
		return err
	}

	resp, err := c.http.Do(ctx, http.MethodPut, PathUpdateDocument, nil, body, contentType)
	return c.result(ctx, resp, err, nil)
}

// Delete removes a document.
func (c *DocumentsClient) Delete(ctx context.Context, id string) error {
	if id == "" {
		return domain.ErrInvalidArgument.WithDetails("document id is required")
	}
	if err := c.requireSession(); err != nil {
		return err
	}

	resp, err := c.http.Delete(ctx, PathDeleteDocument, url.Values{"document_id": {id}})
	return c.result(ctx, resp, err, nil)
}

// ValidateUpload checks that path is a regular file of an accepted type
// and returns the content type to upload it with.
func ValidateUpload(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", domain.ErrInvalidArgument.WithDetails("cannot read file").WithCause(err)
	}
	if !info.Mode().IsRegular() {
		return "", domain.ErrInvalidArgument.WithDetails(path + " is not a regular file")
	}

	ext := strings.ToLower(filepath.Ext(path))
	contentType, ok := allowedTypes[ext]
	if !ok {
		return "", domain.ErrInvalidArgument.WithDetails(
			fmt.Sprintf("file type %q not allowed (allowed: %s)", ext, AllowedExtensions()))
	}
	return contentType, nil
}

// AllowedExtensions lists accepted upload extensions.
func AllowedExtensions() string {
	return ".pdf, .txt, .doc, .docx, .html, .htm, .md, .markdown"
}

// uploadBody builds the multipart body and wraps it for progress
// reporting when a callback is set.
func (c *DocumentsClient) uploadBody(path string, fields map[string]string) (io.Reader, string, error) {
	buf, contentType, err := multipartBody(path, fields)
	if err != nil {
		return nil, "", err
	}
	if c.progress == nil {
		return buf, contentType, nil
	}
	return &progressReader{r: buf, total: int64(buf.Len()), fn: c.progress}, contentType, nil
}

// multipartBody builds a multipart body with fields followed by the file part.
func multipartBody(path string, fields map[string]string) (*bytes.Buffer, string, error) {
	fileType, err := ValidateUpload(path)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", domain.ErrInvalidArgument.WithDetails("cannot open file").WithCause(err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(filepath.Base(path))))
	h.Set("Content-Type", fileType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("copy file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// progressReader counts bytes as the transport consumes the body.
type progressReader struct {
	r     io.Reader
	total int64
	sent  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.fn(p.sent, p.total)
	}
	return n, err
}

// Size lets HTTPClient.Do set the request content length.
func (p *progressReader) Size() int64 {
	return p.total
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
