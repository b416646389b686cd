// Package openwebui implements the target adapter over the Open WebUI
// knowledge-base API.
//
// Notes are uploaded as markdown files and optionally linked into a
// knowledge collection. Open WebUI has no in-place file replacement, so an
// update deletes the old file and uploads a fresh one: replaced documents
// always come back with a new identifier and the caller must persist it.
package openwebui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/jopper-sync/jopper/internal/engine"
	"github.com/jopper-sync/jopper/internal/note"
)

// Client talks to the Open WebUI REST API. It implements engine.Target.
type Client struct {
	baseURL      string
	apiKey       string
	collectionID string
	http         *http.Client
	logger       *logrus.Logger
}

// New creates an Open WebUI client. collectionID may be empty, in which
// case documents are uploaded without collection membership.
func New(baseURL, apiKey, collectionID string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		collectionID: collectionID,
		http:         &http.Client{},
		logger:       logger,
	}
}

// fileInfo is the wire form of an uploaded file.
type fileInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// CreateDocument uploads the note content as a markdown file.
func (c *Client) CreateDocument(ctx context.Context, doc Document) (string, error) {
	filename := note.Filename(doc.NoteID, doc.Title)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "text/markdown")
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", engine.Transient(fmt.Errorf("failed to build upload: %w", err))
	}
	if _, err := io.WriteString(part, doc.Content); err != nil {
		return "", engine.Transient(fmt.Errorf("failed to build upload: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", engine.Transient(fmt.Errorf("failed to build upload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/files/", &body)
	if err != nil {
		return "", engine.Transient(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var info fileInfo
	if err := c.do(req, &info); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filename, err)
	}
	if info.ID == "" {
		return "", engine.Transient(fmt.Errorf("upload of %s returned no file id", filename))
	}
	return info.ID, nil
}

// ReplaceDocument swaps the stored document for fresh content. The old file
// is deleted first; the returned identifier belongs to the new upload and
// differs from id.
func (c *Client) ReplaceDocument(ctx context.Context, id string, doc Document) (string, error) {
	if err := c.DeleteDocument(ctx, id); err != nil {
		return "", fmt.Errorf("failed to delete old version: %w", err)
	}
	return c.CreateDocument(ctx, doc)
}

// DeleteDocument removes a file. A 404 means the file is already gone and
// is treated as success.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/files/"+id, nil)
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to build request: %w", err))
	}

	err = c.do(req, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete file %s: %w", id, err)
	}
	return nil
}

// EnsureMembership links a file into the configured knowledge collection.
// A no-op when no collection is configured. Open WebUI answers 400 when the
// file is already in the collection, which counts as linked.
func (c *Client) EnsureMembership(ctx context.Context, id string) error {
	if c.collectionID == "" {
		return nil
	}

	payload, err := json.Marshal(map[string]string{"file_id": id})
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to encode payload: %w", err))
	}

	url := fmt.Sprintf("%s/api/v1/knowledge/%s/file/add", c.baseURL, c.collectionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	err = c.do(req, nil)
	if err != nil && !isAlreadyLinked(err) {
		return fmt.Errorf("failed to add file %s to collection: %w", id, err)
	}
	return nil
}

// ListDocuments returns the files in the configured collection, or all
// uploaded files when no collection is configured.
func (c *Client) ListDocuments(ctx context.Context) ([]engine.DocumentRef, error) {
	if c.collectionID == "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/files/", nil)
		if err != nil {
			return nil, engine.Transient(fmt.Errorf("failed to build request: %w", err))
		}
		var files []fileInfo
		if err := c.do(req, &files); err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}
		return toRefs(files), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/knowledge/"+c.collectionID, nil)
	if err != nil {
		return nil, engine.Transient(fmt.Errorf("failed to build request: %w", err))
	}
	var collection struct {
		Files []fileInfo `json:"files"`
	}
	if err := c.do(req, &collection); err != nil {
		return nil, fmt.Errorf("failed to list collection files: %w", err)
	}
	return toRefs(collection.Files), nil
}

func toRefs(files []fileInfo) []engine.DocumentRef {
	refs := make([]engine.DocumentRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, engine.DocumentRef{ID: f.ID, Name: f.Filename})
	}
	return refs
}

// Document aliases the engine payload so callers don't need both imports.
type Document = engine.Document

// statusError keeps the HTTP status available for containment decisions.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return e.msg
}

func isNotFound(err error) bool {
	se, ok := unwrapStatus(err)
	return ok && se.status == http.StatusNotFound
}

func isAlreadyLinked(err error) bool {
	se, ok := unwrapStatus(err)
	return ok && se.status == http.StatusBadRequest
}

func unwrapStatus(err error) (*statusError, bool) {
	var se *statusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// do executes the request with Bearer auth and decodes the JSON response
// into out when non-nil. 401/403 map to authentication failures, other
// failures to transient.
func (c *Client) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.Transient(fmt.Errorf("open webui request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return engine.AuthError(fmt.Errorf("open webui rejected the api key: %s", resp.Status))
	case resp.StatusCode >= 400:
		return engine.Transient(&statusError{
			status: resp.StatusCode,
			msg:    fmt.Sprintf("open webui returned %s for %s %s", resp.Status, req.Method, req.URL.Path),
		})
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.Transient(fmt.Errorf("failed to decode open webui response: %w", err))
	}
	return nil
}
