// Package joplin implements the source adapter over the Joplin Data API.
//
// Joplin exposes a local REST API (the "clipper server") authenticated by a
// token passed as a query parameter. List endpoints are paginated with a
// has_more flag.
package joplin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jopper-sync/jopper/internal/engine"
	"github.com/jopper-sync/jopper/internal/note"
)

const noteFields = "id,title,parent_id,updated_time"

// Client talks to the Joplin Data API. It implements engine.Source.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *logrus.Logger

	// folderCache maps notebook IDs to titles for the metadata footer.
	// Notebook renames are picked up on restart; titles are informational.
	mu          sync.Mutex
	folderCache map[string]string
}

// New creates a Joplin client for the given API base URL and token.
// Per-call deadlines come from the caller's context.
func New(baseURL, token string, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		http:        &http.Client{},
		logger:      logger,
		folderCache: make(map[string]string),
	}
}

// noteItem is the wire form of a note in list and read responses.
// updated_time is milliseconds since epoch.
type noteItem struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Body        string `json:"body"`
	ParentID    string `json:"parent_id"`
	UpdatedTime int64  `json:"updated_time"`
}

func (i noteItem) summary() note.Summary {
	return note.Summary{
		ID:          i.ID,
		Title:       i.Title,
		ParentID:    i.ParentID,
		UpdatedTime: time.UnixMilli(i.UpdatedTime).UTC(),
	}
}

// tagItem is the wire form of a tag.
type tagItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// page is the paginated envelope used by every Joplin list endpoint.
type page[T any] struct {
	Items   []T  `json:"items"`
	HasMore bool `json:"has_more"`
}

// ListNotes returns the current source note set, filtered by mode.
func (c *Client) ListNotes(ctx context.Context, filter engine.Filter) ([]note.Summary, error) {
	if filter.Mode == engine.ModeTagged {
		return c.listNotesByTags(ctx, filter.Tags)
	}

	items, err := collectPages[noteItem](ctx, c, "/notes", url.Values{"fields": {noteFields}})
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}

	summaries := make([]note.Summary, 0, len(items))
	for _, item := range items {
		summaries = append(summaries, item.summary())
	}
	return summaries, nil
}

// listNotesByTags unions the note sets of all configured tags. Joplin
// normalizes tag titles to lowercase, so matching is case-insensitive.
func (c *Client) listNotesByTags(ctx context.Context, tags []string) ([]note.Summary, error) {
	allTags, err := collectPages[tagItem](ctx, c, "/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}

	wanted := make(map[string]bool, len(tags))
	for _, t := range tags {
		wanted[strings.ToLower(t)] = true
	}

	byID := make(map[string]note.Summary)
	for _, tag := range allTags {
		if !wanted[strings.ToLower(tag.Title)] {
			continue
		}
		items, err := collectPages[noteItem](ctx, c, "/tags/"+tag.ID+"/notes", url.Values{"fields": {noteFields}})
		if err != nil {
			return nil, fmt.Errorf("failed to list notes for tag %q: %w", tag.Title, err)
		}
		for _, item := range items {
			byID[item.ID] = item.summary()
		}
	}

	summaries := make([]note.Summary, 0, len(byID))
	for _, s := range byID {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries, nil
}

// ReadContent fetches a note's body and resolves its notebook title.
func (c *Client) ReadContent(ctx context.Context, noteID string) (*note.Content, error) {
	var item noteItem
	query := url.Values{"fields": {"id,title,body,parent_id,updated_time"}}
	if err := c.get(ctx, "/notes/"+noteID, query, &item); err != nil {
		return nil, fmt.Errorf("failed to read note %s: %w", noteID, err)
	}

	content := &note.Content{
		Summary: item.summary(),
		Body:    item.Body,
	}
	if item.ParentID != "" {
		content.NotebookTitle = c.folderTitle(ctx, item.ParentID)
	}
	return content, nil
}

// ListTags returns the note's tag titles.
func (c *Client) ListTags(ctx context.Context, noteID string) ([]string, error) {
	items, err := collectPages[tagItem](ctx, c, "/notes/"+noteID+"/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for note %s: %w", noteID, err)
	}

	titles := make([]string, 0, len(items))
	for _, item := range items {
		titles = append(titles, item.Title)
	}
	sort.Strings(titles)
	return titles, nil
}

// folderTitle resolves a notebook title, caching results for the process
// lifetime. Lookup failures degrade to an empty title.
func (c *Client) folderTitle(ctx context.Context, folderID string) string {
	c.mu.Lock()
	if title, ok := c.folderCache[folderID]; ok {
		c.mu.Unlock()
		return title
	}
	c.mu.Unlock()

	var folder struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if err := c.get(ctx, "/folders/"+folderID, url.Values{"fields": {"id,title"}}, &folder); err != nil {
		c.logger.WithError(err).WithField("folder_id", folderID).Debug("Failed to resolve notebook title")
		return ""
	}

	c.mu.Lock()
	c.folderCache[folderID] = folder.Title
	c.mu.Unlock()
	return folder.Title
}

// collectPages walks a paginated list endpoint until has_more is false.
func collectPages[T any](ctx context.Context, c *Client, path string, query url.Values) ([]T, error) {
	var items []T
	for pageNum := 1; ; pageNum++ {
		q := url.Values{}
		for k, v := range query {
			q[k] = v
		}
		q.Set("page", fmt.Sprintf("%d", pageNum))
		q.Set("limit", "100")

		var p page[T]
		if err := c.get(ctx, path, q, &p); err != nil {
			return nil, err
		}
		items = append(items, p.Items...)
		if !p.HasMore {
			return items, nil
		}
	}
}

// get performs an authenticated GET and decodes the JSON response into out.
// Errors carry the engine's taxonomy: 401/403 map to authentication
// failures, everything else on the wire is transient.
func (c *Client) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	q := url.Values{}
	for k, v := range query {
		q[k] = v
	}
	q.Set("token", c.token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return engine.Transient(fmt.Errorf("failed to build request: %w", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return engine.Transient(fmt.Errorf("joplin request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return engine.AuthError(fmt.Errorf("joplin rejected the token: %s", resp.Status))
	case resp.StatusCode >= 400:
		return engine.Transient(fmt.Errorf("joplin returned %s for %s", resp.Status, path))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return engine.IntegrityError(fmt.Errorf("failed to decode joplin response: %w", err))
	}
	return nil
}
