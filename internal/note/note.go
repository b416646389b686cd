// Package note provides the shared note model plus the canonical content
// formatting and hashing used for change detection.
package note

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Summary is the lightweight listing entry returned by the source for each
// note. It carries identity and display metadata but not the body.
type Summary struct {
	ID          string
	Title       string
	ParentID    string
	UpdatedTime time.Time
}

// Content is a fully fetched note, ready for canonical formatting.
//
// NotebookTitle is resolved by the source adapter from ParentID and may be
// empty when the notebook cannot be determined.
type Content struct {
	Summary
	Body          string
	NotebookTitle string
}

// Canonical renders the content that is uploaded to the target.
//
// The note title is prepended as an H1 heading unless the body already
// starts with it, and a metadata footer with the last-updated stamp and
// notebook title is appended. Change detection uses Fingerprint, not a
// digest of this rendering, so the footer's timestamp never forces a
// re-upload by itself.
func Canonical(c Content) string {
	title := c.Title
	if title == "" {
		title = "Untitled"
	}

	var b strings.Builder
	heading := "# " + title
	if !strings.HasPrefix(strings.TrimSpace(c.Body), heading) {
		b.WriteString(heading)
		b.WriteString("\n\n")
	}
	b.WriteString(c.Body)

	if !c.UpdatedTime.IsZero() {
		b.WriteString("\n\n---\n")
		fmt.Fprintf(&b, "*Last updated: %s*\n", c.UpdatedTime.UTC().Format(time.RFC3339))
	}
	if c.NotebookTitle != "" {
		fmt.Fprintf(&b, "*Notebook: %s*\n", c.NotebookTitle)
	}

	return b.String()
}

// Hash returns the hex SHA-256 digest of the given text.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Fingerprint digests the fields of a note that matter for change
// detection: title, body, and notebook title. The last-updated stamp is
// excluded on purpose; it changes on metadata-only touches (tag edits,
// notebook moves set it too) and would force spurious re-uploads of
// unchanged content. Title and notebook are included because they appear
// in the rendered document, so a rename must propagate as an update.
func Fingerprint(c Content) string {
	var b strings.Builder
	b.WriteString(c.Title)
	b.WriteByte(0)
	b.WriteString(c.Body)
	b.WriteByte(0)
	b.WriteString(c.NotebookTitle)
	return Hash(b.String())
}

// Filename builds a target-safe markdown filename from a note's identity.
// The title portion is sanitized and truncated so the note ID alone
// guarantees uniqueness.
func Filename(noteID, title string) string {
	safe := make([]rune, 0, len(title))
	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			safe = append(safe, r)
		case r == ' ' || r == '-' || r == '_':
			safe = append(safe, r)
		default:
			safe = append(safe, '_')
		}
	}
	if len(safe) > 50 {
		safe = safe[:50]
	}
	return fmt.Sprintf("%s_%s.md", noteID, string(safe))
}
