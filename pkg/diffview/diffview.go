// Package diffview is the injected capability behind --review-conversion-result:
// it hands the operator a side-by-side view of the source and replacement
// instance descriptors. The viewer itself is out of scope (spec.md §1); only
// the narrow interface and a default terminal implementation live here.
package diffview

import (
	"encoding/json"
	"fmt"
	"io"
)

// Viewer renders two JSON documents for comparison.
type Viewer interface {
	Show(w io.Writer, title string, before, after interface{}) error
}

// TextViewer is the default Viewer: pretty-printed JSON, before then after,
// with no external dependency. Good enough for a terminal; a GUI diff tool
// can be wired in by implementing Viewer.
type TextViewer struct{}

func (TextViewer) Show(w io.Writer, title string, before, after interface{}) error {
	beforeJSON, err := json.MarshalIndent(before, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal before state: %w", err)
	}
	afterJSON, err := json.MarshalIndent(after, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal after state: %w", err)
	}
	fmt.Fprintf(w, "=== %s: before ===\n%s\n\n=== %s: after ===\n%s\n", title, beforeJSON, title, afterJSON)
	return nil
}
