// internal/autofix/domclean/domclean.go
package domclean

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

const (
	// CleanSuffix marks a normalized snapshot written beside the raw one.
	CleanSuffix = "-clean.html"
	rawSuffix   = ".html"
)

// stripXPath selects every element whose content is never useful as prompt
// evidence. <plaintext> has no end tag, so rendering it would swallow the
// closing body and html tags on the next parse.
const stripXPath = "//script|//style|//plaintext"

// Normalize reduces a captured DOM snapshot to its title and body markup, with
// all script, style and plaintext elements removed. It never fails: input the parser
// cannot make sense of yields an empty document.
func Normalize(raw string) string {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return assemble("", "")
	}

	for _, n := range htmlquery.Find(doc, stripXPath) {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}

	var title, body string
	if t := htmlquery.FindOne(doc, "//title"); t != nil {
		title = htmlquery.InnerText(t)
	}
	if b := htmlquery.FindOne(doc, "//body"); b != nil {
		body = renderChildren(b)
	}
	return assemble(title, body)
}

func assemble(title, body string) string {
	return "<html><head><title>" + html.EscapeString(title) + "</title></head><body>" + body + "</body></html>"
}

func renderChildren(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&sb, c); err != nil {
			// Render only fails on writer errors, which a strings.Builder never returns.
			continue
		}
	}
	return sb.String()
}

// CleanPath derives the normalized artifact name for a raw snapshot.
func CleanPath(rawPath string) string {
	if IsClean(rawPath) {
		return rawPath
	}
	return strings.TrimSuffix(rawPath, rawSuffix) + CleanSuffix
}

// IsClean reports whether path already names a normalized snapshot.
func IsClean(path string) bool {
	return strings.HasSuffix(path, CleanSuffix)
}

// FileStat records the effect of normalizing one snapshot.
type FileStat struct {
	Source      string
	Output      string
	InputChars  int
	OutputChars int
}

// Cleaner normalizes snapshots on disk.
type Cleaner struct {
	logger *zap.Logger
}

// NewCleaner creates a Cleaner.
func NewCleaner(logger *zap.Logger) *Cleaner {
	return &Cleaner{logger: logger.Named("domclean")}
}

// CleanFile normalizes one raw snapshot and writes the result beside it.
func (c *Cleaner) CleanFile(rawPath string) (*FileStat, error) {
	content, err := os.ReadFile(rawPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read DOM snapshot '%s': %w", rawPath, err)
	}

	cleaned := Normalize(string(content))
	out := CleanPath(rawPath)
	if err := os.WriteFile(out, []byte(cleaned), 0644); err != nil {
		return nil, fmt.Errorf("failed to write normalized snapshot '%s': %w", out, err)
	}

	stat := &FileStat{
		Source:      rawPath,
		Output:      out,
		InputChars:  len(content),
		OutputChars: len(cleaned),
	}
	c.logger.Info("Normalized DOM snapshot.",
		zap.String("source", filepath.Base(rawPath)),
		zap.String("output", filepath.Base(out)),
		zap.Int("input_chars", stat.InputChars),
		zap.Int("output_chars", stat.OutputChars))
	return stat, nil
}

// CleanDir normalizes every raw snapshot in a failures directory. A missing
// directory means there were no failures and is not an error.
func (c *Cleaner) CleanDir(dir string) ([]FileStat, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("No failures directory found.", zap.String("dir", dir))
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list failures directory '%s': %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, rawSuffix) || IsClean(name) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	stats := make([]FileStat, 0, len(names))
	for _, name := range names {
		stat, err := c.CleanFile(filepath.Join(dir, name))
		if err != nil {
			return stats, err
		}
		stats = append(stats, *stat)
	}

	c.logger.Info("Processed failure snapshots.", zap.Int("count", len(stats)))
	return stats, nil
}
