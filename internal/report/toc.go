package report

import (
	"fmt"
	"strings"

	"go.abhg.dev/goldmark/toc"
)

// Section is one headed block of a composed report.
type Section struct {
	Heading string
	Body    string
}

// Compose renders title, a linked table of contents and the sections as a
// single Markdown document. Section headings are level 3.
func Compose(title string, sections []Section) (string, error) {
	var body strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&body, "### %s\n\n%s\n\n", s.Heading, strings.TrimSpace(s.Body))
	}

	contents, err := TableOfContents(body.String())
	if err != nil {
		return "", err
	}

	var out strings.Builder
	fmt.Fprintf(&out, "# %s\n\n", title)
	if contents != "" {
		fmt.Fprintf(&out, "## Contents\n\n%s\n", contents)
	}
	out.WriteString(body.String())
	return strings.TrimRight(out.String(), "\n") + "\n", nil
}

// TableOfContents returns a nested Markdown list linking every heading in
// doc, or "" when there are none.
func TableOfContents(doc string) (string, error) {
	src := []byte(doc)
	tree, err := toc.Inspect(parse(src), src, toc.Compact(true))
	if err != nil {
		return "", fmt.Errorf("inspect TOC: %w", err)
	}
	var b strings.Builder
	writeItems(&b, tree.Items, 0)
	return b.String(), nil
}

func writeItems(b *strings.Builder, items toc.Items, depth int) {
	for _, item := range items {
		if len(item.Title) > 0 {
			fmt.Fprintf(b, "%s- [%s](#%s)\n", strings.Repeat("  ", depth), item.Title, item.ID)
		}
		writeItems(b, item.Items, depth+1)
	}
}
