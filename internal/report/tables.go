// Package report reads and writes the Markdown that model answers are
// delivered in: table extraction, tables of contents and spreadsheet export.
package report

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

// Table is a GFM table with cell text stripped of inline markup.
type Table struct {
	Headers []string
	Rows    [][]string
}

// FirstColumn returns the non-empty first-column values of every row.
func (t Table) FirstColumn() []string {
	var out []string
	for _, row := range t.Rows {
		if len(row) == 0 {
			continue
		}
		if v := strings.TrimSpace(row[0]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

func parse(src []byte) ast.Node {
	return markdown.Parser().Parse(text.NewReader(src))
}

// ParseTables returns every table in the document in order of appearance.
func ParseTables(doc string) []Table {
	src := []byte(doc)
	var tables []Table
	ast.Walk(parse(src), func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		tbl, ok := n.(*east.Table)
		if !ok {
			return ast.WalkContinue, nil
		}
		tables = append(tables, readTable(tbl, src))
		return ast.WalkSkipChildren, nil
	})
	return tables
}

func readTable(tbl *east.Table, src []byte) Table {
	var t Table
	for row := tbl.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		if _, header := row.(*east.TableHeader); header {
			t.Headers = cells
			continue
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Value(src))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}

// CountRows returns the number of body rows in the first table, or 0 when
// the document has none.
func CountRows(doc string) int {
	tables := ParseTables(doc)
	if len(tables) == 0 {
		return 0
	}
	return len(tables[0].Rows)
}
