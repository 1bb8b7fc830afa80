package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const maxSheetName = 31

// Sheet is one worksheet of an export.
type Sheet struct {
	Name   string
	Tables []Table
}

// WriteXLSX writes one worksheet per sheet. Tables on a sheet are stacked
// with a blank row between them and bold headers.
func WriteXLSX(w io.Writer, sheets []Sheet) error {
	if len(sheets) == 0 {
		return fmt.Errorf("export: no sheets")
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("export: creating style: %w", err)
	}

	used := make(map[string]int)
	first := -1
	for _, s := range sheets {
		name := uniqueName(sheetName(s.Name), used)
		idx, err := f.NewSheet(name)
		if err != nil {
			return fmt.Errorf("export: adding sheet %q: %w", name, err)
		}
		if first < 0 {
			first = idx
		}
		if err := writeTables(f, name, s.Tables, bold); err != nil {
			return err
		}
	}

	f.SetActiveSheet(first)
	if _, taken := used["Sheet1"]; !taken {
		if err := f.DeleteSheet("Sheet1"); err != nil {
			return fmt.Errorf("export: removing default sheet: %w", err)
		}
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("export: writing workbook: %w", err)
	}
	return nil
}

func writeTables(f *excelize.File, sheet string, tables []Table, headerStyle int) error {
	row := 1
	for _, t := range tables {
		if len(t.Headers) > 0 {
			if err := setRow(f, sheet, row, t.Headers); err != nil {
				return err
			}
			if err := f.SetRowStyle(sheet, row, row, headerStyle); err != nil {
				return fmt.Errorf("export: styling header: %w", err)
			}
			row++
		}
		for _, r := range t.Rows {
			if err := setRow(f, sheet, row, r); err != nil {
				return err
			}
			row++
		}
		row++
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
		return fmt.Errorf("export: writing row %d: %w", row, err)
	}
	return nil
}

// sheetName strips characters Excel rejects and truncates to the limit.
func sheetName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '-'
		}
		return r
	}, strings.TrimSpace(name))
	name = strings.Trim(name, "'")
	if name == "" {
		name = "Sheet"
	}
	if r := []rune(name); len(r) > maxSheetName {
		name = string(r[:maxSheetName])
	}
	return name
}

func uniqueName(name string, used map[string]int) string {
	n := used[name]
	used[name] = n + 1
	if n == 0 {
		return name
	}
	suffix := fmt.Sprintf(" (%d)", n+1)
	r := []rune(name)
	if len(r)+len(suffix) > maxSheetName {
		r = r[:maxSheetName-len(suffix)]
	}
	unique := string(r) + suffix
	used[unique]++
	return unique
}
