// Package export turns a record list into the spreadsheet users download
// from the export page.
package export

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"savebuddy/internal/core"
)

type ScopeKind string

const (
	ScopeAll      ScopeKind = "all"
	ScopePeriod   ScopeKind = "period"
	ScopeCategory ScopeKind = "category"
)

var ErrInvalidScope = errors.New("invalid export scope")

// Scope selects which records go into the sheet. Period bounds are
// inclusive.
type Scope struct {
	Kind     ScopeKind     `json:"kind"`
	From     time.Time     `json:"from,omitempty"`
	To       time.Time     `json:"to,omitempty"`
	Category core.Category `json:"category,omitempty"`
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeAll, "":
		return nil
	case ScopePeriod:
		if s.From.IsZero() || s.To.IsZero() || s.To.Before(s.From) {
			return fmt.Errorf("%w: period needs from <= to", ErrInvalidScope)
		}
		return nil
	case ScopeCategory:
		if !s.Category.Valid() {
			return fmt.Errorf("%w: %w", ErrInvalidScope, core.ErrInvalidCategory)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidScope, s.Kind)
}

func (s Scope) filter(records []core.Record) []core.Record {
	switch s.Kind {
	case ScopePeriod:
		return core.Filter(records, func(r core.Record) bool {
			return !r.CreatedAt.Before(s.From) && !r.CreatedAt.After(s.To)
		})
	case ScopeCategory:
		return core.InCategory(records, s.Category)
	}
	return records
}

// Row is one line of the sheet.
type Row struct {
	No       int      `json:"no"`
	Date     string   `json:"date"`
	Time     string   `json:"time"`
	ItemName string   `json:"itemName"`
	Category string   `json:"category"`
	Amount   core.Won `json:"amount"`
	Memo     string   `json:"memo"`
}

// Sheet is a rendered export: the record rows followed by a total row.
type Sheet struct {
	Name     string   `json:"name"`
	Filename string   `json:"filename"`
	Header   []string `json:"header"`
	Rows     []Row    `json:"rows"`
	Total    core.Won `json:"totalAmount"`
	Count    int      `json:"totalRecords"`
}

var columnWidths = []float64{8, 12, 10, 20, 12, 15, 30}

// Build renders records of kind within scope. now names the file.
func Build(kind core.RecordKind, records []core.Record, scope Scope, now time.Time) (Sheet, error) {
	if err := scope.Validate(); err != nil {
		return Sheet{}, err
	}
	selected := scope.filter(records)

	amountHeader := "절약금액"
	if kind == core.Expense {
		amountHeader = "소비금액"
	}
	sheet := Sheet{
		Name:     kind.Label(),
		Filename: Filename(kind, scope, now),
		Header:   []string{"번호", "날짜", "시간", "항목명", "카테고리", amountHeader, "메모"},
		Rows:     make([]Row, 0, len(selected)+1),
		Count:    len(selected),
		Total:    core.Sum(selected),
	}
	for i, r := range selected {
		memo := r.Memo
		if memo == "" {
			memo = "-"
		}
		at := r.CreatedAt.Local()
		sheet.Rows = append(sheet.Rows, Row{
			No:       i + 1,
			Date:     koreanDate(at),
			Time:     koreanTime(at),
			ItemName: r.ItemName,
			Category: string(r.Category),
			Amount:   r.Amount,
			Memo:     memo,
		})
	}
	sheet.Rows = append(sheet.Rows, Row{
		ItemName: "총 합계",
		Amount:   sheet.Total,
		Memo:     fmt.Sprintf("총 %d건", sheet.Count),
	})
	return sheet, nil
}

// Filename is the default download name for kind and scope.
func Filename(kind core.RecordKind, scope Scope, now time.Time) string {
	prefix := kind.Label()
	switch scope.Kind {
	case ScopePeriod:
		return fmt.Sprintf("%s_%s_%s.xlsx", prefix, scope.From.Format(time.DateOnly), scope.To.Format(time.DateOnly))
	case ScopeCategory:
		return fmt.Sprintf("%s_%s_%s.xlsx", prefix, scope.Category, now.Format(time.DateOnly))
	}
	return fmt.Sprintf("%s_%s.xlsx", prefix, now.Format(time.DateOnly))
}

// Values returns the header and all rows as spreadsheet cells.
func (s Sheet) Values() [][]any {
	out := make([][]any, 0, len(s.Rows)+1)
	header := make([]any, len(s.Header))
	for i, h := range s.Header {
		header[i] = h
	}
	out = append(out, header)
	for _, r := range s.Rows {
		out = append(out, r.cells())
	}
	return out
}

func (r Row) cells() []any {
	return []any{r.No, r.Date, r.Time, r.ItemName, r.Category, int64(r.Amount), r.Memo}
}

// WriteXLSX encodes s as a workbook with a single sheet.
func WriteXLSX(w io.Writer, s Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	name := s.Name
	if name == "" {
		name = "Sheet1"
	}
	if err := f.SetSheetName("Sheet1", name); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for i, row := range s.Values() {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	for i, width := range columnWidths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(name, col, col, width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// SaveXLSX writes s into dir under its filename and returns the path.
func SaveXLSX(dir string, s Sheet) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(s.Filename))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := WriteXLSX(f, s); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}

func koreanDate(t time.Time) string {
	return fmt.Sprintf("%d. %d. %d.", t.Year(), int(t.Month()), t.Day())
}

func koreanTime(t time.Time) string {
	meridiem := "오전"
	h := t.Hour()
	if h >= 12 {
		meridiem = "오후"
	}
	if h%12 == 0 {
		h = 12
	} else {
		h %= 12
	}
	return fmt.Sprintf("%s %d:%02d:%02d", meridiem, h, t.Minute(), t.Second())
}
