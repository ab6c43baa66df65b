// Package layout splits exam sheets and answer keys into pages.
//
// All measurements are centimetres on an A4 portrait page.
package layout

import (
	"unicode/utf8"

	"github.com/pavelanni/quizbank/internal/model"
)

// SheetMetrics describes how much vertical space a question occupies.
type SheetMetrics struct {
	Capacity     float64 // usable height per page, below the header
	TextLine     float64 // one wrapped line of question text
	OptionLine   float64 // one answer line
	ItemGap      float64 // space after the last answer
	MainImage    float64 // height reserved for a question image
	OptionImage  float64 // height reserved for an answer image
	CharsPerLine int     // wrap width for question text
}

// DefaultSheetMetrics matches an A4 page with the header, printed on every
// page, ending 4.5 cm from the top and a 3 cm bottom margin.
var DefaultSheetMetrics = SheetMetrics{
	Capacity:     22.2,
	TextLine:     0.6,
	OptionLine:   0.5,
	ItemGap:      0.7,
	MainImage:    4.0,
	OptionImage:  2.0,
	CharsPerLine: 90,
}

// Item is a question placed on a sheet page.
type Item struct {
	Number   int // 1-based across the whole sheet
	Question model.Question
	Lines    int // wrapped lines of question text
	Height   float64
}

// Page is one sheet page.
type Page struct {
	Items []Item
}

// Footprint returns the wrapped line count and total height of q.
func (m SheetMetrics) Footprint(q model.Question) (lines int, height float64) {
	lines = wrappedLines(q.Content, m.CharsPerLine)
	height = float64(lines) * m.TextLine
	if q.ImagePath != "" {
		height += m.MainImage
	}
	for _, a := range q.Answers {
		height += m.OptionLine
		if a.ImagePath != "" {
			height += m.OptionImage
		}
	}
	return lines, height + m.ItemGap
}

func wrappedLines(text string, width int) int {
	n := utf8.RuneCountInString(text)
	if width <= 0 || n == 0 {
		return 1
	}
	return (n + width - 1) / width
}

// PaginateSheet lays questions out in order. A question that does not fit
// in the rest of the page starts a new one; a question taller than a whole
// page gets a page to itself.
func PaginateSheet(questions []model.Question, m SheetMetrics) []Page {
	var pages []Page
	var cur Page
	used := 0.0
	for i, q := range questions {
		lines, h := m.Footprint(q)
		if len(cur.Items) > 0 && used+h > m.Capacity {
			pages = append(pages, cur)
			cur, used = Page{}, 0
		}
		cur.Items = append(cur.Items, Item{Number: i + 1, Question: q, Lines: lines, Height: h})
		used += h
	}
	if len(cur.Items) > 0 {
		pages = append(pages, cur)
	}
	return pages
}

// KeyMetrics describes the answer key grid.
type KeyMetrics struct {
	RowsPerColumn  int
	ColumnsPerPage int
}

// DefaultKeyMetrics fits 0.6 cm rows between 4 cm from the top and 2 cm from
// the bottom, in 3.5 cm columns.
var DefaultKeyMetrics = KeyMetrics{RowsPerColumn: 40, ColumnsPerPage: 5}

// KeyEntry is one numbered answer in the key.
type KeyEntry struct {
	Number  int
	Correct model.Option
}

// KeyPage holds columns of entries, filled top to bottom then left to right.
type KeyPage struct {
	Columns [][]KeyEntry
}

// PaginateKey fills columns of RowsPerColumn entries; after ColumnsPerPage
// columns it wraps to a new page.
func PaginateKey(questions []model.Question, m KeyMetrics) []KeyPage {
	rows, cols := max(m.RowsPerColumn, 1), max(m.ColumnsPerPage, 1)
	var pages []KeyPage
	for i, q := range questions {
		col := i / rows
		if col%cols == 0 && i%rows == 0 {
			pages = append(pages, KeyPage{})
		}
		p := &pages[len(pages)-1]
		if i%rows == 0 {
			p.Columns = append(p.Columns, nil)
		}
		c := len(p.Columns) - 1
		p.Columns[c] = append(p.Columns[c], KeyEntry{Number: i + 1, Correct: q.Correct})
	}
	return pages
}
