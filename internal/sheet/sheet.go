// Package sheet is the only boundary to the schedule spreadsheet. The rest
// of the codebase sees tabular rows, per-cell text colors and two write
// primitives; which cloud API serves them stays behind the Store interface.
package sheet

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrSheetNotFound means the configured tab title does not exist in the
	// spreadsheet.
	ErrSheetNotFound = errors.New("sheet: tab not found")

	// ErrOutOfRange means an address points outside the fetched grid.
	ErrOutOfRange = errors.New("sheet: address out of range")
)

// Addr is a zero-based cell address within the schedule tab.
type Addr struct {
	Row int
	Col int
}

// Color is a text foreground color with 0..1 float channels, matching the
// wire representation. The zero value is black, which also stands for
// "no explicit color".
type Color struct {
	Red   float64
	Green float64
	Blue  float64
}

// IsZero reports whether the color is unset (default black).
func (c Color) IsZero() bool {
	return c.Red == 0 && c.Green == 0 && c.Blue == 0
}

// Store is the read/write port to the schedule grid.
//
// Reads are served from a snapshot refreshed at most once per TTL; both
// writes invalidate it so the next read observes the change. Callers that
// need hard freshness call Invalidate first.
type Store interface {
	// Rows returns the cell texts of the schedule grid. Trailing empty
	// cells and rows are trimmed.
	Rows(ctx context.Context) ([][]string, error)

	// CellColor returns the text color of one cell. Cells without an
	// explicit color report the zero Color.
	CellColor(ctx context.Context, addr Addr) (Color, error)

	// SetCellValue writes a plain text value into one cell.
	SetCellValue(ctx context.Context, addr Addr, value string) error

	// SetCellColor recolors the text of one cell. The zero color resets
	// the cell to the sheet default.
	SetCellColor(ctx context.Context, addr Addr, color Color) error

	// Invalidate drops the cached snapshot.
	Invalidate()
}

// Config carries everything the Sheets-backed Store needs.
type Config struct {
	SpreadsheetID   string
	CredentialsFile string

	// Sheet is the tab title. Range optionally restricts the grid in A1
	// notation without the tab prefix ("A1:M40"); empty covers the tab.
	Sheet string
	Range string

	CacheTTL time.Duration
}
