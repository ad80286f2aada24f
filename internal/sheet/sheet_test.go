package sheet

import (
	"testing"
	"time"

	sheets "google.golang.org/api/sheets/v4"
)

func TestColLetter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		col  int
		want string
	}{
		{0, "A"},
		{1, "B"},
		{25, "Z"},
		{26, "AA"},
		{27, "AB"},
		{51, "AZ"},
		{52, "BA"},
		{701, "ZZ"},
		{702, "AAA"},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := ColLetter(tt.col); got != tt.want {
			t.Errorf("ColLetter(%d) = %q, want %q", tt.col, got, tt.want)
		}
	}
}

func TestAddrA1(t *testing.T) {
	t.Parallel()

	if got := (Addr{Row: 2, Col: 1}).A1(); got != "B3" {
		t.Errorf("A1 = %q, want B3", got)
	}
	if got := (Addr{Row: 0, Col: 26}).A1(); got != "AA1" {
		t.Errorf("A1 = %q, want AA1", got)
	}
}

func TestQuoteSheet(t *testing.T) {
	t.Parallel()

	if got := quoteSheet("Schedule"); got != "'Schedule'" {
		t.Errorf("quoteSheet = %q", got)
	}
	if got := quoteSheet("April '26"); got != "'April ''26'" {
		t.Errorf("quoteSheet with quote = %q", got)
	}
}

func gridCell(text string, fg *sheets.Color) *sheets.CellData {
	cell := &sheets.CellData{FormattedValue: text}
	if fg != nil {
		cell.EffectiveFormat = &sheets.CellFormat{
			TextFormat: &sheets.TextFormat{ForegroundColor: fg},
		}
	}
	return cell
}

func TestBuildSnapshot(t *testing.T) {
	t.Parallel()

	resp := &sheets.Spreadsheet{
		Sheets: []*sheets.Sheet{{
			Data: []*sheets.GridData{{
				StartRow:    2,
				StartColumn: 1,
				RowData: []*sheets.RowData{
					{Values: []*sheets.CellData{
						gridCell("1.9.2026", nil),
						gridCell("19:00", nil),
						gridCell("alice", &sheets.Color{Green: 1}),
						gridCell("", nil),
					}},
					{Values: []*sheets.CellData{
						gridCell("", nil),
					}},
					{Values: []*sheets.CellData{
						gridCell("bob", &sheets.Color{}),
					}},
				},
			}},
		}},
	}

	snap := buildSnapshot(resp)

	// Rows 0 and 1 are padding for the sub-range offset.
	if len(snap.rows) != 5 {
		t.Fatalf("rows = %d, want 5", len(snap.rows))
	}
	if len(snap.rows[0]) != 0 || len(snap.rows[1]) != 0 {
		t.Errorf("offset rows not empty: %v %v", snap.rows[0], snap.rows[1])
	}
	if got := snap.rows[2]; len(got) != 4 || got[1] != "1.9.2026" || got[3] != "alice" {
		t.Errorf("row 2 = %v", got)
	}
	// A row of only empty cells trims to nothing.
	if len(snap.rows[3]) != 0 {
		t.Errorf("row 3 = %v, want empty", snap.rows[3])
	}

	if c := snap.colors[(Addr{Row: 2, Col: 3})]; c.Green != 1 {
		t.Errorf("color at D3 = %+v", c)
	}
	// Explicit black counts as no color.
	if _, ok := snap.colors[(Addr{Row: 4, Col: 1})]; ok {
		t.Error("black foreground recorded as a color")
	}
	if len(snap.colors) != 1 {
		t.Errorf("colors = %d entries, want 1", len(snap.colors))
	}
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	c := newCache(time.Minute)
	c.now = func() time.Time { return now }

	if c.get() != nil {
		t.Fatal("empty cache returned a snapshot")
	}

	snap := &snapshot{fetched: now}
	c.put(snap)
	if c.get() != snap {
		t.Fatal("fresh snapshot not returned")
	}

	now = now.Add(30 * time.Second)
	if c.get() != snap {
		t.Fatal("snapshot expired early")
	}

	now = now.Add(31 * time.Second)
	if c.get() != nil {
		t.Fatal("stale snapshot returned")
	}

	c.put(&snapshot{fetched: now})
	c.invalidate()
	if c.get() != nil {
		t.Fatal("invalidate did not drop snapshot")
	}
}

func TestCacheDisabled(t *testing.T) {
	t.Parallel()

	c := newCache(0)
	c.put(&snapshot{fetched: time.Now()})
	if c.get() != nil {
		t.Fatal("disabled cache retained a snapshot")
	}
}
