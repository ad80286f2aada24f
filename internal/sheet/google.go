package sheet

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/api/option"
	sheets "google.golang.org/api/sheets/v4"

	"attendbot/pkg/logx"
)

// Client implements Store on top of the Google Sheets v4 API.
//
// One grid fetch serves both cell texts and text colors; the snapshot lives
// in a TTL cache that every write invalidates.
type Client struct {
	svc     *sheets.Service
	cfg     Config
	sheetID int64
	cache   *cache
	log     logx.Logger
}

var _ Store = (*Client)(nil)

func New(ctx context.Context, cfg Config, log logx.Logger) (*Client, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	c := &Client{
		svc:   svc,
		cfg:   cfg,
		cache: newCache(cfg.CacheTTL),
		log:   log,
	}
	if err := c.resolveSheetID(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// resolveSheetID maps the configured tab title to the numeric id needed for
// format writes.
func (c *Client) resolveSheetID(ctx context.Context) error {
	resp, err := c.svc.Spreadsheets.Get(c.cfg.SpreadsheetID).
		Fields("sheets.properties(sheetId,title)").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("list sheets: %w", err)
	}
	for _, s := range resp.Sheets {
		if s.Properties != nil && s.Properties.Title == c.cfg.Sheet {
			c.sheetID = s.Properties.SheetId
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrSheetNotFound, c.cfg.Sheet)
}

func (c *Client) Rows(ctx context.Context) ([][]string, error) {
	snap, err := c.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return snap.rows, nil
}

func (c *Client) CellColor(ctx context.Context, addr Addr) (Color, error) {
	snap, err := c.fetch(ctx)
	if err != nil {
		return Color{}, err
	}
	return snap.colors[addr], nil
}

func (c *Client) SetCellValue(ctx context.Context, addr Addr, value string) error {
	if addr.Row < 0 || addr.Col < 0 {
		return fmt.Errorf("%w: %s", ErrOutOfRange, addr)
	}
	vr := &sheets.ValueRange{Values: [][]any{{value}}}
	_, err := c.svc.Spreadsheets.Values.Update(c.cfg.SpreadsheetID, c.cellRef(addr), vr).
		ValueInputOption("USER_ENTERED").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write cell %s: %w", addr, err)
	}
	c.cache.invalidate()
	c.log.Debug("sheet.cell_written", logx.String("addr", addr.A1()))
	return nil
}

func (c *Client) SetCellColor(ctx context.Context, addr Addr, color Color) error {
	if addr.Row < 0 || addr.Col < 0 {
		return fmt.Errorf("%w: %s", ErrOutOfRange, addr)
	}
	// A zero color clears the annotation: the field mask with a nil
	// foreground resets the cell to the sheet default.
	var fg *sheets.Color
	if !color.IsZero() {
		fg = &sheets.Color{
			Red:   color.Red,
			Green: color.Green,
			Blue:  color.Blue,
		}
	}
	req := &sheets.Request{
		RepeatCell: &sheets.RepeatCellRequest{
			Range: &sheets.GridRange{
				SheetId:          c.sheetID,
				StartRowIndex:    int64(addr.Row),
				EndRowIndex:      int64(addr.Row + 1),
				StartColumnIndex: int64(addr.Col),
				EndColumnIndex:   int64(addr.Col + 1),
			},
			Cell: &sheets.CellData{
				UserEnteredFormat: &sheets.CellFormat{
					TextFormat: &sheets.TextFormat{
						ForegroundColor: fg,
					},
				},
			},
			Fields: "userEnteredFormat.textFormat.foregroundColor",
		},
	}
	_, err := c.svc.Spreadsheets.BatchUpdate(c.cfg.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{req},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("recolor cell %s: %w", addr, err)
	}
	c.cache.invalidate()
	c.log.Debug("sheet.cell_recolored", logx.String("addr", addr.A1()))
	return nil
}

func (c *Client) Invalidate() { c.cache.invalidate() }

func (c *Client) fetch(ctx context.Context) (*snapshot, error) {
	if snap := c.cache.get(); snap != nil {
		return snap, nil
	}

	resp, err := c.svc.Spreadsheets.Get(c.cfg.SpreadsheetID).
		Ranges(c.gridRef()).
		IncludeGridData(true).
		Fields("sheets.data(startRow,startColumn,rowData.values(formattedValue,effectiveFormat.textFormat.foregroundColor))").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetch grid: %w", err)
	}

	snap := buildSnapshot(resp)
	c.cache.put(snap)
	c.log.Debug("sheet.fetched",
		logx.Int("rows", len(snap.rows)),
		logx.Int("colored_cells", len(snap.colors)))
	return snap, nil
}

func (c *Client) gridRef() string {
	ref := quoteSheet(c.cfg.Sheet)
	if c.cfg.Range != "" {
		ref += "!" + c.cfg.Range
	}
	return ref
}

func (c *Client) cellRef(addr Addr) string {
	return quoteSheet(c.cfg.Sheet) + "!" + addr.A1()
}

// buildSnapshot flattens grid data into absolute-addressed rows and colors.
// Sub-range fetches are padded so addresses still refer to the whole tab.
func buildSnapshot(resp *sheets.Spreadsheet) *snapshot {
	snap := &snapshot{
		colors:  make(map[Addr]Color),
		fetched: time.Now(),
	}
	if len(resp.Sheets) == 0 {
		return snap
	}

	var rows [][]string
	for _, gd := range resp.Sheets[0].Data {
		rowBase := int(gd.StartRow)
		colBase := int(gd.StartColumn)
		for ri, rd := range gd.RowData {
			abs := rowBase + ri
			for len(rows) <= abs {
				rows = append(rows, nil)
			}
			row := make([]string, colBase, colBase+len(rd.Values))
			for ci, cell := range rd.Values {
				text := ""
				if cell != nil {
					text = cell.FormattedValue
					if color, ok := textColor(cell); ok {
						snap.colors[Addr{Row: abs, Col: colBase + ci}] = color
					}
				}
				row = append(row, text)
			}
			rows[abs] = trimTrailingEmpty(row)
		}
	}
	for len(rows) > 0 && len(rows[len(rows)-1]) == 0 {
		rows = rows[:len(rows)-1]
	}
	snap.rows = rows
	return snap
}

func textColor(cell *sheets.CellData) (Color, bool) {
	f := cell.EffectiveFormat
	if f == nil || f.TextFormat == nil || f.TextFormat.ForegroundColor == nil {
		return Color{}, false
	}
	fg := f.TextFormat.ForegroundColor
	c := Color{Red: fg.Red, Green: fg.Green, Blue: fg.Blue}
	if c.IsZero() {
		// Explicit black is indistinguishable from the default.
		return Color{}, false
	}
	return c, true
}

func trimTrailingEmpty(row []string) []string {
	for len(row) > 0 && row[len(row)-1] == "" {
		row = row[:len(row)-1]
	}
	return row
}
