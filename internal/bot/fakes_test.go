package bot

import (
	"context"
	"strings"
	"sync"

	"attendbot/internal/roster"
	"attendbot/internal/sheet"
	kit "attendbot/internal/transport"
)

type fakeStore struct {
	mu            sync.Mutex
	rows          [][]string
	rowsErr       error
	colors        map[sheet.Addr]sheet.Color
	values        map[sheet.Addr]string
	writeErr      error
	invalidations int
}

func newFakeStore(rows [][]string) *fakeStore {
	return &fakeStore{
		rows:   rows,
		colors: make(map[sheet.Addr]sheet.Color),
		values: make(map[sheet.Addr]string),
	}
}

func (f *fakeStore) Rows(ctx context.Context) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	// Writes land in values; fold them back so re-reads see them.
	out := make([][]string, len(f.rows))
	for i, r := range f.rows {
		out[i] = append([]string(nil), r...)
	}
	for a, v := range f.values {
		if a.Row < len(out) {
			row := out[a.Row]
			for len(row) <= a.Col {
				row = append(row, "")
			}
			row[a.Col] = v
			out[a.Row] = row
		}
	}
	return out, nil
}

func (f *fakeStore) CellColor(ctx context.Context, a sheet.Addr) (sheet.Color, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colors[a], nil
}

func (f *fakeStore) SetCellValue(ctx context.Context, a sheet.Addr, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.values[a] = v
	return nil
}

func (f *fakeStore) SetCellColor(ctx context.Context, a sheet.Addr, c sheet.Color) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.colors[a] = c
	return nil
}

func (f *fakeStore) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
}

func (f *fakeStore) valueAt(a sheet.Addr) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[a]
	return v, ok
}

type fakeDir struct {
	mu     sync.Mutex
	byChat map[int64]roster.Recipient
	err    error
}

func newFakeDir(rs ...roster.Recipient) *fakeDir {
	d := &fakeDir{byChat: make(map[int64]roster.Recipient)}
	for _, r := range rs {
		d.byChat[r.ChatID] = r
	}
	return d
}

func (d *fakeDir) Upsert(ctx context.Context, r roster.Recipient) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	for _, ex := range d.byChat {
		if roster.Fold(ex.SheetName) == roster.Fold(r.SheetName) && ex.ChatID != r.ChatID {
			return roster.ErrNameClaimed
		}
	}
	d.byChat[r.ChatID] = r
	return nil
}

func (d *fakeDir) ByChatID(ctx context.Context, chatID int64) (roster.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return roster.Recipient{}, d.err
	}
	r, ok := d.byChat[chatID]
	if !ok {
		return roster.Recipient{}, roster.ErrNotFound
	}
	return r, nil
}

func (d *fakeDir) ByHandle(ctx context.Context, handle string) (roster.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := strings.TrimPrefix(handle, "@")
	for _, r := range d.byChat {
		if r.Handle != "" && strings.EqualFold(r.Handle, h) {
			return r, nil
		}
	}
	return roster.Recipient{}, roster.ErrNotFound
}

func (d *fakeDir) BySheetName(ctx context.Context, name string) (roster.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range d.byChat {
		if roster.Fold(r.SheetName) == roster.Fold(name) {
			return r, nil
		}
	}
	return roster.Recipient{}, roster.ErrNotFound
}

func (d *fakeDir) All(ctx context.Context) ([]roster.Recipient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]roster.Recipient, 0, len(d.byChat))
	for _, r := range d.byChat {
		out = append(out, r)
	}
	return out, nil
}

func (d *fakeDir) Remove(ctx context.Context, chatID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.byChat[chatID]; !ok {
		return roster.ErrNotFound
	}
	delete(d.byChat, chatID)
	return nil
}

type sentMessage struct {
	Chat   int64
	Text   string
	Markup any
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
	docs []kit.Document
	acks []string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func (f *fakeTransport) Start(ctx context.Context, out chan<- kit.Update) error { return nil }

func (f *fakeTransport) Stop(ctx context.Context) error { return nil }

func (f *fakeTransport) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkup
	}
	f.sent = append(f.sent, sentMessage{Chat: to.ChatID, Text: text, Markup: markup})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.sent)}, nil
}

func (f *fakeTransport) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	return nil
}

func (f *fakeTransport) SendDocument(ctx context.Context, to kit.ChatTarget, doc kit.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs = append(f.docs, doc)
	return nil
}

func (f *fakeTransport) AnswerCallback(ctx context.Context, callbackID string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, text)
	return nil
}

func (f *fakeTransport) lastSent() (sentMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentMessage{}, false
	}
	return f.sent[len(f.sent)-1], true
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) lastAck() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acks) == 0 {
		return "", false
	}
	return f.acks[len(f.acks)-1], true
}
