package remind

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
	rowsCalls     int
	colors        map[sheet.Addr]sheet.Color
	setColors     map[sheet.Addr]sheet.Color
	setColorErr   error
	setValues     map[sheet.Addr]string
	invalidations int
}

func newFakeStore(rows [][]string) *fakeStore {
	return &fakeStore{
		rows:      rows,
		colors:    make(map[sheet.Addr]sheet.Color),
		setColors: make(map[sheet.Addr]sheet.Color),
		setValues: make(map[sheet.Addr]string),
	}
}

func (f *fakeStore) Rows(ctx context.Context) ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rowsCalls++
	if f.rowsErr != nil {
		return nil, f.rowsErr
	}
	return f.rows, nil
}

func (f *fakeStore) CellColor(ctx context.Context, a sheet.Addr) (sheet.Color, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.colors[a], nil
}

func (f *fakeStore) SetCellValue(ctx context.Context, a sheet.Addr, v string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setValues[a] = v
	return nil
}

func (f *fakeStore) SetCellColor(ctx context.Context, a sheet.Addr, c sheet.Color) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setColorErr != nil {
		return f.setColorErr
	}
	f.colors[a] = c
	f.setColors[a] = c
	return nil
}

func (f *fakeStore) Invalidate() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
}

type fakeDir struct {
	mu     sync.Mutex
	byChat map[int64]roster.Recipient
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

type editedMessage struct {
	Ref    kit.MessageRef
	Text   string
	Markup any
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      []sentMessage
	edits     []editedMessage
	docs      []kit.Document
	acks      []string
	failChats map[int64]error
	nextID    int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{failChats: make(map[int64]error)}
}

func (f *fakeTransport) Start(ctx context.Context, out chan<- kit.Update) error { return nil }

func (f *fakeTransport) Stop(ctx context.Context) error { return nil }

func (f *fakeTransport) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failChats[to.ChatID]; err != nil {
		return kit.MessageRef{}, err
	}
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkup
	}
	f.sent = append(f.sent, sentMessage{Chat: to.ChatID, Text: text, Markup: markup})
	f.nextID++
	return kit.MessageRef{ChatID: to.ChatID, MessageID: f.nextID}, nil
}

func (f *fakeTransport) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var markup any
	if opt != nil {
		markup = opt.ReplyMarkup
	}
	f.edits = append(f.edits, editedMessage{Ref: ref, Text: text, Markup: markup})
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

func (f *fakeTransport) sentTo(chat int64) []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentMessage
	for _, m := range f.sent {
		if m.Chat == chat {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) lastAck() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acks) == 0 {
		return ""
	}
	return f.acks[len(f.acks)-1]
}
