// Package roster keeps the registry linking Telegram chats to the names
// written on the schedule grid. Reminders can only reach participants who
// registered here.
package roster

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("roster: not registered")

	// ErrNameClaimed means another chat already registered this sheet name.
	ErrNameClaimed = errors.New("roster: sheet name already claimed")
)

// Recipient is one registered participant.
type Recipient struct {
	// ChatID is the Telegram chat reminders are delivered to.
	ChatID int64

	// Handle is the Telegram username without "@"; may be empty.
	Handle string

	// DisplayName is the Telegram-side name, for admin listings.
	DisplayName string

	// SheetName is the name as written on the grid. Grid lookups fold it
	// with Fold.
	SheetName string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory is the lookup surface the reminder engine and the command
// handlers share.
type Directory interface {
	// Upsert registers or re-registers a chat. A sheet name held by a
	// different chat fails with ErrNameClaimed.
	Upsert(ctx context.Context, r Recipient) error

	ByChatID(ctx context.Context, chatID int64) (Recipient, error)

	// ByHandle resolves a Telegram username, with or without the leading
	// "@". Recipients without a handle are never matched.
	ByHandle(ctx context.Context, handle string) (Recipient, error)

	// BySheetName resolves a grid occupant to a recipient; the name is
	// folded before lookup.
	BySheetName(ctx context.Context, name string) (Recipient, error)

	All(ctx context.Context) ([]Recipient, error)

	Remove(ctx context.Context, chatID int64) error
}

// Fold normalizes a sheet name for matching: trimmed, lowercased.
func Fold(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
