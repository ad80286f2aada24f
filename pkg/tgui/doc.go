// Package tgui provides small Telegram UI helpers:
//   - Inline keyboard builders
//   - Callback data helpers (ns:action:payload)
//   - Safe HTML text helpers for ParseMode="HTML"
package tgui
