package tgui

import "strings"

// MaxCallbackDataLen is Telegram's cap on callback_data, counting the whole
// "ns:action:payload" string in bytes.
const MaxCallbackDataLen = 64

// Data formats inline callback data as "ns:action:payload".
// Payload is kept as-is; keep it short, Telegram caps callback_data at 64 bytes.
func Data(ns, action, payload string) string {
	ns = strings.TrimSpace(ns)
	action = strings.TrimSpace(action)
	if payload == "" {
		return ns + ":" + action
	}
	return ns + ":" + action + ":" + payload
}

// Split parses "ns:action:payload" produced by Data. Payload may be empty.
func Split(data string) (ns, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 {
		return "", "", "", false
	}
	ns, action = parts[0], parts[1]
	if len(parts) == 3 {
		payload = parts[2]
	}
	return ns, action, payload, ns != "" && action != ""
}
