package agent

import (
	"strings"

	"github.com/tidwall/gjson"
)

// EventKind tags the shapes opencode emits in --format json mode.
type EventKind int

const (
	EventKindUnknown EventKind = iota
	EventKindError
	EventKindAssistantMessage
	EventKindPlainContent
	EventKindPlainText
	EventKindPartText
)

func (k EventKind) String() string {
	switch k {
	case EventKindError:
		return "error"
	case EventKindAssistantMessage:
		return "assistant_message"
	case EventKindPlainContent:
		return "content"
	case EventKindPlainText:
		return "text"
	case EventKindPartText:
		return "part_text"
	default:
		return "unknown"
	}
}

// Event is one decoded stdout line. Text is the trimmed assistant fragment,
// or the error message for EventKindError.
type Event struct {
	Kind EventKind
	Text string
}

const defaultErrorMessage = "agent reported an error"

var unknown = []Event{{Kind: EventKindUnknown}}

// DecodeLine turns one NDJSON line into events. A line yields several
// events when it carries both a top-level content and text field.
// Malformed and unrecognized lines decode to a single EventKindUnknown.
func DecodeLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" || !gjson.Valid(line) {
		return unknown
	}
	v := gjson.Parse(line)
	if !v.IsObject() {
		return unknown
	}

	if v.Get("type").String() == "error" {
		msg := strings.TrimSpace(v.Get("error.data.message").String())
		if msg == "" {
			msg = strings.TrimSpace(v.Get("error.name").String())
		}
		if msg == "" {
			msg = defaultErrorMessage
		}
		return []Event{{Kind: EventKindError, Text: msg}}
	}

	if msg := v.Get("message"); msg.IsObject() && msg.Get("role").String() == "assistant" {
		if text, ok := stringField(msg.Get("content")); ok {
			return []Event{{Kind: EventKindAssistantMessage, Text: text}}
		}
		return unknown
	}

	var events []Event
	if text, ok := stringField(v.Get("content")); ok {
		events = append(events, Event{Kind: EventKindPlainContent, Text: text})
	}
	if text, ok := stringField(v.Get("text")); ok {
		events = append(events, Event{Kind: EventKindPlainText, Text: text})
	}
	if part := v.Get("part"); part.IsObject() {
		if text, ok := stringField(part.Get("text")); ok {
			events = append(events, Event{Kind: EventKindPartText, Text: text})
		}
	}
	if len(events) == 0 {
		return unknown
	}
	return events
}

func stringField(r gjson.Result) (string, bool) {
	if r.Type != gjson.String {
		return "", false
	}
	s := strings.TrimSpace(r.String())
	return s, s != ""
}
