package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Frame types that carry no session state.
const (
	framePing      = "ping"
	frameHeartbeat = "heartbeat"
	frameConnected = "connected"
)

// frame is one JSON message on a session stream.
type frame struct {
	Type      string                `json:"type"`
	SessionID string                `json:"session_id"`
	Stage     string                `json:"stage,omitempty"`
	Text      string                `json:"text,omitempty"`
	Content   string                `json:"content,omitempty"`
	Proposal  *domain.TradeProposal `json:"proposal,omitempty"`
	Error     string                `json:"error,omitempty"`
	Seq       int                   `json:"seq,omitempty"`
	Ts        int64                 `json:"ts,omitempty"` // unix millis
}

// decodeEvent parses a stream frame. ok is false for control frames that
// should be skipped.
func decodeEvent(data []byte) (ev domain.Event, ok bool, err error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Event{}, false, fmt.Errorf("invalid stream frame: %w", err)
	}
	switch f.Type {
	case framePing, frameHeartbeat, frameConnected:
		return domain.Event{}, false, nil
	case "":
		return domain.Event{}, false, fmt.Errorf("stream frame without type")
	}

	ev = domain.Event{
		Type:      domain.EventType(f.Type),
		SessionID: f.SessionID,
		Stage:     f.Stage,
		Text:      f.Text,
		Proposal:  f.Proposal,
		Error:     f.Error,
		Seq:       f.Seq,
	}
	// Older workflow builds send reasoning as "content".
	if ev.Text == "" {
		ev.Text = f.Content
	}
	if f.Ts > 0 {
		ev.Ts = time.UnixMilli(f.Ts)
	}
	return ev, true, nil
}

// encodeEvent is the inverse of decodeEvent.
func encodeEvent(ev domain.Event) ([]byte, error) {
	f := frame{
		Type:      string(ev.Type),
		SessionID: ev.SessionID,
		Stage:     ev.Stage,
		Text:      ev.Text,
		Proposal:  ev.Proposal,
		Error:     ev.Error,
		Seq:       ev.Seq,
	}
	if !ev.Ts.IsZero() {
		f.Ts = ev.Ts.UnixMilli()
	}
	return json.Marshal(f)
}

func isTerminalEvent(t domain.EventType) bool {
	return t == domain.EventCompleted || t == domain.EventError || t == domain.EventCancelled
}
