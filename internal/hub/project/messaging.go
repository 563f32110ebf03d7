package project

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/swarmhub/swarmhub/internal/hub/state"
	"github.com/swarmhub/swarmhub/internal/hub/wire"
)

// maxMessageBody bounds a single message or broadcast body.
const maxMessageBody = 16 * 1024

// bodyPolicy strips all markup from message bodies. Bodies end up in
// dashboards and terminal UIs, so they are stored plain.
var bodyPolicy = bluemonday.StrictPolicy()

func sanitizeBody(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", wire.Errorf(wire.CodeInvalidRequest, "empty body")
	}
	if len(body) > maxMessageBody {
		return "", wire.Errorf(wire.CodeInvalidRequest, "body exceeds %d bytes", maxMessageBody)
	}
	return bodyPolicy.Sanitize(body), nil
}

// handleMessageSend delivers a direct message to another agent's
// inbox. Delivery is durable: the message is an event, so it survives
// the recipient being offline.
func (a *Actor) handleMessageSend(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.MessageSendParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	if a.st.AgentByName(p.To) == nil {
		return nil, wire.Errorf(wire.CodeNotFound, "agent %q not found", p.To)
	}
	body, err := sanitizeBody(p.Body)
	if err != nil {
		return nil, err
	}

	ev, err := a.emit(wire.KindMessage, state.MessagePayload{
		From:   ag.Name,
		To:     p.To,
		Thread: p.Thread,
		Body:   body,
		TS:     a.now(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"seq": ev.Seq, "to": p.To}, nil
}

// handleMessageInbox returns the caller's inbox entries with seq >
// since, oldest first. The caller keeps its own cursor.
func (a *Actor) handleMessageInbox(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.MessageInboxParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	box := a.st.Inboxes[ag.Name]
	out := make([]state.Message, 0, len(box))
	for _, m := range box {
		if m.Seq > p.Since {
			out = append(out, m)
		}
	}
	return map[string]any{"messages": out}, nil
}

// handleBroadcast publishes a chat event to every subscriber. Chat is
// fire-and-forget: no inbox state, just the event.
func (a *Actor) handleBroadcast(c Caller, req *wire.Request) (any, error) {
	ag, err := a.requireAgent(c)
	if err != nil {
		return nil, err
	}
	var p wire.BroadcastParams
	if err := req.Bind(&p); err != nil {
		return nil, err
	}
	body, err := sanitizeBody(p.Body)
	if err != nil {
		return nil, err
	}

	ev, err := a.emit(wire.KindChat, state.ChatPayload{
		From:    ag.Name,
		Channel: p.Channel,
		Body:    body,
		TS:      a.now(),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"seq": ev.Seq}, nil
}
