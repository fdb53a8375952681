package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"

	"chatrelay/internal/domain"
)

// Emitter is the gateway primitive the dispatcher drives. Implemented by
// the hub; tests substitute a recorder.
type Emitter interface {
	Emit(room string, event domain.EventType, payload any)
}

// Dispatcher validates raw bus messages and routes them to room emits.
// Every failure mode is absorbed here: the bus delivery loop must never be
// terminated by a bad message.
type Dispatcher struct {
	emitter Emitter
}

func New(emitter Emitter) *Dispatcher {
	return &Dispatcher{emitter: emitter}
}

// Dispatch parses one envelope, validates the variant payload against its
// schema, and invokes the matching handler. Malformed JSON, unknown types
// and schema failures are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		slog.Error("Dropping malformed bus message", "error", err)
		return
	}

	switch env.Type {
	case domain.ChatCreatedEvent:
		d.handleChatCreated(env.Data)
	case domain.MessageDeletedEvent:
		d.handleMessageDeleted(env.Data)
	case domain.MessageEditedEvent:
		d.handleMessageEdited(env.Data)
	case domain.ChatDeletedEvent:
		d.handleChatDeleted(env.Data)
	default:
		slog.Warn("Dropping bus message with unknown type", "type", env.Type)
	}
}

// decode is the schema gate: the payload crosses a process boundary and is
// untrusted until it both unmarshals and validates.
func decode[T interface{ Validate() error }](event domain.EventType, data json.RawMessage, p T) bool {
	if err := json.Unmarshal(data, p); err != nil {
		slog.Error("Dropping bus message with malformed data", "type", event, "error", err)
		return false
	}
	if err := p.Validate(); err != nil {
		slog.Error("Dropping bus message failing validation", "type", event, "error", err)
		return false
	}
	return true
}

func (d *Dispatcher) handleChatCreated(data json.RawMessage) {
	var p domain.ChatCreatedPayload
	if !decode(domain.ChatCreatedEvent, data, &p) {
		return
	}

	if len(p.Members) == 0 {
		slog.Error("Skipping chat-created with no members",
			"chat_id", p.ChatID,
			"error", domain.ErrHandlerInvariant.WithMessage("chat-created requires at least one member"),
		)
		return
	}

	for _, member := range p.Members {
		d.emitter.Emit(domain.PersonalRoom(member.ID), domain.ChatCreatedEmit, &p)
	}
}

func (d *Dispatcher) handleMessageDeleted(data json.RawMessage) {
	var p domain.MessageDeletedPayload
	if !decode(domain.MessageDeletedEvent, data, &p) {
		return
	}

	d.emitter.Emit(domain.ChatRoom(p.ChatID), domain.MessageDeletedEmit, &p)
}

func (d *Dispatcher) handleMessageEdited(data json.RawMessage) {
	var p domain.MessageEditedPayload
	if !decode(domain.MessageEditedEvent, data, &p) {
		return
	}

	d.emitter.Emit(domain.ChatRoom(p.ChatID), domain.MessageEditedEmit, &p)
}

func (d *Dispatcher) handleChatDeleted(data json.RawMessage) {
	var p domain.ChatDeletedPayload
	if !decode(domain.ChatDeletedEvent, data, &p) {
		return
	}

	if len(p.MemberIDs) == 0 {
		slog.Error("Skipping chat-deleted with no member ids",
			"chat_id", p.ChatID,
			"error", domain.ErrHandlerInvariant.WithMessage("chat-deleted requires at least one member id"),
		)
		return
	}

	for _, memberID := range p.MemberIDs {
		d.emitter.Emit(domain.PersonalRoom(memberID), domain.ChatDeletedEmit, &p)
	}
}
