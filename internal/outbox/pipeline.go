package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/store"
	"github.com/matheus3301/wacrm/internal/wire"
)

var (
	ErrEmptyBody = errors.New("message body is empty")
	ErrNotFailed = errors.New("message is not a failed send")
)

// Backend submits messages to the CRM.
type Backend interface {
	SendMessage(ctx context.Context, phone, body, tempID string) (*wire.SendResponse, error)
}

// Journal persists send attempts.
type Journal interface {
	QueueOutbox(provisionalID, conversationID, body, retryOf string) error
	MarkSent(provisionalID, messageID, channelMessageID string) error
	MarkFailed(provisionalID, errMsg string) error
}

// Engine is the view state the pipeline updates.
type Engine interface {
	Merge(id string, msg store.Message) store.MergeOutcome
	Confirm(id, provisionalID, messageID, channelID string) bool
	MarkFailed(id, provisionalID string) bool
	Lookup(id, provisionalID string) (store.Message, bool)
}

// Pipeline runs optimistic sends: the message shows up as pending at once,
// then is reconciled with the backend's answer or marked failed.
type Pipeline struct {
	engine  Engine
	backend Backend
	journal Journal
	bus     *bus.Bus
	logger  *zap.Logger
	now     func() time.Time
}

// NewPipeline creates a send pipeline. A nil journal disables persistence.
func NewPipeline(e Engine, b Backend, j Journal, eb *bus.Bus, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		engine:  e,
		backend: b,
		journal: j,
		bus:     eb,
		logger:  logger.Named("outbox"),
		now:     time.Now,
	}
}

// Send delivers body to conversation id. It blocks until the backend answers
// and returns the provisional id of the message either way.
func (p *Pipeline) Send(ctx context.Context, id, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", ErrEmptyBody
	}
	return p.send(ctx, id, body, "")
}

// Retry re-sends the body of a failed message as a new send. The failed
// message stays in the thread until dismissed.
func (p *Pipeline) Retry(ctx context.Context, id, provisionalID string) (string, error) {
	m, ok := p.engine.Lookup(id, provisionalID)
	if !ok || m.Status != store.StatusFailed {
		return "", ErrNotFailed
	}
	return p.send(ctx, id, m.Body, provisionalID)
}

func (p *Pipeline) send(ctx context.Context, id, body, retryOf string) (string, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("provisional id: %w", err)
	}
	pid := u.String()
	log := p.logger.With(zap.String("conversation", id), zap.String("provisional_id", pid))

	p.engine.Merge(id, store.Message{
		ProvisionalID: pid,
		Body:          body,
		Kind:          "text",
		Direction:     store.Outbound,
		Status:        store.StatusPending,
		Timestamp:     p.now(),
	})
	p.bus.Emit(bus.KindSendQueued, bus.SendOutcome{ConversationID: id, ProvisionalID: pid})

	if p.journal != nil {
		if err := p.journal.QueueOutbox(pid, id, body, retryOf); err != nil {
			log.Warn("journal queue failed", zap.Error(err))
		}
	}

	resp, err := p.backend.SendMessage(ctx, id, body, pid)
	if err != nil {
		p.engine.MarkFailed(id, pid)
		if p.journal != nil {
			if jerr := p.journal.MarkFailed(pid, err.Error()); jerr != nil {
				log.Warn("journal update failed", zap.Error(jerr))
			}
		}
		log.Error("send failed", zap.Error(err))
		err = fmt.Errorf("send to %s: %w", id, err)
		p.bus.Emit(bus.KindSendFailed, bus.SendOutcome{ConversationID: id, ProvisionalID: pid, Err: err})
		return pid, err
	}

	p.engine.Confirm(id, pid, resp.MessageID, resp.WhatsappMessageID)
	if p.journal != nil {
		if err := p.journal.MarkSent(pid, resp.MessageID, resp.WhatsappMessageID); err != nil {
			log.Warn("journal update failed", zap.Error(err))
		}
	}
	log.Info("message sent", zap.String("message_id", resp.MessageID), zap.String("whatsapp_message_id", resp.WhatsappMessageID))
	p.bus.Emit(bus.KindSendConfirmed, bus.SendOutcome{ConversationID: id, ProvisionalID: pid, MessageID: resp.MessageID})
	return pid, nil
}
