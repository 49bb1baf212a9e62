package sync

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/push"
	"github.com/matheus3301/wacrm/internal/store"
	"github.com/matheus3301/wacrm/internal/wire"
)

// Reconciler applies push events to the engine. Events may arrive in any
// order relative to fetches and sends; every path ends in the same thread
// merge, so the view converges.
type Reconciler struct {
	engine   *Engine
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
	offs     []func()
}

// NewReconciler creates a reconciler. A nil notifier disables notifications.
func NewReconciler(e *Engine, n Notifier, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		engine:   e,
		notifier: n,
		logger:   logger.Named("reconciler"),
		now:      time.Now,
	}
}

// Attach registers the event handlers on ch.
func (r *Reconciler) Attach(ch push.Channel) {
	r.offs = append(r.offs,
		ch.On(push.EventConnected, r.onConnected),
		ch.On(push.EventNewMessage, r.onNewMessage),
		ch.On(push.EventStatusUpdate, r.onStatusUpdate),
		ch.On(push.EventUserStatus, r.onUserStatus),
		ch.On(push.EventNewUser, r.onNewUser),
	)
}

// Detach removes every handler registered by Attach.
func (r *Reconciler) Detach() {
	for _, off := range r.offs {
		off()
	}
	r.offs = nil
}

func (r *Reconciler) onConnected(payload json.RawMessage) {
	r.logger.Info("push channel greeted", zap.ByteString("payload", payload))
	// Anything could have happened while disconnected.
	r.engine.RequestConversationRefresh()
}

func (r *Reconciler) onNewMessage(payload json.RawMessage) {
	var ev wire.NewMessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Phone == "" {
		r.logger.Debug("dropping malformed new_message", zap.Error(err), zap.ByteString("payload", payload))
		return
	}
	msg := ev.StoreMessage()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}

	e := r.engine
	e.mu.Lock()
	outcome := e.mergeLocked(ev.Phone, msg)

	var notify bool
	var sender string
	if msg.Direction == store.Inbound && outcome == store.Inserted {
		if e.selected != ev.Phone {
			e.unread.Increment(ev.Phone)
			e.cache.Invalidate(ev.Phone)
			e.bus.Emit(bus.KindUnread, ev.Phone)
		}
		if !e.focused || e.selected != ev.Phone {
			notify = true
			sender = ev.Phone
			if c, ok := e.convs[ev.Phone]; ok {
				sender = c.Name()
			}
		}
	}
	e.mu.Unlock()

	e.RequestConversationRefresh()

	if notify && r.notifier != nil {
		r.notifier.NotifyNewMessage(ev.Phone, sender, notificationBody(msg.Body))
	}
}

func (r *Reconciler) onStatusUpdate(payload json.RawMessage) {
	var ev wire.StatusUpdateEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Debug("dropping malformed status update", zap.Error(err))
		return
	}
	st := store.ParseStatus(ev.Status)
	if st == "" || st == store.StatusFailed {
		r.logger.Debug("ignoring status update", zap.String("status", ev.Status))
		return
	}

	e := r.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	// The owning conversation is checked first when the event names one.
	ids := e.cache.Keys()
	if ev.Phone != "" {
		ids = append([]string{ev.Phone}, ids...)
	}
	for _, id := range ids {
		entry, ok := e.cache.Get(id)
		if !ok {
			continue
		}
		if entry.Thread.AdvanceStatus(ev.MessageID, ev.WhatsappMessageID, st) {
			e.bus.Emit(bus.KindThread, id)
			return
		}
	}
	r.logger.Debug("status update for unknown message",
		zap.String("message_id", ev.MessageID),
		zap.String("whatsapp_message_id", ev.WhatsappMessageID),
	)
}

func (r *Reconciler) onUserStatus(payload json.RawMessage) {
	var ev wire.UserStatusEvent
	if err := json.Unmarshal(payload, &ev); err != nil || ev.Phone == "" {
		r.logger.Debug("dropping malformed user status update", zap.Error(err))
		return
	}
	e := r.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStatusTagLocked(ev.Phone, ev.Status)
}

func (r *Reconciler) onNewUser(payload json.RawMessage) {
	var ev wire.NewUserEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		r.logger.Debug("dropping malformed new user event", zap.Error(err))
		return
	}
	r.logger.Info("new contact", zap.String("phone", ev.Phone))
	r.engine.RequestConversationRefresh()
}
