package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/relaydesk/internal/state"
)

// Dispatcher owns the canonical state and implements the session router
// and the workflow operations. Inbound events are processed one at a
// time; the mutex keeps the single-writer discipline explicit even if
// the transport layer ever delivers events concurrently.
type Dispatcher struct {
	mu       sync.Mutex
	snap     *state.Snapshot
	store    *state.Store
	tx       Transport
	rnd      *rand.Rand
	botToken string
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRand injects the random source used for idle-agent selection.
// Tests seed this for deterministic assignment.
func WithRand(rnd *rand.Rand) Option {
	return func(d *Dispatcher) { d.rnd = rnd }
}

// New creates a dispatcher over the given snapshot. botToken gates the
// one-time /init operation.
func New(snap *state.Snapshot, store *state.Store, tx Transport, botToken string, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		snap:     snap,
		store:    store,
		tx:       tx,
		rnd:      rand.New(rand.NewSource(time.Now().UnixNano())),
		botToken: botToken,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Snapshot exposes the state for read-only inspection (shutdown save,
// tests). Callers must not mutate it.
func (d *Dispatcher) Snapshot() *state.Snapshot { return d.snap }

// Classify resolves the role of an actor id under the current state.
func (d *Dispatcher) Classify(id int64) Role {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Classify(d.snap, id)
}

// persist writes the snapshot before any outbound delivery is issued.
// A failed write is logged and the dispatcher keeps serving from memory.
func (d *Dispatcher) persist() {
	if d.store == nil {
		return
	}
	if err := d.store.Save(d.snap); err != nil {
		slog.Error("snapshot save failed, continuing from memory", "error", err)
	}
}

// checkInvariants logs any consistency violation at a quiescent point.
func (d *Dispatcher) checkInvariants(op string) {
	if err := d.snap.Check(); err != nil {
		slog.Warn("state invariant violated", "op", op, "error", err)
	}
}

// deliver runs a fire-and-forget transport call, logging failures.
func deliver(event string, err error) {
	if err != nil {
		slog.Warn("delivery failed", "event", event, "error", err)
	}
}

// HandleUserMessage routes one inbound message from a plain user:
// relay to the current handler, assign an idle agent, or enqueue.
func (d *Dispatcher) HandleUserMessage(ctx context.Context, msg Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := uuid.NewString()

	if d.snap.Blacklist[msg.SenderID] != nil {
		slog.Info("dropped message from blacklisted user", "event", event, "user_id", msg.SenderID)
		return
	}
	if !d.snap.Initialized() {
		deliver(event, d.tx.SendText(ctx, msg.ChatID, "Sorry, the support desk is under maintenance.", nil))
		return
	}

	name := SanitizeName(msg.Name)
	user := d.snap.Users[msg.SenderID]
	if user == nil {
		user = &state.UserSession{
			ID:      msg.SenderID,
			ChatID:  msg.ChatID,
			Name:    name,
			Status:  state.StatusNew,
			History: []int64{},
		}
		d.snap.Users[msg.SenderID] = user
	} else {
		// The delivery channel can change across client reconnects.
		user.ChatID = msg.ChatID
		user.Name = name
	}

	if user.Handler != 0 && d.snap.Agents[user.Handler] != nil {
		slog.Debug("relaying to existing session", "event", event, "user_id", user.ID, "handler", user.Handler)
		d.persist()
		d.broadcast(ctx, event, msg, user)
		return
	}

	if user.Handler != 0 {
		// Handler was removed without cleanup; self-heal.
		slog.Warn("stale handler reference cleared", "event", event, "user_id", user.ID, "handler", user.Handler)
		user.Handler = 0
	}

	idle := d.snap.IdleAgents()
	if len(idle) > 0 {
		agentID := idle[d.rnd.Intn(len(idle))]
		agent := d.snap.Agents[agentID]
		user.Status = state.StatusActive
		user.Handler = agentID
		agent.Serving = user.ID
		user.RecordHandler(agentID)
		slog.Info("assigned idle agent to user", "event", event, "user_id", user.ID, "agent_id", agentID)
		d.persist()
		d.broadcast(ctx, event, msg, user)
		return
	}

	if !d.snap.InQueue(user.ID) {
		d.snap.WaitingQueue = append(d.snap.WaitingQueue, user.ID)
		user.Status = state.StatusWaiting
	}
	slog.Info("user queued, no idle agent", "event", event, "user_id", user.ID, "queue_len", len(d.snap.WaitingQueue))
	d.persist()
	deliver(event, d.tx.SendText(ctx, user.ChatID,
		"All agents are busy at the moment. You are in the waiting queue, please hold on.", nil))
}

// broadcast fans a user message out to every agent in the user's
// history: the handler as primary, everyone else as observer.
func (d *Dispatcher) broadcast(ctx context.Context, event string, msg Inbound, user *state.UserSession) {
	for _, agentID := range user.History {
		d.relayToAgent(ctx, event, msg, user, agentID, agentID != user.Handler)
	}
}

// relayToAgent delivers one user message to one agent. Text is re-sent
// with a decoration; caption-capable media is copied with the decoration
// appended to the caption; anything else is forwarded raw followed by a
// separate decorated text, since no caption can be attached.
func (d *Dispatcher) relayToAgent(ctx context.Context, event string, msg Inbound, user *state.UserSession, agentID int64, observer bool) {
	agent := d.snap.Agents[agentID]
	if agent == nil {
		return
	}

	var decor string
	if observer {
		decor = fmt.Sprintf("\n\n\U0001F441 [history update] Message from user @%s(%d).", user.Name, user.ID)
	} else {
		decor = fmt.Sprintf("\n\n⬆ Message from user @%s(%d).", user.Name, user.ID)
	}

	controls := &Controls{Buttons: []Button{{
		Label: fmt.Sprintf("Contact %s", user.Name),
		URL:   fmt.Sprintf("tg://user?id=%d", user.ID),
	}}}
	if !observer && d.snap.Settings.AutoEndButton {
		controls.Buttons = append(controls.Buttons, Button{
			Label:    "End session",
			Callback: fmt.Sprintf("end_chat:%d", user.ID),
		})
	}

	switch {
	case msg.Text != "":
		deliver(event, d.tx.SendText(ctx, agent.ChatID, msg.Text+decor, controls))
	case msg.HasCaptionMedia:
		deliver(event, d.tx.CopyContent(ctx, agent.ChatID, msg.ChatID, msg.MessageID, msg.Caption+decor, controls))
	default:
		deliver(event, d.tx.ForwardRaw(ctx, agent.ChatID, msg.ChatID, msg.MessageID))
		deliver(event, d.tx.SendText(ctx, agent.ChatID, decor, controls))
	}
}

// HandleAgentMessage routes one inbound message from an agent to a user,
// resolved via back-reference first, then the agent's current assignment.
func (d *Dispatcher) HandleAgentMessage(ctx context.Context, msg Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()

	event := uuid.NewString()

	agent := d.snap.Agents[msg.SenderID]
	if agent == nil {
		return
	}

	targetID, _, ok := ParseBackReference(msg.ReplyText)
	if !ok {
		targetID = agent.Serving
	}
	if targetID == 0 {
		deliver(event, d.tx.SendText(ctx, msg.ChatID,
			"\U0001F4A1 You are not serving any user and did not reply to a relayed message. Reply to a relayed user message to answer a specific user.", nil))
		return
	}

	user := d.snap.Users[targetID]
	if user == nil {
		deliver(event, d.tx.SendText(ctx, msg.ChatID,
			"❌ Could not find the original user. The conversation may have ended or the record was removed.", nil))
		return
	}

	// The replying agent joins the user's history even when not the
	// primary handler.
	user.RecordHandler(agent.ID)
	d.persist()

	deliver(event, d.tx.CopyContent(ctx, user.ChatID, msg.ChatID, msg.MessageID, "", nil))

	summary := msg.Body()
	for _, histID := range user.History {
		if histID == agent.ID {
			continue
		}
		observer := d.snap.Agents[histID]
		if observer == nil {
			continue
		}
		notice := fmt.Sprintf("[session update] Agent @%s replied to @%s(%d):\n\n%s",
			agent.Name, user.Name, user.ID, summary)
		deliver(event, d.tx.SendText(ctx, observer.ChatID, notice, nil))
	}
	slog.Debug("agent reply relayed", "event", event, "agent_id", agent.ID, "user_id", user.ID)
}

// Close ends the session between agentID and userID. It succeeds only
// when the agent currently serves exactly that user; otherwise the
// agent's true state is reported and nothing changes. replyChat is where
// the outcome is reported (the agent's own chat).
func (d *Dispatcher) Close(ctx context.Context, agentID, userID, replyChat int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeLocked(ctx, agentID, userID, replyChat)
}

// closeLocked reports whether the session was actually closed.
func (d *Dispatcher) closeLocked(ctx context.Context, agentID, userID, replyChat int64) bool {
	event := uuid.NewString()

	agent := d.snap.Agents[agentID]
	user := d.snap.Users[userID]
	if agent == nil || user == nil {
		return false
	}

	if agent.Serving != userID {
		status := "you are currently idle."
		if agent.Serving != 0 {
			current := d.snap.Users[agent.Serving]
			name := "unknown"
			if current != nil {
				name = current.Name
			}
			status = fmt.Sprintf("you are serving another user (@%s).", name)
		}
		deliver(event, d.tx.SendText(ctx, replyChat,
			fmt.Sprintf("⚠ Could not close the session with @%s: %s", user.Name, status), nil))
		return false
	}

	user.Handler = 0
	agent.Serving = 0
	slog.Info("session closed", "event", event, "agent_id", agentID, "user_id", userID)
	d.persist()

	deliver(event, d.tx.SendText(ctx, replyChat,
		fmt.Sprintf("✅ Session with user @%s closed.", user.Name), nil))
	deliver(event, d.tx.SendText(ctx, user.ChatID, "The agent has ended this session.", nil))

	d.assignNextLocked(ctx, agentID)
	return true
}

// AssignNext pulls the oldest waiting user onto an idle agent. With
// agentID zero it picks uniformly at random among idle agents; it is a
// no-op when no agent is idle or the queue is empty.
func (d *Dispatcher) AssignNext(ctx context.Context, agentID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assignNextLocked(ctx, agentID)
}

func (d *Dispatcher) assignNextLocked(ctx context.Context, agentID int64) {
	if !d.snap.Initialized() || len(d.snap.WaitingQueue) == 0 {
		return
	}

	if agentID == 0 {
		idle := d.snap.IdleAgents()
		if len(idle) == 0 {
			return
		}
		d.assignNextLocked(ctx, idle[d.rnd.Intn(len(idle))])
		return
	}

	agent := d.snap.Agents[agentID]
	if agent == nil || !agent.Idle() {
		return
	}

	event := uuid.NewString()

	// Pop the queue head. Ids whose session vanished (promotion races,
	// cleanup) are dropped and the next head is tried.
	for len(d.snap.WaitingQueue) > 0 {
		userID := d.snap.WaitingQueue[0]
		d.snap.WaitingQueue = d.snap.WaitingQueue[1:]

		user := d.snap.Users[userID]
		if user == nil {
			slog.Warn("queued user has no session, dropping", "event", event, "user_id", userID)
			continue
		}
		if d.snap.Blacklist[userID] != nil {
			slog.Warn("queued user is blacklisted, dropping", "event", event, "user_id", userID)
			continue
		}

		user.Status = state.StatusActive
		user.Handler = agentID
		agent.Serving = userID
		user.RecordHandler(agentID)
		slog.Info("waiting user assigned to idle agent", "event", event, "user_id", userID, "agent_id", agentID)
		d.persist()

		deliver(event, d.tx.SendText(ctx, user.ChatID, "You are now connected to an agent.", nil))

		controls := &Controls{Buttons: []Button{{
			Label: fmt.Sprintf("Contact %s", user.Name),
			URL:   fmt.Sprintf("tg://user?id=%d", user.ID),
		}}}
		if d.snap.Settings.AutoEndButton {
			controls.Buttons = append(controls.Buttons, Button{
				Label:    "End session",
				Callback: fmt.Sprintf("end_chat:%d", user.ID),
			})
		}
		deliver(event, d.tx.SendText(ctx, agent.ChatID,
			fmt.Sprintf("A new user @%s(%d) has been assigned to you.\nYou are now their primary agent.", user.Name, user.ID),
			controls))
		return
	}
	// Queue drained by stale drops only.
	d.persist()
}
