package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/relaydesk/internal/state"
)

// Start replies to /start with a short orientation message.
func (d *Dispatcher) Start(ctx context.Context, msg Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()

	text := fmt.Sprintf("Hello, %s!\nWelcome to the support relay.", msg.Name)
	if !d.snap.Initialized() {
		text += "\n\nNote: the bot is not initialized yet. The administrator must run /init <BOT_TOKEN>."
	} else {
		text += "\n\n- Just send a message to reach support.\n- Use /bindservice to apply for an agent role.\n- Agents and users can use /rebind to refresh their chat binding."
	}
	deliver("start", d.tx.SendText(ctx, msg.ChatID, text, nil))
}

// Initialize performs the one-time bootstrap: the caller presenting the
// bot's own token becomes the sole admin and the first agent.
func (d *Dispatcher) Initialize(ctx context.Context, msg Inbound, token string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.snap.Initialized() {
		deliver("init", d.tx.SendText(ctx, msg.ChatID, "The bot is already initialized.", nil))
		return
	}
	if token == "" {
		deliver("init", d.tx.SendText(ctx, msg.ChatID, "Usage: /init <BOT_TOKEN>", nil))
		return
	}
	if token != d.botToken {
		deliver("init", d.tx.SendText(ctx, msg.ChatID, "❌ Token mismatch, initialization failed.", nil))
		return
	}

	d.snap.Admins = append(d.snap.Admins, msg.SenderID)
	d.snap.Agents[msg.SenderID] = &state.Agent{
		ID:     msg.SenderID,
		Name:   SanitizeName(msg.Name),
		ChatID: msg.ChatID,
	}
	d.persist()
	slog.Info("bot initialized", "admin_id", msg.SenderID, "admin", msg.Name)
	deliver("init", d.tx.SendText(ctx, msg.ChatID,
		"🎉 Initialized. You are now the administrator and have been registered as the first agent.", nil))
	d.checkInvariants("initialize")
}

// Rebind refreshes the caller's delivery channel on their agent record
// and/or user session. Chat ids can change across client reconnects.
func (d *Dispatcher) Rebind(ctx context.Context, callerID, chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	updated := false
	if a := d.snap.Agents[callerID]; a != nil {
		a.ChatID = chatID
		updated = true
	}
	if u := d.snap.Users[callerID]; u != nil {
		u.ChatID = chatID
		updated = true
	}
	if updated {
		d.persist()
		deliver("rebind", d.tx.SendText(ctx, chatID, "✅ Your chat binding has been updated.", nil))
	} else {
		deliver("rebind", d.tx.SendText(ctx, chatID, "❌ You have no records to update.", nil))
	}
}

// RequestAgentRole files a pending agent application for a plain user
// and notifies every admin with approve/reject controls. A user with an
// outstanding request cannot file a second one.
func (d *Dispatcher) RequestAgentRole(ctx context.Context, msg Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.snap.Initialized() {
		deliver("bind", d.tx.SendText(ctx, msg.ChatID, "The bot is not initialized yet; this is unavailable.", nil))
		return
	}
	if d.snap.Agents[msg.SenderID] != nil {
		deliver("bind", d.tx.SendText(ctx, msg.ChatID, "You are already an agent.", nil))
		return
	}
	if d.snap.Pending[msg.SenderID] != nil {
		deliver("bind", d.tx.SendText(ctx, msg.ChatID, "Your application is still under review, please do not resubmit.", nil))
		return
	}

	req := &state.PendingRequest{
		ID:     msg.SenderID,
		Name:   SanitizeName(msg.Name),
		ChatID: msg.ChatID,
	}
	d.snap.Pending[msg.SenderID] = req
	d.persist()
	slog.Info("agent role requested", "user_id", msg.SenderID, "name", req.Name)

	deliver("bind", d.tx.SendText(ctx, msg.ChatID,
		"Your agent application has been submitted. Please wait for an administrator to review it.", nil))

	approval := fmt.Sprintf("New agent application:\nUser: @%s (ID: %d)\nPlease review:", req.Name, req.ID)
	controls := &Controls{Buttons: []Button{
		{Label: "✅ Approve", Callback: fmt.Sprintf("approve:%d", req.ID)},
		{Label: "❌ Reject", Callback: fmt.Sprintf("reject:%d", req.ID)},
	}}
	for _, adminID := range d.snap.Admins {
		admin := d.snap.Agents[adminID]
		if admin == nil {
			continue
		}
		deliver("bind", d.tx.SendText(ctx, admin.ChatID, approval, controls))
	}
}

// ListAgents reports every agent and who they are serving. Admin only;
// unauthorized calls are silently ignored.
func (d *Dispatcher) ListAgents(ctx context.Context, callerID, chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.snap.IsAdmin(callerID) {
		return
	}
	if len(d.snap.Agents) == 0 {
		deliver("list", d.tx.SendText(ctx, chatID, "There are no agents.", nil))
		return
	}

	ids := make([]int64, 0, len(d.snap.Agents))
	for id := range d.snap.Agents {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString("Current agents:\n\n")
	for _, id := range ids {
		a := d.snap.Agents[id]
		status := "🟢 idle"
		if a.Serving != 0 {
			name := "unknown"
			if u := d.snap.Users[a.Serving]; u != nil {
				name = u.Name
			}
			status = fmt.Sprintf("🔴 serving @%s", name)
		}
		fmt.Fprintf(&b, "Agent: @%s\nStatus: %s\n\n", a.Name, status)
	}
	deliver("list", d.tx.SendText(ctx, chatID, b.String(), nil))
}

// RemoveAgent deletes the agent named targetName. Admin only; admins and
// the caller themself cannot be removed. A user the agent was serving is
// requeued at the head of the waiting queue and reassignment is
// attempted immediately.
func (d *Dispatcher) RemoveAgent(ctx context.Context, callerID, chatID int64, targetName string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.snap.IsAdmin(callerID) {
		return
	}
	targetName = strings.TrimPrefix(targetName, "@")
	if targetName == "" {
		deliver("unbind", d.tx.SendText(ctx, chatID, "Usage: /unbindservice @agentname", nil))
		return
	}

	var target *state.Agent
	for _, a := range d.snap.Agents {
		if a.Name == targetName {
			target = a
			break
		}
	}
	if target == nil {
		deliver("unbind", d.tx.SendText(ctx, chatID, fmt.Sprintf("No agent named @%s.", targetName), nil))
		return
	}
	if target.ID == callerID {
		deliver("unbind", d.tx.SendText(ctx, chatID, "You cannot remove yourself.", nil))
		return
	}
	if d.snap.IsAdmin(target.ID) {
		deliver("unbind", d.tx.SendText(ctx, chatID, "You cannot remove an administrator.", nil))
		return
	}

	delete(d.snap.Agents, target.ID)
	slog.Info("agent removed", "agent_id", target.ID, "by", callerID)

	if target.Serving != 0 {
		if user := d.snap.Users[target.Serving]; user != nil {
			user.Status = state.StatusWaiting
			user.Handler = 0
			// Priority re-insertion: the displaced user goes to the head.
			d.snap.WaitingQueue = append([]int64{user.ID}, d.snap.WaitingQueue...)
			d.persist()
			deliver("unbind", d.tx.SendText(ctx, user.ChatID,
				"Sorry, your agent has left. You have been moved to the front of the waiting queue.", nil))
		}
	}
	d.persist()

	deliver("unbind", d.tx.SendText(ctx, target.ChatID, "An administrator has removed your agent role.", nil))
	deliver("unbind", d.tx.SendText(ctx, chatID, fmt.Sprintf("Agent @%s has been removed.", targetName), nil))

	d.assignNextLocked(ctx, 0)
	d.checkInvariants("remove agent")
}

// Block blacklists a user. Agent-gated. The target is resolved from the
// replied-to message's back-reference, falling back to the user the
// calling agent is currently serving. Blocking the currently served user
// implicitly closes that session and offers the agent the next waiting
// user before the entry is recorded.
func (d *Dispatcher) Block(ctx context.Context, msg Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent := d.snap.Agents[msg.SenderID]
	if agent == nil {
		return
	}

	targetID, targetName, ok := ParseBackReference(msg.ReplyText)
	if !ok {
		if agent.Serving == 0 {
			deliver("block", d.tx.SendText(ctx, msg.ChatID,
				"❌ Nothing to block. Reply to the user's message you want to block, or make sure you are currently serving a user.", nil))
			return
		}
		targetID = agent.Serving
		targetName = "unknown"
		if u := d.snap.Users[targetID]; u != nil {
			targetName = u.Name
		}
	}

	if d.snap.Blacklist[targetID] != nil {
		deliver("block", d.tx.SendText(ctx, msg.ChatID,
			fmt.Sprintf("User @%s is already blacklisted.", targetName), nil))
		return
	}
	if d.snap.IsAdmin(targetID) || d.snap.Agents[targetID] != nil {
		deliver("block", d.tx.SendText(ctx, msg.ChatID, "❌ Agents and administrators cannot be blacklisted.", nil))
		return
	}

	// Blocking the user this agent is serving closes the session first.
	if agent.Serving == targetID {
		if user := d.snap.Users[targetID]; user != nil {
			user.Handler = 0
		}
		agent.Serving = 0
		slog.Info("session auto-closed by block", "agent_id", agent.ID, "user_id", targetID)
		d.assignNextLocked(ctx, agent.ID)
	}

	d.snap.Blacklist[targetID] = &state.BlacklistEntry{
		ID:        targetID,
		Name:      targetName,
		BlockedAt: time.Now().UTC(),
	}
	// A queued target must not be seated by a later assignment.
	d.snap.RemoveFromQueue(targetID)
	d.persist()
	slog.Info("user blacklisted", "user_id", targetID, "by", agent.ID)
	deliver("block", d.tx.SendText(ctx, msg.ChatID,
		fmt.Sprintf("✅ User @%s(%d) has been blacklisted.", targetName, targetID), nil))
	d.checkInvariants("block")
}

// Unblock removes a blacklist entry, addressed by numeric id or @name.
func (d *Dispatcher) Unblock(ctx context.Context, callerID, chatID int64, target string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.snap.Agents[callerID] == nil {
		return
	}
	if target == "" {
		deliver("unblock", d.tx.SendText(ctx, chatID, "Usage: /unblock <userID or @name>", nil))
		return
	}

	var targetID int64
	if name, found := strings.CutPrefix(target, "@"); found {
		for id, e := range d.snap.Blacklist {
			if e.Name == name {
				targetID = id
				break
			}
		}
	} else if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		targetID = id
	}

	entry := d.snap.Blacklist[targetID]
	if entry == nil {
		deliver("unblock", d.tx.SendText(ctx, chatID,
			fmt.Sprintf("❌ No blacklist entry found for %s.", target), nil))
		return
	}

	delete(d.snap.Blacklist, targetID)
	d.persist()
	slog.Info("user unblocked", "user_id", targetID, "by", callerID)
	deliver("unblock", d.tx.SendText(ctx, chatID,
		fmt.Sprintf("✅ User @%s(%d) has been removed from the blacklist.", entry.Name, targetID), nil))
}

// ShowBlacklist lists all blocked users with their block timestamps.
func (d *Dispatcher) ShowBlacklist(ctx context.Context, callerID, chatID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.snap.Agents[callerID] == nil {
		return
	}
	if len(d.snap.Blacklist) == 0 {
		deliver("blacklist", d.tx.SendText(ctx, chatID, "The blacklist is empty.", nil))
		return
	}

	ids := make([]int64, 0, len(d.snap.Blacklist))
	for id := range d.snap.Blacklist {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var b strings.Builder
	b.WriteString("🚫 Blacklist:\n\n")
	for _, id := range ids {
		e := d.snap.Blacklist[id]
		fmt.Fprintf(&b, "User: @%s (ID: %d)\nBlocked at: %s\n\n", e.Name, id, e.BlockedAt.Format(time.RFC3339))
	}
	deliver("blacklist", d.tx.SendText(ctx, chatID, b.String(), nil))
}

// HandleControlPress routes an inline button press: end_chat closes a
// session, approve/reject resolve a pending agent application.
func (d *Dispatcher) HandleControlPress(ctx context.Context, press ControlPress) {
	action, arg, _ := strings.Cut(press.Data, ":")
	targetID, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		deliver("press", d.tx.AckControlPress(ctx, press.CallbackID, ""))
		return
	}

	switch action {
	case "end_chat":
		d.mu.Lock()
		if d.snap.Agents[press.From] == nil {
			d.mu.Unlock()
			deliver("press", d.tx.AckControlPress(ctx, press.CallbackID, "You are not an agent."))
			return
		}
		closed := d.closeLocked(ctx, press.From, targetID, press.ChatID)
		d.mu.Unlock()
		if closed {
			// Rewriting the prompt retires the now-dead button.
			deliver("press", d.tx.EditText(ctx, press.ChatID, press.MessageID, "Session ended."))
		}
		deliver("press", d.tx.AckControlPress(ctx, press.CallbackID, "Done."))

	case "approve", "reject":
		d.resolveAgentRequest(ctx, press, targetID, action == "approve")

	default:
		deliver("press", d.tx.AckControlPress(ctx, press.CallbackID, ""))
	}
}

// resolveAgentRequest settles a pending agent application exactly once.
// Approval promotes the requester to an agent: any live session they had
// is dissolved (handler freed and reassigned, queue entry dropped, user
// session deleted) so the id exists only as an agent afterwards.
func (d *Dispatcher) resolveAgentRequest(ctx context.Context, press ControlPress, targetID int64, approve bool) {
	d.mu.Lock()

	if !d.snap.IsAdmin(press.From) {
		d.mu.Unlock()
		deliver("review", d.tx.AckControlPress(ctx, press.CallbackID, "You do not have permission to do that."))
		return
	}

	req := d.snap.Pending[targetID]
	if req == nil {
		d.mu.Unlock()
		deliver("review", d.tx.EditText(ctx, press.ChatID, press.MessageID, "This application has already been handled."))
		deliver("review", d.tx.AckControlPress(ctx, press.CallbackID, ""))
		return
	}
	delete(d.snap.Pending, targetID)

	if approve {
		if user := d.snap.Users[targetID]; user != nil {
			if user.Handler != 0 {
				if handler := d.snap.Agents[user.Handler]; handler != nil {
					handler.Serving = 0
					d.assignNextLocked(ctx, handler.ID)
				}
			}
			d.snap.RemoveFromQueue(targetID)
			delete(d.snap.Users, targetID)
		}
		d.snap.Agents[targetID] = &state.Agent{
			ID:     req.ID,
			Name:   req.Name,
			ChatID: req.ChatID,
		}
		d.persist()
		slog.Info("agent application approved", "user_id", targetID, "by", press.From)
		deliver("review", d.tx.EditText(ctx, press.ChatID, press.MessageID,
			fmt.Sprintf("Application approved (by @%s)", press.Name)))
		deliver("review", d.tx.SendText(ctx, req.ChatID, "🎉 Congratulations! Your agent application has been approved.", nil))
	} else {
		d.persist()
		slog.Info("agent application rejected", "user_id", targetID, "by", press.From)
		deliver("review", d.tx.EditText(ctx, press.ChatID, press.MessageID,
			fmt.Sprintf("Application rejected (by @%s)", press.Name)))
		deliver("review", d.tx.SendText(ctx, req.ChatID, "Unfortunately, your agent application has been rejected.", nil))
	}
	d.checkInvariants("resolve application")
	d.mu.Unlock()
	deliver("review", d.tx.AckControlPress(ctx, press.CallbackID, "Done."))
}

// CloseCommand handles /close from an agent: target from back-reference
// if replying, else the currently served user.
func (d *Dispatcher) CloseCommand(ctx context.Context, msg Inbound) {
	d.mu.Lock()
	defer d.mu.Unlock()

	agent := d.snap.Agents[msg.SenderID]
	if agent == nil {
		return
	}

	targetID, _, ok := ParseBackReference(msg.ReplyText)
	if !ok {
		targetID = agent.Serving
	}
	if targetID == 0 {
		deliver("close", d.tx.SendText(ctx, msg.ChatID,
			"❌ You are not serving any user and did not reply to a specific user's message. Nothing to close.", nil))
		return
	}
	d.closeLocked(ctx, msg.SenderID, targetID, msg.ChatID)
}
