package telegram

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/relaydesk/internal/dispatch"
)

// handleMessage normalizes one incoming message and routes it: commands
// to the workflow operations, everything else to the session router.
func (c *Channel) handleMessage(ctx context.Context, message *telego.Message) {
	from := message.From
	if from == nil {
		return
	}

	msg := toInbound(message)

	slog.Debug("telegram message received",
		"chat_id", message.Chat.ID,
		"user_id", from.ID,
		"username", from.Username,
		"is_command", strings.HasPrefix(msg.Text, "/"),
	)

	if cmd, args, ok := parseCommand(msg.Text); ok {
		c.handleCommand(ctx, cmd, args, msg)
		return
	}

	switch c.dispatcher.Classify(from.ID) {
	case dispatch.RoleAdmin, dispatch.RoleAgent:
		c.dispatcher.HandleAgentMessage(ctx, msg)
	default:
		// Blocked and uninitialized-system cases are resolved inside
		// the router.
		c.dispatcher.HandleUserMessage(ctx, msg)
	}
}

// handleCommand maps a slash command onto a dispatcher operation.
// Unknown commands are ignored, like any message starting with "/".
func (c *Channel) handleCommand(ctx context.Context, cmd, args string, msg dispatch.Inbound) {
	switch cmd {
	case "/start":
		c.dispatcher.Start(ctx, msg)
	case "/help":
		c.sendHelp(ctx, msg.ChatID)
	case "/init":
		c.dispatcher.Initialize(ctx, msg, firstWord(args))
	case "/rebind":
		c.dispatcher.Rebind(ctx, msg.SenderID, msg.ChatID)
	case "/bindservice":
		c.dispatcher.RequestAgentRole(ctx, msg)
	case "/list":
		c.dispatcher.ListAgents(ctx, msg.SenderID, msg.ChatID)
	case "/unbindservice":
		c.dispatcher.RemoveAgent(ctx, msg.SenderID, msg.ChatID, firstWord(args))
	case "/close":
		c.dispatcher.CloseCommand(ctx, msg)
	case "/block":
		c.dispatcher.Block(ctx, msg)
	case "/unblock":
		c.dispatcher.Unblock(ctx, msg.SenderID, msg.ChatID, firstWord(args))
	case "/blacklist":
		c.dispatcher.ShowBlacklist(ctx, msg.SenderID, msg.ChatID)
	}
}

// handleCallbackQuery routes inline button presses to the dispatcher.
func (c *Channel) handleCallbackQuery(ctx context.Context, query *telego.CallbackQuery) {
	press := dispatch.ControlPress{
		From:       query.From.ID,
		Name:       displayName(&query.From),
		CallbackID: query.ID,
		Data:       query.Data,
	}
	if m, ok := query.Message.(*telego.Message); ok {
		press.ChatID = m.Chat.ID
		press.MessageID = m.MessageID
	}
	c.dispatcher.HandleControlPress(ctx, press)
}

// toInbound flattens a Telegram message into the dispatcher's event.
func toInbound(message *telego.Message) dispatch.Inbound {
	msg := dispatch.Inbound{
		SenderID:        message.From.ID,
		ChatID:          message.Chat.ID,
		Name:            displayName(message.From),
		MessageID:       message.MessageID,
		Text:            message.Text,
		Caption:         message.Caption,
		HasCaptionMedia: hasCaptionSupport(message),
	}
	if reply := message.ReplyToMessage; reply != nil {
		if reply.Text != "" {
			msg.ReplyText = reply.Text
		} else {
			msg.ReplyText = reply.Caption
		}
	}
	return msg
}

// hasCaptionSupport reports whether the payload can carry a caption on
// copy (photo, video, document, animation, audio). Anything else that is
// not text (stickers, voice notes, locations...) must be forwarded raw.
func hasCaptionSupport(message *telego.Message) bool {
	return len(message.Photo) > 0 ||
		message.Video != nil ||
		message.Document != nil ||
		message.Animation != nil ||
		message.Audio != nil
}

// displayName picks the username when present, else the full name.
func displayName(user *telego.User) string {
	if user.Username != "" {
		return user.Username
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}

// parseCommand splits "/cmd@bot args" into a lowercase command and its
// argument string. ok is false for non-command text.
func parseCommand(text string) (cmd, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	cmd, args, _ = strings.Cut(text, " ")
	cmd, _, _ = strings.Cut(cmd, "@")
	return strings.ToLower(cmd), strings.TrimSpace(args), true
}

func firstWord(s string) string {
	w, _, _ := strings.Cut(s, " ")
	return w
}

// sendHelp lists the available commands.
func (c *Channel) sendHelp(ctx context.Context, chatID int64) {
	help := "Available commands:\n" +
		"/start — About this bot\n" +
		"/bindservice — Apply for an agent role\n" +
		"/rebind — Refresh your chat binding\n" +
		"/close — End your current session (agents)\n" +
		"/block, /unblock, /blacklist — Blacklist management (agents)\n" +
		"/list — Agent status (admins)\n" +
		"/unbindservice — Remove an agent (admins)\n" +
		"\nJust send a message to reach support."
	if err := c.tx.SendText(ctx, chatID, help, nil); err != nil {
		slog.Warn("help delivery failed", "error", err)
	}
}
