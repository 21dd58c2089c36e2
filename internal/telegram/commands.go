package telegram

import (
	"context"
	"log/slog"

	"github.com/mymmrac/telego"
)

// SyncMenuCommands registers bot commands with Telegram via setMyCommands.
func (c *Channel) SyncMenuCommands(ctx context.Context, commands []telego.BotCommand) error {
	if err := c.bot.DeleteMyCommands(ctx, nil); err != nil {
		slog.Debug("deleteMyCommands failed (may not exist)", "error", err)
	}

	if len(commands) == 0 {
		return nil
	}

	return c.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{
		Commands: commands,
	})
}

// DefaultMenuCommands returns the bot menu commands.
func DefaultMenuCommands() []telego.BotCommand {
	return []telego.BotCommand{
		{Command: "start", Description: "About this bot"},
		{Command: "help", Description: "Show available commands"},
		{Command: "bindservice", Description: "Apply for an agent role"},
		{Command: "rebind", Description: "Refresh your chat binding"},
		{Command: "close", Description: "End your current session (agents)"},
		{Command: "block", Description: "Blacklist a user (agents)"},
		{Command: "unblock", Description: "Remove a user from the blacklist (agents)"},
		{Command: "blacklist", Description: "Show the blacklist (agents)"},
		{Command: "list", Description: "Agent status (admins)"},
		{Command: "unbindservice", Description: "Remove an agent (admins)"},
	}
}
