package telegram

import (
	"context"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/relaydesk/internal/dispatch"
)

// outboundQueueSize bounds in-flight deliveries; overflow is dropped
// with a log line (at-most-once, best effort).
const outboundQueueSize = 512

// sendsPerSecond paces outbound Bot API calls under Telegram's global
// bot limit (~30 messages per second).
const sendsPerSecond = 25

type job struct {
	kind string
	fn   func(context.Context) error
}

// Sender delivers dispatcher output through the Bot API. Calls are
// fire-and-forget: they enqueue onto a single rate-limited worker, which
// preserves send order and logs failures without retrying.
type Sender struct {
	bot     *telego.Bot
	limiter *rate.Limiter
	queue   chan job
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a sender over bot. Call Start before use.
func NewSender(bot *telego.Bot) *Sender {
	return &Sender{
		bot:     bot,
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), 5),
		queue:   make(chan job, outboundQueueSize),
	}
}

// Start launches the delivery worker.
func (s *Sender) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-workerCtx.Done():
				return
			case j := <-s.queue:
				if err := s.limiter.Wait(workerCtx); err != nil {
					return
				}
				if err := j.fn(workerCtx); err != nil {
					slog.Warn("telegram delivery failed", "kind", j.kind, "error", err)
				}
			}
		}
	}()
}

// Stop cancels the worker. Queued deliveries are abandoned.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Sender) enqueue(kind string, fn func(context.Context) error) error {
	select {
	case s.queue <- job{kind: kind, fn: fn}:
		return nil
	default:
		slog.Warn("outbound queue full, dropping delivery", "kind", kind)
		return nil
	}
}

// SendText implements dispatch.Transport.
func (s *Sender) SendText(_ context.Context, chatID int64, text string, controls *dispatch.Controls) error {
	return s.enqueue("send_text", func(ctx context.Context) error {
		msg := tu.Message(tu.ID(chatID), text)
		if kb := renderControls(controls); kb != nil {
			msg = msg.WithReplyMarkup(kb)
		}
		_, err := s.bot.SendMessage(ctx, msg)
		return err
	})
}

// CopyContent implements dispatch.Transport.
func (s *Sender) CopyContent(_ context.Context, chatID, fromChatID int64, messageID int, caption string, controls *dispatch.Controls) error {
	return s.enqueue("copy_content", func(ctx context.Context) error {
		params := &telego.CopyMessageParams{
			ChatID:     tu.ID(chatID),
			FromChatID: tu.ID(fromChatID),
			MessageID:  messageID,
			Caption:    caption,
		}
		if kb := renderControls(controls); kb != nil {
			params.ReplyMarkup = kb
		}
		_, err := s.bot.CopyMessage(ctx, params)
		return err
	})
}

// ForwardRaw implements dispatch.Transport.
func (s *Sender) ForwardRaw(_ context.Context, chatID, fromChatID int64, messageID int) error {
	return s.enqueue("forward_raw", func(ctx context.Context) error {
		_, err := s.bot.ForwardMessage(ctx, &telego.ForwardMessageParams{
			ChatID:     tu.ID(chatID),
			FromChatID: tu.ID(fromChatID),
			MessageID:  messageID,
		})
		return err
	})
}

// EditText implements dispatch.Transport.
func (s *Sender) EditText(_ context.Context, chatID int64, messageID int, text string) error {
	return s.enqueue("edit_text", func(ctx context.Context) error {
		_, err := s.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(chatID),
			MessageID: messageID,
			Text:      text,
		})
		return err
	})
}

// AckControlPress implements dispatch.Transport.
func (s *Sender) AckControlPress(_ context.Context, pressID, text string) error {
	return s.enqueue("ack_press", func(ctx context.Context) error {
		return s.bot.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
			CallbackQueryID: pressID,
			Text:            text,
		})
	})
}

// renderControls converts the dispatcher's button set into a single-row
// inline keyboard.
func renderControls(controls *dispatch.Controls) *telego.InlineKeyboardMarkup {
	if controls == nil || len(controls.Buttons) == 0 {
		return nil
	}
	row := make([]telego.InlineKeyboardButton, 0, len(controls.Buttons))
	for _, b := range controls.Buttons {
		btn := tu.InlineKeyboardButton(b.Label)
		switch {
		case b.URL != "":
			btn = btn.WithURL(b.URL)
		case b.Callback != "":
			btn = btn.WithCallbackData(b.Callback)
		default:
			continue
		}
		row = append(row, btn)
	}
	if len(row) == 0 {
		return nil
	}
	return tu.InlineKeyboard(tu.InlineKeyboardRow(row...))
}

var _ dispatch.Transport = (*Sender)(nil)
