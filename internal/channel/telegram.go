package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/avast/retry-go/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"skillbot/internal/bus"
	"skillbot/internal/domain"
)

const (
	telegramChannel        = "telegram"
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// TelegramSender is the part of the bot API the channel writes through.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram bridges a Telegram bot to the turn bus. Every Telegram chat is
// one conversation, "telegram:<chat id>".
type Telegram struct {
	token     string
	allowFrom []int64 // empty allows everyone
	parseMode string
	retryWait time.Duration

	bot    TelegramSender
	turns  *bus.TurnBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user ids as strings
	ParseMode string
	Logger    *slog.Logger
	// Sender replaces the bot API client until Start connects.
	Sender TelegramSender
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		} else {
			cfg.Logger.Warn("ignoring invalid telegram user id", "value", s)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = tgbotapi.ModeMarkdown
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		retryWait: time.Second,
		bot:       cfg.Sender,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return telegramChannel }

// ConversationID returns the conversation a Telegram chat maps to.
func ConversationID(chatID int64) string {
	return telegramChannel + ":" + strconv.FormatInt(chatID, 10)
}

func chatIDOf(conversationID string) (int64, error) {
	raw, ok := strings.CutPrefix(conversationID, telegramChannel+":")
	if !ok {
		return 0, fmt.Errorf("not a telegram conversation: %s", conversationID)
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Attach registers the outbound handler on turns.
func (t *Telegram) Attach(turns *bus.TurnBus) {
	t.turns = turns
	turns.OnOutbound(telegramChannel, t.deliver)
}

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, turns *bus.TurnBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.Attach(turns)
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// deliver sends the events a chat user should see. Streaming deltas are
// skipped; the final assistant message carries the full text.
func (t *Telegram) deliver(out bus.Outbound) {
	chatID, err := chatIDOf(out.ConversationID)
	if err != nil {
		t.logger.Error("invalid telegram outbound", "conversation", out.ConversationID, "err", err)
		return
	}
	switch out.Event.Type {
	case domain.EventMessageAdded:
		if out.Event.Message != nil && out.Event.Message.Role == domain.RoleAssistant {
			t.sendMessage(chatID, out.Event.Message.Content)
		}
	case domain.EventError:
		t.sendMessage(chatID, out.Event.ErrorMessage)
	case domain.EventProgress:
		if out.Event.Stage == domain.StageDetectingIntent {
			if _, err := t.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
				t.logger.Debug("telegram typing action failed", "err", err)
			}
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user", "user_id", userID, "username", update.Message.From.UserName)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}
	if update.Message.IsCommand() {
		text = commandText(update.Message)
	}

	t.logger.Info("telegram message received", "user_id", userID, "chat_id", chatID, "text_len", len(text))

	ok := t.turns.Publish(bus.Inbound{
		Channel:        telegramChannel,
		ConversationID: ConversationID(chatID),
		UserID:         strconv.FormatInt(userID, 10),
		Turn:           domain.InboundTurn{Type: domain.TurnChat, Content: text},
	})
	if !ok {
		t.sendMessage(chatID, domain.Apology(domain.KindCapacity))
	}
}

// commandText normalises a bot command for the conversation: the bot
// mention is dropped and /start becomes /help.
func commandText(msg *tgbotapi.Message) string {
	cmd := msg.Command()
	if cmd == "start" {
		cmd = "help"
	}
	text := "/" + cmd
	if args := strings.TrimSpace(msg.CommandArguments()); args != "" {
		text += " " + args
	}
	return text
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// sendMessage splits text at the message limit, preferring line breaks.
func (t *Telegram) sendMessage(chatID int64, text string) {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(chatID, chunk); err != nil {
			t.logger.Error("telegram send failed", "chat_id", chatID, "err", err)
			return
		}
	}
}

func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		if len(text) <= maxLen {
			chunks = append(chunks, text)
			break
		}
		cutAt := strings.LastIndex(text[:maxLen], "\n")
		if cutAt < maxLen/2 {
			cutAt = maxLen
			for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
				cutAt--
			}
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}

// sendChunk sends one message. A Markdown parse error falls back to plain
// text; rate limits wait for the advertised retry_after.
func (t *Telegram) sendChunk(chatID int64, text string) error {
	parseMode := t.parseMode
	return retry.Do(
		func() error {
			msg := tgbotapi.NewMessage(chatID, text)
			msg.ParseMode = parseMode
			_, err := t.bot.Send(msg)
			if err != nil && parseMode != "" && strings.Contains(err.Error(), "can't parse entities") {
				t.logger.Warn("telegram markdown parse error, retrying as plain text", "err", err)
				parseMode = ""
			}
			return err
		},
		retry.RetryIf(func(err error) bool {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) {
				return apiErr.Code == 429 || apiErr.Code >= 500 || strings.Contains(apiErr.Message, "can't parse entities")
			}
			return true
		}),
		retry.Attempts(telegramMaxSendRetries+1),
		retry.Delay(t.retryWait),
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			var apiErr *tgbotapi.Error
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				return time.Duration(apiErr.RetryAfter) * time.Second
			}
			return retry.BackOffDelay(n, err, config)
		}),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Warn("telegram send error, retrying", "attempt", n+1, "err", err)
		}),
	)
}
