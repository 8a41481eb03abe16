package notifier

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/wisarmy/exbot/internal/logger"
)

// Telegram sends messages to one chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *zap.Logger
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Telegram{
		bot:    bot,
		chatID: chatID,
		log:    logger.Module("notifier"),
	}, nil
}

func (t *Telegram) Send(msg string) error {
	_, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, msg))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (t *Telegram) SendWithRetry(msg string) error {
	var err error
	for i := 0; i < 3; i++ {
		if err = t.Send(msg); err == nil {
			return nil
		}
		t.log.Warn("telegram send failed", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	return err
}
