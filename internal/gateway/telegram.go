package gateway

import (
	"context"
	"fmt"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type TelegramGateway struct {
	Bot           *tgbotapi.BotAPI
	Runner        GoalRunner
	MaxIterations int
	// ChatID is the only chat allowed to start goals.
	ChatID string
}

func NewTelegramGateway(token, chatID string, runner GoalRunner, maxIterations int) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}

	log.Printf("Authorized on account %s", bot.Self.UserName)

	return &TelegramGateway{
		Bot:           bot,
		Runner:        runner,
		MaxIterations: maxIterations,
		ChatID:        chatID,
	}, nil
}

// Start polls for updates until ctx is done or Stop is called.
func (tg *TelegramGateway) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := tg.Bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			tg.Bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			tg.handle(ctx, update.Message)
		}
	}
}

func (tg *TelegramGateway) handle(ctx context.Context, m *tgbotapi.Message) {
	text := m.Text
	if m.IsCommand() {
		text = "/" + m.Command() + " " + m.CommandArguments()
	}
	chatID := strconv.FormatInt(m.Chat.ID, 10)
	reply, ok := route(ctx, tg.Runner, tg.MaxIterations, tg.ChatID, chatID, text)
	if !ok {
		return
	}
	if m.From != nil {
		log.Printf("[%s] %s", m.From.UserName, m.Text)
	}

	if _, err := tg.Bot.Send(tgbotapi.NewMessage(m.Chat.ID, reply)); err != nil {
		log.Printf("Telegram: failed to reply: %v", err)
	}
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil || id == 0 {
		return fmt.Errorf("invalid chat ID: %s", chatID)
	}

	msg := tgbotapi.NewMessage(id, text)
	_, err = tg.Bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.Bot.StopReceivingUpdates()
	return nil
}
