package gateway

import (
	"context"
	"log"

	"github.com/bwmarrin/discordgo"
)

type DiscordGateway struct {
	Session       *discordgo.Session
	Runner        GoalRunner
	MaxIterations int
	// ChannelID is the only channel allowed to start goals.
	ChannelID string

	ctx context.Context
}

func NewDiscordGateway(token, channelID string, runner GoalRunner, maxIterations int) (*DiscordGateway, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	dg := &DiscordGateway{
		Session:       s,
		Runner:        runner,
		MaxIterations: maxIterations,
		ChannelID:     channelID,
		ctx:           context.Background(),
	}
	s.AddHandler(dg.onMessage)
	return dg, nil
}

// Start opens the websocket connection. Messages are handled on discordgo's
// event goroutines until Stop; goals they start run under ctx.
func (dg *DiscordGateway) Start(ctx context.Context) error {
	if dg.Runner == nil {
		return nil
	}
	dg.ctx = ctx
	if err := dg.Session.Open(); err != nil {
		return err
	}
	log.Printf("Discord: connected as %s", dg.Session.State.User.Username)
	return nil
}

func (dg *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	if _, ok := parseGoal(m.Content); !ok {
		return
	}
	reply, ok := route(dg.ctx, dg.Runner, dg.MaxIterations, dg.ChannelID, m.ChannelID, m.Content)
	if !ok {
		return
	}
	log.Printf("[%s] %s", m.Author.Username, m.Content)

	if _, err := s.ChannelMessageSend(m.ChannelID, reply); err != nil {
		log.Printf("Discord: failed to reply: %v", err)
	}
}

func (dg *DiscordGateway) Send(channelID string, text string) error {
	_, err := dg.Session.ChannelMessageSend(channelID, text)
	return err
}

func (dg *DiscordGateway) Stop() error {
	return dg.Session.Close()
}
