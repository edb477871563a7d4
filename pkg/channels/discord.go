package channels

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/asteroniris/asteroniris/pkg/bus"
	"github.com/asteroniris/asteroniris/pkg/config"
)

type DiscordChannel struct {
	*BaseChannel
	session *discordgo.Session
	config  config.DiscordConfig
	botID   string
}

func NewDiscordChannel(cfg config.DiscordConfig, msgBus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	base := NewBaseChannel("discord", cfg, msgBus, cfg.AllowFrom)

	return &DiscordChannel{
		BaseChannel: base,
		session:     session,
		config:      cfg,
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	log.Printf("Starting Discord bot...")

	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, s, m)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	if c.session.State != nil && c.session.State.User != nil {
		c.botID = c.session.State.User.ID
		log.Printf("Discord bot @%s connected", c.session.State.User.Username)
	}

	c.setRunning(true)
	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	log.Println("Stopping Discord bot...")
	c.setRunning(false)
	return c.session.Close()
}

func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}
	_, err := c.session.ChannelMessageSend(msg.ChatID, msg.Content)
	return err
}

func (c *DiscordChannel) handleMessage(ctx context.Context, s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	if m.Author.Username != "" {
		senderID = fmt.Sprintf("%s|%s", m.Author.ID, m.Author.Username)
	}

	content := strings.TrimSpace(m.Content)
	if content == "" {
		return
	}

	isGroup := m.GuildID != ""
	allowed := c.IsAllowed(senderID)

	if isGroup {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		content = strings.TrimSpace(strings.ReplaceAll(content, "<@"+c.botID+">", ""))
		if !allowed {
			log.Printf("Discord message from %s: not in allow list, ignoring", senderID)
			return
		}
	} else if !allowed {
		log.Printf("Discord message from %s: not in allow list, ignoring", senderID)
		return
	}

	if content == "" {
		content = "[empty message]"
	}

	sessionKey := fmt.Sprintf("%s:%s", c.name, m.ChannelID)
	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   senderID,
		ChatID:     m.ChannelID,
		Content:    content,
		SessionKey: sessionKey,
		Metadata: map[string]string{
			"message_id": m.ID,
			"user_id":    m.Author.ID,
			"username":   m.Author.Username,
			"is_group":   fmt.Sprintf("%t", isGroup),
		},
	})
}
