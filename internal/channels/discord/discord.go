// Package discord implements the built-in Discord gateway-events channel.
package discord

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels"
	"github.com/nextlevelbuilder/aobot-gateway/internal/chunk"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
)

// maxMessageLen is Discord's outbound chunk size (§4.6).
const maxMessageLen = 2000

// maxDownloadBytes bounds an inline attachment download.
const maxDownloadBytes = 20 * 1024 * 1024

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session *discordgo.Session
	cfg     config.DiscordConfig
}

// New builds a Discord channel bound to the bus router.
func New(channelID string, cfg config.DiscordConfig, router bus.MessageRouter) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	return &Channel{
		BaseChannel: channels.NewBaseChannel("discord", channelID, router, cfg.AllowFrom),
		session:     session,
		cfg:         cfg,
	}, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("discord channel %q is already running", c.ChannelID())
	}
	c.SetStarting()
	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		c.SetError(err.Error())
		return fmt.Errorf("open discord session: %w", err)
	}

	c.SetRunning(true)
	slog.Info("discord channel connected", "channel_id", c.ChannelID())
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return c.session.Close()
}

// NotifyProcessing sends Discord's "typing" indicator.
func (c *Channel) NotifyProcessing(_ context.Context, recipientID string, _ map[string]string) error {
	return c.session.ChannelTyping(recipientID)
}

// Send chunks text at 2000 characters and posts attachments alongside.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord channel %q not running", c.ChannelID())
	}
	if msg.RecipientID == "" {
		return fmt.Errorf("empty discord recipient")
	}

	for _, att := range msg.Attachments {
		if err := c.sendAttachment(msg.RecipientID, att); err != nil {
			slog.Warn("failed to send discord attachment", "channel_id", c.ChannelID(), "error", err)
		}
	}

	for _, part := range chunk.Split(msg.Text, maxMessageLen) {
		if part == "" {
			continue
		}
		if _, err := c.session.ChannelMessageSend(msg.RecipientID, part); err != nil {
			return fmt.Errorf("send discord message: %w", err)
		}
	}
	return nil
}

func (c *Channel) sendAttachment(channelID string, att bus.Attachment) error {
	data, err := decodeAttachment(att)
	if err != nil {
		return err
	}
	name := att.FileName
	if name == "" {
		name = "attachment"
	}
	_, err = c.session.ChannelFileSend(channelID, name, strings.NewReader(string(data)))
	return err
}

// SupportsStreaming reports that this channel renders replies progressively
// by editing a single placeholder message.
func (c *Channel) SupportsStreaming() bool { return true }

// SendStreaming edits one message on a 500ms throttle as text deltas arrive,
// then performs one final edit without the trailing cursor.
func (c *Channel) SendStreaming(_ context.Context, recipientID string, _ map[string]string, events <-chan channels.StreamEvent) error {
	var buf strings.Builder
	var messageID string
	limiter := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)

	edit := func(text string, force bool) {
		if !force && !limiter.Allow() {
			return
		}
		if messageID == "" {
			sent, err := c.session.ChannelMessageSend(recipientID, text)
			if err != nil {
				slog.Warn("failed to send initial discord streaming message", "channel_id", c.ChannelID(), "error", err)
				return
			}
			messageID = sent.ID
			return
		}
		if _, err := c.session.ChannelMessageEdit(recipientID, messageID, text); err != nil {
			slog.Debug("discord streaming edit failed", "channel_id", c.ChannelID(), "error", err)
		}
	}

	for ev := range events {
		switch ev.Kind {
		case "text_delta":
			buf.WriteString(ev.Text)
			edit(buf.String()+" ▌", false)
		case "done":
			if ev.Text != "" {
				buf.Reset()
				buf.WriteString(ev.Text)
			}
			edit(buf.String(), true)
		case "error":
			edit(buf.String()+"\n\n[error: "+ev.Message+"]", true)
		}
	}
	return nil
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	senderID := m.Author.ID
	senderName := resolveDisplayName(m)
	text := m.Content

	metadata := map[string]string{}
	if cmd, ok := extractCommand(text); ok {
		metadata["command"] = cmd
		text = strings.TrimSpace(strings.TrimPrefix(text, "!"+cmd))
	}

	var attachments []bus.Attachment
	for _, a := range m.Attachments {
		att, err := downloadAttachment(a.URL, a.ContentType, a.Filename)
		if err != nil {
			slog.Warn("failed to download discord attachment", "channel_id", c.ChannelID(), "error", err)
			continue
		}
		attachments = append(attachments, att)
	}

	if err := c.Publish(senderID, senderName, text, attachments, metadata, m.Timestamp.UnixMilli()); err != nil {
		slog.Warn("failed to publish discord message", "channel_id", c.ChannelID(), "error", err)
	}
}

// extractCommand recognises a leading "!"-prefixed command token.
func extractCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", false
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "!")), true
}

// downloadAttachment fetches a Discord CDN attachment URL and inlines it as
// base64, matching the core's no-blob-store attachment model.
func downloadAttachment(url, mimeType, fileName string) (bus.Attachment, error) {
	resp, err := http.Get(url)
	if err != nil {
		return bus.Attachment{}, fmt.Errorf("download discord attachment: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return bus.Attachment{}, fmt.Errorf("read discord attachment: %w", err)
	}

	return bus.Attachment{
		Kind:     classifyAttachment(mimeType),
		Data:     encodeBase64(data),
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

// classifyAttachment maps a Discord MIME type to an attachment kind.
func classifyAttachment(mimeType string) bus.AttachmentKind {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return bus.AttachmentImage
	case strings.HasPrefix(mimeType, "audio/"):
		return bus.AttachmentAudio
	default:
		return bus.AttachmentDocument
	}
}

// resolveDisplayName returns the best available display name for a Discord
// message author: server nickname > global display name > username.
func resolveDisplayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
