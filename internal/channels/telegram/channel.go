// Package telegram implements the built-in Telegram long-polling channel.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/aobot-gateway/internal/bus"
	"github.com/nextlevelbuilder/aobot-gateway/internal/channels"
	"github.com/nextlevelbuilder/aobot-gateway/internal/chunk"
	"github.com/nextlevelbuilder/aobot-gateway/internal/config"
)

// maxMessageLen is Telegram's outbound chunk size (§4.6).
const maxMessageLen = 4000

// maxDownloadBytes bounds an inline attachment download.
const maxDownloadBytes = 20 * 1024 * 1024

// Channel connects to Telegram via the Bot API using long polling.
type Channel struct {
	*channels.BaseChannel
	bot        *telego.Bot
	cfg        config.TelegramConfig
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds a Telegram channel bound to the bus router.
func New(channelID string, cfg config.TelegramConfig, router bus.MessageRouter) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel("telegram", channelID, router, cfg.AllowFrom),
		bot:         bot,
		cfg:         cfg,
	}, nil
}

// Start begins long polling for updates with server-side 30s timeout and
// context-observed cancellation.
func (c *Channel) Start(ctx context.Context) error {
	if c.IsRunning() {
		return fmt.Errorf("telegram channel %q is already running", c.ChannelID())
	}
	c.SetStarting()

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		c.SetError(err.Error())
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram channel connected", "channel_id", c.ChannelID())

	go func() {
		defer close(c.pollDone)
		backoff := time.Second
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Warn("telegram updates channel closed, backing off", "channel_id", c.ChannelID(), "backoff", backoff)
					select {
					case <-pollCtx.Done():
						return
					case <-time.After(backoff):
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					continue
				}
				backoff = time.Second
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()

	return nil
}

// Stop cancels the polling loop and waits for it to exit.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit in time", "channel_id", c.ChannelID())
		}
	}
	return nil
}

// NotifyProcessing sends Telegram's "typing" chat action.
func (c *Channel) NotifyProcessing(ctx context.Context, recipientID string, _ map[string]string) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}
	return c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))
}

// Send splits text into platform-sized chunks (attempting Markdown first,
// falling back to plain text on rejection) and posts each in order.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram channel %q not running", c.ChannelID())
	}
	chatID, err := parseChatID(msg.RecipientID)
	if err != nil {
		return fmt.Errorf("parse telegram recipient %q: %w", msg.RecipientID, err)
	}

	for _, att := range msg.Attachments {
		if err := c.sendAttachment(ctx, chatID, att); err != nil {
			slog.Warn("failed to send telegram attachment", "channel_id", c.ChannelID(), "error", err)
		}
	}

	for _, part := range chunk.Split(msg.Text, maxMessageLen) {
		if part == "" {
			continue
		}
		params := tu.Message(tu.ID(chatID), part).WithParseMode(telego.ModeMarkdown)
		if _, err := c.bot.SendMessage(ctx, params); err != nil {
			if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), part)); err != nil {
				return fmt.Errorf("send telegram message: %w", err)
			}
		}
	}
	return nil
}

func (c *Channel) sendAttachment(ctx context.Context, chatID int64, att bus.Attachment) error {
	data, err := decodeAttachment(att)
	if err != nil {
		return err
	}
	name := att.FileName
	if name == "" {
		name = "attachment"
	}
	doc := tu.Document(tu.ID(chatID), tu.FileFromReader(strings.NewReader(string(data)), name))
	_, err = c.bot.SendDocument(ctx, doc)
	return err
}

// SupportsStreaming reports that this channel renders replies progressively
// by editing a single placeholder message.
func (c *Channel) SupportsStreaming() bool { return true }

// SendStreaming edits one message on a 500ms throttle as text deltas arrive,
// then performs one final edit without the trailing cursor.
func (c *Channel) SendStreaming(ctx context.Context, recipientID string, _ map[string]string, events <-chan channels.StreamEvent) error {
	chatID, err := parseChatID(recipientID)
	if err != nil {
		return err
	}

	var buf strings.Builder
	var messageID int
	limiter := rate.NewLimiter(rate.Every(500*time.Millisecond), 1)

	edit := func(text string, force bool) {
		if !force && !limiter.Allow() {
			return
		}
		if messageID == 0 {
			sent, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
			if err != nil {
				slog.Warn("failed to send initial streaming message", "channel_id", c.ChannelID(), "error", err)
				return
			}
			messageID = sent.MessageID
			return
		}
		_, err := c.bot.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    tu.ID(chatID),
			MessageID: messageID,
			Text:      text,
		})
		if err != nil {
			slog.Debug("streaming edit failed", "channel_id", c.ChannelID(), "error", err)
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

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	senderID := fmt.Sprintf("%d", msg.From.ID)
	chatID := fmt.Sprintf("%d", msg.Chat.ID)

	text := msg.Text
	metadata := map[string]string{}
	if cmd, ok := extractCommand(msg); ok {
		metadata["command"] = cmd
		text = strings.TrimSpace(strings.TrimPrefix(text, "/"+cmd))
	}

	var attachments []bus.Attachment
	if msg.Photo != nil && len(msg.Photo) > 0 {
		if att, err := c.downloadAttachment(ctx, msg.Photo[len(msg.Photo)-1].FileID, bus.AttachmentImage, "image/jpeg", ""); err == nil {
			attachments = append(attachments, att)
		}
	}
	if msg.Document != nil {
		mime := msg.Document.MimeType
		kind := bus.AttachmentDocument
		if strings.HasPrefix(mime, "audio/") {
			kind = bus.AttachmentAudio
		}
		if att, err := c.downloadAttachment(ctx, msg.Document.FileID, kind, mime, msg.Document.FileName); err == nil {
			attachments = append(attachments, att)
		}
	}

	if err := c.Publish(senderID, msg.From.Username, text, attachments, metadata, time.Now().UnixMilli()); err != nil {
		slog.Warn("failed to publish telegram message", "channel_id", c.ChannelID(), "chat_id", chatID, "error", err)
	}
}

// extractCommand detects a leading Telegram bot_command entity and
// normalises it by stripping the leading "/" and any "@bot" suffix.
func extractCommand(msg *telego.Message) (string, bool) {
	for _, ent := range msg.Entities {
		if ent.Type != "bot_command" || ent.Offset != 0 {
			continue
		}
		token := msg.Text
		if ent.Length > 0 && ent.Length <= len(token) {
			token = token[:ent.Length]
		}
		token = strings.TrimPrefix(token, "/")
		if at := strings.IndexByte(token, '@'); at >= 0 {
			token = token[:at]
		}
		return strings.ToLower(token), true
	}
	return "", false
}

func (c *Channel) downloadAttachment(ctx context.Context, fileID string, kind bus.AttachmentKind, mimeType, fileName string) (bus.Attachment, error) {
	file, err := c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return bus.Attachment{}, fmt.Errorf("get telegram file: %w", err)
	}
	if file.FilePath == "" {
		return bus.Attachment{}, fmt.Errorf("empty file path for %s", fileID)
	}

	url := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.cfg.Token, file.FilePath)
	resp, err := http.Get(url)
	if err != nil {
		return bus.Attachment{}, fmt.Errorf("download telegram file: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return bus.Attachment{}, fmt.Errorf("read telegram file: %w", err)
	}

	return bus.Attachment{
		Kind:     kind,
		Data:     encodeBase64(data),
		MimeType: mimeType,
		FileName: fileName,
	}, nil
}

func parseChatID(s string) (int64, error) {
	var id int64
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}
