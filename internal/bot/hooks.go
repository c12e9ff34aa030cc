package bot

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"web2pdfbot/internal/domain"
	"web2pdfbot/internal/metrics"
	"web2pdfbot/internal/render"
)

func (b *Bot) onRawEvent(ctx context.Context, acc domain.AccountID, ev domain.Event) {
	switch ev.Kind {
	case domain.EventInfo:
		b.logger.Debug(ev.Msg, "account", acc)
	case domain.EventWarning:
		b.logger.Warn(ev.Msg, "account", acc)
	case domain.EventError:
		b.logger.Error(ev.Msg, "account", acc)
	case domain.EventMsgDelivered:
		b.deleteMessage(ctx, acc, ev.ChatID, ev.MsgID)
	case domain.EventSecureJoinInviterProgress:
		if ev.Progress == domain.PairingComplete {
			b.onPaired(ctx, acc, ev.ContactID)
		}
	case domain.EventIncomingMsg:
		// handled by the message routes
	case domain.EventUnknown:
		b.logger.Debug("ignoring unknown event", "account", acc, "kind", ev.Raw)
	default:
		b.logger.Debug("ignoring unhandled event kind", "account", acc, "kind", ev.Kind)
	}
}

func (b *Bot) onPaired(ctx context.Context, acc domain.AccountID, contactID domain.ContactID) {
	contact, err := b.client.GetContact(ctx, acc, contactID)
	if err != nil {
		b.logger.Error("cannot load paired contact", "account", acc, "contact", contactID, "err", err)
		return
	}
	if contact.IsBot {
		return
	}
	b.logger.Debug("QR scanned by contact", "account", acc, "contact", contactID)

	chatID, err := b.client.CreateChatByContactID(ctx, acc, contactID)
	if err != nil {
		b.logger.Error("cannot create chat with contact", "account", acc, "contact", contactID, "err", err)
		return
	}
	b.sendHelp(ctx, acc, chatID, 0)
}

func (b *Bot) deleteMsg(ctx context.Context, acc domain.AccountID, msg NewMessage) {
	b.deleteMessage(ctx, acc, msg.ChatID, msg.ID)
}

func (b *Bot) deleteMessage(ctx context.Context, acc domain.AccountID, chatID domain.ChatID, id domain.MsgID) {
	if err := b.client.DeleteMessages(ctx, acc, []domain.MsgID{id}); err != nil {
		b.logger.Error("cannot delete message", "account", acc, "chat", chatID, "msg", id, "err", err)
		return
	}
	metrics.MessagesDeleted.Inc()
	b.logger.Debug("deleted message", "account", acc, "chat", chatID, "msg", id)
}

func (b *Bot) help(ctx context.Context, acc domain.AccountID, msg NewMessage) {
	b.sendHelp(ctx, acc, msg.ChatID, msg.ID)
}

func (b *Bot) sendHelp(ctx context.Context, acc domain.AccountID, chatID domain.ChatID, quote domain.MsgID) {
	b.reply(ctx, acc, chatID, domain.MsgData{Text: helpText, QuotedMessageID: quote})
}

func (b *Bot) web2pdf(ctx context.Context, acc domain.AccountID, msg NewMessage) {
	if b.router.HasCommand(msg.Command) {
		return
	}

	url := FindURL(msg.Text)
	if url == "" {
		if msg.Text == "" {
			return
		}
		chat, err := b.client.GetBasicChatInfo(ctx, acc, msg.ChatID)
		if err != nil {
			b.logger.Error("cannot load chat", "account", acc, "chat", msg.ChatID, "err", err)
			return
		}
		var ok bool
		if url, ok = TargetURL(msg.Text, chat.Type); !ok {
			return
		}
	}

	b.renderAndReply(ctx, acc, msg, url)
}

// renderAndReply sends exactly one reply: the PDF on success, the failure
// text on any error. The temp file is removed on every path.
func (b *Bot) renderAndReply(ctx context.Context, acc domain.AccountID, msg NewMessage, url string) {
	log := b.logger.With("account", acc, "chat", msg.ChatID, "msg", msg.ID, "job", uuid.NewString())

	if err := b.renderAndSend(ctx, acc, msg, url, log); err != nil {
		metrics.RendersFailed.Inc()
		attrs := []any{"url", url, "err", err}
		var rerr *render.Error
		if errors.As(err, &rerr) {
			attrs = append(attrs, "kind", rerr.Kind)
		}
		log.Error("web2pdf failed", attrs...)
		b.reply(ctx, acc, msg.ChatID, domain.MsgData{Text: failureText, QuotedMessageID: msg.ID})
		return
	}
	metrics.RendersOK.Inc()
}

func (b *Bot) renderAndSend(ctx context.Context, acc domain.AccountID, msg NewMessage, url string, log *slog.Logger) error {
	path, err := b.tempFile()
	if err != nil {
		return err
	}
	defer os.Remove(path)

	start := time.Now()
	err = b.renderer.Render(ctx, url, path)
	metrics.RenderLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return err
	}
	log.Debug("rendered", "url", url, "duration", time.Since(start).Round(time.Millisecond))

	_, err = b.client.SendMsg(ctx, acc, msg.ChatID, domain.MsgData{File: path, QuotedMessageID: msg.ID})
	return err
}

func (b *Bot) reply(ctx context.Context, acc domain.AccountID, chatID domain.ChatID, data domain.MsgData) {
	if _, err := b.client.SendMsg(ctx, acc, chatID, data); err != nil {
		b.logger.Error("cannot send message", "account", acc, "chat", chatID, "err", err)
	}
}
