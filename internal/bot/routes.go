package bot

import (
	"context"
	"regexp"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/downloads"
	"github.com/MarcoPoloResearchLab/warden/internal/moderation"
	"go.uber.org/zap"
)

var linkPattern = regexp.MustCompile(`https?://\S+`)

// handleMessage sends commands to the command table and everything else
// through the gate, then moderation keywords, then link detection.
func (d *Dispatcher) handleMessage(ctx context.Context, message chat.Message) {
	if message.IsCommand() {
		d.handleCommand(ctx, message)
		return
	}

	verdict := d.gate.Inspect(ctx, message)
	if verdict.Suppressed {
		return
	}

	if message.ReplyTo != nil {
		if action, ok := moderation.ParseAction(message.Text); ok {
			target := message.ReplyTo.Sender
			d.moderation.Handle(ctx, moderation.Request{
				Conversation: message.Conversation,
				Message:      message.ID,
				Actor:        message.Sender,
				Target:       &target,
				Action:       action,
			})
			return
		}
	}

	if link := linkPattern.FindString(message.Text); link != "" {
		d.startDownload(ctx, message, link)
	}
}

func (d *Dispatcher) startDownload(ctx context.Context, message chat.Message, link string) {
	if _, err := d.downloads.Create(ctx, message.Conversation, message.Sender.ID, message.ID, link); err != nil {
		d.logger.Warn("download session not created",
			zap.String("conversation_id", message.Conversation.String()),
			zap.String("actor_id", message.Sender.ID.String()),
			zap.Error(err))
	}
}

// handleCallback answers every callback exactly once.
func (d *Dispatcher) handleCallback(ctx context.Context, callback chat.Callback) {
	answer := ""
	if downloads.IsPayload(callback.Payload) {
		answer = d.confirmDownload(ctx, callback)
	}
	if callback.ID == "" {
		return
	}
	if err := d.platform.AnswerCallback(ctx, callback.ID, answer); err != nil {
		d.logger.Debug("callback answer failed", zap.String("callback_id", callback.ID), zap.Error(err))
	}
}

func (d *Dispatcher) confirmDownload(ctx context.Context, callback chat.Callback) string {
	sessionID, format, err := downloads.ParsePayload(callback.Payload)
	if err != nil {
		d.logger.Info("malformed download payload", zap.String("payload", callback.Payload))
		return downloads.UserMessage(err)
	}
	if _, err := d.downloads.Confirm(ctx, sessionID, format, callback.Actor.ID); err != nil {
		return downloads.UserMessage(err)
	}
	return ""
}
