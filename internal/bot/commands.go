package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/warden/internal/chat"
	"github.com/MarcoPoloResearchLab/warden/internal/roles"
	"go.uber.org/zap"
)

const (
	textNoPermission    = "You do not have permission to do that."
	textFilterOn        = "Content filter enabled."
	textFilterOff       = "Content filter disabled."
	textCommandFailed   = "Something went wrong, please try again later."
	textSetRoleUsage    = "Usage: /setrole <user_id> <rank 0-4>, or reply with /setrole <rank 0-4>."
	textRemoveRoleUsage = "Usage: /removerole <user_id>, or reply with /removerole."
	textShowRoleUsage   = "Usage: /showrole [user_id]"
	textRoleNamesUsage  = "Usage: /setrolenames 0:User,1:Mod,2:Lead,3:Assist,4:Owner"
	textDownloadUsage   = "Usage: /download <url>"
	textRoleRemoved     = "Role removed."
)

type commandHandler func(d *Dispatcher, ctx context.Context, message chat.Message, args []string)

var commandTable = map[string]commandHandler{
	"antimat_on":   func(d *Dispatcher, ctx context.Context, m chat.Message, _ []string) { d.toggleFilter(ctx, m, true) },
	"antimat_off":  func(d *Dispatcher, ctx context.Context, m chat.Message, _ []string) { d.toggleFilter(ctx, m, false) },
	"setrole":      (*Dispatcher).setRole,
	"removerole":   (*Dispatcher).removeRole,
	"showrole":     (*Dispatcher).showRole,
	"setrolenames": (*Dispatcher).setRoleNames,
	"download":     (*Dispatcher).downloadCommand,
}

func (d *Dispatcher) handleCommand(ctx context.Context, message chat.Message) {
	name, args := message.Command()
	handler, ok := commandTable[name]
	if !ok {
		return
	}
	handler(d, ctx, message, args)
}

func (d *Dispatcher) toggleFilter(ctx context.Context, message chat.Message, enabled bool) {
	if !d.authorizer.Authorize(ctx, message.Sender.ID, message.Conversation, roles.RankModerator) {
		d.reply(ctx, message, textNoPermission)
		return
	}
	if err := d.settings.SetFilterEnabled(ctx, message.Conversation, enabled); err != nil {
		d.logger.Error("filter toggle failed",
			zap.String("conversation_id", message.Conversation.String()),
			zap.Bool("enabled", enabled),
			zap.Error(err))
		d.reply(ctx, message, textCommandFailed)
		return
	}
	if enabled {
		d.reply(ctx, message, textFilterOn)
		return
	}
	d.reply(ctx, message, textFilterOff)
}

func (d *Dispatcher) setRole(ctx context.Context, message chat.Message, args []string) {
	var (
		target   chat.ActorID
		rankText string
	)
	switch {
	case len(args) >= 2:
		parsed, err := chat.NewActorID(args[0])
		if err != nil {
			d.reply(ctx, message, textSetRoleUsage)
			return
		}
		target, rankText = parsed, args[1]
	case len(args) == 1 && message.ReplyTo != nil:
		target, rankText = message.ReplyTo.Sender.ID, args[0]
	default:
		d.reply(ctx, message, textSetRoleUsage)
		return
	}
	value, err := strconv.Atoi(rankText)
	if err != nil {
		d.reply(ctx, message, textSetRoleUsage)
		return
	}
	rank, err := d.roles.AssignRank(ctx, message.Sender.ID, message.Conversation, target, value)
	if err != nil {
		d.replyError(ctx, message, err)
		return
	}
	d.reply(ctx, message, fmt.Sprintf("Role set: %s (%d) for %s.", d.roles.RoleName(ctx, message.Conversation, rank), rank, target))
}

func (d *Dispatcher) removeRole(ctx context.Context, message chat.Message, args []string) {
	target, ok := targetOf(message, args)
	if !ok {
		d.reply(ctx, message, textRemoveRoleUsage)
		return
	}
	if err := d.roles.RemoveRank(ctx, message.Sender.ID, message.Conversation, target); err != nil {
		d.replyError(ctx, message, err)
		return
	}
	d.reply(ctx, message, textRoleRemoved)
}

func (d *Dispatcher) showRole(ctx context.Context, message chat.Message, args []string) {
	target, ok := targetOf(message, args)
	if !ok {
		if len(args) > 0 {
			d.reply(ctx, message, textShowRoleUsage)
			return
		}
		target = message.Sender.ID
	}
	rank, name, err := d.roles.DescribeRank(ctx, message.Conversation, target)
	if err != nil {
		d.replyError(ctx, message, err)
		return
	}
	d.reply(ctx, message, fmt.Sprintf("Rank: %d (%s)", rank, name))
}

func (d *Dispatcher) setRoleNames(ctx context.Context, message chat.Message, args []string) {
	if len(args) == 0 {
		d.reply(ctx, message, textRoleNamesUsage)
		return
	}
	changed, err := d.roles.RenameRoles(ctx, message.Sender.ID, message.Conversation, strings.Join(args, " "))
	if errors.Is(err, roles.ErrInvalidRoleNames) {
		d.reply(ctx, message, textRoleNamesUsage)
		return
	}
	if err != nil {
		d.replyError(ctx, message, err)
		return
	}
	d.reply(ctx, message, fmt.Sprintf("Role names updated (%d).", changed))
}

func (d *Dispatcher) downloadCommand(ctx context.Context, message chat.Message, args []string) {
	if len(args) == 0 {
		d.reply(ctx, message, textDownloadUsage)
		return
	}
	link := linkPattern.FindString(args[0])
	if link == "" {
		d.reply(ctx, message, textDownloadUsage)
		return
	}
	d.startDownload(ctx, message, link)
}

// targetOf prefers an explicit id argument over the replied-to author.
func targetOf(message chat.Message, args []string) (chat.ActorID, bool) {
	if len(args) > 0 {
		if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
			return "", false
		}
		target, err := chat.NewActorID(args[0])
		return target, err == nil
	}
	if message.ReplyTo != nil && message.ReplyTo.Sender.ID != "" {
		return message.ReplyTo.Sender.ID, true
	}
	return "", false
}

func (d *Dispatcher) replyError(ctx context.Context, message chat.Message, err error) {
	if errors.Is(err, roles.ErrUnauthorized) {
		d.reply(ctx, message, textNoPermission)
		return
	}
	d.logger.Error("command failed",
		zap.String("conversation_id", message.Conversation.String()),
		zap.String("actor_id", message.Sender.ID.String()),
		zap.Error(err))
	d.reply(ctx, message, textCommandFailed)
}

func (d *Dispatcher) reply(ctx context.Context, message chat.Message, text string) {
	if _, err := d.platform.SendText(ctx, message.Conversation, message.ID, text); err != nil {
		d.logger.Warn("command reply failed",
			zap.String("conversation_id", message.Conversation.String()),
			zap.Error(err))
	}
}
