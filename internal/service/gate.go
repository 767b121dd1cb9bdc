package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/internal/domain"
	"github.com/abjtutorial/tutorbot/internal/notify"
	"github.com/abjtutorial/tutorbot/internal/store"
)

// GateResult tells what the gate did with a join.
type GateResult string

const (
	GateIgnored GateResult = "ignored"
	GateAllowed GateResult = "allowed"
	GateRemoved GateResult = "removed"
	GateFailed  GateResult = "failed"
)

// HandleMemberJoin enforces that only approved users stay in the gated channel
// when they join through an invite link. Joins without a link are left alone.
// When the directory cannot be read the joiner is never removed: the owner of
// the link is allowed and anyone else is reported as a failed check.
func (e *Engine) HandleMemberJoin(ctx context.Context, j MemberJoin) (GateResult, error) {
	if e.cfg.MainChannelID == 0 || j.ChatID != e.cfg.MainChannelID || j.InviteLink == "" {
		return GateIgnored, nil
	}
	u, dirErr := e.store.Directory().Get(ctx, j.User.ID)
	if dirErr == nil && u.Status == domain.StatusApproved {
		logger.LogEvent(ctx, logger.SVCGate, slog.LevelDebug, "gate.allowed",
			slog.Int64("target_user_id", j.User.ID),
		)
		return GateAllowed, nil
	}
	if errors.Is(dirErr, store.ErrNotFound) {
		dirErr = nil
	}

	var owner *domain.Invite
	if inv, err := e.store.Invites().Lookup(ctx, j.InviteLink); err == nil {
		owner = &inv
	} else if !errors.Is(err, store.ErrNotFound) {
		logger.LogEvent(ctx, logger.Store, slog.LevelWarn, "invite.lookup_failed",
			slog.String("err", err.Error()),
		)
	}

	if dirErr != nil {
		return e.gateCheckFailed(ctx, j, owner, dirErr)
	}

	result, action := GateRemoved, "removed from channel"
	err := e.notify.Do(ctx, "gate.ban", "banChatMember", func(callCtx context.Context) error {
		return e.channel.Ban(callCtx, j.ChatID, j.User.ID)
	})
	if err == nil {
		err = e.notify.Do(ctx, "gate.unban", "unbanChatMember", func(callCtx context.Context) error {
			return e.channel.Unban(callCtx, j.ChatID, j.User.ID)
		})
	}
	if err != nil {
		result, action = GateFailed, "removal failed"
		logger.LogEvent(ctx, logger.SVCGate, slog.LevelError, "gate.remove_failed",
			slog.Int64("target_user_id", j.User.ID),
			slog.String("err", err.Error()),
		)
	} else {
		e.metrics.IncGateRemoval()
	}

	data := map[string]string{"invite_link": j.InviteLink, "result": string(result)}
	if owner != nil {
		data["invite_owner"] = formatID(owner.OwnerID)
	}
	e.audit(ctx, domain.AuditGateRemoved, 0, j.User.ID, data)
	e.logChannel(ctx, notify.Payload{Text: gateNote(j, owner, action)})
	logger.LogEvent(ctx, logger.SVCGate, slog.LevelInfo, "gate.join_blocked",
		slog.Int64("target_user_id", j.User.ID),
		slog.String("result", string(result)),
		slog.Bool("minted_link", owner != nil),
	)
	return result, err
}

// gateCheckFailed handles a join whose status could not be read. The link
// owner keeps access; anyone else stays until an admin looks at the note.
func (e *Engine) gateCheckFailed(ctx context.Context, j MemberJoin, owner *domain.Invite, dirErr error) (GateResult, error) {
	if owner != nil && owner.OwnerID == j.User.ID {
		logger.LogEvent(ctx, logger.SVCGate, slog.LevelWarn, "gate.allowed_by_invite",
			slog.Int64("target_user_id", j.User.ID),
			slog.String("err", dirErr.Error()),
		)
		return GateAllowed, nil
	}

	data := map[string]string{"invite_link": j.InviteLink, "err": dirErr.Error()}
	if owner != nil {
		data["invite_owner"] = formatID(owner.OwnerID)
	}
	e.audit(ctx, domain.AuditGateCheckFailed, 0, j.User.ID, data)
	e.logChannel(ctx, notify.Payload{Text: gateCheckFailedNote(j, owner)})
	logger.LogEvent(ctx, logger.SVCGate, slog.LevelError, "gate.check_failed",
		slog.Int64("target_user_id", j.User.ID),
		slog.String("err", dirErr.Error()),
	)
	return GateFailed, fmt.Errorf("gate check user %d: %w", j.User.ID, dirErr)
}
