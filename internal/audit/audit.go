package audit

import (
	"context"

	"github.com/weiawesome/groupwatch/pkg/log"
)

// Audit actions for room membership and host changes.
const (
	ActionJoinRoom     = "watch.join_room"
	ActionLeaveRoom    = "watch.leave_room"
	ActionDisconnect   = "watch.disconnect"
	ActionHostElected  = "watch.host_elected"
	ActionHostTransfer = "watch.host_transfer"
	ActionHostDeclined = "watch.host_declined"
	ActionAnnouncement = "watch.announcement"
)

// Field constants for audit entries.
const (
	FieldAction   = "action"
	FieldTargetID = "target_id"
)

// Log emits a structured audit entry via the context logger.
func Log(ctx context.Context, action, connID, roomID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldConnID, connID).
		Str(log.FieldRoomID, roomID).
		Msg(msg)
}

// LogWithTarget is Log for actions that name a second connection.
func LogWithTarget(ctx context.Context, action, connID, roomID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldConnID, connID).
		Str(log.FieldRoomID, roomID).
		Str(FieldTargetID, targetID).
		Msg(msg)
}
