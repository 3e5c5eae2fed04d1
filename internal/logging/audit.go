package logging

import "github.com/rs/zerolog"

// Audit actions emitted by the relay.
const (
	ActionJoin        = "relay.join"
	ActionLeave       = "relay.leave"
	ActionSendMessage = "relay.send_message"
	ActionEvict       = "relay.evict"
)

// FieldAction names the audited action.
const FieldAction = "action"

// Audit emits a structured audit entry on the given logger.
func Audit(l zerolog.Logger, action, connID, username, msg string) {
	l.Info().
		Str(FieldLogType, LogTypeAudit).
		Str(FieldAction, action).
		Str(FieldConnID, connID).
		Str(FieldUsername, username).
		Msg(msg)
}
