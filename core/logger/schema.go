package logger

import "strings"

var levelNames = map[string]string{
	"debug":   "DEBUG",
	"info":    "INFO",
	"warn":    "WARN",
	"warning": "WARN",
	"error":   "ERROR",
}

var allowedStatus = map[string]struct{}{
	"ok":           {},
	"fail":         {},
	"skip":         {},
	"retry":        {},
	"rate_limited": {},
	"cancelled":    {},
}

var allowedOutcome = map[string]struct{}{
	"ok":                {},
	"fail":              {},
	"cancelled":         {},
	"rate_limited":      {},
	"already_processed": {},
	"denied":            {},
}

func normalizeLevel(level string) string {
	if level == "" {
		return "INFO"
	}
	if mapped, ok := levelNames[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// normalizeStatus lower-cases known statuses and keeps unknown ones verbatim.
func normalizeStatus(status string) string {
	s := strings.ToLower(strings.TrimSpace(status))
	if _, ok := allowedStatus[s]; ok {
		return s
	}
	return status
}

func normalizeOutcome(outcome string) (string, bool) {
	o := strings.ToLower(strings.TrimSpace(outcome))
	_, ok := allowedOutcome[o]
	return o, ok
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"cb_key",
	"state",
	"outcome",
	"duration_ms",
	"messages",
	"kb",
	"admin_id",
	"target_user_id",
	"payment_id",
	"comment_id",
	"cohort",
	"recipients",
	"sent",
	"failed",
	"count",
	"payload",
	"username",
	"mode",
	"listen",
	"public_url",
	"driver",
	"db",
	"host",
	"port",
	"err",
	"err_kind",
	"cause",
	"attempts",
}
