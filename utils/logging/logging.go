package logging

import (
	"log/slog"
)

type LogCode string

const (
	SYSTEM LogCode = "SYSTEM"

	// AUTH*
	AUTH_LOGIN LogCode = "AUTH_LOGIN"
	AUTH_MFA   LogCode = "AUTH_MFA"
	AUTH_CODES LogCode = "AUTH_CODES"

	// DEVICE*
	DEVICE_PROVISION LogCode = "DEVICE_PROVISION"
	DEVICE_DELETE    LogCode = "DEVICE_DELETE"
	DEVICE_STATUS    LogCode = "DEVICE_STATUS"

	FLOW_PRUNE      LogCode = "FLOW_PRUNE"
	TEAM_MEMBERSHIP LogCode = "TEAM_MEMBERSHIP"

	PROVIDER_SETUP  LogCode = "PROVIDER_SETUP"
	STORAGE         LogCode = "STORAGE"
	HISTORY_CLEANUP LogCode = "HISTORY_CLEANUP"
)

func Code(code LogCode) slog.Attr {
	return slog.String("code", string(code))
}

// VictoriaLogs expects the time and message under _time and _msg.
func convertKeysToVictoriaLogs(groups []string, a slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return a
	}
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().UTC().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool, level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}
