package logparse

import (
	"regexp"
	"strings"

	"github.com/tinytelemetry/doctarget/internal/model"
)

// SeverityRegex matches common severity levels in log text.
var SeverityRegex = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\b`)

// NormalizeLevel converts the many spellings of a severity into one of the
// canonical model level names. Unknown input maps to Info.
func NormalizeLevel(severity string) string {
	normalized := strings.ToUpper(strings.TrimSpace(severity))

	switch normalized {
	case "TRACE", "TRAC", "TRC", "VERBOSE", "VRB":
		return model.LevelTrace
	case "DEBUG", "DEBU", "DBG", "DEB":
		return model.LevelDebug
	case "INFO", "INFORMATION", "INF", "NOTICE":
		return model.LevelInfo
	case "WARN", "WARNING", "WRNG", "WRN":
		return model.LevelWarn
	case "ERROR", "ERR", "ERRO":
		return model.LevelError
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT", "PANIC", "PNC", "DPANIC":
		return model.LevelFatal
	}

	if len(normalized) >= 4 {
		switch normalized[:4] {
		case "INFO":
			return model.LevelInfo
		case "WARN":
			return model.LevelWarn
		case "ERRO":
			return model.LevelError
		case "DEBU":
			return model.LevelDebug
		case "TRAC":
			return model.LevelTrace
		case "FATA", "CRIT":
			return model.LevelFatal
		}
	}
	return model.LevelInfo
}

// ExtractLevelFromText sniffs a severity keyword out of free text.
func ExtractLevelFromText(message string) string {
	matches := SeverityRegex.FindStringSubmatch(message)
	if len(matches) > 1 {
		return NormalizeLevel(matches[1])
	}
	return model.LevelInfo
}

// LevelFromPino converts pino/bunyan numeric levels.
func LevelFromPino(level int) string {
	switch {
	case level < 20:
		return model.LevelTrace
	case level < 30:
		return model.LevelDebug
	case level < 40:
		return model.LevelInfo
	case level < 50:
		return model.LevelWarn
	case level < 60:
		return model.LevelError
	default:
		return model.LevelFatal
	}
}

// LevelFromOTLPNumber converts an OpenTelemetry severity number (1-24).
// It returns "" for unspecified or out-of-range numbers.
func LevelFromOTLPNumber(number int) string {
	switch {
	case number >= 1 && number <= 4:
		return model.LevelTrace
	case number >= 5 && number <= 8:
		return model.LevelDebug
	case number >= 9 && number <= 12:
		return model.LevelInfo
	case number >= 13 && number <= 16:
		return model.LevelWarn
	case number >= 17 && number <= 20:
		return model.LevelError
	case number >= 21 && number <= 24:
		return model.LevelFatal
	default:
		return ""
	}
}
