package main

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
)

var titleCaser = cases.Title(language.English)

func outcomeLabel(outcome string) string {
	outcome = strings.TrimSpace(outcome)
	if outcome == "" {
		return "Unknown"
	}
	return titleCaser.String(outcome)
}

func describeAttempt(a ipc.Attempt) string {
	line := outcomeLabel(a.Outcome)
	if a.Kind != "" {
		line += fmt.Sprintf(" (%s)", a.Kind)
	}
	line += fmt.Sprintf(" via %s at %s", a.Trigger, formatTime(a.FinishedAt))
	if a.Published {
		line += ", published to peers"
	}
	if a.Message != "" && !a.OK() {
		line += ": " + firstLine(a.Message)
	}
	return line
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	default:
		return d.Round(10 * time.Millisecond).String()
	}
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return string(runes[:limit-1]) + "…"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
