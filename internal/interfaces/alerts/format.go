package alerts

import (
	"fmt"
	"html"
	"strings"

	"github.com/sawpanic/stockmetrics/internal/application/engine"
)

// maxListed caps the failed symbols spelled out in a message
const maxListed = 10

// FormatRunReport renders a run outcome as a Telegram HTML message
func FormatRunReport(r *engine.RunReport) string {
	var b strings.Builder

	status, emoji := "SUCCESS", "✅"
	if r.State != engine.StateDone {
		status, emoji = "FAILED", "❌"
	}

	b.WriteString(fmt.Sprintf("%s <b>Daily metrics %s - %s</b>\n\n", emoji, r.Date.Format("2006-01-02"), status))
	b.WriteString(fmt.Sprintf("Universe: %d\n", r.UniverseSize))
	b.WriteString(fmt.Sprintf("Computed: %d | Rated: %d | Written: %d\n", r.Computed, r.Rated, r.Written))

	if n := len(r.FailedSymbols); n > 0 {
		b.WriteString(fmt.Sprintf("Failed symbols: %d (%s)\n", n, html.EscapeString(listed(r.FailedSymbols))))
	}
	for _, fb := range r.FailedBatches {
		b.WriteString(fmt.Sprintf("Failed batch #%d: %d rows\n", fb.Index, len(fb.Symbols)))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("\n<b>Error:</b> %s\n", html.EscapeString(r.Error)))
	}

	b.WriteString(fmt.Sprintf("\n<b>Duration:</b> %.1fs\n", r.Duration().Seconds()))
	b.WriteString(fmt.Sprintf("<b>Run:</b> <code>%s</code>", r.RunID))
	return b.String()
}

func listed(symbols []string) string {
	if len(symbols) <= maxListed {
		return strings.Join(symbols, ", ")
	}
	return strings.Join(symbols[:maxListed], ", ") + fmt.Sprintf(", +%d more", len(symbols)-maxListed)
}
