package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/masoudn84/npm-offline-package-mirror/internal/pipeline"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// maxListedFailures bounds the failures printed inline; the failure log
// holds all of them.
const maxListedFailures = 20

var numbers = message.NewPrinter(language.English)

// renderSummary prints the end-of-run counts and the failed packages.
func renderSummary(w io.Writer, s *pipeline.Summary) {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("Summary") + "\n")
	row := func(label string, n int, style func(...string) string) {
		value := numbers.Sprintf("%d", n)
		if n > 0 && style != nil {
			value = style(value)
		}
		fmt.Fprintf(&b, "  %s%s\n", labelStyle.Render(label), value)
	}
	row("Packages", s.Total, nil)
	row("Published", s.Published, SuccessStyle.Render)
	row("Already present", s.AlreadyExists, SuccessStyle.Render)
	row("Failed", s.Failed, ErrorStyle.Render)
	row("Cancelled", s.Cancelled, WarningStyle.Render)
	if s.Fetched > 0 {
		row("From upstream", s.Fetched, nil)
	}
	fmt.Fprintf(&b, "  %s%s\n", labelStyle.Render("Duration"), s.Duration.Round(10*time.Millisecond))

	failed := s.FailedResults()
	if len(failed) > 0 {
		b.WriteString("\n" + TitleStyle.Render("Not published") + "\n")
		for i, r := range failed {
			if i == maxListedFailures {
				b.WriteString(SubtitleStyle.Render(numbers.Sprintf("  ... and %d more", len(failed)-maxListedFailures)) + "\n")
				break
			}
			fmt.Fprintf(&b, "  %s %s %s\n",
				ErrorStyle.Render("x"),
				CmdStyle.Render(r.Unit.ID()),
				SubtitleStyle.Render(fmt.Sprintf("%s: %s", r.Stage, r.Kind)))
		}
		if s.FailureLog != "" {
			fmt.Fprintf(&b, "\n  Details in %s\n", CmdStyle.Render(s.FailureLog))
		}
	}

	fmt.Fprint(w, b.String())
}
