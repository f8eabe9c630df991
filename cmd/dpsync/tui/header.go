package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	dpsyncv1 "github.com/vladzaharia/dangerprep-sync/pkg/api/dpsync/v1"
	"github.com/vladzaharia/dangerprep-sync/pkg/dpsync/target"
)

// renderAppHeader renders the title line with target counts and the live
// indicator.
func renderAppHeader(st *dpsyncv1.StatusReply, live bool, now time.Time) string {
	header := " " + titleStyle.Render("DPSYNC")
	if st == nil {
		return header + mutedTextStyle.Render("  connecting...")
	}

	attached, running := 0, 0
	for _, t := range st.Targets {
		if t.Device.State == target.StateReady || t.Device.State == target.StateBusy {
			attached++
		}
		if t.Running {
			running++
		}
	}
	header += mutedTextStyle.Render(fmt.Sprintf("  %d targets  •  %d attached  •  %d syncing",
		len(st.Targets), attached, running))

	if !st.Daemon.StartedAt.IsZero() {
		header += mutedTextStyle.Render("  •  up " + strings.TrimSpace(humanize.RelTime(st.Daemon.StartedAt, now, "", "")))
	}
	if live {
		header += successTextStyle.Render("  ● LIVE")
	} else {
		header += warningTextStyle.Render("  ○ feed lost")
	}
	return header
}
