package view

import (
	"fmt"
	"time"

	"github.com/MrJamesThe3rd/finnysync/internal/money"
	"github.com/MrJamesThe3rd/finnysync/internal/syncmgr"
)

func FormatAmount(a money.Amount) string {
	return a.String()
}

// FormatProgress renders current/target as a percentage.
func FormatProgress(current, target money.Amount) string {
	if target <= 0 {
		return "-"
	}

	return fmt.Sprintf("%d%%", min(100, int64(current)*100/int64(target)))
}

// FormatMillis formats an epoch-millisecond timestamp as local time.
func FormatMillis(ms int64) string {
	if ms == 0 {
		return "never"
	}

	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04:05")
}

func FormatState(s syncmgr.State) string {
	switch s {
	case syncmgr.StateSyncing:
		return activeStyle("syncing")
	case syncmgr.StateError:
		return errorStyle.Render("error")
	default:
		return string(s)
	}
}
