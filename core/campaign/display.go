package campaign

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

const deadlineLayout = "Jan 2, 2006"

// ShortAddress abbreviates an address to its first six and last four characters.
func ShortAddress(addr common.Address) string {
	hex := addr.Hex()
	return hex[:6] + "..." + hex[len(hex)-4:]
}

// FormatDeadline renders a unix-second deadline as a calendar date in UTC.
func FormatDeadline(deadline int64) string {
	return time.Unix(deadline, 0).UTC().Format(deadlineLayout)
}

// DeadlineLabel is the footer text for a campaign: the end date once expired,
// otherwise the time remaining.
func DeadlineLabel(v View) string {
	if v.Expired {
		return "Ended " + FormatDeadline(v.Deadline)
	}
	return v.TimeRemaining
}
