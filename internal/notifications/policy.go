package notifications

import "github.com/opsgrove/incident-ledger/internal/domain"

// Channel names used in policy tables.
const (
	ChannelDiscord   = "discord"
	ChannelPagerDuty = "pagerduty"
)

// Policy maps a severity tier to the channels dispatched for it. A
// severity with no entry (or an empty entry) dispatches nothing. The
// table is fixed at configuration time.
type Policy map[domain.Severity][]string

// DefaultPolicy returns the standard escalation table: SEV1 pages and
// posts to chat, SEV2 posts to chat, SEV3/SEV4 stay quiet.
func DefaultPolicy() Policy {
	return Policy{
		domain.SeveritySev1: {ChannelDiscord, ChannelPagerDuty},
		domain.SeveritySev2: {ChannelDiscord},
		domain.SeveritySev3: {},
		domain.SeveritySev4: {},
	}
}

// ChannelsFor returns the channels dispatched for a severity.
func (p Policy) ChannelsFor(severity domain.Severity) []string {
	return p[severity]
}
