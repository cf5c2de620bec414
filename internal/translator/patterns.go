package translator

import (
	"regexp"

	"github.com/jjgarcianorway/anna/internal/protocol"
)

var (
	ramRE        = regexp.MustCompile(`^how much ram do i have\??$|^what is my ram\??$|^how much memory do i have\??$`)
	cpuRE        = regexp.MustCompile(`^what is my cpu\??$|^what cpu do i have\??$`)
	diskFreeRE   = regexp.MustCompile(`^how much disk is free\??$|^is my disk full\??$|^how much disk space do i have\??$`)
	memHogsRE    = regexp.MustCompile(`^what'?s using the most memory\??$|^what is using the most memory\??$`)
	diagnosticRE = regexp.MustCompile(`^run( a)?( full)? diagnostic$`)
	installRE    = regexp.MustCompile(`^install (?P<pkg>[a-z0-9][a-z0-9.+-]*)$`)
	restartRE    = regexp.MustCompile(`^restart (?P<unit>[a-z0-9][a-z0-9.+-]*)$`)
	stopRE       = regexp.MustCompile(`^stop (?P<unit>[a-z0-9][a-z0-9.+-]*)$`)
)

// patternTable covers the well-known question shapes named in spec.md
// §4.3 step 2, in priority order. The first match wins.
var patternTable = []rule{
	{
		match: func(n string) ([]string, bool) { return nil, ramRE.MatchString(n) },
		build: func(_ []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentSystemQuery,
				Domain:      protocol.DomainHardware,
				Entities:    []string{"ram"},
				NeedsProbes: nil,
				Risk:        protocol.RiskReadOnly,
				Confidence:  1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) { return nil, cpuRE.MatchString(n) },
		build: func(_ []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentSystemQuery,
				Domain:      protocol.DomainHardware,
				Entities:    []string{"cpu"},
				NeedsProbes: nil,
				Risk:        protocol.RiskReadOnly,
				Confidence:  1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) { return nil, diskFreeRE.MatchString(n) },
		build: func(_ []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentSystemQuery,
				Domain:      protocol.DomainStorage,
				Entities:    []string{"disk"},
				NeedsProbes: []string{"disk_usage"},
				Risk:        protocol.RiskReadOnly,
				Confidence:  1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) { return nil, memHogsRE.MatchString(n) },
		build: func(_ []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentSystemQuery,
				Domain:      protocol.DomainPerformance,
				Entities:    []string{"memory"},
				NeedsProbes: []string{"top_memory_procs"},
				Risk:        protocol.RiskReadOnly,
				Confidence:  1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) { return nil, diagnosticRE.MatchString(n) },
		build: func(_ []string) protocol.Ticket {
			return protocol.Ticket{
				Intent: protocol.IntentSystemQuery,
				Domain: protocol.DomainGeneral,
				NeedsProbes: []string{
					"disk_usage", "failed_services", "memory_summary", "recent_journal_errors",
				},
				Risk:       protocol.RiskReadOnly,
				Confidence: 1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) {
			m := installRE.FindStringSubmatch(n)
			if m == nil {
				return nil, false
			}
			return []string{m[1]}, true
		},
		build: func(entities []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentActionRequest,
				Domain:      protocol.DomainGeneral,
				Entities:    entities,
				NeedsProbes: nil,
				Risk:        protocol.RiskMedium,
				Confidence:  1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) {
			m := restartRE.FindStringSubmatch(n)
			if m == nil {
				return nil, false
			}
			return []string{m[1], "restart"}, true
		},
		build: func(entities []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentActionRequest,
				Domain:      protocol.DomainServices,
				Entities:    entities,
				NeedsProbes: nil,
				Risk:        protocol.RiskMedium,
				Confidence:  1.0,
			}
		},
	},
	{
		match: func(n string) ([]string, bool) {
			m := stopRE.FindStringSubmatch(n)
			if m == nil {
				return nil, false
			}
			return []string{m[1], "stop"}, true
		},
		build: func(entities []string) protocol.Ticket {
			return protocol.Ticket{
				Intent:      protocol.IntentActionRequest,
				Domain:      protocol.DomainServices,
				Entities:    entities,
				NeedsProbes: nil,
				Risk:        protocol.RiskMedium,
				Confidence:  1.0,
			}
		},
	},
}
