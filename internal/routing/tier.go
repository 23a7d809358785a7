// Package routing maps caller model names onto tiers and tiers onto concrete
// provider/model routes.
package routing

import (
	"log/slog"
	"regexp"
)

type Tier string

const (
	TierOpus   Tier = "opus"
	TierSonnet Tier = "sonnet"
	TierHaiku  Tier = "haiku"
)

// DefaultTier is used for model names that match no tier pattern.
const DefaultTier = TierSonnet

type tierPatterns struct {
	tier     Tier
	patterns []*regexp.Regexp
}

// Checked in order; the first tier with a matching pattern wins.
var tierOrder = []tierPatterns{
	{TierOpus, []*regexp.Regexp{
		regexp.MustCompile(`(?i)opus`),
		regexp.MustCompile(`(?i)^claude-[0-9.]+-opus`),
	}},
	{TierSonnet, []*regexp.Regexp{
		regexp.MustCompile(`(?i)sonnet`),
		regexp.MustCompile(`(?i)^claude-3-7`),
	}},
	{TierHaiku, []*regexp.Regexp{
		regexp.MustCompile(`(?i)haiku`),
		regexp.MustCompile(`(?i)claude-instant`),
	}},
}

func DetectTier(model string) Tier {
	for _, tp := range tierOrder {
		for _, re := range tp.patterns {
			if re.MatchString(model) {
				return tp.tier
			}
		}
	}

	slog.Warn("Unrecognized model name, defaulting tier", "model", model, "tier", DefaultTier)
	return DefaultTier
}

func (t Tier) Valid() bool {
	return t == TierOpus || t == TierSonnet || t == TierHaiku
}
