package progress

// MaxLevel is the highest reachable level.
const MaxLevel = 20

const baseLevelXP = 100

var cumulativeXP = buildCumulativeXP()

// MaxTotalXP is the lifetime XP at which MaxLevel is reached. XP never exceeds it.
var MaxTotalXP = cumulativeXP[MaxLevel]

// XPRequiredForLevel returns floor(100 * 1.5^(level-1)), the XP needed to go from
// level to level+1. Levels below 1 are treated as 1.
func XPRequiredForLevel(level int) int {
	if level < 1 {
		level = 1
	}
	n := level - 1
	num, den := int64(baseLevelXP), int64(1)
	for i := 0; i < n; i++ {
		num *= 3
		den *= 2
	}
	return int(num / den)
}

func buildCumulativeXP() [MaxLevel + 1]int {
	var table [MaxLevel + 1]int
	for level := 2; level <= MaxLevel; level++ {
		table[level] = table[level-1] + XPRequiredForLevel(level-1)
	}
	return table
}

// CumulativeXPForLevel returns the lifetime XP at which level is reached.
func CumulativeXPForLevel(level int) int {
	switch {
	case level <= 1:
		return 0
	case level >= MaxLevel:
		return cumulativeXP[MaxLevel]
	default:
		return cumulativeXP[level]
	}
}

// LevelForXP returns the greatest level whose cumulative requirement is covered by xp.
func LevelForXP(xp int) int {
	level := 1
	for l := 2; l <= MaxLevel; l++ {
		if cumulativeXP[l] > xp {
			break
		}
		level = l
	}
	return level
}

// ClampXP keeps xp within [0, MaxTotalXP].
func ClampXP(xp int) int {
	if xp < 0 {
		return 0
	}
	if xp > MaxTotalXP {
		return MaxTotalXP
	}
	return xp
}

// LevelStats are the derived progression figures for a lifetime XP total.
type LevelStats struct {
	XPIntoLevel    int  `json:"xp_into_level"`
	XPForNextLevel int  `json:"xp_for_next_level"`
	XPProgress     int  `json:"xp_progress"`
	NextLevelAt    int  `json:"next_level_at"`
	IsMaxLevel     bool `json:"is_max_level"`
}

// StatsForXP derives LevelStats from a lifetime XP total.
func StatsForXP(xp int) LevelStats {
	xp = ClampXP(xp)
	level := LevelForXP(xp)
	if level >= MaxLevel {
		return LevelStats{IsMaxLevel: true, XPProgress: 100, NextLevelAt: MaxTotalXP}
	}
	into := xp - cumulativeXP[level]
	need := XPRequiredForLevel(level)
	return LevelStats{
		XPIntoLevel:    into,
		XPForNextLevel: need,
		XPProgress:     into * 100 / need,
		NextLevelAt:    cumulativeXP[level+1],
	}
}

// LevelRecalculation reports the outcome of recomputing a user's level.
type LevelRecalculation struct {
	Level         int  `json:"level"`
	PreviousLevel int  `json:"previous_level"`
	LevelChanged  bool `json:"level_changed"`
}

// normalizeLevel re-derives level from XP in place.
func normalizeLevel(u *User) LevelRecalculation {
	prev := u.Level
	u.XP = ClampXP(u.XP)
	u.Level = LevelForXP(u.XP)
	return LevelRecalculation{Level: u.Level, PreviousLevel: prev, LevelChanged: prev != u.Level}
}

// GrantableXP clamps amount so that current+amount stays within [0, maxXP].
func GrantableXP(current, amount, maxXP int) int {
	if current+amount > maxXP {
		amount = maxXP - current
	}
	if amount < 0 {
		return 0
	}
	return amount
}
