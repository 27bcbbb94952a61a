package progress

import "time"

// truncateToDay returns local midnight of t in loc.
func truncateToDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// UpdateStreak credits activity at now to the user's daily streak, with day
// boundaries taken in loc. It reports whether anything changed.
//
// Activity on the day already credited is a no-op, the day after extends the
// streak, and any longer gap restarts it at one. Activity dated before the last
// credited day is ignored so that out-of-order jobs cannot break a streak.
func UpdateStreak(u User, now time.Time, loc *time.Location) (User, bool) {
	today := truncateToDay(now, loc)

	if u.LastActivityDate == nil {
		u.CurrentStreak = 1
	} else {
		last := truncateToDay(*u.LastActivityDate, loc)
		switch {
		case !last.Before(today):
			return u, false
		case last.AddDate(0, 0, 1).Equal(today):
			u.CurrentStreak++
		default:
			u.CurrentStreak = 1
		}
	}

	if u.CurrentStreak > u.LongestStreak {
		u.LongestStreak = u.CurrentStreak
	}
	u.LastActivityDate = &today
	return u, true
}
