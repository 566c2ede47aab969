package fundval

import "time"

const shanghaiTimeZoneName = "Asia/Shanghai"

const dateLayout = "2006-01-02"

var shanghaiLocation = loadShanghaiLocation()

func loadShanghaiLocation() *time.Location {
	location, err := time.LoadLocation(shanghaiTimeZoneName)
	if err != nil {
		return time.FixedZone(shanghaiTimeZoneName, 8*60*60)
	}
	return location
}

// NowInShanghai returns current time in Asia/Shanghai. Trading days follow this calendar.
func NowInShanghai() time.Time {
	return time.Now().In(shanghaiLocation)
}

// historyWindow returns the [start, end] dates ending yesterday that cover days calendar days.
func historyWindow(now time.Time, days int) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -days), today.AddDate(0, 0, -1)
}
