package utils

import "time"

const (
	ServiceSlot1 = "slot_1"
	ServiceSlot2 = "slot_2"
)

var serviceLabels = map[string]string{
	ServiceSlot1: "Session 1",
	ServiceSlot2: "Session 2",
}

// ClassifyServiceByStart buckets a local start time into the day's first or
// second session slot. Starts at or after the split hour belong to slot_2.
func ClassifyServiceByStart(startLocal time.Time, splitHour int) (key, label string) {
	if startLocal.Hour() >= splitHour {
		return ServiceSlot2, serviceLabels[ServiceSlot2]
	}
	return ServiceSlot1, serviceLabels[ServiceSlot1]
}

func ServiceLabel(key string) string {
	return serviceLabels[key]
}

// DateKey renders the local calendar day used as the archive bucket key.
func DateKey(localTime time.Time) string {
	return localTime.Format("2006-01-02")
}
