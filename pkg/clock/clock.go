// Package clock computes the epoch value shown by devices that have no notion of time zones.
//
// Such a device renders the epoch it is given as if it were UTC. To make it display local wall
// time, the epoch is shifted by the zone's offset from UTC at the current instant.
package clock

import "time"

// Localize returns now's wall-clock time in now's location, expressed as UTC epoch seconds.
func Localize(now time.Time) int64 {
	_, offset := now.Zone()
	return now.Unix() + int64(offset)
}

// LocalizeIn is Localize for now viewed from loc. A nil loc means time.Local.
func LocalizeIn(now time.Time, loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	return Localize(now.In(loc))
}

// Resolve returns *override verbatim when set, and LocalizeIn(now, loc) otherwise.
func Resolve(override *int64, now time.Time, loc *time.Location) int64 {
	if override != nil {
		return *override
	}
	return LocalizeIn(now, loc)
}
