package scheduling

import "time"

// SlotLength is the granularity of generated calendars.
const SlotLength = 30 * time.Minute

// clinicSessions are the bookable blocks of a weekday, in local hours.
var clinicSessions = [][2]int{{9, 12}, {13, 17}}

// GenerateSlots builds 30-minute slots for weekdays over days calendar days starting
// at from's date: 09:00-12:00 and 13:00-17:00 local time.
func GenerateSlots(doctor string, from time.Time, days int, loc *time.Location) []Slot {
	if loc == nil {
		loc = time.UTC
	}
	from = from.In(loc)
	first := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	var out []Slot
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i)
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		date := day.Format(DateLayout)
		for _, session := range clinicSessions {
			start := time.Date(day.Year(), day.Month(), day.Day(), session[0], 0, 0, 0, loc)
			end := time.Date(day.Year(), day.Month(), day.Day(), session[1], 0, 0, 0, loc)
			for t := start; t.Before(end); t = t.Add(SlotLength) {
				out = append(out, Slot{
					Doctor:    doctor,
					Date:      date,
					Start:     t,
					Duration:  SlotLength,
					Available: true,
				})
			}
		}
	}
	return out
}

// DefaultDoctors is the seed roster used when no doctor table exists yet.
func DefaultDoctors(ids []string) []Doctor {
	known := map[string]Doctor{
		"smith":     {ID: "smith", DisplayName: "Dr. Anna Smith", Specialty: "Family Medicine", Location: "Main Campus"},
		"johnson":   {ID: "johnson", DisplayName: "Dr. Sarah Johnson", Specialty: "Internal Medicine", Location: "Main Campus"},
		"chen":      {ID: "chen", DisplayName: "Dr. Michael Chen", Specialty: "Cardiology", Location: "Main Campus"},
		"rodriguez": {ID: "rodriguez", DisplayName: "Dr. Emily Rodriguez", Specialty: "Pediatrics", Location: "Pediatric Wing"},
		"kim":       {ID: "kim", DisplayName: "Dr. David Kim", Specialty: "Orthopedics", Location: "Sports Medicine Center"},
		"thompson":  {ID: "thompson", DisplayName: "Dr. Lisa Thompson", Specialty: "Dermatology", Location: "Main Campus"},
	}
	out := make([]Doctor, 0, len(ids))
	for _, id := range ids {
		if d, ok := known[id]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, Doctor{ID: id, DisplayName: "Dr. " + capitalize(id)})
	}
	return out
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
