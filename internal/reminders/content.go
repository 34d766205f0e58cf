package reminders

import (
	"fmt"
	"time"

	"github.com/wolfman30/clinic-booking-agent/internal/notify"
)

// Render builds the message for a task's tier, with times shown in loc.
func Render(task Task, clinic string, loc *time.Location) notify.Content {
	if loc == nil {
		loc = time.UTC
	}
	start := task.AppointmentStart.In(loc)
	when := start.Format("Monday, January 2 at 3:04 PM")
	with := task.DoctorName
	if with == "" {
		with = "your doctor"
	}
	where := ""
	if task.Location != "" {
		where = " at " + task.Location
	}
	name := task.PatientName
	if name == "" {
		name = "there"
	}

	switch task.Tier {
	case 1:
		return notify.Content{
			Subject: fmt.Sprintf("%s: appointment tomorrow", clinic),
			Body: fmt.Sprintf("Hi %s, this is a reminder of your appointment with %s tomorrow, %s%s. Please arrive 15 minutes early.",
				name, with, when, where),
		}
	case 2:
		return notify.Content{
			Subject: fmt.Sprintf("%s: appointment in 2 hours", clinic),
			Body: fmt.Sprintf("Hi %s, your appointment with %s is in 2 hours (%s%s). Please confirm you can make it.",
				name, with, start.Format("3:04 PM"), where),
		}
	default:
		return notify.Content{
			Subject: fmt.Sprintf("%s: final reminder", clinic),
			Body: fmt.Sprintf("Hi %s, final reminder: your appointment with %s starts at %s%s. If you are running late, please call the clinic.",
				name, with, start.Format("3:04 PM"), where),
		}
	}
}
