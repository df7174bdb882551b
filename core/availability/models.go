package availability

import (
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/gruppenschlau/gruppenschlau/core"
)

type Day string

const (
	Monday    Day = "monday"
	Tuesday   Day = "tuesday"
	Wednesday Day = "wednesday"
	Thursday  Day = "thursday"
	Friday    Day = "friday"
	Saturday  Day = "saturday"
	Sunday    Day = "sunday"
)

var (
	Days = []Day{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

	TimeSlots = []string{
		"08:00 - 09:00",
		"09:00 - 10:00",
		"10:00 - 11:00",
		"11:00 - 12:00",
		"12:00 - 13:00",
		"13:00 - 14:00",
		"14:00 - 15:00",
		"15:00 - 16:00",
		"16:00 - 17:00",
		"17:00 - 18:00",
		"18:00 - 19:00",
		"19:00 - 20:00",
	}
)

// DayIndex returns the position of `d` in the week, or -1 for unknown days.
func DayIndex(d Day) int {
	for i, day := range Days {
		if day == d {
			return i
		}
	}
	return -1
}

// SlotIndex returns the position of `slot` in TimeSlots, or -1 for unknown slots.
func SlotIndex(slot string) int {
	for i, s := range TimeSlots {
		if s == slot {
			return i
		}
	}
	return -1
}

// Label formats a weekly slot as "<day> <time slot>", e.g. "monday 16:00 - 17:00".
func Label(day Day, slot string) string {
	return string(day) + " " + slot
}

// ParseLabel is the inverse of Label.
func ParseLabel(label string) (Day, string, bool) {
	parts := strings.SplitN(label, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	day, slot := Day(parts[0]), parts[1]
	if DayIndex(day) < 0 || SlotIndex(slot) < 0 {
		return "", "", false
	}
	return day, slot, true
}

// SortLabels orders slot labels by day then by time.
func SortLabels(labels []string) {
	sort.SliceStable(labels, func(i, j int) bool { return labelLess(labels[i], labels[j]) })
}

func labelLess(a, b string) bool {
	da, sa, okA := ParseLabel(a)
	db, sb, okB := ParseLabel(b)
	if !okA || !okB {
		return a < b
	}
	if da != db {
		return DayIndex(da) < DayIndex(db)
	}
	return SlotIndex(sa) < SlotIndex(sb)
}

type Availability struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Day       Day       `json:"day_of_week"`
	TimeSlot  string    `json:"time_slot"`
	CreatedAt time.Time `json:"created_at"` // UTC
}

func (av Availability) Label() string {
	return Label(av.Day, av.TimeSlot)
}

// Sort orders availabilities by day then by time.
func Sort(avs []Availability) {
	sort.SliceStable(avs, func(i, j int) bool {
		if avs[i].Day != avs[j].Day {
			return DayIndex(avs[i].Day) < DayIndex(avs[j].Day)
		}
		return SlotIndex(avs[i].TimeSlot) < SlotIndex(avs[j].TimeSlot)
	})
}

// Labels returns the slot labels of `avs`, in order.
func Labels(avs []Availability) []string {
	labels := make([]string, 0, len(avs))
	for _, av := range avs {
		labels = append(labels, av.Label())
	}
	return labels
}

// NewAvailability contains information needed to declare a weekly slot.
type NewAvailability struct {
	Day      string `json:"day_of_week" validate:"required,day"`
	TimeSlot string `json:"time_slot" validate:"required,timeslot"`
}

func (na *NewAvailability) Validate(validate *validator.Validate) error {
	na.Day = core.CleanString(na.Day, true /* lower */)
	na.TimeSlot = core.CleanString(na.TimeSlot)
	return validate.Struct(na)
}
