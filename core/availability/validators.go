package availability

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/gruppenschlau/gruppenschlau/core"
)

var (
	dayTag  = "day"
	dayText = "invalid day of the week"

	timeSlotTag  = "timeslot"
	timeSlotText = "invalid time slot"
)

func InitValidators(validate *validator.Validate, translator ut.Translator) {
	days := make([]string, 0, len(Days))
	for _, d := range Days {
		days = append(days, string(d))
	}
	_ = validate.RegisterValidation(dayTag, core.OneOfValidation(days))
	core.RegisterCustomTranslation(validate, translator, dayTag, dayText)

	_ = validate.RegisterValidation(timeSlotTag, core.OneOfValidation(TimeSlots))
	core.RegisterCustomTranslation(validate, translator, timeSlotTag, timeSlotText)
}
