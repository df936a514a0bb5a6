package appointments

import (
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/internal/intent"
	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
)

// Details merges intent entities with the contact address and carries one
// validation result per required field.
type Details struct {
	FullName       string
	IdentityNumber string
	Date           string
	Time           string
	ContactAddress string
	Email          string

	Start time.Time
	End   time.Time

	NameCheck     validation.Result
	IdentityCheck validation.Result
	DateCheck     validation.Result
	TimeCheck     validation.Result
	HoursCheck    validation.Result

	// IsComplete covers presence and format of every field and a start that
	// is not in the past. Business hours are reported by HoursCheck.
	IsComplete bool
}

// MapIntentToAppointmentDetails validates the entities of res for a booking
// at now. The channel contact wins over a contact entity.
func MapIntentToAppointmentDetails(res intent.Result, contact string, policy validation.Policy, now time.Time) Details {
	loc := policy.Location
	if loc == nil {
		loc = time.UTC
	}
	slot := policy.SlotDuration
	if slot <= 0 {
		slot = 30 * time.Minute
	}
	now = now.In(loc)
	e := res.Entities

	d := Details{
		FullName:       strings.TrimSpace(e.FullName),
		IdentityNumber: validation.DigitsOnly(e.IdentityNumber),
		Date:           strings.TrimSpace(e.Date),
		Time:           strings.TrimSpace(e.Time),
		ContactAddress: strings.TrimSpace(contact),
		Email:          strings.TrimSpace(e.Email),
	}
	if d.ContactAddress == "" {
		d.ContactAddress = strings.TrimSpace(e.ContactAddress)
	}

	d.NameCheck = validation.OK()
	if d.FullName == "" {
		d.NameCheck = validation.Invalid(validation.MsgMissingName)
	}

	d.IdentityCheck = checkIdentity(d.IdentityNumber)
	d.DateCheck, d.TimeCheck, d.HoursCheck = checkWindow(&d, now, loc, slot)

	d.IsComplete = d.NameCheck.Valid && d.IdentityCheck.Valid && d.DateCheck.Valid && d.TimeCheck.Valid
	return d
}

func checkIdentity(digits string) validation.Result {
	switch {
	case digits == "":
		return validation.Invalid(validation.MsgMissingIdentity)
	case !validation.ValidateIdentityNumber(digits):
		return validation.Invalid(validation.MsgInvalidIdentity)
	}
	return validation.OK()
}

// checkWindow validates date and time and fills Start/End when both parse.
// The hours result stays invalid until a start exists.
func checkWindow(d *Details, now time.Time, loc *time.Location, slot time.Duration) (dateCheck, timeCheck, hoursCheck validation.Result) {
	dateCheck = validation.OK()
	hoursCheck = validation.Invalid("")
	var day time.Time
	if d.Date == "" {
		dateCheck = validation.Invalid(validation.MsgMissingDate)
	} else if parsed, err := validation.ParseDate(d.Date, now, loc); err != nil {
		dateCheck = validation.Invalid(validation.MsgInvalidDate)
	} else {
		day = parsed
		d.Date = parsed.Format(validation.ISODate)
		dateCheck = validation.ValidateDateNotPast(day, now)
	}

	timeCheck = validation.OK()
	clock := ""
	if d.Time == "" {
		timeCheck = validation.Invalid(validation.MsgMissingTime)
	} else if parsed, err := validation.ParseTime(d.Time); err != nil {
		timeCheck = validation.Invalid(validation.MsgInvalidTime)
	} else {
		clock = parsed
		d.Time = parsed
	}

	if day.IsZero() || clock == "" {
		return dateCheck, timeCheck, hoursCheck
	}

	start, err := validation.CombineDateTime(d.Date, clock, loc)
	if err != nil {
		return dateCheck, validation.Invalid(validation.MsgInvalidTime), hoursCheck
	}
	if dateCheck.Valid {
		timeCheck = validation.ValidateStartNotPast(start, now)
	}
	hoursCheck = validation.ValidateBusinessHours(start)
	d.Start = start
	d.End = start.Add(slot)
	return dateCheck, timeCheck, hoursCheck
}

// Bookable reports whether the details are complete and inside business hours.
func (d Details) Bookable() bool {
	return d.IsComplete && d.HoursCheck.Valid
}

// Problems lists the messages of every failed check in field order.
func (d Details) Problems() []string {
	var out []string
	for _, r := range []validation.Result{d.NameCheck, d.IdentityCheck, d.DateCheck, d.TimeCheck, d.HoursCheck} {
		if !r.Valid && r.Message != "" {
			out = append(out, r.Message)
		}
	}
	return out
}

// WindowProblems lists failed date, time and hours checks only.
func (d Details) WindowProblems() []string {
	var out []string
	for _, r := range []validation.Result{d.DateCheck, d.TimeCheck, d.HoursCheck} {
		if !r.Valid && r.Message != "" {
			out = append(out, r.Message)
		}
	}
	return out
}

// HasValidWindow reports whether date, time and hours all passed validation.
func (d Details) HasValidWindow() bool {
	return d.DateCheck.Valid && d.TimeCheck.Valid && d.HoursCheck.Valid && !d.Start.IsZero()
}
