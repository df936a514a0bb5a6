package validation

import (
	"fmt"
	"time"
)

const (
	openingHour         = 8
	weekdayClosingHour  = 18
	saturdayClosingHour = 12
)

// Business-hours rejection messages.
const (
	MsgClosedSunday     = "A clínica não funciona aos domingos."
	MsgSaturdayHours    = "Aos sábados atendemos apenas das 08:00 às 12:00."
	MsgWeekdayHours     = "De segunda a sexta atendemos das 08:00 às 18:00."
	MsgSlotGranularity  = "Os horários são marcados de 30 em 30 minutos (ex.: 09:00 ou 09:30)."
	MsgDateInPast       = "A data informada já passou. Por favor, escolha uma data a partir de hoje."
	MsgTimeInPast       = "Esse horário de hoje já passou. Por favor, escolha outro horário."
	MsgInvalidDate      = "Não consegui entender a data. Use o formato DD/MM/AAAA."
	MsgInvalidTime      = "Não consegui entender o horário. Use o formato HH:MM."
	MsgInvalidIdentity  = "O CPF informado é inválido. Confira os números e envie novamente."
	MsgMissingIdentity  = "Preciso do seu CPF para continuar."
	MsgMissingName      = "Preciso do seu nome completo para continuar."
	MsgMissingDate      = "Qual data você prefere para a consulta?"
	MsgMissingTime      = "Qual horário você prefere para a consulta?"
)

// ValidateBusinessHours checks a local appointment start against the clinic
// policy: closed on Sunday, 08:00-12:00 on Saturday, 08:00-18:00 on weekdays,
// and only on the hour or half hour. The caller supplies t already in the
// clinic's location.
func ValidateBusinessHours(t time.Time) Result {
	if t.Minute() != 0 && t.Minute() != 30 {
		return Invalid(MsgSlotGranularity)
	}
	if t.Second() != 0 || t.Nanosecond() != 0 {
		return Invalid(MsgSlotGranularity)
	}

	hour := t.Hour()
	switch t.Weekday() {
	case time.Sunday:
		return Invalid(MsgClosedSunday)
	case time.Saturday:
		if hour < openingHour || hour >= saturdayClosingHour {
			return Invalid(MsgSaturdayHours)
		}
	default:
		if hour < openingHour || hour >= weekdayClosingHour {
			return Invalid(MsgWeekdayHours)
		}
	}
	return OK()
}

// DescribeBusinessHours is the human-readable opening schedule used in
// prompts and replies.
func DescribeBusinessHours() string {
	return fmt.Sprintf("segunda a sexta das %02d:00 às %02d:00, sábados das %02d:00 às %02d:00, domingo fechado",
		openingHour, weekdayClosingHour, openingHour, saturdayClosingHour)
}

var weekdayNames = [...]string{"domingo", "segunda-feira", "terça-feira", "quarta-feira", "quinta-feira", "sexta-feira", "sábado"}

// WeekdayName returns the Portuguese name of d.
func WeekdayName(d time.Weekday) string {
	return weekdayNames[d]
}

// FormatSlot renders a local start as "sábado, 15/03/2025 às 14:30".
func FormatSlot(t time.Time) string {
	return fmt.Sprintf("%s, %s às %s", WeekdayName(t.Weekday()), t.Format("02/01/2006"), t.Format(ClockTime))
}
