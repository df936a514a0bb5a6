// Package intent classifies a conversation turn and extracts the appointment
// entities it mentions.
package intent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Type is the classified purpose of a turn.
type Type string

const (
	TypeSchedule    Type = "schedule"
	TypeCancel      Type = "cancel"
	TypeReschedule  Type = "reschedule"
	TypeInformation Type = "information"
	TypeUnknown     Type = "unknown"
)

// Source tells which path produced a Result.
type Source string

const (
	SourceNLP         Source = "nlp"
	SourceFallback    Source = "fallback"
	SourceUnparseable Source = "unparseable"
)

// Entities holds the optional values extracted from the conversation. Date is
// YYYY-MM-DD and Time is HH:MM once normalized. Email is only used for
// confirmation e-mails.
type Entities struct {
	IdentityNumber string `json:"identity_number,omitempty"`
	Date           string `json:"date,omitempty"`
	Time           string `json:"time,omitempty"`
	FullName       string `json:"full_name,omitempty"`
	ContactAddress string `json:"contact_address,omitempty"`
	Email          string `json:"email,omitempty"`
}

var entityAliases = map[string][]string{
	"identity_number": {"identity_number", "cpf"},
	"date":            {"date", "data"},
	"time":            {"time", "hora", "horario", "horário"},
	"full_name":       {"full_name", "nome", "name"},
	"contact_address": {"contact_address", "telefone", "phone"},
	"email":           {"email", "e-mail"},
}

// UnmarshalJSON accepts the canonical keys and their Portuguese aliases.
// Numbers are kept as their decimal text; null and empty values are ignored.
func (e *Entities) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	pick := func(field string) string {
		for _, key := range entityAliases[field] {
			switch v := raw[key].(type) {
			case string:
				if s := strings.TrimSpace(v); s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(v, 'f', -1, 64)
			}
		}
		return ""
	}
	*e = Entities{
		IdentityNumber: pick("identity_number"),
		Date:           pick("date"),
		Time:           pick("time"),
		FullName:       pick("full_name"),
		ContactAddress: pick("contact_address"),
		Email:          pick("email"),
	}
	return nil
}

// Empty reports whether no entity was extracted.
func (e Entities) Empty() bool {
	return e == Entities{}
}

// Result is the outcome of resolving one turn.
type Result struct {
	Type             Type     `json:"type"`
	Confidence       float64  `json:"confidence"`
	Entities         Entities `json:"entities"`
	IdentityVerified bool     `json:"identity_verified"`
	Source           Source   `json:"source"`
}

// Unknown is the result returned when nothing could be resolved.
func Unknown() Result {
	return Result{Type: TypeUnknown, Confidence: 0.1, Source: SourceUnparseable}
}

// IsActionable reports whether the type maps to an appointment action.
func (r Result) IsActionable() bool {
	switch r.Type {
	case TypeSchedule, TypeCancel, TypeReschedule:
		return true
	}
	return false
}
