package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/thiagorragazzo/clinic-assistant/internal/validation"
)

// keywordPattern matches any alternative as a whole word. Go's \b is ASCII
// only, so accented letters need an explicit letter class at the edges.
func keywordPattern(words ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(?:` + strings.Join(words, "|") + `)(?:$|[^\p{L}\p{N}])`)
}

type keywordRule struct {
	intent  Type
	pattern *regexp.Regexp
}

// Ordered by tie-break priority: the more specific action wins an even score.
var keywordRules = []keywordRule{
	{TypeReschedule, keywordPattern(`remarcar`, `remarque`, `remarcação`, `reagendar`, `reagende`, `reagendamento`, `mudar`, `trocar`, `alterar`, `adiar`, `antecipar`)},
	{TypeCancel, keywordPattern(`cancelar`, `cancela`, `cancele`, `cancelamento`, `desmarcar`, `desmarque`, `não vou poder ir`, `nao vou poder ir`)},
	{TypeSchedule, keywordPattern(`agendar`, `agende`, `agendamento`, `marcar`, `marque`, `marcação`, `marcacao`, `nova consulta`, `primeira consulta`)},
	{TypeInformation, keywordPattern(`preço`, `preco`, `preços`, `valor`, `valores`, `quanto custa`, `endereço`, `endereco`, `onde fica`, `convênio`, `convenio`, `convênios`, `plano de saúde`, `funciona`, `funcionamento`, `dúvida`, `duvida`, `informação`, `informações`)},
}

var (
	identityRe = regexp.MustCompile(`(?:^|\D)(\d{3}\.?\d{3}\.?\d{3}-?\d{2})(?:\D|$)`)
	isoDateRe  = regexp.MustCompile(`(?:^|\D)(\d{4}-\d{2}-\d{2})(?:\D|$)`)
	dmyDateRe  = regexp.MustCompile(`(?:^|[^\d:])(\d{1,2}[/-]\d{1,2}(?:[/-](?:\d{4}|\d{2}))?)(?:[^\d:]|$)`)
	clockRe    = regexp.MustCompile(`(?i)(?:^|[^\d/])([01]?\d|2[0-3])\s*(?::|h)\s*([0-5]\d)?\s*(?:hrs|hs|h)?(?:[^\d\p{L}]|$)`)
	atHourRe   = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:às|as)\s+([01]?\d|2[0-3])(?:[^\d:h]|$)`)
	noonRe     = regexp.MustCompile(`(?i)meio[- ]dia`)
	emailRe    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	emailInRe  = regexp.MustCompile(`(?:^|\s)([^\s@,;:<>()]+@[^\s@,;:<>()]+\.[\p{L}]{2,})`)
	nameRe     = regexp.MustCompile(`(?i)(?:meu nome é|meu nome e|me chamo|nome completo é|nome completo:|nome:)\s*([\p{L}][\p{L}' ]*)`)

	dayAfterTomorrowRe = keywordPattern(`depois de amanhã`, `depois de amanha`)
	tomorrowRe         = keywordPattern(`amanhã`, `amanha`)
	todayRe            = keywordPattern(`hoje`)
)

var nameStopWords = map[string]bool{
	"e": true, "meu": true, "minha": true, "cpf": true, "quero": true, "gostaria": true,
	"para": true, "pra": true, "no": true, "na": true, "dia": true, "às": true, "as": true,
	"telefone": true, "amanhã": true, "amanha": true, "hoje": true, "obrigado": true, "obrigada": true,
}

const maxNameWords = 6

// Fallback is the deterministic extractor used when the NLP collaborator is
// unavailable or its answer cannot be decoded. It scores intents by keyword
// counts (information when nothing matches) and pulls the identity number,
// date, time and name out of text with patterns. Later mentions win, except
// that a checksum-valid identity number beats any later 11-digit run such as
// a mobile phone number.
func Fallback(text string, now time.Time, loc *time.Location) Result {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	best, bestScore := TypeInformation, 0
	for _, rule := range keywordRules {
		if score := len(rule.pattern.FindAllStringIndex(text, -1)); score > bestScore {
			best, bestScore = rule.intent, score
		}
	}

	var entities Entities
	rest := text
	if m := lastSubmatch(emailInRe, rest); m != "" {
		entities.Email = strings.ToLower(m)
		rest = emailInRe.ReplaceAllString(rest, " ")
	}
	if m := pickIdentity(rest); m != "" {
		entities.IdentityNumber = m
		rest = identityRe.ReplaceAllString(rest, " ")
	}

	entities.Date, rest = extractDate(rest, now, loc)
	entities.Time = extractTime(rest)
	entities.FullName = extractName(text)

	confidence := 0.3
	if bestScore > 0 {
		confidence = 0.5
	}
	result := Result{
		Type:       best,
		Confidence: confidence,
		Entities:   entities,
		Source:     SourceFallback,
	}
	if entities.IdentityNumber != "" {
		result.IdentityVerified = validation.ValidateIdentityNumber(entities.IdentityNumber)
	}
	return result
}

// pickIdentity returns the last checksum-valid identity number in text, or
// the last candidate when none is valid.
func pickIdentity(text string) string {
	var last, lastValid string
	for _, m := range identityRe.FindAllStringSubmatch(text, -1) {
		last = validation.DigitsOnly(m[1])
		if validation.ValidateIdentityNumber(last) {
			lastValid = last
		}
	}
	if lastValid != "" {
		return lastValid
	}
	return last
}

func extractDate(text string, now time.Time, loc *time.Location) (string, string) {
	for _, re := range []*regexp.Regexp{isoDateRe, dmyDateRe} {
		raw := lastSubmatch(re, text)
		if raw == "" {
			continue
		}
		if d, err := validation.ParseDate(raw, now, loc); err == nil {
			return d.Format(validation.ISODate), re.ReplaceAllString(text, " ")
		}
	}

	today := validation.StartOfDay(now)
	switch {
	case dayAfterTomorrowRe.MatchString(text):
		return today.AddDate(0, 0, 2).Format(validation.ISODate), text
	case tomorrowRe.MatchString(text):
		return today.AddDate(0, 0, 1).Format(validation.ISODate), text
	case todayRe.MatchString(text):
		return today.Format(validation.ISODate), text
	}
	return "", text
}

func extractTime(text string) string {
	if all := clockRe.FindAllStringSubmatch(text, -1); len(all) > 0 {
		m := all[len(all)-1]
		minute := m[2]
		if minute == "" {
			minute = "00"
		}
		if clock, err := validation.ParseTime(m[1] + ":" + minute); err == nil {
			return clock
		}
	}
	if raw := lastSubmatch(atHourRe, text); raw != "" {
		hour, _ := strconv.Atoi(raw)
		return fmt.Sprintf("%02d:00", hour)
	}
	if noonRe.MatchString(text) {
		return "12:00"
	}
	return ""
}

func extractName(text string) string {
	raw := lastSubmatch(nameRe, text)
	if raw == "" {
		return ""
	}
	var words []string
	for _, w := range strings.Fields(raw) {
		if nameStopWords[strings.ToLower(w)] || len(words) == maxNameWords {
			break
		}
		words = append(words, w)
	}
	return strings.Join(words, " ")
}

func lastSubmatch(re *regexp.Regexp, text string) string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1][1]
}
