package conversation

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// RuleClassifier is a deterministic keyword classifier. It runs when no LLM
// is configured and in tests; it never guesses beyond the patterns below.
type RuleClassifier struct{}

var (
	optionNumberRe      = regexp.MustCompile(`\b(?:option|slot|number)\s*#?(\d+)\b`)
	appointmentNumberRe = regexp.MustCompile(`\bappointment\s*#?(\d+)\b`)
	ordinalRe           = regexp.MustCompile(`\b(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th|last)\s+(appointment|one|option|slot)\b`)
	bareOrdinalRe       = regexp.MustCompile(`^\s*(?:the\s+)?(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th|last)\s*[.!]?\s*$`)
	bareNumberRe        = regexp.MustCompile(`^\s*(\d+)\s*[.!]?\s*$`)
)

var ordinals = map[string]int{
	"first": 1, "1st": 1,
	"second": 2, "2nd": 2,
	"third": 3, "3rd": 3,
	"fourth": 4, "4th": 4,
	"fifth": 5, "5th": 5,
	"last": lastOption,
}

const helpText = "I can show availability by specialty, and book, confirm, reschedule or cancel your appointments."

func (RuleClassifier) Classify(_ context.Context, req Request) (Decision, error) {
	text := strings.ToLower(strings.TrimSpace(req.Utterance))
	option, appt := references(text)
	category := matchCategory(text, req.Categories)

	switch {
	case containsAny(text, "cancel"):
		return action(ActionCancel, 0, appt, ""), nil
	case containsAny(text, "reschedule", "move", "change"):
		return action(ActionReschedule, option, appt, ""), nil
	case containsAny(text, "confirm"):
		return action(ActionConfirm, 0, appt, ""), nil
	case category != "":
		return action(ActionQuery, 0, 0, category), nil
	case option != 0 && req.State == StateAwaitingChoice:
		return action(ActionBook, option, 0, ""), nil
	case option != 0:
		return Decision{Text: "Please ask for availability first so I can show you some options."}, nil
	case containsAny(text, "my appointments", "appointments"):
		return action(ActionQuery, 0, 0, ""), nil
	case containsAny(text, "book", "schedule", "available", "availability"):
		return Decision{Text: "Which specialty are you interested in?"}, nil
	}
	return Decision{Text: helpText}, nil
}

func action(kind ActionKind, option, appt int, category string) Decision {
	return Decision{Action: &Action{Kind: kind, OptionNumber: option, AppointmentNumber: appt, Category: category}}
}

// references extracts "option N" style and "appointment N" style numbers.
// An ordinal counts only when it names what it refers to ("second one",
// "first appointment") or is the whole message ("the second").
func references(text string) (option, appt int) {
	if m := appointmentNumberRe.FindStringSubmatch(text); m != nil {
		appt, _ = strconv.Atoi(m[1])
	}
	if m := optionNumberRe.FindStringSubmatch(text); m != nil {
		option, _ = strconv.Atoi(m[1])
	}
	if m := bareNumberRe.FindStringSubmatch(text); m != nil && option == 0 {
		option, _ = strconv.Atoi(m[1])
	}

	if m := bareOrdinalRe.FindStringSubmatch(text); m != nil && option == 0 {
		option = ordinals[m[1]]
	}

	for _, m := range ordinalRe.FindAllStringSubmatch(text, -1) {
		n := ordinals[m[1]]
		if m[2] == "appointment" {
			if appt == 0 {
				appt = n
			}
			continue
		}
		if option == 0 {
			option = n
		}
	}
	return option, appt
}

func matchCategory(text string, categories []string) string {
	best := ""
	for _, c := range categories {
		if c == "" || !strings.Contains(text, strings.ToLower(c)) {
			continue
		}
		if len(c) > len(best) {
			best = c
		}
	}
	return best
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
