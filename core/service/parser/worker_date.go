package parser

import (
	"strings"
	"time"
)

// dateLayouts are tried in order after normalization.
var dateLayouts = []string{
	"2 Jan 2006 15:04",
	"2 Jan 2006 3:04 PM",
	"Jan 2 2006 3:04 PM",
	"Jan 2 2006 15:04",
	"2 Jan 2006 15:04:05 -0700",
	"2 Jan 2006 15:04:05 MST",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04",
	"02/01/2006 3:04 PM",
	"02/01/2006",
	"2 Jan 2006",
	"Jan 2 2006",
	"2006-01-02",
}

var monthNames = map[string]string{
	"ene": "Jan", "enero": "Jan", "jan": "Jan", "january": "Jan",
	"feb": "Feb", "febrero": "Feb", "february": "Feb",
	"mar": "Mar", "marzo": "Mar", "march": "Mar",
	"abr": "Apr", "abril": "Apr", "apr": "Apr", "april": "Apr",
	"may": "May", "mayo": "May",
	"jun": "Jun", "junio": "Jun", "june": "Jun",
	"jul": "Jul", "julio": "Jul", "july": "Jul",
	"ago": "Aug", "agosto": "Aug", "aug": "Aug", "august": "Aug",
	"sep": "Sep", "sept": "Sep", "set": "Sep", "septiembre": "Sep", "setiembre": "Sep", "september": "Sep",
	"oct": "Oct", "octubre": "Oct", "october": "Oct",
	"nov": "Nov", "noviembre": "Nov", "november": "Nov",
	"dic": "Dec", "diciembre": "Dec", "dec": "Dec", "december": "Dec",
}

var weekdayNames = map[string]bool{
	"lun": true, "mar": true, "mié": true, "mie": true, "jue": true, "vie": true, "sáb": true, "sab": true, "dom": true,
	"lunes": true, "martes": true, "miércoles": true, "jueves": true, "viernes": true, "sábado": true, "domingo": true,
	"mon": true, "tue": true, "wed": true, "thu": true, "fri": true, "sat": true, "sun": true,
	"monday": true, "tuesday": true, "wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true,
}

var meridiemReplacer = strings.NewReplacer(
	"p. m.", "PM", "a. m.", "AM",
	"p.m.", "PM", "a.m.", "AM",
	"p. m", "PM", "a. m", "AM",
)

// normalizeDate rewrites Spanish or English webmail dates into a form the
// layouts above understand: weekday dropped, months as English short names,
// no commas, "de" removed.
func normalizeDate(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = meridiemReplacer.Replace(s)
	s = strings.ReplaceAll(s, ",", " ")

	var tokens []string
	for _, tok := range strings.Fields(s) {
		switch {
		case tok == "de" || tok == "del" || tok == "at":
			continue
		case tok == "am" || tok == "pm":
			tokens = append(tokens, strings.ToUpper(tok))
		default:
			if m, ok := monthNames[strings.TrimSuffix(tok, ".")]; ok {
				tokens = append(tokens, m)
				continue
			}
			tokens = append(tokens, tok)
		}
	}

	// "mar" is both Tuesday and March: drop a leading weekday only when a
	// month is still left afterwards.
	if len(tokens) > 1 && weekdayNames[strings.ToLower(strings.TrimSuffix(tokens[0], "."))] && hasMonth(tokens[1:]) {
		tokens = tokens[1:]
	}
	return strings.Join(tokens, " ")
}

func hasMonth(tokens []string) bool {
	for _, t := range tokens {
		if shortMonths[t] {
			return true
		}
	}
	return false
}

var shortMonths = func() map[string]bool {
	m := make(map[string]bool)
	for _, v := range monthNames {
		m[v] = true
	}
	return m
}()

// parseDate tries RFC3339 and RFC1123 verbatim, then the normalized layouts.
func parseDate(raw string, loc *time.Location) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, time.RFC1123Z, time.RFC1123} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, true
		}
	}

	norm := normalizeDate(raw)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, norm, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
