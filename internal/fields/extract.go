package fields

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// extractor pulls one field out of a finalized utterance. It sees the
// already-collected map read-only and returns (value, ok).
type extractor func(m Map, raw, lower string) (Value, bool)

// extractors is a fixed strategy table keyed by field name. Order
// follows Required so numeric scans claim their keywords predictably.
var extractors = map[Field]extractor{
	FullName:       extractName,
	MonthlyIncome:  numericExtractor(MonthlyIncome, []string{"income", "salary", "earn", "earning", "earns", "make", "makes", "making"}),
	CreditScore:    extractCreditScore,
	LoanAmount:     numericExtractor(LoanAmount, []string{"loan", "borrow", "borrowing", "amount"}),
	EmploymentType: vocabExtractor(employmentVocab),
	LoanPurpose:    vocabExtractor(purposeVocab),
	ExistingEMI:    extractEMI,
}

// Extract is the pure mapping (existingFields, finalText) -> updatedFields.
// A later valid extraction overwrites an earlier one (latest-wins); an
// invalid or absent extraction leaves the field untouched, never zeroed.
func Extract(existing Map, text string) Map {
	return ExtractWithHint(existing, text, "")
}

// ExtractWithHint additionally accepts the field the assistant most
// recently asked about, so bare answers like "720" or "six thousand"
// land on the right field even without a keyword.
func ExtractWithHint(existing Map, text string, hint Field) Map {
	out := existing.Clone()
	if strings.TrimSpace(text) == "" {
		return out
	}
	lower := strings.ToLower(text)

	matchedAny := false
	for _, f := range Required {
		ex := extractors[f]
		if v, ok := ex(out, text, lower); ok {
			out[f] = v
			matchedAny = true
		}
	}

	// The hint path is for bare answers only. If any keyword strategy
	// already claimed this utterance, a stray number in it must not be
	// re-routed to the asked-about field.
	if hint != "" && !matchedAny {
		if _, have := out[hint]; !have {
			if v, ok := extractBareAnswer(hint, text, lower); ok {
				out[hint] = v
			}
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Numeric fields

// unit multipliers for spoken and abbreviated amounts.
var unitMult = map[string]float64{
	"k":         1_000,
	"thousand":  1_000,
	"thousands": 1_000,
	"lakh":      100_000,
	"lakhs":     100_000,
	"crore":     10_000_000,
	"crores":    10_000_000,
	"million":   1_000_000,
	"millions":  1_000_000,
}

var smallNumbers = map[string]float64{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4,
	"five": 5, "six": 6, "seven": 7, "eight": 8, "nine": 9,
	"ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// Speech-to-text renders credit scores like "seven fifty"; a short
// shortcut table resolves the common ones before general parsing.
// Longer phrases come first so "seven hundred fifty" never resolves
// through its "seven hundred" prefix.
var creditShortcuts = []struct {
	phrase string
	score  float64
}{
	{"seven hundred fifty", 750},
	{"six hundred fifty", 650},
	{"seven fifty", 750},
	{"six fifty", 650},
	{"eight hundred", 800},
	{"seven hundred", 700},
	{"six hundred", 600},
}

// numericExtractor builds a keyword-anchored numeric strategy: find the
// keyword, then parse the first number (digits or spoken) after it.
func numericExtractor(f Field, keywords []string) extractor {
	return func(m Map, raw, lower string) (Value, bool) {
		toks := tokenize(lower)
		idx := firstKeyword(toks, keywords)
		if idx < 0 {
			return Value{}, false
		}
		n, ok := numberAfter(toks, idx+1)
		if !ok || !Validate(f, n) {
			return Value{}, false
		}
		return Value{Number: n, Source: SourceExtracted, Confidence: 0.9, LastUpdated: time.Now().UTC()}, true
	}
}

func extractCreditScore(m Map, raw, lower string) (Value, bool) {
	toks := tokenize(lower)
	idx := firstKeyword(toks, []string{"credit", "score", "cibil"})
	if idx < 0 {
		return Value{}, false
	}
	// Shortcut phrases first ("score is seven fifty").
	for _, sc := range creditShortcuts {
		if strings.Contains(lower, sc.phrase) {
			return Value{Number: sc.score, Source: SourceExtracted, Confidence: 0.9, LastUpdated: time.Now().UTC()}, true
		}
	}
	n, ok := numberAfter(toks, idx+1)
	if !ok || !Validate(CreditScore, n) {
		return Value{}, false
	}
	return Value{Number: n, Source: SourceExtracted, Confidence: 0.9, LastUpdated: time.Now().UTC()}, true
}

// EMI is the one numeric field where zero is meaningful, and only on an
// explicit statement. A merely-absent EMI stays absent.
var noEMIPattern = regexp.MustCompile(`\b(?:no|don't have|do not have|dont have|zero|without)(?:\s+\w+){0,2}\s+(?:emi|emis|debt|debts|installments?|loans? to repay)\b|\bno existing emi\b`)

func extractEMI(m Map, raw, lower string) (Value, bool) {
	if noEMIPattern.MatchString(lower) || strings.Contains(lower, "emi is zero") || strings.Contains(lower, "no monthly debt") {
		return Value{Number: 0, Source: SourceStatedNone, Confidence: 0.9, LastUpdated: time.Now().UTC()}, true
	}
	toks := tokenize(lower)
	idx := firstKeyword(toks, []string{"emi", "emis", "installment", "installments", "repayment", "repaying"})
	if idx < 0 {
		return Value{}, false
	}
	n, ok := numberAfter(toks, idx+1)
	if !ok || n == 0 || !Validate(ExistingEMI, n) {
		// Zero via bare number is ambiguous with "not collected"; require
		// the explicit phrasing above.
		return Value{}, false
	}
	return Value{Number: n, Source: SourceExtracted, Confidence: 0.9, LastUpdated: time.Now().UTC()}, true
}

// tokenize splits on everything except letters, digits, '.', and '-',
// then strips leading signs so "-650" can never survive as negative.
func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '-'
	})
}

func firstKeyword(toks []string, keywords []string) int {
	for i, t := range toks {
		t = strings.TrimSuffix(t, ".")
		for _, k := range keywords {
			if t == k {
				return i
			}
		}
	}
	return -1
}

// numberAfter parses the first number at or after position start:
// digits with optional commas already removed by tokenize, or a run of
// spoken number words. A following unit word multiplies the result.
// The absolute value is always taken; a stray minus sign in a
// transcript must never produce a negative amount.
func numberAfter(toks []string, start int) (float64, bool) {
	for i := start; i < len(toks); i++ {
		t := strings.Trim(toks[i], "-.")
		if t == "" {
			continue
		}
		// Attached unit suffix: "50k", "5lakh".
		base, suffix := splitUnitSuffix(t)
		if n, err := strconv.ParseFloat(base, 64); err == nil {
			n = math.Abs(n)
			if mult, ok := unitMult[suffix]; ok {
				n *= mult
			} else if i+1 < len(toks) {
				if mult, ok := unitMult[toks[i+1]]; ok {
					n *= mult
				}
			}
			return n, true
		}
		if _, ok := smallNumbers[t]; ok {
			if n, ok := parseSpokenRun(toks, i); ok {
				return math.Abs(n), true
			}
		}
	}
	return 0, false
}

// splitUnitSuffix peels a trailing unit word off a token, so "50k"
// parses as 50 with unit "k". Tokens without digits pass through whole.
func splitUnitSuffix(t string) (base, suffix string) {
	i := len(t)
	for i > 0 && !unicode.IsDigit(rune(t[i-1])) {
		i--
	}
	if i == 0 || i == len(t) {
		return t, ""
	}
	return t[:i], t[i:]
}

// parseSpokenRun parses a maximal run of spoken number words starting at
// i ("one thousand two hundred", "six thousand", "two lakh fifty").
func parseSpokenRun(toks []string, i int) (float64, bool) {
	var total, cur float64
	matched := false
	for ; i < len(toks); i++ {
		t := toks[i]
		if n, ok := smallNumbers[t]; ok {
			cur += n
			matched = true
			continue
		}
		if t == "hundred" {
			if cur == 0 {
				cur = 1
			}
			cur *= 100
			matched = true
			continue
		}
		if mult, ok := unitMult[t]; ok {
			if cur == 0 {
				cur = 1
			}
			total += cur * mult
			cur = 0
			matched = true
			continue
		}
		if t == "and" {
			continue
		}
		break
	}
	if !matched {
		return 0, false
	}
	return total + cur, true
}

// ---------------------------------------------------------------------------
// Categorical fields

type vocabEntry struct {
	canonical string
	keywords  []string
}

// First confident match wins for the utterance; a later utterance that
// matches again simply overwrites (latest-wins correction).
var employmentVocab = []vocabEntry{
	{"self-employed", []string{"self-employed", "self employed", "freelance", "freelancer"}},
	{"salaried", []string{"salaried", "salary job", "full-time job", "full time job"}},
	{"business", []string{"business owner", "own business", "run a business", "my business", "businessman"}},
	{"unemployed", []string{"unemployed", "not working", "between jobs"}},
	{"retired", []string{"retired", "pensioner"}},
	{"student", []string{"student", "studying"}},
}

var purposeVocab = []vocabEntry{
	{"home", []string{"home loan", "house", "apartment", "flat", "mortgage", "property", "renovation", "home improvement"}},
	{"vehicle", []string{"car", "vehicle", "bike", "motorcycle", "auto loan"}},
	{"education", []string{"education", "tuition", "college", "university", "studies"}},
	{"wedding", []string{"wedding", "marriage"}},
	{"medical", []string{"medical", "hospital", "surgery", "treatment"}},
	{"business", []string{"business loan", "expand my business", "working capital", "startup"}},
	{"personal", []string{"personal loan", "personal use", "personal expenses"}},
}

func vocabExtractor(vocab []vocabEntry) extractor {
	return func(m Map, raw, lower string) (Value, bool) {
		for _, e := range vocab {
			for _, k := range e.keywords {
				if strings.Contains(lower, k) {
					return Value{Text: e.canonical, Source: SourceExtracted, Confidence: 0.8, LastUpdated: time.Now().UTC()}, true
				}
			}
		}
		return Value{}, false
	}
}

// ---------------------------------------------------------------------------
// Name

var namePattern = regexp.MustCompile(`(?i)\b(?:my name is|my name's|i am|i'm|this is)\s+([a-z][a-z'\-]+(?:\s+[a-z][a-z'\-]+){0,3})`)

// nameStopwords are words that follow "I am ..." without being a name.
var nameStopwords = map[string]bool{
	"salaried": true, "self": true, "employed": true, "unemployed": true,
	"retired": true, "student": true, "working": true, "looking": true,
	"interested": true, "applying": true, "calling": true, "here": true,
	"not": true, "a": true, "an": true, "the": true, "in": true,
	"good": true, "fine": true, "done": true, "ready": true, "sorry": true,
}

var loanWords = map[string]bool{
	"loan": true, "apply": true, "application": true, "amount": true,
	"borrow": true, "credit": true, "score": true, "income": true,
	"salary": true, "emi": true,
}

// nameConnectives end a spoken name: "my name is Asha Rao and I earn"
// must yield "Asha Rao", not "Asha Rao And".
var nameConnectives = map[string]bool{
	"and": true, "but": true, "or": true, "nor": true, "so": true,
}

func extractName(m Map, raw, lower string) (Value, bool) {
	if match := namePattern.FindStringSubmatch(raw); match != nil {
		candidate := strings.Fields(match[1])
		// Keep words up to the first connective or non-name word. An
		// empty prefix means the match was never a name at all ("i'm
		// salaried").
		var name []string
		for _, w := range candidate {
			wl := strings.ToLower(w)
			if nameConnectives[wl] || nameStopwords[wl] || loanWords[wl] {
				break
			}
			name = append(name, w)
		}
		if len(name) > 0 {
			return Value{Text: titleCase(name), Source: SourceExtracted, Confidence: 0.9, LastUpdated: time.Now().UTC()}, true
		}
	}

	// Fallback: a short standalone capitalized phrase, only while the
	// name is still missing (never clobber a pattern-matched name).
	if _, have := m[FullName]; have {
		return Value{}, false
	}
	words := strings.Fields(strings.TrimSpace(raw))
	if len(words) < 1 || len(words) > 3 {
		return Value{}, false
	}
	for _, w := range words {
		wl := strings.ToLower(strings.Trim(w, ".,!?"))
		if loanWords[wl] || nameStopwords[wl] {
			return Value{}, false
		}
		r := []rune(w)
		if len(r) < 2 || !unicode.IsUpper(r[0]) || !unicode.IsLetter(r[0]) {
			return Value{}, false
		}
	}
	return Value{Text: titleCase(words), Source: SourceExtracted, Confidence: 0.6, LastUpdated: time.Now().UTC()}, true
}

func titleCase(words []string) string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		if w == "" {
			continue
		}
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		out = append(out, string(r))
	}
	return strings.Join(out, " ")
}

// ---------------------------------------------------------------------------
// Hinted bare answers

// extractBareAnswer handles a reply that is just the value for the field
// the assistant asked about ("720", "six thousand", "salaried").
func extractBareAnswer(hint Field, raw, lower string) (Value, bool) {
	switch hint {
	case MonthlyIncome, CreditScore, LoanAmount, ExistingEMI:
		if hint == ExistingEMI {
			switch strings.Trim(lower, " .,!?") {
			case "none", "nothing", "no", "nope", "zero":
				return Value{Number: 0, Source: SourceStatedNone, Confidence: 0.8, LastUpdated: time.Now().UTC()}, true
			}
		}
		toks := tokenize(lower)
		if hint == CreditScore {
			for _, sc := range creditShortcuts {
				if strings.Contains(lower, sc.phrase) {
					return Value{Number: sc.score, Source: SourceExtracted, Confidence: 0.7, LastUpdated: time.Now().UTC()}, true
				}
			}
		}
		n, ok := numberAfter(toks, 0)
		if !ok || !Validate(hint, n) {
			return Value{}, false
		}
		if hint == ExistingEMI && n == 0 && !noEMIPattern.MatchString(lower) && !strings.Contains(lower, "zero") {
			return Value{}, false
		}
		return Value{Number: n, Source: SourceExtracted, Confidence: 0.7, LastUpdated: time.Now().UTC()}, true
	case EmploymentType:
		return vocabExtractor(employmentVocab)(nil, raw, lower)
	case LoanPurpose:
		return vocabExtractor(purposeVocab)(nil, raw, lower)
	case FullName:
		return extractName(Map{}, raw, lower)
	}
	return Value{}, false
}
