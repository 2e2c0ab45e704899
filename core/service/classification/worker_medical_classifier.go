// Package classification scores referral text with fixed Spanish clinical
// vocabularies.
//
// Referral score (clamped to 0.0-1.0):
//
//	10 * keywordHits/wordCount
//	+ 5 * specialtyHits/len(specialties)
//	+ 3 * patternGroupHits/len(referralPatterns)
//	+ 2 * coreTermHits/len(coreMedicalTerms)
//
// A message is a referral when the score is strictly above 0.3.
package classification

import (
	"regexp"
	"strconv"
	"strings"

	"vitalred_worker/core/domain"
)

const (
	keywordWeight   = 10.0
	specialtyWeight = 5.0
	patternWeight   = 3.0
	coreTermWeight  = 2.0

	ReferralThreshold = 0.3

	filenameWeight = 3

	defaultUrgencyConfidence = 0.5
)

// MedicalClassifier holds no mutable state and is safe for concurrent use.
type MedicalClassifier struct {
	abbreviations []abbreviationMatcher
}

type abbreviationMatcher struct {
	re        *regexp.Regexp
	canonical string
}

// NewMedicalClassifier creates a classifier over the built-in vocabularies.
func NewMedicalClassifier() *MedicalClassifier {
	c := &MedicalClassifier{}
	for _, a := range specialtyAbbreviations {
		// abbreviation must start a word
		re := regexp.MustCompile(`(?:^|[^\pL])` + regexp.QuoteMeta(a.short))
		c.abbreviations = append(c.abbreviations, abbreviationMatcher{re: re, canonical: a.canonical})
	}
	return c
}

// ScoreBreakdown exposes the four components of the referral score.
type ScoreBreakdown struct {
	Words         int
	KeywordHits   int
	SpecialtyHits int
	PatternHits   int
	CoreTermHits  int
	Score         float64
	Signals       []string
}

// Classify classifies combined subject, body and attachment text. filename
// is the name of the primary attachment, if any.
func (c *MedicalClassifier) Classify(text, filename string) domain.ClassificationResult {
	lower := strings.ToLower(text)

	breakdown := c.scoreLower(lower)
	urgency, confidence := c.urgencyLower(lower)

	return domain.ClassificationResult{
		IsReferral:        breakdown.Score > ReferralThreshold,
		ReferralType:      c.referralTypeLower(lower),
		UrgencyLevel:      urgency,
		UrgencyConfidence: confidence,
		DocumentType:      c.documentTypeLower(lower, strings.ToLower(filename)),
		Specialty:         c.specialtyLower(lower),
		Score:             breakdown.Score,
	}
}

// Score returns the referral score with its components.
func (c *MedicalClassifier) Score(text string) ScoreBreakdown {
	return c.scoreLower(strings.ToLower(text))
}

func (c *MedicalClassifier) scoreLower(lower string) ScoreBreakdown {
	b := ScoreBreakdown{Words: len(strings.Fields(lower))}

	for _, kw := range referralKeywords {
		if n := strings.Count(lower, kw); n > 0 {
			b.KeywordHits += n
			b.Signals = append(b.Signals, "keyword:"+kw)
		}
	}
	for _, s := range specialties {
		if strings.Contains(lower, s) {
			b.SpecialtyHits++
			b.Signals = append(b.Signals, "specialty:"+s)
		}
	}
	for i, re := range referralPatterns {
		if re.MatchString(lower) {
			b.PatternHits++
			b.Signals = append(b.Signals, "pattern:"+strconv.Itoa(i))
		}
	}
	for _, term := range coreMedicalTerms {
		if strings.Contains(lower, term) {
			b.CoreTermHits++
		}
	}

	var score float64
	if b.Words > 0 {
		score += keywordWeight * float64(b.KeywordHits) / float64(b.Words)
	}
	score += specialtyWeight * float64(b.SpecialtyHits) / float64(len(specialties))
	score += patternWeight * float64(b.PatternHits) / float64(len(referralPatterns))
	score += coreTermWeight * float64(b.CoreTermHits) / float64(len(coreMedicalTerms))

	switch {
	case score > 1:
		score = 1
	case score < 0:
		score = 0
	}
	b.Score = score
	return b
}

// ReferralType picks the bucket with the most raw keyword occurrences.
func (c *MedicalClassifier) ReferralType(text string) domain.ReferralType {
	return c.referralTypeLower(strings.ToLower(text))
}

func (c *MedicalClassifier) referralTypeLower(lower string) domain.ReferralType {
	best := domain.ReferralInterconsult
	bestCount := 0
	for _, b := range referralTypeBuckets {
		count := 0
		for _, kw := range b.keywords {
			count += strings.Count(lower, kw)
		}
		if count > bestCount {
			best, bestCount = b.key, count
		}
	}
	return best
}

// Urgency returns the urgency level and its confidence. Earlier mentions
// weigh more: an occurrence at position p of n counts 1 - 0.5*p/n.
func (c *MedicalClassifier) Urgency(text string) (domain.UrgencyLevel, float64) {
	return c.urgencyLower(strings.ToLower(text))
}

func (c *MedicalClassifier) urgencyLower(lower string) (domain.UrgencyLevel, float64) {
	n := len(lower)
	if n == 0 {
		return domain.UrgencyMedium, defaultUrgencyConfidence
	}

	var total, bestScore float64
	best := domain.UrgencyMedium
	for _, b := range urgencyBuckets {
		var score float64
		for _, kw := range b.keywords {
			for offset := 0; ; {
				i := strings.Index(lower[offset:], kw)
				if i < 0 {
					break
				}
				pos := offset + i
				score += 1.0 - 0.5*float64(pos)/float64(n)
				offset = pos + len(kw)
			}
		}
		total += score
		if score > bestScore {
			best, bestScore = b.key, score
		}
	}

	if total == 0 {
		return domain.UrgencyMedium, defaultUrgencyConfidence
	}
	return best, bestScore / total
}

// DocumentType weighs filename matches three times over body matches.
func (c *MedicalClassifier) DocumentType(text, filename string) domain.DocumentType {
	return c.documentTypeLower(strings.ToLower(text), strings.ToLower(filename))
}

func (c *MedicalClassifier) documentTypeLower(lower, filename string) domain.DocumentType {
	best := domain.DocGeneral
	bestScore := 0
	for _, b := range documentTypeBuckets {
		score := 0
		for _, kw := range b.keywords {
			score += strings.Count(lower, kw)
			if filename != "" {
				score += filenameWeight * strings.Count(filename, kw)
			}
		}
		if score > bestScore {
			best, bestScore = b.key, score
		}
	}
	return best
}

// Specialty returns the first specialty named in text, or "" when none.
func (c *MedicalClassifier) Specialty(text string) string {
	return c.specialtyLower(strings.ToLower(text))
}

func (c *MedicalClassifier) specialtyLower(lower string) string {
	for _, s := range specialties {
		if strings.Contains(lower, s) {
			return s
		}
	}
	for _, a := range c.abbreviations {
		if a.re.MatchString(lower) {
			return a.canonical
		}
	}
	return ""
}

// ExtractPatientInfo picks patient identifiers out of referral text. It
// returns nil when nothing was recognised.
func (c *MedicalClassifier) ExtractPatientInfo(text string) *domain.PatientInfo {
	info := &domain.PatientInfo{}
	if m := patientNamePattern.FindStringSubmatch(text); m != nil {
		info.Name = strings.TrimSpace(m[1])
	}
	if m := documentIDPattern.FindStringSubmatch(text); m != nil {
		info.DocumentID = m[1]
	}
	if m := agePattern.FindStringSubmatch(text); m != nil {
		if age, err := strconv.Atoi(m[1]); err == nil && age > 0 && age < 130 {
			info.Age = age
		}
	}
	if m := diagnosisPattern.FindStringSubmatch(text); m != nil {
		info.Diagnosis = strings.TrimSpace(m[1])
	}
	if m := reasonPattern.FindStringSubmatch(text); m != nil {
		info.Reason = strings.TrimSpace(m[1])
	}
	if info.Empty() {
		return nil
	}
	return info
}
