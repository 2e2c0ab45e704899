package domain

// ReferralType is the kind of referral requested.
type ReferralType string

const (
	ReferralUrgent       ReferralType = "urgent"
	ReferralInterconsult ReferralType = "interconsult"
	ReferralTransfer     ReferralType = "transfer"
	ReferralScheduled    ReferralType = "scheduled"
)

// UrgencyLevel is a coarse triage bucket, most severe first.
type UrgencyLevel string

const (
	UrgencyCritical UrgencyLevel = "critical"
	UrgencyHigh     UrgencyLevel = "high"
	UrgencyMedium   UrgencyLevel = "medium"
	UrgencyLow      UrgencyLevel = "low"
	UrgencyRoutine  UrgencyLevel = "routine"
)

// Rank orders urgency levels; higher is more severe.
func (u UrgencyLevel) Rank() int {
	switch u {
	case UrgencyCritical:
		return 4
	case UrgencyHigh:
		return 3
	case UrgencyMedium:
		return 2
	case UrgencyLow:
		return 1
	default:
		return 0
	}
}

// DocumentType is the functional category of a clinical document.
type DocumentType string

const (
	DocEpicrisis    DocumentType = "epicrisis"
	DocLab          DocumentType = "lab"
	DocImaging      DocumentType = "imaging"
	DocPrescription DocumentType = "prescription"
	DocReferral     DocumentType = "referral"
	DocConsultation DocumentType = "consultation"
	DocProcedure    DocumentType = "procedure"
	DocDischarge    DocumentType = "discharge"
	DocGeneral      DocumentType = "general"
)

// ClassificationResult is recomputed on every call; nothing is persisted
// between classifications.
type ClassificationResult struct {
	IsReferral        bool         `json:"is_referral"`
	ReferralType      ReferralType `json:"referral_type"`
	UrgencyLevel      UrgencyLevel `json:"urgency_level"`
	UrgencyConfidence float64      `json:"urgency_confidence"`
	DocumentType      DocumentType `json:"document_type"`
	Specialty         string       `json:"specialty,omitempty"`
	Score             float64      `json:"score"`
}

// DefaultClassification is recorded when classification could not run.
func DefaultClassification() ClassificationResult {
	return ClassificationResult{
		ReferralType:      ReferralInterconsult,
		UrgencyLevel:      UrgencyMedium,
		UrgencyConfidence: 0.5,
		DocumentType:      DocGeneral,
	}
}

// PatientInfo holds identifiers picked out of referral text.
type PatientInfo struct {
	Name       string `json:"name,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Age        int    `json:"age,omitempty"`
	Diagnosis  string `json:"diagnosis,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Empty reports whether nothing was found.
func (p *PatientInfo) Empty() bool {
	return p == nil || (p.Name == "" && p.DocumentID == "" && p.Age == 0 && p.Diagnosis == "" && p.Reason == "")
}

// SpecialtyCount is the number of referrals routed to one specialty.
type SpecialtyCount struct {
	Specialty string `json:"specialty"`
	Referrals int64  `json:"referrals"`
	Senders   int64  `json:"senders"`
}
