package graph

import (
	"strings"
	"testing"
	"time"

	"vitalred_worker/core/domain"
)

func TestReferralParams(t *testing.T) {
	date := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name          string
		sender        domain.Address
		specialty     string
		wantSpecialty string
		wantName      any
	}{
		{"named sender with specialty", domain.Address{Email: "Remisiones@Hospital.org", Name: "Hospital"}, "cardiologia", "cardiologia", "Hospital"},
		{"bare sender without specialty", domain.Address{Email: "eps@example.org"}, "  ", unassignedSpecialty, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &domain.ProcessedRecord{
				ID:     "m1",
				Sender: tt.sender,
				Date:   date,
				Classification: domain.ClassificationResult{
					IsReferral:   true,
					ReferralType: domain.ReferralUrgent,
					UrgencyLevel: domain.UrgencyHigh,
					Specialty:    tt.specialty,
				},
			}
			p := referralParams(rec)
			if p["specialty"] != tt.wantSpecialty {
				t.Errorf("specialty = %v, want %v", p["specialty"], tt.wantSpecialty)
			}
			if p["senderName"] != tt.wantName {
				t.Errorf("senderName = %v, want %v", p["senderName"], tt.wantName)
			}
			if p["date"] != date.Unix() {
				t.Errorf("date = %v", p["date"])
			}
			if p["urgency"] != "high" || p["referralType"] != "urgent" {
				t.Errorf("classification params = %v / %v", p["urgency"], p["referralType"])
			}
			if got := p["senderEmail"].(string); got != strings.ToLower(tt.sender.Email) {
				t.Errorf("senderEmail = %q", got)
			}
		})
	}
}
