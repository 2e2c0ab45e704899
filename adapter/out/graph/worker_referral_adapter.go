package graph

import (
	"context"
	"fmt"
	"strings"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Specialty name used when a referral matched no specialty keywords.
const unassignedSpecialty = "sin_especialidad"

// ReferralAdapter implements out.ReferralGraph.
//
//	(:Sender)-[:SENT]->(:Referral)-[:ROUTED_TO]->(:Specialty)
type ReferralAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

var _ out.ReferralGraph = (*ReferralAdapter)(nil)

func NewReferralAdapter(driver neo4j.DriverWithContext, dbName string) *ReferralAdapter {
	return &ReferralAdapter{driver: driver, dbName: dbName}
}

func (a *ReferralAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT referral_id IF NOT EXISTS FOR (r:Referral) REQUIRE r.message_id IS UNIQUE`,
		`CREATE CONSTRAINT sender_email IF NOT EXISTS FOR (s:Sender) REQUIRE s.email IS UNIQUE`,
		`CREATE CONSTRAINT specialty_name IF NOT EXISTS FOR (s:Specialty) REQUIRE s.name IS UNIQUE`,
		`CREATE INDEX referral_urgency_idx IF NOT EXISTS FOR (r:Referral) ON (r.urgency)`,
	}
	for _, q := range queries {
		if _, err := session.Run(ctx, q, nil); err != nil {
			return fmt.Errorf("failed to ensure graph index: %w", err)
		}
	}
	return nil
}

const upsertReferralQuery = `
	MERGE (s:Sender {email: $senderEmail})
	SET s.name = coalesce($senderName, s.name)
	MERGE (r:Referral {message_id: $messageID})
	SET r.subject = $subject,
		r.session_id = $sessionID,
		r.referral_type = $referralType,
		r.urgency = $urgency,
		r.document_type = $documentType,
		r.date = $date,
		r.updated_at = timestamp()
	MERGE (s)-[:SENT]->(r)
	MERGE (sp:Specialty {name: $specialty})
	WITH r, sp
	OPTIONAL MATCH (r)-[old:ROUTED_TO]->(other:Specialty)
	WHERE other.name <> $specialty
	DELETE old
	MERGE (r)-[:ROUTED_TO]->(sp)
`

// UpsertReferral is idempotent per message id. A reclassified referral is
// moved to its new specialty.
func (a *ReferralAdapter) UpsertReferral(ctx context.Context, r *domain.ProcessedRecord) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, upsertReferralQuery, referralParams(r))
		return nil, err
	})
	if err != nil {
		return fmt.Errorf("failed to upsert referral %s: %w", r.ID, err)
	}
	return nil
}

func referralParams(r *domain.ProcessedRecord) map[string]any {
	specialty := strings.TrimSpace(r.Classification.Specialty)
	if specialty == "" {
		specialty = unassignedSpecialty
	}
	var senderName any
	if r.Sender.Name != "" {
		senderName = r.Sender.Name
	}
	return map[string]any{
		"senderEmail":  strings.ToLower(r.Sender.Email),
		"senderName":   senderName,
		"messageID":    r.ID,
		"sessionID":    r.SessionID,
		"subject":      r.Subject,
		"referralType": string(r.Classification.ReferralType),
		"urgency":      string(r.Classification.UrgencyLevel),
		"documentType": string(r.Classification.DocumentType),
		"date":         r.Date.UTC().Unix(),
		"specialty":    specialty,
	}
}

// CountBySpecialty returns specialties ordered by referral volume.
func (a *ReferralAdapter) CountBySpecialty(ctx context.Context, limit int) ([]domain.SpecialtyCount, error) {
	if limit <= 0 {
		limit = 20
	}
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	query := `
		MATCH (s:Sender)-[:SENT]->(r:Referral)-[:ROUTED_TO]->(sp:Specialty)
		RETURN sp.name AS specialty, count(DISTINCT r) AS referrals, count(DISTINCT s) AS senders
		ORDER BY referrals DESC, specialty
		LIMIT $limit
	`
	res, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"limit": limit})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}
		counts := make([]domain.SpecialtyCount, 0, len(records))
		for _, rec := range records {
			name, _, _ := neo4j.GetRecordValue[string](rec, "specialty")
			refs, _, _ := neo4j.GetRecordValue[int64](rec, "referrals")
			senders, _, _ := neo4j.GetRecordValue[int64](rec, "senders")
			counts = append(counts, domain.SpecialtyCount{Specialty: name, Referrals: refs, Senders: senders})
		}
		return counts, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count referrals by specialty: %w", err)
	}
	return res.([]domain.SpecialtyCount), nil
}

func (a *ReferralAdapter) Ping(ctx context.Context) error {
	return a.driver.VerifyConnectivity(ctx)
}
