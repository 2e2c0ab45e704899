package classification

import (
	"regexp"

	"vitalred_worker/core/domain"
)

// Vocabularies are Spanish clinical terms matched as lowercase substrings.
// Accents are significant: "remision" does not match "remisión".

var referralKeywords = []string{
	"remisión",
	"remitido",
	"remitida",
	"interconsulta",
	"referencia",
	"valoración",
	"traslado",
	"solicitud de",
	"paciente",
	"diagnóstico",
	"motivo de consulta",
	"especialista",
	"evaluación por",
}

// specialties is in priority order: the first one present wins.
var specialties = []string{
	"cardiología",
	"neurología",
	"neumología",
	"gastroenterología",
	"nefrología",
	"endocrinología",
	"oncología",
	"hematología",
	"dermatología",
	"reumatología",
	"infectología",
	"urología",
	"ginecología",
	"obstetricia",
	"pediatría",
	"psiquiatría",
	"oftalmología",
	"otorrinolaringología",
	"ortopedia",
	"traumatología",
	"cirugía general",
	"neurocirugía",
	"medicina interna",
	"geriatría",
	"anestesiología",
	"radiología",
}

type abbreviation struct {
	short     string
	canonical string
}

// specialtyAbbreviations maps word prefixes used in referral notes to the
// canonical specialty name.
var specialtyAbbreviations = []abbreviation{
	{"cardio", "cardiología"},
	{"neuro", "neurología"},
	{"neumo", "neumología"},
	{"gastro", "gastroenterología"},
	{"nefro", "nefrología"},
	{"endocrino", "endocrinología"},
	{"onco", "oncología"},
	{"hemato", "hematología"},
	{"dermato", "dermatología"},
	{"reumato", "reumatología"},
	{"uro", "urología"},
	{"gineco", "ginecología"},
	{"pedia", "pediatría"},
	{"psiq", "psiquiatría"},
	{"oftalmo", "oftalmología"},
	{"otorrino", "otorrinolaringología"},
	{"orto", "ortopedia"},
	{"trauma", "traumatología"},
}

var coreMedicalTerms = []string{
	"paciente",
	"diagnóstico",
	"tratamiento",
	"síntomas",
	"historia clínica",
	"examen",
	"evolución",
	"antecedentes",
	"hospitalización",
	"medicamento",
	"cirugía",
	"dolor",
	"presión arterial",
	"hipertensión",
	"diabetes",
	"fiebre",
}

// referralPatterns are counted per group: a group contributes once no
// matter how many times it matches.
var referralPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(cc|c\.c\.|ti|t\.i\.|cédula)\s*:?\s*\d{6,}`),
	regexp.MustCompile(`diagn[oó]stico\s*:`),
	regexp.MustCompile(`motivo( de (consulta|remisi[oó]n))?\s*:`),
	regexp.MustCompile(`(remite|solicita|requiere)\s+(valoraci[oó]n|manejo|interconsulta|traslado)`),
	regexp.MustCompile(`\b\d{1,3}\s*(años|a\.)`),
	regexp.MustCompile(`\b(ta|fc|fr|spo2|sat\s*o2)\s*:?\s*\d{2,3}`),
	regexp.MustCompile(`paciente\s*:?\s+\pL+`),
}

type bucket[K comparable] struct {
	key      K
	keywords []string
}

// Ordered by tie-break priority.
var referralTypeBuckets = []bucket[domain.ReferralType]{
	{domain.ReferralUrgent, []string{"urgente", "urgencia", "emergencia", "inmediato", "prioritario"}},
	{domain.ReferralInterconsult, []string{"interconsulta", "valoración", "concepto", "evaluación por", "opinión"}},
	{domain.ReferralTransfer, []string{"traslado", "trasladar", "remisión a", "transferencia", "ambulancia"}},
	{domain.ReferralScheduled, []string{"programado", "programada", "cita", "agendar", "control"}},
}

// Ordered most severe first; ties go to the earlier bucket.
var urgencyBuckets = []bucket[domain.UrgencyLevel]{
	{domain.UrgencyCritical, []string{"emergencia", "crítico", "crítica", "código rojo", "riesgo vital", "inestable", "paro cardiaco", "shock"}},
	{domain.UrgencyHigh, []string{"urgente", "urgencia", "prioritario", "prioritaria", "inmediato", "inmediata", "grave", "severo", "severa"}},
	{domain.UrgencyMedium, []string{"preferente", "moderado", "moderada", "control", "seguimiento"}},
	{domain.UrgencyLow, []string{"leve", "estable", "baja prioridad", "ambulatorio", "ambulatoria"}},
	{domain.UrgencyRoutine, []string{"rutina", "rutinario", "programado", "programada", "chequeo", "electivo", "electiva", "anual"}},
}

var documentTypeBuckets = []bucket[domain.DocumentType]{
	{domain.DocEpicrisis, []string{"epicrisis", "resumen de atención"}},
	{domain.DocLab, []string{"laboratorio", "hemograma", "glicemia", "creatinina", "paraclínicos"}},
	{domain.DocImaging, []string{"radiografía", "tomografía", "resonancia", "ecografía", "rayos x"}},
	{domain.DocPrescription, []string{"fórmula médica", "receta", "prescripción", "posología"}},
	{domain.DocReferral, []string{"remisión", "referencia", "interconsulta"}},
	{domain.DocConsultation, []string{"consulta", "valoración", "concepto"}},
	{domain.DocProcedure, []string{"procedimiento", "biopsia", "endoscopia", "cirugía"}},
	{domain.DocDischarge, []string{"egreso", "alta médica", "salida"}},
}

var (
	patientNamePattern = regexp.MustCompile(`(?:[Pp]aciente|PACIENTE)\s*:?\s+(\p{Lu}\p{Ll}+(?:\s+\p{Lu}\p{Ll}+){0,3})`)
	documentIDPattern  = regexp.MustCompile(`(?i)\b(?:cc|c\.c\.|ti|t\.i\.|cédula(?: de ciudadanía)?)\s*:?\s*(?:no\.?\s*)?(\d{6,12})`)
	agePattern         = regexp.MustCompile(`\b(\d{1,3})\s*(?:años|a\.)`)
	diagnosisPattern   = regexp.MustCompile(`(?i)diagn[oó]stico\s*:?\s*([^.\n]+)`)
	reasonPattern      = regexp.MustCompile(`(?i)motivo(?: de (?:consulta|remisi[oó]n))?\s*:\s*([^.\n]+)`)
)
