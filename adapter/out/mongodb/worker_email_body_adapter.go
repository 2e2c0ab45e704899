package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"vitalred_worker/core/domain"
	"vitalred_worker/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collectionReferralBodies = "referral_bodies"

	// Bodies larger than this are gzip-compressed.
	compressionThreshold = 1024
)

// BodyAdapter implements out.BodyStore.
type BodyAdapter struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ out.BodyStore = (*BodyAdapter)(nil)

func NewBodyAdapter(client *mongo.Client, database string) *BodyAdapter {
	return &BodyAdapter{
		client:     client,
		collection: client.Database(database).Collection(collectionReferralBodies),
	}
}

func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "session_id", Value: 1}}},
		{Keys: bson.D{{Key: "is_referral", Value: 1}, {Key: "archived_at", Value: -1}}},
	})
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type bodyDocument struct {
	MessageID  string `bson:"message_id"`
	SessionID  string `bson:"session_id"`
	IsReferral bool   `bson:"is_referral"`

	HTML         []byte               `bson:"html"`
	Text         []byte               `bson:"text"`
	Attachments  []attachmentDocument `bson:"attachments,omitempty"`
	IsCompressed bool                 `bson:"is_compressed"`

	OriginalSize   int64     `bson:"original_size"`
	CompressedSize int64     `bson:"compressed_size"`
	ArchivedAt     time.Time `bson:"archived_at"`
}

type attachmentDocument struct {
	Filename string `bson:"filename"`
	MimeType string `bson:"mime_type"`
	Size     int64  `bson:"size"`
	Method   string `bson:"method"`
	Text     []byte `bson:"text,omitempty"`
}

func toDocument(r *domain.ProcessedRecord, now time.Time) (*bodyDocument, error) {
	doc := &bodyDocument{
		MessageID:  r.ID,
		SessionID:  r.SessionID,
		IsReferral: r.Classification.IsReferral,
		HTML:       []byte(r.BodyHTML),
		Text:       []byte(r.BodyText),
		ArchivedAt: now,
	}
	size := int64(len(doc.HTML) + len(doc.Text))
	for _, att := range r.Attachments {
		doc.Attachments = append(doc.Attachments, attachmentDocument{
			Filename: att.Filename,
			MimeType: att.MimeType,
			Size:     att.SizeBytes,
			Method:   string(att.Method),
			Text:     []byte(att.ExtractedText),
		})
		size += int64(len(att.ExtractedText))
	}
	doc.OriginalSize = size
	doc.CompressedSize = size

	if size <= compressionThreshold {
		return doc, nil
	}

	fields := []*[]byte{&doc.HTML, &doc.Text}
	for i := range doc.Attachments {
		fields = append(fields, &doc.Attachments[i].Text)
	}
	var compressed int64
	for _, f := range fields {
		c, err := compress(*f)
		if err != nil {
			return nil, err
		}
		*f = c
		compressed += int64(len(c))
	}
	doc.IsCompressed = true
	doc.CompressedSize = compressed
	return doc, nil
}

func (d *bodyDocument) toBody() (*domain.ArchivedBody, error) {
	read := func(b []byte) (string, error) {
		if !d.IsCompressed {
			return string(b), nil
		}
		plain, err := decompress(b)
		return string(plain), err
	}

	body := &domain.ArchivedBody{MessageID: d.MessageID, SessionID: d.SessionID, ArchivedAt: d.ArchivedAt}
	var err error
	if body.HTML, err = read(d.HTML); err != nil {
		return nil, fmt.Errorf("html: %w", err)
	}
	if body.Text, err = read(d.Text); err != nil {
		return nil, fmt.Errorf("text: %w", err)
	}
	for _, a := range d.Attachments {
		text, err := read(a.Text)
		if err != nil {
			return nil, fmt.Errorf("attachment %s: %w", a.Filename, err)
		}
		body.Attachments = append(body.Attachments, domain.AttachmentRecord{
			Filename:      a.Filename,
			MimeType:      a.MimeType,
			SizeBytes:     a.Size,
			ExtractedText: text,
			Method:        domain.ExtractionMethod(a.Method),
		})
	}
	return body, nil
}

// =============================================================================
// Operations
// =============================================================================

// SaveBody upserts the archive entry of one message.
func (a *BodyAdapter) SaveBody(ctx context.Context, r *domain.ProcessedRecord) error {
	doc, err := toDocument(r, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to build body document: %w", err)
	}
	_, err = a.collection.ReplaceOne(ctx,
		bson.M{"message_id": r.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save body: %w", err)
	}
	return nil
}

// GetBody returns nil when the message was never archived.
func (a *BodyAdapter) GetBody(ctx context.Context, messageID string) (*domain.ArchivedBody, error) {
	var doc bodyDocument
	err := a.collection.FindOne(ctx, bson.M{"message_id": messageID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get body: %w", err)
	}
	return doc.toBody()
}

func (a *BodyAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx, readpref.Primary())
}

// =============================================================================
// Compression
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
