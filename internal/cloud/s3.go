package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

// S3Client archives signed readings so an attestation can be re-verified
// after the fact.
type S3Client struct {
	svc    *s3.Client
	bucket string
}

// NewS3Client creates a client for the given bucket.
func NewS3Client(cfg aws.Config, bucket string, optFns ...func(*s3.Options)) *S3Client {
	return &S3Client{
		svc:    s3.NewFromConfig(cfg, optFns...),
		bucket: bucket,
	}
}

// AttestationDocument is the archived JSON object.
type AttestationDocument struct {
	Reading  domain.AttestedReading  `json:"reading"`
	Payload  string                  `json:"signed_payload"`
	Outcome  domain.SubmissionRecord `json:"outcome"`
	Archived time.Time               `json:"archived_at"`
}

// AttestationKey is attestations/{meter_id}/{observed_at}-{record id}.json.
func AttestationKey(rec domain.SubmissionRecord) string {
	return fmt.Sprintf("attestations/%s/%d-%s.json", rec.MeterID, rec.ObservedAt, rec.ID)
}

// ArchiveAttestation uploads the signed reading with its outcome and returns
// the object key.
func (c *S3Client) ArchiveAttestation(ctx context.Context, a domain.AttestedReading, payload []byte, rec domain.SubmissionRecord) (string, error) {
	doc := AttestationDocument{
		Reading:  a,
		Payload:  string(payload),
		Outcome:  rec,
		Archived: time.Now().UTC(),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal attestation: %w", err)
	}

	key := AttestationKey(rec)
	_, err = c.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"meter-id": rec.MeterID,
			"status":   string(rec.Status),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}
	return key, nil
}
