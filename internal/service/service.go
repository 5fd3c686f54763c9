package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/attest"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/repository"
)

type SubmissionStore interface {
	InsertSubmission(ctx context.Context, rec domain.SubmissionRecord) error
}

// History answers the status API's read queries.
type History interface {
	RecentSubmissions(ctx context.Context, limit int) ([]domain.SubmissionRecord, error)
	MeterSubmissions(ctx context.Context, meterID string, since time.Time, limit int) ([]domain.SubmissionRecord, error)
}

type Mirror interface {
	PutSubmission(ctx context.Context, rec domain.SubmissionRecord) error
}

type Archiver interface {
	ArchiveAttestation(ctx context.Context, a domain.AttestedReading, payload []byte, rec domain.SubmissionRecord) (string, error)
}

type Alerter interface {
	SendSubmissionAlert(ctx context.Context, rec domain.SubmissionRecord) error
}

// MirrorReader reads a meter's mirrored records back, filtered on the unix
// observation time.
type MirrorReader interface {
	MeterSubmissions(ctx context.Context, meterID string, since int64) ([]domain.SubmissionRecord, error)
}

// Cloud groups the optional AWS sinks; nil fields are skipped.
type Cloud struct {
	Mirror   Mirror
	Archiver Archiver
	Alerter  Alerter
	Reader   MirrorReader
}

type Services struct {
	Repos   *repository.Repos
	History History
	Audit   *AuditService
}

// New wires the submission sinks. With a nil db, per-meter history comes from
// the DynamoDB mirror when one is readable and from memory otherwise.
func New(db *sqlx.DB, cloud Cloud) *Services {
	mem := NewMemoryHistory(100)
	s := &Services{History: mem}

	audit := &AuditService{memory: mem, cloud: cloud}
	switch {
	case db != nil:
		s.Repos = repository.New(db)
		s.History = s.Repos
		audit.store = s.Repos
	case cloud.Reader != nil:
		s.History = &mirrorHistory{MemoryHistory: mem, reader: cloud.Reader}
	}
	s.Audit = audit
	return s
}

// AuditService fans every submission outcome out to the configured sinks.
// It satisfies submission.Recorder.
type AuditService struct {
	memory *MemoryHistory
	store  SubmissionStore
	cloud  Cloud
}

// RecordSubmission never fails the submission: sink errors are logged and the
// first one is returned for the caller's log line.
func (s *AuditService) RecordSubmission(ctx context.Context, a domain.AttestedReading, rec domain.SubmissionRecord) error {
	var first error
	note := func(sink string, err error) {
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("meter_id", rec.MeterID).Str("op", "record").Str("sink", sink).Msg("audit sink failed")
		if first == nil {
			first = err
		}
	}

	if s.memory != nil {
		s.memory.Add(rec)
	}
	if s.store != nil {
		note("postgres", s.store.InsertSubmission(ctx, rec))
	}
	if s.cloud.Mirror != nil {
		note("dynamodb", s.cloud.Mirror.PutSubmission(ctx, rec))
	}
	if s.cloud.Archiver != nil {
		key, err := s.cloud.Archiver.ArchiveAttestation(ctx, a, attest.CanonicalPayload(a.MeterReading), rec)
		note("s3", err)
		if err == nil {
			log.Debug().Str("meter_id", rec.MeterID).Str("key", key).Msg("attestation archived")
		}
	}
	if s.cloud.Alerter != nil && rec.Status != domain.StatusAccepted {
		note("sns", s.cloud.Alerter.SendSubmissionAlert(ctx, rec))
	}
	return first
}

// mirrorHistory serves recent submissions from memory and a meter's history
// from the cloud mirror, which outlives the process.
type mirrorHistory struct {
	*MemoryHistory
	reader MirrorReader
}

func (h *mirrorHistory) MeterSubmissions(ctx context.Context, meterID string, since time.Time, limit int) ([]domain.SubmissionRecord, error) {
	recs, err := h.reader.MeterSubmissions(ctx, meterID, since.Unix())
	if err != nil {
		return nil, err
	}
	return newestFirst(recs, limit), nil
}

// MemoryHistory keeps the last N records per meter.
type MemoryHistory struct {
	mu       sync.RWMutex
	perMeter int
	byMeter  map[string][]domain.SubmissionRecord
}

func NewMemoryHistory(perMeter int) *MemoryHistory {
	if perMeter <= 0 {
		perMeter = 100
	}
	return &MemoryHistory{perMeter: perMeter, byMeter: make(map[string][]domain.SubmissionRecord)}
}

func (h *MemoryHistory) Add(rec domain.SubmissionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	recs := append(h.byMeter[rec.MeterID], rec)
	if len(recs) > h.perMeter {
		recs = recs[len(recs)-h.perMeter:]
	}
	h.byMeter[rec.MeterID] = recs
}

func (h *MemoryHistory) RecentSubmissions(_ context.Context, limit int) ([]domain.SubmissionRecord, error) {
	h.mu.RLock()
	var out []domain.SubmissionRecord
	for _, recs := range h.byMeter {
		out = append(out, recs...)
	}
	h.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func (h *MemoryHistory) MeterSubmissions(_ context.Context, meterID string, since time.Time, limit int) ([]domain.SubmissionRecord, error) {
	h.mu.RLock()
	var out []domain.SubmissionRecord
	for _, rec := range h.byMeter[meterID] {
		if !rec.CreatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	h.mu.RUnlock()
	return newestFirst(out, limit), nil
}

func newestFirst(recs []domain.SubmissionRecord, limit int) []domain.SubmissionRecord {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	if recs == nil {
		recs = []domain.SubmissionRecord{}
	}
	return recs
}
