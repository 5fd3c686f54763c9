package domain

import (
	"fmt"
	"strconv"
	"time"
)

// UnitKWh is the only unit readings are expressed in.
const UnitKWh = "kWh"

type MeterType string

const (
	MeterSolar       MeterType = "solar"
	MeterWind        MeterType = "wind"
	MeterBattery     MeterType = "battery"
	MeterGrid        MeterType = "grid"
	MeterConsumption MeterType = "consumption"
)

func (t MeterType) Valid() bool {
	switch t {
	case MeterSolar, MeterWind, MeterBattery, MeterGrid, MeterConsumption:
		return true
	}
	return false
}

type ReadingKind string

const (
	KindProduction  ReadingKind = "production"
	KindConsumption ReadingKind = "consumption"
)

// KindFor derives the reading kind from the meter type: solar and wind
// produce, everything else consumes.
func KindFor(t MeterType) ReadingKind {
	if t == MeterSolar || t == MeterWind {
		return KindProduction
	}
	return KindConsumption
}

func ParseReadingKind(s string) (ReadingKind, error) {
	switch ReadingKind(s) {
	case KindProduction, KindConsumption:
		return ReadingKind(s), nil
	}
	return "", fmt.Errorf("unknown reading kind %q", s)
}

// Source records which adapter produced a reading.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
)

type MeterConfig struct {
	MeterID       string    `json:"meter_id"`
	MeterType     MeterType `json:"meter_type"`
	Endpoint      string    `json:"api_endpoint"`
	AccessToken   string    `json:"-"`
	PushTopic     string    `json:"mqtt_topic,omitempty"`
	Location      string    `json:"location"`
	OwnerIdentity string    `json:"owner_pubkey"`
}

type MeterReading struct {
	MeterID    string      `json:"meter_id"`
	Value      float64     `json:"value"`
	Kind       ReadingKind `json:"reading_kind"`
	ObservedAt int64       `json:"observed_at"`
	Unit       string      `json:"unit"`
	Source     Source      `json:"source"`
}

// AttestedReading is a reading plus the operator signature over its
// canonical payload. Treat as immutable.
type AttestedReading struct {
	MeterReading
	Signature []byte `json:"signature"`
}

// FormatValue renders a kWh value as shortest round-trip fixed-point text.
// Signing and milli-unit scaling both go through it so the oracle can
// recompute the same string.
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

type SubmissionStatus string

const (
	StatusAccepted SubmissionStatus = "accepted"
	StatusRejected SubmissionStatus = "rejected"
	StatusFailed   SubmissionStatus = "failed"
)

// SubmissionRecord is the audit trail entry written for every submission outcome.
type SubmissionRecord struct {
	ID          string           `db:"id" json:"id" dynamodbav:"id"`
	MeterID     string           `db:"meter_id" json:"meter_id" dynamodbav:"meterId"`
	ObservedAt  int64            `db:"observed_at" json:"observed_at" dynamodbav:"observedAt"`
	Value       float64          `db:"value_kwh" json:"value_kwh" dynamodbav:"valueKwh"`
	AmountMilli int64            `db:"amount_milli" json:"amount_milli" dynamodbav:"amountMilli"`
	Kind        ReadingKind      `db:"reading_kind" json:"reading_kind" dynamodbav:"readingKind"`
	Source      Source           `db:"source" json:"source" dynamodbav:"source"`
	Status      SubmissionStatus `db:"status" json:"status" dynamodbav:"status"`
	TxID        string           `db:"tx_id" json:"tx_id,omitempty" dynamodbav:"txId"`
	Attempts    int              `db:"attempts" json:"attempts" dynamodbav:"attempts"`
	Error       string           `db:"error" json:"error,omitempty" dynamodbav:"error"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at" dynamodbav:"createdAt"`
}
