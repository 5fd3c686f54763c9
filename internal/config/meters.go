package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/ANIKETSHETTY47/meter-oracle-bridge/internal/domain"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// FieldError points at the meter entry and key that failed validation.
type FieldError struct {
	Index int
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("meters[%d].%s: %v", e.Index, e.Field, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// MeterFile is the on-disk meter configuration.
type MeterFile struct {
	RPCURL          string
	OracleProgramID string
	Meters          []domain.MeterConfig
}

// LoadMeterFile reads a JSON or YAML meter file and validates every entry.
func LoadMeterFile(path string) (*MeterFile, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read meter config %s: %w", path, err)
	}

	raw, ok := v.Get("meters").([]any)
	if !ok && v.IsSet("meters") {
		return nil, &FieldError{Index: -1, Field: "meters", Err: fmt.Errorf("%w: expected a list", ErrInvalidField)}
	}

	out := &MeterFile{
		RPCURL:          v.GetString("rpc_url"),
		OracleProgramID: v.GetString("oracle_program_id"),
		Meters:          make([]domain.MeterConfig, 0, len(raw)),
	}
	for i, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, &FieldError{Index: i, Field: "", Err: fmt.Errorf("%w: expected an object", ErrInvalidField)}
		}
		m, err := decodeMeter(i, entry)
		if err != nil {
			return nil, err
		}
		out.Meters = append(out.Meters, m)
	}
	return out, nil
}

func decodeMeter(i int, entry map[string]any) (domain.MeterConfig, error) {
	var m domain.MeterConfig
	var err error

	if m.MeterID, err = requiredString(i, entry, "meter_id"); err != nil {
		return m, err
	}
	mt, err := requiredString(i, entry, "meter_type")
	if err != nil {
		return m, err
	}
	m.MeterType = domain.MeterType(strings.ToLower(mt))
	if !m.MeterType.Valid() {
		return m, &FieldError{Index: i, Field: "meter_type", Err: fmt.Errorf("%w: unknown meter type %q", ErrInvalidField, mt)}
	}

	if m.Endpoint, err = requiredString(i, entry, "api_endpoint"); err != nil {
		return m, err
	}
	u, perr := url.Parse(m.Endpoint)
	if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return m, &FieldError{Index: i, Field: "api_endpoint", Err: fmt.Errorf("%w: not an http(s) URL: %q", ErrInvalidField, m.Endpoint)}
	}

	if m.AccessToken, err = optionalString(i, entry, "api_key"); err != nil {
		return m, err
	}
	if m.PushTopic, err = optionalString(i, entry, "mqtt_topic"); err != nil {
		return m, err
	}
	if m.Location, err = optionalString(i, entry, "location"); err != nil {
		return m, err
	}
	if m.OwnerIdentity, err = optionalString(i, entry, "owner_pubkey"); err != nil {
		return m, err
	}
	return m, nil
}

func requiredString(i int, entry map[string]any, key string) (string, error) {
	s, err := optionalString(i, entry, key)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", &FieldError{Index: i, Field: key, Err: ErrMissingField}
	}
	return s, nil
}

func optionalString(i int, entry map[string]any, key string) (string, error) {
	v, ok := entry[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &FieldError{Index: i, Field: key, Err: fmt.Errorf("%w: expected a string, got %T", ErrInvalidField, v)}
	}
	return s, nil
}

// WriteDefaultMeterFile writes a starter meter file with one production and
// one consumption meter. It refuses to overwrite an existing file.
func WriteDefaultMeterFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("meter config %s already exists", path)
	}

	type meter struct {
		MeterID     string `json:"meter_id"`
		MeterType   string `json:"meter_type"`
		APIEndpoint string `json:"api_endpoint"`
		Location    string `json:"location"`
		OwnerPubkey string `json:"owner_pubkey"`
	}
	doc := struct {
		RPCURL          string  `json:"rpc_url"`
		OracleProgramID string  `json:"oracle_program_id"`
		Meters          []meter `json:"meters"`
	}{
		RPCURL:          "https://service-testnet.maschain.com",
		OracleProgramID: "EnergyOracle111111111111111111111111111111",
		Meters: []meter{
			{MeterID: "SOLAR_001", MeterType: "solar", APIEndpoint: "http://localhost:8081/api/solar/reading", Location: "Rooftop Solar Panel"},
			{MeterID: "CONSUMPTION_001", MeterType: "consumption", APIEndpoint: "http://localhost:8081/api/consumption/reading", Location: "Main Building"},
		},
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
