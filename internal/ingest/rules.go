package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/wonny/stratstats/internal/contracts"
)

// MaxRows is the hard cap of data rows per upload (header excluded)
const MaxRows = 2000

// Rules are the field-level limits of the second validation pass
type Rules struct {
	MinDate          string `yaml:"min_date" json:"minDate"`
	AllowFutureDates bool   `yaml:"allow_future_dates" json:"allowFutureDates"`
	MaxAbsAmount     string `yaml:"max_abs_amount" json:"maxAbsAmount"`

	minDate      time.Time
	maxAbsAmount decimal.Decimal
}

// RulesError 규칙 파일 검증 실패
type RulesError struct {
	Field   string
	Message string
}

func (e RulesError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// DefaultRules are used when no rules file is configured
func DefaultRules() *Rules {
	r := &Rules{
		MinDate:          "2000-01-01",
		AllowFutureDates: false,
		MaxAbsAmount:     "1000000000000",
	}
	if err := r.Validate(); err != nil {
		panic(err)
	}
	return r
}

// LoadRules reads a YAML rules file; empty path means defaults
// 규칙 파일 오타는 즉시 실패 (KnownFields)
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes rules YAML, filling unset fields from the defaults
func ParseRules(data []byte) (*Rules, error) {
	rules := *DefaultRules()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rules); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}

	if err := rules.Validate(); err != nil {
		return nil, err
	}
	return &rules, nil
}

// Validate checks the rules and caches their parsed form
func (r *Rules) Validate() error {
	if r.MinDate != "" {
		t, err := time.Parse(contracts.DateLayout, r.MinDate)
		if err != nil {
			return RulesError{"min_date", fmt.Sprintf("must be %s", contracts.DateLayout)}
		}
		r.minDate = t
	} else {
		r.minDate = time.Time{}
	}

	if r.MaxAbsAmount == "" {
		return RulesError{"max_abs_amount", "required"}
	}
	amount, err := decimal.NewFromString(r.MaxAbsAmount)
	if err != nil || !amount.IsPositive() {
		return RulesError{"max_abs_amount", "must be a positive number"}
	}
	r.maxAbsAmount = amount

	return nil
}

// Hash fingerprints the rules for import logs (canonical JSON)
func (r *Rules) Hash() string {
	data, _ := json.Marshal(r)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:12]
}
