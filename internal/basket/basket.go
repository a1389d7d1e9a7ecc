// Package basket models the jointly authored document: an ordered list of
// sub-project companies, per-participant stakes, free-form fields, and the
// optional finalization request layered on top. It is a plain value type;
// synchronization and conflict policy live in the client.
package basket

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrEmptyCompany     = errors.New("empty company name")
	ErrDuplicateCompany = errors.New("duplicate company name")
	ErrUnknownCompany   = errors.New("unknown company")
	ErrEmptyField       = errors.New("empty field name")
)

// Basket is the shared document. Participant keys are lowercase hex
// addresses throughout so two spellings of the same wallet never split a
// stake.
type Basket struct {
	Companies    []string                     `json:"companies"`
	Stakes       map[string]map[string]uint64 `json:"stakes"`
	FormFields   map[string]string            `json:"form_fields"`
	Finalization *FinalizationRequest         `json:"finalization,omitempty"`
}

func New() *Basket {
	return &Basket{
		Stakes:     make(map[string]map[string]uint64),
		FormFields: make(map[string]string),
	}
}

// Clone is a deep copy; snapshots handed across component boundaries are
// never aliased to the owned document.
func (b *Basket) Clone() *Basket {
	if b == nil {
		return nil
	}
	out := &Basket{
		Companies:  append([]string(nil), b.Companies...),
		Stakes:     make(map[string]map[string]uint64, len(b.Stakes)),
		FormFields: make(map[string]string, len(b.FormFields)),
	}
	for company, stakes := range b.Stakes {
		m := make(map[string]uint64, len(stakes))
		for addr, amount := range stakes {
			m[addr] = amount
		}
		out.Stakes[company] = m
	}
	for k, v := range b.FormFields {
		out.FormFields[k] = v
	}
	out.Finalization = b.Finalization.Clone()
	return out
}

func (b *Basket) AddCompany(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyCompany
	}
	for _, c := range b.Companies {
		if c == name {
			return fmt.Errorf("%w: %s", ErrDuplicateCompany, name)
		}
	}
	b.Companies = append(b.Companies, name)
	if b.Stakes == nil {
		b.Stakes = make(map[string]map[string]uint64)
	}
	b.Stakes[name] = make(map[string]uint64)
	return nil
}

func (b *Basket) SetStake(company, participant string, amount uint64) error {
	company = strings.TrimSpace(company)
	stakes, ok := b.Stakes[company]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCompany, company)
	}
	stakes[strings.ToLower(participant)] = amount
	return nil
}

func (b *Basket) SetField(name, value string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyField
	}
	if b.FormFields == nil {
		b.FormFields = make(map[string]string)
	}
	b.FormFields[name] = value
	return nil
}

// ComputeWeights returns each company's share of the total staked amount in
// whole percent. An all-zero basket yields all-zero weights.
func ComputeWeights(b *Basket) map[string]uint64 {
	weights := make(map[string]uint64, len(b.Companies))
	var total uint64
	totals := make(map[string]uint64, len(b.Companies))
	for _, company := range b.Companies {
		var sum uint64
		for _, amount := range b.Stakes[company] {
			sum += amount
		}
		totals[company] = sum
		total += sum
	}
	for _, company := range b.Companies {
		if total == 0 {
			weights[company] = 0
			continue
		}
		weights[company] = totals[company] * 100 / total
	}
	return weights
}
