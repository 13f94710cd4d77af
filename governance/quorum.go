package governance

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind discriminates the quorum arithmetic variants a policy can declare.
type Kind string

const (
	KindMajority   Kind = "MAJORITY"
	KindFixed      Kind = "FIXED"
	KindPercentage Kind = "PERCENTAGE"
	KindBFT        Kind = "BFT"
)

// Quorum computes how many signatures out of a given signer-set size are
// required, per the variant named in a governance policy.
//
// The wire encoding (schema/governance.go's meta-schema) is either the bare
// string "MAJORITY" or a single-key object: {"FIXED": n}, {"PERCENTAGE": p}
// or {"BFT": f}. Quorum's (Un)MarshalJSON round-trips that shape.
type Quorum struct {
	Kind       Kind
	Fixed      int
	Percentage float64
	BFT        float64
}

func Majority() Quorum                  { return Quorum{Kind: KindMajority} }
func Fixed(n int) Quorum                { return Quorum{Kind: KindFixed, Fixed: n} }
func Percentage(p float64) Quorum       { return Quorum{Kind: KindPercentage, Percentage: p} }
func BFTQuorum(faultFraction float64) Quorum { return Quorum{Kind: KindBFT, BFT: faultFraction} }

// Resolve returns the number of signatures required out of signers eligible
// voters:
//
//	MAJORITY:        floor(signers/2) + 1
//	FIXED{n}:        n, clamped to signers (a quorum can never exceed the
//	                 eligible set, so n > signers caps rather than
//	                 producing an unsatisfiable quorum)
//	PERCENTAGE{p}:   ceil(signers * p)
//	BFT{f}:          floor(signers * (1 - f)) + 1, where f is the tolerated
//	                 faulty-signer fraction (e.g. f=1/3 for classic BFT).
//	                 Monotonically non-increasing in f, reduces to a plain
//	                 majority at f=0.5, and never exceeds signers.
//
// Resolve never returns more than signers or less than 1 (when signers > 0).
func (q Quorum) Resolve(signers int) int {
	if signers <= 0 {
		return 0
	}
	var n int
	switch q.Kind {
	case KindMajority:
		n = signers/2 + 1
	case KindFixed:
		n = q.Fixed
	case KindPercentage:
		n = int(math.Ceil(float64(signers) * q.Percentage))
	case KindBFT:
		n = int(math.Floor(float64(signers)*(1-q.BFT))) + 1
	default:
		n = signers
	}
	if n < 1 {
		n = 1
	}
	if n > signers {
		n = signers
	}
	return n
}

func (q Quorum) MarshalJSON() ([]byte, error) {
	switch q.Kind {
	case KindMajority:
		return json.Marshal("MAJORITY")
	case KindFixed:
		return json.Marshal(map[string]int{"FIXED": q.Fixed})
	case KindPercentage:
		return json.Marshal(map[string]float64{"PERCENTAGE": q.Percentage})
	case KindBFT:
		return json.Marshal(map[string]float64{"BFT": q.BFT})
	default:
		return nil, fmt.Errorf("governance: unknown quorum kind %q", q.Kind)
	}
}

func (q *Quorum) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString != string(KindMajority) {
			return fmt.Errorf("%w: unknown quorum %q", ErrInvalidPayload, asString)
		}
		*q = Majority()
		return nil
	}

	var asObject map[string]json.Number
	if err := json.Unmarshal(data, &asObject); err != nil {
		return fmt.Errorf("%w: quorum: %v", ErrInvalidPayload, err)
	}
	if v, ok := asObject[string(KindFixed)]; ok {
		n, err := v.Int64()
		if err != nil {
			return fmt.Errorf("%w: FIXED quorum: %v", ErrInvalidPayload, err)
		}
		*q = Fixed(int(n))
		return nil
	}
	if v, ok := asObject[string(KindPercentage)]; ok {
		p, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%w: PERCENTAGE quorum: %v", ErrInvalidPayload, err)
		}
		*q = Percentage(p)
		return nil
	}
	if v, ok := asObject[string(KindBFT)]; ok {
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%w: BFT quorum: %v", ErrInvalidPayload, err)
		}
		*q = BFTQuorum(f)
		return nil
	}
	return fmt.Errorf("%w: unrecognized quorum shape", ErrInvalidPayload)
}
