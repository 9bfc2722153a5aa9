// Package policy implements the PII detection, compliance-mode filtering,
// consent-gated promotion, and erasure/export orchestration of spec.md §4.4.
package policy

import (
	"regexp"
	"strings"

	"acms/internal/domain"
)

// detector pairs a compiled pattern with the PII kind it signals, mirroring
// the anonymizer example's pattern{re, piiType, confidence} table — adapted
// here from "tokenize and replace" to "detect, count, flag".
type detector struct {
	kind    domain.PIIKind
	re      *regexp.Regexp
	validate func(match string) bool // optional extra validation (e.g. Luhn)
}

var detectors = []detector{
	{kind: domain.PIIEmail, re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{kind: domain.PIIGovernment, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{kind: domain.PIICreditCard, re: regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`), validate: isLuhnValid},
	{kind: domain.PIIIPAddress, re: regexp.MustCompile(`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`), validate: isValidIPv4},
	{kind: domain.PIIPhone, re: regexp.MustCompile(`(\+?1?[\-.\s]?)?\(?[0-9]{3}\)?[\-.\s]?[0-9]{3}[\-.\s]?[0-9]{4}\b`)},
}

// DefaultRiskWeights are the per-kind weights of spec.md §4.4's aggregate
// risk score, capped at 1.0 by RiskScore.
func DefaultRiskWeights() map[domain.PIIKind]float64 {
	return map[domain.PIIKind]float64{
		domain.PIIGovernment: 0.5,
		domain.PIICreditCard: 0.4,
		domain.PIIEmail:      0.1,
		domain.PIIPhone:      0.1,
		domain.PIIIPAddress:  0.05,
	}
}

// Detect scans text and returns one PIIFlag per kind found, with a count and
// a redacted example (first 2 and last 2 characters kept, middle masked).
// Detectors run in a fixed order (government-id and credit-card before the
// looser phone pattern) so a credit-card-shaped number is never double
// counted as a phone number: once a span matches an earlier detector it is
// excluded from later ones.
func Detect(text string) []domain.PIIFlag {
	if text == "" {
		return nil
	}

	var flags []domain.PIIFlag
	claimed := make([]bool, len(text))

	for _, d := range detectors {
		locs := d.re.FindAllStringIndex(text, -1)
		if len(locs) == 0 {
			continue
		}

		count := 0
		var example string
		for _, loc := range locs {
			if spanClaimed(claimed, loc[0], loc[1]) {
				continue
			}
			match := text[loc[0]:loc[1]]
			if d.validate != nil && !d.validate(match) {
				continue
			}
			markClaimed(claimed, loc[0], loc[1])
			count++
			if example == "" {
				example = redact(match)
			}
		}
		if count > 0 {
			flags = append(flags, domain.PIIFlag{Kind: d.kind, Count: count, RedactedExample: example})
		}
	}
	return flags
}

func spanClaimed(claimed []bool, start, end int) bool {
	for i := start; i < end; i++ {
		if claimed[i] {
			return true
		}
	}
	return false
}

func markClaimed(claimed []bool, start, end int) {
	for i := start; i < end; i++ {
		claimed[i] = true
	}
}

// redact keeps the first two and last two characters of a match and masks
// the rest, e.g. "jo***23@example.com" -> "jo***om".
func redact(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + "***" + s[len(s)-2:]
}

// RiskScore aggregates PIIFlags into a single [0,1] risk score using
// weights (falling back to DefaultRiskWeights for any unweighted kind),
// capped at 1.0 (spec.md §4.4).
func RiskScore(flags []domain.PIIFlag, weights map[domain.PIIKind]float64) float64 {
	if len(flags) == 0 {
		return 0
	}
	defaults := DefaultRiskWeights()
	var sum float64
	for _, f := range flags {
		w, ok := weights[f.Kind]
		if !ok {
			w = defaults[f.Kind]
		}
		sum += w
	}
	if sum > 1.0 {
		return 1.0
	}
	return sum
}

// isLuhnValid checks the Luhn checksum of a digit string that may contain
// spaces or hyphens (spec.md §4.4 "Luhn-valid 13-19 digits").
func isLuhnValid(s string) bool {
	var digits []int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits = append(digits, int(r-'0'))
		case r == ' ' || r == '-':
			continue
		default:
			return false
		}
	}
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

// isValidIPv4 rejects obviously-non-address matches (e.g. version strings
// like "12.34.567.89") by bounding each octet to 0-255.
func isValidIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 3 {
			return false
		}
		n := 0
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}
