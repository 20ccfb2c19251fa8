// Package eligibility implements the startup locale gate applied by the
// example hosts. Nothing in this module runs it implicitly; a host that wants
// the gate calls CheckCurrent (or Policy.Check) from main.
package eligibility

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

// Policy denies locales by region, or by language unless the region is
// exempt. Codes are ISO 3166 regions and ISO 639 languages, case-insensitive.
type Policy struct {
	DeniedRegions         []string
	DeniedLanguages       []string
	LanguageExemptRegions []string
}

// DefaultPolicy returns the sanctions rule set shipped with the example hosts.
func DefaultPolicy() Policy {
	return Policy{
		DeniedRegions:   []string{"RU", "BY"},
		DeniedLanguages: []string{"ru"},
		LanguageExemptRegions: []string{
			"UA", "US", "GB", "UK", "GE", "KZ", "DE", "PL", "LV", "LT",
			"EE", "MD", "AM", "AZ", "KG", "TJ", "TM", "UZ", "MN",
		},
	}
}

// DeniedError reports a locale rejected by a Policy.
type DeniedError struct {
	Locale string
	Reason string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("eligibility: locale %q denied: %s", e.Locale, e.Reason)
}

// ErrUndetermined is returned when no locale is configured.
var ErrUndetermined = errors.New("eligibility: locale undetermined")

// Check evaluates a BCP 47 tag ("ru-RU") or POSIX locale ("ru_RU.UTF-8").
// Only an explicit region is considered; a bare language never implies one.
func (p Policy) Check(locale string) error {
	tag, err := Parse(locale)
	if err != nil {
		return err
	}
	base, _ := tag.Base()
	lang := base.String()
	region := ""
	if r, conf := tag.Region(); conf == language.Exact {
		region = r.String()
	}

	if region != "" && contains(p.DeniedRegions, region) {
		return &DeniedError{Locale: locale, Reason: "region " + region}
	}
	if contains(p.DeniedLanguages, lang) {
		if region != "" && contains(p.LanguageExemptRegions, region) {
			return nil
		}
		return &DeniedError{Locale: locale, Reason: "language " + lang}
	}
	return nil
}

// Parse normalizes a POSIX locale name and parses it as a language tag.
// "C", "POSIX" and the empty string are undetermined.
func Parse(locale string) (language.Tag, error) {
	s := strings.TrimSpace(locale)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	switch s {
	case "", "C", "POSIX":
		return language.Und, ErrUndetermined
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return language.Und, fmt.Errorf("eligibility: parse locale %q: %w", locale, err)
	}
	return tag, nil
}

// CurrentLocale returns the first non-empty of LC_ALL, LC_MESSAGES and LANG.
func CurrentLocale() string {
	for _, k := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// CheckCurrent applies p to CurrentLocale. Undetermined or unparsable
// locales are allowed.
func (p Policy) CheckCurrent() error {
	err := p.Check(CurrentLocale())
	var denied *DeniedError
	if errors.As(err, &denied) {
		return err
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
