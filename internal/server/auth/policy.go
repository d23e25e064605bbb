package auth

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dmitrijs2005/archivekeeper/internal/common"
)

// PasswordPolicy lists the strength rules new passwords must meet.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// Validate returns an error wrapping common.ErrWeakPassword that names
// every rule password breaks, or nil.
func (p PasswordPolicy) Validate(password string) error {
	var upper, lower, digit, symbol bool
	length := 0
	for _, r := range password {
		length++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	var problems []string
	if length < p.MinLength {
		problems = append(problems, fmt.Sprintf("at least %d characters", p.MinLength))
	}
	if p.RequireUpper && !upper {
		problems = append(problems, "an uppercase letter")
	}
	if p.RequireLower && !lower {
		problems = append(problems, "a lowercase letter")
	}
	if p.RequireDigit && !digit {
		problems = append(problems, "a digit")
	}
	if p.RequireSymbol && !symbol {
		problems = append(problems, "a symbol")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: needs %s", common.ErrWeakPassword, strings.Join(problems, ", "))
	}
	return nil
}
