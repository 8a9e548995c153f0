package tenant

import (
	"path"
	"strings"
)

// AdminIdentityPolicy decides whether a principal is a platform-wide
// administrator. A match on any list is sufficient.
type AdminIdentityPolicy struct {
	PrincipalIDs []string `yaml:"principal_ids"`
	Emails       []string `yaml:"emails"`
	// EmailPatterns are path.Match globs evaluated against the lowercased
	// email, for example "*@ops.example.org".
	EmailPatterns []string `yaml:"email_patterns"`
}

// Matches reports whether the identity is allow-listed.
func (p AdminIdentityPolicy) Matches(principalID, email string) bool {
	for _, id := range p.PrincipalIDs {
		if id != "" && id == principalID {
			return true
		}
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, e := range p.Emails {
		if strings.ToLower(strings.TrimSpace(e)) == email {
			return true
		}
	}
	for _, pattern := range p.EmailPatterns {
		if ok, err := path.Match(strings.ToLower(pattern), email); err == nil && ok {
			return true
		}
	}
	return false
}

// Validate reports the first malformed pattern.
func (p AdminIdentityPolicy) Validate() error {
	for _, pattern := range p.EmailPatterns {
		if _, err := path.Match(pattern, ""); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the policy can never match.
func (p AdminIdentityPolicy) Empty() bool {
	return len(p.PrincipalIDs) == 0 && len(p.Emails) == 0 && len(p.EmailPatterns) == 0
}
