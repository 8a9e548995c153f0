package password

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Reason is the machine-readable code for a rejected candidate.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonTooShort         Reason = "too_short"
	ReasonTooLong          Reason = "too_long"
	ReasonMissingUppercase Reason = "missing_uppercase"
	ReasonMissingLowercase Reason = "missing_lowercase"
	ReasonMissingDigit     Reason = "missing_digit"
	ReasonMissingSpecial   Reason = "missing_special"
	ReasonForbiddenTerm    Reason = "forbidden_term"
	ReasonReused           Reason = "reused"
)

// ErrInvalidPolicy is returned by PolicyConfig.Validate.
var ErrInvalidPolicy = errors.New("password: invalid policy")

// PolicyConfig holds the rules evaluated by PolicyEngine.
type PolicyConfig struct {
	MinLength      int      `yaml:"min_length"`
	MaxLength      int      `yaml:"max_length"`
	ForbiddenTerms []string `yaml:"forbidden_terms"`
	HistoryDepth   int      `yaml:"history_depth"`
}

// DefaultPolicyConfig returns the healthcare baseline: 12..128 characters and
// the last five hashes retained.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MinLength: 12,
		MaxLength: 128,
		ForbiddenTerms: []string{
			"password", "passw0rd", "qwerty", "123456", "letmein", "welcome",
			"admin", "patient", "hospital", "clinic", "medical", "health",
		},
		HistoryDepth: 5,
	}
}

// Validate rejects inconsistent bounds.
func (c PolicyConfig) Validate() error {
	if c.MinLength < 1 || c.MaxLength < c.MinLength {
		return fmt.Errorf("%w: length bounds %d..%d", ErrInvalidPolicy, c.MinLength, c.MaxLength)
	}
	if c.HistoryDepth < 0 {
		return fmt.Errorf("%w: negative history depth", ErrInvalidPolicy)
	}
	return nil
}

// HistoryEntry is one retained password hash.
type HistoryEntry struct {
	Hash      string
	CreatedAt time.Time
}

// HistoryStore persists password history per principal. AppendPasswordHash
// must insert and prune to keep entries in one atomic unit.
type HistoryStore interface {
	RecentPasswordHashes(ctx context.Context, principalID string, limit int) ([]HistoryEntry, error)
	AppendPasswordHash(ctx context.Context, principalID string, entry HistoryEntry, keep int) error
}

// Result describes a validation outcome. Hash is set only when Accepted.
type Result struct {
	Accepted bool
	Reason   Reason
	Hash     string
	// HistoryUnavailable is set when the reuse rule was skipped because the
	// history lookup failed.
	HistoryUnavailable bool
}

// PolicyEngine validates candidate passwords and records accepted ones.
type PolicyEngine struct {
	cfg       PolicyConfig
	forbidden []string
	hasher    Hasher
	history   HistoryStore
	logger    *slog.Logger
	now       func() time.Time
}

// NewPolicyEngine returns an engine. history may be nil, in which case the
// reuse rule is never evaluated and nothing is recorded.
func NewPolicyEngine(cfg PolicyConfig, hasher Hasher, history HistoryStore, logger *slog.Logger, now func() time.Time) (*PolicyEngine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if hasher == nil {
		return nil, fmt.Errorf("%w: nil hasher", ErrInvalidPolicy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	forbidden := make([]string, 0, len(cfg.ForbiddenTerms))
	for _, term := range cfg.ForbiddenTerms {
		if t := strings.ToLower(strings.TrimSpace(term)); t != "" {
			forbidden = append(forbidden, t)
		}
	}
	return &PolicyEngine{
		cfg:       cfg,
		forbidden: forbidden,
		hasher:    hasher,
		history:   history,
		logger:    logger,
		now:       now,
	}, nil
}

// Validate runs the rules in order and reports the first failure. On
// acceptance the candidate is hashed and appended to the principal's history
// exactly once. The returned error is non-nil only when hashing fails.
func (e *PolicyEngine) Validate(ctx context.Context, principalID, candidate string) (Result, error) {
	if r := e.CheckLength(candidate); r != ReasonNone {
		return Result{Reason: r}, nil
	}
	if r := e.CheckComposition(candidate); r != ReasonNone {
		return Result{Reason: r}, nil
	}
	if r := e.CheckForbidden(candidate); r != ReasonNone {
		return Result{Reason: r}, nil
	}

	var res Result
	r, err := e.CheckReuse(ctx, principalID, candidate)
	switch {
	case err != nil:
		e.logger.WarnContext(ctx, "password history unavailable; reuse rule skipped",
			"principal_id", principalID, "error", err)
		res.HistoryUnavailable = true
	case r != ReasonNone:
		return Result{Reason: r}, nil
	}

	hash, err := e.hasher.Hash(candidate)
	if err != nil {
		return Result{}, err
	}
	res.Accepted = true
	res.Hash = hash

	if e.history != nil && e.cfg.HistoryDepth > 0 && principalID != "" {
		entry := HistoryEntry{Hash: hash, CreatedAt: e.now().UTC()}
		if err := e.history.AppendPasswordHash(ctx, principalID, entry, e.cfg.HistoryDepth); err != nil {
			e.logger.ErrorContext(ctx, "password history append failed",
				"principal_id", principalID, "error", err)
		}
	}
	return res, nil
}

// CheckLength enforces MinLength..MaxLength counted in characters.
func (e *PolicyEngine) CheckLength(candidate string) Reason {
	n := utf8.RuneCountInString(candidate)
	switch {
	case n < e.cfg.MinLength:
		return ReasonTooShort
	case n > e.cfg.MaxLength:
		return ReasonTooLong
	}
	return ReasonNone
}

// CheckComposition requires one each of upper, lower, digit and special.
func (e *PolicyEngine) CheckComposition(candidate string) Reason {
	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r) || r == ' ':
			special = true
		}
	}
	switch {
	case !upper:
		return ReasonMissingUppercase
	case !lower:
		return ReasonMissingLowercase
	case !digit:
		return ReasonMissingDigit
	case !special:
		return ReasonMissingSpecial
	}
	return ReasonNone
}

// CheckForbidden rejects candidates containing a forbidden term, ignoring case.
func (e *PolicyEngine) CheckForbidden(candidate string) Reason {
	lower := strings.ToLower(candidate)
	for _, term := range e.forbidden {
		if strings.Contains(lower, term) {
			return ReasonForbiddenTerm
		}
	}
	return ReasonNone
}

// CheckReuse compares candidate against the retained hashes by hash
// verification. A lookup error is returned as-is; the caller decides whether
// to fail open.
func (e *PolicyEngine) CheckReuse(ctx context.Context, principalID, candidate string) (Reason, error) {
	if e.history == nil || e.cfg.HistoryDepth == 0 || principalID == "" {
		return ReasonNone, nil
	}
	entries, err := e.history.RecentPasswordHashes(ctx, principalID, e.cfg.HistoryDepth)
	if err != nil {
		return ReasonNone, err
	}
	for i, entry := range entries {
		if i >= e.cfg.HistoryDepth {
			break
		}
		ok, err := e.hasher.Verify(candidate, entry.Hash)
		if err != nil {
			e.logger.WarnContext(ctx, "unreadable password history entry",
				"principal_id", principalID, "error", err)
			continue
		}
		if ok {
			return ReasonReused, nil
		}
	}
	return ReasonNone, nil
}

// HistoryDepth is the number of retained hashes.
func (e *PolicyEngine) HistoryDepth() int { return e.cfg.HistoryDepth }
