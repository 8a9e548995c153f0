package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrNoCredential is returned when no configured carrier key holds a value.
	ErrNoCredential = errors.New("session: no credential presented")
	// ErrInvalidCarrier is returned for a malformed or badly signed value.
	ErrInvalidCarrier = errors.New("session: invalid credential")
)

// Carrier is a key/value view of an inbound request: cookies, headers or
// RPC metadata.
type Carrier interface {
	Get(key string) string
}

// MapCarrier is a Carrier backed by a map.
type MapCarrier map[string]string

// Get returns the value for key.
func (m MapCarrier) Get(key string) string { return m[key] }

// AuthorizationKey is the carrier key holding an HTTP Authorization header.
const AuthorizationKey = "authorization"

// DefaultCarrierKeys lists the accepted keys in lookup order. The cookie
// names cover tokens issued by earlier deployments.
var DefaultCarrierKeys = []string{
	"authcore.session_token",
	"__Secure-authcore.session_token",
	"session_token",
	AuthorizationKey,
}

// BearerVerifier resolves a signed bearer (JWT) to a session ID.
type BearerVerifier interface {
	SessionIDFromBearer(raw string) (string, error)
}

// ExtractorConfig configures an Extractor.
type ExtractorConfig struct {
	Keys      []string
	Separator string
	// SigningKey, when set, requires values to carry an HMAC-SHA256 suffix
	// after Separator.
	SigningKey []byte
	Bearer     BearerVerifier
}

// Extractor turns a Carrier into a session ID.
type Extractor struct {
	keys   []string
	sep    string
	key    []byte
	bearer BearerVerifier
}

// NewExtractor applies defaults for empty Keys and Separator.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	keys := cfg.Keys
	if len(keys) == 0 {
		keys = DefaultCarrierKeys
	}
	sep := cfg.Separator
	if sep == "" {
		sep = "."
	}
	return &Extractor{keys: append([]string(nil), keys...), sep: sep, key: cfg.SigningKey, bearer: cfg.Bearer}
}

// Extract returns the storage ID of the presented session. The first
// non-empty carrier key wins; later keys are not consulted.
func (x *Extractor) Extract(c Carrier) (string, error) {
	id, _, err := x.extract(c)
	return id, err
}

// Verified returns the session ID only when the carrier value proved it was
// issued by this deployment: an HMAC-signed value or a verified bearer.
// Unsigned values yield false even when well formed.
func (x *Extractor) Verified(c Carrier) (string, bool) {
	id, verified, err := x.extract(c)
	if err != nil || !verified {
		return "", false
	}
	return id, true
}

func (x *Extractor) extract(c Carrier) (string, bool, error) {
	if c == nil {
		return "", false, ErrNoCredential
	}
	for _, k := range x.keys {
		v := strings.TrimSpace(c.Get(k))
		if v == "" {
			continue
		}
		if strings.EqualFold(k, AuthorizationKey) {
			return x.fromAuthorization(v)
		}
		return x.fromValue(v)
	}
	return "", false, ErrNoCredential
}

func (x *Extractor) fromAuthorization(v string) (string, bool, error) {
	scheme, raw, ok := strings.Cut(v, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false, ErrInvalidCarrier
	}
	raw = strings.TrimSpace(raw)
	if x.bearer != nil && strings.Count(raw, ".") == 2 {
		sid, err := x.bearer.SessionIDFromBearer(raw)
		if err != nil {
			return "", false, ErrInvalidCarrier
		}
		return sid, true, nil
	}
	return x.fromValue(raw)
}

func (x *Extractor) fromValue(v string) (string, bool, error) {
	token, sig, signed := strings.Cut(v, x.sep)
	if token == "" {
		return "", false, ErrInvalidCarrier
	}
	if len(x.key) > 0 {
		if !signed || !hmac.Equal([]byte(sig), []byte(x.signature(token))) {
			return "", false, ErrInvalidCarrier
		}
		return TokenID(token), true, nil
	}
	return TokenID(token), false, nil
}

// Sign renders token in the carrier format: token, or token+sep+mac when a
// signing key is configured.
func (x *Extractor) Sign(token string) string {
	if len(x.key) == 0 {
		return token
	}
	return token + x.sep + x.signature(token)
}

func (x *Extractor) signature(token string) string {
	mac := hmac.New(sha256.New, x.key)
	_, _ = mac.Write([]byte(token))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
