package media

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"github.com/bmatcuk/doublestar/v4"
)

var (
	// ErrInvalidHostPattern is returned for an allow-list entry that is not a
	// valid glob.
	ErrInvalidHostPattern = errors.New("invalid host pattern")

	// ErrInvalidSelector is returned for a malformed format selector.
	ErrInvalidSelector = errors.New("invalid format selector")
)

// URLPolicy validates source URLs. The zero value accepts any http(s) URL
// with a host.
//
// A URLPolicy is safe for concurrent use after creation.
type URLPolicy struct {
	hosts []string
}

// NewURLPolicy compiles host glob patterns such as "*.youtube.com" or
// "youtu.be". An empty list allows every host.
func NewURLPolicy(hostPatterns []string) (*URLPolicy, error) {
	p := &URLPolicy{}
	for _, raw := range hostPatterns {
		pat := strings.ToLower(strings.TrimSpace(raw))
		if pat == "" {
			continue
		}
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHostPattern, raw)
		}
		p.hosts = append(p.hosts, pat)
	}
	return p, nil
}

// Patterns returns the compiled allow-list.
func (p *URLPolicy) Patterns() []string {
	if p == nil {
		return nil
	}
	return append([]string(nil), p.hosts...)
}

// Check parses raw and returns the normalized URL, or an error wrapping
// ErrInvalidURL or ErrHostNotAllowed.
func (p *URLPolicy) Check(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if p != nil && len(p.hosts) > 0 && !p.hostAllowed(host) {
		return "", fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
	}
	return u.String(), nil
}

func (p *URLPolicy) hostAllowed(host string) bool {
	for _, pat := range p.hosts {
		if ok, _ := doublestar.Match(pat, host); ok {
			return true
		}
	}
	return false
}

// ValidateSelector checks a format selector such as "22", "137+140" or
// "bestvideo[height<=720]+bestaudio/best". Whitespace, control characters
// and shell-significant characters are rejected.
func ValidateSelector(sel string) error {
	if strings.TrimSpace(sel) == "" {
		return fmt.Errorf("%w: required", ErrInvalidSelector)
	}
	if len(sel) > 256 {
		return fmt.Errorf("%w: too long", ErrInvalidSelector)
	}
	for _, r := range sel {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidSelector)
		}
		if r > unicode.MaxASCII {
			return fmt.Errorf("%w: contains non-ASCII characters", ErrInvalidSelector)
		}
		if strings.ContainsRune("`$;&|\\'\"", r) {
			return fmt.Errorf("%w: contains %q", ErrInvalidSelector, r)
		}
	}
	if strings.HasPrefix(sel, "-") {
		return fmt.Errorf("%w: must not start with '-'", ErrInvalidSelector)
	}
	return nil
}

// IsCompoundSelector reports whether sel already expresses a merge or a
// fallback chain.
func IsCompoundSelector(sel string) bool {
	return strings.ContainsAny(sel, "+/")
}
