// internal/discovery/scope.go
package discovery

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// ScopeManager decides whether a URL belongs to the site under test.
type ScopeManager interface {
	IsInScope(u *url.URL) bool
	GetRootDomain() string
}

// BasicScopeManager scopes exploration to the seed's registrable domain.
type BasicScopeManager struct {
	rootDomain        string
	seedHost          string
	includeSubdomains bool
	// exactHost is set for IP and single label hosts (localhost), which have no eTLD+1.
	exactHost bool
}

var _ ScopeManager = (*BasicScopeManager)(nil)

// NewBasicScopeManager initializes a scope based on the seed URL.
func NewBasicScopeManager(initialURL string, includeSubdomains bool) (*BasicScopeManager, error) {
	u, err := url.Parse(initialURL)
	if err != nil {
		return nil, err
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return nil, fmt.Errorf("initial URL must have a hostname: %s", initialURL)
	}

	if net.ParseIP(hostname) != nil || !strings.Contains(hostname, ".") {
		return &BasicScopeManager{rootDomain: hostname, seedHost: hostname, exactHost: true}, nil
	}

	// The public suffix list handles domains like example.co.uk.
	domain, err := publicsuffix.EffectiveTLDPlusOne(hostname)
	if err != nil {
		return nil, fmt.Errorf("could not determine effective TLD+1 for %s: %w", hostname, err)
	}

	return &BasicScopeManager{
		rootDomain:        domain,
		seedHost:          hostname,
		includeSubdomains: includeSubdomains,
	}, nil
}

// IsInScope reports whether u is on the seed host or the root domain, or one of
// its other subdomains when enabled. A www. prefix is always treated as the root
// domain itself.
func (s *BasicScopeManager) IsInScope(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if host == s.seedHost || host == s.rootDomain {
		return true
	}
	if s.exactHost {
		return false
	}
	if host == "www."+s.rootDomain {
		return true
	}
	// The leading dot keeps notexample.com from matching example.com.
	return s.includeSubdomains && strings.HasSuffix(host, "."+s.rootDomain)
}

// GetRootDomain returns the host or eTLD+1 defining the scope.
func (s *BasicScopeManager) GetRootDomain() string {
	return s.rootDomain
}
