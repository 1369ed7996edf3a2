package tenant

import (
	"context"
	"errors"
	"net"
	"strings"
)

type DomainVerifier interface {
	Verify(ctx context.Context, domain, token string) (bool, error)
}

// VerificationToken is the TXT value a tenant publishes under
// _fitstack.<domain> to prove ownership.
func VerificationToken(tenantID string) string {
	return "fitstack-verify=" + strings.ToLower(tenantID)
}

type txtResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

type DNSVerifier struct {
	resolver txtResolver
}

func NewDNSVerifier(resolver *net.Resolver) *DNSVerifier {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &DNSVerifier{resolver: resolver}
}

func (v *DNSVerifier) Verify(ctx context.Context, domain, token string) (bool, error) {
	records, err := v.resolver.LookupTXT(ctx, "_fitstack."+domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return false, nil
		}
		return false, err
	}
	for _, r := range records {
		if strings.TrimSpace(r) == token {
			return true, nil
		}
	}
	return false, nil
}
