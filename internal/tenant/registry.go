package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"
	"github.com/newtechdevloper/FitStack-sub000/internal/logger"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenancy"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

var (
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrPlanNotFound        = errors.New("plan not found")
	ErrInvalidName         = errors.New("tenant name is required")
	ErrInvalidStatus       = errors.New("invalid tenant subscription status")
	ErrInvalidPlan         = errors.New("invalid plan")
	ErrInvalidDomain       = errors.New("invalid custom domain")
	ErrDomainNotSet        = errors.New("tenant has no custom domain")
	ErrDomainUnverified    = errors.New("domain verification record not found")
	ErrUnknownSubscription = errors.New("unknown external subscription")
	ErrUnsupportedProvider = errors.New("unsupported payment provider")
)

var validStatuses = map[string]bool{
	StatusTrialing: true,
	StatusActive:   true,
	StatusPastDue:  true,
	StatusCanceled: true,
}

// Registry manages tenants, their platform subscription and the plan catalog.
// Every table it touches is global.
type Registry struct {
	gw       *tenancy.Gateway
	verifier DomainVerifier
	now      func() time.Time
}

func NewRegistry(gw *tenancy.Gateway, verifier DomainVerifier) *Registry {
	if verifier == nil {
		verifier = NewDNSVerifier(nil)
	}
	return &Registry{gw: gw, verifier: verifier, now: func() time.Time { return time.Now().UTC() }}
}

// Register creates a tenant on planKey with a trialing subscription.
func (r *Registry) Register(ctx context.Context, name, planKey string) (*Overview, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	s := slug.Make(name)
	if s == "" {
		return nil, ErrInvalidName
	}

	id := ulid.Make().String()
	now := r.now()
	out := &Overview{Tenant: &Tenant{}, Subscription: &Subscription{}}

	err := r.gw.Global().InTx(ctx, func(tx *tenancy.Handle) error {
		if _, err := GetPlan(ctx, tx, planKey); err != nil {
			return err
		}

		taken, err := tx.Count(ctx, "tenants", tenancy.Where{"slug": s})
		if err != nil {
			return err
		}
		if taken > 0 {
			s = s + "-" + strings.ToLower(id[len(id)-6:])
		}

		err = tx.InsertReturning(ctx, out.Tenant, "tenants", tenancy.Values{
			"id":                id,
			"slug":              s,
			"name":              name,
			"plan_key":          planKey,
			"feature_overrides": pq.StringArray{},
		})
		if err != nil {
			return err
		}

		return tx.InsertReturning(ctx, out.Subscription, "tenant_subscriptions", tenancy.Values{
			"tenant_id":          id,
			"status":             StatusTrialing,
			"plan_key":           planKey,
			"current_period_end": now.AddDate(0, 0, TrialDays),
		})
	})
	if err != nil {
		return nil, err
	}

	logger.Info("tenant registered", "tenant_id", id, "slug", s, "plan_key", planKey)
	return out, nil
}

func (r *Registry) Get(ctx context.Context, tenantID string) (*Overview, error) {
	h := r.gw.Global()
	t, err := r.find(ctx, h, tenancy.Where{"id": tenantID})
	if err != nil {
		return nil, err
	}
	sub, err := GetSubscription(ctx, h, tenantID)
	if err != nil {
		return nil, err
	}
	return &Overview{Tenant: t, Subscription: sub}, nil
}

func (r *Registry) GetBySlug(ctx context.Context, s string) (*Tenant, error) {
	return r.find(ctx, r.gw.Global(), tenancy.Where{"slug": strings.ToLower(strings.TrimSpace(s))})
}

// SetFeatureOverrides replaces the tenant's feature overrides. Duplicates and
// blanks are dropped.
func (r *Registry) SetFeatureOverrides(ctx context.Context, tenantID string, features []string) (*Tenant, error) {
	seen := make(map[string]bool, len(features))
	clean := pq.StringArray{}
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		clean = append(clean, f)
	}
	return r.update(ctx, tenantID, tenancy.Values{"feature_overrides": clean})
}

// SetCustomDomain points a domain at the tenant. The domain stays unverified
// until VerifyDomain finds the TXT record.
func (r *Registry) SetCustomDomain(ctx context.Context, tenantID, domain string) (*Tenant, error) {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" || !strings.Contains(domain, ".") || strings.ContainsAny(domain, " /:") {
		return nil, ErrInvalidDomain
	}
	return r.update(ctx, tenantID, tenancy.Values{"custom_domain": domain, "domain_verified": false})
}

func (r *Registry) VerifyDomain(ctx context.Context, tenantID string) (*Tenant, error) {
	t, err := r.find(ctx, r.gw.Global(), tenancy.Where{"id": tenantID})
	if err != nil {
		return nil, err
	}
	if t.CustomDomain == nil || *t.CustomDomain == "" {
		return nil, ErrDomainNotSet
	}
	if t.DomainVerified {
		return t, nil
	}

	ok, err := r.verifier.Verify(ctx, *t.CustomDomain, VerificationToken(t.ID))
	if err != nil {
		return nil, fmt.Errorf("verify %s: %w", *t.CustomDomain, err)
	}
	if !ok {
		return nil, ErrDomainUnverified
	}
	return r.update(ctx, tenantID, tenancy.Values{"domain_verified": true})
}

// OverrideStatus sets the tenant subscription status by hand, bypassing the
// payment providers.
func (r *Registry) OverrideStatus(ctx context.Context, actorID, tenantID, status string) (*Subscription, error) {
	if !validStatuses[status] {
		return nil, ErrInvalidStatus
	}

	var sub Subscription
	err := r.gw.Global().UpdateReturning(ctx, &sub, "tenant_subscriptions",
		tenancy.Values{"status": status, "updated_at": r.now()},
		tenancy.Where{"tenant_id": tenantID},
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}

	logger.Security("tenant_status_override", map[string]interface{}{
		"actor_id":  actorID,
		"tenant_id": tenantID,
		"status":    status,
	})
	return &sub, nil
}

// UpsertPlan creates or replaces the catalog entry for key.
func (r *Registry) UpsertPlan(ctx context.Context, key string, req PlanRequest) (*Plan, error) {
	key = strings.TrimSpace(key)
	if key == "" || strings.TrimSpace(req.Name) == "" || req.PriceCents < 0 || req.MemberCapacity < 0 {
		return nil, ErrInvalidPlan
	}
	if req.FeePercentage.IsNegative() || req.FeePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return nil, ErrInvalidPlan
	}

	features := req.Features
	if features == nil {
		features = []string{}
	}
	body, err := json.Marshal(features)
	if err != nil {
		return nil, err
	}

	var plan Plan
	err = r.gw.Global().InsertReturning(ctx, &plan, "plans",
		tenancy.Values{
			"key":             key,
			"name":            strings.TrimSpace(req.Name),
			"member_capacity": req.MemberCapacity,
			"features":        types.JSONText(body),
			"fee_percentage":  req.FeePercentage,
			"price_cents":     req.PriceCents,
			"updated_at":      r.now(),
		},
		tenancy.OnConflictUpdate([]string{"key"}, "name", "member_capacity", "features", "fee_percentage", "price_cents", "updated_at"),
	)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *Registry) update(ctx context.Context, tenantID string, set tenancy.Values) (*Tenant, error) {
	set["updated_at"] = r.now()
	var t Tenant
	err := r.gw.Global().UpdateReturning(ctx, &t, "tenants", set, tenancy.Where{"id": tenantID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Registry) find(ctx context.Context, h *tenancy.Handle, where tenancy.Where) (*Tenant, error) {
	var t Tenant
	err := h.Get(ctx, &t, "tenants", where)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func GetPlan(ctx context.Context, h *tenancy.Handle, key string) (*Plan, error) {
	var plan Plan
	err := h.Get(ctx, &plan, "plans", tenancy.Where{"key": key})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func GetSubscription(ctx context.Context, h *tenancy.Handle, tenantID string) (*Subscription, error) {
	var sub Subscription
	err := h.Get(ctx, &sub, "tenant_subscriptions", tenancy.Where{"tenant_id": tenantID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}
