// Package credential obtains and caches OAuth2 access tokens per tenant
// using the JWT-bearer grant, and refreshes them shortly before expiry.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bankbridge/internal/domain/tenant"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const (
	GrantJWTBearer       = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	GrantRefreshToken    = "refresh_token"
	ClientAssertionType  = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"
	AssertionTTL         = 300 * time.Second
	defaultExpiresIn     = int64(40 * 60)
	refreshTimeout       = 30 * time.Second
	maxTokenResponseSize = 1 << 20
)

var (
	credTracer       = otel.Tracer("bankbridge/credential")
	credMeter        = otel.Meter("bankbridge/credential")
	tokenExchange, _ = credMeter.Int64Counter("credential.token.exchange.total",
		metric.WithDescription("Token endpoint requests by grant and status"))
)

type timerHandle interface {
	Stop() bool
}

func realAfterFunc(d time.Duration, f func()) timerHandle {
	return time.AfterFunc(d, f)
}

type tenantState struct {
	state      State
	timer      timerHandle
	lastError  string
	generation uint64
}

// Config configures the token endpoint a Manager talks to.
type Config struct {
	TokenURL   string
	Audience   string
	HTTPClient *http.Client
}

// Manager owns the token lifecycle for every registered tenant. Tenants are
// independent: one tenant's failure never touches another's entry.
type Manager struct {
	registry   *tenant.Registry
	tokens     TokenStore
	httpClient *http.Client
	tokenURL   string
	audience   string

	now       func() time.Time
	afterFunc func(time.Duration, func()) timerHandle

	group singleflight.Group

	mu     sync.Mutex
	states map[string]*tenantState
	closed bool
}

func NewManager(registry *tenant.Registry, tokens TokenStore, cfg Config) *Manager {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Manager{
		registry:   registry,
		tokens:     tokens,
		httpClient: httpClient,
		tokenURL:   cfg.TokenURL,
		audience:   cfg.Audience,
		now:        time.Now,
		afterFunc:  realAfterFunc,
		states:     make(map[string]*tenantState),
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

// GetValidToken returns an access token valid at call time, authenticating
// if the cache holds none. Concurrent callers for one tenant share a single
// token request.
func (m *Manager) GetValidToken(ctx context.Context, tenantID string) (string, error) {
	tenantID = tenant.NormalizeID(tenantID)
	if _, ok := m.registry.Get(tenantID); !ok {
		return "", &CredentialError{TenantID: tenantID, Err: ErrUnknownTenant}
	}

	if rec := m.cached(ctx, tenantID); rec != nil {
		return rec.AccessToken, nil
	}

	v, err, _ := m.group.Do(tenantID, func() (any, error) {
		if rec := m.cached(ctx, tenantID); rec != nil {
			return rec, nil
		}
		rec, err := m.authenticate(ctx, tenantID)
		if err != nil {
			m.clear(tenantID, err)
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*TokenRecord).AccessToken, nil
}

// ExchangeToken trades a signed assertion for an access token, stores it
// and schedules its refresh.
func (m *Manager) ExchangeToken(ctx context.Context, assertion, tenantID string) (*TokenRecord, error) {
	tenantID = tenant.NormalizeID(tenantID)
	cred, ok := m.registry.Get(tenantID)
	if !ok {
		return nil, &CredentialError{TenantID: tenantID, Err: ErrUnknownTenant}
	}

	form := url.Values{
		"grant_type": {GrantJWTBearer},
		"assertion":  {assertion},
		"client_id":  {cred.ClientID},
	}

	rec, err := m.requestToken(ctx, tenantID, "jwt_bearer", form)
	if err != nil {
		return nil, err
	}
	m.save(ctx, rec)
	log.Printf("Credential manager: obtained token for tenant %s (expires in %ds)", tenantID, rec.ExpiresIn)
	return rec, nil
}

// ForceRefresh refreshes a tenant's token now, regardless of its expiry.
func (m *Manager) ForceRefresh(ctx context.Context, tenantID string) error {
	tenantID = tenant.NormalizeID(tenantID)
	if _, ok := m.registry.Get(tenantID); !ok {
		return &CredentialError{TenantID: tenantID, Err: ErrUnknownTenant}
	}

	m.mu.Lock()
	st := m.stateFor(tenantID)
	if st.state == StateValid {
		st.state = StateRefreshing
	}
	m.mu.Unlock()

	_, err := m.refresh(ctx, tenantID)
	return err
}

// Invalidate drops a tenant's cached token, e.g. after the API rejected it.
func (m *Manager) Invalidate(tenantID string) {
	tenantID = tenant.NormalizeID(tenantID)
	m.clear(tenantID, nil)
	log.Printf("Credential manager: invalidated token for tenant %s", tenantID)
}

// Status reports the token state of one tenant without exposing secrets.
func (m *Manager) Status(ctx context.Context, tenantID string) TokenStatus {
	tenantID = tenant.NormalizeID(tenantID)
	status := TokenStatus{TenantID: tenantID, State: StateAbsent}

	rec, err := m.tokens.Get(ctx, tenantID)
	if err != nil {
		log.Printf("Credential manager: failed to read token for tenant %s: %v", tenantID, err)
	}

	m.mu.Lock()
	if st, ok := m.states[tenantID]; ok {
		status.State = st.state
		status.LastError = st.lastError
		status.RefreshScheduled = st.timer != nil
	}
	m.mu.Unlock()

	if rec == nil {
		status.State = StateAbsent
		return status
	}

	now := m.now()
	obtained := rec.ObtainedAt
	expires := rec.ExpiresAt()
	status.HasToken = rec.AccessToken != ""
	status.HasRefreshToken = rec.RefreshToken != ""
	status.ObtainedAt = &obtained
	status.ExpiresAt = &expires
	if remaining := expires.Sub(now); remaining > 0 {
		status.ExpiresInSeconds = int64(remaining / time.Second)
	}

	switch {
	case status.State == StateRefreshing:
	case !rec.ValidAt(now):
		status.State = StateInvalid
	default:
		status.State = StateValid
	}
	return status
}

// Statuses reports every registered tenant, in registry order.
func (m *Manager) Statuses(ctx context.Context) []TokenStatus {
	ids := m.registry.IDs()
	out := make([]TokenStatus, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.Status(ctx, id))
	}
	return out
}

// Shutdown stops every pending refresh timer. Tokens stay cached.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	for _, st := range m.states {
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
	}
	log.Println("Credential manager: refresh timers stopped")
}

// cached returns the stored token when it is still valid. A valid token
// found without local state (loaded from persistent storage) is adopted so
// its refresh gets scheduled.
func (m *Manager) cached(ctx context.Context, tenantID string) *TokenRecord {
	rec, err := m.tokens.Get(ctx, tenantID)
	if err != nil {
		log.Printf("Credential manager: failed to read token for tenant %s: %v", tenantID, err)
		return nil
	}
	if !rec.ValidAt(m.now()) {
		return nil
	}

	m.mu.Lock()
	_, known := m.states[tenantID]
	m.mu.Unlock()
	if !known {
		m.markValid(tenantID, rec)
	}
	return rec
}

func (m *Manager) authenticate(ctx context.Context, tenantID string) (*TokenRecord, error) {
	assertion, err := m.GenerateAssertion(tenantID)
	if err != nil {
		return nil, err
	}
	return m.ExchangeToken(ctx, assertion, tenantID)
}

func (m *Manager) refresh(ctx context.Context, tenantID string) (*TokenRecord, error) {
	v, err, _ := m.group.Do(tenantID, func() (any, error) {
		rec, err := m.doRefresh(ctx, tenantID)
		if err != nil {
			m.clear(tenantID, err)
			return nil, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TokenRecord), nil
}

// doRefresh uses the refresh_token grant when a refresh token is held and
// falls back to a fresh JWT-bearer exchange otherwise.
func (m *Manager) doRefresh(ctx context.Context, tenantID string) (*TokenRecord, error) {
	prev, err := m.tokens.Get(ctx, tenantID)
	if err != nil {
		log.Printf("Credential manager: failed to read token for tenant %s: %v", tenantID, err)
	}
	if prev == nil || prev.RefreshToken == "" {
		return m.authenticate(ctx, tenantID)
	}

	cred, _ := m.registry.Get(tenantID)
	assertion, err := m.GenerateAssertion(tenantID)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"grant_type":            {GrantRefreshToken},
		"refresh_token":         {prev.RefreshToken},
		"client_id":             {cred.ClientID},
		"client_assertion_type": {ClientAssertionType},
		"client_assertion":      {assertion},
	}

	rec, err := m.requestToken(ctx, tenantID, GrantRefreshToken, form)
	if err != nil {
		return nil, err
	}
	if rec.RefreshToken == "" {
		rec.RefreshToken = prev.RefreshToken
	}
	m.save(ctx, rec)
	log.Printf("Credential manager: refreshed token for tenant %s (expires in %ds)", tenantID, rec.ExpiresIn)
	return rec, nil
}

func (m *Manager) requestToken(ctx context.Context, tenantID, grant string, form url.Values) (*TokenRecord, error) {
	ctx, span := credTracer.Start(ctx, "credential.token_request", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("oauth.grant", grant),
	))
	defer span.End()

	fail := func(err *AuthError) (*TokenRecord, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		tokenExchange.Add(ctx, 1, metric.WithAttributes(
			attribute.String("grant", grant),
			attribute.String("status", "error"),
		))
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fail(&AuthError{TenantID: tenantID, Grant: grant, Err: fmt.Errorf("failed to create request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fail(&AuthError{TenantID: tenantID, Grant: grant, Err: err})
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return fail(&AuthError{TenantID: tenantID, Grant: grant, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)})
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(&AuthError{TenantID: tenantID, Grant: grant, StatusCode: resp.StatusCode, Body: truncate(string(body), 512)})
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return fail(&AuthError{TenantID: tenantID, Grant: grant, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode token response: %w", err)})
	}
	if tr.AccessToken == "" {
		return fail(&AuthError{TenantID: tenantID, Grant: grant, StatusCode: resp.StatusCode, Err: errors.New("token response has no access_token")})
	}

	expiresIn := tr.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}

	tokenExchange.Add(ctx, 1, metric.WithAttributes(
		attribute.String("grant", grant),
		attribute.String("status", "success"),
	))

	return &TokenRecord{
		TenantID:     tenantID,
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    expiresIn,
		ObtainedAt:   m.now(),
	}, nil
}

func (m *Manager) save(ctx context.Context, rec *TokenRecord) {
	if err := m.tokens.Put(ctx, rec); err != nil {
		log.Printf("Credential manager: failed to persist token for tenant %s: %v", rec.TenantID, err)
	}
	m.markValid(rec.TenantID, rec)
}

// markValid moves a tenant to valid and (re)arms its refresh timer. No timer
// is armed when the token has RefreshLead or less left to live.
func (m *Manager) markValid(tenantID string, rec *TokenRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(tenantID)
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.generation++
	st.state = StateValid
	st.lastError = ""

	if m.closed {
		return
	}

	delay := rec.ExpiresAt().Sub(m.now()) - RefreshLead
	if delay <= 0 {
		return
	}
	gen := st.generation
	st.timer = m.afterFunc(delay, func() { m.onRefreshTimer(tenantID, gen) })
}

func (m *Manager) onRefreshTimer(tenantID string, gen uint64) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Credential manager: refresh for tenant %s panicked: %v", tenantID, r)
			m.clear(tenantID, fmt.Errorf("refresh panicked: %v", r))
		}
	}()

	m.mu.Lock()
	st, ok := m.states[tenantID]
	if m.closed || !ok || st.generation != gen || st.state != StateValid {
		m.mu.Unlock()
		return
	}
	st.state = StateRefreshing
	st.timer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if _, err := m.refresh(ctx, tenantID); err != nil {
		log.Printf("Credential manager: scheduled refresh failed for tenant %s: %v", tenantID, err)
	}
}

// clear removes the cached token and any timer; the tenant returns to
// absent and re-authenticates on next use.
func (m *Manager) clear(tenantID string, cause error) {
	if err := m.tokens.Delete(context.Background(), tenantID); err != nil {
		log.Printf("Credential manager: failed to delete token for tenant %s: %v", tenantID, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(tenantID)
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.generation++
	st.state = StateAbsent
	if cause != nil {
		st.lastError = cause.Error()
	}
}

// stateFor must be called with m.mu held.
func (m *Manager) stateFor(tenantID string) *tenantState {
	st, ok := m.states[tenantID]
	if !ok {
		st = &tenantState{state: StateAbsent}
		m.states[tenantID] = st
	}
	return st
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
