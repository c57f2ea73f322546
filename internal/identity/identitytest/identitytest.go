// Package identitytest provides in-memory identity providers for tests.
package identitytest

import (
	"context"
	"net/url"
	"sync"

	"gitea.jw6.us/james/gamereview/internal/identity"
)

// Client is a scriptable identity.Client. Notifications are only delivered
// when the test calls Emit; the *Func hooks override default behaviour.
type Client struct {
	mu           sync.Mutex
	subs         map[int]func(identity.Notification)
	order        []int
	next         int
	subscribes   int
	unsubscribes int
	calls        map[string]int

	CreateUserFunc    func(ctx context.Context, email, password string) (*identity.Identity, error)
	SignInFunc        func(ctx context.Context, email, password string) error
	FederatedFunc     func(ctx context.Context, profile identity.FederatedProfile) error
	SignOutFunc       func(ctx context.Context) error
	UpdateProfileFunc func(ctx context.Context, displayName, photoURL string) error
}

var _ identity.Client = (*Client)(nil)

func NewClient() *Client {
	return &Client{subs: make(map[int]func(identity.Notification)), calls: make(map[string]int)}
}

func (c *Client) record(name string) {
	c.mu.Lock()
	c.calls[name]++
	c.mu.Unlock()
}

// Calls returns how often the named method was invoked.
func (c *Client) Calls(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

// Subscriptions returns how many subscriptions were opened and released.
func (c *Client) Subscriptions() (opened, released int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubscribes
}

// Emit delivers n to every subscriber on the calling goroutine.
func (c *Client) Emit(n identity.Notification) {
	c.mu.Lock()
	fns := make([]func(identity.Notification), 0, len(c.order))
	for _, id := range c.order {
		fns = append(fns, c.subs[id])
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

// EmitAsync delivers n from a new goroutine and returns immediately.
func (c *Client) EmitAsync(n identity.Notification) {
	go c.Emit(n)
}

func (c *Client) CreateUser(ctx context.Context, email, password string) (*identity.Identity, error) {
	c.record("CreateUser")
	if c.CreateUserFunc != nil {
		return c.CreateUserFunc(ctx, email, password)
	}
	return &identity.Identity{ID: "new-user", Email: email}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) error {
	c.record("SignInWithPassword")
	if c.SignInFunc != nil {
		return c.SignInFunc(ctx, email, password)
	}
	return nil
}

func (c *Client) SignInWithFederated(ctx context.Context, profile identity.FederatedProfile) error {
	c.record("SignInWithFederated")
	if c.FederatedFunc != nil {
		return c.FederatedFunc(ctx, profile)
	}
	return nil
}

func (c *Client) SignOut(ctx context.Context) error {
	c.record("SignOut")
	if c.SignOutFunc != nil {
		return c.SignOutFunc(ctx)
	}
	return nil
}

func (c *Client) UpdateProfile(ctx context.Context, displayName, photoURL string) error {
	c.record("UpdateProfile")
	if c.UpdateProfileFunc != nil {
		return c.UpdateProfileFunc(ctx, displayName, photoURL)
	}
	return nil
}

func (c *Client) OnAuthStateChanged(fn func(identity.Notification)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	id := c.next
	c.subs[id] = fn
	c.order = append(c.order, id)
	c.subscribes++

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			delete(c.subs, id)
			for i, sid := range c.order {
				if sid == id {
					c.order = append(c.order[:i], c.order[i+1:]...)
					break
				}
			}
			c.unsubscribes++
		})
	}
}

// Provider hands out one Client per client id, created by New when set.
type Provider struct {
	mu      sync.Mutex
	clients map[string]*Client
	New     func(clientID string) *Client
}

var _ identity.Provider = (*Provider)(nil)

func (p *Provider) Client(clientID string, _ identity.ClientMeta) identity.Client {
	return p.ClientFor(clientID)
}

// ClientFor returns the fake client for clientID, creating it if needed.
func (p *Provider) ClientFor(clientID string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.clients == nil {
		p.clients = make(map[string]*Client)
	}
	c, ok := p.clients[clientID]
	if !ok {
		if p.New != nil {
			c = p.New(clientID)
		} else {
			c = NewClient()
		}
		p.clients[clientID] = c
	}
	return c
}

// Federation is a scriptable identity.Federation whose consent URL is
// https://idp.test/authorize with the state and nonce as query parameters.
type Federation struct {
	ExchangeFunc func(ctx context.Context, code, nonce string) (*identity.FederatedProfile, error)
}

var _ identity.Federation = (*Federation)(nil)

func (f *Federation) Name() string { return "TestIdP" }

func (f *Federation) AuthCodeURL(state, nonce string) string {
	q := url.Values{"state": {state}, "nonce": {nonce}}
	return "https://idp.test/authorize?" + q.Encode()
}

func (f *Federation) Exchange(ctx context.Context, code, nonce string) (*identity.FederatedProfile, error) {
	if f.ExchangeFunc != nil {
		return f.ExchangeFunc(ctx, code, nonce)
	}
	return &identity.FederatedProfile{Subject: "sub-" + code, Email: code + "@idp.test", EmailVerified: true}, nil
}
