package local

import (
	"context"
	"sync"

	auth "github.com/evprediag/go-station-auth"
)

// Client is the IdentityProvider of one browser context. Listeners are
// invoked while the client lock is held, so they must not call back into
// the client synchronously.
type Client struct {
	provider *Provider

	mu        sync.Mutex
	session   *auth.Session
	listeners map[int]auth.SessionListener
	nextID    int
}

var _ auth.IdentityProvider = (*Client)(nil)

func (c *Client) SignIn(ctx context.Context, email, password string) (*auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.provider.authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return c.establishLocked(account)
}

// SignUp returns a nil session when email confirmation is required.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	account, err := c.provider.createAccount(ctx, email, password, !c.provider.requireConfirmation, metadata)
	if err != nil {
		return nil, err
	}
	if !account.EmailConfirmed {
		return nil, nil
	}
	return c.establishLocked(account)
}

// SignOut revokes the session token, then clears the session. The session
// is cleared even when the revocation fails.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.session != nil {
		err = c.provider.Revoke(ctx, c.session)
	}
	c.clearLocked()
	return err
}

// GetSession returns the live session; an expired one is cleared first.
func (c *Client) GetSession(_ context.Context) (*auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	if c.session.IsExpired(c.provider.now()) {
		c.clearLocked()
		return nil, nil
	}
	cp := *c.session
	return &cp, nil
}

// Resume restores a session from a previously issued token.
func (c *Client) Resume(ctx context.Context, token string) (*auth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	session, err := c.provider.SessionFromToken(ctx, token)
	if err != nil {
		return nil, err
	}
	c.session = session
	c.notifyLocked(auth.SessionEvent{Kind: auth.SessionEstablished, Session: c.copyLocked()})
	return c.copyLocked(), nil
}

func (c *Client) OnChange(listener auth.SessionListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = listener

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) establishLocked(account *Account) (*auth.Session, error) {
	session, err := c.provider.issue(account)
	if err != nil {
		return nil, err
	}
	c.session = session
	c.notifyLocked(auth.SessionEvent{Kind: auth.SessionEstablished, Session: c.copyLocked()})
	return c.copyLocked(), nil
}

func (c *Client) clearLocked() {
	if c.session == nil {
		return
	}
	c.session = nil
	c.notifyLocked(auth.SessionEvent{Kind: auth.SessionCleared})
}

func (c *Client) notifyLocked(event auth.SessionEvent) {
	for _, l := range c.listeners {
		if l != nil {
			l(event)
		}
	}
}

func (c *Client) copyLocked() *auth.Session {
	if c.session == nil {
		return nil
	}
	cp := *c.session
	return &cp
}
