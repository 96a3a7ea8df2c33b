// Package mail connects a user's mailbox and makes its recent messages
// searchable for the assistant.
package mail

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
)

var (
	// ErrNotIntegrated means the user never connected a mailbox.
	ErrNotIntegrated = errors.New("mail not integrated")

	// ErrReauthRequired means the stored credential could not be refreshed
	// and the user has to go through the consent flow again.
	ErrReauthRequired = errors.New("mail reauthorization required")
)

// Email is one message as returned to clients and indexed for search.
type Email struct {
	ID       string   `json:"id"`
	ThreadID string   `json:"threadId"`
	Subject  string   `json:"subject"`
	From     string   `json:"from"`
	To       string   `json:"to"`
	Date     string   `json:"date"`
	Snippet  string   `json:"snippet"`
	Body     string   `json:"body"`
	Labels   []string `json:"labels"`
}

// Provider is a mailbox backend reached through OAuth.
type Provider interface {
	// AuthURL is the consent page the user is sent to.
	AuthURL(state string) string

	// Exchange trades an authorization code for a credential.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)

	// Profile returns the mailbox address tok belongs to.
	Profile(ctx context.Context, tok *oauth2.Token) (string, error)

	// Recent returns up to max inbox messages, newest first, along with the
	// credential actually used, which differs from tok after a refresh.
	Recent(ctx context.Context, tok *oauth2.Token, max int) ([]Email, *oauth2.Token, error)
}
