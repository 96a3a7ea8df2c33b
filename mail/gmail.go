package mail

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// GmailConfig holds the OAuth client registration.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides the Gmail API base URL. Empty uses Google's.
	Endpoint string
	// TokenURL overrides the OAuth token endpoint. Empty uses Google's.
	TokenURL string
}

// Gmail is a Provider backed by the Gmail API.
type Gmail struct {
	oauth    *oauth2.Config
	endpoint string
}

// NewGmail creates a Gmail provider.
func NewGmail(cfg GmailConfig) (*Gmail, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("gmail client id and secret are required")
	}

	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	return &Gmail{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{gmail.GmailReadonlyScope},
		},
		endpoint: cfg.Endpoint,
	}, nil
}

// AuthURL requests offline access and forces the consent screen so a
// refresh token is always issued.
func (g *Gmail) AuthURL(state string) string {
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades code for a token.
func (g *Gmail) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	return tok, nil
}

// Profile returns the authenticated mailbox address.
func (g *Gmail) Profile(ctx context.Context, tok *oauth2.Token) (string, error) {
	svc, _, err := g.service(ctx, tok)
	if err != nil {
		return "", err
	}
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("get gmail profile: %w", err)
	}
	return profile.EmailAddress, nil
}

// Recent lists inbox messages and fetches each in full.
func (g *Gmail) Recent(ctx context.Context, tok *oauth2.Token, max int) ([]Email, *oauth2.Token, error) {
	svc, current, err := g.service(ctx, tok)
	if err != nil {
		return nil, nil, err
	}

	list, err := svc.Users.Messages.List("me").Q("in:inbox").MaxResults(int64(max)).Context(ctx).Do()
	if err != nil {
		return nil, nil, fmt.Errorf("list gmail messages: %w", err)
	}

	emails := make([]Email, 0, len(list.Messages))
	for _, ref := range list.Messages {
		msg, err := svc.Users.Messages.Get("me", ref.Id).Format("full").Context(ctx).Do()
		if err != nil {
			return nil, nil, fmt.Errorf("get gmail message %s: %w", ref.Id, err)
		}
		emails = append(emails, parseMessage(msg))
	}
	return emails, current, nil
}

// service resolves a valid access token, refreshing it when expired, and
// builds an API client bound to it.
func (g *Gmail) service(ctx context.Context, tok *oauth2.Token) (*gmail.Service, *oauth2.Token, error) {
	current, err := g.oauth.TokenSource(ctx, tok).Token()
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) || tok.RefreshToken == "" {
			log.Printf("[GMAIL] Token refresh failed: %v", err)
			return nil, nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return nil, nil, fmt.Errorf("refresh gmail token: %w", err)
	}

	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.StaticTokenSource(current)))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("create gmail client: %w", err)
	}
	return svc, current, nil
}

func parseMessage(msg *gmail.Message) Email {
	email := Email{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		Snippet:  msg.Snippet,
		Labels:   msg.LabelIds,
	}
	if email.Labels == nil {
		email.Labels = []string{}
	}
	if msg.Payload == nil {
		return email
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			email.Subject = h.Value
		case "From":
			email.From = h.Value
		case "To":
			email.To = h.Value
		case "Date":
			email.Date = h.Value
		}
	}

	if len(msg.Payload.Parts) > 0 {
		email.Body = plainText(msg.Payload.Parts)
	} else if msg.Payload.Body != nil {
		email.Body = decodeBody(msg.Payload.Body.Data)
	}
	return email
}

// plainText concatenates every text/plain part, depth first.
func plainText(parts []*gmail.MessagePart) string {
	var b strings.Builder
	for _, part := range parts {
		switch {
		case part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "":
			b.WriteString(decodeBody(part.Body.Data))
		case len(part.Parts) > 0:
			b.WriteString(plainText(part.Parts))
		}
	}
	return b.String()
}

func decodeBody(data string) string {
	raw, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "="))
		if err != nil {
			return ""
		}
	}
	return string(raw)
}
