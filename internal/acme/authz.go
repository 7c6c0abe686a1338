package acme

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/blockadesystems/certforge/internal/model"
)

// authzMessage is the payload of a new-authz call.
type authzMessage struct {
	Resource   string           `json:"resource"`
	Identifier model.Identifier `json:"identifier"`
}

// challengeMessage triggers CA-side validation of one challenge.
type challengeMessage struct {
	Resource         string `json:"resource"`
	Type             string `json:"type"`
	KeyAuthorization string `json:"keyAuthorization"`
	Token            string `json:"token"`
}

// authorize walks one domain through the authorization state machine:
// request the authorization, publish the key authorization under the
// webroot, self-check it over plain HTTP, trigger CA validation, and poll
// until the authorization leaves "pending". Invalid or missing status is
// fatal immediately. The published token is withdrawn on every exit path.
func (c *Client) authorize(ctx context.Context, domain string) error {
	l := c.log.With(zap.String("domain", domain))
	l.Info("authorizing domain")

	resp, err := c.signer.Post(ctx, newAuthzPath, authzMessage{
		Resource:   "new-authz",
		Identifier: model.Identifier{Type: "dns", Value: domain},
	})
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return statusErr("new-authz", resp.StatusCode, resp.Body)
	}
	authzURL := resp.Location
	if authzURL == "" {
		return fmt.Errorf("%w: new-authz response carries no location", ErrProtocol)
	}

	var authz model.Authorization
	if err := json.Unmarshal(resp.Body, &authz); err != nil {
		return fmt.Errorf("%w: decoding authorization for %s: %w", ErrProtocol, domain, err)
	}

	ch := selectChallenge(authz.Challenges, c.cfg.ChallengeType)
	if ch == nil {
		return fmt.Errorf("%w: no %s challenge offered for %s", ErrProtocol, c.cfg.ChallengeType, domain)
	}
	l.Debug("challenge selected", zap.String("token", ch.Token), zap.String("uri", ch.URI))

	keyAuth, err := KeyAuthorization(ch.Token, &c.accountKey.PublicKey)
	if err != nil {
		return err
	}

	release, err := c.publisher.Publish(ctx, ch.Token, keyAuth)
	if err != nil {
		return err
	}
	defer release()

	if err := c.verifier.Verify(ctx, domain, ch.Token, keyAuth); err != nil {
		return err
	}
	l.Debug("self-check passed")

	resp, err = c.signer.Post(ctx, ch.URI, challengeMessage{
		Resource:         "challenge",
		Type:             ch.Type,
		KeyAuthorization: keyAuth,
		Token:            ch.Token,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusErr("challenge trigger", resp.StatusCode, resp.Body)
	}

	if err := c.pollAuthorization(ctx, l, authzURL); err != nil {
		return err
	}

	l.Info("domain authorized")
	return nil
}

// pollAuthorization polls the authorization resource until it leaves
// "pending". Only "invalid" or a missing status fails; any other status is
// terminal success.
func (c *Client) pollAuthorization(ctx context.Context, l *zap.Logger, authzURL string) error {
	return c.policy.Poll(ctx, func(ctx context.Context) (bool, error) {
		resp, err := c.transport.Get(ctx, authzURL)
		if err != nil {
			return false, err
		}

		var authz model.Authorization
		if err := json.Unmarshal(resp.Body, &authz); err != nil {
			return false, fmt.Errorf("%w: decoding authorization status: %w", ErrProtocol, err)
		}

		switch authz.Status {
		case "":
			return false, fmt.Errorf("%w: authorization response carries no status", ErrProtocol)
		case StatusInvalid:
			return false, fmt.Errorf("%w: authorization is invalid", ErrProtocol)
		case StatusPending:
			l.Debug("authorization still pending")
			return false, nil
		default:
			l.Debug("authorization settled", zap.String("status", authz.Status))
			return true, nil
		}
	})
}

// selectChallenge returns the first challenge of the wanted type, nil when
// none is offered.
func selectChallenge(challenges []model.Challenge, challengeType string) *model.Challenge {
	for i := range challenges {
		if challenges[i].Type == challengeType {
			return &challenges[i]
		}
	}
	return nil
}
