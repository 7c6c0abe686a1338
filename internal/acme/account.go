package acme

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"go.uber.org/zap"
)

// registrationMessage is the payload of a new-reg call.
type registrationMessage struct {
	Resource  string   `json:"resource"`
	Contact   []string `json:"contact,omitempty"`
	Agreement string   `json:"agreement,omitempty"`
}

// ensureAccount makes the account usable for signed calls. It is
// idempotent: an existing persisted key is loaded as-is and no
// registration is attempted; otherwise a fresh keypair is generated,
// persisted, and registered with the CA. Registration failure is fatal
// for the whole run.
func (c *Client) ensureAccount(ctx context.Context) error {
	if c.signer != nil {
		return nil
	}

	key, err := c.store.GetAccountKey(ctx)
	if err != nil {
		return err
	}
	if key != nil {
		c.log.Debug("account key loaded")
		c.accountKey = key
		c.signer = NewSigner(key, c.transport, c.log)
		return nil
	}

	c.log.Info("no account key found, generating one", zap.Int("bits", accountKeySize))
	key, err = rsa.GenerateKey(rand.Reader, accountKeySize)
	if err != nil {
		return fmt.Errorf("%w: generating account key: %w", ErrCrypto, err)
	}
	if err := c.store.SaveAccountKey(ctx, key); err != nil {
		return err
	}
	c.accountKey = key
	c.signer = NewSigner(key, c.transport, c.log)

	return c.register(ctx)
}

// register performs the new-reg call for a freshly generated account key,
// carrying the license agreement and any configured contacts.
func (c *Client) register(ctx context.Context) error {
	msg := registrationMessage{
		Resource:  "new-reg",
		Agreement: c.cfg.LicenseURL,
	}
	if len(c.cfg.Contacts) > 0 {
		msg.Contact = c.cfg.Contacts
	}

	resp, err := c.signer.Post(ctx, newRegPath, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusErr("registration", resp.StatusCode, resp.Body)
	}

	c.log.Info("account registered", zap.String("location", resp.Location))
	return nil
}
