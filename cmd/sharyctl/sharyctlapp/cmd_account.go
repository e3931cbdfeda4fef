package sharyctlapp

import (
	"errors"
	"fmt"

	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/shary-app/sharycore/pkg/auth"
)

// RegisterCmd runs `sharyctl register`.
type RegisterCmd struct {
	cfg   *Config
	Email string `long:"email" description:"Contact email stored with the account."`
}

func (c *RegisterCmd) Execute(_ []string) error {
	fl, err := c.cfg.flow()
	if err != nil {
		return err
	}
	creds, err := c.cfg.credentials()
	if err != nil {
		return err
	}
	defer creds.Wipe()

	pub, err := fl.Register(c.cfg.runtime.ctx, creds, c.Email)
	if errors.Is(err, auth.ErrRegistrationRejected) {
		return fmt.Errorf("username %q is taken", c.cfg.Username)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.cfg.runtime.stdout, "Registered %s as %s.\n", c.cfg.Username, pub.ID())
	return nil
}

// LoginCmd runs `sharyctl login`.
type LoginCmd struct {
	cfg *Config
}

func (c *LoginCmd) Execute(_ []string) error {
	fl, err := c.cfg.flow()
	if err != nil {
		return err
	}
	creds, err := c.cfg.credentials()
	if err != nil {
		return err
	}
	defer creds.Wipe()

	sess, err := fl.Login(c.cfg.runtime.ctx, creds)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Fprintf(c.cfg.runtime.stdout, "Logged in as %s (%s).\n", sess.Username, sess.Identity.ID())
	return nil
}

// LookupCmd runs `sharyctl lookup`.
type LookupCmd struct {
	cfg  *Config
	Args struct {
		User string `positional-arg-name:"user" required:"true"`
	} `positional-args:"yes"`
}

func (c *LookupCmd) Execute(_ []string) error {
	client, err := c.cfg.client()
	if err != nil {
		return err
	}
	key, err := client.GetPublicKey(c.cfg.runtime.ctx, c.Args.User)
	if errors.Is(err, auth.ErrUnknownUser) {
		return fmt.Errorf("no such user %q", c.Args.User)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(c.cfg.runtime.stdout, keyfmt.Encode(key))
	return nil
}

func (c *Config) flow() (*auth.Flow, error) {
	client, err := c.client()
	if err != nil {
		return nil, err
	}
	return auth.NewFlow(client,
		auth.WithFactory(c.factory()),
		auth.WithLogger(c.runtime.logger),
	), nil
}
