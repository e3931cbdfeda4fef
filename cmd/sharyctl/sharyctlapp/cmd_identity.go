package sharyctlapp

import (
	"fmt"

	"github.com/shary-app/sharycore/internal/keyfmt"
)

// IdentityCmd runs `sharyctl identity`.
type IdentityCmd struct {
	cfg *Config
}

func (c *IdentityCmd) Execute(_ []string) error {
	id, err := c.cfg.deriveIdentity()
	if err != nil {
		return err
	}
	defer id.Wipe()

	pub := id.Public()
	out := c.cfg.runtime.stdout
	fmt.Fprintf(out, "id:          %s\n", pub.ID())
	fmt.Fprintf(out, "sign key:    %s\n", keyfmt.Encode(pub.SignPublicKey[:]))
	fmt.Fprintf(out, "kex key:     %s\n", keyfmt.Encode(pub.KexPublicKey[:]))
	fmt.Fprintf(out, "fingerprint: %s\n", pub.Fingerprint())
	return nil
}
