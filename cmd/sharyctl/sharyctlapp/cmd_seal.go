package sharyctlapp

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shary-app/sharycore/internal/keyfmt"
	"github.com/shary-app/sharycore/pkg/keys"
	"github.com/shary-app/sharycore/pkg/sealedbox"
)

// SealFlags are the flags shared by seal and open.
type SealFlags struct {
	PeerKey   string `long:"peer-key" description:"Peer X25519 public key (base64url). Use \"lookup\" to fetch it."`
	In        string `long:"in" description:"Input file, - for stdin." default:"-"`
	Out       string `long:"out" description:"Output file, - for stdout." default:"-"`
	Anonymous bool   `long:"anonymous" description:"Use an ephemeral sender key (HPKE); the recipient cannot tell who sealed it."`
	AD        string `long:"ad" description:"Associated data bound to the message, e.g. the field name."`
}

// SealCmd runs `sharyctl seal`.
type SealCmd struct {
	cfg *Config
	SealFlags
}

func (c *SealCmd) Execute(_ []string) error {
	if c.PeerKey == "" {
		return errors.New("--peer-key is required")
	}
	peer, err := keyfmt.Decode(c.PeerKey, keys.ExchangePublicKeySize)
	if err != nil {
		return fmt.Errorf("peer key: %w", err)
	}

	if c.Anonymous {
		plaintext, err := c.cfg.readInput(c.In)
		if err != nil {
			return err
		}
		defer keys.Wipe(plaintext)
		out, err := sealedbox.SealAnonymous(plaintext, peer, adBytes(c.AD))
		if err != nil {
			return err
		}
		return c.cfg.writeOutput(c.Out, out)
	}

	// The password is read before the input, which may share stdin.
	if err := c.cfg.checkPasswordSource(c.In); err != nil {
		return err
	}
	id, err := c.cfg.deriveIdentity()
	if err != nil {
		return err
	}
	defer id.Wipe()
	seed := id.KexSeed()
	defer keys.Wipe(seed)

	plaintext, err := c.cfg.readInput(c.In)
	if err != nil {
		return err
	}
	defer keys.Wipe(plaintext)

	msg, err := sealedbox.Seal(plaintext, seed, peer, adBytes(c.AD))
	if err != nil {
		return err
	}
	out, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return c.cfg.writeOutput(c.Out, out)
}

// OpenCmd runs `sharyctl open`.
type OpenCmd struct {
	cfg *Config
	SealFlags
}

func (c *OpenCmd) Execute(_ []string) error {
	var peer []byte
	if !c.Anonymous {
		if c.PeerKey == "" {
			return errors.New("--peer-key is required to authenticate the sender")
		}
		var err error
		if peer, err = keyfmt.Decode(c.PeerKey, keys.ExchangePublicKeySize); err != nil {
			return fmt.Errorf("peer key: %w", err)
		}
	}

	// The password is read before the input, which may share stdin.
	if err := c.cfg.checkPasswordSource(c.In); err != nil {
		return err
	}
	id, err := c.cfg.deriveIdentity()
	if err != nil {
		return err
	}
	defer id.Wipe()
	seed := id.KexSeed()
	defer keys.Wipe(seed)

	data, err := c.cfg.readInput(c.In)
	if err != nil {
		return err
	}

	var plaintext []byte
	if c.Anonymous {
		plaintext, err = sealedbox.OpenAnonymous(data, seed, adBytes(c.AD))
	} else {
		var msg sealedbox.Message
		if err := msg.UnmarshalBinary(data); err != nil {
			return err
		}
		plaintext, err = sealedbox.Open(&msg, seed, peer, adBytes(c.AD))
	}
	if err != nil {
		return err
	}
	defer keys.Wipe(plaintext)
	return c.cfg.writeOutput(c.Out, plaintext)
}

func adBytes(s string) []byte {
	if s == "" {
		return nil
	}
	return []byte(s)
}

func isStdio(path string) bool {
	return path == "" || path == "-"
}

func (c *Config) readInput(path string) ([]byte, error) {
	if isStdio(path) {
		return io.ReadAll(c.runtime.stdin)
	}
	return os.ReadFile(path)
}

func (c *Config) writeOutput(path string, data []byte) error {
	if isStdio(path) {
		_, err := c.runtime.stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
