// Package privacylog wraps a slog.Handler so that secrets never reach the
// log output and account names appear only as per-process fingerprints.
package privacylog

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Redacted replaces the value of any secret attribute.
const Redacted = "[REDACTED]"

// Attribute keys containing one of these parts are redacted.
var secretKeyParts = []string{
	"password", "passphrase", "secret", "seed", "token", "signature", "challenge", "private",
}

// Attribute keys naming an account are replaced by key_fp with a salted hash.
var fingerprintKeys = map[string]struct{}{
	"username": {},
	"user":     {},
	"email":    {},
}

// processSalt makes fingerprints unlinkable across daemon restarts.
var processSalt = newSalt()

// Handler redacts and fingerprints attributes before passing records on.
type Handler struct {
	next slog.Handler
}

// Wrap returns next behind a redacting Handler.
func Wrap(next slog.Handler) *Handler {
	return &Handler{next: next}
}

// NewLogger returns a text logger writing to w at level, with redaction.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(Wrap(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	rec.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(Sanitize(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = Sanitize(a)
	}
	return &Handler{next: h.next.WithAttrs(clean)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name)}
}

// Sanitize returns a copy of a that is safe to log. Groups are walked
// recursively.
func Sanitize(a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.TrimSpace(a.Key))
	if isSecret(key) {
		return slog.String(a.Key, Redacted)
	}
	if _, ok := fingerprintKeys[key]; ok {
		return slog.String(a.Key+"_fp", Fingerprint(a.Value.Resolve().String()))
	}

	v := a.Value.Resolve()
	if v.Kind() != slog.KindGroup {
		return slog.Attr{Key: a.Key, Value: v}
	}
	group := v.Group()
	clean := make([]slog.Attr, len(group))
	for i, g := range group {
		clean[i] = Sanitize(g)
	}
	return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
}

// Fingerprint returns a short salted hash of value, stable for the lifetime
// of the process.
func Fingerprint(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(processSalt + "|" + value))
	return "fp_" + hex.EncodeToString(sum[:8])
}

func isSecret(key string) bool {
	for _, part := range secretKeyParts {
		if strings.Contains(key, part) {
			return true
		}
	}
	return false
}

func newSalt() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(fmt.Sprintf("privacylog: salt: %v", err))
	}
	return hex.EncodeToString(buf[:])
}
