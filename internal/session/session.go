package session

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one exchange in a justification conversation. The image, when
// present, is an inline data URL carried verbatim to the oracle.
type Turn struct {
	Role  Role
	Text  string
	Image string
}

// Session is one ongoing conversation with a client. All mutation goes
// through the Store; fields are snapshots at resolve time.
type Session struct {
	ID             string
	LinkAddr       string
	SourceAddr     string
	Clarifications int
	CreatedAt      time.Time
	LastActive     time.Time
}

// NewID derives a fresh opaque session token from the client identity,
// source address, current time and random bytes. Tokens are never reused.
func NewID(linkAddr, sourceAddr string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	seed := fmt.Sprintf("%s:%s:%d:%s", linkAddr, sourceAddr, time.Now().UnixNano(), hex.EncodeToString(buf))
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:32]
}
