package gate

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TokenIdentity is the built-in Identity collaborator: any non-empty token
// is accepted and maps deterministically to a participant id, so the same
// token reconnects as the same participant. Real deployments replace this
// with a verifying implementation.
type TokenIdentity struct {
	Namespace uuid.UUID
}

func NewTokenIdentity() *TokenIdentity {
	return &TokenIdentity{Namespace: uuid.NameSpaceOID}
}

func (t *TokenIdentity) Authenticate(token, name string) (string, string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "", fmt.Errorf("empty token")
	}
	pid := uuid.NewSHA1(t.Namespace, []byte(token)).String()
	display := strings.TrimSpace(name)
	if display == "" {
		display = "adventurer-" + pid[:8]
	}
	return pid, display, nil
}
