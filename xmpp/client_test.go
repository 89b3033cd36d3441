package xmpp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		auth bool
	}{
		{"sasl rejection", errors.New(`sasl: mechanism "SCRAM-SHA-1": not-authorized`), true},
		{"bad credentials", errors.New("authentication failed: invalid credentials"), true},
		{"stream broke mid handshake", errors.New("sasl: unexpected EOF"), false},
		{"connection refused", fmt.Errorf("dial tcp 203.0.113.9:5222: connect: connection refused"), false},
		{"tls failure", errors.New("tls: handshake failure"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.auth, isAuthError(tc.err))
		})
	}
}
