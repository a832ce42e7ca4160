package passer

import (
	"testing"

	"github.com/ringcast/ringd/pkg/ring"
	"github.com/ringcast/ringd/pkg/ring/wire"
)

// signedTokenFrom builds a validly signed token attributed to origin. The
// passer only checks that the embedded signature is internally
// consistent, not which key signed it, so a throwaway keypair suffices.
func signedTokenFrom(t *testing.T, origin ring.WorkStationID) wire.Token {
	t.Helper()
	kp, err := ring.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	return wire.NewToken(kp, origin, 0)
}
