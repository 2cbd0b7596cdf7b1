package helpers

import (
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

func MustHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

// ParseHexKey accepts "0102..." with optional spaces, colons or 0x prefix.
func ParseHexKey(s string, size int) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", ":", "", "\t", "").Replace(strings.TrimSpace(s))
	clean = strings.TrimPrefix(strings.TrimPrefix(clean, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, errors.Annotate(err, "hex key")
	}
	if len(b) != size {
		return nil, errors.NotValidf("key length=%d expected=%d", len(b), size)
	}
	return b, nil
}
