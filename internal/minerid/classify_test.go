package minerid

import (
	"testing"

	"github.com/tos-network/tos-headerwatch/internal/rpc"
)

func TestDefaultClassifierMatchesKnownTag(t *testing.T) {
	cb := rpc.CoinbaseTx{RawData: []byte("\x03a1b2c3/ViaBTC/extra nonce junk")}
	if got := DefaultClassifier(cb); got != "ViaBTC" {
		t.Fatalf("DefaultClassifier = %q, want ViaBTC", got)
	}
}

func TestDefaultClassifierNoMatch(t *testing.T) {
	cb := rpc.CoinbaseTx{RawData: []byte("\x03a1b2c3 no pool tag here")}
	if got := DefaultClassifier(cb); got != "" {
		t.Fatalf("DefaultClassifier = %q, want empty", got)
	}
}

func TestDefaultClassifierEmptyPayload(t *testing.T) {
	if got := DefaultClassifier(rpc.CoinbaseTx{}); got != "" {
		t.Fatalf("DefaultClassifier(empty) = %q, want empty", got)
	}
}
