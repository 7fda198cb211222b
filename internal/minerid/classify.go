package minerid

import (
	"bytes"

	"github.com/tos-network/tos-headerwatch/internal/rpc"
)

// knownTags maps a literal byte sequence that pools embed in their coinbase
// scriptSig (or, for some pools, an output script) to the pool's display
// name. This is a deliberately small, hand-maintained table: no dependency
// in the retrieved corpus (or the wider Go ecosystem) packages the kind of
// coinbase-tag database the original's bitcoin_pool_identification crate
// ships, so DefaultClassifier stands in for it directly.
var knownTags = map[string]string{
	"/slush/":       "SlushPool",
	"/ViaBTC/":      "ViaBTC",
	"/AntPool/":     "AntPool",
	"/F2Pool/":      "F2Pool",
	"/BTC.COM/":     "BTC.com",
	"/Foundry USA/": "Foundry USA",
	"/mmpool/":      "MaraPool",
	"/SBICrypto/":   "SBI Crypto",
	"/Luxor/":       "Luxor",
	"/ultimuspool/": "Ultimus",
	"/EMCDPool/":    "EMCD",
	"/Binance/":     "Binance Pool",
	"/poolin.com/":  "Poolin",
}

// DefaultClassifier scans a coinbase transaction's raw payload for any of
// the known pool tags. Returns "" when nothing matches, leaving the caller
// to fall back to domain.MinerUnknown.
func DefaultClassifier(cb rpc.CoinbaseTx) string {
	for tag, name := range knownTags {
		if bytes.Contains(cb.RawData, []byte(tag)) {
			return name
		}
	}
	return ""
}
