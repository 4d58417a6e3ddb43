package outbox

import (
	"crypto/sha256"
	"fmt"
)

// GenerateIntentKey derives a stable key for one order intent. Retries of
// the same intent (same symbol, side, reason, and day) share the key, so
// journal readers can group attempts without guessing.
func GenerateIntentKey(symbol, side, reason, day string) string {
	data := fmt.Sprintf("%s-%s-%s-%s", symbol, side, reason, day)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}
