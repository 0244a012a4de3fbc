package outbox

import (
	"crypto/sha256"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rajchodisetti/prediction-core/internal/signals"
)

// GenerateIdempotencyKey identifies repeat signals for one market outcome
// and detector
func GenerateIdempotencyKey(marketID, outcomeID string, t signals.SignalType) string {
	data := fmt.Sprintf("%s-%s-%s", marketID, outcomeID, t)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash[:8])
}

func GenerateOrderID() string {
	return "order_" + uuid.NewString()
}
