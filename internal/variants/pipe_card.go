package variants

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/utafrali/cartengine/internal/domain"
)

// TagPipeCard is the registry tag of PipeCard.
const TagPipeCard = "pipe_card"

// PipeCard is an offline test card. Card IDs ending in 9 are declined.
type PipeCard struct {
	CardID string `json:"card_id" validate:"required"`
}

// PipeReceipt is the payment data recorded for a PipeCard charge.
type PipeReceipt struct {
	ChargeID string `json:"charge_id"`
}

// MakePayment charges the card.
func (c *PipeCard) MakePayment(_ context.Context, req domain.ChargeRequest) (*domain.Payment, error) {
	if strings.HasSuffix(c.CardID, "9") {
		return nil, &domain.PaymentError{Message: "Insufficient funds", Info: "Insufficient funds"}
	}
	return domain.NewPayment(req, PipeReceipt{ChargeID: "pipe_" + uuid.NewString()}), nil
}
