package service

import (
	"context"
	"strings"

	"github.com/utafrali/cartengine/internal/domain"
)

// DatedInvoiceIDs returns a generator producing invoice numbers such as
// INV-20261016-3F2A9C1B7D04E6A5: the prefix, the order date and sixteen
// random hex digits of the order ID. Orders reject duplicates, and checkout
// retries with a fresh order ID when one occurs.
func DatedInvoiceIDs(prefix string) InvoiceIDGenerator {
	return func(_ context.Context, order *domain.Order) (string, error) {
		hex := strings.ReplaceAll(order.ID.String(), "-", "")
		// Skip the version nibble at 12 and the variant nibble at 16.
		short := strings.ToUpper(hex[:12] + hex[13:16] + hex[17:18])
		return prefix + "-" + order.CreatedAt.Format("20060102") + "-" + short, nil
	}
}
