package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
)

// StaticCodes is a sequence.Generator that needs no redis.
type StaticCodes struct {
	n atomic.Int64
}

func (c *StaticCodes) NextBookingCode(ctx context.Context) (string, error) {
	return fmt.Sprintf("BKG-TEST-%03d", c.n.Add(1)), nil
}

func (c *StaticCodes) NextPaymentCode(ctx context.Context) (string, error) {
	return fmt.Sprintf("PAY-TEST-%03d", c.n.Add(1)), nil
}

func (c *StaticCodes) NextPayoutCode(ctx context.Context) (string, error) {
	return fmt.Sprintf("PYT-TEST-%03d", c.n.Add(1)), nil
}
