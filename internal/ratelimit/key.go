package ratelimit

import "strconv"

// DeliveryKey builds the limiter key for one account's delivery attempts.
func DeliveryKey(accountID uint64) string {
	return "delivery:" + strconv.FormatUint(accountID, 10)
}
