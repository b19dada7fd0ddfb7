package utils

import "time"

const (
	OrganizationName                      = "BanaMarket"
	CORSLowSecurityAllowedOriginLocalhost = "http://localhost:*"

	// TokenLockTTL is how long a Redis or DynamoDB token lock outlives a
	// holder that never releases it.
	TokenLockTTL = 30 * time.Second
)

func Ptr[T any](v T) *T {
	return &v
}

func Val[T any](p *T) T {
	if p != nil {
		return *p
	}
	var zero T
	return zero
}
