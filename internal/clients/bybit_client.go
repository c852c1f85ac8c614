package clients

import (
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient returns a V5 REST client. Market data endpoints work
// without credentials, so auth is only attached when keys are set.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}
	return client
}
