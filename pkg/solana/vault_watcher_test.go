package solana

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTokenAmount(t *testing.T) {
	t.Run("Parsed Account Notification", func(t *testing.T) {
		raw := `{
			"jsonrpc": "2.0",
			"method": "accountNotification",
			"params": {
				"subscription": 23784,
				"result": {
					"context": {"slot": 235812345},
					"value": {
						"lamports": 2039280,
						"owner": "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
						"data": {
							"program": "spl-token",
							"parsed": {
								"type": "account",
								"info": {
									"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
									"tokenAmount": {
										"amount": "485000000",
										"decimals": 6,
										"uiAmountString": "485"
									}
								}
							}
						}
					}
				}
			}
		}`

		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(raw), &msg))

		amount, ok := extractTokenAmount(msg)
		require.True(t, ok)
		assert.Equal(t, uint64(485000000), amount)
	})

	t.Run("Zero Balance", func(t *testing.T) {
		msg := notificationWithAmount("0")
		amount, ok := extractTokenAmount(msg)
		require.True(t, ok)
		assert.Equal(t, uint64(0), amount)
	})

	t.Run("Malformed Payloads", func(t *testing.T) {
		cases := map[string]map[string]interface{}{
			"empty message":     {},
			"missing result":    {"params": map[string]interface{}{}},
			"non-string amount": notificationWithRawAmount(485),
			"garbage amount":    notificationWithAmount("not-a-number"),
		}
		for name, msg := range cases {
			_, ok := extractTokenAmount(msg)
			assert.False(t, ok, name)
		}
	})
}

func notificationWithAmount(amount string) map[string]interface{} {
	return notificationWithRawAmount(amount)
}

func notificationWithRawAmount(amount interface{}) map[string]interface{} {
	return map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  "accountNotification",
		"params": map[string]interface{}{
			"result": map[string]interface{}{
				"value": map[string]interface{}{
					"data": map[string]interface{}{
						"parsed": map[string]interface{}{
							"info": map[string]interface{}{
								"tokenAmount": map[string]interface{}{
									"amount": amount,
								},
							},
						},
					},
				},
			},
		},
	}
}
