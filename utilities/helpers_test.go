// File: utilities/helpers_test.go
package utilities

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertTFToUpbitCandlePath(t *testing.T) {
	cases := map[string]string{
		"1m":  "minutes/1",
		"5m":  "minutes/5",
		"15m": "minutes/15",
		"30m": "minutes/30",
		"1h":  "minutes/60",
		"4h":  "minutes/240",
		"1d":  "days",
		"1D":  "days",
		"1w":  "weeks",
	}
	for tf, want := range cases {
		got, err := ConvertTFToUpbitCandlePath(tf)
		require.NoError(t, err, tf)
		assert.Equal(t, want, got)
	}

	_, err := ConvertTFToUpbitCandlePath("3h")
	assert.Error(t, err)
}

func TestGenerateUpbitAuthHeaders(t *testing.T) {
	query := url.Values{}
	query.Set("market", "KRW-BTC")
	query.Set("side", "bid")

	headers, err := GenerateUpbitAuthHeaders("access", "secret", query)
	require.NoError(t, err)

	auth := headers["Authorization"]
	require.True(t, strings.HasPrefix(auth, "Bearer "))

	token := strings.TrimPrefix(auth, "Bearer ")
	segments := strings.Split(token, ".")
	require.Len(t, segments, 3, "compact JWT has header, payload, signature")

	payloadJSON, err := base64.RawURLEncoding.DecodeString(segments[1])
	require.NoError(t, err)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(payloadJSON, &claims))
	assert.Equal(t, "access", claims["access_key"])
	assert.NotEmpty(t, claims["nonce"])
	assert.NotEmpty(t, claims["query_hash"])
	assert.Equal(t, "SHA512", claims["query_hash_alg"])
}

func TestGenerateUpbitAuthHeadersNoQuery(t *testing.T) {
	headers, err := GenerateUpbitAuthHeaders("access", "secret", nil)
	require.NoError(t, err)

	token := strings.TrimPrefix(headers["Authorization"], "Bearer ")
	segments := strings.Split(token, ".")
	require.Len(t, segments, 3)

	payloadJSON, err := base64.RawURLEncoding.DecodeString(segments[1])
	require.NoError(t, err)

	var claims map[string]interface{}
	require.NoError(t, json.Unmarshal(payloadJSON, &claims))
	assert.NotContains(t, claims, "query_hash", "hash is only set when parameters are present")
}

func TestGenerateUpbitAuthHeadersMissingKeys(t *testing.T) {
	_, err := GenerateUpbitAuthHeaders("", "secret", nil)
	assert.Error(t, err)

	_, err = GenerateUpbitAuthHeaders("access", "", nil)
	assert.Error(t, err)
}

func TestFilterAfter(t *testing.T) {
	type event struct {
		at time.Time
	}
	now := time.Now()
	items := []event{
		{at: now.Add(-2 * time.Hour)},
		{at: now.Add(-30 * time.Minute)},
		{at: now},
	}

	kept := FilterAfter(items, func(e event) time.Time { return e.at }, now.Add(-time.Hour))
	require.Len(t, kept, 2)
	assert.Equal(t, items[1].at, kept[0].at)
}

func TestParseLogLevel(t *testing.T) {
	level, err := ParseLogLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, Debug, level)

	level, err = ParseLogLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, Warn, level)

	level, err = ParseLogLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, Info, level, "invalid input falls back to Info")
}

func TestSortBarsByTimestamp(t *testing.T) {
	bars := []OHLCVBar{
		{Timestamp: 3000},
		{Timestamp: 1000},
		{Timestamp: 2000},
	}
	SortBarsByTimestamp(bars)
	assert.Equal(t, int64(1000), bars[0].Timestamp)
	assert.Equal(t, int64(3000), bars[2].Timestamp)
}
