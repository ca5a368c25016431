package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		code int
		body string
		want Kind
	}{
		{429, "rate limit", KindNetwork},
		{503, "", KindNetwork},
		{504, "", KindNetwork},
		{408, "", KindNetwork},
		{500, "boom", KindNetwork},
		{400, "bad request", KindAuthorization},
		{401, "unauthorized", KindAuthorization},
		{403, "forbidden", KindAuthorization},
		{422, "no data for symbol", KindData},
		{422, "asset not found", KindData},
		{422, "qty must be > 0", KindConfiguration},
		{404, "", KindData},
		{409, "conflict", KindGeneral},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.code, tt.body), func(t *testing.T) {
			err := FromStatus("GET /v2/orders", tt.code, tt.body)
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.code, StatusCode(err))
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	base := Network("fetch bars", errors.New("timeout"))
	wrapped := fmt.Errorf("scan AAPL: %w", base)

	assert.Equal(t, KindNetwork, KindOf(wrapped))
	assert.True(t, Retryable(wrapped))
	assert.Equal(t, KindGeneral, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("x"), 1},
		{"config", Configf("load", "missing key"), 2},
		{"network", Network("op", errors.New("x")), 3},
		{"data", Dataf("op", "no bars"), 4},
		{"auth", Authorization("op", errors.New("x")), 5},
		{"wrapped auth", fmt.Errorf("outer: %w", FromStatus("op", 401, "")), 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFromTransport(t *testing.T) {
	assert.Equal(t, KindNetwork, FromTransport("op", errors.New("connection reset")).Kind)
	assert.Equal(t, KindGeneral, FromTransport("op", fmt.Errorf("do: %w", context.Canceled)).Kind)
}

func TestErrorMessage(t *testing.T) {
	err := FromStatus("POST /v2/orders", 403, "forbidden")
	assert.Equal(t, "authorization error in POST /v2/orders (status 403): forbidden", err.Error())
}
