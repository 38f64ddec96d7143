package api

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/dmitrijs2005/sharekeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_UnwrapsToSentinel(t *testing.T) {
	var e Error
	require.NoError(t, json.Unmarshal([]byte(`{"code":"wrong_party","message":"action not permitted for this party"}`), &e))

	var err error = &e
	assert.ErrorIs(t, err, common.ErrWrongParty)
	assert.False(t, errors.Is(err, common.ErrForbidden))
	assert.Equal(t, "action not permitted for this party", err.Error())
}

func TestError_UnknownCodeIsInternal(t *testing.T) {
	err := &Error{Code: "teapot", Message: "short and stout"}
	assert.ErrorIs(t, err, common.ErrInternal)
}

func TestError_EveryCodeMapped(t *testing.T) {
	for code, want := range sentinels {
		assert.ErrorIs(t, &Error{Code: code}, want, code)
	}
}
