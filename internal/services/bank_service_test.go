package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBankService_IsSupported(t *testing.T) {
	service := NewBankService()

	assert.True(t, service.IsSupported("021"))
	assert.True(t, service.IsSupported("091"))
	assert.False(t, service.IsSupported("999"))
	assert.False(t, service.IsSupported(""))
}

func TestBankService_GetAllBanks(t *testing.T) {
	service := NewBankService()

	r := httptest.NewRequest("GET", "/banks", nil)
	w := httptest.NewRecorder()

	service.GetAllBanks(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var banks []Bank
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &banks))
	assert.Len(t, banks, len(supportedBanks))
	assert.Equal(t, "021", banks[0].Code)
}
