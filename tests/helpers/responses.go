package helpers

import (
	"encoding/json"
	"net/http"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/assert/cmp"
)

type apiError struct {
	Message string `json:"message"`
}

// AssertErrorResponse performs the request and asserts that the API rejected it
// with the status provided. If expectedMessage is not empty, the error message
// returned must contain it.
func (service *TestService) AssertErrorResponse(t *testing.T, method string, path string, body any, expectedStatusCode int, expectedMessage string) {
	t.Helper()

	resp := service.doRequest(t, method, path, body)
	defer resp.Body.Close()

	assert.Equal(t, resp.StatusCode, expectedStatusCode, "HTTPResponse status code did not match expected")

	var apiErr apiError
	assert.NilError(t, json.NewDecoder(resp.Body).Decode(&apiErr), "error response was not JSON")
	if expectedMessage == "" {
		assert.Equal(t, apiErr.Message, http.StatusText(expectedStatusCode))
	} else {
		assert.Assert(t, cmp.Contains(apiErr.Message, expectedMessage))
	}
}
