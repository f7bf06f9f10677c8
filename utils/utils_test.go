package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchURL(t *testing.T) {
	testCases := []struct {
		name          string
		status        int
		body          string
		sizeLimit     int64
		expectedBody  string
		expectedError string
	}{
		{
			name:         "happy path",
			status:       http.StatusOK,
			body:         "payload",
			expectedBody: "payload",
		},
		{
			name:         "happy path: body under the size limit",
			status:       http.StatusOK,
			body:         "payload",
			sizeLimit:    1024,
			expectedBody: "payload",
		},
		{
			name:          "sad path: non-200 status code",
			status:        http.StatusInternalServerError,
			body:          "oops",
			expectedError: "HTTP error. status code: 500",
		},
		{
			name:          "sad path: body exceeds the size limit",
			status:        http.StatusOK,
			body:          strings.Repeat("x", 32),
			sizeLimit:     16,
			expectedError: "response body exceeds 16 bytes",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer ts.Close()

			body, err := FetchURL(ts.URL, 5*time.Second, tc.sizeLimit)
			if tc.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expectedBody, string(body))
		})
	}
}

func TestFetchURL_Unreachable(t *testing.T) {
	_, err := FetchURL("http://127.0.0.1:1", time.Second, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP error. url:")
}

func TestLookupEnv(t *testing.T) {
	t.Setenv("NPM_VALIDATOR_TEST_KEY", "set")
	assert.Equal(t, "set", LookupEnv("NPM_VALIDATOR_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", LookupEnv("NPM_VALIDATOR_TEST_KEY_MISSING", "fallback"))
}
