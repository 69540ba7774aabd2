package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestGenerateToken(t *testing.T) {
	token, err := GenerateToken(testSecret, "test-user-id", "test@example.com", nil, time.Hour)
	assert.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestJWTAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	expired, err := GenerateToken(testSecret, "u", "u@example.com", nil, -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateToken("other-secret", "u", "u@example.com", nil, time.Hour)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name           string
		token          string
		expectedStatus int
	}{
		{
			name:           "Missing authorization header",
			token:          "",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Invalid token format",
			token:          "InvalidToken",
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Expired token",
			token:          "Bearer " + expired,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Wrong secret",
			token:          "Bearer " + foreign,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Unsigned token",
			token:          "Bearer " + none,
			expectedStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			req := httptest.NewRequest("GET", "/test", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", tt.token)
			}
			c.Request = req

			JWTAuth(testSecret)(c)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.True(t, c.IsAborted())
		})
	}
}

func TestJWTAuthWithValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	userID := "test-user-id"
	token, err := GenerateToken(testSecret, userID, "test@example.com", nil, time.Hour)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/test", JWTAuth(testSecret), func(c *gin.Context) {
		extractedUserID, exists := GetUserID(c)
		assert.True(t, exists)
		assert.Equal(t, userID, extractedUserID)
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireScope(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.POST("/jobs", JWTAuth(testSecret), RequireScope(ScopePipelineWrite), func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	reader, err := GenerateToken(testSecret, "reader", "r@example.com", []string{"pipeline:read"}, time.Hour)
	require.NoError(t, err)
	writer, err := GenerateToken(testSecret, "writer", "w@example.com", []string{"pipeline:read", ScopePipelineWrite}, time.Hour)
	require.NoError(t, err)

	for token, status := range map[string]int{reader: http.StatusForbidden, writer: http.StatusAccepted} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/jobs", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		router.ServeHTTP(w, req)
		assert.Equal(t, status, w.Code)
	}
}
