package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"

	"github.com/paideia-lms/Paideia-sub010/internal/models"
	appErrors "github.com/paideia-lms/Paideia-sub010/pkg/errors"
)

type tokenValidatorStub map[string]string

func (s tokenValidatorStub) ValidateToken(token string) (*models.ActorClaims, error) {
	subject, ok := s[token]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return &models.ActorClaims{RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}, nil
}

func serve(handler gin.HandlerFunc, authorization string) (*httptest.ResponseRecorder, string) {
	gin.SetMode(gin.TestMode)
	var actor string
	r := gin.New()
	r.GET("/", handler, func(c *gin.Context) {
		actor = Actor(c).ActorID()
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, actor
}

func TestJWT(t *testing.T) {
	tokens := tokenValidatorStub{"good": "teacher-1"}

	w, actor := serve(JWT(tokens), "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "teacher-1", actor)

	w, _ = serve(JWT(tokens), "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve(JWT(tokens), "Basic good")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = serve(JWT(tokens), "Bearer bad")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalJWT(t *testing.T) {
	tokens := tokenValidatorStub{"good": "teacher-1"}

	w, actor := serve(OptionalJWT(tokens), "Bearer good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "teacher-1", actor)

	w, actor = serve(OptionalJWT(tokens), "Bearer bad")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, actor)
}
