package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/llm-gateway-api/internal/store"
	"github.com/nulzo/llm-gateway-api/internal/store/model"
	"github.com/stretchr/testify/assert"
)

type fakeKeyRepo struct {
	keys    map[string]*model.APIKey // by hash
	touched []string
}

func (f *fakeKeyRepo) GetByHash(_ context.Context, hash string) (*model.APIKey, error) {
	if k, ok := f.keys[hash]; ok {
		return k, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeKeyRepo) Create(context.Context, *model.APIKey) error { return nil }

func (f *fakeKeyRepo) Touch(_ context.Context, id string) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeKeyRepo) List(context.Context) ([]model.APIKey, error) { return nil, nil }

type fakeRepo struct {
	apiKeys *fakeKeyRepo
}

func (f *fakeRepo) APIKeys() store.APIKeyRepository { return f.apiKeys }
func (f *fakeRepo) Requests() store.RequestRepository { return nil }
func (f *fakeRepo) WithTx(_ context.Context, fn func(store.Repository) error) error {
	return fn(f)
}
func (f *fakeRepo) Close() error { return nil }

func authRouter(staticKeys []string, repo store.Repository) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(staticKeys, repo))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func doAuth(r *gin.Engine, key string) int {
	req := httptest.NewRequest("GET", "/ping", nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestAuthOpenWhenNoKeysConfigured(t *testing.T) {
	r := authRouter(nil, nil)
	assert.Equal(t, http.StatusOK, doAuth(r, ""))
}

func TestAuthStaticKey(t *testing.T) {
	r := authRouter([]string{"gw-secret"}, nil)
	assert.Equal(t, http.StatusOK, doAuth(r, "gw-secret"))
	assert.Equal(t, http.StatusUnauthorized, doAuth(r, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, doAuth(r, ""))
}

func TestAuthIssuedKeyFromStore(t *testing.T) {
	keyRepo := &fakeKeyRepo{keys: map[string]*model.APIKey{
		HashKey("sk-issued-1"): {ID: "key-1", Name: "ci", IsActive: true},
	}}
	r := authRouter([]string{"gw-secret"}, &fakeRepo{apiKeys: keyRepo})

	assert.Equal(t, http.StatusOK, doAuth(r, "sk-issued-1"))
	assert.Equal(t, []string{"key-1"}, keyRepo.touched)

	assert.Equal(t, http.StatusUnauthorized, doAuth(r, "sk-unknown"))
}

func TestAuthXAPIKeyHeaderPreferred(t *testing.T) {
	r := authRouter([]string{"gw-secret"}, nil)

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("x-api-key", "gw-secret")
	req.Header.Set("Authorization", "Bearer something-else")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
