package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/forgelabs/forge"
	"github.com/forgelabs/forge/config"
	"github.com/forgelabs/forge/internal/apierror"
	"github.com/forgelabs/forge/model"
)

func TestGetCredits(t *testing.T) {
	env := setupRouter(t, nil)
	env.ds.On("GetCreditAccount", mock.Anything, "user_1").Return(&model.CreditAccount{OwnerID: "user_1", Balance: 7}, nil).Once()
	env.ds.On("GetCreditEntries", mock.Anything, "user_1", 20, 0).Return([]model.CreditEntry{{EntryID: "entry_1", Type: model.EntryDebit, Amount: 3}}, nil).Once()

	var account model.CreditAccount
	resp, err := SetUpTestRequest(TestRequest{Router: env.router, Method: http.MethodGet, Route: "/credits", Auth: userToken(t, "user_1"), Response: &account})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(7), account.Balance)

	var entries []model.CreditEntry
	resp, err = SetUpTestRequest(TestRequest{Router: env.router, Method: http.MethodGet, Route: "/credits/entries", Auth: userToken(t, "user_1"), Response: &entries})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, entries, 1)

	resp, err = SetUpTestRequest(TestRequest{Router: env.router, Method: http.MethodGet, Route: "/credits/entries?limit=ten", Auth: userToken(t, "user_1")})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	env.ds.AssertExpectations(t)
}

func sign(t *testing.T, secret string, body []byte) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestPaymentWebhook(t *testing.T) {
	grantEvent, _ := json.Marshal(map[string]interface{}{
		"id":       "evt_1",
		"type":     "checkout.session.completed",
		"metadata": map[string]interface{}{"user_id": "user_1", "credits": "50"},
	})
	otherEvent, _ := json.Marshal(map[string]interface{}{"id": "evt_2", "type": "invoice.created"})

	tests := []struct {
		name         string
		route        string
		body         []byte
		signature    string
		setup        func(env *testEnv)
		expectedCode int
		expected     map[string]interface{}
	}{
		{
			name:      "Grants credits",
			route:     "/webhooks/payments/stripe",
			body:      grantEvent,
			signature: "sha256=" + sign(t, testStripeSecret, grantEvent),
			setup: func(env *testEnv) {
				env.ds.On("Credit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
					return e.Reference == "payment:stripe:evt_1" && e.Amount == 50 && e.OwnerID == "user_1"
				})).Return(int64(50), nil).Once()
			},
			expectedCode: http.StatusOK,
			expected:     map[string]interface{}{"balance": float64(50), "already_applied": false},
		},
		{
			name:      "Replay is already applied",
			route:     "/webhooks/payments/stripe",
			body:      grantEvent,
			signature: sign(t, testStripeSecret, grantEvent),
			setup: func(env *testEnv) {
				env.ds.On("Credit", mock.Anything, mock.Anything).
					Return(int64(0), apierror.NewAPIError(apierror.ErrConflict, "credit entry 'payment:stripe:evt_1' already applied", nil)).Once()
				env.ds.On("GetCreditAccount", mock.Anything, "user_1").Return(&model.CreditAccount{OwnerID: "user_1", Balance: 50}, nil).Once()
			},
			expectedCode: http.StatusOK,
			expected:     map[string]interface{}{"balance": float64(50), "already_applied": true},
		},
		{
			name:         "Bad signature",
			route:        "/webhooks/payments/stripe",
			body:         grantEvent,
			signature:    sign(t, "wrong", grantEvent),
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "Ignored event type",
			route:        "/webhooks/payments/stripe",
			body:         otherEvent,
			signature:    sign(t, testStripeSecret, otherEvent),
			expectedCode: http.StatusOK,
			expected:     map[string]interface{}{"status": "ignored"},
		},
		{
			name:         "Unknown provider",
			route:        "/webhooks/payments/paypal",
			body:         grantEvent,
			signature:    sign(t, testStripeSecret, grantEvent),
			expectedCode: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupRouter(t, nil)
			if tt.setup != nil {
				tt.setup(env)
			}

			var response map[string]interface{}
			resp, err := SetUpTestRequest(TestRequest{
				Router:   env.router,
				Method:   http.MethodPost,
				Route:    tt.route,
				Payload:  bytes.NewReader(tt.body),
				Header:   map[string]string{"X-Forge-Signature": tt.signature},
				Response: &response,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code)
			for key, value := range tt.expected {
				assert.Equal(t, value, response[key], key)
			}
			env.ds.AssertExpectations(t)
		})
	}
}

func TestAdminEndpoints(t *testing.T) {
	env := setupRouter(t, nil)
	env.ds.On("Credit", mock.Anything, mock.MatchedBy(func(e *model.CreditEntry) bool {
		return e.Reference == "admin:ticket-9" && e.Amount == 25
	})).Return(int64(25), nil).Once()
	env.ds.On("GetStaleProcessingJobs", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return([]model.Job{}, nil)

	grant := map[string]interface{}{"owner_id": "user_1", "credits": 25, "reference": "ticket-9"}

	resp, err := SetUpTestRequest(TestRequest{Router: env.router, Method: http.MethodPost, Route: "/admin/credits/grant", Payload: jsonBody(t, grant)})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	var result map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Router:   env.router,
		Method:   http.MethodPost,
		Route:    "/admin/credits/grant",
		Payload:  jsonBody(t, grant),
		Header:   map[string]string{"X-Forge-Key": testMasterKey},
		Response: &result,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(25), result["balance"])

	resp, err = SetUpTestRequest(TestRequest{
		Router:  env.router,
		Method:  http.MethodPost,
		Route:   "/admin/credits/grant",
		Payload: jsonBody(t, map[string]interface{}{"owner_id": "user_1", "credits": 0}),
		Header:  map[string]string{"X-Forge-Key": testMasterKey},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	var expired map[string]interface{}
	resp, err = SetUpTestRequest(TestRequest{
		Router:   env.router,
		Method:   http.MethodPost,
		Route:    "/admin/jobs/expire?threshold_minutes=30",
		Header:   map[string]string{"X-Forge-Key": testMasterKey},
		Response: &expired,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(0), expired["expired"])
	env.ds.AssertExpectations(t)
}

func TestExpireJobs_Errors(t *testing.T) {
	env := setupRouter(t, nil)
	env.ds.On("GetStaleProcessingJobs", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrInternalServer, "failed to list stale jobs", nil))

	tests := []struct {
		name         string
		route        string
		expectedCode int
	}{
		{name: "Overflowing threshold", route: "/admin/jobs/expire?threshold_minutes=99999999999", expectedCode: http.StatusBadRequest},
		{name: "Threshold beyond thirty days", route: "/admin/jobs/expire?threshold_minutes=43201", expectedCode: http.StatusBadRequest},
		{name: "Zero threshold", route: "/admin/jobs/expire?threshold_minutes=0", expectedCode: http.StatusBadRequest},
		{name: "Datasource failure", route: "/admin/jobs/expire?threshold_minutes=30", expectedCode: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := SetUpTestRequest(TestRequest{
				Router: env.router,
				Method: http.MethodPost,
				Route:  tt.route,
				Header: map[string]string{"X-Forge-Key": testMasterKey},
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCode, resp.Code)
		})
	}
}

type memoryUploader struct {
	keys []string
}

func (u *memoryUploader) Upload(_ context.Context, key, _ string, _ io.Reader) (string, error) {
	u.keys = append(u.keys, key)
	return "https://files.example.com/" + key, nil
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestUpload(t *testing.T) {
	disabled := setupRouter(t, nil)
	body, contentType := multipartUpload(t, "dad.png", "image/png", []byte("png-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/uploads/baby", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user_1"))
	resp := httptest.NewRecorder()
	disabled.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)

	uploader := &memoryUploader{}
	env := setupRouter(t, nil, forge.WithUploader(uploader))

	body, contentType = multipartUpload(t, "dad.png", "image/png", []byte("png-bytes"))
	req = httptest.NewRequest(http.MethodPost, "/uploads/baby", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user_1"))
	resp = httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusCreated, resp.Code)

	var result map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Len(t, uploader.keys, 1)
	assert.Equal(t, "https://files.example.com/"+uploader.keys[0], result["url"])

	body, contentType = multipartUpload(t, "clip.gif", "image/gif", []byte("gif-bytes"))
	req = httptest.NewRequest(http.MethodPost, "/uploads/baby", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+userToken(t, "user_1"))
	resp = httptest.NewRecorder()
	env.router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestListFeatures(t *testing.T) {
	cost := int64(3)
	cnf := testConfig()
	cnf.Features = map[string]config.FeatureConfig{"baby": {Cost: &cost}, "lipsync": {Disabled: true}}
	env := setupRouter(t, cnf)

	var features []map[string]interface{}
	resp, err := SetUpTestRequest(TestRequest{Router: env.router, Method: http.MethodGet, Route: "/features", Response: &features})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, features, len(model.FeatureKinds)-1)
	assert.Equal(t, "baby", features[0]["feature_kind"])
	assert.Equal(t, float64(3), features[0]["cost"])
}
