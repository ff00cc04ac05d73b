package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review/internal/dto"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	schemaPath, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + filepath.ToSlash(schemaPath))
	require.NoError(t, err)
	return schema
}

func rawPayload(t *testing.T, g *gateway, method, path, token string, body interface{}) interface{} {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(encoded))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.app.Test(req, -1)
	require.NoError(t, err)
	require.Less(t, resp.StatusCode, http.StatusBadRequest)

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload
}

func TestReviewSessionContract(t *testing.T) {
	schema := compileSchema(t, "review_session.schema.json")
	g := newGateway(t, nil)
	token := signedToken(t, "teacher-1", "teacher")

	opened := rawPayload(t, g, http.MethodPost, "/api/v1/review/sessions", token, dto.OpenReviewSessionRequest{SubmissionID: "sub-1"})
	require.NoError(t, schema.Validate(opened))

	sessionID := opened.(map[string]interface{})["data"].(map[string]interface{})["session_id"].(string)
	score := 4.0
	staged := rawPayload(t, g, http.MethodPut, "/api/v1/review/sessions/"+sessionID+"/overrides/g-1", token, dto.StageOverrideRequest{NewScore: &score})
	require.NoError(t, schema.Validate(staged))

	g.backend.setStatus("pending", nil)
	refreshed := rawPayload(t, g, http.MethodPost, "/api/v1/review/sessions/"+sessionID+"/refresh", token, nil)
	require.NoError(t, schema.Validate(refreshed))
}

func TestUploadDraftContract(t *testing.T) {
	schema := compileSchema(t, "upload_draft.schema.json")
	g := newGateway(t, nil)
	token := signedToken(t, "teacher-1", "teacher")

	created := rawPayload(t, g, http.MethodPost, "/api/v1/uploads/drafts", token, dto.CreateUploadDraftRequest{ExamID: "exam-1"})
	require.NoError(t, schema.Validate(created))

	draftID := created.(map[string]interface{})["data"].(map[string]interface{})["draft_id"].(string)
	resp, _ := g.send(t, multipartRequest(t, "/api/v1/uploads/drafts/"+draftID+"/files",
		formFile{name: "dave.pdf", contentType: "application/pdf", content: samplePDF},
	), token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	fetched := rawPayload(t, g, http.MethodGet, "/api/v1/uploads/drafts/"+draftID, token, nil)
	require.NoError(t, schema.Validate(fetched))
}
