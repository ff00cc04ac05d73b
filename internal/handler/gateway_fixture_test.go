package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-review/internal/config"
	"github.com/noah-isme/gema-review/internal/database"
	"github.com/noah-isme/gema-review/internal/handler"
	"github.com/noah-isme/gema-review/internal/middleware"
	"github.com/noah-isme/gema-review/internal/repository"
	"github.com/noah-isme/gema-review/internal/router"
	"github.com/noah-isme/gema-review/internal/service"
	"github.com/noah-isme/gema-review/pkg/gradingapi"
)

const jwtSecret = "handler-test-secret"

// gradingBackend is an in-memory stand-in for the grading API.
type gradingBackend struct {
	mu sync.Mutex

	submission gradingapi.Submission
	grades     []gradingapi.Grade
	exam       gradingapi.Exam

	authHeaders []string
	triggers    int
	overrides   []gradingapi.OverrideRequest
	batchForms  []*multipart.Form
	singleForms []*multipart.Form
	overrideErr string
}

func newGradingBackend() *gradingBackend {
	return &gradingBackend{
		submission: gradingapi.Submission{
			ID:               "sub-1",
			ExamID:           "exam-1",
			StudentID:        "stu-1",
			ProcessingStatus: gradingapi.StatusGraded,
			Answers: []gradingapi.Answer{
				{QuestionID: "q-1", Text: "x = 2"},
				{QuestionID: "q-2", Text: "42 m/s"},
			},
		},
		grades: []gradingapi.Grade{
			{ID: "g-1", SubmissionID: "sub-1", QuestionID: "q-1", FinalScore: 2, MaxScore: 5, Status: gradingapi.GradeAutoGraded},
			{ID: "g-2", SubmissionID: "sub-1", QuestionID: "q-2", FinalScore: 4, MaxScore: 5, Status: gradingapi.GradeFinal},
		},
		exam: gradingapi.Exam{
			ID:      "exam-1",
			Title:   "Physics midterm",
			Subject: "physics",
			Questions: []gradingapi.Question{
				{ID: "q-1", QuestionText: "Solve for x", Points: 5},
				{ID: "q-2", QuestionText: "Velocity?", Points: 5},
			},
		},
	}
}

func (b *gradingBackend) setStatus(status gradingapi.ProcessingStatus, grades []gradingapi.Grade) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submission.ProcessingStatus = status
	b.grades = grades
}

func (b *gradingBackend) lastAuth() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.authHeaders) == 0 {
		return ""
	}
	return b.authHeaders[len(b.authHeaders)-1]
}

func (b *gradingBackend) triggerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.triggers
}

func (b *gradingBackend) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, payload interface{}) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(payload)
	}

	mux.HandleFunc("GET /api/v1/submissions/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if r.PathValue("id") != b.submission.ID {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "Submission not found"})
			return
		}
		writeJSON(w, http.StatusOK, b.submission)
	})
	mux.HandleFunc("GET /api/v1/submissions/{id}/grades", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.grades)
	})
	mux.HandleFunc("POST /api/v1/submissions/{id}/trigger-grading", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.triggers++
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "Grading started"})
	})
	mux.HandleFunc("POST /api/v1/submissions/{id}/questions/{qid}/override", func(w http.ResponseWriter, r *http.Request) {
		var req gradingapi.OverrideRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		b.mu.Lock()
		defer b.mu.Unlock()
		if b.overrideErr != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": b.overrideErr})
			return
		}
		b.overrides = append(b.overrides, req)
		for i := range b.grades {
			if b.grades[i].QuestionID == r.PathValue("qid") {
				score := req.NewScore
				b.grades[i].OverrideScore = &score
				b.grades[i].FinalScore = score
				b.grades[i].Status = gradingapi.GradeOverridden
				writeJSON(w, http.StatusOK, b.grades[i])
				return
			}
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Grade not found"})
	})
	mux.HandleFunc("GET /api/v1/submissions/{id}/questions/{qid}/feedback", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gradingapi.Feedback{SubmissionID: r.PathValue("id"), QuestionID: r.PathValue("qid"), Summary: "Check the units"})
	})
	mux.HandleFunc("GET /api/v1/audit/{id}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []gradingapi.AuditEntry{{ID: "a-1", EntityID: r.PathValue("id"), EntityType: r.URL.Query().Get("type"), EventType: "graded"}})
	})
	mux.HandleFunc("GET /api/v1/exams/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		writeJSON(w, http.StatusOK, b.exam)
	})
	mux.HandleFunc("POST /api/v1/exams/{id}/submissions", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.singleForms = append(b.singleForms, r.MultipartForm)
		writeJSON(w, http.StatusCreated, gradingapi.Submission{ID: "sub-new", ExamID: r.PathValue("id"), StudentID: r.MultipartForm.Value["student_id"][0]})
	})
	mux.HandleFunc("POST /api/v1/exams/{id}/submissions/batch", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad form"})
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		b.batchForms = append(b.batchForms, r.MultipartForm)
		writeJSON(w, http.StatusCreated, gradingapi.BatchResult{BatchID: "batch-9"})
	})
	mux.HandleFunc("GET /api/v1/batches/{id}/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gradingapi.BatchStatus{BatchID: r.PathValue("id"), Status: "processing", Total: 2, Processed: 1})
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.authHeaders = append(b.authHeaders, r.Header.Get("Authorization"))
		b.mu.Unlock()
		mux.ServeHTTP(w, r)
	})
}

type gateway struct {
	app           *fiber.App
	backend       *gradingBackend
	reviews       service.ReviewService
	uploads       service.UploadService
	notifications service.NotificationService
}

func newGateway(t *testing.T, strategy service.RefreshStrategy) *gateway {
	t.Helper()

	backend := newGradingBackend()
	server := httptest.NewServer(backend.handler())
	t.Cleanup(server.Close)

	logger := zerolog.Nop()
	client, err := gradingapi.New(gradingapi.Config{BaseURL: server.URL, Timeout: 5 * time.Second, Logger: logger})
	require.NoError(t, err)

	validate := validator.New(validator.WithRequiredStructEnabled())
	notifications := service.NewNotificationService(nil, "", nil, validate, logger)
	db, err := database.Connect("sqlite://file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	activity := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)

	reviews := service.NewReviewService(service.ReviewServiceConfig{
		Backend:       client,
		Exams:         client,
		Strategy:      strategy,
		Notifications: notifications,
		Activity:      activity,
		IdleTTL:       time.Minute,
		Logger:        logger,
	})
	uploads := service.NewUploadService(service.UploadServiceConfig{
		Uploader:      client,
		Notifications: notifications,
		Activity:      activity,
		MaxSizeMB:     1,
		IdleTTL:       time.Minute,
		Logger:        logger,
	})
	t.Cleanup(reviews.Shutdown)
	t.Cleanup(uploads.Shutdown)

	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, config.Config{AppName: "review-test", AppEnv: "test"}, router.Dependencies{
		ReviewHandler:       handler.NewReviewHandler(reviews, validate, nil, logger),
		UploadHandler:       handler.NewUploadHandler(uploads, validate, nil, logger),
		NotificationHandler: handler.NewNotificationHandler(notifications, logger, time.Second),
		ActivityHandler:     handler.NewActivityHandler(activity, logger),
		JWTMiddleware:       middleware.JWTProtected(jwtSecret),
		MetricsEnabled:      true,
	})

	return &gateway{app: app, backend: backend, reviews: reviews, uploads: uploads, notifications: notifications}
}

func signedToken(t *testing.T, subject, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return signed
}

type envelope struct {
	Success bool              `json:"success"`
	Message string            `json:"message"`
	Data    json.RawMessage   `json:"data"`
	Errors  map[string]string `json:"errors"`
	Meta    json.RawMessage   `json:"meta"`
}

func (g *gateway) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return g.send(t, req, token)
}

func (g *gateway) send(t *testing.T, req *http.Request, token string) (*http.Response, envelope) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.app.Test(req, -1)
	require.NoError(t, err)

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var env envelope
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp, env
}

func decodeData(t *testing.T, env envelope, target interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(env.Data, target))
}
