package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/handler"
	"github.com/storyforge/api/internal/middleware"
	"github.com/storyforge/api/internal/service"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds the components needed for endpoint tests.
type testApp struct {
	app *fiber.App
}

// setupApp wires a Fiber app the way main.go does, minus the worker server,
// so enqueued jobs stay pending. Requires a local redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	redisClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: "localhost:6379",
		DB:   15,
	})
	t.Cleanup(func() { asynqClient.Close() })

	validate := validator.New()

	pipelineCfg := config.PipelineConfig{
		PageRetryLimit:      3,
		IllustratorAttempts: 3,
		JobMaxAttempts:      3,
	}
	storyService := service.NewStoryService(redisClient, asynqClient, pipelineCfg)
	storyHandler := handler.NewStoryHandler(storyService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"openai": false,
				"images": false,
				"r2":     false,
				"auth":   true,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	// Very high rate limits so tests don't get blocked
	stories := api.Group("/stories")
	stories.Post("/generate", rateLimiter.GenerateLimit(10000), storyHandler.Generate)
	stories.Get("/status/:jobId", rateLimiter.StatusLimit(10000), storyHandler.Status)
	stories.Get("/result/:jobId", storyHandler.Result)

	return &testApp{app: app}
}

// generateToken creates an HMAC JWT for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := middleware.NewAuthMiddleware(testJWTSecret).GenerateToken("test-user-123", "test@example.com")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses a response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
