package validation

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{
		MaxMessageLength: 50,
		Logger:           zap.NewNop(),
	}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func postChat(t *testing.T, app *fiber.App, body, contentType string) int {
	t.Helper()

	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestValidMessagePasses(t *testing.T) {
	app := newTestApp()

	status := postChat(t, app, `{"message": "what is the leave policy?"}`, "application/json")
	assert.Equal(t, fiber.StatusOK, status)
}

func TestRejectsUnsupportedContentType(t *testing.T) {
	app := newTestApp()

	status := postChat(t, app, "message=hi", "text/plain")
	assert.Equal(t, fiber.StatusUnsupportedMediaType, status)
}

func TestRejectsMissingMessage(t *testing.T) {
	app := newTestApp()

	status := postChat(t, app, `{"session_id": "abc"}`, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRejectsBlankMessage(t *testing.T) {
	app := newTestApp()

	status := postChat(t, app, `{"message": "   "}`, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRejectsOverlongMessage(t *testing.T) {
	app := newTestApp()

	long := strings.Repeat("a", 60)
	status := postChat(t, app, `{"message": "`+long+`"}`, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRejectsScriptInjection(t *testing.T) {
	app := newTestApp()

	status := postChat(t, app, `{"message": "<script>alert(1)</script>"}`, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestRejectsMalformedJSON(t *testing.T) {
	app := newTestApp()

	status := postChat(t, app, `{"message": `, "application/json")
	assert.Equal(t, fiber.StatusBadRequest, status)
}
