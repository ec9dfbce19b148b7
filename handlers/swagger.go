package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>daybook-auth — Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

// Minimal OpenAPI document describing the auth and calendar endpoints.
const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "daybook-auth", "version": "v0.1.0" },
  "paths": {
    "/auth/login": {
      "post": {
        "summary": "Sign in with email and password",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}},
        "responses": { "200": { "description": "session cookie set" }, "401": { "description": "invalid credentials" } }
      }
    },
    "/auth/logout": {
      "post": { "summary": "Destroy the current session", "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/me": {
      "get": { "summary": "Current user", "responses": { "200": { "description": "user object" }, "401": { "description": "not signed in" } } }
    },
    "/auth/calendar/connect": {
      "get": { "summary": "Build the calendar provider consent URL", "responses": { "200": { "description": "{ url }" }, "401": { "description": "not signed in" } } }
    },
    "/auth/calendar/callback": {
      "get": { "summary": "Provider redirect target (code + state)", "responses": { "302": { "description": "redirect to the settings page" } } }
    },
    "/auth/calendar/status": {
      "get": { "summary": "Connection status (local read, no provider call)", "responses": { "200": { "description": "{ connected, calendarId }" } } }
    },
    "/auth/calendar": {
      "delete": { "summary": "Disconnect the calendar", "responses": { "204": { "description": "disconnected" } } }
    },
    "/api/v1/calendar/events": {
      "get": { "summary": "Upcoming events for the signed-in user", "responses": { "200": { "description": "{ events }" }, "412": { "description": "calendar not connected" }, "503": { "description": "provider temporarily unavailable" } } }
    },
    "/api/v1/admin/users": {
      "get": { "summary": "List users (admin only)", "responses": { "200": { "description": "{ users }" }, "403": { "description": "insufficient role" } } }
    }
  }
}`
