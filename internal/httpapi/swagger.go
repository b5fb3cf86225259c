//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// docTemplate is a trimmed OpenAPI document; `swag init -g cmd/assetd/docs.go` regenerates it
// with the annotation-generated one.
const docTemplate = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "description": "{{escape .Description}}", "version": "{{.Version}}"},
  "basePath": "{{.BasePath}}",
  "paths": {
    "/manifest": {"get": {"summary": "Export the manifest", "produces": ["application/json"], "responses": {"200": {"description": "manifest document"}}}},
    "/stats": {"get": {"summary": "Preload statistics", "responses": {"200": {"description": "stats"}}}},
    "/records": {"get": {"summary": "Cache entries and memory in use", "responses": {"200": {"description": "records"}}}},
    "/models/{id}/chain": {"get": {"summary": "Validate the fallback chain", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "chain"}, "404": {"description": "BrokenChain"}, "409": {"description": "CycleDetected"}}}},
    "/models/{id}/preload": {"post": {"summary": "Preload a model", "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "record"}, "422": {"description": "ChecksumMismatch"}, "502": {"description": "NetworkError"}, "504": {"description": "Timeout"}}}},
    "/models/{id}/asset": {"get": {"summary": "Cached asset bytes", "produces": ["model/gltf-binary", "model/gltf+json"], "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "payload"}, "404": {"description": "not loaded"}}}},
    "/displayed": {"put": {"summary": "Set the displayed model", "responses": {"204": {"description": "ok"}}}},
    "/progressive": {"post": {"summary": "Progressive load stream", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "NDJSON lines"}, "422": {"description": "InvalidRange"}}}},
    "/events": {"get": {"summary": "Lifecycle event stream", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "NDJSON events"}}}},
    "/surfaces/{sid}": {"post": {"summary": "Initialize surface diagnostics", "parameters": [{"name": "sid", "in": "path", "required": true, "type": "string"}], "responses": {"201": {"description": "created"}}}},
    "/quality/{level}": {"get": {"summary": "Quality settings for a level", "parameters": [{"name": "level", "in": "path", "required": true, "type": "string"}], "responses": {"200": {"description": "settings"}}}}
  }
}`

var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Title:            "assetd API",
	Description:      "3D asset preload, fallback chains and rendering-context recovery.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}

// MountSwagger serves the Swagger UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}
