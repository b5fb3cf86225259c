package main

// General API documentation for swaggo. Generate with `swag init -g cmd/assetd/docs.go`.
//
// @title           assetd API
// @version         1.0
// @description     3D asset preload cache, fallback chains, progressive quality loading and rendering-context recovery.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
