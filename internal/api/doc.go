// Package api exposes the task service over HTTP. It decodes and validates
// requests, maps service errors to status codes with {"detail": ...}
// bodies, and mounts every route both at the root and under /api/v1.
package api
