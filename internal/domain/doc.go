// Package domain contains the task entity, its closed status and priority
// types, and the lifecycle transition rules. It has no dependencies on
// storage or transport.
package domain
