// Package store declares TaskStore, the persistence contract the lifecycle
// engine is written against, together with the error sentinels and the
// transaction helper shared by its implementations.
package store
