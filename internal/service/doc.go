// Package service contains the task use cases exposed to the delivery
// layer. It sits between the HTTP handlers and the lifecycle engine and
// dispatcher, validating query parameters and translating unexpected
// infrastructure failures into service errors.
//
// Expected conditions are returned as the sentinel errors of the lower
// layers so callers can test them with errors.Is:
//   - store.ErrTaskNotFound when a task does not exist
//   - domain.ErrNotCancellable when a cancel targets a terminal task
//   - domain.ErrValidation for rejected input
//
// Anything else is wrapped in a *TaskServiceError naming the operation.
package service
