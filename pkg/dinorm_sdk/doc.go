// Package dinorm_sdk bootstraps a docstore client from DinORM environment
// variables, resolving between the HTTP backend and the in-memory mock so
// application code runs unchanged with or without a reachable service.
package dinorm_sdk
