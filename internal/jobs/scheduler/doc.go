// Package scheduler registers schedules and computes trigger times (cron, interval, once).
//
// Execution is delegated to internal/jobs/engine. The scheduler is responsible only for:
//   - registering schedules
//   - computing next trigger times
//   - enqueueing jobs into the engine
package scheduler
