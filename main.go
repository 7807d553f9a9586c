// The main package for the poisearch executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, single-page search, bulk-search submission,
//     task polling, saved results and the region table. Every /api response uses a {code, data, message}
//     envelope.
//   - Jobs: internal/bulk.Service registers each submission in the in-memory registry and runs it in the
//     background. The orchestrator fans regions out with a fixed concurrency cap, and each region is paged to
//     exhaustion by internal/region with its own page-level cap.
//   - Upstream: internal/amap paces every request with a jittered delay, retries HTTP errors, transport errors
//     and the soft rate-limit sentinel, and fetches through the Colly fetcher. An optional token bucket caps
//     process-wide QPS and an optional Redis cache serves repeated pages.
//   - Persistence & fanout: aggregates land in memory, on local disk, in GCS or in Postgres. Job lifecycle
//     events are batched by the progress hub into zap logs, Prometheus collectors and Pub/Sub (or an
//     in-memory publisher when no topic is set).
//   - Configuration & plumbing: Viper populates config from .env files, a config file and POI_* env vars; zap
//     provides structured logging; finished jobs are reaped on a cron schedule.
//
// Quick checklist:
//   - Set POI_AMAP_KEY, then run `poisearch serve` or `poisearch search coffee --regions 江苏省`.
//   - Rebuild the region table with `poisearch regions import AMap_adcode_citycode.xlsx -o regions.json` and
//     point POI_REGIONS_FILE at the output.
package main

import (
	"github.com/JakeFAU/realtime-poi-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
