// Package crawler implements the crawl orchestrator: discovery once, then bounded-concurrency
// fetch, extract, normalize and upsert for every candidate URL, with retries, politeness
// pauses and per-URL failure isolation.
package crawler
