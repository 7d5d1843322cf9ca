/*
Package metrics provides Prometheus instrumentation for the ingestion
engine: scan and task counters by outcome, preprocessing and index
duration histograms, and the current worker pool size. Call Register once
at startup and expose Handler on an HTTP mux to scrape.
*/
package metrics
