// Package crawler defines the types, statuses and collaborator interfaces shared
// by the scheduler, worker pool, extractor, storage and API layers.
package crawler
