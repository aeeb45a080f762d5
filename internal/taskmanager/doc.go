// Package taskmanager provides functionality for running an external
// job-search worker as background Tasks.
//
// A Task represents one invocation of the worker for either a CV or a list of
// companies. Its output is captured line by line while it runs and can be
// streamed concurrently to multiple clients.
//
// A Registry holds Task records, identified by UUID. A Supervisor runs the
// worker for a single Task and finalizes its record exactly once. A Manager
// ties them together and reads the worker's results.
package taskmanager
