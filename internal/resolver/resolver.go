// Package resolver maintains the per-analysis, file-keyed script-name
// cache: a flat (file, path-id) -> fully-qualified name map populated by a
// scripts-only pre-pass over every asset file and queried during the main
// pass while naming MonoBehaviour components.
package resolver

import "github.com/sirupsen/logrus"

// SentinelName is returned when a MonoBehaviour's script pointer cannot be
// resolved to a registered name.
const SentinelName = "MonoBehaviour"

type key struct {
	file   string
	pathID int64
}

// Resolver owns the shared script-name table for the duration of one
// analysis call. It is an owned value passed through the pipeline rather
// than package-level state; callers that need to reset it between runs
// call Clear.
type Resolver struct {
	log   *logrus.Logger
	table map[key]string
}

func New(log *logrus.Logger) *Resolver {
	return &Resolver{log: log, table: make(map[key]string)}
}

// Clear empties the table. Required at the start of every analysis call;
// idempotence of detector runs depends on it (see analysis package tests).
func (r *Resolver) Clear() {
	r.table = make(map[key]string)
}

// RegisterScript records a MonoScript's fully-qualified name under the
// file it was found in and its own path-id, collected during the
// scripts-only pre-pass.
func (r *Resolver) RegisterScript(file string, pathID int64, name string) {
	r.table[key{file: file, pathID: pathID}] = name
}

// Resolve dereferences a MonoBehaviour's script pointer. fileID 0 (or out
// of the externals range) means "same file as currentFile"; fileID > 0 is
// a 1-based index into externals. On a miss in the target file's entry,
// Resolve falls back to any entry with a matching path-id (covering assets
// whose externals list omits the producer); on a full miss it returns
// SentinelName and logs once.
func (r *Resolver) Resolve(currentFile string, externals []string, fileID int32, pathID int64) string {
	target := currentFile
	if fileID > 0 && int(fileID) <= len(externals) {
		target = externals[fileID-1]
	}

	if name, ok := r.table[key{file: target, pathID: pathID}]; ok {
		return name
	}

	for k, name := range r.table {
		if k.pathID == pathID {
			return name
		}
	}

	r.log.WithFields(logrus.Fields{"file": target, "path_id": pathID}).Debug("script resolver miss")
	return SentinelName
}
