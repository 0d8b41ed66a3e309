package grove

import (
	"context"

	"github.com/jward/grove/internal/document"
)

// Open records a document owned by an editor. An empty languageID is
// derived from the URI's suffix.
func (e *Engine) Open(uri, languageID string, version int32, text string) {
	if languageID == "" {
		languageID, _ = e.registry.LanguageForURI(uri)
	}
	e.docs.Open(uri, languageID, version, text)
	e.index.AddFile(uri)
}

// Change applies content changes to an open document. The cached tree is
// patched with the resulting edits before its next reparse.
func (e *Engine) Change(uri string, version int32, changes []Change) error {
	if _, err := e.docs.Change(uri, version, changes); err != nil {
		return err
	}
	e.index.AddFile(uri)
	return nil
}

// CloseDocument hands uri back to the file system. Its tree is released
// and it is reindexed from disk.
func (e *Engine) CloseDocument(uri string) {
	e.docs.Close(uri)
	e.trees.Delete(uri)
	e.index.AddFile(uri)
}

// FilesChanged reports file-system changes. Changed and created files are
// reread and reindexed; deleted files leave the index.
func (e *Engine) FilesChanged(changed, deleted []string) {
	for _, uri := range changed {
		e.docs.Invalidate(uri)
		e.index.AddFile(uri)
	}
	for _, uri := range deleted {
		e.docs.Forget(uri)
		e.trees.Delete(uri)
		e.index.RemoveFile(uri)
	}
}

// InitFiles reconciles the index with the workspace files at startup. It
// seeds the index from the snapshot, indexes what the snapshot lacks and
// revalidates the rest in the background.
func (e *Engine) InitFiles(ctx context.Context, uris []string) error {
	return e.index.InitFiles(ctx, uris)
}

// Update indexes every pending document now.
func (e *Engine) Update(ctx context.Context) error {
	return e.index.Update(ctx)
}

// URIFromPath converts a file path to the URI form the Engine uses.
func URIFromPath(path string) string {
	return document.URIFromPath(path)
}

// PathFromURI converts a file URI back to a path.
func PathFromURI(uri string) (string, error) {
	return document.PathFromURI(uri)
}
