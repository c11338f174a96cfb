package inspect

import (
	"github.com/visualctx/vci/inspect/internal/store"
	"github.com/visualctx/vci/inspect/protocol"
)

// Store is the host half of the session. Re-exported from internal.
type Store = store.Store

// EditorSession is the per-element staging layer.
type EditorSession = store.EditorSession

// Notice is a transient user-visible message.
type Notice = store.Notice

// Payload is the immutable export object a session produces.
type Payload = store.Payload

// ExportEntry is one selected element inside a Payload.
type ExportEntry = store.ExportEntry

// UploadedImage is a design reference attached to a session.
type UploadedImage = protocol.UploadedImage

// PendingEdit is one staged or saved style/content change.
type PendingEdit = protocol.PendingEdit
