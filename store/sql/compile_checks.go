package sqlstore

import "github.com/goliatone/go-gatekeeper/core"

var (
	_ core.SnapshotStore      = (*SnapshotStore)(nil)
	_ core.SnapshotStore      = (*CachedSnapshotStore)(nil)
	_ core.DeliveryLogArchive = (*DeliveryArchive)(nil)
)
