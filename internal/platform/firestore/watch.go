package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"
)

// WatchDocument streams snapshots of a single document until ctx is
// cancelled or the handler returns an error. The first snapshot is
// delivered immediately; deletions arrive with Exists() == false.
func WatchDocument(ctx context.Context, ref *firestore.DocumentRef, handle func(ctx context.Context, snap *firestore.DocumentSnapshot) error) error {
	if ref == nil {
		return WrapError("watch", errors.New("firestore: document ref is nil"))
	}
	if handle == nil {
		return WrapError("watch", errors.New("firestore: watch handler is nil"))
	}

	iter := ref.Snapshots(ctx)
	defer iter.Stop()

	for {
		snapshot, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return WrapError("watch", err)
		}
		if err := handle(ctx, snapshot); err != nil {
			return err
		}
	}
}
