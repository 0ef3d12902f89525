package fileset

import "context"

// GC removes unreferenced filesets and files (spec.md §4.8). liveFilesetIDs
// is the full set of fileset ids found by scanning every fileset column in
// the declared schema; liveFileIDs narrows that further to individual file
// ids still referenced within a given fileset, when the caller tracks that
// (a live fileset id with no entry in liveFileIDs keeps every file; an entry
// that is present but nil or empty deletes every file in that fileset).
//
// GC is idempotent: re-running it against an already-clean repository is a
// no-op. It is safe to run concurrently with reads because it only ever
// deletes blobs the caller has already confirmed are unreachable from the
// current schema snapshot.
func GC(ctx context.Context, repo Repository, liveFilesetIDs map[string]bool, liveFileIDs map[string]map[string]bool) error {
	filesets, err := repo.ListFilesets(ctx)
	if err != nil {
		return err
	}

	for _, id := range filesets {
		if !liveFilesetIDs[id] {
			if err := repo.DeleteFileset(ctx, id); err != nil {
				return err
			}
			continue
		}

		live, tracked := liveFileIDs[id]
		if !tracked {
			continue
		}
		files, err := repo.ListFiles(ctx, id)
		if err != nil {
			return err
		}
		for _, f := range files {
			if !live[f.ID] {
				if err := repo.DeleteFile(ctx, id, f.ID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
