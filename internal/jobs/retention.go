package jobs

import (
	"recq/pkg/logx"
)

// DefaultRetentionKeep bounds job history when no explicit keep is configured.
const DefaultRetentionKeep = 50

// Trimmer prunes terminal job records beyond the retention window. It runs
// after every terminal transition and again from the maintenance sweep;
// both paths are idempotent.
type Trimmer struct {
	keep int
	log  logx.Logger
}

func NewTrimmer(keep int, log logx.Logger) *Trimmer {
	if keep <= 0 {
		keep = DefaultRetentionKeep
	}
	return &Trimmer{keep: keep, log: log}
}

// Keep reports the configured window size.
func (t *Trimmer) Keep() int { return t.keep }

// Trim asks the store to drop terminal records outside the window and
// returns how many were deleted.
func (t *Trimmer) Trim(store *Store) int {
	if store == nil {
		return 0
	}
	n := store.Prune(t.keep)
	if n > 0 && !t.log.IsZero() {
		t.log.Debug("job history trimmed", logx.Int("deleted", n), logx.Int("keep", t.keep))
	}
	return n
}
