package detect

type ledgerKey struct {
	entity string
	kind   string
}

// Ledger records which (entity, trigger kind) pairs already fired for one
// match. It is cleared only when the match changes.
type Ledger struct {
	matchID string
	fired   map[ledgerKey]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{fired: make(map[ledgerKey]struct{})}
}

func (l *Ledger) MatchID() string { return l.matchID }

// Reset clears every entry and binds the ledger to matchID.
func (l *Ledger) Reset(matchID string) {
	l.matchID = matchID
	clear(l.fired)
}

func (l *Ledger) Fired(entity, kind string) bool {
	_, ok := l.fired[ledgerKey{entity, kind}]
	return ok
}

// Mark records the pair and reports whether it was new.
func (l *Ledger) Mark(entity, kind string) bool {
	k := ledgerKey{entity, kind}
	if _, ok := l.fired[k]; ok {
		return false
	}
	l.fired[k] = struct{}{}
	return true
}

func (l *Ledger) Len() int { return len(l.fired) }
