package session

import "time"

// PresenceRecord tracks one participant's connectivity inside the actor.
// Records are mutated only by the owning actor goroutine; the grace timer
// re-enters through the inbox, guarded by an epoch so a reconnect cancels
// any in-flight expiry.
type PresenceRecord struct {
	ParticipantID string
	Connected     bool
	Out           chan []byte

	GraceDeadline time.Time
	// PendingAction is "skip-turn" while a grace timer is armed, else "".
	PendingAction string
	graceTimer    Timer
	graceEpoch    uint64
}

type presenceTable struct {
	records map[string]*PresenceRecord
}

func newPresenceTable() *presenceTable {
	return &presenceTable{records: map[string]*PresenceRecord{}}
}

func (t *presenceTable) get(pid string) *PresenceRecord {
	return t.records[pid]
}

func (t *presenceTable) attach(pid string, out chan []byte) *PresenceRecord {
	r := t.records[pid]
	if r == nil {
		r = &PresenceRecord{ParticipantID: pid}
		t.records[pid] = r
	}
	r.Connected = out != nil
	r.Out = out
	return r
}

func (t *presenceTable) remove(pid string) {
	if r := t.records[pid]; r != nil && r.graceTimer != nil {
		r.graceTimer.Stop()
	}
	delete(t.records, pid)
}

func (t *presenceTable) allDisconnected() bool {
	for _, r := range t.records {
		if r.Connected {
			return false
		}
	}
	return true
}

// send delivers one frame to a single participant if connected. A full
// client queue drops the frame; the client detects the version gap and
// falls back to a full sync.
func (t *presenceTable) send(pid string, frame []byte) bool {
	r := t.records[pid]
	if r == nil || !r.Connected || r.Out == nil {
		return false
	}
	select {
	case r.Out <- frame:
		return true
	default:
		return false
	}
}

// broadcast delivers one frame to every connected participant except the
// ids in skip, preserving the order frames were produced in.
func (t *presenceTable) broadcast(frame []byte, skip ...string) {
	for pid := range t.records {
		skipped := false
		for _, s := range skip {
			if s == pid {
				skipped = true
				break
			}
		}
		if !skipped {
			t.send(pid, frame)
		}
	}
}
