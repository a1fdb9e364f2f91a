// Package replicate implements the replicator interface and state table
// of spec §4.6: a stateless function of (state, directives) whose only
// memory is a dedicated single-slot state ring. The state-table column
// set follows original_source/src/iiab/rep.c.
package replicate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SystemGarden/habitat-sub003/ring"
	"github.com/SystemGarden/habitat-sub003/store"
	"github.com/SystemGarden/habitat-sub003/table"
)

// State columns of the dedicated single-slot replication-state ring
// (spec §4.6).
const (
	stateColRelationship = "relationship"
	stateColLocalAddr    = "local_addr"
	stateColRemoteAddr   = "remote_addr"
	stateColLastLocal    = "last_local_seq"
	stateColLastRemote   = "last_remote_seq"
	stateColYoungestTime = "youngest_time"
	stateColLastAttempt  = "last_attempt"
)

var stateColumns = []string{
	stateColRelationship, stateColLocalAddr, stateColRemoteAddr,
	stateColLastLocal, stateColLastRemote, stateColYoungestTime, stateColLastAttempt,
}

// RelationState is one relationship's row of the state table.
type RelationState struct {
	Relationship string
	LocalAddr    string
	RemoteAddr   string
	LastLocal    int64
	LastRemote   int64
	YoungestTime int64
	LastAttempt  int64
}

// Direction is the parsed form of a directive (spec §4.6: `A<B` inbound,
// `A>B` outbound).
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

// Directive names a relationship and its direction, parsed from the
// `A<B`/`A>B` grammar.
type Directive struct {
	Local     string
	Remote    string
	Direction Direction
}

// ParseDirective parses one directive string.
func ParseDirective(s string) (Directive, error) {
	if i := strings.IndexByte(s, '<'); i >= 0 {
		return Directive{Local: s[:i], Remote: s[i+1:], Direction: Inbound}, nil
	}
	if i := strings.IndexByte(s, '>'); i >= 0 {
		return Directive{Local: s[:i], Remote: s[i+1:], Direction: Outbound}, nil
	}
	return Directive{}, fmt.Errorf("replicate: malformed directive %q", s)
}

func (d Directive) relationship() string {
	switch d.Direction {
	case Inbound:
		return d.Local + "<" + d.Remote
	default:
		return d.Local + ">" + d.Remote
	}
}

// Transport is the outbound collaborator the replicator reads from and
// writes to for the remote side of a relationship (spec §4.6's "HTTP
// client" collaborator, named out of scope in §1 — only its contract is
// specified here).
type Transport interface {
	ReadSince(addr string, seq int64) (*table.Table, int64, int64, error)
	Write(addr string, t *table.Table) (int64, int64, error)
}

// Replicator executes directives against a state ring and a ring.Engine
// for local rings (spec §4.6). It holds no memory of its own beyond those
// two collaborators: the state ring is reloaded and rewritten on every
// tick.
type Replicator struct {
	state     *ring.Handle
	local     *ring.Engine
	localPath string
	transport Transport
}

// New wires a Replicator over an already-open state ring, a local
// ring.Engine (for opening/creating local rings a directive addresses),
// the file path those local rings live in, and an outbound Transport.
func New(state *ring.Handle, local *ring.Engine, localPath string, transport Transport) *Replicator {
	return &Replicator{state: state, local: local, localPath: localPath, transport: transport}
}

// Tick executes every directive once, updating the state ring as it
// goes. A failing relationship is logged-and-skipped by the caller (spec
// §7: "the replicator logs and skips a failing relationship without
// aborting the batch") — Tick collects all per-directive errors and
// returns them together rather than stopping at the first.
func (r *Replicator) Tick(directives []Directive) []error {
	states := r.loadStates()
	var errs []error

	for _, d := range directives {
		key := d.relationship()
		st, ok := states[key]
		if !ok {
			// -1: nothing replicated yet, so seq 0 is the first one sent.
			st = RelationState{Relationship: key, LocalAddr: d.Local, RemoteAddr: d.Remote, LastLocal: -1, LastRemote: -1}
		}
		st.LastAttempt = time.Now().Unix()

		var err error
		switch d.Direction {
		case Inbound:
			st, err = r.replicateInbound(d, st)
		case Outbound:
			st, err = r.replicateOutbound(d, st)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("replicate %s: %w", key, err))
		}
		states[key] = st
	}

	if err := r.saveStates(states); err != nil {
		errs = append(errs, fmt.Errorf("replicate: persisting state: %w", err))
	}
	return errs
}

// replicateInbound reads remote samples past last_remote_seq, opens or
// creates the local ring, and writes them preserving their original
// sequences (spec §4.6 inbound).
func (r *Replicator) replicateInbound(d Directive, st RelationState) (RelationState, error) {
	remote, youngestTime, newRemoteSeq, err := r.transport.ReadSince(d.Remote, st.LastRemote)
	if err != nil {
		return st, err
	}
	if remote == nil || remote.NRows() == 0 {
		return st, nil
	}

	local, err := r.local.Open(ring.OpenOptions{
		Path:         r.localPath,
		Name:         d.Local,
		SlotCapacity: 0,
		Duration:     1,
		Create:       true,
	})
	if err != nil {
		return st, err
	}

	if err := local.Put(remote); err != nil {
		return st, err
	}

	st.LastRemote = newRemoteSeq
	st.YoungestTime = youngestTime
	return st, nil
}

// replicateOutbound reads local samples past last_local_seq and writes
// them to the remote, parsing the new remote seq/time from its response
// (spec §4.6 outbound).
func (r *Replicator) replicateOutbound(d Directive, st RelationState) (RelationState, error) {
	local, err := r.local.Open(ring.OpenOptions{
		Path:         r.localPath,
		Name:         d.Local,
		SlotCapacity: 0,
		Duration:     1,
		Create:       false,
	})
	if err != nil {
		return st, err
	}

	outgoing, err := local.MgetRange(st.LastLocal+1, ring.Wildcard, ring.Wildcard, ring.Wildcard)
	if err != nil {
		if store.Is(err, store.KindNotFound) {
			return st, nil
		}
		return st, err
	}

	newRemoteSeq, newRemoteTime, err := r.transport.Write(d.Remote, outgoing)
	if err != nil {
		return st, err
	}

	lastLocalSeq, _ := outgoing.NumericValue(outgoing.NRows()-1, table.SeqCol)
	st.LastLocal = int64(lastLocalSeq)
	st.LastRemote = newRemoteSeq
	st.YoungestTime = newRemoteTime
	return st, nil
}

// loadStates reads every row of the state ring into a relationship-keyed
// map.
func (r *Replicator) loadStates() map[string]RelationState {
	out := make(map[string]RelationState)
	t, err := r.state.MgetRange(ring.Wildcard, ring.Wildcard, ring.Wildcard, ring.Wildcard)
	if err != nil {
		return out
	}
	for i := 0; i < t.NRows(); i++ {
		rel := t.Value(i, stateColRelationship)
		out[rel] = RelationState{
			Relationship: rel,
			LocalAddr:    t.Value(i, stateColLocalAddr),
			RemoteAddr:   t.Value(i, stateColRemoteAddr),
			LastLocal:    parseInt(t.Value(i, stateColLastLocal)),
			LastRemote:   parseInt(t.Value(i, stateColLastRemote)),
			YoungestTime: parseInt(t.Value(i, stateColYoungestTime)),
			LastAttempt:  parseInt(t.Value(i, stateColLastAttempt)),
		}
	}
	return out
}

// saveStates overwrites the state ring's single slot with every known
// relationship's current row.
func (r *Replicator) saveStates(states map[string]RelationState) error {
	t := table.New(stateColumns...)
	for _, st := range states {
		t.AddRow(
			st.Relationship, st.LocalAddr, st.RemoteAddr,
			strconv.FormatInt(st.LastLocal, 10), strconv.FormatInt(st.LastRemote, 10),
			strconv.FormatInt(st.YoungestTime, 10), strconv.FormatInt(st.LastAttempt, 10),
		)
	}
	return r.state.Put(t)
}

func parseInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}
