package bolt

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/SystemGarden/habitat-sub003/store"
)

// Reserved keys (spec §6).
const (
	keySuperblock = "superblock"
	keyRingDir    = "ringdir"
	keyHeaders    = "headdict"
	keyDamaged    = "damaged"
)

func keyIndex(ringID int64) string {
	return "ri" + strconv.FormatInt(ringID, 10)
}

func keyDataBlock(ringID, seq int64) string {
	return "rd" + strconv.FormatInt(ringID, 10) + "_" + strconv.FormatInt(seq, 10)
}

// encodeSuper renders the superblock as the pipe-separated, null-terminated
// ASCII record of spec §6.
func encodeSuper(s *store.Superblock) []byte {
	fields := []string{
		s.Magic,
		strconv.Itoa(s.Version),
		strconv.FormatInt(s.Created, 10),
		s.OSName,
		s.OSRelease,
		s.OSVersion,
		s.Host,
		s.Domain,
		s.Machine,
		strconv.Itoa(s.TZOffsetSec),
		strconv.FormatInt(s.Generation, 10),
		strconv.FormatInt(s.RingCounter, 10),
	}
	return append([]byte(strings.Join(fields, "|")), 0)
}

func decodeSuper(raw []byte) (*store.Superblock, error) {
	s := strings.TrimSuffix(string(raw), "\x00")
	fields := strings.Split(s, "|")
	if len(fields) != 12 {
		return nil, fmt.Errorf("superblock: expected 12 fields, got %d", len(fields))
	}
	atoi := func(s string) int64 {
		v, _ := strconv.ParseInt(s, 10, 64)
		return v
	}
	return &store.Superblock{
		Magic:       fields[0],
		Version:     int(atoi(fields[1])),
		Created:     atoi(fields[2]),
		OSName:      fields[3],
		OSRelease:   fields[4],
		OSVersion:   fields[5],
		Host:        fields[6],
		Domain:      fields[7],
		Machine:     fields[8],
		TZOffsetSec: int(atoi(fields[9])),
		Generation:  atoi(fields[10]),
		RingCounter: atoi(fields[11]),
	}, nil
}

// encodeRingDir renders the ring directory table: tab-separated columns,
// newline-separated rows (spec §6: name, dur, id, long, about, nslots).
func encodeRingDir(dir store.RingDir) []byte {
	var b strings.Builder
	for i, r := range dir {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s\t%d\t%d\t%s\t%s\t%d", r.Name, r.Dur, r.ID, r.Long, r.About, r.NSlots)
	}
	return []byte(b.String())
}

func decodeRingDir(raw []byte) (store.RingDir, error) {
	s := string(raw)
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, "\n")
	dir := make(store.RingDir, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) != 6 {
			return nil, fmt.Errorf("ringdir: expected 6 fields, got %d in %q", len(f), line)
		}
		dur, _ := strconv.ParseInt(f[1], 10, 64)
		id, _ := strconv.ParseInt(f[2], 10, 64)
		nslots, _ := strconv.ParseInt(f[5], 10, 64)
		dir = append(dir, store.RingRow{
			Name: f[0], Dur: dur, ID: id, Long: f[3], About: f[4], NSlots: nslots,
		})
	}
	return dir, nil
}

// encodeHeaders renders the header dictionary as `hash|text` records
// joined by \x01 (spec §6).
func encodeHeaders(dict store.HeaderDict) []byte {
	hashes := make([]uint32, 0, len(dict))
	for h := range dict {
		hashes = append(hashes, h)
	}
	// deterministic order keeps re-writes byte-stable for tests / diffs.
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	var b strings.Builder
	for i, h := range hashes {
		if i > 0 {
			b.WriteByte(0x01)
		}
		fmt.Fprintf(&b, "%d|%s", h, dict[h])
	}
	return []byte(b.String())
}

func decodeHeaders(raw []byte) (store.HeaderDict, error) {
	dict := make(store.HeaderDict)
	s := string(raw)
	if s == "" {
		return dict, nil
	}
	for _, rec := range strings.Split(s, "\x01") {
		if rec == "" {
			continue
		}
		idx := strings.IndexByte(rec, '|')
		if idx < 0 {
			return nil, fmt.Errorf("headdict: malformed record %q", rec)
		}
		h, err := strconv.ParseUint(rec[:idx], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("headdict: bad hash %q: %w", rec[:idx], err)
		}
		dict[uint32(h)] = rec[idx+1:]
	}
	return dict, nil
}

// encodeIndex renders a ring index: seq, time, hd_hash, tab-separated,
// newline-separated (spec §6).
func encodeIndex(idx store.Index) []byte {
	var b strings.Builder
	for i, r := range idx {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d\t%d\t%d", r.Seq, r.Time, r.HeaderHash)
	}
	return []byte(b.String())
}

func decodeIndex(raw []byte) (store.Index, error) {
	s := string(raw)
	if s == "" {
		return nil, nil
	}
	lines := strings.Split(s, "\n")
	idx := make(store.Index, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		f := strings.Split(line, "\t")
		if len(f) != 3 {
			return nil, fmt.Errorf("index: expected 3 fields, got %d in %q", len(f), line)
		}
		seq, _ := strconv.ParseInt(f[0], 10, 64)
		t, _ := strconv.ParseInt(f[1], 10, 64)
		h, _ := strconv.ParseUint(f[2], 10, 32)
		idx = append(idx, store.IndexRow{Seq: seq, Time: t, HeaderHash: uint32(h)})
	}
	return idx, nil
}

// encodeDataBlock renders `time|hd_hash|rowbody` (spec §6).
func encodeDataBlock(b store.DataBlock) []byte {
	prefix := fmt.Sprintf("%d|%d|", b.Time, b.HeaderHash)
	return append([]byte(prefix), b.Body...)
}

func decodeDataBlock(seq int64, raw []byte) (store.DataBlock, error) {
	parts := strings.SplitN(string(raw), "|", 3)
	if len(parts) != 3 {
		return store.DataBlock{}, fmt.Errorf("datablock: expected 3 fields, got %d", len(parts))
	}
	t, _ := strconv.ParseInt(parts[0], 10, 64)
	h, _ := strconv.ParseUint(parts[1], 10, 32)
	return store.DataBlock{Seq: seq, Time: t, HeaderHash: uint32(h), Body: []byte(parts[2])}, nil
}
