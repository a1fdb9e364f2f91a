package replicate

import (
	"context"
	"fmt"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/SystemGarden/habitat-sub003/table"
)

// readSinceRequest/writeRequest/transportResponse are the small JSON
// envelopes exchanged with a remote ringstore endpoint: dial, write one
// request, decode one typed response off the same connection.
type readSinceRequest struct {
	Op   string `json:"op"`
	Addr string `json:"addr"`
	Seq  int64  `json:"seq"`
}

type writeRequest struct {
	Op    string `json:"op"`
	Addr  string `json:"addr"`
	Table string `json:"table"`
}

type transportResponse struct {
	Table        string `json:"table"`
	YoungestTime int64  `json:"youngest_time"`
	NewSeq       int64  `json:"new_seq"`
	Err          string `json:"err,omitempty"`
}

// WSTransport is the one concrete Transport, dialing a fresh websocket
// connection per call. It is the "HTTP client" collaborator named out of
// scope in spec §1 — only enough of it exists here to satisfy Transport's
// contract and demonstrate the wiring.
type WSTransport struct {
	dialTimeout time.Duration
}

// NewWSTransport returns a WSTransport with a default 10s dial timeout.
func NewWSTransport() *WSTransport {
	return &WSTransport{dialTimeout: 10 * time.Second}
}

func (w *WSTransport) call(addr string, req any) (transportResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), w.dialTimeout)
	defer cancel()

	c, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return transportResponse{}, fmt.Errorf("replicate: dial %s: %w", addr, err)
	}
	defer c.CloseNow()

	if err := wsjson.Write(ctx, c, req); err != nil {
		return transportResponse{}, fmt.Errorf("replicate: write %s: %w", addr, err)
	}

	var resp transportResponse
	if err := wsjson.Read(ctx, c, &resp); err != nil {
		return transportResponse{}, fmt.Errorf("replicate: read %s: %w", addr, err)
	}
	if resp.Err != "" {
		return transportResponse{}, fmt.Errorf("replicate: remote %s: %s", addr, resp.Err)
	}

	_ = c.Close(websocket.StatusNormalClosure, "")
	return resp, nil
}

// ReadSince implements Transport.
func (w *WSTransport) ReadSince(addr string, seq int64) (*table.Table, int64, int64, error) {
	resp, err := w.call(addr, readSinceRequest{Op: "read_since", Addr: addr, Seq: seq})
	if err != nil {
		return nil, 0, 0, err
	}
	if resp.Table == "" {
		return nil, resp.YoungestTime, resp.NewSeq, nil
	}
	t, err := table.Decode([]byte(resp.Table))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("replicate: decoding remote table: %w", err)
	}
	return t, resp.YoungestTime, resp.NewSeq, nil
}

// Write implements Transport.
func (w *WSTransport) Write(addr string, t *table.Table) (int64, int64, error) {
	resp, err := w.call(addr, writeRequest{Op: "write", Addr: addr, Table: string(t.Encode())})
	if err != nil {
		return 0, 0, err
	}
	return resp.NewSeq, resp.YoungestTime, nil
}
