package negotiation

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/klingon-exchange/swapcore/pkg/logging"
)

const (
	maxMessageSize  = 64 * 1024
	streamDeadline  = 30 * time.Second
)

// readLengthPrefixed reads a 4-byte big-endian length prefix followed by
// that many bytes of JSON.
func readLengthPrefixed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, fmt.Errorf("negotiation: read length prefix: %w", err)
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("negotiation: message too large: %d > %d", length, maxMessageSize)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("negotiation: read message body: %w", err)
	}
	return data, nil
}

// writeLengthPrefixed writes data prefixed with its own big-endian
// length.
func writeLengthPrefixed(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("negotiation: message too large: %d > %d", len(data), maxMessageSize)
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return fmt.Errorf("negotiation: write length prefix: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("negotiation: write message body: %w", err)
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("negotiation: marshal response: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("negotiation: unmarshal request: %w", err)
	}
	return nil
}

// StageHandler processes one decoded request for a stage and returns the
// response to send back, or an error to close the stream without a
// response.
type StageHandler func(ctx context.Context, remote peer.ID, requestJSON []byte) (responseJSON []byte, err error)

// Transport opens and serves one-shot request/response streams for each
// negotiation stage over a libp2p host, mirroring the teacher's
// StreamHandler but with exactly one message each way per stream instead
// of an open-ended ACK'd message loop.
type Transport struct {
	host host.Host
	log  *logging.Logger
}

// NewTransport wraps a libp2p host.
func NewTransport(h host.Host) *Transport {
	return &Transport{host: h, log: logging.GetDefault().Component("negotiation-transport")}
}

// Serve registers handler for stage on the host, closing the stream
// after one request/response exchange.
func (t *Transport) Serve(stage Stage, handler StageHandler) {
	t.host.SetStreamHandler(ProtocolID(stage), func(s network.Stream) {
		defer s.Close()

		remote := s.Conn().RemotePeer()
		s.SetReadDeadline(time.Now().Add(streamDeadline))
		s.SetWriteDeadline(time.Now().Add(streamDeadline))

		reqBytes, err := readLengthPrefixed(bufio.NewReader(s))
		if err != nil {
			t.log.Warn("failed to read negotiation request", "stage", stage, "peer", remote, "error", err)
			return
		}

		respBytes, err := handler(context.Background(), remote, reqBytes)
		if err != nil {
			t.log.Warn("negotiation stage handler failed", "stage", stage, "peer", remote, "error", err)
			return
		}

		if err := writeLengthPrefixed(s, respBytes); err != nil {
			t.log.Warn("failed to write negotiation response", "stage", stage, "peer", remote, "error", err)
		}
	})
}

// Unserve removes the handler for stage, used during shutdown.
func (t *Transport) Unserve(stage Stage) {
	t.host.RemoveStreamHandler(ProtocolID(stage))
}

// Call opens a stream to peer for stage, sends request, and returns the
// decoded response.
func (t *Transport) Call(ctx context.Context, p peer.ID, stage Stage, request, response any) error {
	s, err := t.host.NewStream(ctx, p, ProtocolID(stage))
	if err != nil {
		return fmt.Errorf("negotiation: open stream for %s: %w", stage, err)
	}
	defer s.Close()

	deadline := time.Now().Add(streamDeadline)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	s.SetReadDeadline(deadline)
	s.SetWriteDeadline(deadline)

	reqBytes, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("negotiation: marshal %s request: %w", stage, err)
	}
	if err := writeLengthPrefixed(s, reqBytes); err != nil {
		return err
	}

	respBytes, err := readLengthPrefixed(bufio.NewReader(s))
	if err != nil {
		return err
	}
	if response == nil {
		return nil
	}
	if err := json.Unmarshal(respBytes, response); err != nil {
		return fmt.Errorf("negotiation: unmarshal %s response: %w", stage, err)
	}
	return nil
}
