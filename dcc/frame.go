package dcc

import (
	"encoding/binary"
	"fmt"
)

// frameLen is the fixed size of a WorkerStatusFrame: "SEPPPPPPPPPPPP"
// (spec §3.4) — one status digit, one error digit, twelve zero-padded
// decimal position digits.
const frameLen = 14

// WorkerErrorCode is the worker-reported error code embedded in a status
// frame (spec §3.5).
type WorkerErrorCode int

const (
	WorkerNoError WorkerErrorCode = iota
	WorkerReadLocal
	WorkerSendBlock
	WorkerReadAck
	WorkerRecvBlock
	WorkerWriteLocal
)

// statusFrame is the sole worker->parent IPC message (spec §3.4): a
// 14-byte line carrying a TransferStatus digit, a WorkerErrorCode digit,
// and the worker's current byte position. Encoding mirrors
// transparentProxy/main.go's ReadPacket/WritePacket — explicit,
// fixed-width binary framing over a pipe/socket — generalized from
// transparentProxy's 4-byte length prefix to this protocol's fixed
// 14-byte ASCII-digit frame.
type statusFrame struct {
	Status TransferStatus
	Err    WorkerErrorCode
	Pos    uint64
}

func (f statusFrame) encode() [frameLen]byte {
	var buf [frameLen]byte
	buf[0] = byte('0' + int(f.Status))
	buf[1] = byte('0' + int(f.Err))
	pos := fmt.Sprintf("%012d", f.Pos)
	copy(buf[2:], pos)
	return buf
}

func decodeFrame(buf []byte) (statusFrame, error) {
	if len(buf) != frameLen {
		return statusFrame{}, fmt.Errorf("dcc: worker frame must be %d bytes, got %d", frameLen, len(buf))
	}
	s := buf[0]
	e := buf[1]
	if s < '0' || s > '5' || e < '0' || e > '5' {
		return statusFrame{}, fmt.Errorf("dcc: malformed worker frame digits %q", buf[:2])
	}
	var pos uint64
	for _, c := range buf[2:] {
		if c < '0' || c > '9' {
			return statusFrame{}, fmt.Errorf("dcc: malformed worker frame position %q", buf[2:])
		}
		pos = pos*10 + uint64(c-'0')
	}
	return statusFrame{
		Status: TransferStatus(s - '0'),
		Err:    WorkerErrorCode(e - '0'),
		Pos:    pos,
	}, nil
}

// encodeAck encodes the 4-byte big-endian cumulative-byte-count ACK the
// receiver sends back over the data socket (spec §6), mirroring
// proxyProto/s1.go's binary.BigEndian.PutUint16 field encoding widened to
// a 32-bit field.
func encodeAck(pos uint64) [4]byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(pos))
	return buf
}

func decodeAck(buf []byte) (uint32, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("dcc: ack must be 4 bytes, got %d", len(buf))
	}
	return binary.BigEndian.Uint32(buf), nil
}
