package dcc

import (
	"fmt"
	"strings"
	"time"
)

const chatBufSize = 4096

// chatReceive implements spec §4.8's receive half: read up to 4096 bytes,
// prepend any carried-over partial line, split on "\r\n" then "\n", decode
// and emit each complete line through the Observer Sink, and stash a
// trailing partial fragment back onto the Transfer for next time.
func (e *Engine) chatReceive(t *Transfer) {
	buf := make([]byte, chatBufSize)
	n, err := t.DataSock.Read(buf)
	if err != nil || n == 0 {
		e.closeTransfer(t, Aborted)
		e.Sink.Redraw(t)
		return
	}

	data := t.UnterminatedMessage + string(buf[:n])
	t.UnterminatedMessage = ""

	lines, rest := splitChatLines(data)
	t.UnterminatedMessage = rest
	t.LastActivity = time.Now()

	for _, raw := range lines {
		decoded := e.Codec.Decode([]byte(raw))
		t.chatSeq++
		e.Sink.ChatLine(t, t.chatSeq, decoded)
	}
	if len(lines) > 0 {
		e.Sink.Hotlist(t)
	}
}

// splitChatLines splits on "\r\n" first, then "\n", matching spec §4.8's
// "in that order per chunk" rule, and returns the trailing fragment (with
// no line terminator) separately so callers can carry it forward.
func splitChatLines(data string) (lines []string, rest string) {
	for {
		if idx := strings.Index(data, "\r\n"); idx >= 0 {
			lines = append(lines, data[:idx])
			data = data[idx+2:]
			continue
		}
		if idx := strings.Index(data, "\n"); idx >= 0 {
			lines = append(lines, data[:idx])
			data = data[idx+1:]
			continue
		}
		break
	}
	return lines, data
}

// SendChatLine implements spec §4.8's send half: format into a bounded
// buffer, skip empty/CRLF-only results, encode, and write all bytes.
// Closes the transfer with Failed on a short or erroring write.
func (e *Engine) SendChatLine(t *Transfer, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if len(msg) > chatBufSize {
		msg = msg[:chatBufSize]
	}
	if msg == "" || msg == "\r\n" {
		return nil
	}

	payload := e.Codec.Encode(msg)
	if _, err := t.DataSock.Write(payload); err != nil {
		e.Sink.Error(t, "chat send failed: %v", err)
		e.closeTransfer(t, Failed)
		return newErr("send-chat-line", ErrChatSendFailed, err)
	}
	t.LastActivity = time.Now()
	return nil
}
