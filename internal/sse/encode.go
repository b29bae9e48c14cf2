// Package sse implements the line-oriented Server-Sent Events wire format
// used by the gateway: an encoder for envelopes and a restartable decoder for
// subscribers.
package sse

import (
	"bytes"
	"io"
	"strconv"
	"time"

	"github.com/Strob0t/tideway/internal/domain/event"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

var (
	fieldID   = []byte("id: ")
	fieldData = []byte("data: ")
)

// Encode frames an envelope as a single SSE event.
func Encode(env event.Envelope) []byte {
	return AppendEvent(nil, env.ID(), env.Payload())
}

// AppendEvent appends one framed event to dst. The payload is split on line
// breaks (LF, CRLF or a lone CR) into one data line per payload line, so an
// empty payload still produces a single empty data line.
//
// Framing is lossy for payloads containing CR: every CRLF and lone CR
// decodes as LF. Payloads without CR round-trip byte for byte. A lone CR
// cannot be sent verbatim because SSE decoders treat it as a line break.
func AppendEvent(dst []byte, id string, payload []byte) []byte {
	if id != "" {
		dst = append(dst, fieldID...)
		dst = append(dst, id...)
		dst = append(dst, '\n')
	}

	rest := payload
	for {
		i := bytes.IndexAny(rest, "\r\n")
		dst = append(dst, fieldData...)
		if i < 0 {
			dst = append(dst, rest...)
			dst = append(dst, '\n')
			break
		}
		dst = append(dst, rest[:i]...)
		dst = append(dst, '\n')
		if rest[i] == '\r' && i+1 < len(rest) && rest[i+1] == '\n' {
			i++
		}
		rest = rest[i+1:]
	}

	return append(dst, '\n')
}

// WriteEvent frames env and writes it to w.
func WriteEvent(w io.Writer, env event.Envelope) error {
	_, err := w.Write(Encode(env))
	return err
}

// WriteComment writes a comment line followed by a blank line. Decoders
// ignore comments; they keep idle connections alive through proxies.
func WriteComment(w io.Writer, text string) error {
	_, err := io.WriteString(w, ": "+text+"\n\n")
	return err
}

// WriteRetry writes the reconnection delay hint.
func WriteRetry(w io.Writer, d time.Duration) error {
	_, err := io.WriteString(w, "retry: "+strconv.FormatInt(d.Milliseconds(), 10)+"\n\n")
	return err
}
