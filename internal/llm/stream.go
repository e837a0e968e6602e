package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// maxFrameSize bounds a single SSE line. Longer lines are discarded
// and counted as skipped frames.
const maxFrameSize = 1024 * 1024

// DeltaDecoder extracts the text carried by one frame body. It returns
// ok=false for bodies that do not parse; the stream skips those.
type DeltaDecoder func(data []byte) (text string, ok bool)

// Stream is a finite, single-pass sequence of text deltas read from a
// server-sent-events body. Typical use:
//
//	s, err := client.ChatStream(ctx, req)
//	if err != nil { ... }
//	defer s.Close()
//	for s.Next() {
//		buf.WriteString(s.Current())
//	}
//	if err := s.Err(); err != nil { ... }
//
// A consumer may stop early; Close releases the connection without
// signalling the server.
type Stream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	decode  DeltaDecoder
	logger  *slog.Logger

	cur     string
	err     error
	done    bool
	skipped int
}

// NewStream wraps an SSE body. A nil logger discards skip diagnostics.
func NewStream(body io.ReadCloser, decode DeltaDecoder, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stream{body: body, reader: bufio.NewReaderSize(body, 64*1024), decode: decode, logger: logger}
}

// Next advances to the next non-empty delta. It returns false at
// `[DONE]`, at end of body, or on a read error (see Err).
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for {
		line, tooLong, err := s.readLine()
		if err != nil {
			if err != io.EOF {
				s.err = fmt.Errorf("read stream: %w", err)
			}
			s.finish()
			return false
		}
		if tooLong {
			s.skipped++
			s.logger.Debug("skipping oversized stream frame", "limit", maxFrameSize)
			continue
		}
		data, ok := frameData(string(line))
		if !ok {
			continue
		}
		if data == "[DONE]" {
			s.finish()
			return false
		}
		text, ok := s.decode([]byte(data))
		if !ok {
			s.skipped++
			s.logger.Debug("skipping malformed stream frame", "frame", truncate(data, 200))
			continue
		}
		if text == "" {
			continue
		}
		s.cur = text
		return true
	}
}

// readLine returns the next line without its terminator. A line longer
// than maxFrameSize is consumed in full and reported as tooLong.
func (s *Stream) readLine() (line []byte, tooLong bool, err error) {
	for {
		chunk, isPrefix, rerr := s.reader.ReadLine()
		if rerr != nil {
			return nil, false, rerr
		}
		if !tooLong {
			if len(line)+len(chunk) > maxFrameSize {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !isPrefix {
			return line, tooLong, nil
		}
	}
}

// Current returns the delta produced by the last successful Next.
func (s *Stream) Current() string { return s.cur }

// Err returns the transport error that ended the stream, if any.
// Reaching `[DONE]` or a clean end of body is not an error.
func (s *Stream) Err() error { return s.err }

// Skipped returns how many frames failed to parse.
func (s *Stream) Skipped() int { return s.skipped }

// Close releases the underlying body. Safe to call more than once.
func (s *Stream) Close() error {
	s.done = true
	s.cur = ""
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}

func (s *Stream) finish() {
	s.done = true
	s.cur = ""
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}

// Collect drains the stream into one string. Used by callers that want
// the streaming transport without incremental output.
func (s *Stream) Collect() (string, error) {
	defer s.Close()
	var sb strings.Builder
	for s.Next() {
		sb.WriteString(s.Current())
	}
	return sb.String(), s.Err()
}

// frameData returns the body of a `data: ` line. Event names, comments
// and blank separator lines are not data frames.
func frameData(line string) (string, bool) {
	data, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(data), true
}

// openAIChunk is the subset of a chat.completion.chunk we read.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// DecodeOpenAIDelta reads choices[0].delta.content from a chunk.
func DecodeOpenAIDelta(data []byte) (string, bool) {
	var chunk openAIChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 {
		return "", true
	}
	return chunk.Choices[0].Delta.Content, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
