// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agui

import (
	"errors"
	"io"
)

// chunkSize is how much Stream reads from the transport at a time.
const chunkSize = 4 << 10

// Stream pulls AG-UI bytes from a reader and yields translated events.
// It is finite and cannot be restarted: after the terminal event Next
// returns io.EOF, and the reader is not read again.
//
// Usage:
//
//	stream := agui.NewStream(response.Body)
//	for {
//	    event, err := stream.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    if err != nil {
//	        // transport failure
//	    }
//	    // handle event
//	}
type Stream struct {
	reader     io.Reader
	translator Translator
	queue      []Event
	buffer     []byte
	done       bool
}

// NewStream returns a Stream reading from reader.
func NewStream(reader io.Reader) *Stream {
	return &Stream{reader: reader, buffer: make([]byte, chunkSize)}
}

// Next returns the next event. A transport error other than io.EOF is
// returned as is and leaves the stream spent; a clean EOF without a
// terminal event yields a synthetic RunFinished first.
func (s *Stream) Next() (Event, error) {
	for len(s.queue) == 0 {
		if s.done {
			return Event{}, io.EOF
		}
		n, err := s.reader.Read(s.buffer)
		if n > 0 {
			s.queue = append(s.queue, s.translator.Feed(s.buffer[:n])...)
		}
		if s.translator.Finished() {
			s.done = true
			continue
		}
		if errors.Is(err, io.EOF) {
			s.queue = append(s.queue, s.translator.Finish()...)
			s.done = true
			continue
		}
		if err != nil {
			s.done = true
			s.queue = nil
			return Event{}, err
		}
	}

	event := s.queue[0]
	s.queue = s.queue[1:]
	return event, nil
}

// Content returns the assistant text accumulated so far.
func (s *Stream) Content() string {
	return s.translator.Content()
}
