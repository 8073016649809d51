// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"io"
	"strings"
	"sync"
)

// ChatStream is the lazy, finite sequence of text fragments produced by
// one chat turn. It is consumed by a single goroutine.
//
//	for {
//	    fragment, err := stream.Next()
//	    if err == io.EOF {
//	        break // completed: stream.Content() is the full reply
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    send(fragment)
//	}
type ChatStream struct {
	ctx     context.Context
	next    func(ctx context.Context) (string, error)
	release func()

	content   strings.Builder
	err       error
	closeOnce sync.Once
}

// NewChatStream returns a stream whose fragments come from next. next
// returns io.EOF when the turn completes and any other error when it
// fails; it is not called again after either. release, if non-nil, runs
// exactly once when the stream ends or is closed.
func NewChatStream(ctx context.Context, next func(ctx context.Context) (string, error), release func()) *ChatStream {
	return &ChatStream{ctx: ctx, next: next, release: release}
}

// Fragment is one element of a channel-fed stream: text, or a terminal
// error.
type Fragment struct {
	Text string
	Err  error
}

// NewChannelStream returns a stream fed by fragments. A closed channel
// completes the stream; a Fragment with Err set fails it.
func NewChannelStream(ctx context.Context, fragments <-chan Fragment, release func()) *ChatStream {
	return NewChatStream(ctx, func(ctx context.Context) (string, error) {
		select {
		case fragment, ok := <-fragments:
			if !ok {
				return "", io.EOF
			}
			if fragment.Err != nil {
				return "", fragment.Err
			}
			return fragment.Text, nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}, release)
}

// Next returns the next non-empty fragment, io.EOF when the turn has
// completed, or the error that ended it. Once Next has returned an
// error it keeps returning the same error.
func (s *ChatStream) Next() (string, error) {
	for {
		if s.err != nil {
			return "", s.err
		}
		if err := s.ctx.Err(); err != nil {
			s.finish(err)
			continue
		}
		fragment, err := s.next(s.ctx)
		if err != nil {
			s.finish(err)
			continue
		}
		if fragment == "" {
			continue
		}
		s.content.WriteString(fragment)
		return fragment, nil
	}
}

// Content returns the text yielded so far.
func (s *ChatStream) Content() string {
	return s.content.String()
}

// Close abandons the stream and releases its resources. Subsequent Next
// calls return context.Canceled unless the stream had already ended.
func (s *ChatStream) Close() {
	if s.err == nil {
		s.err = context.Canceled
	}
	s.closeOnce.Do(s.runRelease)
}

func (s *ChatStream) finish(err error) {
	s.err = err
	s.closeOnce.Do(s.runRelease)
}

func (s *ChatStream) runRelease() {
	if s.release != nil {
		s.release()
	}
}
