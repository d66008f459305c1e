package provider

import (
	"net/http"
	"sync"

	"github.com/openai/openai-go/packages/ssestream"

	"lumen.app/relay/internal/model"
)

// TokenStream yields text deltas from a streamed provider response.
//
//	for s.Next() {
//		fmt.Print(s.Text())
//	}
//	if err := s.Err(); err != nil {
//		...
//	}
//
// The stream ends exactly once: on the end sentinel, on a non-null finish reason, on EOF,
// or on the first error. The response body is released when it ends.
type TokenStream struct {
	provider Provider
	decoder  ssestream.Decoder

	cur  string
	err  error
	done bool
	once sync.Once
}

func newTokenStream(p Provider, resp *http.Response) *TokenStream {
	return &TokenStream{provider: p, decoder: ssestream.NewDecoder(resp)}
}

// Next advances to the next non-empty delta.
func (s *TokenStream) Next() bool {
	s.cur = ""
	for !s.done {
		if !s.decoder.Next() {
			if err := s.decoder.Err(); err != nil {
				s.err = model.NewTransportError("reading "+string(s.provider.Name())+" stream", err)
			}
			s.finish()
			return false
		}

		frame, err := s.provider.DecodeFrame(s.decoder.Event())
		if err != nil {
			s.err = err
			s.finish()
			return false
		}
		if frame.Done {
			s.finish()
		}
		if frame.Text != "" {
			s.cur = frame.Text
			return true
		}
	}
	return false
}

// Text is the current delta.
func (s *TokenStream) Text() string { return s.cur }

// Err is the error that ended the stream, if any.
func (s *TokenStream) Err() error { return s.err }

// Close releases the response early. Safe to call more than once.
func (s *TokenStream) Close() error {
	s.finish()
	return nil
}

func (s *TokenStream) finish() {
	s.once.Do(func() {
		s.done = true
		_ = s.decoder.Close()
	})
}
