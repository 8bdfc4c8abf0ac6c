package mcpagent

// TurnStream is a pull iterator over one turn's events. The producing
// goroutine pushes events in order and closes the stream with the turn's
// outcome; the consumer drains with Next/Current.
//
//	for stream.Next() {
//	    handle(stream.Current())
//	}
//	if err := stream.Err(); err != nil { ... }
type TurnStream struct {
	events  chan Event
	current Event
	errCh   chan error
	err     error
	done    bool
}

func newTurnStream(buffer int) *TurnStream {
	if buffer <= 0 {
		buffer = DefaultStreamBufferSize
	}
	return &TurnStream{
		events: make(chan Event, buffer),
		errCh:  make(chan error, 1),
	}
}

// Next blocks until the next event is available. It returns false once the
// turn has ended and all events are drained; check Err afterwards.
func (s *TurnStream) Next() bool {
	e, ok := <-s.events
	if !ok {
		if !s.done {
			s.done = true
			s.err = <-s.errCh
		}
		return false
	}
	s.current = e
	return true
}

// Current returns the event read by the last successful Next.
func (s *TurnStream) Current() Event { return s.current }

// Err returns the turn's terminal error, nil for a completed turn. Only
// meaningful after Next has returned false.
func (s *TurnStream) Err() error { return s.err }

// emit delivers an event to the consumer, blocking when the buffer is
// full. Producer side only.
func (s *TurnStream) emit(e Event) {
	s.events <- e
}

// tryEmit delivers an event unless the buffer is full; used for ambient
// notifications that must never block protocol goroutines.
func (s *TurnStream) tryEmit(e Event) bool {
	select {
	case s.events <- e:
		return true
	default:
		return false
	}
}

// finish ends the stream with the turn's outcome. Must be called exactly
// once, after the final event.
func (s *TurnStream) finish(err error) {
	s.errCh <- err
	close(s.events)
}
