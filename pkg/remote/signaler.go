package remote

import (
	"os"
)

// Signaler is an eventfd-style wakeup primitive built on a pipe. Wake
// writes a single token; Ack blocks until a token arrives and discards
// it. Tokens never queue meaning beyond "at least one wakeup happened",
// so a reader that acks once may coalesce several wakes.
type Signaler struct {
	r *os.File
	w *os.File
}

func NewSignaler() (*Signaler, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &Signaler{r: r, w: w}, nil
}

// Wake posts one token. Safe from any goroutine, including real-time
// loops: a pipe write of one byte does not block until the kernel
// buffer fills, which only happens if the peer stopped acking.
func (s *Signaler) Wake() error {
	_, err := s.w.Write([]byte{1})
	return err
}

// Ack blocks until at least one token is pending, then drains one.
func (s *Signaler) Ack() error {
	var buf [1]byte
	_, err := s.r.Read(buf[:])
	return err
}

// Close tears down both ends. A blocked Ack returns with an error.
func (s *Signaler) Close() error {
	werr := s.w.Close()
	rerr := s.r.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
