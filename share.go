package cntx

import (
	"io"
	"sync"
)

// Shared wraps any io.ReadSeeker (an *os.File, a network range reader,
// anything) as a ReadSeek that can be handed to multiple wrappers at
// once: the NCA container and every Aes128CtrReader it constructs for a
// section all hold their own Shared referencing the same underlying
// handle.
//
// Per spec.md §5, the model is single-threaded and cooperative: the
// mutex below only serializes the seek+read pair within one call so a
// caller on goroutine A can't observe a seek issued by goroutine B
// landing between A's seek and A's read. It does not make concurrent use
// by independent wrappers coherent — interleaved reads through two
// wrappers sharing a Shared still require the caller to serialize at a
// higher level, same as the Rust Rc<RefCell<dyn ReadSeek>> this type
// replaces.
type Shared struct {
	mu  *sync.Mutex
	src io.ReadSeeker
	pos int64
}

// NewShared wraps src for sharing across multiple readers.
func NewShared(src io.ReadSeeker) *Shared {
	return &Shared{mu: new(sync.Mutex), src: src}
}

// share returns a new handle onto the same underlying source and mutex,
// so wrappers constructed from it serialize against each other.
func (s *Shared) share() *Shared {
	return &Shared{mu: s.mu, src: s.src}
}

func (s *Shared) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.src.Seek(s.pos, io.SeekStart); err != nil {
		return 0, err
	}
	n, err := s.src.Read(p)
	s.pos += int64(n)
	return n, err
}

func (s *Shared) ReadFull(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.src.Seek(s.pos, io.SeekStart); err != nil {
		return err
	}
	n, err := io.ReadFull(s.src, p)
	s.pos += int64(n)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (s *Shared) Seek(offset int64, whence int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		end, err := s.src.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		base = end
	}
	s.pos = base + offset
	return s.pos, nil
}

func (s *Shared) Pos() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos, nil
}
