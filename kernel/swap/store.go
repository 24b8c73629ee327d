// Package swap provides the backing store that holds the pages of an address
// space while they are evicted from physical memory.
package swap

import (
	"os"

	"nachos/kernel"
	"nachos/kernel/kfmt"
	"nachos/kernel/mm"
	"nachos/kernel/sync"
)

var (
	errCreateSwapFile = &kernel.Error{Module: "swap", Message: "unable to create swap file"}
	errSwapIO         = &kernel.Error{Module: "swap", Message: "swap file I/O failed"}
	errBadPageBuffer  = &kernel.Error{Module: "swap", Message: "page buffer length must equal the page size"}
	errStoreClosed    = &kernel.Error{Module: "swap", Message: "swap store is closed"}

	// createTempFn is used by tests to simulate file creation failures.
	createTempFn = os.CreateTemp
)

// Store is a swap file that keeps the evicted pages of a single address
// space. Virtual page i is stored at offset i*mm.PageSize.
type Store struct {
	file *os.File

	// lock guards present.
	lock    sync.Spinlock
	present map[mm.Page]bool
}

// Create returns a Store backed by a new file inside dir. The file is removed
// when the store is closed.
func Create(dir string) (*Store, *kernel.Error) {
	f, err := createTempFn(dir, "SWAP.*")
	if err != nil {
		kfmt.Printf("[swap] creating swap file in %q failed: %s\n", dir, err.Error())
		return nil, errCreateSwapFile
	}

	kfmt.Debugf('s', "[swap] created %s\n", f.Name())
	return &Store{
		file:    f,
		present: make(map[mm.Page]bool),
	}, nil
}

// Name returns the path of the swap file.
func (s *Store) Name() string {
	return s.file.Name()
}

// Contains returns true if a copy of page has been written to the store.
func (s *Store) Contains(page mm.Page) bool {
	s.lock.Acquire()
	defer s.lock.Release()

	return s.present[page]
}

// WritePage stores the contents of src as the copy of page.
func (s *Store) WritePage(page mm.Page, src []byte) *kernel.Error {
	if len(src) != int(mm.PageSize) {
		return errBadPageBuffer
	}

	if s.file == nil {
		return errStoreClosed
	}

	if _, err := s.file.WriteAt(src, int64(page.Address())); err != nil {
		kfmt.Printf("[swap] writing page %d to %s failed: %s\n", page, s.file.Name(), err.Error())
		return errSwapIO
	}

	s.lock.Acquire()
	s.present[page] = true
	s.lock.Release()

	kfmt.Debugf('s', "[swap] page %d written to %s\n", page, s.file.Name())
	return nil
}

// ReadPage copies the stored contents of page into dst. It returns false if
// the page was never written to the store.
func (s *Store) ReadPage(page mm.Page, dst []byte) (bool, *kernel.Error) {
	if len(dst) != int(mm.PageSize) {
		return false, errBadPageBuffer
	}

	if !s.Contains(page) {
		return false, nil
	}

	if s.file == nil {
		return false, errStoreClosed
	}

	if _, err := s.file.ReadAt(dst, int64(page.Address())); err != nil {
		kfmt.Printf("[swap] reading page %d from %s failed: %s\n", page, s.file.Name(), err.Error())
		return false, errSwapIO
	}

	kfmt.Debugf('s', "[swap] page %d read from %s\n", page, s.file.Name())
	return true, nil
}

// Close closes and removes the swap file.
func (s *Store) Close() *kernel.Error {
	if s.file == nil {
		return nil
	}

	name := s.file.Name()
	closeErr := s.file.Close()
	removeErr := os.Remove(name)
	s.file = nil

	if closeErr != nil || removeErr != nil {
		kfmt.Printf("[swap] releasing %s failed\n", name)
		return errSwapIO
	}

	return nil
}
