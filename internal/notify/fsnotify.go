package notify

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/microsoft/wil-sub001/internal/log"
	"github.com/microsoft/wil-sub001/internal/resource"
	"github.com/microsoft/wil-sub001/internal/waitable"
)

// FSNotifier opens fsnotify-backed subscriptions.
type FSNotifier struct{}

// NewFSNotifier returns the default Notifier.
func NewFSNotifier() *FSNotifier {
	return &FSNotifier{}
}

type fsSubscription struct {
	handle    *resource.Handle
	recursive bool
	fsw       *fsnotify.Watcher

	mu      sync.Mutex
	armed   *waitable.Event
	watched map[string]struct{}
	failure error
	closed  bool

	done      chan struct{}
	closeOnce sync.Once
}

// Open starts watching h. The handle stays owned by the caller.
func (n *FSNotifier) Open(h *resource.Handle, recursive bool) (Subscription, error) {
	if h == nil {
		return nil, errors.New("handle is nil")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	sub := &fsSubscription{
		handle:    h,
		recursive: recursive && h.IsDir(),
		fsw:       fsw,
		watched:   make(map[string]struct{}),
		done:      make(chan struct{}),
	}

	sub.mu.Lock()
	err = sub.addWatchesLocked()
	sub.mu.Unlock()
	if err != nil && !errors.Is(err, ErrPartialAccess) {
		_ = fsw.Close()
		return nil, err
	}

	go sub.loop()
	log.Debug(log.CatNotify, "subscription opened", "path", h.Path(), "recursive", sub.recursive)
	return sub, nil
}

func (s *fsSubscription) Arm(ev *waitable.Event) error {
	if ev == nil {
		return errors.New("event is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.failure != nil {
		err := s.failure
		s.failure = nil
		return err
	}

	if err := s.handle.Check(); err != nil {
		switch {
		case errors.Is(err, resource.ErrGone):
			return fmt.Errorf("%w: %w", ErrResourceGone, err)
		case errors.Is(err, resource.ErrPermission):
			return fmt.Errorf("%w: %w", ErrAccessRevoked, err)
		default:
			return fmt.Errorf("checking %s: %w", s.handle.Path(), err)
		}
	}

	var partial error
	if s.recursive {
		// Directories created since the last arm need their own watch.
		if err := s.addWatchesLocked(); err != nil {
			if !errors.Is(err, ErrPartialAccess) {
				return err
			}
			partial = err
		}
	}

	s.armed = ev
	return partial
}

func (s *fsSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.armed = nil
		s.mu.Unlock()

		close(s.done)
		err = s.fsw.Close()
	})
	return err
}

func (s *fsSubscription) loop() {
	for {
		select {
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(event)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.handleError(err)
		case <-s.done:
			return
		}
	}
}

func (s *fsSubscription) handleEvent(event fsnotify.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && event.Name != s.handle.Path() {
		delete(s.watched, event.Name)
	}
	s.fireLocked()
}

func (s *fsSubscription) handleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// An overflow only means changes were lost; treat it as a change.
	if !errors.Is(err, fsnotify.ErrEventOverflow) {
		log.ErrorErr(log.CatNotify, "fsnotify error", err, "path", s.handle.Path())
		s.failure = fmt.Errorf("fsnotify: %w", err)
	}
	s.fireLocked()
}

func (s *fsSubscription) fireLocked() {
	if s.armed == nil {
		return
	}
	s.armed.Set()
	s.armed = nil
}

func (s *fsSubscription) addWatchesLocked() error {
	root := s.handle.Path()
	if !s.recursive {
		if _, ok := s.watched[root]; ok {
			return nil
		}
		if err := s.fsw.Add(root); err != nil {
			return fmt.Errorf("watching %s: %w", root, err)
		}
		s.watched[root] = struct{}{}
		return nil
	}

	skipped := 0
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			if errors.Is(err, fs.ErrPermission) {
				skipped++
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if _, ok := s.watched[path]; ok {
			return nil
		}
		if err := s.fsw.Add(path); err != nil {
			switch {
			case errors.Is(err, fs.ErrPermission):
				skipped++
				return fs.SkipDir
			case errors.Is(err, fs.ErrNotExist) && path != root:
				return fs.SkipDir
			default:
				return fmt.Errorf("watching %s: %w", path, err)
			}
		}
		s.watched[path] = struct{}{}
		return nil
	})
	if err != nil {
		return err
	}
	if skipped > 0 {
		log.Warn(log.CatNotify, "nested directories not watched", "path", root, "skipped", skipped)
		return fmt.Errorf("%s: %d directories: %w", root, skipped, ErrPartialAccess)
	}
	return nil
}
