package store

import "time"

// noticeDuration is how long a user-visible notice stays up before it
// dismisses itself.
const noticeDuration = 3 * time.Second

// Notice is a transient, user-visible message. Capacity violations and
// external failures surface here instead of as errors.
type Notice struct {
	Text string
	At   time.Time
}

// setNotice replaces the current notice and arms its dismiss timer. A
// pending timer for an earlier notice is cancelled first, so a burst of
// notices never dismisses the latest one early. Callers hold s.mu.
func (s *Store) setNotice(text string) {
	if s.noticeTimer != nil {
		s.noticeTimer.Stop()
	}
	s.notice = &Notice{Text: text, At: time.Now()}
	current := s.notice
	s.noticeTimer = time.AfterFunc(s.noticeTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.notice == current {
			s.notice = nil
		}
	})
}

// Notice returns the active notice, or nil after dismissal.
func (s *Store) Notice() *Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notice
}
