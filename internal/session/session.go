// Package session tracks the signed-in user for the client workflows.
//
// The auth provider owns the session lifecycle. Store only mirrors the latest
// transition it was told about and fans it out to subscribers; it never
// persists anything.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vindennt/gus-marketplace/internal/models"
)

// ErrLoginRequired is matched by every *LoginRequiredError
var ErrLoginRequired = errors.New("login required")

// LoginRequiredError is returned when a guarded action is attempted while
// signed out. Callers should send the user to the login view
type LoginRequiredError struct {
	Action string
}

func (e *LoginRequiredError) Error() string {
	return fmt.Sprintf("Please log in to %s.", e.Action)
}

func (e *LoginRequiredError) Is(target error) bool {
	return target == ErrLoginRequired
}

type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         models.User
}

type EventKind int

const (
	SignedIn EventKind = iota
	SignedOut
	TokenRefreshed
)

func (k EventKind) String() string {
	switch k {
	case SignedIn:
		return "SIGNED_IN"
	case SignedOut:
		return "SIGNED_OUT"
	case TokenRefreshed:
		return "TOKEN_REFRESHED"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to subscribers on every transition.
// Session is nil for SignedOut
type Event struct {
	Kind    EventKind
	Session *Session
}

// Source fetches the current session from the auth provider
type Source interface {
	CurrentSession(ctx context.Context) (*Session, error)
}

type Store struct {
	adminEmail string

	mu      sync.Mutex
	current *Session

	subsMu sync.Mutex
	nextID int
	subs   map[int]func(Event)
	order  []int
}

func New(adminEmail string) *Store {
	return &Store{
		adminEmail: strings.TrimSpace(adminEmail),
		subs:       make(map[int]func(Event)),
	}
}

// Load fetches the current session once. A nil session from the source
// signs the store out
func (s *Store) Load(ctx context.Context, src Source) error {
	sess, err := src.CurrentSession(ctx)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		s.Clear()
		return nil
	}
	s.Set(*sess)
	return nil
}

// Set records a new session. Setting a session for the user that is already
// signed in is reported as TokenRefreshed
func (s *Store) Set(sess Session) {
	s.mu.Lock()
	kind := SignedIn
	if s.current != nil && s.current.User.ID == sess.User.ID && s.current.User.Email == sess.User.Email {
		kind = TokenRefreshed
	}
	cp := sess
	s.current = &cp
	s.mu.Unlock()

	out := sess
	s.notify(Event{Kind: kind, Session: &out})
}

// Clear signs the store out. Subscribers hear about it only if a session existed
func (s *Store) Clear() {
	s.mu.Lock()
	had := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if had {
		s.notify(Event{Kind: SignedOut})
	}
}

// Subscribe registers fn for session-change events. Events are delivered
// synchronously in subscription order. The returned func unsubscribes and is
// safe to call more than once
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			delete(s.subs, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (s *Store) notify(ev Event) {
	s.subsMu.Lock()
	fns := make([]func(Event), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Current returns a copy of the session, if any
func (s *Store) Current() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Session{}, false
	}
	return *s.current, true
}

func (s *Store) LoggedIn() bool {
	_, ok := s.Current()
	return ok
}

func (s *Store) Email() string {
	sess, _ := s.Current()
	return sess.User.Email
}

func (s *Store) UserID() string {
	sess, _ := s.Current()
	return sess.User.ID
}

func (s *Store) Token() string {
	sess, _ := s.Current()
	return sess.AccessToken
}

// IsAdmin reports whether the signed-in user is the admin identity
func (s *Store) IsAdmin() bool {
	email := s.Email()
	return email != "" && s.adminEmail != "" && strings.EqualFold(email, s.adminEmail)
}

// IsOwner compares by email, the ownership key
func (s *Store) IsOwner(listing models.Listing) bool {
	email := s.Email()
	return email != "" && listing.UserName == email
}

// CanDelete decides whether to offer the delete affordance. The server makes
// the real decision
func (s *Store) CanDelete(listing models.Listing) bool {
	if !s.LoggedIn() {
		return false
	}
	return s.IsAdmin() || s.IsOwner(listing)
}

// Require returns a *LoginRequiredError for action when signed out
func (s *Store) Require(action string) error {
	if s.LoggedIn() {
		return nil
	}
	return &LoginRequiredError{Action: action}
}
