package memstore

import (
	"context"
	"strings"

	"github.com/tawsellah/driverportal-sub000/internal/user"
)

var _ user.Repository = (*Store)(nil)

func (s *Store) Create(_ context.Context, u *user.User) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, user.ErrEmailExists
		}
	}

	created := *u
	created.ID = len(s.users) + 1
	created.CreatedAt = s.now().UTC()
	s.users = append(s.users, created)
	return &created, nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, user.ErrUserNotFound
}

func (s *Store) FindByID(_ context.Context, id int) (*user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id <= 0 || id > len(s.users) {
		return nil, user.ErrUserNotFound
	}
	found := s.users[id-1]
	return &found, nil
}

func (s *Store) EmailExists(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	return err == nil, nil
}
