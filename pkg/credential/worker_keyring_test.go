package credential

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
)

func TestStore(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring(nil))

	if _, err := s.Get("intake@example.org"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get on empty ring = %v, want ErrNotFound", err)
	}
	if err := s.Set("intake@example.org", "s3cret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("intake@example.org")
	if err != nil || got != "s3cret" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete("intake@example.org"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("intake@example.org"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
}

func TestResolve(t *testing.T) {
	s := NewStore(keyring.NewArrayKeyring([]keyring.Item{{Key: "a@example.org", Data: []byte("from-ring")}}))

	tests := []struct {
		name       string
		configured string
		account    string
		store      *Store
		want       string
		wantErr    error
	}{
		{"configured wins", "from-env", "a@example.org", s, "from-env", nil},
		{"keyring fallback", "", "a@example.org", s, "from-ring", nil},
		{"unknown account", "", "b@example.org", s, "", ErrNotFound},
		{"no store", "", "a@example.org", nil, "", ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.configured, tt.account, tt.store)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
