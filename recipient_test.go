package postman

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rbaliyan/postman/resolver"
	"github.com/rbaliyan/postman/store"
)

func TestSplitRecipients(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"bob", []string{"bob"}},
		{" bob, carol ,,", []string{"bob", "carol"}},
		{"", nil},
		{" , ", nil},
	}
	for _, tt := range tests {
		if got := SplitRecipients(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitRecipients(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRecipientFieldCheckCount(t *testing.T) {
	f := &RecipientField{Min: 1, Max: 2}
	tests := []struct {
		name    string
		entries []string
		want    string
	}{
		{"one", []string{"bob"}, ""},
		{"two", []string{"bob", "carol"}, ""},
		{"blank only", []string{" "}, "Ensure this value has at least 1 items (it has 0)."},
		{"three", []string{"a", "b", "c"}, "Ensure this value has at most 2 items (it has 3)."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verr := f.CheckCount(tt.entries)
			if tt.want == "" {
				if verr != nil {
					t.Errorf("unexpected error: %v", verr)
				}
				return
			}
			if verr == nil || verr.Fields[FieldRecipients][0] != tt.want {
				t.Errorf("expected %q, got %v", tt.want, verr)
			}
		})
	}

	unbounded := &RecipientField{}
	if verr := unbounded.CheckCount(nil); verr != nil {
		t.Errorf("no limits should accept anything, got %v", verr)
	}
}

func TestRecipientFieldResolve(t *testing.T) {
	ctx := context.Background()
	dir := resolver.NewStatic(testUsers...)

	t.Run("input order", func(t *testing.T) {
		f := &RecipientField{Min: 1, Max: 5, Directory: dir}
		users, err := f.Resolve(ctx, []string{"carol", "1", "Bob@Example.com"})
		if err != nil {
			t.Fatalf("resolve failed: %v", err)
		}
		var ids []string
		for _, u := range users {
			ids = append(ids, u.ID)
		}
		if !reflect.DeepEqual(ids, []string{"3", "1", "2"}) {
			t.Errorf("unexpected users: %v", ids)
		}
	})

	t.Run("count checked before lookup", func(t *testing.T) {
		f := &RecipientField{Max: 1, Directory: dir}
		_, err := f.Resolve(ctx, []string{"zed", "yan"})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if got := verr.Fields[FieldRecipients]; len(got) != 1 || got[0] != "Ensure this value has at most 1 items (it has 2)." {
			t.Errorf("unexpected messages: %q", got)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		f := &RecipientField{Directory: dir}
		_, err := f.Resolve(ctx, []string{"nobody@example.com"})
		if !IsValidationError(err) {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("directory failure", func(t *testing.T) {
		boom := errors.New("directory down")
		f := &RecipientField{Directory: failingDirectory{err: boom}}
		_, err := f.Resolve(ctx, []string{"bob"})
		if !errors.Is(err, boom) || IsValidationError(err) {
			t.Errorf("expected directory error, got %v", err)
		}
	})

	t.Run("user filter reasons", func(t *testing.T) {
		f := &RecipientField{
			Directory: dir,
			UserFilter: func(_ context.Context, u *store.User) (*Block, error) {
				switch u.Username {
				case "bob":
					return Blocked("away"), nil
				case "carol":
					return Blocked(""), nil
				}
				return nil, nil
			},
		}
		_, err := f.Resolve(ctx, []string{"alice", "bob", "carol"})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error, got %v", err)
		}
		want := "Some usernames are rejected: bob (away), carol."
		if got := verr.Fields[FieldRecipients]; len(got) != 1 || got[0] != want {
			t.Errorf("expected %q, got %q", want, got)
		}
	})
}

type failingDirectory struct{ err error }

func (d failingDirectory) UserByID(context.Context, string) (*store.User, error) {
	return nil, d.err
}

func (d failingDirectory) UserByUsername(context.Context, string) (*store.User, error) {
	return nil, d.err
}

func (d failingDirectory) UserByEmail(context.Context, string) (*store.User, error) {
	return nil, d.err
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"bob@example.com", true},
		{"first.last+tag@sub.example.org", true},
		{"bob", false},
		{"Bob <bob@example.com>", false},
		{"bob@", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validEmail(tt.in); got != tt.want {
			t.Errorf("validEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestChainExchangeFilters(t *testing.T) {
	ctx := context.Background()
	bob := &store.User{ID: "2", Username: "bob"}
	var calls []string
	named := func(name string, b *Block) ExchangeFilter {
		return func(context.Context, Party, *store.User, []*store.User) (*Block, error) {
			calls = append(calls, name)
			return b, nil
		}
	}

	f := ChainExchangeFilters(named("a", nil), nil, named("b", Blocked("no")), named("c", nil))
	b, err := f(ctx, VisitorParty("v@example.com"), bob, []*store.User{bob})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b == nil || b.Reason != "no" {
		t.Errorf("expected block from b, got %+v", b)
	}
	if !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Errorf("chain should stop at the first block, calls=%v", calls)
	}

	calls = nil
	if b, _ := ChainExchangeFilters(named("a", nil))(ctx, VisitorParty("v@example.com"), bob, nil); b != nil {
		t.Errorf("expected no block, got %+v", b)
	}
}

func TestParty(t *testing.T) {
	alice := UserParty(&store.User{ID: "1", Username: "alice", Email: "alice@example.com"})
	visitor := VisitorParty("Guest@Example.com")

	if alice.IsVisitor() || alice.ID() != "1" || alice.Name() != "alice" || alice.Address() != "alice@example.com" {
		t.Errorf("unexpected user party: %+v", alice)
	}
	if !visitor.IsVisitor() || visitor.ID() != "" || visitor.Name() != "Guest@Example.com" || visitor.Address() != "Guest@Example.com" {
		t.Errorf("unexpected visitor party: %+v", visitor)
	}

	if !visitor.same(VisitorParty("guest@example.com")) {
		t.Error("visitor addresses compare case-insensitively")
	}
	if alice.same(visitor) || visitor.same(alice) {
		t.Error("a user is never a visitor")
	}
	if !alice.same(UserParty(&store.User{ID: "1"})) {
		t.Error("users compare by ID")
	}
}

func TestPrioritize(t *testing.T) {
	a := UserParty(&store.User{ID: "1"})
	b := UserParty(&store.User{ID: "2"})
	c := UserParty(&store.User{ID: "3"})

	got := prioritize([]Party{b, a, c, a}, &a)
	var ids []string
	for _, p := range got {
		ids = append(ids, p.ID())
	}
	if !reflect.DeepEqual(ids, []string{"1", "2", "3"}) {
		t.Errorf("unexpected order: %v", ids)
	}

	if got := prioritize([]Party{b, c}, nil); len(got) != 2 {
		t.Errorf("nil priority should keep the list, got %d", len(got))
	}
}
