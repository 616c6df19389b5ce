package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltins_Output(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	ctx := context.Background()

	tests := []struct {
		tool string
		args map[string]any
		want string
	}{
		{"call_calendar", map[string]any{"query": "book Tuesday 2 PM"}, "Calendar operation performed: book Tuesday 2 PM"},
		{"get_contact", map[string]any{"name": "Eric"}, "Contact info for Eric: email@example.com, 123-456-7890"},
		{"send_email", map[string]any{"to": "eric@example.com", "subject": "Meeting", "body": "See you"}, "Email sent to eric@example.com with subject: Meeting\nbody: See you"},
		{"web_search", map[string]any{"query": "weather paris"}, "Web search results for: weather paris"},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, err := r.Invoke(ctx, tt.tool, tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry_NotFound(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	_, err := r.Invoke(context.Background(), "launch_rocket", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistry_InvalidArgs(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	ctx := context.Background()

	_, err := r.Invoke(ctx, "send_email", map[string]any{"to": "a@b.c"})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = r.Invoke(ctx, "web_search", map[string]any{"query": []any{"x"}})
	assert.ErrorIs(t, err, ErrInvalidArgs)

	_, err = r.Invoke(ctx, "web_search", map[string]any{"query": "x", "limit": 3.0})
	assert.ErrorIs(t, err, ErrInvalidArgs)
}

func TestRegistry_ScalarArgsRendered(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	got, err := r.Invoke(context.Background(), "web_search", map[string]any{"query": 42.0})
	require.NoError(t, err)
	assert.Equal(t, "Web search results for: 42", got)
}

func TestRegistry_ToolError(t *testing.T) {
	boom := errors.New("calendar unavailable")
	r := NewRegistry(NewFunc("flaky", "fails", nil, func(context.Context, map[string]string) (string, error) {
		return "", boom
	}))
	_, err := r.Invoke(context.Background(), "flaky", map[string]any{})
	assert.ErrorIs(t, err, boom)
}

func TestRegistry_Duplicate(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	err := r.Register(Builtins(nil)[0])
	assert.ErrorIs(t, err, ErrDuplicate)
	assert.Panics(t, func() { NewRegistry(append(Builtins(nil), Builtins(nil)...)...) })
}

func TestRegistry_NamesSorted(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	assert.Equal(t, []string{"call_calendar", "get_contact", "send_email", "web_search"}, r.Names())
}

func TestRegistry_Specs(t *testing.T) {
	r := NewRegistry(Builtins(nil)...)
	specs := r.Specs()
	require.Len(t, specs, 4)

	email := specs[2]
	assert.Equal(t, "function", email.Type)
	require.NotNil(t, email.Function)
	assert.Equal(t, "send_email", email.Function.Name)

	schema, ok := email.Function.Parameters.(Schema)
	require.True(t, ok)
	assert.Equal(t, "object", schema.Type)
	assert.Equal(t, []string{"to", "subject", "body"}, schema.Required)
	assert.Equal(t, "string", schema.Properties["subject"].Type)
}

type staticContacts map[string]Contact

func (s staticContacts) Lookup(name string) (Contact, bool) {
	c, ok := s[name]
	return c, ok
}

func TestGetContact_UsesDirectory(t *testing.T) {
	r := NewRegistry(Builtins(staticContacts{
		"Eric": {Name: "Eric", Email: "eric@corp.example", Phone: "555-0100"},
	})...)
	ctx := context.Background()

	got, err := r.Invoke(ctx, "get_contact", map[string]any{"name": "Eric"})
	require.NoError(t, err)
	assert.Equal(t, "Contact info for Eric: eric@corp.example, 555-0100", got)

	got, err = r.Invoke(ctx, "get_contact", map[string]any{"name": "Dana"})
	require.NoError(t, err)
	assert.Equal(t, "Contact info for Dana: email@example.com, 123-456-7890", got)
}
