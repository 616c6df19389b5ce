package tools

import (
	"context"
	"fmt"
)

// ContactLookup resolves a contact by name.
type ContactLookup interface {
	Lookup(name string) (Contact, bool)
}

// Contact is one entry of the contacts directory.
type Contact struct {
	Name  string `toml:"name"`
	Email string `toml:"email"`
	Phone string `toml:"phone"`
}

const (
	defaultEmail = "email@example.com"
	defaultPhone = "123-456-7890"
)

// funcTool adapts a function over string arguments to Tool.
type funcTool struct {
	name        string
	description string
	params      []Param
	fn          func(ctx context.Context, args map[string]string) (string, error)
}

// Param declares a required string argument.
type Param struct {
	Name        string
	Description string
}

// NewFunc builds a tool whose arguments are all required strings.
func NewFunc(name, description string, params []Param, fn func(ctx context.Context, args map[string]string) (string, error)) Tool {
	return &funcTool{name: name, description: description, params: params, fn: fn}
}

func (f *funcTool) Name() string        { return f.name }
func (f *funcTool) Description() string { return f.description }

func (f *funcTool) Parameters() Schema {
	s := Schema{Type: "object", Properties: make(map[string]Property, len(f.params))}
	for _, p := range f.params {
		s.Properties[p.Name] = Property{Type: "string", Description: p.Description}
		s.Required = append(s.Required, p.Name)
	}
	return s
}

func (f *funcTool) Invoke(ctx context.Context, args map[string]any) (string, error) {
	strs := make(map[string]string, len(f.params))
	for _, p := range f.params {
		v, ok := args[p.Name]
		if !ok {
			return "", fmt.Errorf("%w: missing %q", ErrInvalidArgs, p.Name)
		}
		s, err := stringArg(v)
		if err != nil {
			return "", fmt.Errorf("%w: %q %v", ErrInvalidArgs, p.Name, err)
		}
		strs[p.Name] = s
	}
	return f.fn(ctx, strs)
}

// Builtins returns the calendar, contact, email and search tools.
// contacts may be nil, in which case get_contact returns placeholder details.
func Builtins(contacts ContactLookup) []Tool {
	return []Tool{
		NewFunc("call_calendar",
			"Calls the Google Calendar API to perform various calendar operations.",
			[]Param{{"query", "Calendar operation to perform"}},
			func(_ context.Context, a map[string]string) (string, error) {
				return "Calendar operation performed: " + a["query"], nil
			}),
		NewFunc("get_contact",
			"Retrieves contact information for a given name.",
			[]Param{{"name", "Name of the contact"}},
			func(_ context.Context, a map[string]string) (string, error) {
				email, phone := defaultEmail, defaultPhone
				if contacts != nil {
					if c, ok := contacts.Lookup(a["name"]); ok {
						email, phone = c.Email, c.Phone
					}
				}
				return fmt.Sprintf("Contact info for %s: %s, %s", a["name"], email, phone), nil
			}),
		NewFunc("send_email",
			"Sends an email to a specified recipient with a subject and message body.",
			[]Param{{"to", "Recipient address"}, {"subject", "Subject line"}, {"body", "Message body"}},
			func(_ context.Context, a map[string]string) (string, error) {
				return fmt.Sprintf("Email sent to %s with subject: %s\nbody: %s", a["to"], a["subject"], a["body"]), nil
			}),
		NewFunc("web_search",
			"Performs a web search based on the given query string.",
			[]Param{{"query", "Search query"}},
			func(_ context.Context, a map[string]string) (string, error) {
				return "Web search results for: " + a["query"], nil
			}),
	}
}
