package core

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnknownCommand = errors.New("unknown command")

// CommandHandler decodes its own arguments from the front of *data.
type CommandHandler func(data *[]byte) error

// Command is one entry of the dictionary. Responses have no Handler.
type Command struct {
	ID      uint16
	Name    string
	Format  string
	Handler CommandHandler
}

// Signature is the dictionary key: the name followed by the argument format.
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns ids in registration order.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands []*Command
	byName   map[string]*Command
}

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{byName: make(map[string]*Command)}
}

// Register adds a command and returns its id. Registering a name twice
// returns the first id.
func (r *CommandRegistry) Register(name, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.byName[name]; ok {
		return c.ID
	}
	c := &Command{ID: uint16(len(r.commands)), Name: name, Format: format, Handler: handler}
	r.commands = append(r.commands, c)
	r.byName[name] = c
	return c.ID
}

// RegisterResponse adds a controller-to-host message.
func (r *CommandRegistry) RegisterResponse(name, format string) uint16 {
	return r.Register(name, format, nil)
}

func (r *CommandRegistry) Get(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.commands) {
		return nil, false
	}
	return r.commands[id], true
}

func (r *CommandRegistry) Lookup(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler of command id.
func (r *CommandRegistry) Dispatch(id uint16, data *[]byte) error {
	c, ok := r.Get(id)
	if !ok || c.Handler == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownCommand, id)
	}
	return c.Handler(data)
}

// Signatures splits the registry into command and response signatures
// keyed to their ids.
func (r *CommandRegistry) Signatures() (commands, responses map[string]int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	commands = make(map[string]int)
	responses = make(map[string]int)
	for _, c := range r.commands {
		if c.Handler != nil {
			commands[c.Signature()] = int(c.ID)
		} else {
			responses[c.Signature()] = int(c.ID)
		}
	}
	return commands, responses
}
