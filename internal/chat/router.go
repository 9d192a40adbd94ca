package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Sender posts replies back into chat; satisfied by helix.Client.
type Sender interface {
	SendChatMessage(ctx context.Context, text string) error
}

// HandlerFunc handles one parsed chat command.
type HandlerFunc func(ctx context.Context, cmd Command)

type route struct {
	aliases []string
	fn      HandlerFunc
}

// Router dispatches "!" commands from chat messages to handlers. It ships
// with a few built-ins plus owner-gated management of persisted custom
// commands.
type Router struct {
	sender Sender
	store  *Store
	owner  string
	ignore map[string]struct{}

	mu     sync.Mutex
	routes []route
}

func NewRouter(sender Sender, store *Store, owner string, ignoreLogins []string) *Router {
	r := &Router{
		sender: sender,
		store:  store,
		owner:  strings.ToLower(owner),
		ignore: make(map[string]struct{}, len(ignoreLogins)),
	}
	for _, login := range ignoreLogins {
		r.ignore[strings.ToLower(login)] = struct{}{}
	}

	r.Register([]string{"hello", "hi"}, func(ctx context.Context, cmd Command) {
		r.reply(ctx, fmt.Sprintf("Hello %s!", cmd.ChatterUserName))
	})
	r.Register([]string{"about"}, func(ctx context.Context, cmd Command) {
		r.reply(ctx, "I am a Twitch bot running on twitchwrapper!")
	})
	r.Register([]string{"command", "commands", "cmd", "cmds"}, r.listCommands)
	r.Register([]string{"cmdadd", "addcmd"}, r.ownerOnly(r.addCommand))
	r.Register([]string{"cmdedit", "editcmd"}, r.ownerOnly(r.editCommand))
	r.Register([]string{"cmddelete", "deletecmd", "cmdremove", "removecmd"}, r.ownerOnly(r.removeCommand))

	return r
}

// Register adds a handler reachable under any of the given aliases.
func (r *Router) Register(aliases []string, fn HandlerFunc) {
	lowered := make([]string, len(aliases))
	for i, a := range aliases {
		lowered[i] = strings.ToLower(a)
	}
	r.mu.Lock()
	r.routes = append(r.routes, route{aliases: lowered, fn: fn})
	r.mu.Unlock()
}

// Handle consumes one dispatched channel.chat.message payload. Non-command
// messages are logged; command messages are routed.
func (r *Router) Handle(ctx context.Context, payload json.RawMessage) {
	msg, err := ParseMessage(payload)
	if err != nil {
		slog.Warn("Failed to parse chat message", "error", err)
		return
	}
	if _, ignored := r.ignore[strings.ToLower(msg.ChatterUserLogin)]; ignored {
		return
	}

	if !msg.IsCommand() {
		slog.Info("Chat message", "from", msg.ChatterUserName, "text", msg.Text)
		return
	}

	cmd := ParseCommand(msg)
	if fn := r.lookup(cmd.Name); fn != nil {
		fn(ctx, cmd)
		return
	}

	if response, ok := r.store.Get(cmd.Name); ok {
		r.reply(ctx, response)
		return
	}
	slog.Debug("Unknown chat command", "command", cmd.Name, "from", msg.ChatterUserLogin)
}

func (r *Router) lookup(name string) HandlerFunc {
	lowered := strings.ToLower(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rt := range r.routes {
		for _, alias := range rt.aliases {
			if alias == lowered {
				return rt.fn
			}
		}
	}
	return nil
}

func (r *Router) reply(ctx context.Context, text string) {
	if err := r.sender.SendChatMessage(ctx, text); err != nil {
		slog.Warn("Failed to send chat reply", "error", err)
	}
}

func (r *Router) ownerOnly(fn HandlerFunc) HandlerFunc {
	return func(ctx context.Context, cmd Command) {
		if strings.ToLower(cmd.ChatterUserLogin) != r.owner {
			return
		}
		fn(ctx, cmd)
	}
}

func (r *Router) listCommands(ctx context.Context, cmd Command) {
	names := make([]string, 0)
	r.mu.Lock()
	for _, rt := range r.routes {
		names = append(names, rt.aliases[0])
	}
	r.mu.Unlock()
	for name := range r.store.All() {
		names = append(names, name)
	}
	sort.Strings(names)
	r.reply(ctx, "Available commands: !"+strings.Join(names, ", !"))
}

// addCommand handles "!cmdadd <name> <response text>".
func (r *Router) addCommand(ctx context.Context, cmd Command) {
	name, response, ok := splitNameResponse(cmd.Args)
	if !ok {
		r.reply(ctx, "Usage: !cmdadd <name> <response>")
		return
	}
	if _, exists := r.store.Get(name); exists {
		r.reply(ctx, fmt.Sprintf("%s already exists! Did you mean !cmdedit?", name))
		return
	}
	if err := r.store.Set(name, response); err != nil {
		slog.Error("Failed to save custom command", "command", name, "error", err)
		return
	}
	r.reply(ctx, fmt.Sprintf("%s successfully added!", name))
}

// editCommand handles "!cmdedit <name> <new response text>".
func (r *Router) editCommand(ctx context.Context, cmd Command) {
	name, response, ok := splitNameResponse(cmd.Args)
	if !ok {
		r.reply(ctx, "Usage: !cmdedit <name> <response>")
		return
	}
	if _, exists := r.store.Get(name); !exists {
		r.reply(ctx, "Could not find command or command is invalid: "+name)
		return
	}
	if err := r.store.Set(name, response); err != nil {
		slog.Error("Failed to save custom command", "command", name, "error", err)
		return
	}
	r.reply(ctx, fmt.Sprintf("%s successfully edited!", name))
}

// removeCommand handles "!cmddelete <name>".
func (r *Router) removeCommand(ctx context.Context, cmd Command) {
	fields := strings.Fields(cmd.Args)
	if len(fields) == 0 {
		r.reply(ctx, "Usage: !cmddelete <name>")
		return
	}
	name := strings.TrimPrefix(fields[0], commandIdentifier)
	if _, exists := r.store.Get(name); !exists {
		r.reply(ctx, fmt.Sprintf("%s is not a valid command.", name))
		return
	}
	if err := r.store.Delete(name); err != nil {
		slog.Error("Failed to delete custom command", "command", name, "error", err)
		return
	}
	r.reply(ctx, fmt.Sprintf("%s removed successfully.", name))
}

// splitNameResponse splits "name rest of the response" into its parts.
// The name may be given with or without the command identifier.
func splitNameResponse(args string) (name, response string, ok bool) {
	fields := strings.SplitN(strings.TrimSpace(args), " ", 2)
	if len(fields) < 2 || fields[0] == "" {
		return "", "", false
	}
	return strings.TrimPrefix(fields[0], commandIdentifier), fields[1], true
}
