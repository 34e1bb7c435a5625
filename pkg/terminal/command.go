// Package terminal implements the interactive shell: it responds to
// user input and dispatches to the symbolizer.
package terminal

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cosiner/argv"

	"github.com/go-wasmsym/wasmsym/pkg/locspec"
	"github.com/go-wasmsym/wasmsym/pkg/symbolizer"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases []string
	helpMsg string
	cmdFn   cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands for the wasmsym terminal.
type Commands struct {
	cmds []command
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// DefaultCommands returns a Commands struct with default commands defined.
func DefaultCommands() *Commands {
	c := &Commands{}

	c.cmds = []command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"resolve", "r"}, cmdFn: resolve, helpMsg: `Resolves addresses to source locations.

	resolve <address>...

Addresses accept the 0x prefix for hexadecimal. Each address prints one
line: the function name and file:line:column, or ?? for whatever half
could not be resolved.`},
		{aliases: []string{"funcs"}, cmdFn: funcs, helpMsg: `Prints the functions found in the module's debug information.

	funcs [prefix]`},
		{aliases: []string{"pc"}, cmdFn: pc, helpMsg: `Finds the code address for a location.

	pc <locspec>

The location may be a file:line, a function name, /regex/ matching
function names, or *address.`},
		{aliases: []string{"stats"}, cmdFn: stats, helpMsg: "Prints debug information statistics for the loaded module."},
		{aliases: []string{"sources"}, cmdFn: sources, helpMsg: "Prints the module's source map export as JSON."},
		{aliases: []string{"config"}, cmdFn: configCmd, helpMsg: "Prints the active configuration."},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the interactive session."},
	}

	sort.Sort(byFirstAlias(c.cmds))
	return c
}

// Find looks up a command by name.
func (c *Commands) Find(cmdstr string) cmdfunc {
	// If <enter> use last command, if there was one.
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

var noCmdError = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return noCmdError
}

func nullCommand(t *Term, args string) error {
	return nil
}

// ExitRequestError is returned when the user exits the session.
type ExitRequestError struct{}

func (ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return noCmdError
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 0, '-', 0)
	for _, cmd := range c.cmds {
		h := cmd.helpMsg
		if idx := strings.Index(h, "\n"); idx >= 0 {
			h = h[:idx]
		}
		if len(cmd.aliases) > 1 {
			fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
		} else {
			fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func resolve(t *Term, args string) error {
	if args == "" {
		return errors.New("not enough arguments")
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("illegal argument list '%s'", args)
	}

	for _, arg := range v[0] {
		addr, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid address %q: %v", arg, err)
		}
		frame, ok := t.sym.Resolve(addr)
		t.Println(fmt.Sprintf("%#x: ", addr), FormatFrame(frame, ok))
	}
	return nil
}

// FormatFrame renders a resolved frame the way runtimes print stack
// trace lines; unresolved halves render as ??.
func FormatFrame(frame symbolizer.Frame, ok bool) string {
	if !ok {
		return "?? at ??:0"
	}
	fn := frame.Function
	if fn == "" {
		fn = "??"
	}
	loc := "??:0"
	if frame.File != "" {
		loc = fmt.Sprintf("%s:%d:%d", frame.File, frame.Line, frame.Column)
	}
	if frame.Inlined {
		fn += " (inlined)"
	}
	return fmt.Sprintf("%s at %s", fn, loc)
}

func pc(t *Term, args string) error {
	if args == "" {
		return errors.New("no location specified")
	}
	spec, err := locspec.Parse(args)
	if err != nil {
		return err
	}
	locs, err := spec.Find(t.sym, args)
	if err != nil {
		return err
	}
	for _, loc := range locs {
		desc := "??"
		if loc.File != "" {
			desc = fmt.Sprintf("%s:%d", loc.File, loc.Line)
		}
		if loc.Function != "" {
			desc += " in " + loc.Function
		}
		fmt.Fprintf(t.stdout, "%#x %s\n", loc.PC, desc)
	}
	return nil
}

func funcs(t *Term, args string) error {
	names := t.sym.FuncsWithPrefix(args)
	for _, name := range names {
		fmt.Fprintln(t.stdout, name)
	}
	if len(names) == 0 {
		fmt.Fprintln(t.stdout, "(no functions)")
	}
	return nil
}

func stats(t *Term, args string) error {
	st := t.sym.Stats()
	fmt.Fprintf(t.stdout, "compile units: %d (%d unreadable)\n", st.Units, st.BadUnits)
	fmt.Fprintf(t.stdout, "line rows:     %d\n", st.Rows)
	fmt.Fprintf(t.stdout, "functions:     %d\n", st.Funcs)
	return nil
}

func sources(t *Term, args string) error {
	enc := json.NewEncoder(t.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(t.sym.Sources())
}

func configCmd(t *Term, args string) error {
	fmt.Fprintf(t.stdout, "demangle:   %v\n", t.conf.DemangleEnabled())
	fmt.Fprintf(t.stdout, "cache-size: %d\n", t.conf.ResolveCacheSize())
	if len(t.conf.SubstitutePath) == 0 {
		fmt.Fprintln(t.stdout, "substitute-path: (none)")
		return nil
	}
	fmt.Fprintln(t.stdout, "substitute-path:")
	for _, r := range t.conf.SubstitutePath {
		fmt.Fprintf(t.stdout, "  %s -> %s\n", r.From, r.To)
	}
	return nil
}
