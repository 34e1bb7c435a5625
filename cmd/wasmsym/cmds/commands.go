package cmds

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/go-wasmsym/wasmsym/pkg/config"
	"github.com/go-wasmsym/wasmsym/pkg/logflags"
	"github.com/go-wasmsym/wasmsym/pkg/symbolizer"
	"github.com/go-wasmsym/wasmsym/pkg/terminal"
	"github.com/go-wasmsym/wasmsym/pkg/version"
	"github.com/spf13/cobra"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// configFile is an explicit config file path overriding the default location.
	configFile string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const wasmsymCommandLongDesc = `Wasmsym reads the DWARF debug information embedded in a WebAssembly
module and resolves code addresses back to source locations.

It understands the .debug_* custom sections emitted by compilers that
target wasm, decodes their compilation units and line number programs,
and answers address queries against the result.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main wasmsym root command.
	rootCommand = &cobra.Command{
		Use:   "wasmsym",
		Short: "Wasmsym resolves WebAssembly code addresses to source locations.",
		Long:  wasmsymCommandLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (wasm,info,line,symbolizer).")
	rootCommand.PersistentFlags().StringVar(&configFile, "config", "", "Config file to use instead of the default location.")

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Wasmsym Tool\n%s\n", version.WasmsymVersion)
		},
	}
	rootCommand.AddCommand(versionCommand)

	// 'resolve' subcommand.
	resolveCommand := &cobra.Command{
		Use:   "resolve <module.wasm> <address>...",
		Short: "Resolve one or more addresses to source locations.",
		Long: `Resolve one or more code addresses to source locations.

Addresses are module-relative code offsets and may be given in decimal
or with a 0x prefix. Each address prints one line of the form

	ADDRESS: FUNCTION at FILE:LINE:COLUMN

Addresses outside any line table sequence print '?? at ??:0'.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 2 {
				return errors.New("you must provide a wasm module and at least one address")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(resolveCmd(args))
		},
	}
	rootCommand.AddCommand(resolveCommand)

	// 'funcs' subcommand.
	funcsCommand := &cobra.Command{
		Use:   "funcs <module.wasm> [prefix]",
		Short: "Print the functions found in the module's debug information.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return errors.New("you must provide a wasm module")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(funcsCmd(args))
		},
	}
	rootCommand.AddCommand(funcsCommand)

	// 'dump' subcommand.
	dumpCommand := &cobra.Command{
		Use:   "dump <module.wasm>",
		Short: "Dump the module's source map as JSON.",
		Long: `Dump the module's line tables as a JSON source map.

The output groups rows by compilation unit and file. Addresses include
the offset of the code section, so they match the addresses reported
by engines in stack traces. On failure a JSON document with a single
"error" member is printed instead and the exit status is nonzero.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a wasm module")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(dumpCmd(args))
		},
	}
	rootCommand.AddCommand(dumpCommand)

	// 'interactive' subcommand.
	interactiveCommand := &cobra.Command{
		Use:   "interactive <module.wasm>",
		Short: "Open an interactive session against a wasm module.",
		Long: `Open an interactive session against a wasm module.

The session accepts resolve, funcs, stats, sources and config commands
and supports tab completion of function names.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("you must provide a wasm module")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(interactiveCmd(args))
		},
	}
	rootCommand.AddCommand(interactiveCommand)

	return rootCommand
}

func loadSymbolizer(path string) (*symbolizer.Symbolizer, error) {
	if err := logflags.Setup(log, logOutput); err != nil {
		return nil, err
	}
	if configFile != "" {
		c, err := config.LoadConfigFromFile(configFile)
		if err != nil {
			return nil, err
		}
		conf = c
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts := []symbolizer.Option{
		symbolizer.WithDemangle(conf.DemangleEnabled()),
		symbolizer.WithCacheSize(conf.ResolveCacheSize()),
		symbolizer.WithSubstitutePath(conf.Rules()),
	}
	if logflags.Symbolizer() {
		opts = append(opts, symbolizer.WithLogf(logflags.LogfFor(logflags.SymbolizerLogger())))
	}
	return symbolizer.FromModule(data, opts...)
}

func resolveCmd(args []string) int {
	sym, err := loadSymbolizer(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	status := 0
	for _, arg := range args[1:] {
		addr, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid address %q: %v\n", arg, err)
			status = 1
			continue
		}
		frame, ok := sym.Resolve(addr)
		fmt.Printf("%#x: %s\n", addr, terminal.FormatFrame(frame, ok))
	}
	return status
}

func funcsCmd(args []string) int {
	sym, err := loadSymbolizer(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	prefix := ""
	if len(args) > 1 {
		prefix = args[1]
	}
	for _, name := range sym.FuncsWithPrefix(prefix) {
		fmt.Println(name)
	}
	return 0
}

func dumpCmd(args []string) int {
	sym, err := loadSymbolizer(args[0])
	enc := json.NewEncoder(os.Stdout)
	if err != nil {
		enc.Encode(symbolizer.SourceResult{Error: err.Error()})
		return 1
	}
	if err := enc.Encode(sym.Sources()); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func interactiveCmd(args []string) int {
	sym, err := loadSymbolizer(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	term := terminal.New(sym, conf)
	defer term.Close()
	status, err := term.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
	}
	return status
}
