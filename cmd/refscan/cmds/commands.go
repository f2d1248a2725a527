package cmds

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/refscan/refscan/pkg/config"
	"github.com/refscan/refscan/pkg/logflags"
	"github.com/refscan/refscan/pkg/proc"
	"github.com/refscan/refscan/pkg/proc/elffile"
	"github.com/refscan/refscan/pkg/proc/native"
	"github.com/refscan/refscan/pkg/refsearch"
	"github.com/refscan/refscan/pkg/starbind"
	"github.com/refscan/refscan/pkg/terminal"
	"github.com/refscan/refscan/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string

	// attachPid is the process to scan.
	attachPid int
	// execFile is the ELF file to scan instead of a live process.
	execFile string

	// scanAddr is the address identifying the region or module to scan.
	scanAddr string
	// scanSize restricts a region scan to an explicit size.
	scanSize uint64
	// scanScope selects region, module or all-modules scanning.
	scanScope string
	// modulePrefix restricts all-modules scans to matching module names.
	modulePrefix string
	// parallel scans modules concurrently in the all-modules scope.
	parallel bool
	// weight selects the overall progress weighting policy.
	weight string
	// silent suppresses failure diagnostics.
	silent bool
	// quiet suppresses the per-result listing, printing only the total.
	quiet bool

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const refscanLongDesc = `Refscan finds instruction-level references in the address space of a
debuggee: call and jump sites targeting an address, uses of a constant, or
anything a user-supplied predicate script decides to match.

The debuggee is either a live process (--pid) or an ELF file laid out at its
preferred addresses (--exec). A scan covers one memory region, one loaded
module, or every loaded module (--scope).`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	rootCommand = &cobra.Command{
		Use:   "refscan",
		Short: "Refscan finds instruction-level references in a debuggee address space.",
		Long:  refscanLongDesc,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debug logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", "Comma separated list of components that should produce debug output (refsearch,target,starbind).")
	rootCommand.PersistentFlags().IntVar(&attachPid, "pid", 0, "Scan the process with this PID.")
	rootCommand.PersistentFlags().StringVar(&execFile, "exec", "", "Scan this ELF file instead of a live process.")
	rootCommand.PersistentFlags().StringVar(&scanAddr, "addr", "", "Address identifying the region or module to scan.")
	rootCommand.PersistentFlags().Uint64Var(&scanSize, "size", 0, "Restrict a region scan to this many bytes from --addr.")
	rootCommand.PersistentFlags().StringVar(&scanScope, "scope", "module", "Scan scope: region, module or all.")
	rootCommand.PersistentFlags().StringVar(&modulePrefix, "module", "", "Restrict an all-modules scan to modules whose name starts with this prefix.")
	rootCommand.PersistentFlags().BoolVar(&parallel, "parallel", conf.Parallel, "Scan the modules of an all-modules search concurrently.")
	rootCommand.PersistentFlags().StringVar(&weight, "weight", defaultWeight(conf), "Overall progress weighting: equal or bytes.")
	rootCommand.PersistentFlags().BoolVar(&silent, "silent", false, "Suppress failure diagnostics.")
	rootCommand.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Print only the match total, not every match.")

	// 'calls' subcommand.
	callsCommand := &cobra.Command{
		Use:   "calls <address> [<size>]",
		Short: "Find calls and jumps into an address range.",
		Long: `Find call and jump instructions whose destination falls into the given
address range. With no size the range is a single address.`,
		RunE: callsCmd,
	}
	rootCommand.AddCommand(callsCommand)

	// 'refs' subcommand.
	refsCommand := &cobra.Command{
		Use:   "refs <address> [<size>]",
		Short: "Find any reference into an address range.",
		Long: `Find instructions with any operand pointing into the given address range:
branch destinations, rip-relative or absolute memory operands, and
immediates. With no size the range is a single address.`,
		RunE: refsCmd,
	}
	rootCommand.AddCommand(refsCommand)

	// 'const' subcommand.
	constCommand := &cobra.Command{
		Use:   "const <value>",
		Short: "Find uses of a constant.",
		Long:  "Find instructions with an immediate operand equal to the given value.",
		RunE:  constCmd,
	}
	rootCommand.AddCommand(constCommand)

	// 'script' subcommand.
	scriptCommand := &cobra.Command{
		Use:   "script <file>",
		Short: "Find instructions matched by a starlark script.",
		Long: `Find instructions matched by a starlark script. The script must define a
function match(instr) returning a truth value; instr has the fields addr,
size, kind, text, dest, mem and imms.`,
		RunE: scriptCmd,
	}
	rootCommand.AddCommand(scriptCommand)

	// 'modules' subcommand.
	modulesCommand := &cobra.Command{
		Use:   "modules",
		Short: "List the loaded modules of the target.",
		RunE:  modulesCmd,
	}
	rootCommand.AddCommand(modulesCommand)

	// 'preset' subcommand.
	presetCommand := &cobra.Command{
		Use:   "preset <name> [extra flags]",
		Short: "Run a search preset from the configuration file.",
		RunE:  presetCmd,
	}
	rootCommand.AddCommand(presetCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("refscan\n%s\n%s\n", version.RefscanVersion, version.BuildInfo())
		},
	}
	rootCommand.AddCommand(versionCommand)

	return rootCommand
}

func defaultWeight(conf *config.Config) string {
	if conf.Weight != "" {
		return conf.Weight
	}
	return "equal"
}

func parseAddress(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("you must provide an address")
	}
	return strconv.ParseUint(s, 0, 64)
}

func parseScope() (refsearch.ScopeKind, error) {
	switch scanScope {
	case "region":
		return refsearch.ScopeRegion, nil
	case "module":
		return refsearch.ScopeModule, nil
	case "all", "allmodules":
		return refsearch.ScopeAllModules, nil
	}
	return 0, fmt.Errorf("invalid scope %q (expected region, module or all)", scanScope)
}

func parseWeight() (refsearch.WeightPolicy, error) {
	switch weight {
	case "", "equal":
		return refsearch.WeightEqual, nil
	case "bytes":
		return refsearch.WeightBytes, nil
	}
	return 0, fmt.Errorf("invalid weight %q (expected equal or bytes)", weight)
}

// openTarget opens the debuggee selected by --pid or --exec.
func openTarget() (proc.Target, io.Closer, error) {
	switch {
	case attachPid > 0 && execFile != "":
		return nil, nil, errors.New("--pid and --exec are mutually exclusive")
	case attachPid > 0:
		p, err := native.OpenProcess(attachPid)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	case execFile != "":
		f, err := elffile.Open(execFile)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
	return nil, nil, errors.New("you must select a target with --pid or --exec")
}

func callsCmd(cmd *cobra.Command, args []string) error {
	base, size, err := parseAddrRange(args)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("calls %#x", base)
	return runScan(name, refsearch.CallsTo(base, size))
}

func refsCmd(cmd *cobra.Command, args []string) error {
	base, size, err := parseAddrRange(args)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("refs %#x", base)
	return runScan(name, refsearch.ReferencesRange(base, size))
}

func constCmd(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("you must provide a value")
	}
	value, err := strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return err
	}
	name := fmt.Sprintf("const %#x", value)
	return runScan(name, refsearch.UsesConstant(value))
}

func scriptCmd(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.New("you must provide a script file")
	}
	env, err := starbind.New(args[0])
	if err != nil {
		return err
	}
	// The starlark thread is single threaded.
	parallel = false
	return runScan(fmt.Sprintf("script %s", args[0]), env.Predicate())
}

func modulesCmd(cmd *cobra.Command, args []string) error {
	if err := logflags.Setup(log, logOutput); err != nil {
		return err
	}
	t, closer, err := openTarget()
	if err != nil {
		return err
	}
	defer closer.Close()

	mods := t.Modules()
	if modulePrefix != "" {
		if mt, ok := t.(interface {
			ModuleTable() *proc.ModuleTable
		}); ok {
			if table := mt.ModuleTable(); table != nil {
				mods = table.FilterPrefix(modulePrefix)
			}
		}
	}
	for _, mod := range mods {
		fmt.Printf("%#16x %10d %s\n", mod.Base, mod.Size, mod.Name)
	}
	return nil
}

func presetCmd(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return errors.New("you must provide a preset name")
	}
	cmdline, err := conf.ExpandPreset(args[0])
	if err != nil {
		return err
	}
	c := New()
	c.SetArgs(append(cmdline, args[1:]...))
	return c.Execute()
}

func parseAddrRange(args []string) (base, size uint64, err error) {
	if len(args) < 1 || len(args) > 2 {
		return 0, 0, errors.New("you must provide an address and an optional size")
	}
	base, err = strconv.ParseUint(args[0], 0, 64)
	if err != nil {
		return 0, 0, err
	}
	size = 1
	if len(args) == 2 {
		size, err = strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return 0, 0, err
		}
	}
	return base, size, nil
}

func runScan(name string, predicate refsearch.Predicate) error {
	if err := logflags.Setup(log, logOutput); err != nil {
		return err
	}

	scope, err := parseScope()
	if err != nil {
		return err
	}
	policy, err := parseWeight()
	if err != nil {
		return err
	}

	addr := uint64(0)
	if scope != refsearch.ScopeAllModules {
		addr, err = parseAddress(scanAddr)
		if err != nil {
			return err
		}
	}

	t, closer, err := openTarget()
	if err != nil {
		return err
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	list := &refsearch.ResultList{}
	req := &refsearch.Request{
		Addr:         addr,
		Size:         scanSize,
		Scope:        scope,
		Name:         name,
		Silent:       silent,
		UserData:     list,
		ModulePrefix: modulePrefix,
		Parallel:     parallel,
		Weight:       policy,
	}

	sink := terminal.NewProgress(os.Stdout)
	count, err := refsearch.FindReferences(ctx, t, &proc.AMD64Decoder{}, req, predicate, sink)
	sink.Done()
	if err != nil {
		return err
	}

	if !quiet {
		for _, res := range list.Results() {
			fmt.Printf("%#16x %s\n", res.Addr, res.Text)
		}
	}
	fmt.Printf("%d matches\n", count)
	return nil
}
