package main

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/born-ml/blocks/internal/backend/cpu"
	"github.com/born-ml/blocks/internal/config"
	"github.com/born-ml/blocks/internal/envconfig"
	"github.com/born-ml/blocks/internal/graph"
	"github.com/born-ml/blocks/internal/model"
	"github.com/born-ml/blocks/internal/serialization"
	"github.com/born-ml/blocks/internal/vars"
)

const version = "v0.1.0-dev"

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI returns the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "blocks",
		Short:         "Build and run tensor-graph architectures",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: envconfig.LogLevel()})
			slog.SetDefault(slog.New(handler))
		},
		Run: func(cmd *cobra.Command, args []string) {
			if v, _ := cmd.Flags().GetBool("version"); v {
				versionHandler(cmd, args)
				return
			}
			cmd.Print(cmd.UsageString())
		},
	}
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	inspectCmd := &cobra.Command{
		Use:   "inspect ARCH",
		Short: "Show the stacks and parameters of an architecture",
		Args:  cobra.ExactArgs(1),
		RunE:  InspectHandler,
	}

	runCmd := &cobra.Command{
		Use:   "run ARCH",
		Short: "Run an architecture on random input",
		Args:  cobra.ExactArgs(1),
		RunE:  RunHandler,
	}
	runCmd.Flags().Int("batch", 1, "Batch size substituted for an unknown batch dimension")
	runCmd.Flags().Int64("input-seed", 1, "Seed for the random input")
	runCmd.Flags().String("load", "", "Load parameters from a SafeTensors file")
	runCmd.Flags().String("save", "", "Save parameters to a SafeTensors file")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show environment configuration",
		Args:  cobra.NoArgs,
		RunE:  EnvHandler,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["BLOCKS_DEBUG"], envVars["BLOCKS_SEED"]}
	appendEnvDocs(inspectCmd, envs)
	appendEnvDocs(runCmd, append(envs, envVars["BLOCKS_NUM_THREADS"]))

	rootCmd.AddCommand(inspectCmd, runCmd, envCmd, versionCmd)
	return rootCmd
}

func versionHandler(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "blocks version %s\n", version)
}

func load(path string) (*model.Model, error) {
	arch, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	reg := vars.NewRegistry(vars.WithSeed(envconfig.Seed()), vars.WithLogger(slog.Default()))
	return model.Build(graph.New(graph.WithRegistry(reg), graph.WithLogger(slog.Default())), arch)
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	return table
}

// InspectHandler prints one row per stack followed by one row per parameter.
func InspectHandler(cmd *cobra.Command, args []string) error {
	m, err := load(args[0])
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "%s: input %s\n\n", m.Arch.Name, m.Input.Shape())

	var stacks [][]string
	for _, s := range m.Summary {
		stacks = append(stacks, []string{
			s.Name, string(s.Op), strconv.Itoa(s.Layers), s.Output.String(), strconv.Itoa(s.Elements),
		})
	}
	table := newTable(w, []string{"STACK", "OP", "LAYERS", "OUTPUT", "PARAMS"})
	table.AppendBulk(stacks)
	table.Render()
	fmt.Fprintln(w)

	var params [][]string
	for _, p := range m.Graph.Registry().Parameters() {
		params = append(params, []string{
			p.FullName(), p.Shape().String(), p.DType().String(), strconv.Itoa(p.Shape().NumElements()),
		})
	}
	table = newTable(w, []string{"PARAMETER", "SHAPE", "DTYPE", "SIZE"})
	table.AppendBulk(params)
	table.Render()

	fmt.Fprintf(w, "\n%d parameters, %d values\n", m.Graph.Registry().Len(), m.Graph.Registry().NumElements())
	return nil
}

// RunHandler evaluates the architecture once on a random batch and prints
// the output shape and value range.
func RunHandler(cmd *cobra.Command, args []string) error {
	batch, err := cmd.Flags().GetInt("batch")
	if err != nil {
		return err
	}
	seed, err := cmd.Flags().GetInt64("input-seed")
	if err != nil {
		return err
	}

	loadPath, _ := cmd.Flags().GetString("load")
	savePath, _ := cmd.Flags().GetString("save")

	m, err := load(args[0])
	if err != nil {
		return err
	}
	reg := m.Graph.Registry()
	if loadPath != "" {
		if _, err := serialization.LoadRegistry(loadPath, reg); err != nil {
			return err
		}
		slog.Info("loaded parameters", "path", loadPath, "params", reg.Len())
	}
	if savePath != "" {
		if err := serialization.SaveRegistry(savePath, reg, map[string]string{"architecture": m.Arch.Name}); err != nil {
			return err
		}
		slog.Info("saved parameters", "path", savePath, "params", reg.Len())
	}

	in, err := m.RandomInput(batch, seed)
	if err != nil {
		return err
	}

	backend := cpu.New(cpu.WithWorkers(int(envconfig.NumThreads())))
	out, err := m.Forward(cmd.Context(), in, graph.WithBackend(backend))
	if err != nil {
		return err
	}
	slog.Debug("forward pass", "model", m)

	values := make([]float64, out.NumElements())
	for i, v := range out.AsFloat32() {
		values[i] = float64(v)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "input  %s\n", in.Shape())
	fmt.Fprintf(w, "output %s\n", out.Shape())
	if len(values) > 0 {
		fmt.Fprintf(w, "min %.6g  max %.6g  mean %.6g\n", floats.Min(values), floats.Max(values), stat.Mean(values, nil))
	}
	return nil
}

// EnvHandler prints the effective environment configuration.
func EnvHandler(cmd *cobra.Command, _ []string) error {
	vals := envconfig.Values()
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var rows [][]string
	for _, k := range keys {
		rows = append(rows, []string{k, vals[k]})
	}
	table := newTable(cmd.OutOrStdout(), []string{"VARIABLE", "VALUE"})
	table.AppendBulk(rows)
	table.Render()
	return nil
}
