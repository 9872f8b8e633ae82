// Command chartctl inspects and maintains stored chart lists: listing,
// validation, migration, import, rendering and render history.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"chartcore/internal/config"
	"chartcore/internal/core"
	"chartcore/internal/validation"
	"chartcore/pkg/chart"
)

var exitFunc = os.Exit

// errUnconfigured is returned by validate --strict when a chart cannot render.
var errUnconfigured = errors.New("unconfigured charts found")

type cli struct {
	configPath string
	parentID   string
	out        io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		exitFunc(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}
	root := &cobra.Command{
		Use:           "chartctl",
		Short:         "Maintain stored chart lists",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&c.configPath, "config", "", "YAML config file (CHARTCORE_* env vars override it)")
	root.PersistentFlags().StringVar(&c.parentID, "parent", "", "Parent id owning the chart list")

	root.AddCommand(
		&cobra.Command{Use: "list", Short: "List charts with their status", Args: cobra.NoArgs, RunE: c.withApp(c.list)},
		c.validateCmd(),
		&cobra.Command{Use: "migrate", Short: "Persist the traces read-model of every chart", Args: cobra.NoArgs, RunE: c.withApp(c.migrate)},
		&cobra.Command{Use: "render", Short: "Run one render batch", Args: cobra.NoArgs, RunE: c.withApp(c.render)},
		&cobra.Command{Use: "import FILE", Short: "Replace the chart list with a JSON array of charts", Args: cobra.ExactArgs(1), RunE: c.withApp(c.importList)},
		&cobra.Command{Use: "history CHART_ID", Short: "List archived renders of a chart", Args: cobra.ExactArgs(1), RunE: c.withApp(c.history)},
	)
	return root
}

func (c *cli) validateCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Report why charts cannot render",
		Args:  cobra.NoArgs,
		RunE: c.withApp(func(ctx context.Context, app *core.App, args []string) error {
			return c.validate(ctx, app, strict)
		}),
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero if any chart is unconfigured")
	return cmd
}

type runFunc func(ctx context.Context, app *core.App, args []string) error

func (c *cli) withApp(fn runFunc) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if c.parentID == "" {
			return errors.New("--parent is required")
		}
		cfg, err := config.Load(c.configPath)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		app, err := core.OpenApp(ctx, cfg, core.AppOptions{Logger: config.NewLogger(cfg.Log, cmd.ErrOrStderr())})
		if err != nil {
			return err
		}
		defer func() { _ = app.Close() }()
		return fn(ctx, app, args)
	}
}

func (c *cli) list(ctx context.Context, app *core.App, _ []string) error {
	charts, err := app.Service.Charts(ctx, c.parentID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tTYPE\tMODE\tSTATUS")
	for _, ch := range charts {
		mode := "simple"
		if ch.IsAdvancedMode {
			mode = "advanced"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", ch.ID(), ch.Title, ch.Type, mode, validation.StatusOf(ch))
	}
	return tw.Flush()
}

func (c *cli) validate(ctx context.Context, app *core.App, strict bool) error {
	charts, err := app.Service.Charts(ctx, c.parentID)
	if err != nil {
		return err
	}
	bad := 0
	for _, ch := range charts {
		problems := validation.Problems(ch)
		if len(problems) == 0 {
			fmt.Fprintf(c.out, "%s\tok\n", ch.ID())
			continue
		}
		bad++
		for _, p := range problems {
			fmt.Fprintf(c.out, "%s\t%s\n", ch.ID(), p.Error())
		}
	}
	if strict && bad > 0 {
		return fmt.Errorf("%w: %d", errUnconfigured, bad)
	}
	return nil
}

func (c *cli) migrate(ctx context.Context, app *core.App, _ []string) error {
	n, err := app.Service.Migrate(ctx, c.parentID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "migrated %d chart(s)\n", n)
	return nil
}

func (c *cli) render(ctx context.Context, app *core.App, _ []string) error {
	sum, err := app.Service.Render(ctx, c.parentID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "requested=%d rendered=%d failed=%d invalid=%d dropped=%d archived=%d\n",
		sum.Requested, sum.Rendered, sum.Failed, sum.Invalid, sum.Dropped, sum.Archived)
	return nil
}

func (c *cli) importList(ctx context.Context, app *core.App, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var charts []chart.Chart
	if err := json.Unmarshal(raw, &charts); err != nil {
		return fmt.Errorf("decode %s: %w", args[0], err)
	}
	_, err = app.Store.RunInTransaction(ctx, c.parentID, func(tx chart.Transaction) error {
		tx.Replace(charts)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "imported %d chart(s)\n", len(charts))
	return nil
}

func (c *cli) history(ctx context.Context, app *core.App, args []string) error {
	if app.Archive == nil {
		return errors.New("render archive disabled; set blob.driver")
	}
	infos, err := app.Archive.History(ctx, c.parentID, args[0])
	if err != nil {
		return err
	}
	for _, info := range infos {
		fmt.Fprintf(c.out, "%s\t%d\n", info.Key, info.Size)
	}
	return nil
}
