package main

import (
	gocontext "context"
	"fmt"
	"os"
	"time"

	"golang.org/x/xerrors"
	"gopkg.in/urfave/cli.v1"
	"wbbaudit/pkg/actors"
	"wbbaudit/pkg/config"
	"wbbaudit/pkg/context"
	"wbbaudit/pkg/crypto"
	"wbbaudit/pkg/ledger"
	"wbbaudit/pkg/log"
	"wbbaudit/pkg/metrics"
	"wbbaudit/pkg/protocol"
	"wbbaudit/pkg/result"
)

// errNotVerified makes the process exit non-zero after the summary was printed.
var errNotVerified = xerrors.New("verification failed")

// errNotConfigured marks a verification whose inputs are absent from the configuration.
var errNotConfigured = xerrors.New("not configured")

var cmds = cli.Commands{
	{
		Name:    "commits",
		Usage:   "verify the joint signature of every commitment round",
		Aliases: []string{"c"},
		Flags: []cli.Flag{
			cli.StringFlag{
				Name:  "dir",
				Usage: "directory of round bundles, overrides commits_dir",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, commitsPhase)
		},
	},
	{
		Name:    "ballots",
		Usage:   "verify the generation of committed ballots",
		Aliases: []string{"b"},
		Flags: []cli.Flag{
			cli.IntFlag{
				Name:  "sample",
				Usage: "verify only the first n serial numbers",
			},
		},
		Action: func(c *cli.Context) error {
			return run(c, ballotsPhase)
		},
	},
	{
		Name:    "packing",
		Usage:   "verify that cast votes were packed into the mix",
		Aliases: []string{"p"},
		Action: func(c *cli.Context) error {
			return run(c, packingPhase)
		},
	},
	{
		Name:    "all",
		Usage:   "run every configured verification",
		Aliases: []string{"a"},
		Action: func(c *cli.Context) error {
			return run(c, commitsPhase, ballotsPhase, packingPhase)
		},
	},
	{
		Name:   "runs",
		Usage:  "list the runs stored in the result database",
		Action: listRuns,
	},
}

func main() {
	cliApp := cli.NewApp()
	cliApp.Name = "wbbaudit"
	cliApp.Usage = "Verify the public record of a web bulletin board."
	cliApp.Version = "0.1"
	cliApp.Commands = cmds
	cliApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "path to the TOML configuration",
		},
		cli.StringFlag{
			Name:  "log, l",
			Usage: "log level, overrides log_level",
		},
		cli.IntFlag{
			Name:  "cores",
			Usage: "verification workers, overrides cores",
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		if !xerrors.Is(err, errNotVerified) {
			log.Error("%v", err)
		}
		os.Exit(1)
	}
}

// verification is one verifier and the phase it is measured under.
type verification struct {
	phase string
	run   func(c *cli.Context, ctx *context.OperationContext) (*protocol.Report, error)
}

var (
	commitsPhase = verification{phase: "VerifyCommits", run: verifyCommits}
	ballotsPhase = verification{phase: "VerifyBallots", run: verifyBallots}
	packingPhase = verification{phase: "VerifyPacking", run: verifyPacking}
)

// loadContext reads the configuration and curve parameters named on the command line.
func loadContext(c *cli.Context) (*context.OperationContext, error) {
	cfg, err := config.Load(c.GlobalString("config"))
	if err != nil {
		return nil, err
	}
	if lvl := c.GlobalString("log"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if n := c.GlobalInt("cores"); n > 0 {
		cfg.Cores = n
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}

	params := crypto.DefaultParams()
	if cfg.ParamsFile != "" {
		if params, err = crypto.LoadParams(cfg.ParamsFile); err != nil {
			return nil, err
		}
	}
	log.Debug("Curve parameters: %s", params)
	return context.NewContext(cfg, params, metrics.NewRecorder()), nil
}

func run(c *cli.Context, steps ...verification) error {
	ctx, err := loadContext(c)
	if err != nil {
		return err
	}
	cfg := ctx.Config

	r := result.NewRun()
	log.Info("----- Starting run %s -----", r.ID)
	writer := result.NewWriter(cfg.ResultsPath, r.ID)
	var done []verification
	for _, step := range steps {
		var report *protocol.Report
		err := ctx.Recorder.Record(step.phase, metrics.MLogic, func() (err error) {
			report, err = step.run(c, ctx)
			return err
		})
		if len(steps) > 1 && xerrors.Is(err, errNotConfigured) {
			log.Warn("Skipping %s: %v", step.phase, err)
			continue
		}
		if err != nil {
			return err
		}
		done = append(done, step)
		log.Info("%s: %d checked, %d failed", report.Name, len(report.Outcomes), len(report.Failures()))
		if _, err := writer.WriteReport(report); err != nil {
			return err
		}
		if err := r.Add(report); err != nil {
			return err
		}
	}

	if cfg.DBPath != "" {
		db, err := result.OpenDB(cfg.DBPath)
		if err != nil {
			return err
		}
		err = db.SaveRun(r)
		db.Close()
		if err != nil {
			return err
		}
		log.Info("Run %s stored in %s", r.ID, cfg.DBPath)
	}
	if cfg.ReportPDF {
		path, err := result.WritePDF(cfg.ResultsPath, r)
		if err != nil {
			return err
		}
		log.Info("Report written to %s", path)
	}

	if cfg.PrintMetrics {
		ctx.Recorder.PrintTree(os.Stdout, 3, 10)
	}
	analyzer := metrics.NewAnalyzer()
	analyzer.Add(ctx.Recorder)
	printConsoleSummary(r, done, analyzer.Analyze())

	if !r.Verified() {
		return errNotVerified
	}
	return nil
}

func verifyCommits(c *cli.Context, ctx *context.OperationContext) (*protocol.Report, error) {
	cfg := ctx.Config
	dir := cfg.CommitsDir
	if d := c.String("dir"); d != "" {
		dir = d
	}
	if dir == "" {
		return nil, xerrors.Errorf("commits directory: %w", errNotConfigured)
	}
	if cfg.CertsFile == "" {
		return nil, xerrors.Errorf("certificate file: %w", errNotConfigured)
	}

	certs, err := actors.LoadCertificates(cfg.CertsFile, ctx.Params.Pairing)
	if err != nil {
		return nil, err
	}
	log.Info("Loaded %d peer certificates", len(certs.Peers()))

	l, err := ledger.Open(dir)
	if err != nil {
		return nil, err
	}
	log.Debug("Found %d round bundles in %s", len(l.Bundles()), dir)
	return protocol.NewCommitmentVerifier(ctx, certs).VerifyAll(gocontext.Background(), l)
}

func verifyBallots(c *cli.Context, ctx *context.OperationContext) (*protocol.Report, error) {
	if n := c.Int("sample"); n > 0 {
		ctx.Config.Ballots.Sample = n
	}
	if ctx.Config.Ballots.CiphersFile == "" {
		return nil, xerrors.Errorf("committed ciphers file: %w", errNotConfigured)
	}
	v, err := protocol.NewBallotGenVerifier(ctx)
	if err != nil {
		return nil, err
	}
	return v.VerifyAll(gocontext.Background())
}

func verifyPacking(c *cli.Context, ctx *context.OperationContext) (*protocol.Report, error) {
	if ctx.Config.Packing.MixInputFile == "" {
		return nil, xerrors.Errorf("mix input file: %w", errNotConfigured)
	}
	v, err := protocol.NewPackingVerifier(ctx)
	if err != nil {
		return nil, err
	}
	return v.VerifyAll(gocontext.Background())
}

func listRuns(c *cli.Context) error {
	ctx, err := loadContext(c)
	if err != nil {
		return err
	}
	if ctx.Config.DBPath == "" {
		return xerrors.New("no result database configured")
	}
	db, err := result.OpenDB(ctx.Config.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs()
	if err != nil {
		return err
	}
	for _, r := range runs {
		status := "verified"
		if !r.Verified() {
			status = "FAILED"
		}
		fmt.Printf("%s  %s  %-8s  outcomes=%d  root=%s\n",
			r.ID, r.Started().Format(time.RFC3339), status, len(r.Outcomes()), r.RootHex())
	}
	return nil
}

func printConsoleSummary(r *result.Run, steps []verification, analysis metrics.AnalysisResult) {
	fmt.Println("\n-------------------------------------------------")
	fmt.Printf("--- Run %s ---\n", r.ID)
	fmt.Println("-------------------------------------------------")
	for i := range r.Reports {
		report := &r.Reports[i]
		failures := report.Failures()
		fmt.Printf("%-10s checked %d, failed %d\n", report.Name, len(report.Outcomes), len(failures))
		for _, o := range failures {
			fmt.Printf("  %s\n", o)
		}
		if summary, ok := analysis.Components[steps[i].phase]; ok {
			if s, ok := summary.Summaries["WallClock"]; ok {
				fmt.Printf("%-10s wall clock %s\n", "", s.WallClock.P50)
			}
		}
	}
	fmt.Println("-------------------------------------------------")
	if root := r.RootHex(); root != "" {
		fmt.Printf("Outcome root: %s\n", root)
	}
	if r.Verified() {
		fmt.Println("Result: VERIFIED")
	} else {
		fmt.Println("Result: FAILED")
	}
}
