// Package cmd provides the CLI command implementations.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Search command flags; any flag left at its default defers to the
	// config file.
	dbPath      string
	dataset     string
	workspace   string
	threads     int
	prepThreads int
	gpuThreads  int
	minLen      int
	maxLen      int
	maxz        int
	res         float64
	dM          float64
	dF          float64
	minMass     float64
	maxMass     float64
	minShp      int
	minCpsm     int
	topMatches  int
	expectMax   float64
	spadMem     int
	policy      string
	mods        []string
	nodes       int
	myID        int
	noGPUIndex  bool
	reindex     bool
	noCache     bool
	gumbelFit   bool
	matchCharge bool
	noProgress  bool
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "gicops",
	Short: "GiCOPS - high-throughput peptide-spectrum matching",
	Long: `GiCOPS scores experimental MS/MS spectra against a pre-built fragment-ion
index, ranks candidate matches by hyperscore, and models the tail of the
per-spectrum score distribution to derive an expect value for the top hit.

The search pipeline streams spectrum batches off disk, executes the
fragment-ion index lookup and scoring kernel in parallel over CPU worker
threads, and dynamically trades threads between I/O and compute based on
measured stall penalty.`,
	Version: "1.0.0",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.AddCommand(searchCmd)

	f := searchCmd.Flags()
	f.StringVarP(&dbPath, "dbpath", "d", "", "Directory holding the fragment-ion index")
	f.StringVarP(&dataset, "dataset", "i", "", "MS2 dataset directory or file")
	f.StringVarP(&workspace, "workspace", "w", "", "Output workspace directory")
	f.IntVarP(&threads, "threads", "t", 0, "Max concurrent compute threads")
	f.IntVar(&prepThreads, "prepthreads", 0, "Max concurrent I/O threads")
	f.IntVar(&gpuThreads, "gputhreads", 0, "Max simultaneous GPU offload streams")
	f.IntVar(&minLen, "min_len", 0, "Minimum peptide length")
	f.IntVar(&maxLen, "max_len", 0, "Maximum peptide length")
	f.IntVar(&maxz, "maxz", 0, "Maximum fragment charge")
	f.Float64Var(&res, "res", 0, "m/z bin width in Da (0.01..5.0)")
	f.Float64Var(&dM, "dM", -1, "Precursor mass window half-width in Da")
	f.Float64Var(&dF, "dF", 0, "Fragment mass tolerance in Da")
	f.Float64Var(&minMass, "min_mass", 0, "Minimum accepted precursor mass")
	f.Float64Var(&maxMass, "max_mass", 0, "Maximum accepted precursor mass")
	f.IntVar(&minShp, "min_shp", 0, "Minimum shared b+y ions for candidacy")
	f.IntVar(&minCpsm, "min_cpsm", 0, "Minimum candidates to attempt tail fit")
	f.IntVar(&topMatches, "topmatches", 0, "Top-K heap size per spectrum")
	f.Float64Var(&expectMax, "expect_max", 0, "E-value ceiling for reporting")
	f.IntVar(&spadMem, "spadmem", 0, "Scratch memory budget in MB")
	f.StringVar(&policy, "policy", "", "Index distribution policy: cyclic, chunk, zigzag")
	f.StringSliceVar(&mods, "mods", nil, "Variable PTMs as AA:MASS:NUM")
	f.IntVar(&nodes, "nodes", 0, "Number of ranks in the run")
	f.IntVar(&myID, "myid", -1, "This rank's id")
	f.BoolVar(&noGPUIndex, "nogpuindex", false, "Disable the GPU-resident index")
	f.BoolVar(&reindex, "reindex", false, "Force index rebuild detection")
	f.BoolVar(&noCache, "nocache", false, "Disable the query-file metadata cache")
	f.BoolVar(&gumbelFit, "gumbelfit", false, "Use the Gumbel-fit estimator")
	f.BoolVar(&matchCharge, "matchcharge", false, "Require precursor charge agreement")
	f.BoolVar(&noProgress, "noprogress", false, "Suppress progress logging")
	f.BoolVarP(&verbose, "verbose", "v", false, "Verbose (debug) logging")
}
